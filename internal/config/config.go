package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the complaint engine service
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Geo           GeoConfig           `mapstructure:"geo"`
	Scoring       ScoringConfig       `mapstructure:"scoring"`
	SLA           SLAConfig           `mapstructure:"sla"`
	Assignment    AssignmentConfig    `mapstructure:"assignment"`
	Escalation    EscalationConfig    `mapstructure:"escalation"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Classifier    ClassifierConfig    `mapstructure:"classifier"`
	Registry      RegistryConfig      `mapstructure:"registry"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig contains Redis configuration for the realtime fanout
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Enabled bool         `mapstructure:"enabled"`
	Brokers []string     `mapstructure:"brokers"`
	GroupID string       `mapstructure:"group_id"`
	Topics  TopicsConfig `mapstructure:"topics"`
}

// TopicsConfig contains Kafka topic configuration
type TopicsConfig struct {
	// Output: lifecycle and escalation events
	ComplaintEvents string `mapstructure:"complaint_events"`

	// Input: risk snapshots published by the external analytics process
	RiskUpdates string `mapstructure:"risk_updates"`
}

// GeoConfig contains geo-fence validation configuration
type GeoConfig struct {
	NearRadiusMeters   float64 `mapstructure:"near_radius_meters"`
	SearchRadiusMeters float64 `mapstructure:"search_radius_meters"`
}

// ScoringConfig contains the severity formula tunables. Factor weights must
// sum to 1.0; each factor is normalized to [0,100] before weighting.
type ScoringConfig struct {
	ViolationWeights  map[string]float64 `mapstructure:"violation_weights"`
	ImpactWeights     map[string]float64 `mapstructure:"impact_weights"`
	UrgencyWeights    map[string]float64 `mapstructure:"urgency_weights"`
	ViolationFactor   float64            `mapstructure:"violation_factor"`
	UrgencyFactor     float64            `mapstructure:"urgency_factor"`
	SensitivityFactor float64            `mapstructure:"sensitivity_factor"`
	DensityFactor     float64            `mapstructure:"density_factor"`
	ImpactFactor      float64            `mapstructure:"impact_factor"`
	DensityRadiusKm   float64            `mapstructure:"density_radius_km"`
	DensityWindowDays int                `mapstructure:"density_window_days"`
	DensitySaturation int                `mapstructure:"density_saturation"`
	CriticalThreshold int                `mapstructure:"critical_threshold"`
	MediumThreshold   int                `mapstructure:"medium_threshold"`
}

// SLAConfig contains per-band resolution windows
type SLAConfig struct {
	CriticalDays int `mapstructure:"critical_days"`
	MediumDays   int `mapstructure:"medium_days"`
	LowDays      int `mapstructure:"low_days"`
}

// AssignmentConfig contains officer assignment configuration
type AssignmentConfig struct {
	DispatchRetryGrace time.Duration `mapstructure:"dispatch_retry_grace"`
}

// EscalationConfig contains SLA escalation configuration
type EscalationConfig struct {
	WarningLead     time.Duration `mapstructure:"warning_lead"`
	SupervisorGrace time.Duration `mapstructure:"supervisor_grace"`
	MaxLevel        int           `mapstructure:"max_level"`
}

// SchedulerConfig contains scheduler configuration
type SchedulerConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	EscalationPassSpec  string `mapstructure:"escalation_pass_spec"`
	DispatchRetrySpec   string `mapstructure:"dispatch_retry_spec"`
	StatsRefreshSpec    string `mapstructure:"stats_refresh_spec"`
	EscalationBatchSize int    `mapstructure:"escalation_batch_size"`
	DispatchRetryBatch  int    `mapstructure:"dispatch_retry_batch"`
}

// ClassifierConfig contains the external classifier collaborator settings
type ClassifierConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// RegistryConfig contains the water body registry cache settings
type RegistryConfig struct {
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CacheSweep    time.Duration `mapstructure:"cache_sweep"`
	RiskThreshold float64       `mapstructure:"risk_threshold"`
}

// NotificationsConfig contains notification dispatch configuration
type NotificationsConfig struct {
	Workers int           `mapstructure:"workers"`
	Email   EmailConfig   `mapstructure:"email"`
	SMS     SMSConfig     `mapstructure:"sms"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// EmailConfig contains email notification configuration
type EmailConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SendGridAPIKey  string        `mapstructure:"sendgrid_api_key"`
	FromAddress     string        `mapstructure:"from_address"`
	FromName        string        `mapstructure:"from_name"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
}

// SMSConfig contains SMS notification configuration
type SMSConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	TwilioSID       string        `mapstructure:"twilio_sid"`
	TwilioToken     string        `mapstructure:"twilio_token"`
	FromNumber      string        `mapstructure:"from_number"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
}

// WebhookConfig contains webhook notification configuration
type WebhookConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	URL             string            `mapstructure:"url"`
	Headers         map[string]string `mapstructure:"headers"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	MaxRetries      int               `mapstructure:"max_retries"`
	RetryDelay      time.Duration     `mapstructure:"retry_delay"`
	RateLimitPerMin int               `mapstructure:"rate_limit_per_min"`
}

// AuthConfig contains token verification settings. Tokens are issued by the
// external user service; this engine only verifies them.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
}

// Load loads configuration from environment variables and config files. An
// explicit path names the config file directly and must be readable; with an
// empty path the standard locations are searched and a missing file is fine.
func Load(path string) (Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/complaint-engine")
	}

	// Set default values
	setDefaults()

	// Enable environment variable binding
	viper.AutomaticEnv()
	viper.SetEnvPrefix("COMPLAINT_ENGINE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// General
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8086)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "aquasentinel_complaints")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Redis
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Kafka
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "complaint-engine")
	viper.SetDefault("kafka.topics.complaint_events", "complaint-events")
	viper.SetDefault("kafka.topics.risk_updates", "waterbody-risk-updates")

	// Geo-fence validation
	viper.SetDefault("geo.near_radius_meters", 500.0)
	viper.SetDefault("geo.search_radius_meters", 10000.0)

	// Severity scoring
	viper.SetDefault("scoring.violation_weights", map[string]float64{
		"construction":   95,
		"land_filling":   85,
		"pollution":      80,
		"debris_dumping": 60,
		"unknown":        30,
	})
	viper.SetDefault("scoring.impact_weights", map[string]float64{
		"pollution":      95,
		"construction":   90,
		"land_filling":   85,
		"debris_dumping": 55,
		"unknown":        30,
	})
	viper.SetDefault("scoring.urgency_weights", map[string]float64{
		"low":    20,
		"medium": 60,
		"high":   100,
	})
	viper.SetDefault("scoring.violation_factor", 0.40)
	viper.SetDefault("scoring.urgency_factor", 0.20)
	viper.SetDefault("scoring.sensitivity_factor", 0.15)
	viper.SetDefault("scoring.density_factor", 0.15)
	viper.SetDefault("scoring.impact_factor", 0.10)
	viper.SetDefault("scoring.density_radius_km", 1.0)
	viper.SetDefault("scoring.density_window_days", 90)
	viper.SetDefault("scoring.density_saturation", 10)
	viper.SetDefault("scoring.critical_threshold", 70)
	viper.SetDefault("scoring.medium_threshold", 40)

	// SLA windows
	viper.SetDefault("sla.critical_days", 3)
	viper.SetDefault("sla.medium_days", 7)
	viper.SetDefault("sla.low_days", 10)

	// Assignment
	viper.SetDefault("assignment.dispatch_retry_grace", "10m")

	// Escalation
	viper.SetDefault("escalation.warning_lead", "24h")
	viper.SetDefault("escalation.supervisor_grace", "48h")
	viper.SetDefault("escalation.max_level", 3)

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.escalation_pass_spec", "0 */5 * * * *")
	viper.SetDefault("scheduler.dispatch_retry_spec", "0 */10 * * * *")
	viper.SetDefault("scheduler.stats_refresh_spec", "0 * * * * *")
	viper.SetDefault("scheduler.escalation_batch_size", 500)
	viper.SetDefault("scheduler.dispatch_retry_batch", 100)

	// Classifier
	viper.SetDefault("classifier.enabled", false)
	viper.SetDefault("classifier.endpoint", "http://localhost:8095")
	viper.SetDefault("classifier.timeout", "10s")
	viper.SetDefault("classifier.max_retries", 1)

	// Registry
	viper.SetDefault("registry.cache_ttl", "5m")
	viper.SetDefault("registry.cache_sweep", "10m")
	viper.SetDefault("registry.risk_threshold", 70.0)

	// Notifications
	viper.SetDefault("notifications.workers", 3)
	viper.SetDefault("notifications.email.enabled", false)
	viper.SetDefault("notifications.email.from_address", "alerts@aquasentinel.local")
	viper.SetDefault("notifications.email.from_name", "AquaSentinel Complaints")
	viper.SetDefault("notifications.email.max_retries", 3)
	viper.SetDefault("notifications.email.retry_delay", "10s")
	viper.SetDefault("notifications.email.timeout", "30s")
	viper.SetDefault("notifications.email.rate_limit_per_min", 60)
	viper.SetDefault("notifications.sms.enabled", false)
	viper.SetDefault("notifications.sms.max_retries", 3)
	viper.SetDefault("notifications.sms.retry_delay", "10s")
	viper.SetDefault("notifications.sms.timeout", "30s")
	viper.SetDefault("notifications.sms.rate_limit_per_min", 10)
	viper.SetDefault("notifications.webhook.enabled", false)
	viper.SetDefault("notifications.webhook.timeout", "30s")
	viper.SetDefault("notifications.webhook.max_retries", 3)
	viper.SetDefault("notifications.webhook.retry_delay", "10s")
	viper.SetDefault("notifications.webhook.rate_limit_per_min", 120)

	// Auth
	viper.SetDefault("auth.enabled", true)
	viper.SetDefault("auth.jwt_secret", "change-me")
	viper.SetDefault("auth.issuer", "aquasentinel-users")

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}
