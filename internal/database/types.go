package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/aquasentinel/complaint-engine/internal/config"
)

// Connect establishes a database connection
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// RunMigrations runs database migrations
func RunMigrations(cfg config.DatabaseConfig) error {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.Name, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BaseRepository provides common functionality shared by all repositories.
type BaseRepository struct {
	db *sqlx.DB
}

// Transaction executes a function within a database transaction
func (r *BaseRepository) Transaction(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}

// Status is the closed set of complaint lifecycle states. Transitions between
// them are owned by the lifecycle package; nothing mutates status directly.
type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusValidated   Status = "validated"
	StatusAIProcessed Status = "ai_processed"
	StatusAssigned    Status = "assigned"
	StatusInProgress  Status = "in_progress"
	StatusResolved    Status = "resolved"
	StatusRejected    Status = "rejected"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusSubmitted, StatusValidated, StatusAIProcessed,
		StatusAssigned, StatusInProgress, StatusResolved, StatusRejected:
		return true
	}
	return false
}

// Band is the priority band derived from the severity score.
type Band string

const (
	BandCritical Band = "critical"
	BandMedium   Band = "medium"
	BandLow      Band = "low"
)

// ViolationType is the classifier's verdict about what kind of encroachment
// a complaint reports.
type ViolationType string

const (
	ViolationConstruction  ViolationType = "construction"
	ViolationLandFilling   ViolationType = "land_filling"
	ViolationDebrisDumping ViolationType = "debris_dumping"
	ViolationPollution     ViolationType = "pollution"
	ViolationUnknown       ViolationType = "unknown"
)

// Valid reports whether v is a known violation type.
func (v ViolationType) Valid() bool {
	switch v {
	case ViolationConstruction, ViolationLandFilling, ViolationDebrisDumping,
		ViolationPollution, ViolationUnknown:
		return true
	}
	return false
}

// Urgency is the classifier's urgency level for a complaint.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Role identifies what a user may do; issued by the external user service.
type Role string

const (
	RoleCitizen    Role = "citizen"
	RoleOfficer    Role = "officer"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
)

// WaterBodyType categorizes registered water bodies.
type WaterBodyType string

const (
	WaterBodyLake  WaterBodyType = "lake"
	WaterBodyRiver WaterBodyType = "river"
	WaterBodyCanal WaterBodyType = "canal"
)

// Coordinate is a single boundary vertex, serialized as a GeoJSON-style
// [lon, lat] pair.
type Coordinate struct {
	Lon float64
	Lat float64
}

// MarshalJSON encodes the coordinate as [lon, lat].
func (c Coordinate) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{c.Lon, c.Lat})
}

// UnmarshalJSON decodes a [lon, lat] pair.
func (c *Coordinate) UnmarshalJSON(data []byte) error {
	var pair [2]float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	c.Lon, c.Lat = pair[0], pair[1]
	return nil
}

// Boundary is a water body's boundary ring stored as a JSONB column. The ring
// is implicitly closed: the last vertex connects back to the first.
type Boundary []Coordinate

// Value implements driver.Valuer for JSONB storage.
func (b Boundary) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan implements sql.Scanner for JSONB retrieval.
func (b *Boundary) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, b)
	case string:
		return json.Unmarshal([]byte(v), b)
	case nil:
		*b = nil
		return nil
	default:
		return fmt.Errorf("unsupported boundary scan type %T", src)
	}
}

// WaterBody is a registered water body. The registry and risk fields are
// owned by external processes; this engine reads them and never writes
// anything except the risk mirror updated from the analytics topic.
type WaterBody struct {
	ID               string        `db:"id" json:"id"`
	Name             string        `db:"name" json:"name"`
	Type             WaterBodyType `db:"type" json:"type"`
	Boundary         Boundary      `db:"boundary" json:"boundary"`
	SensitivityScore float64       `db:"sensitivity_score" json:"sensitivity_score"`
	RiskScore        float64       `db:"risk_score" json:"risk_score"`
	HealthIndex      float64       `db:"environmental_health_index" json:"environmental_health_index"`
	AreaSqKm         float64       `db:"area_sq_km" json:"area_sq_km"`
	Region           string        `db:"region" json:"region"`
	MinLat           float64       `db:"min_lat" json:"-"`
	MaxLat           float64       `db:"max_lat" json:"-"`
	MinLon           float64       `db:"min_lon" json:"-"`
	MaxLon           float64       `db:"max_lon" json:"-"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// Officer is a field officer mirrored from the external user service.
// Credentials never live here.
type Officer struct {
	ID        string    `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"full_name"`
	Email     string    `db:"email" json:"email"`
	Phone     string    `db:"phone" json:"phone"`
	Role      Role      `db:"role" json:"role"`
	Active    bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Complaint is a citizen-submitted encroachment report. Rows are created on
// submission and mutated only through lifecycle transitions; they are never
// deleted.
type Complaint struct {
	ID                string        `db:"id" json:"id"`
	ComplaintNumber   string        `db:"complaint_number" json:"complaint_number"`
	SubmitterID       string        `db:"submitter_id" json:"submitter_id"`
	WaterBodyID       *string       `db:"water_body_id" json:"water_body_id,omitempty"`
	Category          string        `db:"category" json:"category"`
	Description       string        `db:"description" json:"description"`
	Latitude          float64       `db:"latitude" json:"latitude"`
	Longitude         float64       `db:"longitude" json:"longitude"`
	GeoResult         string        `db:"geo_result" json:"geo_result,omitempty"`
	ImageURL          *string       `db:"image_url" json:"image_url,omitempty"`
	ViolationType     ViolationType `db:"violation_type" json:"violation_type"`
	Confidence        float64       `db:"confidence" json:"confidence"`
	Urgency           Urgency       `db:"urgency" json:"urgency"`
	SeverityScore     int           `db:"severity_score" json:"severity_score"`
	PriorityBand      Band          `db:"priority_band" json:"priority_band"`
	Status            Status        `db:"status" json:"status"`
	AssignedOfficerID *string       `db:"assigned_officer_id" json:"assigned_officer_id,omitempty"`
	SLADeadline       *time.Time    `db:"sla_deadline" json:"sla_deadline,omitempty"`
	EscalationLevel   int           `db:"escalation_level" json:"escalation_level"`
	EscalatedAt       *time.Time    `db:"escalated_at" json:"escalated_at,omitempty"`
	ResolutionNote    *string       `db:"resolution_note" json:"resolution_note,omitempty"`
	ResolvedAt        *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// Overdue reports whether the complaint is still open past its SLA deadline.
func (c *Complaint) Overdue(now time.Time) bool {
	if c.SLADeadline == nil {
		return false
	}
	if c.Status != StatusAssigned && c.Status != StatusInProgress {
		return false
	}
	return !now.Before(*c.SLADeadline)
}

// StatusLogEntry is the immutable audit record appended on every transition.
// OldStatus is empty for the entry written when the complaint is created.
type StatusLogEntry struct {
	ID          string    `db:"id" json:"id"`
	ComplaintID string    `db:"complaint_id" json:"complaint_id"`
	OldStatus   Status    `db:"old_status" json:"old_status,omitempty"`
	NewStatus   Status    `db:"new_status" json:"new_status"`
	ActorID     *string   `db:"actor_id" json:"actor_id,omitempty"`
	ActorRole   Role      `db:"actor_role" json:"actor_role"`
	Note        string    `db:"note" json:"note"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// EscalationRecord is the immutable history row appended whenever a
// complaint's escalation level is raised.
type EscalationRecord struct {
	ID           string    `db:"id" json:"id"`
	ComplaintID  string    `db:"complaint_id" json:"complaint_id"`
	FromLevel    int       `db:"from_level" json:"from_level"`
	ToLevel      int       `db:"to_level" json:"to_level"`
	Reason       string    `db:"reason" json:"reason"`
	NotifiedRole Role      `db:"notified_role" json:"notified_role"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Notification records an event handed to the dispatch collaborator.
type Notification struct {
	ID              string     `db:"id" json:"id"`
	RecipientID     *string    `db:"recipient_id" json:"recipient_id,omitempty"`
	RecipientRole   Role       `db:"recipient_role" json:"recipient_role"`
	Recipient       string     `db:"recipient" json:"recipient"`
	EventKind       string     `db:"event_kind" json:"event_kind"`
	ComplaintID     *string    `db:"complaint_id" json:"complaint_id,omitempty"`
	ComplaintNumber string     `db:"complaint_number" json:"complaint_number"`
	Channel         string     `db:"channel" json:"channel"`
	Subject         string     `db:"subject" json:"subject"`
	Body            string     `db:"body" json:"body"`
	Status          string     `db:"status" json:"status"`
	Error           *string    `db:"error" json:"error,omitempty"`
	Retries         int        `db:"retries" json:"retries"`
	Read            bool       `db:"read" json:"read"`
	SentAt          *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// Notification delivery states.
const (
	NotificationPending = "pending"
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
)

// OfficerWorkload is the derived active-case count used by assignment. It is
// computed fresh inside the claiming transaction and never persisted.
type OfficerWorkload struct {
	OfficerID   string `db:"id" json:"officer_id"`
	ActiveCases int    `db:"active_cases" json:"active_cases"`
}

// DashboardStats aggregates complaint counts for reporting surfaces.
type DashboardStats struct {
	Total                int            `json:"total"`
	Active               int            `json:"active"`
	Resolved             int            `json:"resolved"`
	Rejected             int            `json:"rejected"`
	Critical             int            `json:"critical"`
	Overdue              int            `json:"overdue"`
	PendingDispatch      int            `json:"pending_dispatch"`
	ByStatus             map[string]int `json:"by_status"`
	ByViolationType      map[string]int `json:"by_violation_type"`
	AvgResolutionHours   float64        `json:"avg_resolution_hours"`
	ResolutionRatePct    float64        `json:"resolution_rate_pct"`
	WaterBodiesAtRisk    int            `json:"water_bodies_at_risk"`
	EscalatedLast7Days   int            `json:"escalated_last_7_days"`
}

// HeatmapPoint is a complaint location weighted by severity for map overlays.
type HeatmapPoint struct {
	Latitude  float64 `db:"latitude" json:"lat"`
	Longitude float64 `db:"longitude" json:"lon"`
	Weight    float64 `db:"weight" json:"weight"`
}

// Filter represents common listing options shared by repositories.
type Filter struct {
	Limit     int                    `json:"limit,omitempty"`
	Offset    int                    `json:"offset,omitempty"`
	SortBy    string                 `json:"sort_by,omitempty"`
	SortOrder string                 `json:"sort_order,omitempty"`
	Filters   map[string]interface{} `json:"filters,omitempty"`
	DateFrom  *time.Time             `json:"date_from,omitempty"`
	DateTo    *time.Time             `json:"date_to,omitempty"`
}
