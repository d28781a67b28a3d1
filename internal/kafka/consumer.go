package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
)

// RiskUpdate is the wire format consumed from the risk-updates topic. The
// external analytics process publishes one message per recomputed water body.
type RiskUpdate struct {
	WaterBodyID string    `json:"water_body_id"`
	RiskScore   float64   `json:"risk_score"`
	HealthIndex float64   `json:"health_index"`
	ComputedAt  time.Time `json:"computed_at"`
}

// RiskStore applies risk snapshots to the water body registry.
type RiskStore interface {
	UpdateRiskScores(ctx context.Context, id string, riskScore, healthIndex float64) error
}

// CacheInvalidator drops cached registry state after a risk update lands.
type CacheInvalidator interface {
	Invalidate()
}

// Consumer reads risk snapshots and applies them to stored water bodies.
type Consumer struct {
	cfg          config.KafkaConfig
	logger       *slog.Logger
	reader       *kafka.Reader
	store        RiskStore
	invalidator  CacheInvalidator
	shutdownChan chan struct{}
	once         sync.Once
	wg           sync.WaitGroup

	mu            sync.Mutex
	messageCount  int64
	errorCount    int64
	lastProcessed time.Time
}

// NewConsumer creates a consumer for the risk-updates topic.
func NewConsumer(cfg config.KafkaConfig, store RiskStore, invalidator CacheInvalidator, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topics.RiskUpdates,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		StartOffset:    kafka.LastOffset,
		Logger:         &kafkaLogger{logger: logger},
		ErrorLogger:    &kafkaErrorLogger{logger: logger},
	})

	return &Consumer{
		cfg:          cfg,
		logger:       logger,
		reader:       reader,
		store:        store,
		invalidator:  invalidator,
		shutdownChan: make(chan struct{}),
	}
}

// Start launches the consume loop.
func (c *Consumer) Start(ctx context.Context) {
	c.logger.Info("Starting Kafka consumer",
		"topic", c.cfg.Topics.RiskUpdates, "group_id", c.cfg.GroupID)

	c.wg.Add(1)
	go c.loop(ctx)
}

// Stop closes the reader and waits for the loop to drain.
func (c *Consumer) Stop() {
	c.logger.Info("Stopping Kafka consumer")
	c.once.Do(func() { close(c.shutdownChan) })
	if c.reader != nil {
		c.reader.Close()
	}
	c.wg.Wait()
	c.logger.Info("Kafka consumer stopped")
}

func (c *Consumer) loop(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdownChan:
			return
		default:
			readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			message, err := c.reader.ReadMessage(readCtx)
			cancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				select {
				case <-c.shutdownChan:
					return
				default:
				}
				c.logger.Error("Failed to read risk update", "error", err)
				c.recordError()
				time.Sleep(1 * time.Second)
				continue
			}

			if err := c.processMessage(ctx, &message); err != nil {
				c.logger.Error("Failed to process risk update",
					"topic", message.Topic,
					"partition", message.Partition,
					"offset", message.Offset,
					"error", err)
				c.recordError()
			} else {
				c.recordProcessed()
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context, message *kafka.Message) error {
	var update RiskUpdate
	if err := json.Unmarshal(message.Value, &update); err != nil {
		return fmt.Errorf("failed to unmarshal risk update: %w", err)
	}

	if update.WaterBodyID == "" {
		return fmt.Errorf("risk update missing water_body_id")
	}
	if update.RiskScore < 0 || update.RiskScore > 100 {
		return fmt.Errorf("risk update score %.2f out of range for water body %s", update.RiskScore, update.WaterBodyID)
	}

	if err := c.store.UpdateRiskScores(ctx, update.WaterBodyID, update.RiskScore, update.HealthIndex); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// Snapshots may reference water bodies this deployment does not
			// track; skip rather than retry forever.
			c.logger.Warn("Risk update for unknown water body", "water_body_id", update.WaterBodyID)
			return nil
		}
		return fmt.Errorf("failed to apply risk update for %s: %w", update.WaterBodyID, err)
	}

	c.invalidator.Invalidate()

	c.logger.Debug("Risk update applied",
		"water_body_id", update.WaterBodyID,
		"risk_score", update.RiskScore,
		"health_index", update.HealthIndex)
	return nil
}

func (c *Consumer) recordProcessed() {
	c.mu.Lock()
	c.messageCount++
	c.lastProcessed = time.Now()
	c.mu.Unlock()
}

func (c *Consumer) recordError() {
	c.mu.Lock()
	c.errorCount++
	c.mu.Unlock()
}

// GetStats returns consumer statistics.
func (c *Consumer) GetStats() map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]interface{}{
		"messages_processed": c.messageCount,
		"errors":             c.errorCount,
		"last_processed":     c.lastProcessed,
	}
}
