// Package kafka publishes complaint lifecycle events and consumes risk
// snapshots from the external analytics process.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
)

// ComplaintEvent is the wire format published to the complaint-events topic.
type ComplaintEvent struct {
	Kind            string     `json:"kind"`
	ComplaintID     string     `json:"complaint_id"`
	ComplaintNumber string     `json:"complaint_number"`
	Status          string     `json:"status"`
	ViolationType   string     `json:"violation_type"`
	SeverityScore   int        `json:"severity_score"`
	PriorityBand    string     `json:"priority_band"`
	EscalationLevel int        `json:"escalation_level"`
	WaterBodyID     *string    `json:"water_body_id,omitempty"`
	OfficerID       *string    `json:"officer_id,omitempty"`
	SLADeadline     *time.Time `json:"sla_deadline,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// Producer publishes lifecycle and escalation events. It satisfies the
// pipeline's emitter hook and the escalation runner's sink hook.
type Producer struct {
	cfg          config.KafkaConfig
	logger       *slog.Logger
	writer       *kafka.Writer
	shutdownChan chan struct{}
	once         sync.Once
	wg           sync.WaitGroup

	mu           sync.Mutex
	messageCount int64
	errorCount   int64
}

// NewProducer creates a producer for the complaint-events topic.
func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:             kafka.TCP(cfg.Brokers...),
		Topic:            cfg.Topics.ComplaintEvents,
		Balancer:         &kafka.LeastBytes{},
		BatchTimeout:     50 * time.Millisecond,
		WriteTimeout:     10 * time.Second,
		RequiredAcks:     kafka.RequireOne,
		Compression:      compress.Snappy,
		Logger:           &kafkaLogger{logger: logger},
		ErrorLogger:      &kafkaErrorLogger{logger: logger},
	}

	return &Producer{
		cfg:          cfg,
		logger:       logger,
		writer:       writer,
		shutdownChan: make(chan struct{}),
	}
}

// Start launches the producer's metrics reporter.
func (p *Producer) Start(ctx context.Context) {
	p.logger.Info("Starting Kafka producer", "topic", p.cfg.Topics.ComplaintEvents)
	p.wg.Add(1)
	go p.metricsReporter(ctx)
}

// Stop closes the writer.
func (p *Producer) Stop() {
	p.logger.Info("Stopping Kafka producer")
	p.once.Do(func() { close(p.shutdownChan) })
	if p.writer != nil {
		p.writer.Close()
	}
	p.wg.Wait()
	p.logger.Info("Kafka producer stopped")
}

// Emit publishes a lifecycle event keyed by complaint id.
func (p *Producer) Emit(ctx context.Context, kind string, c *database.Complaint) {
	if err := p.publish(ctx, kind, c); err != nil {
		p.logger.Error("Failed to publish complaint event",
			"kind", kind, "complaint_id", c.ID, "error", err)
	}
}

// EscalationRaised publishes a committed escalation as an event.
func (p *Producer) EscalationRaised(ctx context.Context, c *database.Complaint, record *database.EscalationRecord, eventKind string) {
	if err := p.publish(ctx, eventKind, c); err != nil {
		p.logger.Error("Failed to publish escalation event",
			"kind", eventKind, "complaint_id", c.ID, "level", record.ToLevel, "error", err)
	}
}

func (p *Producer) publish(ctx context.Context, kind string, c *database.Complaint) error {
	event := ComplaintEvent{
		Kind:            kind,
		ComplaintID:     c.ID,
		ComplaintNumber: c.ComplaintNumber,
		Status:          string(c.Status),
		ViolationType:   string(c.ViolationType),
		SeverityScore:   c.SeverityScore,
		PriorityBand:    string(c.PriorityBand),
		EscalationLevel: c.EscalationLevel,
		WaterBodyID:     c.WaterBodyID,
		OfficerID:       c.AssignedOfficerID,
		SLADeadline:     c.SLADeadline,
		Timestamp:       time.Now().UTC(),
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal complaint event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(c.ID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
			{Key: "complaint_number", Value: []byte(c.ComplaintNumber)},
			{Key: "priority_band", Value: []byte(c.PriorityBand)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.mu.Lock()
		p.errorCount++
		p.mu.Unlock()
		return fmt.Errorf("failed to write complaint event: %w", err)
	}

	p.mu.Lock()
	p.messageCount++
	p.mu.Unlock()

	p.logger.Debug("Complaint event published",
		"kind", kind, "complaint_id", c.ID, "complaint_number", c.ComplaintNumber)
	return nil
}

func (p *Producer) metricsReporter(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdownChan:
			return
		case <-ticker.C:
			p.mu.Lock()
			published, errors := p.messageCount, p.errorCount
			p.mu.Unlock()
			p.logger.Debug("Kafka producer metrics",
				"messages_published", published, "errors", errors)
		}
	}
}

// GetStats returns producer statistics.
func (p *Producer) GetStats() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"messages_published": p.messageCount,
		"errors":             p.errorCount,
	}
}

// Kafka logging adapters.

type kafkaLogger struct {
	logger *slog.Logger
}

func (l *kafkaLogger) Printf(format string, v ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, v...))
}

type kafkaErrorLogger struct {
	logger *slog.Logger
}

func (l *kafkaErrorLogger) Printf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}
