// Package notification turns lifecycle and escalation events into recorded,
// dispatched notifications. Every outbound message gets a database row
// before delivery; delivery runs on a worker pool behind per-channel rate
// limiters with a bounded retry, and failures are recorded, never re-queued
// past the retry cap.
package notification

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"text/template"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
	"github.com/aquasentinel/complaint-engine/internal/metrics"
)

// Delivery channels.
const (
	ChannelInApp   = "in_app"
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
)

// Store persists notification records and delivery outcomes.
type Store interface {
	Create(ctx context.Context, n *database.Notification) error
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, deliveryErr string) error
	ListRetryable(ctx context.Context, maxRetries, limit int) ([]*database.Notification, error)
}

// Directory resolves notification recipients from the officer mirror.
type Directory interface {
	GetByID(ctx context.Context, id string) (*database.Officer, error)
	ListActiveByRole(ctx context.Context, role database.Role) ([]*database.Officer, error)
}

// Manager builds, records and dispatches notifications.
type Manager struct {
	cfg       config.NotificationsConfig
	logger    *slog.Logger
	store     Store
	directory Directory
	metrics   *metrics.Collector

	clients   map[string]Client
	limiters  map[string]*rate.Limiter
	templates *template.Template

	queue    chan *database.Notification
	shutdown chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewManager creates the notification manager. Channel clients are only
// constructed for enabled channels; events for disabled channels are simply
// not recorded.
func NewManager(cfg config.NotificationsConfig, store Store, directory Directory, collector *metrics.Collector, logger *slog.Logger) (*Manager, error) {
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		directory: directory,
		metrics:   collector,
		clients:   make(map[string]Client),
		limiters:  make(map[string]*rate.Limiter),
		templates: tmpl,
		queue:     make(chan *database.Notification, 256),
		shutdown:  make(chan struct{}),
	}

	if cfg.Email.Enabled {
		m.clients[ChannelEmail] = NewEmailClient(cfg.Email, logger)
		m.limiters[ChannelEmail] = perMinuteLimiter(cfg.Email.RateLimitPerMin)
	}
	if cfg.SMS.Enabled {
		m.clients[ChannelSMS] = NewSMSClient(cfg.SMS, logger)
		m.limiters[ChannelSMS] = perMinuteLimiter(cfg.SMS.RateLimitPerMin)
	}
	if cfg.Webhook.Enabled {
		m.clients[ChannelWebhook] = NewWebhookClient(cfg.Webhook, logger)
		m.limiters[ChannelWebhook] = perMinuteLimiter(cfg.Webhook.RateLimitPerMin)
	}

	return m, nil
}

// Start launches the delivery workers.
func (m *Manager) Start(ctx context.Context) {
	workers := m.cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	m.logger.Info("Starting notification manager", "workers", workers)
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go m.worker(ctx)
	}

	m.requeuePending(ctx)
}

// requeuePending picks up rows that were recorded but never delivered, after
// a restart or a dropped queue overflow.
func (m *Manager) requeuePending(ctx context.Context) {
	pending, err := m.store.ListRetryable(ctx, maxRequeueRetries(m.cfg), cap(m.queue))
	if err != nil {
		m.logger.Error("Failed to list pending notifications", "error", err)
		return
	}

	requeued := 0
	for _, n := range pending {
		if n.Channel == ChannelInApp {
			continue
		}
		select {
		case m.queue <- n:
			requeued++
		default:
			m.logger.Warn("Notification queue full during requeue", "remaining", len(pending)-requeued)
			return
		}
	}
	if requeued > 0 {
		m.logger.Info("Requeued pending notifications", "count", requeued)
	}
}

func maxRequeueRetries(cfg config.NotificationsConfig) int {
	max := cfg.Email.MaxRetries
	if cfg.SMS.MaxRetries > max {
		max = cfg.SMS.MaxRetries
	}
	if cfg.Webhook.MaxRetries > max {
		max = cfg.Webhook.MaxRetries
	}
	return max
}

// Stop drains the workers.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.shutdown) })
	m.wg.Wait()
	m.logger.Info("Notification manager stopped")
}

// Emit maps a lifecycle event to its notifications. It implements the
// pipeline's emitter hook.
func (m *Manager) Emit(ctx context.Context, kind string, c *database.Complaint) {
	switch kind {
	case "submitted":
		m.notifyCitizen(ctx, c, kind, "Complaint received",
			fmt.Sprintf("Your complaint %s has been received and is being processed.", c.ComplaintNumber))
	case "assigned":
		m.notifyCitizen(ctx, c, kind, "Complaint assigned",
			fmt.Sprintf("Your complaint %s has been assigned to a field officer.", c.ComplaintNumber))
		m.notifyAssignedOfficer(ctx, c, kind)
	case "in_progress":
		m.notifyCitizen(ctx, c, kind, "Investigation started",
			fmt.Sprintf("Field work on your complaint %s has started.", c.ComplaintNumber))
	case "resolved":
		m.notifyCitizen(ctx, c, kind, "Complaint resolved",
			fmt.Sprintf("Your complaint %s has been resolved.", c.ComplaintNumber))
	case "rejected":
		m.notifyCitizen(ctx, c, kind, "Complaint closed",
			fmt.Sprintf("Your complaint %s was reviewed and closed as invalid.", c.ComplaintNumber))
	case "pending_dispatch":
		m.notifyRole(ctx, c, kind, database.RoleSupervisor, []string{ChannelInApp},
			"Complaint pending dispatch",
			fmt.Sprintf("Complaint %s has no eligible officer and needs manual dispatch.", c.ComplaintNumber))
	}

	m.notifyWebhook(ctx, c, kind)
}

// EscalationRaised dispatches the notifications for a committed level
// raise. It implements the escalation runner's sink hook.
func (m *Manager) EscalationRaised(ctx context.Context, c *database.Complaint, record *database.EscalationRecord, eventKind string) {
	subject, body := m.renderEscalation(c, record, eventKind)

	switch record.NotifiedRole {
	case database.RoleOfficer:
		m.notifyAssignedOfficerWith(ctx, c, eventKind, subject, body, []string{ChannelInApp, ChannelEmail, ChannelSMS})
	case database.RoleSupervisor, database.RoleAdmin:
		m.notifyRole(ctx, c, eventKind, record.NotifiedRole, []string{ChannelInApp, ChannelEmail}, subject, body)
	}

	m.notifyWebhook(ctx, c, eventKind)
}

func (m *Manager) notifyCitizen(ctx context.Context, c *database.Complaint, kind, subject, body string) {
	submitterID := c.SubmitterID
	m.record(ctx, &database.Notification{
		RecipientID:   &submitterID,
		RecipientRole: database.RoleCitizen,
		EventKind:     kind,
		Channel:       ChannelInApp,
		Subject:       subject,
		Body:          body,
	}, c)
}

func (m *Manager) notifyAssignedOfficer(ctx context.Context, c *database.Complaint, kind string) {
	deadline := "unset"
	if c.SLADeadline != nil {
		deadline = c.SLADeadline.UTC().Format(time.RFC3339)
	}
	subject := fmt.Sprintf("New complaint assigned: %s", c.ComplaintNumber)
	body := fmt.Sprintf("Complaint %s (%s, severity %d) has been assigned to you. Resolve by %s.",
		c.ComplaintNumber, c.ViolationType, c.SeverityScore, deadline)

	m.notifyAssignedOfficerWith(ctx, c, kind, subject, body, []string{ChannelInApp, ChannelEmail})
}

func (m *Manager) notifyAssignedOfficerWith(ctx context.Context, c *database.Complaint, kind, subject, body string, channels []string) {
	if c.AssignedOfficerID == nil {
		return
	}

	officer, err := m.directory.GetByID(ctx, *c.AssignedOfficerID)
	if err != nil {
		m.logger.Error("Failed to resolve assigned officer for notification",
			"complaint_id", c.ID, "officer_id", *c.AssignedOfficerID, "error", err)
		return
	}

	for _, channel := range channels {
		m.record(ctx, &database.Notification{
			RecipientID:   &officer.ID,
			RecipientRole: officer.Role,
			Recipient:     recipientAddress(officer, channel),
			EventKind:     kind,
			Channel:       channel,
			Subject:       subject,
			Body:          body,
		}, c)
	}
}

func (m *Manager) notifyRole(ctx context.Context, c *database.Complaint, kind string, role database.Role, channels []string, subject, body string) {
	recipients, err := m.directory.ListActiveByRole(ctx, role)
	if err != nil {
		m.logger.Error("Failed to list notification recipients",
			"role", role, "complaint_id", c.ID, "error", err)
		return
	}

	for _, recipient := range recipients {
		for _, channel := range channels {
			m.record(ctx, &database.Notification{
				RecipientID:   &recipient.ID,
				RecipientRole: recipient.Role,
				Recipient:     recipientAddress(recipient, channel),
				EventKind:     kind,
				Channel:       channel,
				Subject:       subject,
				Body:          body,
			}, c)
		}
	}
}

func (m *Manager) notifyWebhook(ctx context.Context, c *database.Complaint, kind string) {
	if !m.cfg.Webhook.Enabled {
		return
	}
	m.record(ctx, &database.Notification{
		RecipientRole: database.RoleSystem,
		EventKind:     kind,
		Channel:       ChannelWebhook,
		Subject:       kind,
		Body:          fmt.Sprintf("Complaint %s: %s", c.ComplaintNumber, kind),
	}, c)
}

// record persists the notification and queues it for delivery. In-app rows
// have no transport; they are sent the moment they exist.
func (m *Manager) record(ctx context.Context, n *database.Notification, c *database.Complaint) {
	// Email and SMS rows without an address cannot be delivered; skip the
	// record entirely rather than creating guaranteed failures.
	if n.Channel != ChannelInApp && n.Channel != ChannelWebhook && n.Recipient == "" {
		return
	}
	if _, ok := m.clients[n.Channel]; !ok && n.Channel != ChannelInApp {
		return
	}

	n.ID = uuid.NewString()
	n.ComplaintID = &c.ID
	n.ComplaintNumber = c.ComplaintNumber

	if err := m.store.Create(ctx, n); err != nil {
		m.logger.Error("Failed to record notification",
			"event_kind", n.EventKind, "channel", n.Channel, "error", err)
		return
	}

	if n.Channel == ChannelInApp {
		if err := m.store.MarkSent(ctx, n.ID); err != nil {
			m.logger.Error("Failed to mark in-app notification sent", "notification_id", n.ID, "error", err)
		}
		m.observe(ChannelInApp, database.NotificationSent)
		return
	}

	select {
	case m.queue <- n:
	default:
		m.logger.Warn("Notification queue full, left pending for requeue",
			"notification_id", n.ID, "channel", n.Channel)
	}
}

func (m *Manager) worker(ctx context.Context) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdown:
			return
		case n := <-m.queue:
			m.deliver(ctx, n)
		}
	}
}

// deliver attempts a bounded-retry delivery and records the outcome.
func (m *Manager) deliver(ctx context.Context, n *database.Notification) {
	client, ok := m.clients[n.Channel]
	if !ok {
		return
	}

	if limiter, ok := m.limiters[n.Channel]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
	}

	maxRetries, retryDelay := m.retryPolicy(n.Channel)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
		}

		if lastErr = client.Send(ctx, n); lastErr == nil {
			if err := m.store.MarkSent(ctx, n.ID); err != nil {
				m.logger.Error("Failed to mark notification sent", "notification_id", n.ID, "error", err)
			}
			m.observe(n.Channel, database.NotificationSent)
			return
		}
	}

	m.logger.Error("Notification delivery failed",
		"notification_id", n.ID, "channel", n.Channel, "error", lastErr)
	if err := m.store.MarkFailed(ctx, n.ID, lastErr.Error()); err != nil {
		m.logger.Error("Failed to mark notification failed", "notification_id", n.ID, "error", err)
	}
	m.observe(n.Channel, database.NotificationFailed)
}

func (m *Manager) retryPolicy(channel string) (int, time.Duration) {
	switch channel {
	case ChannelEmail:
		return m.cfg.Email.MaxRetries, m.cfg.Email.RetryDelay
	case ChannelSMS:
		return m.cfg.SMS.MaxRetries, m.cfg.SMS.RetryDelay
	case ChannelWebhook:
		return m.cfg.Webhook.MaxRetries, m.cfg.Webhook.RetryDelay
	}
	return 0, 0
}

func (m *Manager) renderEscalation(c *database.Complaint, record *database.EscalationRecord, eventKind string) (string, string) {
	data := map[string]interface{}{
		"Number":   c.ComplaintNumber,
		"Band":     c.PriorityBand,
		"Severity": c.SeverityScore,
		"Level":    record.ToLevel,
		"Reason":   record.Reason,
		"Deadline": "unset",
	}
	if c.SLADeadline != nil {
		data["Deadline"] = c.SLADeadline.UTC().Format(time.RFC3339)
	}

	var subject, body bytes.Buffer
	if err := m.templates.ExecuteTemplate(&subject, eventKind+"-subject", data); err != nil {
		return fmt.Sprintf("Escalation level %d: %s", record.ToLevel, c.ComplaintNumber), record.Reason
	}
	if err := m.templates.ExecuteTemplate(&body, eventKind+"-body", data); err != nil {
		return subject.String(), record.Reason
	}
	return subject.String(), body.String()
}

func (m *Manager) observe(channel, status string) {
	if m.metrics != nil {
		m.metrics.NotificationDispatched(channel, status)
	}
}

func recipientAddress(officer *database.Officer, channel string) string {
	switch channel {
	case ChannelEmail:
		return officer.Email
	case ChannelSMS:
		return officer.Phone
	}
	return ""
}

func perMinuteLimiter(perMin int) *rate.Limiter {
	if perMin <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(float64(perMin)/60.0), perMin)
}

func parseTemplates() (*template.Template, error) {
	tmpl := template.New("notifications")

	defs := map[string]string{
		"sla_warning-subject": `SLA warning: complaint {{.Number}} due {{.Deadline}}`,
		"sla_warning-body": `Complaint {{.Number}} ({{.Band}}, severity {{.Severity}}) approaches its SLA deadline ({{.Deadline}}). {{.Reason}}.`,

		"supervisor_escalation-subject": `Escalation: complaint {{.Number}} past SLA deadline`,
		"supervisor_escalation-body": `Complaint {{.Number}} ({{.Band}}, severity {{.Severity}}) missed its SLA deadline ({{.Deadline}}) and has been escalated to level {{.Level}}. {{.Reason}}.`,

		"admin_escalation-subject": `Critical escalation: complaint {{.Number}} unresolved`,
		"admin_escalation-body": `Complaint {{.Number}} ({{.Band}}, severity {{.Severity}}) remains unresolved well past its SLA deadline ({{.Deadline}}) and has been escalated to level {{.Level}}. {{.Reason}}.`,
	}

	for name, text := range defs {
		if _, err := tmpl.New(name).Parse(text); err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
	}
	return tmpl, nil
}
