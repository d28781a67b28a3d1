// Package metrics exposes the engine's Prometheus instrumentation. All
// collectors carry the complaint_engine_ prefix and register through
// promauto on construction.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aquasentinel/complaint-engine/internal/database"
)

// Collector holds the engine's metric families.
type Collector struct {
	complaintsTotal    *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	escalationsTotal   *prometheus.CounterVec
	notificationsTotal *prometheus.CounterVec
	assignmentFailures prometheus.Counter

	escalationPassDuration prometheus.Histogram
	escalationPassRaised   prometheus.Counter

	activeComplaints  prometheus.Gauge
	overdueComplaints prometheus.Gauge
	pendingDispatch   prometheus.Gauge
	criticalOpen      prometheus.Gauge
	waterBodiesAtRisk prometheus.Gauge
}

// NewCollector creates and registers the engine's collectors. Construct it
// once per process.
func NewCollector() *Collector {
	return &Collector{
		complaintsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "complaint_engine_complaints_total",
				Help: "Complaints created, by priority band and violation type",
			},
			[]string{"priority_band", "violation_type"},
		),
		transitionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "complaint_engine_transitions_total",
				Help: "Status transitions applied, by target status",
			},
			[]string{"to"},
		),
		escalationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "complaint_engine_escalations_total",
				Help: "Escalation levels raised, by target level",
			},
			[]string{"level"},
		),
		notificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "complaint_engine_notifications_total",
				Help: "Notification dispatch outcomes, by channel and status",
			},
			[]string{"channel", "status"},
		),
		assignmentFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "complaint_engine_assignment_failures_total",
				Help: "Assignments that found no eligible officer",
			},
		),
		escalationPassDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "complaint_engine_escalation_pass_duration_seconds",
				Help:    "Duration of escalation scheduler passes",
				Buckets: prometheus.DefBuckets,
			},
		),
		escalationPassRaised: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "complaint_engine_escalation_pass_raised_total",
				Help: "Escalations raised by scheduler passes",
			},
		),
		activeComplaints: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "complaint_engine_active_complaints",
				Help: "Complaints not yet resolved or rejected",
			},
		),
		overdueComplaints: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "complaint_engine_overdue_complaints",
				Help: "Open complaints past their SLA deadline",
			},
		),
		pendingDispatch: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "complaint_engine_pending_dispatch",
				Help: "Complaints waiting for an eligible officer",
			},
		),
		criticalOpen: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "complaint_engine_critical_open",
				Help: "Open complaints in the critical band",
			},
		),
		waterBodiesAtRisk: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "complaint_engine_water_bodies_at_risk",
				Help: "Water bodies whose risk score meets the threshold",
			},
		),
	}
}

// ComplaintCreated records a new complaint.
func (c *Collector) ComplaintCreated(band database.Band, violation database.ViolationType) {
	c.complaintsTotal.WithLabelValues(string(band), string(violation)).Inc()
}

// TransitionApplied records a committed status transition.
func (c *Collector) TransitionApplied(to database.Status) {
	c.transitionsTotal.WithLabelValues(string(to)).Inc()
}

// Emit records a committed lifecycle event. It implements the pipeline's
// emitter hook; complaints count toward the created total once scored,
// when their band and violation type are known.
func (c *Collector) Emit(_ context.Context, kind string, comp *database.Complaint) {
	switch kind {
	case "pending_dispatch":
		c.AssignmentFailed()
		return
	case "ai_processed":
		c.ComplaintCreated(comp.PriorityBand, comp.ViolationType)
	}
	c.TransitionApplied(comp.Status)
}

// EscalationRaised records a committed level raise. It implements the
// escalation runner's sink hook.
func (c *Collector) EscalationRaised(_ context.Context, _ *database.Complaint, record *database.EscalationRecord, _ string) {
	c.escalationsTotal.WithLabelValues(levelLabel(record.ToLevel)).Inc()
}

// NotificationDispatched records a delivery outcome.
func (c *Collector) NotificationDispatched(channel, status string) {
	c.notificationsTotal.WithLabelValues(channel, status).Inc()
}

// AssignmentFailed records a claim that found no eligible officer.
func (c *Collector) AssignmentFailed() {
	c.assignmentFailures.Inc()
}

// ObserveEscalationPass records one scheduler pass.
func (c *Collector) ObserveEscalationPass(d time.Duration, raised int) {
	c.escalationPassDuration.Observe(d.Seconds())
	c.escalationPassRaised.Add(float64(raised))
}

// SetDashboardGauges mirrors complaint aggregates onto the gauges.
func (c *Collector) SetDashboardGauges(stats *database.DashboardStats) {
	c.activeComplaints.Set(float64(stats.Active))
	c.overdueComplaints.Set(float64(stats.Overdue))
	c.pendingDispatch.Set(float64(stats.PendingDispatch))
	c.criticalOpen.Set(float64(stats.Critical))
	c.waterBodiesAtRisk.Set(float64(stats.WaterBodiesAtRisk))
}

func levelLabel(level int) string {
	switch level {
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3"
	default:
		return "0"
	}
}
