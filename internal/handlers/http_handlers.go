// Package handlers exposes the complaint engine over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
	"github.com/aquasentinel/complaint-engine/internal/lifecycle"
	"github.com/aquasentinel/complaint-engine/internal/middleware"
	"github.com/aquasentinel/complaint-engine/internal/scheduler"
)

// Pipeline is the lifecycle surface the handlers drive.
type Pipeline interface {
	Submit(ctx context.Context, req lifecycle.SubmitRequest) (*database.Complaint, error)
	Dispatch(ctx context.Context, complaintID string, actorID *string, actorRole database.Role) (*database.Complaint, error)
	Start(ctx context.Context, complaintID, officerID string) (*database.Complaint, error)
	Resolve(ctx context.Context, complaintID, officerID, note string) (*database.Complaint, error)
	Reject(ctx context.Context, complaintID, actorID string, actorRole database.Role, reason string) (*database.Complaint, error)
}

// ComplaintStore is the read surface over stored complaints.
type ComplaintStore interface {
	GetByID(ctx context.Context, id string) (*database.Complaint, error)
	GetByNumber(ctx context.Context, number string) (*database.Complaint, error)
	ListStatusLog(ctx context.Context, complaintID string) ([]*database.StatusLogEntry, error)
	List(ctx context.Context, filter database.Filter) ([]*database.Complaint, int, error)
	ListByOfficer(ctx context.Context, officerID string, limit int) ([]*database.Complaint, error)
	ListCritical(ctx context.Context, limit int) ([]*database.Complaint, error)
	ListOverdue(ctx context.Context, limit int) ([]*database.Complaint, error)
	GetStats(ctx context.Context, atRiskThreshold float64) (*database.DashboardStats, error)
	Heatmap(ctx context.Context, window time.Duration, limit int) ([]database.HeatmapPoint, error)
}

// EscalationStore is the read surface over escalation history.
type EscalationStore interface {
	ListByComplaint(ctx context.Context, complaintID string) ([]*database.EscalationRecord, error)
	ListRecent(ctx context.Context, window time.Duration, limit int) ([]*database.EscalationRecord, error)
}

// WaterBodyStore is the read surface over the water body mirror.
type WaterBodyStore interface {
	ListAll(ctx context.Context) ([]*database.WaterBody, error)
	ListAtRisk(ctx context.Context, threshold float64, limit int) ([]*database.WaterBody, error)
}

// NotificationStore is the in-app notification surface.
type NotificationStore interface {
	ListByRecipient(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]*database.Notification, error)
	MarkRead(ctx context.Context, id, recipientID string) error
	CountUnread(ctx context.Context, recipientID string) (int, error)
}

// TaskRunner exposes the background scheduler to the API.
type TaskRunner interface {
	Tasks() []scheduler.Task
	RunNow(name string) error
}

// Pinger reports database liveness for the readiness probe.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HTTPHandler handles HTTP requests for the complaint engine.
type HTTPHandler struct {
	cfg           *config.Config
	logger        *slog.Logger
	pipeline      Pipeline
	complaints    ComplaintStore
	escalations   EscalationStore
	waterBodies   WaterBodyStore
	notifications NotificationStore
	tasks         TaskRunner
	db            Pinger
	ws            http.HandlerFunc
	validate      *validator.Validate
}

// NewHTTPHandler creates the HTTP handler. ws may be nil when the realtime
// feed is disabled.
func NewHTTPHandler(
	cfg *config.Config,
	logger *slog.Logger,
	pipeline Pipeline,
	complaints ComplaintStore,
	escalations EscalationStore,
	waterBodies WaterBodyStore,
	notifications NotificationStore,
	tasks TaskRunner,
	db Pinger,
	ws http.HandlerFunc,
) *HTTPHandler {
	return &HTTPHandler{
		cfg:           cfg,
		logger:        logger,
		pipeline:      pipeline,
		complaints:    complaints,
		escalations:   escalations,
		waterBodies:   waterBodies,
		notifications: notifications,
		tasks:         tasks,
		db:            db,
		ws:            ws,
		validate:      validator.New(),
	}
}

// RegisterPublic registers the unauthenticated routes.
func (h *HTTPHandler) RegisterPublic(router *mux.Router) {
	router.HandleFunc("/health", h.handleHealth).Methods("GET")
	router.HandleFunc("/ready", h.handleReady).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/api/v1/complaints", h.handleSubmit).Methods("POST")
	router.HandleFunc("/api/v1/complaints/track/{number}", h.handleTrack).Methods("GET")
}

// RegisterProtected registers the authenticated routes. The caller attaches
// the auth middleware to the router before handing it over.
func (h *HTTPHandler) RegisterProtected(router *mux.Router) {
	officer := middleware.RequireRole(database.RoleOfficer)
	supervisor := middleware.RequireRole(database.RoleSupervisor)
	reviewer := middleware.RequireRole(database.RoleOfficer, database.RoleSupervisor)
	admin := middleware.RequireRole()

	complaints := router.PathPrefix("/complaints").Subrouter()
	complaints.HandleFunc("", h.handleList).Methods("GET")
	complaints.Handle("/assigned/me", officer(http.HandlerFunc(h.handleAssignedToMe))).Methods("GET")
	complaints.Handle("/overdue", supervisor(http.HandlerFunc(h.handleOverdue))).Methods("GET")
	complaints.HandleFunc("/{id}", h.handleGet).Methods("GET")
	complaints.HandleFunc("/{id}/status-log", h.handleStatusLog).Methods("GET")
	complaints.HandleFunc("/{id}/escalations", h.handleEscalations).Methods("GET")
	complaints.Handle("/{id}/start", officer(http.HandlerFunc(h.handleStart))).Methods("POST")
	complaints.Handle("/{id}/resolve", officer(http.HandlerFunc(h.handleResolve))).Methods("POST")
	complaints.Handle("/{id}/reject", reviewer(http.HandlerFunc(h.handleReject))).Methods("POST")
	complaints.Handle("/{id}/assign", supervisor(http.HandlerFunc(h.handleAssign))).Methods("POST")

	dashboard := router.PathPrefix("/dashboard").Subrouter()
	dashboard.HandleFunc("/stats", h.handleStats).Methods("GET")
	dashboard.HandleFunc("/heatmap", h.handleHeatmap).Methods("GET")
	dashboard.HandleFunc("/critical", h.handleCritical).Methods("GET")

	waterBodies := router.PathPrefix("/waterbodies").Subrouter()
	waterBodies.HandleFunc("", h.handleWaterBodies).Methods("GET")
	waterBodies.HandleFunc("/geojson", h.handleWaterBodiesGeoJSON).Methods("GET")
	waterBodies.HandleFunc("/at-risk", h.handleWaterBodiesAtRisk).Methods("GET")

	notifications := router.PathPrefix("/notifications").Subrouter()
	notifications.HandleFunc("", h.handleNotifications).Methods("GET")
	notifications.HandleFunc("/{id}/read", h.handleNotificationRead).Methods("POST")

	schedulerRouter := router.PathPrefix("/scheduler").Subrouter()
	schedulerRouter.Handle("/status", admin(http.HandlerFunc(h.handleSchedulerStatus))).Methods("GET")
	schedulerRouter.Handle("/tasks/{name}/run", admin(http.HandlerFunc(h.handleSchedulerRun))).Methods("POST")
}

// RegisterRealtime registers the websocket feed on an authenticated router.
func (h *HTTPHandler) RegisterRealtime(router *mux.Router) {
	if h.ws == nil {
		return
	}
	router.HandleFunc("/dashboard", h.ws).Methods("GET")
}

// Health and readiness

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "complaint-engine",
		"timestamp": time.Now().UTC(),
	})
}

func (h *HTTPHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		h.writeError(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
	})
}

// Complaint submission and tracking

type submitRequest struct {
	SubmitterID string  `json:"submitter_id" validate:"required,uuid"`
	Category    string  `json:"category" validate:"required,max=100"`
	Description string  `json:"description" validate:"required,max=2000"`
	Latitude    float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude   float64 `json:"longitude" validate:"gte=-180,lte=180"`
	ImageURL    *string `json:"image_url,omitempty" validate:"omitempty,url"`
}

func (h *HTTPHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	complaint, err := h.pipeline.Submit(r.Context(), lifecycle.SubmitRequest{
		SubmitterID: req.SubmitterID,
		Category:    req.Category,
		Description: req.Description,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		ImageURL:    req.ImageURL,
	})
	if err != nil {
		if errors.Is(err, database.ErrOutOfBounds) {
			h.writeError(w, http.StatusUnprocessableEntity,
				"Reported location is not within or near any registered water body")
			return
		}
		h.logger.Error("Failed to submit complaint", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to submit complaint")
		return
	}

	h.writeJSON(w, http.StatusCreated, complaint)
}

func (h *HTTPHandler) handleTrack(w http.ResponseWriter, r *http.Request) {
	number := mux.Vars(r)["number"]

	complaint, err := h.complaints.GetByNumber(r.Context(), number)
	if err != nil {
		h.writeLookupError(w, err, "complaint")
		return
	}

	log, err := h.complaints.ListStatusLog(r.Context(), complaint.ID)
	if err != nil {
		h.logger.Error("Failed to load status log", "complaint_id", complaint.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to load complaint history")
		return
	}

	// Public tracking view: no officer or submitter identities.
	timeline := make([]map[string]interface{}, 0, len(log))
	for _, entry := range log {
		timeline = append(timeline, map[string]interface{}{
			"status": entry.NewStatus,
			"note":   entry.Note,
			"at":     entry.CreatedAt,
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"complaint_number": complaint.ComplaintNumber,
		"status":           complaint.Status,
		"priority_band":    complaint.PriorityBand,
		"escalation_level": complaint.EscalationLevel,
		"sla_deadline":     complaint.SLADeadline,
		"submitted_at":     complaint.CreatedAt,
		"resolved_at":      complaint.ResolvedAt,
		"timeline":         timeline,
	})
}

// Complaint reads

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := h.parseFilter(r)

	complaints, total, err := h.complaints.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list complaints", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list complaints")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"complaints":  complaints,
		"total_count": total,
		"limit":       filter.Limit,
		"offset":      filter.Offset,
	})
}

func (h *HTTPHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	complaint, err := h.complaints.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeLookupError(w, err, "complaint")
		return
	}
	h.writeJSON(w, http.StatusOK, complaint)
}

func (h *HTTPHandler) handleStatusLog(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.complaints.GetByID(r.Context(), id); err != nil {
		h.writeLookupError(w, err, "complaint")
		return
	}

	log, err := h.complaints.ListStatusLog(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list status log", "complaint_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list status log")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"entries": log})
}

func (h *HTTPHandler) handleEscalations(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if _, err := h.complaints.GetByID(r.Context(), id); err != nil {
		h.writeLookupError(w, err, "complaint")
		return
	}

	records, err := h.escalations.ListByComplaint(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to list escalations", "complaint_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list escalations")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"escalations": records})
}

func (h *HTTPHandler) handleAssignedToMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	complaints, err := h.complaints.ListByOfficer(r.Context(), user.ID, h.queryLimit(r, 100))
	if err != nil {
		h.logger.Error("Failed to list assigned complaints", "officer_id", user.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list complaints")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"complaints": complaints})
}

func (h *HTTPHandler) handleOverdue(w http.ResponseWriter, r *http.Request) {
	complaints, err := h.complaints.ListOverdue(r.Context(), h.queryLimit(r, 100))
	if err != nil {
		h.logger.Error("Failed to list overdue complaints", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list complaints")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"complaints": complaints})
}

// Complaint transitions

func (h *HTTPHandler) handleStart(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	complaint, err := h.pipeline.Start(r.Context(), mux.Vars(r)["id"], user.ID)
	if err != nil {
		h.writeTransitionError(w, err, "start")
		return
	}

	h.writeJSON(w, http.StatusOK, complaint)
}

func (h *HTTPHandler) handleResolve(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	complaint, err := h.pipeline.Resolve(r.Context(), mux.Vars(r)["id"], user.ID, req.Note)
	if err != nil {
		h.writeTransitionError(w, err, "resolve")
		return
	}

	h.writeJSON(w, http.StatusOK, complaint)
}

func (h *HTTPHandler) handleReject(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Reason == "" {
		h.writeError(w, http.StatusBadRequest, "Rejection reason is required")
		return
	}

	complaint, err := h.pipeline.Reject(r.Context(), mux.Vars(r)["id"], user.ID, user.Role, req.Reason)
	if err != nil {
		h.writeTransitionError(w, err, "reject")
		return
	}

	h.writeJSON(w, http.StatusOK, complaint)
}

func (h *HTTPHandler) handleAssign(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	actorID := user.ID
	complaint, err := h.pipeline.Dispatch(r.Context(), mux.Vars(r)["id"], &actorID, user.Role)
	if err != nil {
		if errors.Is(err, database.ErrNoEligibleOfficer) {
			h.writeError(w, http.StatusConflict, "No eligible officer available")
			return
		}
		h.writeTransitionError(w, err, "assign")
		return
	}

	h.writeJSON(w, http.StatusOK, complaint)
}

// Dashboard

func (h *HTTPHandler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.complaints.GetStats(r.Context(), h.cfg.Registry.RiskThreshold)
	if err != nil {
		h.logger.Error("Failed to compute dashboard stats", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *HTTPHandler) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 365 {
			days = parsed
		}
	}

	points, err := h.complaints.Heatmap(r.Context(), time.Duration(days)*24*time.Hour, h.queryLimit(r, 2000))
	if err != nil {
		h.logger.Error("Failed to build heatmap", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to build heatmap")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"window_days": days,
		"points":      points,
	})
}

func (h *HTTPHandler) handleCritical(w http.ResponseWriter, r *http.Request) {
	complaints, err := h.complaints.ListCritical(r.Context(), h.queryLimit(r, 50))
	if err != nil {
		h.logger.Error("Failed to list critical complaints", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list complaints")
		return
	}

	window := 7 * 24 * time.Hour
	escalations, err := h.escalations.ListRecent(r.Context(), window, 50)
	if err != nil {
		h.logger.Error("Failed to list recent escalations", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list escalations")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"complaints":         complaints,
		"recent_escalations": escalations,
	})
}

// Water bodies

func (h *HTTPHandler) handleWaterBodies(w http.ResponseWriter, r *http.Request) {
	waterBodies, err := h.waterBodies.ListAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to list water bodies", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list water bodies")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"water_bodies": waterBodies})
}

func (h *HTTPHandler) handleWaterBodiesGeoJSON(w http.ResponseWriter, r *http.Request) {
	waterBodies, err := h.waterBodies.ListAll(r.Context())
	if err != nil {
		h.logger.Error("Failed to list water bodies", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list water bodies")
		return
	}

	features := make([]map[string]interface{}, 0, len(waterBodies))
	for _, wb := range waterBodies {
		if len(wb.Boundary) == 0 {
			continue
		}

		// GeoJSON polygons are explicitly closed.
		ring := make([]database.Coordinate, 0, len(wb.Boundary)+1)
		ring = append(ring, wb.Boundary...)
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}

		features = append(features, map[string]interface{}{
			"type": "Feature",
			"geometry": map[string]interface{}{
				"type":        "Polygon",
				"coordinates": []interface{}{ring},
			},
			"properties": map[string]interface{}{
				"id":                wb.ID,
				"name":              wb.Name,
				"type":              wb.Type,
				"sensitivity_score": wb.SensitivityScore,
				"risk_score":        wb.RiskScore,
				"health_index":      wb.HealthIndex,
				"region":            wb.Region,
			},
		})
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"type":     "FeatureCollection",
		"features": features,
	})
}

func (h *HTTPHandler) handleWaterBodiesAtRisk(w http.ResponseWriter, r *http.Request) {
	waterBodies, err := h.waterBodies.ListAtRisk(r.Context(), h.cfg.Registry.RiskThreshold, h.queryLimit(r, 100))
	if err != nil {
		h.logger.Error("Failed to list at-risk water bodies", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list water bodies")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"threshold":    h.cfg.Registry.RiskThreshold,
		"water_bodies": waterBodies,
	})
}

// Notifications

func (h *HTTPHandler) handleNotifications(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	unreadOnly := r.URL.Query().Get("unread") == "true"

	notifications, err := h.notifications.ListByRecipient(r.Context(), user.ID, unreadOnly, h.queryLimit(r, 50))
	if err != nil {
		h.logger.Error("Failed to list notifications", "recipient_id", user.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	unread, err := h.notifications.CountUnread(r.Context(), user.ID)
	if err != nil {
		h.logger.Error("Failed to count unread notifications", "recipient_id", user.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"unread_count":  unread,
	})
}

func (h *HTTPHandler) handleNotificationRead(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	if err := h.notifications.MarkRead(r.Context(), mux.Vars(r)["id"], user.ID); err != nil {
		h.writeLookupError(w, err, "notification")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"status": "read"})
}

// Scheduler

func (h *HTTPHandler) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": h.tasks.Tasks()})
}

func (h *HTTPHandler) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if err := h.tasks.RunNow(name); err != nil {
		h.writeError(w, http.StatusNotFound, "Unknown task: "+name)
		return
	}

	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"task":   name,
		"status": "triggered",
	})
}

// Helpers

var sortColumns = map[string]bool{
	"created_at":     true,
	"updated_at":     true,
	"severity_score": true,
	"sla_deadline":   true,
	"status":         true,
	"priority_band":  true,
}

func (h *HTTPHandler) parseFilter(r *http.Request) database.Filter {
	q := r.URL.Query()

	filter := database.Filter{
		Limit:   h.queryLimit(r, 50),
		Filters: make(map[string]interface{}),
	}

	if v := q.Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	if v := q.Get("sort_by"); sortColumns[v] {
		filter.SortBy = v
	}
	if v := q.Get("sort_order"); v == "asc" || v == "desc" {
		filter.SortOrder = v
	}

	for _, key := range []string{"status", "priority_band", "violation_type", "water_body_id", "submitter_id", "assigned_officer_id", "search"} {
		if v := q.Get(key); v != "" {
			filter.Filters[key] = v
		}
	}

	if q.Get("escalated") == "true" {
		filter.Filters["escalated"] = true
	}
	if q.Get("overdue") == "true" {
		filter.Filters["overdue"] = true
	}

	if v := q.Get("date_from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.DateFrom = &t
		}
	}
	if v := q.Get("date_to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.DateTo = &t
		}
	}

	return filter
}

func (h *HTTPHandler) queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 && limit <= 1000 {
			return limit
		}
	}
	return def
}

func (h *HTTPHandler) writeTransitionError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "Complaint not found")
	case errors.Is(err, database.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "Complaint is not in a state that allows this action")
	default:
		h.logger.Error("Transition failed", "action", action, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Failed to "+action+" complaint")
	}
}

func (h *HTTPHandler) writeLookupError(w http.ResponseWriter, err error, kind string) {
	if errors.Is(err, database.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "Not found")
		return
	}
	h.logger.Error("Lookup failed", "kind", kind, "error", err)
	h.writeError(w, http.StatusInternalServerError, "Lookup failed")
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error":  message,
		"status": status,
	})
}
