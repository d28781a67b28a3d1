package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aquasentinel/complaint-engine/internal/classifier"
	"github.com/aquasentinel/complaint-engine/internal/config"
	"github.com/aquasentinel/complaint-engine/internal/database"
	"github.com/aquasentinel/complaint-engine/internal/geo"
	"github.com/aquasentinel/complaint-engine/internal/scoring"
)

// Store is the slice of the complaint repository the pipeline drives. Every
// Mark*/Start/Resolve/Reject call updates the status row and appends the
// audit entry atomically, failing with ErrInvalidTransition when the guard
// does not match.
type Store interface {
	NextComplaintNumber(ctx context.Context, now time.Time) (string, error)
	Create(ctx context.Context, c *database.Complaint) error
	GetByID(ctx context.Context, id string) (*database.Complaint, error)
	MarkValidated(ctx context.Context, id, geoResult string, waterBodyID *string, note string) error
	MarkAIProcessed(ctx context.Context, id string, violation database.ViolationType, confidence float64, urgency database.Urgency, severityScore int, band database.Band, note string) error
	DensityCount(ctx context.Context, lat, lon, radiusKm float64, window time.Duration) (int, error)
	Start(ctx context.Context, id, officerID string) error
	Resolve(ctx context.Context, id, officerID, note string) error
	Reject(ctx context.Context, id string, from database.Status, actorID string, actorRole database.Role, reason string) error
}

// Matcher resolves a reported point to a water body, or to an unclassified
// location, or to ErrOutOfBounds when every candidate rejects it.
type Matcher interface {
	Match(ctx context.Context, p geo.Point) (*database.WaterBody, geo.Result, error)
}

// OfficerAssigner claims an officer and moves the complaint to assigned.
type OfficerAssigner interface {
	Assign(ctx context.Context, c *database.Complaint, actorID *string, actorRole database.Role) (string, error)
}

// Emitter receives lifecycle events after their transition committed. The
// event producer, the notification manager and the realtime feed implement
// it; emit failures are theirs to log, never the pipeline's to retry.
type Emitter interface {
	Emit(ctx context.Context, kind string, c *database.Complaint)
}

// Event kinds emitted on transitions. Escalation events are emitted by the
// escalation runner, not here.
const (
	EventSubmitted  = "submitted"
	EventValidated  = "validated"
	EventScored     = "ai_processed"
	EventAssigned   = "assigned"
	EventInProgress = "in_progress"
	EventResolved   = "resolved"
	EventRejected   = "rejected"
	EventPending    = "pending_dispatch"
)

// SubmitRequest carries a citizen submission into the pipeline.
type SubmitRequest struct {
	SubmitterID string
	Category    string
	Description string
	Latitude    float64
	Longitude   float64
	ImageURL    *string
}

// Service drives complaints through the state machine: geo validation,
// classification, severity scoring, deadline stamping and officer
// assignment on the way in; officer-initiated transitions afterwards.
type Service struct {
	store      Store
	matcher    Matcher
	classifier classifier.Classifier
	scorer     *scoring.Scorer
	assigner   OfficerAssigner
	emitters   []Emitter
	scoringCfg config.ScoringConfig
	now        func() time.Time
	logger     *slog.Logger
}

// NewService wires the submission pipeline.
func NewService(
	store Store,
	matcher Matcher,
	cls classifier.Classifier,
	scorer *scoring.Scorer,
	assigner OfficerAssigner,
	scoringCfg config.ScoringConfig,
	logger *slog.Logger,
	emitters ...Emitter,
) *Service {
	return &Service{
		store:      store,
		matcher:    matcher,
		classifier: cls,
		scorer:     scorer,
		assigner:   assigner,
		emitters:   emitters,
		scoringCfg: scoringCfg,
		now:        time.Now,
		logger:     logger,
	}
}

// WithClock overrides the service clock for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Submit runs the intake pipeline. A location every candidate water body
// rejects fails with ErrOutOfBounds and creates nothing. Otherwise the
// complaint is created, validated, classified (degrading to unknown/low when
// the classifier is unavailable), scored and assigned. When no eligible
// officer exists the complaint is returned in ai_processed, flagged for
// manual dispatch rather than failed.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*database.Complaint, error) {
	point := geo.Point{Lat: req.Latitude, Lon: req.Longitude}

	waterBody, geoResult, err := s.matcher.Match(ctx, point)
	if err != nil {
		if errors.Is(err, database.ErrOutOfBounds) {
			return nil, database.ErrOutOfBounds
		}
		return nil, fmt.Errorf("failed to match water body: %w", err)
	}

	number, err := s.store.NextComplaintNumber(ctx, s.now())
	if err != nil {
		return nil, err
	}

	c := &database.Complaint{
		ID:              uuid.NewString(),
		ComplaintNumber: number,
		SubmitterID:     req.SubmitterID,
		Category:        req.Category,
		Description:     req.Description,
		Latitude:        req.Latitude,
		Longitude:       req.Longitude,
		ImageURL:        req.ImageURL,
	}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	s.emit(ctx, EventSubmitted, c)

	// submitted -> validated. Unclassified locations pass through with the
	// validation skipped rather than rejected.
	var waterBodyID *string
	note := "Location could not be matched to a registered water body"
	if waterBody != nil {
		waterBodyID = &waterBody.ID
		note = fmt.Sprintf("Location matched to %s (%s)", waterBody.Name, geoResult)
	}
	if err := s.store.MarkValidated(ctx, c.ID, string(geoResult), waterBodyID, note); err != nil {
		return nil, err
	}
	c.Status = database.StatusValidated
	c.GeoResult = string(geoResult)
	c.WaterBodyID = waterBodyID
	s.emit(ctx, EventValidated, c)

	// validated -> ai_processed. The classifier runs outside any lock.
	verdict := s.classify(ctx, req)
	score, band := s.scorer.Score(scoring.Input{
		ViolationType: verdict.ViolationType,
		Urgency:       verdict.Urgency,
		Sensitivity:   sensitivity(waterBody),
		DensityCount:  s.density(ctx, req.Latitude, req.Longitude),
	})

	scoreNote := fmt.Sprintf("Classified as %s (confidence %.2f), severity %d (%s)",
		verdict.ViolationType, verdict.Confidence, score, band)
	if err := s.store.MarkAIProcessed(ctx, c.ID, verdict.ViolationType, verdict.Confidence, verdict.Urgency, score, band, scoreNote); err != nil {
		return nil, err
	}
	c.Status = database.StatusAIProcessed
	c.ViolationType = verdict.ViolationType
	c.Confidence = verdict.Confidence
	c.Urgency = verdict.Urgency
	c.SeverityScore = score
	c.PriorityBand = band
	s.emit(ctx, EventScored, c)

	// ai_processed -> assigned. No eligible officer is not fatal; the
	// dispatch retry task and manual trigger pick the complaint up later.
	if err := s.assign(ctx, c, nil, database.RoleSystem); err != nil {
		if errors.Is(err, database.ErrNoEligibleOfficer) {
			s.logger.Warn("No eligible officer, complaint pending dispatch",
				"complaint_id", c.ID, "complaint_number", c.ComplaintNumber)
			s.emit(ctx, EventPending, c)
			return c, nil
		}
		return nil, err
	}

	return c, nil
}

// Dispatch re-attempts officer assignment for a complaint stuck in
// ai_processed. Supervisors trigger it manually; the scheduler's retry task
// calls it for aged complaints.
func (s *Service) Dispatch(ctx context.Context, complaintID string, actorID *string, actorRole database.Role) (*database.Complaint, error) {
	c, err := s.store.GetByID(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	if c.Status != database.StatusAIProcessed {
		return nil, database.ErrInvalidTransition
	}

	if err := s.assign(ctx, c, actorID, actorRole); err != nil {
		return nil, err
	}
	return c, nil
}

// Start moves a complaint to in_progress on behalf of its assigned officer.
func (s *Service) Start(ctx context.Context, complaintID, officerID string) (*database.Complaint, error) {
	if err := s.store.Start(ctx, complaintID, officerID); err != nil {
		return nil, err
	}

	c, err := s.store.GetByID(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventInProgress, c)
	return c, nil
}

// Resolve closes a complaint with a resolution note. The note is required;
// resolution never lowers the escalation level, the history stays.
func (s *Service) Resolve(ctx context.Context, complaintID, officerID, note string) (*database.Complaint, error) {
	if note == "" {
		return nil, fmt.Errorf("resolution note required: %w", database.ErrInvalidTransition)
	}
	if err := s.store.Resolve(ctx, complaintID, officerID, note); err != nil {
		return nil, err
	}

	c, err := s.store.GetByID(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventResolved, c)
	return c, nil
}

// Reject terminally invalidates a complaint from assigned or in_progress.
func (s *Service) Reject(ctx context.Context, complaintID, actorID string, actorRole database.Role, reason string) (*database.Complaint, error) {
	c, err := s.store.GetByID(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(c.Status, database.StatusRejected) {
		return nil, database.ErrInvalidTransition
	}

	if err := s.store.Reject(ctx, complaintID, c.Status, actorID, actorRole, reason); err != nil {
		return nil, err
	}

	c, err = s.store.GetByID(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, EventRejected, c)
	return c, nil
}

func (s *Service) assign(ctx context.Context, c *database.Complaint, actorID *string, actorRole database.Role) error {
	officerID, err := s.assigner.Assign(ctx, c, actorID, actorRole)
	if err != nil {
		return err
	}

	// Reload for the stamped deadline and officer before emitting.
	fresh, err := s.store.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}
	*c = *fresh

	s.emit(ctx, EventAssigned, c)
	s.logger.Info("Complaint entered assigned",
		"complaint_id", c.ID, "officer_id", officerID, "sla_deadline", c.SLADeadline)
	return nil
}

// classify calls the collaborator and degrades on unavailability.
func (s *Service) classify(ctx context.Context, req SubmitRequest) classifier.Output {
	imageURL := ""
	if req.ImageURL != nil {
		imageURL = *req.ImageURL
	}

	verdict, err := s.classifier.Classify(ctx, imageURL, req.Category)
	if err != nil {
		if !errors.Is(err, database.ErrClassificationUnavailable) {
			s.logger.Error("Classifier failed", "error", err)
		}
		s.logger.Warn("Classification unavailable, degrading to unknown/low")
		return classifier.Degraded()
	}
	return verdict
}

// density counts prior complaints near the point. A failed count scores as
// zero density rather than blocking intake.
func (s *Service) density(ctx context.Context, lat, lon float64) int {
	window := time.Duration(s.scoringCfg.DensityWindowDays) * 24 * time.Hour
	count, err := s.store.DensityCount(ctx, lat, lon, s.scoringCfg.DensityRadiusKm, window)
	if err != nil {
		s.logger.Warn("Density count failed, scoring as zero", "error", err)
		return 0
	}
	return count
}

func (s *Service) emit(ctx context.Context, kind string, c *database.Complaint) {
	for _, e := range s.emitters {
		e.Emit(ctx, kind, c)
	}
}

func sensitivity(wb *database.WaterBody) float64 {
	if wb == nil {
		return 0
	}
	return wb.SensitivityScore
}
