package database

import "errors"

// Domain errors surfaced by the lifecycle engine. Callers match them with
// errors.Is; repositories and services wrap them with context via fmt.Errorf.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrOutOfBounds is returned when a reported location fails geo-fence
	// validation against every candidate water body. The complaint is not
	// created.
	ErrOutOfBounds = errors.New("reported location is outside all candidate water body boundaries")

	// ErrClassificationUnavailable is returned by the classifier collaborator
	// when it cannot produce a result. The pipeline degrades to unknown/low
	// scoring instead of failing.
	ErrClassificationUnavailable = errors.New("classification unavailable")

	// ErrNoEligibleOfficer is returned when no active officer exists to claim
	// a complaint. The complaint stays in ai_processed for manual dispatch.
	ErrNoEligibleOfficer = errors.New("no eligible officer available")

	// ErrInvalidTransition is returned when a status change is not in the
	// transition table or lost a concurrent race. Nothing is mutated and no
	// status log entry is written.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEscalationRaceSkipped signals that a complaint already holds the
	// target escalation level or higher. It is an idempotency no-op, not a
	// failure.
	ErrEscalationRaceSkipped = errors.New("escalation level already applied")
)
