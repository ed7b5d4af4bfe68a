package promotion

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/platform/httpx"
)

// ActionKind is the resolution chosen for a student with outstanding dues.
type ActionKind string

const (
	ActionBlock        ActionKind = "block"
	ActionPayment      ActionKind = "payment"
	ActionWaiver       ActionKind = "waiver"
	ActionCarryForward ActionKind = "carry_forward"
)

// FeeAction is the operator's decision for one student.
type FeeAction struct {
	StudentID     int64           `json:"student_id" validate:"required,gt=0"`
	Kind          ActionKind      `json:"kind" validate:"required,oneof=block payment waiver carry_forward"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	PaymentMethod string          `json:"payment_method,omitempty" validate:"max=32"`
	WaiverReason  string          `json:"waiver_reason,omitempty" validate:"max=500"`
	Notes         string          `json:"notes,omitempty" validate:"max=500"`
}

// Type classifies a promotion record.
type Type string

const (
	TypePromoted Type = "promoted"
	TypeRepeated Type = "repeated"
	TypeDropout  Type = "dropout"
)

// Record is one student's entry in the batch sent to the procedure.
type Record struct {
	StudentID   int64  `json:"student_id"`
	FromClassID int64  `json:"from_class_id"`
	ToClassID   *int64 `json:"to_class_id"`
	FromYearID  int64  `json:"from_academic_year_id"`
	ToYearID    int64  `json:"to_academic_year_id"`
	Type        Type   `json:"promotion_type"`
	Reason      string `json:"reason,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// Tally counts what the dues phase did.
type Tally struct {
	Blocked        int      `json:"blocked"`
	Payments       int      `json:"payments"`
	Waivers        int      `json:"waivers"`
	CarriedForward int      `json:"carried_forward"`
	Errors         []string `json:"errors"`
}

// ProcedureResult is the summary returned by promote_students_with_fees.
type ProcedureResult struct {
	Promoted  int      `json:"promoted"`
	Repeated  int      `json:"repeated"`
	Dropouts  int      `json:"dropouts"`
	Errors    []string `json:"errors"`
	Duplicate bool     `json:"duplicate,omitempty"`
}

// Audit is a persisted summary of one promotion run.
type Audit struct {
	ID             int64     `json:"id"`
	FromYearID     int64     `json:"from_academic_year_id"`
	ToYearID       int64     `json:"to_academic_year_id"`
	ActorID        int64     `json:"actor_id"`
	Payments       int       `json:"payments"`
	Waivers        int       `json:"waivers"`
	CarriedForward int       `json:"carried_forward"`
	Blocked        int       `json:"blocked"`
	Promoted       int       `json:"promoted"`
	Errors         []string  `json:"errors"`
	CreatedAt      time.Time `json:"created_at"`
}

// Result is what a confirmed promotion reports back.
type Result struct {
	Tally     Tally           `json:"tally"`
	Procedure ProcedureResult `json:"procedure"`
	Audit     Audit           `json:"audit"`
}

var (
	// ErrNotReady indicates readiness checks have not passed.
	ErrNotReady = fmt.Errorf("promotion: not ready: %w", httpx.ErrValidation)
	// ErrUnassignedActions indicates affected students still lack an action.
	ErrUnassignedActions = fmt.Errorf("promotion: unassigned dues actions: %w", httpx.ErrValidation)
	// ErrInvalidAction indicates a malformed fee action.
	ErrInvalidAction = fmt.Errorf("promotion: invalid action: %w", httpx.ErrValidation)
	// ErrNotAffected indicates an action for a student without outstanding dues.
	ErrNotAffected = fmt.Errorf("promotion: student has no outstanding dues: %w", httpx.ErrValidation)
	// ErrInvalidTransition indicates a stage change not allowed from the current stage.
	ErrInvalidTransition = fmt.Errorf("promotion: invalid transition: %w", httpx.ErrConflict)
	// ErrSessionClosed indicates the session already completed.
	ErrSessionClosed = fmt.Errorf("promotion: session closed: %w", httpx.ErrConflict)
	// ErrSessionNotFound indicates the session expired or never existed.
	ErrSessionNotFound = fmt.Errorf("promotion: session %w", httpx.ErrNotFound)
	// ErrNotCurrentYear indicates the session's source year is no longer the
	// year flagged current.
	ErrNotCurrentYear = fmt.Errorf("promotion: source year is not current: %w", httpx.ErrConflict)
	// ErrPromotionInProgress indicates another run holds the cohort lock.
	ErrPromotionInProgress = fmt.Errorf("promotion: already in progress: %w", httpx.ErrConflict)
	// ErrProcedureFailed indicates the batch procedure call failed.
	ErrProcedureFailed = fmt.Errorf("promotion: procedure failed: %w", httpx.ErrUpstream)
	// ErrCurrentYearNotSwitched indicates the target year is not current after the switch.
	ErrCurrentYearNotSwitched = errors.New("promotion: promotion committed but current year not switched")
)

// UnassignedError reports how many affected students still need an action.
type UnassignedError struct {
	Count int
}

func (e *UnassignedError) Error() string {
	return fmt.Sprintf("promotion: %d students with outstanding dues have no action", e.Count)
}

func (e *UnassignedError) Unwrap() error { return ErrUnassignedActions }
