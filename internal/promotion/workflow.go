package promotion

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/campusledger/campusledger/internal/fees"
)

// Stage is a step of the dues resolution workflow.
type Stage string

const (
	StageValidation   Stage = "validation"
	StageOutstanding  Stage = "outstanding"
	StageConfirmation Stage = "confirmation"
	StageCompleted    Stage = "completed"
)

var validate = validator.New()

// Session is the state of one operator's promotion dialog. It is not safe
// for concurrent use.
type Session struct {
	ID            string                        `json:"id"`
	CurrentYearID int64                         `json:"current_year_id"`
	TargetYearID  int64                         `json:"target_year_id"`
	Stage         Stage                         `json:"stage"`
	Readiness     *Readiness                    `json:"readiness,omitempty"`
	DuesLoaded    bool                          `json:"dues_loaded"`
	Dues          map[int64]fees.OutstandingDue `json:"dues"`
	Actions       map[int64]FeeAction           `json:"actions"`
	CreatedAt     time.Time                     `json:"created_at"`
}

// NewSession starts a workflow at the validation stage.
func NewSession(currentYearID, targetYearID int64) *Session {
	return &Session{
		ID:            uuid.NewString(),
		CurrentYearID: currentYearID,
		TargetYearID:  targetYearID,
		Stage:         StageValidation,
		Dues:          map[int64]fees.OutstandingDue{},
		Actions:       map[int64]FeeAction{},
		CreatedAt:     time.Now().UTC(),
	}
}

func (s *Session) requireStage(stage Stage) error {
	if s.Stage == StageCompleted {
		return ErrSessionClosed
	}
	if s.Stage != stage {
		return fmt.Errorf("%w: session is in %s", ErrInvalidTransition, s.Stage)
	}
	return nil
}

// ApplyReadiness stores the latest readiness check.
func (s *Session) ApplyReadiness(r Readiness) error {
	if err := s.requireStage(StageValidation); err != nil {
		return err
	}
	s.Readiness = &r
	return nil
}

// LoadDues records the outstanding dues of the cohort. Students without
// positive dues are dropped and stale actions are discarded.
func (s *Session) LoadDues(dues map[int64]fees.OutstandingDue) error {
	if err := s.requireStage(StageOutstanding); err != nil {
		return err
	}
	s.Dues = make(map[int64]fees.OutstandingDue, len(dues))
	for id, due := range dues {
		if due.TotalDues.IsPositive() {
			s.Dues[id] = due
		}
	}
	for id := range s.Actions {
		if _, ok := s.Dues[id]; !ok {
			delete(s.Actions, id)
		}
	}
	s.DuesLoaded = true
	return nil
}

// AffectedStudents returns the ids of students with outstanding dues, ascending.
func (s *Session) AffectedStudents() []int64 {
	ids := make([]int64, 0, len(s.Dues))
	for id := range s.Dues {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Assign sets or replaces the action for an affected student.
func (s *Session) Assign(action FeeAction) error {
	if err := s.requireStage(StageOutstanding); err != nil {
		return err
	}
	if err := validate.Struct(action); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s failed on %s", ErrInvalidAction, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	due, ok := s.Dues[action.StudentID]
	if !ok {
		return ErrNotAffected
	}
	switch action.Kind {
	case ActionPayment:
		if !action.PaymentAmount.IsPositive() {
			return fmt.Errorf("%w: payment amount must be positive", ErrInvalidAction)
		}
		rep, _ := due.Representative()
		if action.PaymentAmount.GreaterThan(rep.Balance) {
			return fmt.Errorf("%w: payment %s exceeds balance %s of %s %s", ErrInvalidAction,
				action.PaymentAmount.StringFixed(2), rep.Balance.StringFixed(2), rep.YearName, rep.FeeType)
		}
	case ActionWaiver:
		if action.WaiverReason == "" {
			return fmt.Errorf("%w: waiver reason required", ErrInvalidAction)
		}
	}
	s.Actions[action.StudentID] = action
	return nil
}

// Unassigned counts affected students without an action.
func (s *Session) Unassigned() int {
	n := 0
	for id := range s.Dues {
		if _, ok := s.Actions[id]; !ok {
			n++
		}
	}
	return n
}

// Advance moves validation to outstanding, or outstanding to confirmation.
func (s *Session) Advance() error {
	if s.Stage == StageCompleted {
		return ErrSessionClosed
	}
	switch s.Stage {
	case StageValidation:
		if s.Readiness == nil || !s.Readiness.ReadyForPromotion {
			return ErrNotReady
		}
		s.Stage = StageOutstanding
		s.DuesLoaded = false
		return nil
	case StageOutstanding:
		if !s.DuesLoaded {
			return fmt.Errorf("%w: dues not loaded", ErrInvalidTransition)
		}
		if n := s.Unassigned(); n > 0 {
			return &UnassignedError{Count: n}
		}
		s.Stage = StageConfirmation
		return nil
	default:
		return fmt.Errorf("%w: cannot advance from %s", ErrInvalidTransition, s.Stage)
	}
}

// Back returns to the previous stage.
func (s *Session) Back() error {
	switch s.Stage {
	case StageCompleted:
		return ErrSessionClosed
	case StageConfirmation:
		s.Stage = StageOutstanding
		return nil
	case StageOutstanding:
		s.Stage = StageValidation
		return nil
	default:
		return fmt.Errorf("%w: cannot go back from %s", ErrInvalidTransition, s.Stage)
	}
}

// ActionCounts aggregates assigned actions per kind.
type ActionCounts struct {
	Block        int `json:"block"`
	Payment      int `json:"payment"`
	Waiver       int `json:"waiver"`
	CarryForward int `json:"carry_forward"`
}

// Counts returns the aggregate shown on the confirmation step.
func (s *Session) Counts() ActionCounts {
	var c ActionCounts
	for _, a := range s.Actions {
		switch a.Kind {
		case ActionBlock:
			c.Block++
		case ActionPayment:
			c.Payment++
		case ActionWaiver:
			c.Waiver++
		case ActionCarryForward:
			c.CarryForward++
		}
	}
	return c
}

// MarkCompleted closes the session after a confirmed execution.
func (s *Session) MarkCompleted() error {
	if err := s.requireStage(StageConfirmation); err != nil {
		return err
	}
	s.Stage = StageCompleted
	return nil
}
