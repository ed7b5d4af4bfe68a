package promotion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/campusledger/campusledger/internal/academic"
	"github.com/campusledger/campusledger/internal/fees"
	"github.com/campusledger/campusledger/internal/shared"
)

// Directory is the academic data the service reads.
type Directory interface {
	ReadinessReader
	GetYear(ctx context.Context, id int64) (academic.AcademicYear, error)
}

// DuesSource computes outstanding dues for a cohort.
type DuesSource interface {
	Calculate(ctx context.Context, currentYearID int64, studentIDs []int64) (map[int64]fees.OutstandingDue, error)
}

// AuditLister pages through promotion audits.
type AuditLister interface {
	ListAudits(ctx context.Context, limit, offset int) ([]Audit, int, error)
}

// Runner executes a confirmed promotion.
type Runner interface {
	Execute(ctx context.Context, in ExecuteInput) (Result, error)
}

// SessionView is a session plus the values derived for display.
type SessionView struct {
	*Session
	Unassigned int          `json:"unassigned"`
	Counts     ActionCounts `json:"counts"`
}

func view(s *Session) SessionView {
	return SessionView{Session: s, Unassigned: s.Unassigned(), Counts: s.Counts()}
}

// AuditPage is a page of audits.
type AuditPage struct {
	Audits     []Audit           `json:"audits"`
	Pagination shared.Pagination `json:"pagination"`
}

// Service drives the promotion workflow end to end.
type Service struct {
	directory Directory
	validator *Validator
	dues      DuesSource
	store     SessionStore
	runner    Runner
	audits    AuditLister
	notifier  shared.Notifier
	logger    *slog.Logger
}

// NewService wires a Service. notifier may be nil.
func NewService(directory Directory, dues DuesSource, store SessionStore, runner Runner, audits AuditLister, notifier shared.Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		directory: directory,
		validator: NewValidator(directory),
		dues:      dues,
		store:     store,
		runner:    runner,
		audits:    audits,
		notifier:  notifier,
		logger:    logger,
	}
}

// StartSession validates the years, runs readiness and stores a new session.
// currentYearID must name the year flagged current.
func (s *Service) StartSession(ctx context.Context, currentYearID, targetYearID int64) (SessionView, error) {
	if err := s.requireCurrent(ctx, currentYearID); err != nil {
		return SessionView{}, err
	}
	if _, err := s.directory.GetYear(ctx, targetYearID); err != nil {
		return SessionView{}, err
	}
	sess := NewSession(currentYearID, targetYearID)
	if err := s.refreshReadiness(ctx, sess); err != nil {
		return SessionView{}, err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return SessionView{}, err
	}
	return view(sess), nil
}

// GetSession loads a session.
func (s *Service) GetSession(ctx context.Context, id string) (SessionView, error) {
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	return view(sess), nil
}

// Advance moves the session forward. Leaving validation loads dues.
func (s *Service) Advance(ctx context.Context, id string) (SessionView, error) {
	return s.mutate(ctx, id, func(sess *Session) error {
		if sess.Stage == StageValidation {
			if err := s.refreshReadiness(ctx, sess); err != nil {
				return err
			}
			if err := sess.Advance(); err != nil {
				return err
			}
			return s.loadDues(ctx, sess)
		}
		return sess.Advance()
	})
}

// Back moves the session one stage back.
func (s *Service) Back(ctx context.Context, id string) (SessionView, error) {
	return s.mutate(ctx, id, func(sess *Session) error { return sess.Back() })
}

// Assign records an action for one student.
func (s *Service) Assign(ctx context.Context, id string, action FeeAction) (SessionView, error) {
	return s.mutate(ctx, id, func(sess *Session) error { return sess.Assign(action) })
}

// Confirm executes the promotion for a session at the confirmation stage.
func (s *Service) Confirm(ctx context.Context, id string, actorID int64) (Result, error) {
	if actorID <= 0 {
		return Result{}, shared.ErrActorRequired
	}
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if sess.Stage == StageCompleted {
		return Result{}, ErrSessionClosed
	}
	if sess.Stage != StageConfirmation {
		return Result{}, fmt.Errorf("%w: session is in %s", ErrInvalidTransition, sess.Stage)
	}
	if err := s.requireCurrent(ctx, sess.CurrentYearID); err != nil {
		return Result{}, err
	}
	readiness, err := s.validator.Check(ctx, sess.CurrentYearID, sess.TargetYearID)
	if err != nil {
		return Result{}, s.readFailure(ctx, err)
	}
	if !readiness.ReadyForPromotion {
		return Result{}, ErrNotReady
	}
	students, err := s.directory.ListStudents(ctx, academic.StudentFilter{Status: academic.StudentActive})
	if err != nil {
		return Result{}, s.readFailure(ctx, err)
	}
	classes, err := s.directory.ListClasses(ctx)
	if err != nil {
		return Result{}, s.readFailure(ctx, err)
	}

	res, err := s.runner.Execute(ctx, ExecuteInput{
		CurrentYearID: sess.CurrentYearID,
		TargetYearID:  sess.TargetYearID,
		ActorID:       actorID,
		Students:      students,
		Classes:       classes,
		Actions:       sess.Actions,
		Dues:          sess.Dues,
	})
	if err != nil {
		return res, err
	}
	if err := sess.MarkCompleted(); err != nil {
		return res, err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		s.logger.Warn("save completed promotion session", slog.String("session_id", sess.ID), slog.Any("error", err))
	}
	return res, nil
}

// ListAudits returns a page of promotion audits.
func (s *Service) ListAudits(ctx context.Context, page, perPage int) (AuditPage, error) {
	p := shared.NewPagination(page, perPage, 0)
	audits, total, err := s.audits.ListAudits(ctx, p.PerPage, p.Offset())
	if err != nil {
		return AuditPage{}, err
	}
	if audits == nil {
		audits = []Audit{}
	}
	return AuditPage{Audits: audits, Pagination: shared.NewPagination(p.Page, p.PerPage, total)}, nil
}

func (s *Service) requireCurrent(ctx context.Context, yearID int64) error {
	year, err := s.directory.GetYear(ctx, yearID)
	if err != nil {
		return err
	}
	if !year.IsCurrent {
		return fmt.Errorf("%w: %s", ErrNotCurrentYear, year.Name)
	}
	return nil
}

func (s *Service) mutate(ctx context.Context, id string, fn func(*Session) error) (SessionView, error) {
	sess, err := s.store.Load(ctx, id)
	if err != nil {
		return SessionView{}, err
	}
	if err := fn(sess); err != nil {
		return SessionView{}, err
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return SessionView{}, err
	}
	return view(sess), nil
}

func (s *Service) refreshReadiness(ctx context.Context, sess *Session) error {
	r, err := s.validator.Check(ctx, sess.CurrentYearID, sess.TargetYearID)
	if err != nil {
		return s.readFailure(ctx, err)
	}
	return sess.ApplyReadiness(r)
}

func (s *Service) loadDues(ctx context.Context, sess *Session) error {
	students, err := s.directory.ListStudents(ctx, academic.StudentFilter{Status: academic.StudentActive})
	if err != nil {
		return s.readFailure(ctx, err)
	}
	ids := make([]int64, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}
	dues, err := s.dues.Calculate(ctx, sess.CurrentYearID, ids)
	if err != nil {
		return s.readFailure(ctx, err)
	}
	return sess.LoadDues(dues)
}

func (s *Service) readFailure(ctx context.Context, err error) error {
	if s.notifier != nil {
		n := shared.Notification{Title: "Could not load promotion data", Description: err.Error(), Variant: shared.VariantDestructive}
		if nerr := s.notifier.Notify(ctx, n); nerr != nil {
			s.logger.Warn("promotion notification", slog.Any("error", nerr))
		}
	}
	return err
}
