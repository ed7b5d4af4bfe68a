package promotion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/campusledger/campusledger/internal/academic"
	"github.com/campusledger/campusledger/internal/fees"
	"github.com/campusledger/campusledger/internal/shared"
)

var keyNamespace = uuid.MustParse("6f1c53d2-7c1e-4b7a-9d51-2e6a8a0f4c11")

// ActionKey is the idempotency key guarding one dues write.
func ActionKey(targetYearID, studentID int64, kind ActionKind) string {
	return uuid.NewSHA1(keyNamespace, []byte(fmt.Sprintf("dues:%d:%d:%s", targetYearID, studentID, kind))).String()
}

// BatchKey is the idempotency key passed to the procedure for a cohort.
func BatchKey(currentYearID, targetYearID int64, studentIDs []int64) string {
	ids := make([]int64, len(studentIDs))
	copy(ids, studentIDs)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return uuid.NewSHA1(keyNamespace, []byte(fmt.Sprintf("batch:%d:%d:%s", currentYearID, targetYearID, strings.Join(parts, ",")))).String()
}

// Procedures wraps the server-side batch call and the audit table.
type Procedures interface {
	PromoteStudents(ctx context.Context, batch []Record, targetYearID, actorID int64, key string) (ProcedureResult, error)
	InsertAudit(ctx context.Context, audit Audit) (Audit, error)
}

// YearSwitcher flips and re-reads the current academic year.
type YearSwitcher interface {
	SetCurrentYear(ctx context.Context, id int64) error
	GetYear(ctx context.Context, id int64) (academic.AcademicYear, error)
}

// ClassMapper resolves the class a student moves into.
type ClassMapper interface {
	TargetClass(from academic.Class) *int64
}

// AuditRecorder persists generic audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Observer receives promotion outcomes for metrics.
type Observer interface {
	ObserveDuesAction(kind, outcome string)
	ObservePromotion(outcome string, elapsed time.Duration)
}

// LevelClassMapper maps a class to the one a level higher in the same section.
type LevelClassMapper struct {
	next map[int64]int64
}

// NewLevelClassMapper indexes classes by level and section.
func NewLevelClassMapper(classes []academic.Class) LevelClassMapper {
	type slot struct {
		level   int
		section string
	}
	bySlot := make(map[slot]int64, len(classes))
	for _, c := range classes {
		if lvl, ok := c.Level(); ok {
			bySlot[slot{lvl, strings.ToLower(strings.TrimSpace(c.Section))}] = c.ID
		}
	}
	next := make(map[int64]int64, len(classes))
	for _, c := range classes {
		lvl, ok := c.Level()
		if !ok {
			continue
		}
		if id, ok := bySlot[slot{lvl + 1, strings.ToLower(strings.TrimSpace(c.Section))}]; ok {
			next[c.ID] = id
		}
	}
	return LevelClassMapper{next: next}
}

// TargetClass implements ClassMapper. Nil means no mapping is known.
func (m LevelClassMapper) TargetClass(from academic.Class) *int64 {
	id, ok := m.next[from.ID]
	if !ok {
		return nil
	}
	return &id
}

// ExecuteInput carries everything one promotion run needs.
type ExecuteInput struct {
	CurrentYearID int64
	TargetYearID  int64
	ActorID       int64
	Students      []academic.Student
	Classes       []academic.Class
	Actions       map[int64]FeeAction
	Dues          map[int64]fees.OutstandingDue
	Mapper        ClassMapper
}

// Executor applies dues actions, submits the batch and switches the year.
type Executor struct {
	ledger     fees.LedgerWriter
	procedures Procedures
	years      YearSwitcher
	locker     *shared.Locker
	lockTTL    time.Duration
	audit      AuditRecorder
	notifier   shared.Notifier
	observer   Observer
	formatter  fees.Formatter
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor wires an Executor. audit, notifier and observer are optional
// and may be set afterwards. ledger claims each action's idempotency key in
// the transaction that applies it.
func NewExecutor(ledger fees.LedgerWriter, procedures Procedures, years YearSwitcher, locker *shared.Locker, lockTTL time.Duration, logger *slog.Logger) *Executor {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		ledger:     ledger,
		procedures: procedures,
		years:      years,
		locker:     locker,
		lockTTL:    lockTTL,
		formatter:  fees.NewFormatter("en-IN", "₹"),
		logger:     logger,
		now:        time.Now,
	}
}

// WithAudit sets the generic audit recorder.
func (e *Executor) WithAudit(audit AuditRecorder) { e.audit = audit }

// WithNotifier sets the operator notifier.
func (e *Executor) WithNotifier(n shared.Notifier) { e.notifier = n }

// WithObserver sets the metrics observer.
func (e *Executor) WithObserver(o Observer) { e.observer = o }

// WithFormatter sets the formatter used for carry-forward notes.
func (e *Executor) WithFormatter(f fees.Formatter) { e.formatter = f }

// WithNow overrides the clock for deterministic tests.
func (e *Executor) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// Execute runs a confirmed promotion. Dues writes already applied are not
// undone when a later step fails. The source year must still be current once
// the cohort lock is held.
func (e *Executor) Execute(ctx context.Context, in ExecuteInput) (Result, error) {
	started := e.now()
	lock, err := e.locker.Acquire(ctx, shared.PromotionLockKey(in.CurrentYearID), e.lockTTL)
	if err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return Result{}, ErrPromotionInProgress
		}
		return Result{}, err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("release promotion lock", slog.Any("error", err))
		}
	}()
	from, err := e.years.GetYear(ctx, in.CurrentYearID)
	if err != nil {
		return Result{}, err
	}
	if !from.IsCurrent {
		return Result{}, fmt.Errorf("%w: %s", ErrNotCurrentYear, from.Name)
	}

	res, err := e.execute(ctx, in)
	outcome := "success"
	if err != nil {
		outcome = "failure"
		e.notify(ctx, shared.Notification{Title: "Promotion failed", Description: err.Error(), Variant: shared.VariantDestructive})
	} else {
		desc := fmt.Sprintf("%d promoted, %d blocked, %d payments, %d waivers, %d carried forward, %d errors",
			res.Procedure.Promoted, res.Tally.Blocked, res.Tally.Payments, res.Tally.Waivers, res.Tally.CarriedForward, len(res.Tally.Errors))
		e.notify(ctx, shared.Notification{Title: "Promotion completed", Description: desc, Variant: shared.VariantDefault})
	}
	if e.observer != nil {
		e.observer.ObservePromotion(outcome, e.now().Sub(started))
	}
	return res, err
}

func (e *Executor) execute(ctx context.Context, in ExecuteInput) (Result, error) {
	var res Result
	res.Tally = e.processDues(ctx, in)

	batch := e.buildBatch(in)
	ids := make([]int64, len(batch))
	for i, rec := range batch {
		ids[i] = rec.StudentID
	}
	proc, err := e.procedures.PromoteStudents(ctx, batch, in.TargetYearID, in.ActorID, BatchKey(in.CurrentYearID, in.TargetYearID, ids))
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrProcedureFailed, err)
	}
	res.Procedure = proc

	if err := e.years.SetCurrentYear(ctx, in.TargetYearID); err != nil {
		return res, fmt.Errorf("%w: %w", ErrCurrentYearNotSwitched, err)
	}
	year, err := e.years.GetYear(ctx, in.TargetYearID)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrCurrentYearNotSwitched, err)
	}
	if !year.IsCurrent {
		return res, ErrCurrentYearNotSwitched
	}

	errs := append(append([]string{}, res.Tally.Errors...), proc.Errors...)
	audit, err := e.procedures.InsertAudit(ctx, Audit{
		FromYearID:     in.CurrentYearID,
		ToYearID:       in.TargetYearID,
		ActorID:        in.ActorID,
		Payments:       res.Tally.Payments,
		Waivers:        res.Tally.Waivers,
		CarriedForward: res.Tally.CarriedForward,
		Blocked:        res.Tally.Blocked,
		Promoted:       proc.Promoted,
		Errors:         errs,
	})
	if err != nil {
		return res, fmt.Errorf("write promotion audit: %w", err)
	}
	res.Audit = audit

	if e.audit != nil {
		err := e.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "PROMOTE",
			Entity:   "academic_year",
			EntityID: strconv.FormatInt(in.TargetYearID, 10),
			Meta: map[string]any{
				"from_year_id": in.CurrentYearID,
				"promoted":     proc.Promoted,
				"blocked":      res.Tally.Blocked,
				"audit_id":     audit.ID,
			},
		})
		if err != nil {
			e.logger.Warn("record promotion audit log", slog.Any("error", err))
		}
	}
	return res, nil
}

func (e *Executor) processDues(ctx context.Context, in ExecuteInput) Tally {
	tally := Tally{Errors: []string{}}
	ids := make([]int64, 0, len(in.Actions))
	for id := range in.Actions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		action := in.Actions[id]
		if action.Kind == ActionBlock {
			tally.Blocked++
			e.observe(action.Kind, "applied")
			continue
		}
		applied, err := e.applyOnce(ctx, in, action)
		if err != nil {
			tally.Errors = append(tally.Errors, fmt.Sprintf("student %d: %s: %v", id, action.Kind, err))
			e.observe(action.Kind, "error")
			continue
		}
		if applied {
			e.observe(action.Kind, "applied")
		} else {
			e.observe(action.Kind, "replayed")
		}
		switch action.Kind {
		case ActionPayment:
			tally.Payments++
		case ActionWaiver:
			tally.Waivers++
		case ActionCarryForward:
			tally.CarriedForward++
		}
	}
	return tally
}

// applyOnce applies the action under its idempotency key. applied is false
// when an earlier run already wrote it.
func (e *Executor) applyOnce(ctx context.Context, in ExecuteInput, action FeeAction) (bool, error) {
	due, ok := in.Dues[action.StudentID]
	if !ok || len(due.Details) == 0 {
		return false, ErrNotAffected
	}
	err := e.apply(ctx, in, action, due, ActionKey(in.TargetYearID, action.StudentID, action.Kind))
	if errors.Is(err, fees.ErrAlreadyApplied) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (e *Executor) apply(ctx context.Context, in ExecuteInput, action FeeAction, due fees.OutstandingDue, key string) error {
	switch action.Kind {
	case ActionPayment:
		rep, _ := due.Representative()
		method := action.PaymentMethod
		if method == "" {
			method = "cash"
		}
		_, err := e.ledger.RecordPayment(ctx, fees.PaymentInput{
			RecordID:       rep.RecordID,
			Ledger:         rep.Ledger,
			Amount:         action.PaymentAmount,
			Method:         method,
			Notes:          action.Notes,
			IdempotencyKey: key,
			ActorID:        in.ActorID,
		})
		return err
	case ActionWaiver:
		return e.ledger.ApplyWaiver(ctx, fees.WaiverInput{
			Records:        due.Refs(),
			Reason:         action.WaiverReason,
			ActorID:        in.ActorID,
			IdempotencyKey: key,
		})
	case ActionCarryForward:
		notes := e.formatter.Breakdown(due)
		if action.Notes != "" {
			notes += "\n" + action.Notes
		}
		_, err := e.ledger.CreateCarryForward(ctx, fees.CarryForwardInput{
			StudentID:      action.StudentID,
			AcademicYearID: in.TargetYearID,
			Amount:         due.TotalDues,
			DueDate:        e.now().AddDate(0, 1, 0),
			Notes:          notes,
			Sources:        due.Refs(),
			IdempotencyKey: key,
		})
		return err
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, action.Kind)
	}
}

func (e *Executor) buildBatch(in ExecuteInput) []Record {
	mapper := in.Mapper
	if mapper == nil {
		mapper = NewLevelClassMapper(in.Classes)
	}
	classes := make(map[int64]academic.Class, len(in.Classes))
	for _, c := range in.Classes {
		classes[c.ID] = c
	}
	students := make([]academic.Student, 0, len(in.Students))
	for _, st := range in.Students {
		if st.Status != academic.StudentActive {
			continue
		}
		if a, ok := in.Actions[st.ID]; ok && a.Kind == ActionBlock {
			continue
		}
		students = append(students, st)
	}
	sort.Slice(students, func(i, j int) bool { return students[i].ID < students[j].ID })

	batch := make([]Record, 0, len(students))
	for _, st := range students {
		from, ok := classes[st.ClassID]
		if !ok {
			from = academic.Class{ID: st.ClassID}
		}
		batch = append(batch, Record{
			StudentID:   st.ID,
			FromClassID: st.ClassID,
			ToClassID:   mapper.TargetClass(from),
			FromYearID:  in.CurrentYearID,
			ToYearID:    in.TargetYearID,
			Type:        TypePromoted,
		})
	}
	return batch
}

func (e *Executor) observe(kind ActionKind, outcome string) {
	if e.observer != nil {
		e.observer.ObserveDuesAction(string(kind), outcome)
	}
}

func (e *Executor) notify(ctx context.Context, n shared.Notification) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.logger.Warn("promotion notification", slog.Any("error", err))
	}
}
