package fees

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/campusledger/campusledger/internal/academic"
	"github.com/campusledger/campusledger/internal/platform/httpx"
)

// RecordReader lists a student's records across ledgers.
type RecordReader interface {
	ListStudentRecords(ctx context.Context, studentID int64) ([]Record, error)
}

// LedgerWriter applies money movements to fee records.
type LedgerWriter interface {
	RecordPayment(ctx context.Context, in PaymentInput) (Payment, error)
	ApplyWaiver(ctx context.Context, in WaiverInput) error
	CreateCarryForward(ctx context.Context, in CarryForwardInput) (Record, error)
}

// StudentDirectory resolves students and the current year.
type StudentDirectory interface {
	ListStudents(ctx context.Context, filter academic.StudentFilter) ([]academic.Student, error)
	CurrentYear(ctx context.Context) (academic.AcademicYear, error)
}

// StudentDues pairs a student with their outstanding dues.
type StudentDues struct {
	Student academic.Student `json:"student"`
	OutstandingDue
}

// Service exposes fee records and dues to callers.
type Service struct {
	records   RecordReader
	ledger    LedgerWriter
	calc      *Calculator
	directory StudentDirectory
	validate  *validator.Validate
	now       func() time.Time
}

// NewService builds a Service.
func NewService(records RecordReader, ledger LedgerWriter, calc *Calculator, directory StudentDirectory) *Service {
	return &Service{
		records:   records,
		ledger:    ledger,
		calc:      calc,
		directory: directory,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// StudentRecords returns a student's records with derived fields.
func (s *Service) StudentRecords(ctx context.Context, studentID int64) ([]ProjectedRecord, error) {
	if studentID <= 0 {
		return nil, fmt.Errorf("%w: student id required", httpx.ErrValidation)
	}
	records, err := s.records.ListStudentRecords(ctx, studentID)
	if err != nil {
		return nil, err
	}
	return ProjectAll(records, s.now()), nil
}

// RecordPayment validates and records an operator payment.
func (s *Service) RecordPayment(ctx context.Context, in PaymentInput) (Payment, error) {
	if in.RecordID <= 0 {
		return Payment{}, ErrRecordNotFound
	}
	if err := s.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return Payment{}, fmt.Errorf("%w: %s failed on %s", httpx.ErrValidation, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return Payment{}, fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	if !in.Amount.IsPositive() {
		return Payment{}, ErrInvalidAmount
	}
	return s.ledger.RecordPayment(ctx, in)
}

// Outstanding returns the dues of every Active student relative to
// currentYearID; zero means the year flagged current.
func (s *Service) Outstanding(ctx context.Context, currentYearID int64) ([]StudentDues, error) {
	if currentYearID <= 0 {
		year, err := s.directory.CurrentYear(ctx)
		if err != nil {
			return nil, err
		}
		currentYearID = year.ID
	}
	students, err := s.directory.ListStudents(ctx, academic.StudentFilter{Status: academic.StudentActive})
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]academic.Student, len(students))
	ids := make([]int64, 0, len(students))
	for _, st := range students {
		byID[st.ID] = st
		ids = append(ids, st.ID)
	}
	dues, err := s.calc.Calculate(ctx, currentYearID, ids)
	if err != nil {
		return nil, err
	}
	out := make([]StudentDues, 0, len(dues))
	for id, due := range dues {
		out = append(out, StudentDues{Student: byID[id], OutstandingDue: due})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out, nil
}
