package academic

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/campusledger/campusledger/internal/platform/httpx"
	"github.com/campusledger/campusledger/internal/shared"
)

// RepositoryPort defines data access methods for academic records.
type RepositoryPort interface {
	ListYears(ctx context.Context) ([]AcademicYear, error)
	GetYear(ctx context.Context, id int64) (AcademicYear, error)
	CurrentYear(ctx context.Context) (AcademicYear, error)
	CreateYear(ctx context.Context, in YearInput) (AcademicYear, error)
	UpdateYear(ctx context.Context, id int64, in YearInput) (AcademicYear, error)
	SetCurrentYear(ctx context.Context, id int64) error
	ListClasses(ctx context.Context) ([]Class, error)
	CreateClass(ctx context.Context, in ClassInput) (Class, error)
	ListStudents(ctx context.Context, filter StudentFilter) ([]Student, error)
	CreateStudent(ctx context.Context, in StudentInput) (Student, error)
	ListFeeStructures(ctx context.Context, yearID int64) ([]FeeStructure, error)
	CreateFeeStructure(ctx context.Context, in FeeStructureInput) (FeeStructure, error)
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles academic business rules.
type Service struct {
	repo     RepositoryPort
	audit    AuditRecorder
	validate *validator.Validate
}

// NewService builds a Service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditRecorder) *Service {
	return &Service{repo: repo, audit: audit, validate: validator.New()}
}

// ListYears returns all years by start date.
func (s *Service) ListYears(ctx context.Context) ([]AcademicYear, error) {
	return s.repo.ListYears(ctx)
}

// GetYear returns one year.
func (s *Service) GetYear(ctx context.Context, id int64) (AcademicYear, error) {
	if id <= 0 {
		return AcademicYear{}, ErrYearNotFound
	}
	return s.repo.GetYear(ctx, id)
}

// CreateYear validates and stores a new year.
func (s *Service) CreateYear(ctx context.Context, in YearInput) (AcademicYear, error) {
	if err := s.check(in); err != nil {
		return AcademicYear{}, err
	}
	if err := in.Validate(); err != nil {
		return AcademicYear{}, err
	}
	return s.repo.CreateYear(ctx, in)
}

// UpdateYear validates and edits a year.
func (s *Service) UpdateYear(ctx context.Context, id int64, in YearInput) (AcademicYear, error) {
	if id <= 0 {
		return AcademicYear{}, ErrYearNotFound
	}
	if err := s.check(in); err != nil {
		return AcademicYear{}, err
	}
	if err := in.Validate(); err != nil {
		return AcademicYear{}, err
	}
	return s.repo.UpdateYear(ctx, id, in)
}

// SetCurrentYear is the manual admin toggle for the current year flag.
func (s *Service) SetCurrentYear(ctx context.Context, id, actorID int64) (AcademicYear, error) {
	if actorID <= 0 {
		return AcademicYear{}, shared.ErrActorRequired
	}
	if err := s.repo.SetCurrentYear(ctx, id); err != nil {
		return AcademicYear{}, err
	}
	year, err := s.repo.GetYear(ctx, id)
	if err != nil {
		return AcademicYear{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "SET_CURRENT",
			Entity:   "academic_years",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"source": "manual"},
		})
	}
	return year, nil
}

// ListClasses returns all classes.
func (s *Service) ListClasses(ctx context.Context) ([]Class, error) {
	return s.repo.ListClasses(ctx)
}

// CreateClass validates and stores a class.
func (s *Service) CreateClass(ctx context.Context, in ClassInput) (Class, error) {
	if err := s.check(in); err != nil {
		return Class{}, err
	}
	return s.repo.CreateClass(ctx, in)
}

// ListStudents returns students matching filter.
func (s *Service) ListStudents(ctx context.Context, filter StudentFilter) ([]Student, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown student status %q", httpx.ErrValidation, filter.Status)
	}
	return s.repo.ListStudents(ctx, filter)
}

// CreateStudent validates and stores a student; status defaults to Active.
func (s *Service) CreateStudent(ctx context.Context, in StudentInput) (Student, error) {
	if in.Status == "" {
		in.Status = StudentActive
	}
	if err := s.check(in); err != nil {
		return Student{}, err
	}
	return s.repo.CreateStudent(ctx, in)
}

// ListFeeStructures returns active fee structures for a year.
func (s *Service) ListFeeStructures(ctx context.Context, yearID int64) ([]FeeStructure, error) {
	if yearID <= 0 {
		return nil, fmt.Errorf("%w: year id required", httpx.ErrValidation)
	}
	return s.repo.ListFeeStructures(ctx, yearID)
}

// CreateFeeStructure validates and stores a fee structure.
func (s *Service) CreateFeeStructure(ctx context.Context, in FeeStructureInput) (FeeStructure, error) {
	if err := s.check(in); err != nil {
		return FeeStructure{}, err
	}
	if !in.Amount.IsPositive() {
		return FeeStructure{}, fmt.Errorf("%w: amount must be positive", httpx.ErrValidation)
	}
	return s.repo.CreateFeeStructure(ctx, in)
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s failed on %s", httpx.ErrValidation, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}
