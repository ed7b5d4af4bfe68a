package academic

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/platform/httpx"
)

// StudentStatus enumerates enrolment states.
type StudentStatus string

const (
	StudentActive   StudentStatus = "Active"
	StudentInactive StudentStatus = "Inactive"
	StudentAlumni   StudentStatus = "Alumni"
)

// Valid reports whether s is a known status.
func (s StudentStatus) Valid() bool {
	switch s {
	case StudentActive, StudentInactive, StudentAlumni:
		return true
	default:
		return false
	}
}

// AcademicYear is a school year. At most one year is current.
type AcademicYear struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	IsCurrent bool      `json:"is_current"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Class groups students and scopes fee structures.
type Class struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Section string `json:"section,omitempty"`
}

// DisplayName renders the class for operators.
func (c Class) DisplayName() string {
	if strings.TrimSpace(c.Section) == "" {
		return c.Name
	}
	return c.Name + " - " + c.Section
}

// Level extracts the trailing number of the class name, e.g. "Class 7" -> 7.
func (c Class) Level() (int, bool) {
	name := strings.TrimSpace(c.Name)
	end := len(name)
	start := end
	for start > 0 && unicode.IsDigit(rune(name[start-1])) {
		start--
	}
	if start == end {
		return 0, false
	}
	level, err := strconv.Atoi(name[start:end])
	if err != nil {
		return 0, false
	}
	return level, true
}

// Student is an enrolled pupil.
type Student struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	AdmissionNumber string        `json:"admission_number"`
	ClassID         int64         `json:"class_id"`
	Status          StudentStatus `json:"status"`
}

// FeeStructure defines the expected fee of a type for a class in a year.
type FeeStructure struct {
	ID             int64           `json:"id"`
	ClassID        int64           `json:"class_id"`
	AcademicYearID int64           `json:"academic_year_id"`
	FeeType        string          `json:"fee_type"`
	Amount         decimal.Decimal `json:"amount"`
	IsActive       bool            `json:"is_active"`
}

// YearInput captures fields for creating or editing a year.
type YearInput struct {
	Name      string    `json:"name" validate:"required,max=64"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// Validate checks date coherence; field presence is handled by struct tags.
func (in YearInput) Validate() error {
	if !in.StartDate.IsZero() && !in.EndDate.IsZero() && !in.StartDate.Before(in.EndDate) {
		return fmt.Errorf("%w: start date must be before end date", httpx.ErrValidation)
	}
	return nil
}

// ClassInput captures fields for a new class.
type ClassInput struct {
	Name    string `json:"name" validate:"required,max=64"`
	Section string `json:"section" validate:"max=16"`
}

// StudentInput captures fields for a new student.
type StudentInput struct {
	Name            string        `json:"name" validate:"required,max=128"`
	AdmissionNumber string        `json:"admission_number" validate:"required,max=32"`
	ClassID         int64         `json:"class_id" validate:"required,gt=0"`
	Status          StudentStatus `json:"status" validate:"omitempty,oneof=Active Inactive Alumni"`
}

// FeeStructureInput captures fields for a new fee structure.
type FeeStructureInput struct {
	ClassID        int64           `json:"class_id" validate:"required,gt=0"`
	AcademicYearID int64           `json:"academic_year_id" validate:"required,gt=0"`
	FeeType        string          `json:"fee_type" validate:"required,max=64"`
	Amount         decimal.Decimal `json:"amount"`
}

// StudentFilter narrows student listings.
type StudentFilter struct {
	Status  StudentStatus
	ClassID int64
}

var (
	// ErrYearNotFound indicates the academic year does not exist.
	ErrYearNotFound = fmt.Errorf("academic: year %w", httpx.ErrNotFound)
	// ErrClassNotFound indicates the class does not exist.
	ErrClassNotFound = fmt.Errorf("academic: class %w", httpx.ErrNotFound)
	// ErrMissingReference indicates a foreign key points nowhere.
	ErrMissingReference = fmt.Errorf("academic: referenced record %w", httpx.ErrNotFound)
	// ErrDuplicateName indicates a unique name clash.
	ErrDuplicateName = fmt.Errorf("academic: name already used: %w", httpx.ErrDuplicate)
	// ErrNoCurrentYear indicates no year is flagged current.
	ErrNoCurrentYear = fmt.Errorf("academic: current year %w", httpx.ErrNotFound)
)
