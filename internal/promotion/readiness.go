package promotion

import (
	"context"
	"fmt"
	"sort"

	"github.com/campusledger/campusledger/internal/academic"
)

// Readiness summarises whether a cohort may be promoted into a year.
type Readiness struct {
	TotalStudents        int      `json:"total_students"`
	MissingFeeStructures []string `json:"missing_fee_structures"`
	IsSequentialYear     bool     `json:"is_sequential_year"`
	ReadyForPromotion    bool     `json:"ready_for_promotion"`
}

// IsSequentialYear reports whether target immediately follows current when
// years are ordered by start date.
func IsSequentialYear(years []academic.AcademicYear, currentID, targetID int64) bool {
	ordered := make([]academic.AcademicYear, len(years))
	copy(ordered, years)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].StartDate.Equal(ordered[j].StartDate) {
			return ordered[i].StartDate.Before(ordered[j].StartDate)
		}
		return ordered[i].ID < ordered[j].ID
	})
	currentIdx, targetIdx := -1, -1
	for i, y := range ordered {
		switch y.ID {
		case currentID:
			currentIdx = i
		case targetID:
			targetIdx = i
		}
	}
	return currentIdx >= 0 && targetIdx >= 0 && targetIdx == currentIdx+1
}

// MissingFeeStructures lists display names of classes that hold students but
// have no active fee structure, sorted by name.
func MissingFeeStructures(classes []academic.Class, studentClassIDs, structuredClassIDs []int64) []string {
	byID := make(map[int64]academic.Class, len(classes))
	for _, c := range classes {
		byID[c.ID] = c
	}
	covered := make(map[int64]struct{}, len(structuredClassIDs))
	for _, id := range structuredClassIDs {
		covered[id] = struct{}{}
	}
	seen := make(map[int64]struct{})
	missing := []string{}
	for _, id := range studentClassIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := covered[id]; ok {
			continue
		}
		name := fmt.Sprintf("Class #%d", id)
		if c, ok := byID[id]; ok {
			name = c.DisplayName()
		}
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return missing
}

// ReadinessReader is the academic data the validator reads.
type ReadinessReader interface {
	ListYears(ctx context.Context) ([]academic.AcademicYear, error)
	ListClasses(ctx context.Context) ([]academic.Class, error)
	ListStudents(ctx context.Context, filter academic.StudentFilter) ([]academic.Student, error)
	ListFeeStructures(ctx context.Context, yearID int64) ([]academic.FeeStructure, error)
}

// Validator checks promotion preconditions.
type Validator struct {
	reader ReadinessReader
}

// NewValidator constructs a Validator.
func NewValidator(reader ReadinessReader) *Validator {
	return &Validator{reader: reader}
}

// Check evaluates readiness for promoting out of currentYearID into targetYearID.
func (v *Validator) Check(ctx context.Context, currentYearID, targetYearID int64) (Readiness, error) {
	years, err := v.reader.ListYears(ctx)
	if err != nil {
		return Readiness{}, fmt.Errorf("list years: %w", err)
	}
	students, err := v.reader.ListStudents(ctx, academic.StudentFilter{Status: academic.StudentActive})
	if err != nil {
		return Readiness{}, fmt.Errorf("list students: %w", err)
	}
	classes, err := v.reader.ListClasses(ctx)
	if err != nil {
		return Readiness{}, fmt.Errorf("list classes: %w", err)
	}
	structures, err := v.reader.ListFeeStructures(ctx, targetYearID)
	if err != nil {
		return Readiness{}, fmt.Errorf("list fee structures: %w", err)
	}

	studentClasses := make([]int64, 0, len(students))
	for _, st := range students {
		studentClasses = append(studentClasses, st.ClassID)
	}
	structured := make([]int64, 0, len(structures))
	for _, fs := range structures {
		if fs.IsActive && fs.AcademicYearID == targetYearID {
			structured = append(structured, fs.ClassID)
		}
	}

	r := Readiness{
		TotalStudents:        len(students),
		MissingFeeStructures: MissingFeeStructures(classes, studentClasses, structured),
		IsSequentialYear:     IsSequentialYear(years, currentYearID, targetYearID),
	}
	r.ReadyForPromotion = len(r.MissingFeeStructures) == 0 && r.IsSequentialYear
	return r, nil
}
