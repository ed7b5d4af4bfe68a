package academic

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/campusledger/campusledger/internal/platform/httpx"
	"github.com/campusledger/campusledger/internal/shared"
)

type memoryRepo struct {
	years      map[int64]*AcademicYear
	classes    []Class
	students   []Student
	structures []FeeStructure
	nextID     int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{years: make(map[int64]*AcademicYear)}
}

func (m *memoryRepo) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memoryRepo) ListYears(ctx context.Context) ([]AcademicYear, error) {
	var out []AcademicYear
	for _, y := range m.years {
		out = append(out, *y)
	}
	return out, nil
}

func (m *memoryRepo) GetYear(ctx context.Context, id int64) (AcademicYear, error) {
	y, ok := m.years[id]
	if !ok {
		return AcademicYear{}, ErrYearNotFound
	}
	return *y, nil
}

func (m *memoryRepo) CurrentYear(ctx context.Context) (AcademicYear, error) {
	for _, y := range m.years {
		if y.IsCurrent {
			return *y, nil
		}
	}
	return AcademicYear{}, ErrNoCurrentYear
}

func (m *memoryRepo) CreateYear(ctx context.Context, in YearInput) (AcademicYear, error) {
	y := &AcademicYear{ID: m.id(), Name: in.Name, StartDate: in.StartDate, EndDate: in.EndDate}
	m.years[y.ID] = y
	return *y, nil
}

func (m *memoryRepo) UpdateYear(ctx context.Context, id int64, in YearInput) (AcademicYear, error) {
	y, ok := m.years[id]
	if !ok {
		return AcademicYear{}, ErrYearNotFound
	}
	y.Name, y.StartDate, y.EndDate = in.Name, in.StartDate, in.EndDate
	return *y, nil
}

func (m *memoryRepo) SetCurrentYear(ctx context.Context, id int64) error {
	if _, ok := m.years[id]; !ok {
		return ErrYearNotFound
	}
	for yid, y := range m.years {
		y.IsCurrent = yid == id
	}
	return nil
}

func (m *memoryRepo) ListClasses(ctx context.Context) ([]Class, error) { return m.classes, nil }

func (m *memoryRepo) CreateClass(ctx context.Context, in ClassInput) (Class, error) {
	c := Class{ID: m.id(), Name: in.Name, Section: in.Section}
	m.classes = append(m.classes, c)
	return c, nil
}

func (m *memoryRepo) ListStudents(ctx context.Context, filter StudentFilter) ([]Student, error) {
	var out []Student
	for _, s := range m.students {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memoryRepo) CreateStudent(ctx context.Context, in StudentInput) (Student, error) {
	s := Student{ID: m.id(), Name: in.Name, AdmissionNumber: in.AdmissionNumber, ClassID: in.ClassID, Status: in.Status}
	m.students = append(m.students, s)
	return s, nil
}

func (m *memoryRepo) ListFeeStructures(ctx context.Context, yearID int64) ([]FeeStructure, error) {
	return m.structures, nil
}

func (m *memoryRepo) CreateFeeStructure(ctx context.Context, in FeeStructureInput) (FeeStructure, error) {
	fs := FeeStructure{ID: m.id(), ClassID: in.ClassID, AcademicYearID: in.AcademicYearID, FeeType: in.FeeType, Amount: in.Amount, IsActive: true}
	m.structures = append(m.structures, fs)
	return fs, nil
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (r *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	r.logs = append(r.logs, log)
	return nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCreateYearRejectsInvertedDates(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	_, err := svc.CreateYear(context.Background(), YearInput{Name: "2024-25", StartDate: date(2025, 3, 31), EndDate: date(2024, 4, 1)})
	require.ErrorIs(t, err, httpx.ErrValidation)

	_, err = svc.CreateYear(context.Background(), YearInput{StartDate: date(2024, 4, 1), EndDate: date(2025, 3, 31)})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestSetCurrentYearKeepsSingleCurrent(t *testing.T) {
	repo := newMemoryRepo()
	audit := &recordingAudit{}
	svc := NewService(repo, audit)
	ctx := context.Background()

	y1, err := svc.CreateYear(ctx, YearInput{Name: "2023-24", StartDate: date(2023, 4, 1), EndDate: date(2024, 3, 31)})
	require.NoError(t, err)
	y2, err := svc.CreateYear(ctx, YearInput{Name: "2024-25", StartDate: date(2024, 4, 1), EndDate: date(2025, 3, 31)})
	require.NoError(t, err)

	_, err = svc.SetCurrentYear(ctx, y1.ID, 7)
	require.NoError(t, err)
	got, err := svc.SetCurrentYear(ctx, y2.ID, 7)
	require.NoError(t, err)
	require.True(t, got.IsCurrent)

	years, _ := repo.ListYears(ctx)
	current := 0
	for _, y := range years {
		if y.IsCurrent {
			current++
		}
	}
	require.Equal(t, 1, current)
	require.Len(t, audit.logs, 2)
	require.Equal(t, "SET_CURRENT", audit.logs[1].Action)
}

func TestSetCurrentYearRequiresActor(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	_, err := svc.SetCurrentYear(context.Background(), 1, 0)
	require.ErrorIs(t, err, shared.ErrActorRequired)
}

func TestCreateStudentDefaultsToActive(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	s, err := svc.CreateStudent(context.Background(), StudentInput{Name: "Asha", AdmissionNumber: "A-1", ClassID: 3})
	require.NoError(t, err)
	require.Equal(t, StudentActive, s.Status)

	_, err = svc.CreateStudent(context.Background(), StudentInput{Name: "Ravi", AdmissionNumber: "A-2", ClassID: 3, Status: "Expelled"})
	require.ErrorIs(t, err, httpx.ErrValidation)
}

func TestCreateFeeStructureRequiresPositiveAmount(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil)
	_, err := svc.CreateFeeStructure(context.Background(), FeeStructureInput{ClassID: 1, AcademicYearID: 2, FeeType: "Tuition", Amount: decimal.Zero})
	require.ErrorIs(t, err, httpx.ErrValidation)

	fs, err := svc.CreateFeeStructure(context.Background(), FeeStructureInput{ClassID: 1, AcademicYearID: 2, FeeType: "Tuition", Amount: decimal.NewFromInt(12000)})
	require.NoError(t, err)
	require.True(t, fs.IsActive)
}

func TestClassLevelAndDisplayName(t *testing.T) {
	cases := []struct {
		class   Class
		level   int
		ok      bool
		display string
	}{
		{Class{Name: "Class 7"}, 7, true, "Class 7"},
		{Class{Name: "Class 10", Section: "B"}, 10, true, "Class 10 - B"},
		{Class{Name: "Nursery"}, 0, false, "Nursery"},
		{Class{Name: " Grade 12 "}, 12, true, " Grade 12 "},
	}
	for _, tc := range cases {
		level, ok := tc.class.Level()
		require.Equal(t, tc.ok, ok, tc.class.Name)
		require.Equal(t, tc.level, level, tc.class.Name)
		require.Equal(t, tc.display, tc.class.DisplayName())
	}
}
