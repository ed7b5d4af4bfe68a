package fees

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubDuesReader struct {
	years    []YearRef
	enhanced []Record
	legacy   []Record
	err      error
	calls    int
}

func (s *stubDuesReader) ListYearsExcept(ctx context.Context, yearID int64) ([]YearRef, error) {
	s.calls++
	var out []YearRef
	for _, y := range s.years {
		if y.ID != yearID {
			out = append(out, y)
		}
	}
	return out, nil
}

func (s *stubDuesReader) ListUnpaidRecords(ctx context.Context, ledger Ledger, yearIDs []int64) ([]Record, error) {
	if s.err != nil {
		return nil, s.err
	}
	allowed := make(map[int64]bool)
	for _, id := range yearIDs {
		allowed[id] = true
	}
	src := s.enhanced
	if ledger == LedgerLegacy {
		src = s.legacy
	}
	var out []Record
	for _, r := range src {
		if allowed[r.AcademicYearID] && r.Status != StatusPaid {
			r.Ledger = ledger
			out = append(out, r)
		}
	}
	return out, nil
}

var (
	y2223 = YearRef{ID: 1, Name: "2022-23", StartDate: time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC)}
	y2324 = YearRef{ID: 2, Name: "2023-24", StartDate: time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)}
	y2425 = YearRef{ID: 3, Name: "2024-25", StartDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)}
)

func TestCalculateDeduplicatesLedgersWithEnhancedPrecedence(t *testing.T) {
	reader := &stubDuesReader{
		years: []YearRef{y2223, y2324, y2425},
		enhanced: []Record{
			{ID: 10, StudentID: 100, AcademicYearID: 2, FeeType: "Tuition", ActualFee: d(12000), PaidAmount: d(7000), Status: StatusPartial},
		},
		legacy: []Record{
			{ID: 90, StudentID: 100, AcademicYearID: 2, FeeType: "Tuition", ActualFee: d(12000), PaidAmount: d(2000), Status: StatusPartial},
			{ID: 91, StudentID: 100, AcademicYearID: 1, FeeType: "Transport", ActualFee: d(3000), Status: StatusPending},
		},
	}
	dues, err := NewCalculator(reader).Calculate(context.Background(), 3, []int64{100})
	require.NoError(t, err)
	require.Len(t, dues, 1)

	due := dues[100]
	require.True(t, due.TotalDues.Equal(d(8000)), due.TotalDues.String())
	require.Len(t, due.Details, 2)
	require.Equal(t, "2022-23", due.Details[0].YearName)
	require.Equal(t, LedgerLegacy, due.Details[0].Ledger)
	require.Equal(t, int64(10), due.Details[1].RecordID)
	require.True(t, due.Details[1].Balance.Equal(d(5000)))
}

func TestCalculateExcludesCurrentYearAndSettledRecords(t *testing.T) {
	reader := &stubDuesReader{
		years: []YearRef{y2324, y2425},
		enhanced: []Record{
			{ID: 1, StudentID: 1, AcademicYearID: 3, FeeType: "Tuition", ActualFee: d(9000), Status: StatusPending},
			{ID: 2, StudentID: 2, AcademicYearID: 2, FeeType: "Tuition", ActualFee: d(9000), DiscountAmount: d(4000), PaidAmount: d(5000), Status: StatusPartial},
			{ID: 3, StudentID: 3, AcademicYearID: 2, FeeType: "Tuition", ActualFee: d(9000), PaidAmount: d(9500), Status: StatusPending},
		},
	}
	dues, err := NewCalculator(reader).Calculate(context.Background(), 3, []int64{1, 2, 3})
	require.NoError(t, err)
	require.Empty(t, dues)
}

func TestCalculateIgnoresStudentsOutsidePopulation(t *testing.T) {
	reader := &stubDuesReader{
		years: []YearRef{y2324, y2425},
		enhanced: []Record{
			{ID: 1, StudentID: 1, AcademicYearID: 2, FeeType: "Tuition", ActualFee: d(5000), Status: StatusPending},
			{ID: 2, StudentID: 2, AcademicYearID: 2, FeeType: "Tuition", ActualFee: d(30000), Status: StatusPending},
		},
	}
	dues, err := NewCalculator(reader).Calculate(context.Background(), 3, []int64{2})
	require.NoError(t, err)
	require.Len(t, dues, 1)
	require.True(t, dues[2].TotalDues.Equal(d(30000)))
}

func TestCalculateIsIdempotent(t *testing.T) {
	reader := &stubDuesReader{
		years: []YearRef{y2223, y2324, y2425},
		enhanced: []Record{
			{ID: 1, StudentID: 1, AcademicYearID: 1, FeeType: "Tuition", ActualFee: d(5000), Status: StatusPending},
			{ID: 2, StudentID: 1, AcademicYearID: 2, FeeType: "Books", ActualFee: d(700), Status: StatusPending},
		},
		legacy: []Record{
			{ID: 3, StudentID: 2, AcademicYearID: 2, FeeType: "Tuition", ActualFee: d(4000), PaidAmount: d(1000), Status: StatusPartial},
		},
	}
	calc := NewCalculator(reader)
	first, err := calc.Calculate(context.Background(), 3, []int64{1, 2})
	require.NoError(t, err)
	second, err := calc.Calculate(context.Background(), 3, []int64{1, 2})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.True(t, Total(first).Equal(d(8700)))
}

func TestCalculateEmptyPopulationSkipsReads(t *testing.T) {
	reader := &stubDuesReader{}
	dues, err := NewCalculator(reader).Calculate(context.Background(), 3, nil)
	require.NoError(t, err)
	require.Empty(t, dues)
	require.Zero(t, reader.calls)
}

func TestCalculateSurfacesFetchFailure(t *testing.T) {
	reader := &stubDuesReader{years: []YearRef{y2324, y2425}, err: errors.New("connection reset")}
	_, err := NewCalculator(reader).Calculate(context.Background(), 3, []int64{1})
	require.ErrorIs(t, err, ErrDuesFetch)
}

func TestRepresentativePicksLargestBalance(t *testing.T) {
	due := OutstandingDue{Details: []DueDetail{
		{RecordID: 1, Balance: d(500)},
		{RecordID: 2, Balance: d(4000)},
		{RecordID: 3, Balance: d(4000)},
	}}
	rep, ok := due.Representative()
	require.True(t, ok)
	require.Equal(t, int64(2), rep.RecordID)

	_, ok = OutstandingDue{}.Representative()
	require.False(t, ok)
}
