package fees

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DuesReader is the read surface the calculator needs.
type DuesReader interface {
	ListYearsExcept(ctx context.Context, yearID int64) ([]YearRef, error)
	ListUnpaidRecords(ctx context.Context, ledger Ledger, yearIDs []int64) ([]Record, error)
}

// Calculator aggregates outstanding balances from prior years.
type Calculator struct {
	reader DuesReader
}

// NewCalculator constructs a Calculator.
func NewCalculator(reader DuesReader) *Calculator {
	return &Calculator{reader: reader}
}

type dueKey struct {
	studentID int64
	feeType   string
	yearID    int64
}

// Calculate returns outstanding dues keyed by student id for every year
// except currentYearID. Students without dues are absent from the result.
func (c *Calculator) Calculate(ctx context.Context, currentYearID int64, studentIDs []int64) (map[int64]OutstandingDue, error) {
	result := make(map[int64]OutstandingDue)
	if len(studentIDs) == 0 {
		return result, nil
	}
	population := make(map[int64]struct{}, len(studentIDs))
	for _, id := range studentIDs {
		population[id] = struct{}{}
	}

	years, err := c.reader.ListYearsExcept(ctx, currentYearID)
	if err != nil {
		return nil, fmt.Errorf("%w: years: %w", ErrDuesFetch, err)
	}
	if len(years) == 0 {
		return result, nil
	}
	yearByID := make(map[int64]YearRef, len(years))
	yearIDs := make([]int64, 0, len(years))
	for _, y := range years {
		yearByID[y.ID] = y
		yearIDs = append(yearIDs, y.ID)
	}

	var enhanced, legacy []Record
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		enhanced, err = c.reader.ListUnpaidRecords(gctx, LedgerEnhanced, yearIDs)
		return err
	})
	g.Go(func() error {
		var err error
		legacy, err = c.reader.ListUnpaidRecords(gctx, LedgerLegacy, yearIDs)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: records: %w", ErrDuesFetch, err)
	}

	seen := make(map[dueKey]struct{}, len(enhanced))
	records := make([]Record, 0, len(enhanced)+len(legacy))
	for _, rec := range enhanced {
		seen[dueKey{rec.StudentID, rec.FeeType, rec.AcademicYearID}] = struct{}{}
		records = append(records, rec)
	}
	for _, rec := range legacy {
		if _, dup := seen[dueKey{rec.StudentID, rec.FeeType, rec.AcademicYearID}]; dup {
			continue
		}
		records = append(records, rec)
	}

	for _, rec := range records {
		if _, ok := population[rec.StudentID]; !ok {
			continue
		}
		year, ok := yearByID[rec.AcademicYearID]
		if !ok {
			continue
		}
		balance := ComputedBalance(rec)
		if !balance.IsPositive() {
			continue
		}
		due := result[rec.StudentID]
		due.StudentID = rec.StudentID
		due.TotalDues = due.TotalDues.Add(balance)
		due.Details = append(due.Details, DueDetail{
			RecordID:       rec.ID,
			Ledger:         rec.Ledger,
			AcademicYearID: rec.AcademicYearID,
			YearName:       year.Name,
			FeeType:        rec.FeeType,
			Balance:        balance,
		})
		result[rec.StudentID] = due
	}

	for id, due := range result {
		sortDetails(due.Details, yearByID)
		result[id] = due
	}
	return result, nil
}

func sortDetails(details []DueDetail, years map[int64]YearRef) {
	sort.SliceStable(details, func(i, j int) bool {
		a, b := years[details[i].AcademicYearID], years[details[j].AcademicYearID]
		if !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.Before(b.StartDate)
		}
		if details[i].FeeType != details[j].FeeType {
			return details[i].FeeType < details[j].FeeType
		}
		return details[i].RecordID < details[j].RecordID
	})
}

// Total sums the dues of every student in the map.
func Total(dues map[int64]OutstandingDue) decimal.Decimal {
	total := decimal.Zero
	for _, d := range dues {
		total = total.Add(d.TotalDues)
	}
	return total
}
