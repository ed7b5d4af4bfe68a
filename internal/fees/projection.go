package fees

import (
	"time"

	"github.com/shopspring/decimal"
)

// Projection holds the derived money fields of a record.
type Projection struct {
	FinalFee decimal.Decimal `json:"final_fee"`
	Balance  decimal.Decimal `json:"balance_fee"`
}

// Project derives final fee and balance. Stored columns win when present;
// nothing is written back.
func Project(rec Record) Projection {
	final := rec.ActualFee.Sub(rec.DiscountAmount)
	if rec.StoredFinalFee != nil {
		final = *rec.StoredFinalFee
	}
	balance := final.Sub(rec.PaidAmount)
	if rec.StoredBalance != nil {
		balance = *rec.StoredBalance
	}
	return Projection{FinalFee: final, Balance: balance}
}

// ComputedBalance is actual - discount - paid, ignoring stored columns.
func ComputedBalance(rec Record) decimal.Decimal {
	return rec.ActualFee.Sub(rec.DiscountAmount).Sub(rec.PaidAmount)
}

// Classify derives an advisory status. Overdue is a display concern based on
// the due date relative to asOf.
func Classify(rec Record, asOf time.Time) Status {
	p := Project(rec)
	switch {
	case !p.Balance.IsPositive():
		return StatusPaid
	case rec.PaidAmount.IsPositive() && rec.PaidAmount.LessThan(p.FinalFee):
		return StatusPartial
	case !rec.DueDate.IsZero() && rec.DueDate.Before(asOf):
		return StatusOverdue
	default:
		return StatusPending
	}
}

// ProjectedRecord is a record with its derived fields for display.
type ProjectedRecord struct {
	Record
	Projection
	DisplayStatus Status `json:"display_status"`
}

// ProjectAll projects a list of records as of the given time.
func ProjectAll(records []Record, asOf time.Time) []ProjectedRecord {
	out := make([]ProjectedRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, ProjectedRecord{Record: rec, Projection: Project(rec), DisplayStatus: Classify(rec, asOf)})
	}
	return out
}

// Waive moves the remaining computed balance into the discount and marks the
// record Paid. Settled records are returned unchanged.
func Waive(rec Record) Record {
	balance := ComputedBalance(rec)
	if !balance.IsPositive() {
		return rec
	}
	rec.DiscountAmount = rec.DiscountAmount.Add(balance)
	rec.StoredFinalFee = nil
	rec.StoredBalance = nil
	rec.Status = StatusPaid
	return rec
}
