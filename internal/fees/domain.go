package fees

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/platform/httpx"
)

// Ledger names the table a fee record lives in. Both describe the same
// obligation; enhanced takes precedence wherever the two overlap.
type Ledger string

const (
	LedgerEnhanced Ledger = "enhanced"
	LedgerLegacy   Ledger = "legacy"
)

// Status enumerates fee record states.
type Status string

const (
	StatusPending Status = "Pending"
	StatusPaid    Status = "Paid"
	StatusOverdue Status = "Overdue"
	StatusPartial Status = "Partial"
)

// CarryForwardFeeType is the fee type of records created by carry-forward.
const CarryForwardFeeType = "Previous Year Dues"

// Record is the canonical fee record, regardless of ledger.
type Record struct {
	ID             int64            `json:"id"`
	Ledger         Ledger           `json:"ledger"`
	StudentID      int64            `json:"student_id"`
	AcademicYearID int64            `json:"academic_year_id"`
	FeeType        string           `json:"fee_type"`
	ActualFee      decimal.Decimal  `json:"actual_fee"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	PaidAmount     decimal.Decimal  `json:"paid_amount"`
	StoredFinalFee *decimal.Decimal `json:"-"`
	StoredBalance  *decimal.Decimal `json:"-"`
	Status         Status           `json:"status"`
	DueDate        time.Time        `json:"due_date"`
	Notes          string           `json:"notes,omitempty"`
}

// YearRef is the slice of an academic year the dues scan needs.
type YearRef struct {
	ID        int64
	Name      string
	StartDate time.Time
}

// DueDetail is one record contributing to a student's outstanding dues.
type DueDetail struct {
	RecordID       int64           `json:"record_id"`
	Ledger         Ledger          `json:"ledger"`
	AcademicYearID int64           `json:"academic_year_id"`
	YearName       string          `json:"year_name"`
	FeeType        string          `json:"fee_type"`
	Balance        decimal.Decimal `json:"balance"`
}

// OutstandingDue aggregates a student's unpaid balances in non-current years.
type OutstandingDue struct {
	StudentID int64           `json:"student_id"`
	TotalDues decimal.Decimal `json:"total_dues"`
	Details   []DueDetail     `json:"dues_details"`
}

// Representative picks the record a payment action applies to: the largest
// balance, ties broken by detail order (oldest year first).
func (d OutstandingDue) Representative() (DueDetail, bool) {
	if len(d.Details) == 0 {
		return DueDetail{}, false
	}
	best := d.Details[0]
	for _, det := range d.Details[1:] {
		if det.Balance.GreaterThan(best.Balance) {
			best = det
		}
	}
	return best, true
}

// PaymentInput records money received against one record.
type PaymentInput struct {
	RecordID       int64           `json:"-"`
	Ledger         Ledger          `json:"ledger" validate:"required,oneof=enhanced legacy"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method" validate:"max=32"`
	Notes          string          `json:"notes" validate:"max=500"`
	IdempotencyKey string          `json:"-"`
	ActorID        int64           `json:"-"`
}

// Payment is a stored payment row.
type Payment struct {
	ID       int64           `json:"id"`
	RecordID int64           `json:"record_id"`
	Ledger   Ledger          `json:"ledger"`
	Amount   decimal.Decimal `json:"amount"`
	Method   string          `json:"method"`
	PaidAt   time.Time       `json:"paid_at"`
}

// RecordRef points at one record in one ledger.
type RecordRef struct {
	ID     int64
	Ledger Ledger
}

// Refs lists the records behind a student's dues.
func (d OutstandingDue) Refs() []RecordRef {
	out := make([]RecordRef, len(d.Details))
	for i, det := range d.Details {
		out[i] = RecordRef{ID: det.RecordID, Ledger: det.Ledger}
	}
	return out
}

// WaiverInput waives the remaining balance of every listed record in one
// transaction. A non-empty IdempotencyKey is claimed in the same transaction.
type WaiverInput struct {
	Records        []RecordRef
	Reason         string
	ActorID        int64
	IdempotencyKey string
}

// CarryForwardInput opens a record in the target year holding prior dues.
// Sources are the records whose balance moved; enhanced ones get a note
// pointing at the new record.
type CarryForwardInput struct {
	StudentID      int64
	AcademicYearID int64
	Amount         decimal.Decimal
	DueDate        time.Time
	Notes          string
	Sources        []RecordRef
	IdempotencyKey string
}

// CarryForwardNote is appended to the notes of a record whose balance was
// carried into record id.
func CarryForwardNote(id int64) string {
	return fmt.Sprintf("Carried forward to record #%d", id)
}

var (
	// ErrRecordNotFound indicates the fee record does not exist.
	ErrRecordNotFound = fmt.Errorf("fees: record %w", httpx.ErrNotFound)
	// ErrOverpayment indicates a payment larger than the remaining balance.
	ErrOverpayment = fmt.Errorf("fees: payment exceeds balance: %w", httpx.ErrValidation)
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = fmt.Errorf("fees: amount must be positive: %w", httpx.ErrValidation)
	// ErrAlreadyApplied indicates the write's idempotency key was used before.
	ErrAlreadyApplied = fmt.Errorf("fees: idempotency key already used: %w", httpx.ErrDuplicate)
	// ErrDuesFetch wraps read failures while scanning prior-year ledgers.
	ErrDuesFetch = errors.New("fees: fetch outstanding dues")
)
