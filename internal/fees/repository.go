package fees

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/platform/db"
	"github.com/campusledger/campusledger/internal/shared"
)

const idempotencyModule = "fees"

// ledgerSchema maps a ledger table onto the canonical record columns.
type ledgerSchema struct {
	table    string
	selectAs string
	paidCol  string
	hasNotes bool
}

var schemas = map[Ledger]ledgerSchema{
	LedgerEnhanced: {
		table:    "student_fee_records",
		selectAs: `id, student_id, academic_year_id, fee_type, actual_fee, discount_amount, paid_amount, final_fee, balance_fee, status, due_date, COALESCE(notes, '')`,
		paidCol:  "paid_amount",
		hasNotes: true,
	},
	LedgerLegacy: {
		table:    "fees",
		selectAs: `id, student_id, academic_year_id, fee_type, actual_amount, discount_amount, total_paid, NULL::numeric, NULL::numeric, status, due_date, ''`,
		paidCol:  "total_paid",
	},
}

func schemaFor(ledger Ledger) (ledgerSchema, error) {
	s, ok := schemas[ledger]
	if !ok {
		return ledgerSchema{}, fmt.Errorf("fees: unknown ledger %q", ledger)
	}
	return s, nil
}

func scanRecord(row pgx.Row, ledger Ledger) (Record, error) {
	var (
		rec           Record
		final, bal    decimal.NullDecimal
		status, notes string
	)
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.AcademicYearID, &rec.FeeType,
		&rec.ActualFee, &rec.DiscountAmount, &rec.PaidAmount, &final, &bal,
		&status, &rec.DueDate, &notes)
	if err != nil {
		return Record{}, err
	}
	rec.Ledger = ledger
	rec.Status = Status(status)
	rec.Notes = notes
	if final.Valid {
		rec.StoredFinalFee = &final.Decimal
	}
	if bal.Valid {
		rec.StoredBalance = &bal.Decimal
	}
	return rec, nil
}

// Repository provides PostgreSQL backed access to both fee ledgers.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

// ListYearsExcept returns every academic year other than yearID.
func (r *Repository) ListYearsExcept(ctx context.Context, yearID int64) ([]YearRef, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, start_date FROM academic_years WHERE id <> $1 ORDER BY start_date`, yearID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []YearRef
	for rows.Next() {
		var y YearRef
		if err := rows.Scan(&y.ID, &y.Name, &y.StartDate); err != nil {
			return nil, err
		}
		out = append(out, y)
	}
	return out, rows.Err()
}

// ListUnpaidRecords returns records of ledger in yearIDs whose status is not Paid.
func (r *Repository) ListUnpaidRecords(ctx context.Context, ledger Ledger, yearIDs []int64) ([]Record, error) {
	s, err := schemaFor(ledger)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+s.selectAs+` FROM `+s.table+`
		WHERE academic_year_id = ANY($1) AND status <> 'Paid'
		ORDER BY student_id, id`, yearIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows, ledger)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListStudentRecords returns every record of a student from both ledgers.
func (r *Repository) ListStudentRecords(ctx context.Context, studentID int64) ([]Record, error) {
	var out []Record
	for _, ledger := range []Ledger{LedgerEnhanced, LedgerLegacy} {
		s := schemas[ledger]
		rows, err := r.pool.Query(ctx, `SELECT `+s.selectAs+` FROM `+s.table+` WHERE student_id = $1 ORDER BY academic_year_id, id`, studentID)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			rec, err := scanRecord(rows, ledger)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (r *Repository) lockRecord(ctx context.Context, tx pgx.Tx, ledger Ledger, id int64) (Record, ledgerSchema, error) {
	s, err := schemaFor(ledger)
	if err != nil {
		return Record{}, s, err
	}
	rec, err := scanRecord(tx.QueryRow(ctx, `SELECT `+s.selectAs+` FROM `+s.table+` WHERE id = $1 FOR UPDATE`, id), ledger)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, s, ErrRecordNotFound
	}
	return rec, s, err
}

// RecordPayment raises paid amount on a record and stores the payment row.
// A repeated idempotency key fails with ErrAlreadyApplied.
func (r *Repository) RecordPayment(ctx context.Context, in PaymentInput) (Payment, error) {
	if !in.Amount.IsPositive() {
		return Payment{}, ErrInvalidAmount
	}
	var pay Payment
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.claim(ctx, tx, in.IdempotencyKey); err != nil {
			return err
		}
		rec, s, err := r.lockRecord(ctx, tx, in.Ledger, in.RecordID)
		if err != nil {
			return err
		}
		if in.Amount.GreaterThan(Project(rec).Balance) {
			return ErrOverpayment
		}
		rec.PaidAmount = rec.PaidAmount.Add(in.Amount)
		rec.StoredBalance = nil
		status := Classify(rec, r.now())
		if _, err := tx.Exec(ctx, `UPDATE `+s.table+` SET `+s.paidCol+` = $1, status = $2 WHERE id = $3`, rec.PaidAmount, string(status), rec.ID); err != nil {
			return err
		}
		var key *string
		if in.IdempotencyKey != "" {
			key = &in.IdempotencyKey
		}
		pay = Payment{RecordID: rec.ID, Ledger: in.Ledger, Amount: in.Amount, Method: in.Method}
		return tx.QueryRow(ctx, `
			INSERT INTO fee_payments (fee_record_id, ledger, amount, method, notes, idempotency_key, created_by, paid_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
			RETURNING id, paid_at`,
			rec.ID, string(in.Ledger), in.Amount, in.Method, in.Notes, key, in.ActorID).Scan(&pay.ID, &pay.PaidAt)
	})
	if err != nil {
		return Payment{}, mapWriteErr(err)
	}
	return pay, nil
}

// ApplyWaiver raises the discount of each record by its remaining balance and
// marks it Paid. Records already settled are left alone.
func (r *Repository) ApplyWaiver(ctx context.Context, in WaiverInput) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.claim(ctx, tx, in.IdempotencyKey); err != nil {
			return err
		}
		for _, ref := range in.Records {
			if err := r.waive(ctx, tx, ref, in.Reason); err != nil {
				return fmt.Errorf("waive record %d: %w", ref.ID, err)
			}
		}
		return nil
	})
	return mapWriteErr(err)
}

func (r *Repository) waive(ctx context.Context, tx pgx.Tx, ref RecordRef, reason string) error {
	rec, s, err := r.lockRecord(ctx, tx, ref.Ledger, ref.ID)
	if err != nil {
		return err
	}
	if !ComputedBalance(rec).IsPositive() {
		return nil
	}
	discount := Waive(rec).DiscountAmount
	if s.hasNotes {
		_, err = tx.Exec(ctx, `UPDATE `+s.table+` SET discount_amount = $1, status = 'Paid',
			notes = CONCAT_WS(E'\n', NULLIF(notes, ''), $2::text) WHERE id = $3`,
			discount, "Waived: "+reason, rec.ID)
	} else {
		_, err = tx.Exec(ctx, `UPDATE `+s.table+` SET discount_amount = $1, status = 'Paid' WHERE id = $2`, discount, rec.ID)
	}
	return err
}

// CreateCarryForward inserts a Previous Year Dues record in the enhanced
// ledger and notes the new record on each enhanced source. Legacy sources
// have no notes column and are left unchanged.
func (r *Repository) CreateCarryForward(ctx context.Context, in CarryForwardInput) (Record, error) {
	if !in.Amount.IsPositive() {
		return Record{}, ErrInvalidAmount
	}
	s := schemas[LedgerEnhanced]
	var rec Record
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if err := r.claim(ctx, tx, in.IdempotencyKey); err != nil {
			return err
		}
		var err error
		rec, err = scanRecord(tx.QueryRow(ctx, `
			INSERT INTO student_fee_records (student_id, academic_year_id, fee_type, actual_fee, discount_amount, paid_amount, status, due_date, notes)
			VALUES ($1, $2, $3, $4, 0, 0, 'Pending', $5, $6)
			RETURNING `+s.selectAs,
			in.StudentID, in.AcademicYearID, CarryForwardFeeType, in.Amount, in.DueDate, in.Notes), LedgerEnhanced)
		if err != nil {
			return err
		}
		for _, src := range in.Sources {
			if src.Ledger != LedgerEnhanced {
				continue
			}
			if _, err := tx.Exec(ctx, `UPDATE student_fee_records
				SET notes = CONCAT_WS(E'\n', NULLIF(notes, ''), $1::text) WHERE id = $2`,
				CarryForwardNote(rec.ID), src.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Record{}, mapWriteErr(err)
	}
	return rec, nil
}

// claim records key inside tx so the key and the write commit together.
func (r *Repository) claim(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return nil
	}
	err := shared.NewIdempotencyStore(tx).CheckAndInsert(ctx, key, idempotencyModule)
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		return ErrAlreadyApplied
	}
	return err
}

// mapWriteErr turns a unique violation on fee_payments.idempotency_key into
// ErrAlreadyApplied.
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyApplied
	}
	return err
}
