package promotion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository calls the promotion procedure and stores audits.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PromoteStudents submits the whole batch in one procedure call. The
// procedure owns the transaction for the promotion writes.
func (r *Repository) PromoteStudents(ctx context.Context, batch []Record, targetYearID, actorID int64, key string) (ProcedureResult, error) {
	payload, err := json.Marshal(batch)
	if err != nil {
		return ProcedureResult{}, fmt.Errorf("marshal batch: %w", err)
	}
	var raw []byte
	err = r.pool.QueryRow(ctx, `SELECT promote_students_with_fees($1::jsonb, $2, $3, $4)`,
		payload, targetYearID, actorID, key).Scan(&raw)
	if err != nil {
		return ProcedureResult{}, err
	}
	var res ProcedureResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return ProcedureResult{}, fmt.Errorf("decode procedure result: %w", err)
	}
	return res, nil
}

// InsertAudit stores a promotion summary.
func (r *Repository) InsertAudit(ctx context.Context, a Audit) (Audit, error) {
	if a.Errors == nil {
		a.Errors = []string{}
	}
	errs, err := json.Marshal(a.Errors)
	if err != nil {
		return Audit{}, err
	}
	err = r.pool.QueryRow(ctx, `
		INSERT INTO promotion_audits (from_academic_year_id, to_academic_year_id, actor_id, payments, waivers, carried_forward, blocked, promoted, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
		RETURNING id, created_at`,
		a.FromYearID, a.ToYearID, a.ActorID, a.Payments, a.Waivers, a.CarriedForward, a.Blocked, a.Promoted, errs).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return Audit{}, fmt.Errorf("insert promotion audit: %w", err)
	}
	return a, nil
}

// ListAudits pages through audits, newest first, and returns the total count.
func (r *Repository) ListAudits(ctx context.Context, limit, offset int) ([]Audit, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM promotion_audits`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, from_academic_year_id, to_academic_year_id, actor_id, payments, waivers, carried_forward, blocked, promoted, errors, created_at
		FROM promotion_audits ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Audit
	for rows.Next() {
		var (
			a   Audit
			raw []byte
		)
		if err := rows.Scan(&a.ID, &a.FromYearID, &a.ToYearID, &a.ActorID, &a.Payments, &a.Waivers,
			&a.CarriedForward, &a.Blocked, &a.Promoted, &raw, &a.CreatedAt); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(raw, &a.Errors); err != nil {
			return nil, 0, fmt.Errorf("decode audit errors: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}
