package academic

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for academic records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const yearColumns = `id, name, start_date, end_date, is_current, created_at, updated_at`

func scanYear(row pgx.Row) (AcademicYear, error) {
	var y AcademicYear
	err := row.Scan(&y.ID, &y.Name, &y.StartDate, &y.EndDate, &y.IsCurrent, &y.CreatedAt, &y.UpdatedAt)
	return y, err
}

// ListYears returns all years ordered by start date.
func (r *Repository) ListYears(ctx context.Context) ([]AcademicYear, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+yearColumns+` FROM academic_years ORDER BY start_date ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("academic: list years: %w", err)
	}
	defer rows.Close()

	var years []AcademicYear
	for rows.Next() {
		y, err := scanYear(rows)
		if err != nil {
			return nil, err
		}
		years = append(years, y)
	}
	return years, rows.Err()
}

// GetYear loads one year.
func (r *Repository) GetYear(ctx context.Context, id int64) (AcademicYear, error) {
	y, err := scanYear(r.pool.QueryRow(ctx, `SELECT `+yearColumns+` FROM academic_years WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return AcademicYear{}, ErrYearNotFound
	}
	return y, err
}

// CurrentYear loads the year flagged current.
func (r *Repository) CurrentYear(ctx context.Context) (AcademicYear, error) {
	y, err := scanYear(r.pool.QueryRow(ctx, `SELECT `+yearColumns+` FROM academic_years WHERE is_current LIMIT 1`))
	if errors.Is(err, pgx.ErrNoRows) {
		return AcademicYear{}, ErrNoCurrentYear
	}
	return y, err
}

// CreateYear inserts a year that is not current.
func (r *Repository) CreateYear(ctx context.Context, in YearInput) (AcademicYear, error) {
	y, err := scanYear(r.pool.QueryRow(ctx, `
		INSERT INTO academic_years (name, start_date, end_date, is_current, created_at, updated_at)
		VALUES ($1, $2, $3, FALSE, NOW(), NOW())
		RETURNING `+yearColumns, in.Name, in.StartDate, in.EndDate))
	return y, mapWriteErr(err)
}

// UpdateYear edits name and dates; the current flag is left untouched.
func (r *Repository) UpdateYear(ctx context.Context, id int64, in YearInput) (AcademicYear, error) {
	y, err := scanYear(r.pool.QueryRow(ctx, `
		UPDATE academic_years SET name = $1, start_date = $2, end_date = $3, updated_at = NOW()
		WHERE id = $4
		RETURNING `+yearColumns, in.Name, in.StartDate, in.EndDate, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return AcademicYear{}, ErrYearNotFound
	}
	return y, mapWriteErr(err)
}

// SetCurrentYear flags id as the only current year in one statement, so no
// reader can observe zero or two current years.
func (r *Repository) SetCurrentYear(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE academic_years
		SET is_current = (id = $1), updated_at = NOW()
		WHERE EXISTS (SELECT 1 FROM academic_years WHERE id = $1)
		  AND (is_current OR id = $1)`, id)
	if err != nil {
		return fmt.Errorf("academic: set current year: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrYearNotFound
	}
	return nil
}

// ListClasses returns all classes by name.
func (r *Repository) ListClasses(ctx context.Context) ([]Class, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, COALESCE(section, '') FROM classes ORDER BY name, section`)
	if err != nil {
		return nil, fmt.Errorf("academic: list classes: %w", err)
	}
	defer rows.Close()

	var classes []Class
	for rows.Next() {
		var c Class
		if err := rows.Scan(&c.ID, &c.Name, &c.Section); err != nil {
			return nil, err
		}
		classes = append(classes, c)
	}
	return classes, rows.Err()
}

// CreateClass inserts a class.
func (r *Repository) CreateClass(ctx context.Context, in ClassInput) (Class, error) {
	c := Class{Name: in.Name, Section: in.Section}
	var section *string
	if in.Section != "" {
		section = &in.Section
	}
	err := r.pool.QueryRow(ctx, `INSERT INTO classes (name, section) VALUES ($1, $2) RETURNING id`, in.Name, section).Scan(&c.ID)
	return c, mapWriteErr(err)
}

// ListStudents returns students matching the filter.
func (r *Repository) ListStudents(ctx context.Context, filter StudentFilter) ([]Student, error) {
	query := `SELECT id, name, admission_number, class_id, status FROM students WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filter.ClassID > 0 {
		args = append(args, filter.ClassID)
		query += ` AND class_id = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("academic: list students: %w", err)
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var s Student
		var status string
		if err := rows.Scan(&s.ID, &s.Name, &s.AdmissionNumber, &s.ClassID, &status); err != nil {
			return nil, err
		}
		s.Status = StudentStatus(status)
		students = append(students, s)
	}
	return students, rows.Err()
}

// CreateStudent inserts a student.
func (r *Repository) CreateStudent(ctx context.Context, in StudentInput) (Student, error) {
	s := Student{Name: in.Name, AdmissionNumber: in.AdmissionNumber, ClassID: in.ClassID, Status: in.Status}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO students (name, admission_number, class_id, status)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		in.Name, in.AdmissionNumber, in.ClassID, string(in.Status)).Scan(&s.ID)
	return s, mapWriteErr(err)
}

// ListFeeStructures returns the active fee structures for a year.
func (r *Repository) ListFeeStructures(ctx context.Context, yearID int64) ([]FeeStructure, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, class_id, academic_year_id, fee_type, amount, is_active
		FROM fee_structures
		WHERE academic_year_id = $1 AND is_active
		ORDER BY class_id, fee_type`, yearID)
	if err != nil {
		return nil, fmt.Errorf("academic: list fee structures: %w", err)
	}
	defer rows.Close()

	var out []FeeStructure
	for rows.Next() {
		var fs FeeStructure
		if err := rows.Scan(&fs.ID, &fs.ClassID, &fs.AcademicYearID, &fs.FeeType, &fs.Amount, &fs.IsActive); err != nil {
			return nil, err
		}
		out = append(out, fs)
	}
	return out, rows.Err()
}

// CreateFeeStructure inserts an active fee structure.
func (r *Repository) CreateFeeStructure(ctx context.Context, in FeeStructureInput) (FeeStructure, error) {
	fs := FeeStructure{ClassID: in.ClassID, AcademicYearID: in.AcademicYearID, FeeType: in.FeeType, Amount: in.Amount, IsActive: true}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO fee_structures (class_id, academic_year_id, fee_type, amount, is_active)
		VALUES ($1, $2, $3, $4, TRUE) RETURNING id`,
		in.ClassID, in.AcademicYearID, in.FeeType, in.Amount).Scan(&fs.ID)
	return fs, mapWriteErr(err)
}

func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrDuplicateName
		case "23503":
			return ErrMissingReference
		}
	}
	return err
}
