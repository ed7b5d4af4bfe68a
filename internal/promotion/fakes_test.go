package promotion

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/academic"
	"github.com/campusledger/campusledger/internal/fees"
	"github.com/campusledger/campusledger/internal/shared"
)

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// school is an in-memory academic directory plus both fee ledgers.
type school struct {
	mu         sync.Mutex
	years      map[int64]*academic.AcademicYear
	classes    []academic.Class
	students   []academic.Student
	structures []academic.FeeStructure
	records    map[fees.Ledger][]fees.Record
	payments   []fees.PaymentInput
	carried    []fees.CarryForwardInput
	nextID     int64
	failWrites map[int64]error
	claimed    map[string]bool
	stuckYear  bool
}

func newSchool() *school {
	return &school{
		years: map[int64]*academic.AcademicYear{
			1: {ID: 1, Name: "2023-24", StartDate: time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC), IsCurrent: true},
			2: {ID: 2, Name: "2024-25", StartDate: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
			3: {ID: 3, Name: "2022-23", StartDate: time.Date(2022, 4, 1, 0, 0, 0, 0, time.UTC)},
		},
		records:    map[fees.Ledger][]fees.Record{},
		nextID:     1000,
		failWrites: map[int64]error{},
		claimed:    map[string]bool{},
	}
}

// seedCohort creates ten active students in Class 5 - A with fee structures
// for both classes in the target year.
func (s *school) seedCohort() {
	s.classes = []academic.Class{{ID: 1, Name: "Class 5", Section: "A"}, {ID: 2, Name: "Class 6", Section: "A"}}
	for i := int64(1); i <= 10; i++ {
		s.students = append(s.students, academic.Student{ID: i, Name: "Student", ClassID: 1, Status: academic.StudentActive})
	}
	s.structures = []academic.FeeStructure{
		{ID: 1, ClassID: 1, AcademicYearID: 2, FeeType: "Tuition", Amount: amount(20000), IsActive: true},
		{ID: 2, ClassID: 2, AcademicYearID: 2, FeeType: "Tuition", Amount: amount(22000), IsActive: true},
	}
}

func (s *school) addRecord(ledger fees.Ledger, rec fees.Record) {
	rec.Ledger = ledger
	if rec.Status == "" {
		rec.Status = fees.StatusPending
	}
	s.records[ledger] = append(s.records[ledger], rec)
}

func (s *school) record(ledger fees.Ledger, id int64) (*fees.Record, error) {
	for i := range s.records[ledger] {
		if s.records[ledger][i].ID == id {
			return &s.records[ledger][i], nil
		}
	}
	return nil, fees.ErrRecordNotFound
}

func (s *school) ListYears(ctx context.Context) ([]academic.AcademicYear, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]academic.AcademicYear, 0, len(s.years))
	for _, y := range s.years {
		out = append(out, *y)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *school) GetYear(ctx context.Context, id int64) (academic.AcademicYear, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	y, ok := s.years[id]
	if !ok {
		return academic.AcademicYear{}, academic.ErrYearNotFound
	}
	return *y, nil
}

func (s *school) SetCurrentYear(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.years[id]; !ok {
		return academic.ErrYearNotFound
	}
	if s.stuckYear {
		return nil
	}
	for yid, y := range s.years {
		y.IsCurrent = yid == id
	}
	return nil
}

func (s *school) ListClasses(ctx context.Context) ([]academic.Class, error) {
	return s.classes, nil
}

func (s *school) ListStudents(ctx context.Context, filter academic.StudentFilter) ([]academic.Student, error) {
	var out []academic.Student
	for _, st := range s.students {
		if filter.Status != "" && st.Status != filter.Status {
			continue
		}
		out = append(out, st)
	}
	return out, nil
}

func (s *school) ListFeeStructures(ctx context.Context, yearID int64) ([]academic.FeeStructure, error) {
	var out []academic.FeeStructure
	for _, fs := range s.structures {
		if fs.AcademicYearID == yearID && fs.IsActive {
			out = append(out, fs)
		}
	}
	return out, nil
}

func (s *school) ListYearsExcept(ctx context.Context, yearID int64) ([]fees.YearRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []fees.YearRef
	for _, y := range s.years {
		if y.ID != yearID {
			out = append(out, fees.YearRef{ID: y.ID, Name: y.Name, StartDate: y.StartDate})
		}
	}
	return out, nil
}

func (s *school) ListUnpaidRecords(ctx context.Context, ledger fees.Ledger, yearIDs []int64) ([]fees.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := make(map[int64]bool, len(yearIDs))
	for _, id := range yearIDs {
		allowed[id] = true
	}
	var out []fees.Record
	for _, rec := range s.records[ledger] {
		if allowed[rec.AcademicYearID] && rec.Status != fees.StatusPaid {
			out = append(out, rec)
		}
	}
	return out, nil
}

// claim mirrors the ledger's in-transaction key claim: a failed write leaves
// the key free.
func (s *school) claim(key string) error {
	if key == "" {
		return nil
	}
	if s.claimed[key] {
		return fees.ErrAlreadyApplied
	}
	s.claimed[key] = true
	return nil
}

func (s *school) RecordPayment(ctx context.Context, in fees.PaymentInput) (fees.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failWrites[in.RecordID]; err != nil {
		return fees.Payment{}, err
	}
	if s.claimed[in.IdempotencyKey] {
		return fees.Payment{}, fees.ErrAlreadyApplied
	}
	rec, err := s.record(in.Ledger, in.RecordID)
	if err != nil {
		return fees.Payment{}, err
	}
	if in.Amount.GreaterThan(fees.Project(*rec).Balance) {
		return fees.Payment{}, fees.ErrOverpayment
	}
	if err := s.claim(in.IdempotencyKey); err != nil {
		return fees.Payment{}, err
	}
	rec.PaidAmount = rec.PaidAmount.Add(in.Amount)
	rec.Status = fees.Classify(*rec, time.Now())
	s.payments = append(s.payments, in)
	return fees.Payment{ID: int64(len(s.payments)), RecordID: rec.ID, Ledger: in.Ledger, Amount: in.Amount}, nil
}

func (s *school) ApplyWaiver(ctx context.Context, in fees.WaiverInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimed[in.IdempotencyKey] {
		return fees.ErrAlreadyApplied
	}
	recs := make([]*fees.Record, 0, len(in.Records))
	for _, ref := range in.Records {
		if err := s.failWrites[ref.ID]; err != nil {
			return err
		}
		rec, err := s.record(ref.Ledger, ref.ID)
		if err != nil {
			return err
		}
		recs = append(recs, rec)
	}
	if err := s.claim(in.IdempotencyKey); err != nil {
		return err
	}
	for _, rec := range recs {
		*rec = fees.Waive(*rec)
	}
	return nil
}

func (s *school) CreateCarryForward(ctx context.Context, in fees.CarryForwardInput) (fees.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.claim(in.IdempotencyKey); err != nil {
		return fees.Record{}, err
	}
	s.nextID++
	rec := fees.Record{
		ID: s.nextID, Ledger: fees.LedgerEnhanced, StudentID: in.StudentID, AcademicYearID: in.AcademicYearID,
		FeeType: fees.CarryForwardFeeType, ActualFee: in.Amount, Status: fees.StatusPending, DueDate: in.DueDate, Notes: in.Notes,
	}
	for _, src := range in.Sources {
		if src.Ledger != fees.LedgerEnhanced {
			continue
		}
		if orig, err := s.record(src.Ledger, src.ID); err == nil {
			orig.Notes = strings.TrimPrefix(orig.Notes+"\n"+fees.CarryForwardNote(rec.ID), "\n")
		}
	}
	s.records[fees.LedgerEnhanced] = append(s.records[fees.LedgerEnhanced], rec)
	s.carried = append(s.carried, in)
	return rec, nil
}

type memoryProcedures struct {
	batches [][]Record
	keys    []string
	audits  []Audit
	fail    error
}

func (m *memoryProcedures) PromoteStudents(ctx context.Context, batch []Record, targetYearID, actorID int64, key string) (ProcedureResult, error) {
	if m.fail != nil {
		return ProcedureResult{}, m.fail
	}
	m.batches = append(m.batches, batch)
	m.keys = append(m.keys, key)
	return ProcedureResult{Promoted: len(batch), Errors: []string{}}, nil
}

func (m *memoryProcedures) InsertAudit(ctx context.Context, a Audit) (Audit, error) {
	a.ID = int64(len(m.audits) + 1)
	a.CreatedAt = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)
	m.audits = append(m.audits, a)
	return a, nil
}

func (m *memoryProcedures) ListAudits(ctx context.Context, limit, offset int) ([]Audit, int, error) {
	if offset >= len(m.audits) {
		return nil, len(m.audits), nil
	}
	end := offset + limit
	if end > len(m.audits) {
		end = len(m.audits)
	}
	return m.audits[offset:end], len(m.audits), nil
}

type recordingNotifier struct {
	sent []shared.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n shared.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

type recordingObserver struct {
	actions  map[string]int
	outcomes []string
}

func (r *recordingObserver) ObserveDuesAction(kind, outcome string) {
	if r.actions == nil {
		r.actions = map[string]int{}
	}
	r.actions[kind+":"+outcome]++
}

func (r *recordingObserver) ObservePromotion(outcome string, elapsed time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

var errWriteFailed = errors.New("write failed")

var academicActive = academic.StudentFilter{Status: academic.StudentActive}

func academicClass(id int64, name, section string) academic.Class {
	return academic.Class{ID: id, Name: name, Section: section}
}
