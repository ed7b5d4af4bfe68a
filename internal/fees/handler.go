package fees

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/singleflight"

	"github.com/campusledger/campusledger/internal/platform/httpx"
	"github.com/campusledger/campusledger/internal/shared"
)

// ServicePort is what the handler needs from Service.
type ServicePort interface {
	StudentRecords(ctx context.Context, studentID int64) ([]ProjectedRecord, error)
	RecordPayment(ctx context.Context, in PaymentInput) (Payment, error)
	Outstanding(ctx context.Context, currentYearID int64) ([]StudentDues, error)
}

// Handler exposes fee records and dues over HTTP.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
	group   singleflight.Group
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service ServicePort) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers fee routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/students/{id}/records", h.studentRecords)
	r.Post("/records/{id}/payments", h.recordPayment)
	r.Get("/dues", h.dues)
	r.Get("/dues.csv", h.duesCSV)
}

func (h *Handler) studentRecords(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid student id")
		return
	}
	records, err := h.service.StudentRecords(r.Context(), id)
	if err != nil {
		h.logger.Error("list student fee records", slog.Int64("student_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, records)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid record id")
		return
	}
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrActorRequired)
		return
	}
	var in PaymentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in.RecordID = id
	in.ActorID = actorID
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")
	pay, err := h.service.RecordPayment(r.Context(), in)
	if err != nil {
		h.logger.Warn("record payment", slog.Int64("record_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pay)
}

// loadDues coalesces concurrent dues scans for the same year. The shared scan
// is detached from any one caller; each caller stops waiting on its own
// context.
func (h *Handler) loadDues(ctx context.Context, raw string) ([]StudentDues, error) {
	yearID, _ := strconv.ParseInt(raw, 10, 64)
	scan := context.WithoutCancel(ctx)
	resultChan := h.group.DoChan("dues:"+strconv.FormatInt(yearID, 10), func() (any, error) {
		return h.service.Outstanding(scan, yearID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]StudentDues), nil
	}
}

func (h *Handler) dues(w http.ResponseWriter, r *http.Request) {
	rows, err := h.loadDues(r.Context(), r.URL.Query().Get("current_year_id"))
	if err != nil {
		h.logger.Error("outstanding dues", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"students": rows,
		"count":    len(rows),
	})
}

func (h *Handler) duesCSV(w http.ResponseWriter, r *http.Request) {
	rows, err := h.loadDues(r.Context(), r.URL.Query().Get("current_year_id"))
	if err != nil {
		h.logger.Error("outstanding dues export", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="outstanding-dues.csv"`)
	if err := WriteDuesCSV(w, rows); err != nil {
		h.logger.Error("write dues csv", slog.Any("error", err))
	}
}
