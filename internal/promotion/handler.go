package promotion

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/campusledger/campusledger/internal/platform/httpx"
	"github.com/campusledger/campusledger/internal/shared"
)

// ServicePort is what the handler needs from Service.
type ServicePort interface {
	StartSession(ctx context.Context, currentYearID, targetYearID int64) (SessionView, error)
	GetSession(ctx context.Context, id string) (SessionView, error)
	Advance(ctx context.Context, id string) (SessionView, error)
	Back(ctx context.Context, id string) (SessionView, error)
	Assign(ctx context.Context, id string, action FeeAction) (SessionView, error)
	Confirm(ctx context.Context, id string, actorID int64) (Result, error)
	ListAudits(ctx context.Context, page, perPage int) (AuditPage, error)
}

// Handler exposes the promotion workflow over HTTP.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service ServicePort) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers promotion routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sessions", h.startSession)
	r.Get("/sessions/{id}", h.getSession)
	r.Post("/sessions/{id}/advance", h.advance)
	r.Post("/sessions/{id}/back", h.back)
	r.Put("/sessions/{id}/actions/{studentID}", h.assign)
	r.Post("/sessions/{id}/confirm", h.confirm)
	r.Get("/audits", h.listAudits)
}

type startRequest struct {
	CurrentYearID int64 `json:"current_year_id"`
	TargetYearID  int64 `json:"target_year_id"`
}

type actionRequest struct {
	Kind          ActionKind      `json:"kind"`
	PaymentAmount decimal.Decimal `json:"payment_amount"`
	PaymentMethod string          `json:"payment_method"`
	WaiverReason  string          `json:"waiver_reason"`
	Notes         string          `json:"notes"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, err := h.service.StartSession(r.Context(), req.CurrentYearID, req.TargetYearID)
	if err != nil {
		h.fail(w, "start promotion session", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sess)
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get promotion session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Advance(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "advance promotion session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) back(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Back(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "promotion session back", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	studentID, err := strconv.ParseInt(chi.URLParam(r, "studentID"), 10, 64)
	if err != nil || studentID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid student id")
		return
	}
	var req actionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	sess, err := h.service.Assign(r.Context(), chi.URLParam(r, "id"), FeeAction{
		StudentID:     studentID,
		Kind:          req.Kind,
		PaymentAmount: req.PaymentAmount,
		PaymentMethod: req.PaymentMethod,
		WaiverReason:  req.WaiverReason,
		Notes:         req.Notes,
	})
	if err != nil {
		h.fail(w, "assign dues action", err)
		return
	}
	httpx.JSON(w, http.StatusOK, sess)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	actorID, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrActorRequired)
		return
	}
	res, err := h.service.Confirm(r.Context(), chi.URLParam(r, "id"), actorID)
	if err != nil {
		h.logger.Error("confirm promotion", slog.String("session_id", chi.URLParam(r, "id")), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) listAudits(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	out, err := h.service.ListAudits(r.Context(), page, perPage)
	if err != nil {
		h.fail(w, "list promotion audits", err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) fail(w http.ResponseWriter, msg string, err error) {
	h.logger.Warn(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}
