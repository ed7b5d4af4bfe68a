package academic

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/campusledger/campusledger/internal/platform/httpx"
	"github.com/campusledger/campusledger/internal/shared"
)

// ServicePort is what the handler needs from Service.
type ServicePort interface {
	ListYears(ctx context.Context) ([]AcademicYear, error)
	CreateYear(ctx context.Context, in YearInput) (AcademicYear, error)
	UpdateYear(ctx context.Context, id int64, in YearInput) (AcademicYear, error)
	SetCurrentYear(ctx context.Context, id, actorID int64) (AcademicYear, error)
	ListClasses(ctx context.Context) ([]Class, error)
	CreateClass(ctx context.Context, in ClassInput) (Class, error)
	ListStudents(ctx context.Context, filter StudentFilter) ([]Student, error)
	CreateStudent(ctx context.Context, in StudentInput) (Student, error)
	ListFeeStructures(ctx context.Context, yearID int64) ([]FeeStructure, error)
	CreateFeeStructure(ctx context.Context, in FeeStructureInput) (FeeStructure, error)
}

// Handler exposes academic records over JSON.
type Handler struct {
	logger  *slog.Logger
	service ServicePort
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service ServicePort) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers academic routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/years", h.listYears)
	r.Post("/years", h.createYear)
	r.Put("/years/{id}", h.updateYear)
	r.Post("/years/{id}/current", h.setCurrentYear)
	r.Get("/classes", h.listClasses)
	r.Post("/classes", h.createClass)
	r.Get("/students", h.listStudents)
	r.Post("/students", h.createStudent)
	r.Get("/fee-structures", h.listFeeStructures)
	r.Post("/fee-structures", h.createFeeStructure)
}

func (h *Handler) listYears(w http.ResponseWriter, r *http.Request) {
	years, err := h.service.ListYears(r.Context())
	if err != nil {
		h.fail(w, "list years", err)
		return
	}
	httpx.JSON(w, http.StatusOK, years)
}

func (h *Handler) createYear(w http.ResponseWriter, r *http.Request) {
	var in YearInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	year, err := h.service.CreateYear(r.Context(), in)
	if err != nil {
		h.fail(w, "create year", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, year)
}

func (h *Handler) updateYear(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var in YearInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	year, err := h.service.UpdateYear(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update year", err)
		return
	}
	httpx.JSON(w, http.StatusOK, year)
}

func (h *Handler) setCurrentYear(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actorID, _ := shared.ActorFromContext(r.Context())
	year, err := h.service.SetCurrentYear(r.Context(), id, actorID)
	if err != nil {
		h.fail(w, "set current year", err)
		return
	}
	httpx.JSON(w, http.StatusOK, year)
}

func (h *Handler) listClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := h.service.ListClasses(r.Context())
	if err != nil {
		h.fail(w, "list classes", err)
		return
	}
	httpx.JSON(w, http.StatusOK, classes)
}

func (h *Handler) createClass(w http.ResponseWriter, r *http.Request) {
	var in ClassInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	class, err := h.service.CreateClass(r.Context(), in)
	if err != nil {
		h.fail(w, "create class", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, class)
}

func (h *Handler) listStudents(w http.ResponseWriter, r *http.Request) {
	filter := StudentFilter{Status: StudentStatus(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("class_id"); raw != "" {
		filter.ClassID, _ = strconv.ParseInt(raw, 10, 64)
	}
	students, err := h.service.ListStudents(r.Context(), filter)
	if err != nil {
		h.fail(w, "list students", err)
		return
	}
	httpx.JSON(w, http.StatusOK, students)
}

func (h *Handler) createStudent(w http.ResponseWriter, r *http.Request) {
	var in StudentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	student, err := h.service.CreateStudent(r.Context(), in)
	if err != nil {
		h.fail(w, "create student", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, student)
}

func (h *Handler) listFeeStructures(w http.ResponseWriter, r *http.Request) {
	yearID, _ := strconv.ParseInt(r.URL.Query().Get("year_id"), 10, 64)
	structures, err := h.service.ListFeeStructures(r.Context(), yearID)
	if err != nil {
		h.fail(w, "list fee structures", err)
		return
	}
	httpx.JSON(w, http.StatusOK, structures)
}

func (h *Handler) createFeeStructure(w http.ResponseWriter, r *http.Request) {
	var in FeeStructureInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	fs, err := h.service.CreateFeeStructure(r.Context(), in)
	if err != nil {
		h.fail(w, "create fee structure", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, fs)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+name)
		return 0, false
	}
	return id, true
}
