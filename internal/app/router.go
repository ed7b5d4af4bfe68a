package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/campusledger/campusledger/internal/academic"
	"github.com/campusledger/campusledger/internal/fees"
	"github.com/campusledger/campusledger/internal/observability"
	"github.com/campusledger/campusledger/internal/promotion"
	"github.com/campusledger/campusledger/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	AcademicHandler  *academic.Handler
	FeesHandler      *fees.Handler
	PromotionHandler *promotion.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with campus defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AcademicHandler != nil {
		r.Route("/academic", params.AcademicHandler.MountRoutes)
	}
	if params.FeesHandler != nil {
		r.Route("/fees", params.FeesHandler.MountRoutes)
	}
	if params.PromotionHandler != nil {
		r.Route("/promotions", params.PromotionHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
