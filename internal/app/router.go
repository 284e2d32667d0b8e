package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/athenaeum-lms/athenaeum/internal/borrowing"
	"github.com/athenaeum-lms/athenaeum/internal/catalog"
	"github.com/athenaeum-lms/athenaeum/internal/membership"
	"github.com/athenaeum-lms/athenaeum/internal/observability"
	"github.com/athenaeum-lms/athenaeum/internal/reporting"
	"github.com/athenaeum-lms/athenaeum/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	CatalogHandler    *catalog.Handler
	MembershipHandler *membership.Handler
	BorrowingHandler  *borrowing.Handler
	ReportingHandler  *reporting.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(api chi.Router) {
		if params.CatalogHandler != nil {
			params.CatalogHandler.MountRoutes(api)
		}
		if params.MembershipHandler != nil {
			params.MembershipHandler.MountRoutes(api)
		}
		if params.BorrowingHandler != nil {
			params.BorrowingHandler.MountRoutes(api)
		}
		if params.ReportingHandler != nil {
			params.ReportingHandler.MountRoutes(api)
		}
		if params.JobHandler != nil {
			api.Route("/jobs", func(jr chi.Router) {
				params.JobHandler.MountRoutes(jr)
			})
		}
	})

	return r
}
