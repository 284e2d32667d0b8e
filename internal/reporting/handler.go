package reporting

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/athenaeum-lms/athenaeum/internal/platform/httpx"
)

// Handler wires the reporting endpoint.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs reporting handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reporting routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reports/summary", h.summary)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context())
	if err != nil {
		h.logger.Error("reporting summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
