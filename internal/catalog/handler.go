package catalog

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/athenaeum-lms/athenaeum/internal/platform/httpx"
	"github.com/athenaeum-lms/athenaeum/internal/shared"
)

// Handler wires HTTP endpoints for the catalogue module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs catalogue handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers catalogue routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/titles", h.listTitles)
	r.Post("/titles", h.createTitle)
	r.Get("/titles/{id}", h.getTitle)
	r.Get("/titles/{id}/availability", h.getAvailability)
	r.Post("/titles/{id}/copies", h.adjustCopies)
}

type createTitleRequest struct {
	ISBN   string `json:"isbn"`
	Title  string `json:"title" validate:"required"`
	Author string `json:"author" validate:"required"`
	Genre  string `json:"genre"`
	Copies int64  `json:"copies" validate:"gte=0"`
}

type adjustCopiesRequest struct {
	Delta int64  `json:"delta" validate:"required"`
	Note  string `json:"note"`
}

type titleResponse struct {
	ID        int64     `json:"id"`
	ISBN      string    `json:"isbn,omitempty"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	Genre     string    `json:"genre,omitempty"`
	Total     int64     `json:"total_copies"`
	Available int64     `json:"available_copies"`
	CreatedAt time.Time `json:"created_at"`
}

func toTitleResponse(t *Title) titleResponse {
	return titleResponse{
		ID:        t.ID,
		ISBN:      t.ISBN,
		Title:     t.Title,
		Author:    t.Author,
		Genre:     t.Genre,
		Total:     t.Total,
		Available: t.Available,
		CreatedAt: t.CreatedAt,
	}
}

func (h *Handler) createTitle(w http.ResponseWriter, r *http.Request) {
	var req createTitleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	actor := shared.ActorFromContext(r.Context())
	title, err := h.service.CreateTitle(r.Context(), CreateTitleInput{
		ISBN:    req.ISBN,
		Title:   req.Title,
		Author:  req.Author,
		Genre:   req.Genre,
		Copies:  req.Copies,
		ActorID: actor.ID,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateISBN) {
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
			return
		}
		h.logger.Error("create title", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusCreated, toTitleResponse(title))
}

func (h *Handler) getTitle(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid title id")
		return
	}

	title, err := h.service.GetTitle(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTitleNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get title", slog.Int64("title_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, toTitleResponse(title))
}

func (h *Handler) listTitles(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	titles, err := h.service.ListTitles(r.Context(), ListFilter{
		Genre:  q.Get("genre"),
		Author: q.Get("author"),
		Limit:  limit,
	})
	if err != nil {
		h.logger.Error("list titles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	out := make([]titleResponse, 0, len(titles))
	for i := range titles {
		out = append(out, toTitleResponse(&titles[i]))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid title id")
		return
	}

	av, err := h.service.GetAvailability(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTitleNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get availability", slog.Int64("title_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]int64{
		"title_id":  av.TitleID,
		"total":     av.Total,
		"available": av.Available,
	})
}

func (h *Handler) adjustCopies(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid title id")
		return
	}

	var req adjustCopiesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	actor := shared.ActorFromContext(r.Context())
	title, err := h.service.AdjustCopies(r.Context(), AdjustCopiesInput{
		TitleID: id,
		Delta:   req.Delta,
		Note:    req.Note,
		ActorID: actor.ID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrTitleNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrWouldViolateInvariant), errors.Is(err, ErrInvalidDelta):
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		default:
			h.logger.Error("adjust copies", slog.Int64("title_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}

	httpx.JSON(w, http.StatusOK, toTitleResponse(title))
}
