package membership

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

// Handler wires HTTP endpoints for the membership module.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs membership handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers membership routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/plans", h.listPlans)
	r.Post("/members", h.registerMember)
	r.Get("/members/{id}", h.getMember)
	r.Post("/members/{id}/suspend", h.suspendMember)
	r.Post("/members/{id}/reinstate", h.reinstateMember)
	r.Post("/members/{id}/expire", h.expireMember)
}

type registerMemberRequest struct {
	PatronCode string `json:"patron_code" validate:"required"`
	Name       string `json:"name" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
	PlanCode   string `json:"plan_code" validate:"required"`
}

type suspendRequest struct {
	Reason string `json:"reason"`
}

type memberResponse struct {
	ID         int64     `json:"id"`
	PatronCode string    `json:"patron_code"`
	Name       string    `json:"name"`
	Email      string    `json:"email,omitempty"`
	PlanCode   string    `json:"plan_code"`
	Standing   string    `json:"standing"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *Handler) registerMember(w http.ResponseWriter, r *http.Request) {
	var req registerMemberRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	actor := shared.ActorFromContext(r.Context())
	member, err := h.service.RegisterMember(r.Context(), CreateMemberInput{
		PatronCode: req.PatronCode,
		Name:       req.Name,
		Email:      req.Email,
		PlanCode:   req.PlanCode,
		ActorID:    actor.ID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicatePatronCode):
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		case errors.Is(err, ErrPlanNotFound):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		default:
			h.logger.Error("register member", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}

	httpx.JSON(w, http.StatusCreated, memberResponse{
		ID:         member.ID,
		PatronCode: member.PatronCode,
		Name:       member.Name,
		Email:      member.Email,
		PlanCode:   member.PlanCode,
		Standing:   string(member.Standing),
		CreatedAt:  member.CreatedAt,
	})
}

func (h *Handler) getMember(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member id")
		return
	}

	member, err := h.service.GetMember(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get member", slog.Int64("member_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	openLoans, err := h.service.CountOpenLoans(r.Context(), id)
	if err != nil {
		h.logger.Error("count open loans", slog.Int64("member_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]any{
		"id":          member.ID,
		"patron_code": member.PatronCode,
		"name":        member.Name,
		"email":       member.Email,
		"standing":    string(member.Standing),
		"open_loans":  openLoans,
		"plan": map[string]any{
			"code":               member.Plan.Code,
			"name":               member.Plan.Name,
			"loan_duration_days": member.Plan.LoanDurationDays,
			"borrow_limit":       member.Plan.BorrowLimit,
			"daily_fine_rate":    member.Plan.DailyFineRate,
			"max_fine":           member.Plan.MaxFine,
		},
	})
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.service.ListPlans(r.Context())
	if err != nil {
		h.logger.Error("list plans", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, plans)
}

func (h *Handler) suspendMember(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member id")
		return
	}

	var req suspendRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && err.Error() != "EOF" {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}

	actor := shared.ActorFromContext(r.Context())
	if err := h.service.Suspend(r.Context(), id, actor.ID, req.Reason); err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("suspend member", slog.Int64("member_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) expireMember(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member id")
		return
	}

	actor := shared.ActorFromContext(r.Context())
	if err := h.service.Expire(r.Context(), id, actor.ID); err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("expire member", slog.Int64("member_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) reinstateMember(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member id")
		return
	}

	actor := shared.ActorFromContext(r.Context())
	if err := h.service.Reinstate(r.Context(), id, actor.ID); err != nil {
		if errors.Is(err, ErrMemberNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("reinstate member", slog.Int64("member_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.NoContent(w)
}
