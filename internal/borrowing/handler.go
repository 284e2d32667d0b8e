package borrowing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/athenaeum-lms/athenaeum/internal/catalog"
	"github.com/athenaeum-lms/athenaeum/internal/membership"
	"github.com/athenaeum-lms/athenaeum/internal/platform/db"
	"github.com/athenaeum-lms/athenaeum/internal/platform/httpx"
	"github.com/athenaeum-lms/athenaeum/internal/shared"
)

// Handler wires HTTP endpoints for the circulation engine.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs borrowing handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers circulation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/loans", h.issueLoan)
	r.Get("/loans", h.listLoans)
	r.Get("/loans/{id}", h.getLoan)
	r.Post("/loans/{id}/return", h.returnLoan)
	r.Get("/fines/{id}", h.getFine)
	r.Post("/fines/{id}/settle", h.settleFine)
	r.Get("/members/{id}/fines", h.listMemberFines)
}

type issueLoanRequest struct {
	TitleID  int64 `json:"title_id" validate:"required,gt=0"`
	MemberID int64 `json:"member_id" validate:"required,gt=0"`
}

type settleFineRequest struct {
	Amount int64 `json:"amount" validate:"gte=0"`
}

type loanResponse struct {
	ID         int64      `json:"id"`
	Code       string     `json:"code"`
	TitleID    int64      `json:"title_id"`
	MemberID   int64      `json:"member_id"`
	IssuedAt   time.Time  `json:"issued_at"`
	DueAt      time.Time  `json:"due_at"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	Status     string     `json:"status"`
	Overdue    bool       `json:"overdue"`
}

type fineResponse struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code"`
	LoanID    int64      `json:"loan_id"`
	Amount    int64      `json:"amount"`
	AccruedAt time.Time  `json:"accrued_at"`
	Settled   bool       `json:"settled"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}

func toLoanResponse(l Loan, now time.Time) loanResponse {
	return loanResponse{
		ID:         l.ID,
		Code:       l.Code,
		TitleID:    l.TitleID,
		MemberID:   l.MemberID,
		IssuedAt:   l.IssuedAt,
		DueAt:      l.DueAt,
		ReturnedAt: l.ReturnedAt,
		Status:     string(l.Status),
		Overdue:    l.Overdue(now),
	}
}

func toFineResponse(f Fine) fineResponse {
	return fineResponse{
		ID:        f.ID,
		Code:      f.Code,
		LoanID:    f.LoanID,
		Amount:    f.Amount,
		AccruedAt: f.AccruedAt,
		Settled:   f.Settled,
		SettledAt: f.SettledAt,
	}
}

func (h *Handler) issueLoan(w http.ResponseWriter, r *http.Request) {
	var req issueLoanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	actor := shared.ActorFromContext(r.Context())
	var loan *Loan
	err := db.Retry(r.Context(), func(ctx context.Context) error {
		var err error
		loan, err = h.service.IssueLoan(ctx, IssueLoanInput{
			TitleID:  req.TitleID,
			MemberID: req.MemberID,
			ActorID:  actor.ID,
		})
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrTitleNotFound), errors.Is(err, membership.ErrMemberNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrMemberSuspended), errors.Is(err, ErrBorrowLimitExceeded):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Policy Violation", err.Error())
		case errors.Is(err, ErrNoCopyAvailable):
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		default:
			h.logger.Error("issue loan", slog.Int64("title_id", req.TitleID), slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusCreated, toLoanResponse(*loan, time.Now().UTC()))
}

func (h *Handler) returnLoan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid loan id")
		return
	}

	actor := shared.ActorFromContext(r.Context())
	var result *ReturnResult
	err = db.Retry(r.Context(), func(ctx context.Context) error {
		var err error
		result, err = h.service.ReturnLoan(ctx, ReturnLoanInput{LoanID: id, ActorID: actor.ID})
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrLoanNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrLoanAlreadyClosed):
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		default:
			h.logger.Error("return loan", slog.Int64("loan_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}

	resp := map[string]any{"loan": toLoanResponse(result.Loan, time.Now().UTC())}
	if result.Fine != nil {
		resp["fine"] = toFineResponse(*result.Fine)
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) getLoan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid loan id")
		return
	}

	loan, err := h.service.GetLoan(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrLoanNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get loan", slog.Int64("loan_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLoanResponse(*loan, time.Now().UTC()))
}

func (h *Handler) listLoans(w http.ResponseWriter, r *http.Request) {
	filter := ListLoansFilter{OpenOnly: r.URL.Query().Get("open") == "true"}
	if v := r.URL.Query().Get("member_id"); v != "" {
		filter.MemberID, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("title_id"); v != "" {
		filter.TitleID, _ = strconv.ParseInt(v, 10, 64)
	}

	loans, err := h.service.ListLoans(r.Context(), filter)
	if err != nil {
		h.logger.Error("list loans", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	now := time.Now().UTC()
	out := make([]loanResponse, 0, len(loans))
	for _, l := range loans {
		out = append(out, toLoanResponse(l, now))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getFine(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid fine id")
		return
	}

	fine, err := h.service.GetFine(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrFineNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get fine", slog.Int64("fine_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toFineResponse(*fine))
}

func (h *Handler) settleFine(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid fine id")
		return
	}

	var req settleFineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}

	actor := shared.ActorFromContext(r.Context())
	fine, err := h.service.SettleFine(r.Context(), SettleFineInput{FineID: id, Amount: req.Amount, ActorID: actor.ID})
	if err != nil {
		switch {
		case errors.Is(err, ErrFineNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrFineAlreadySettled):
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		case errors.Is(err, ErrAmountMismatch):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Amount Mismatch", err.Error())
		default:
			h.logger.Error("settle fine", slog.Int64("fine_id", id), slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, toFineResponse(*fine))
}

func (h *Handler) listMemberFines(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid member id")
		return
	}

	fines, err := h.service.ListFinesByMember(r.Context(), id)
	if err != nil {
		h.logger.Error("list member fines", slog.Int64("member_id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]fineResponse, 0, len(fines))
	for _, f := range fines {
		out = append(out, toFineResponse(f))
	}
	httpx.JSON(w, http.StatusOK, out)
}
