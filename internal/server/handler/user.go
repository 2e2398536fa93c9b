package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/betmatch/betmatch/internal/domain"
)

// UserQueryService defines the per-user read methods the user handler needs.
type UserQueryService interface {
	ListUserMarkets(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Market, error)
	ListUserTransactions(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Transaction, error)
	IsAdmin(ctx context.Context, wallet string) (bool, error)
}

// UserHandler serves identity and per-user history endpoints.
type UserHandler struct {
	users  UserQueryService
	logger *slog.Logger
}

// NewUserHandler creates a UserHandler with the given service and logger.
func NewUserHandler(users UserQueryService, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		users:  users,
		logger: logHandler(logger, "user"),
	}
}

// authUserResponse is the current-user payload. Admin standing comes from
// the injected policy, not from the stored row alone.
type authUserResponse struct {
	domain.User
	Admin bool `json:"admin"`
}

// CurrentUser returns the caller's user record, created on first sight.
// GET /api/auth/user
func (h *UserHandler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	admin, err := h.users.IsAdmin(r.Context(), user.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: admin check failed",
			slog.String("wallet", user.ID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authUserResponse{User: user, Admin: admin})
}

// UserMarkets returns markets where the caller participates on either side.
// GET /api/user/markets
func (h *UserHandler) UserMarkets(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	markets, err := h.users.ListUserMarkets(r.Context(), user.ID, parseListOpts(r))
	if err != nil {
		if !isDomainError(err) {
			h.logger.ErrorContext(r.Context(), "handler: list user markets failed",
				slog.String("wallet", user.ID),
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

// UserTransactions returns the caller's transaction history, newest-first.
// GET /api/user/transactions
func (h *UserHandler) UserTransactions(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	txns, err := h.users.ListUserTransactions(r.Context(), user.ID, parseListOpts(r))
	if err != nil {
		if !isDomainError(err) {
			h.logger.ErrorContext(r.Context(), "handler: list user transactions failed",
				slog.String("wallet", user.ID),
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}
