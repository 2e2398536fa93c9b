package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/betmatch/betmatch/internal/domain"
	"github.com/betmatch/betmatch/internal/service"
)

// AdminService defines the settlement and oversight methods the admin
// handler needs. Admin authorization itself happens inside the engine, so a
// non-admin reaching these routes still cannot settle anything.
type AdminService interface {
	SettleMarket(ctx context.Context, admin string, marketID int64, settlement domain.Settlement) (service.SettlementResult, error)
	ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	IsAdmin(ctx context.Context, wallet string) (bool, error)
}

// AdminHandler serves the admin settlement and oversight endpoints.
type AdminHandler struct {
	svc    AdminService
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler with the given service and logger.
func NewAdminHandler(svc AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		svc:    svc,
		logger: logHandler(logger, "admin"),
	}
}

type settleMarketRequest struct {
	Settlement string `json:"settlement" validate:"required,oneof=creator_wins counterparty_wins refund"`
}

// SettleMarket settles an active market with the given outcome.
// POST /api/admin/markets/{id}/settle
func (h *AdminHandler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	var req settleMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_settlement", err.Error())
		return
	}

	result, err := h.svc.SettleMarket(r.Context(), user.ID, id, domain.Settlement(req.Settlement))
	if err != nil {
		if !isDomainError(err) {
			h.logger.ErrorContext(r.Context(), "handler: settle market failed",
				slog.Int64("market_id", id),
				slog.String("error", err.Error()),
			)
		}
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "market settled",
		slog.Int64("market_id", id),
		slog.String("settlement", req.Settlement),
		slog.String("admin", user.ID),
	)
	writeJSON(w, http.StatusOK, result)
}

// ListMarkets returns all markets regardless of status for admin oversight.
// GET /api/admin/markets?status=&limit=&offset=
func (h *AdminHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	admin, err := h.svc.IsAdmin(r.Context(), user.ID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: admin check failed",
			slog.String("wallet", user.ID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	if !admin {
		writeError(w, http.StatusForbidden, "unauthorized", "admin access required")
		return
	}

	opts := parseListOpts(r)
	status := domain.MarketStatus(r.URL.Query().Get("status"))

	markets, err := h.svc.ListMarkets(r.Context(), status, opts)
	if err != nil {
		if !isDomainError(err) {
			h.logger.ErrorContext(r.Context(), "handler: admin list markets failed",
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
