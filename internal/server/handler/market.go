package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betmatch/betmatch/internal/domain"
	"github.com/betmatch/betmatch/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package depends on the
// engine's behaviour, not its construction.
type MarketService interface {
	CreateMarket(ctx context.Context, creator string, p service.CreateMarketParams) (domain.Market, error)
	JoinMarket(ctx context.Context, joiner string, marketID int64, paymentSignature string) (domain.Market, error)
	CancelMarket(ctx context.Context, caller string, marketID int64) (service.CancelResult, error)
	GetMarket(ctx context.Context, id int64) (domain.Market, error)
	ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error)
	MarketTransactions(ctx context.Context, marketID int64) ([]domain.Transaction, error)
}

// MarketHandler serves market lifecycle HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketService, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

// createMarketRequest is the POST /api/markets body. Stake and odds limits
// are enforced by the engine; the tags here reject structurally bad input
// before it reaches the service.
type createMarketRequest struct {
	Title                   string          `json:"title" validate:"required,max=200"`
	Description             string          `json:"description" validate:"max=2000"`
	Category                string          `json:"category" validate:"required,max=64"`
	StakeAmount             decimal.Decimal `json:"stakeAmount" validate:"required"`
	CounterpartyStakeAmount decimal.Decimal `json:"counterpartyStakeAmount"`
	Odds                    decimal.Decimal `json:"odds"`
	ExpiryDate              time.Time       `json:"expiryDate" validate:"required"`
	PaymentSignature        string          `json:"paymentSignature"`
}

type joinMarketRequest struct {
	PaymentSignature string `json:"paymentSignature"`
}

// listMarketsResponse wraps the list endpoint output with its paging.
type listMarketsResponse struct {
	Markets []domain.Market `json:"markets"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns markets, optionally filtered by status.
// GET /api/markets?status=open&limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	status := domain.MarketStatus(r.URL.Query().Get("status"))

	markets, err := h.markets.ListMarkets(r.Context(), status, opts)
	if err != nil {
		h.logError(r, "list markets failed", err)
		writeDomainError(w, err)
		return
	}
	if markets == nil {
		markets = []domain.Market{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Markets: markets,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		h.logError(r, "get market failed", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// MarketTransactions returns the full transaction log of one market,
// oldest-first.
// GET /api/markets/{id}/transactions
func (h *MarketHandler) MarketTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	txns, err := h.markets.MarketTransactions(r.Context(), id)
	if err != nil {
		h.logError(r, "market transactions failed", err)
		writeDomainError(w, err)
		return
	}
	if txns == nil {
		txns = []domain.Transaction{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

// CreateMarket opens a new market staked by the caller.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	market, err := h.markets.CreateMarket(r.Context(), user.ID, service.CreateMarketParams{
		Title:                   req.Title,
		Description:             req.Description,
		Category:                req.Category,
		StakeAmount:             req.StakeAmount,
		CounterpartyStakeAmount: req.CounterpartyStakeAmount,
		Odds:                    req.Odds,
		ExpiryDate:              req.ExpiryDate,
		PaymentSignature:        req.PaymentSignature,
	})
	if err != nil {
		h.logError(r, "create market failed", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, market)
}

// JoinMarket takes the counterparty side of an open market.
// POST /api/markets/{id}/join
func (h *MarketHandler) JoinMarket(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	var req joinMarketRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	market, err := h.markets.JoinMarket(r.Context(), user.ID, id, req.PaymentSignature)
	if err != nil {
		h.logError(r, "join market failed", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, market)
}

// CancelMarket withdraws the caller's open market before anyone joins.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	result, err := h.markets.CancelMarket(r.Context(), user.ID, id)
	if err != nil {
		h.logError(r, "cancel market failed", err)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// logError records server-side failures. Expected domain rejections are
// already reported to the client and are not worth an error-level entry.
func (h *MarketHandler) logError(r *http.Request, msg string, err error) {
	if isDomainError(err) {
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+msg,
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
}
