package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betmatch/betmatch/internal/domain"
	"github.com/betmatch/betmatch/internal/policy"
	"github.com/betmatch/betmatch/internal/server/handler"
	"github.com/betmatch/betmatch/internal/service"
	"github.com/betmatch/betmatch/internal/store/memory"
)

const (
	creatorWallet = "7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2"
	joinerWallet  = "GjwcWFQYzemBtpUoN5fMAP2FZviTtMRWCmrppGuTthJS"
	adminWallet   = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	proofSig      = "5wHu1qwD4kKkyoLdJjvQZq4nNfFZ9QsQMJ1Q2cV6wPTn"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()

	userSvc := service.NewUserService(store, logger)
	marketSvc := service.NewMarketService(
		service.Config{},
		store, store, store,
		policy.NewAllowList([]string{adminWallet}),
		nil, nil, logger,
	)

	srv := NewServer(
		Config{Port: 0},
		Handlers{
			Health:  handler.NewHealthHandler(logger),
			Markets: handler.NewMarketHandler(marketSvc, logger),
			Users:   handler.NewUserHandler(marketSvc, logger),
			Admin:   handler.NewAdminHandler(marketSvc, logger),
		},
		userSvc,
		nil, // no rate limiter
		nil, // no websocket hub
		logger,
	)

	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, wallet string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if wallet != "" {
		req.Header.Set("X-Wallet-Public-Key", wallet)
	}

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errCode(t *testing.T, data []byte) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	return body.Code
}

func createBody() map[string]any {
	return map[string]any{
		"title":            "BTC above 100k by March",
		"category":         "crypto",
		"stakeAmount":      "0.10",
		"expiryDate":       time.Now().Add(24 * time.Hour).Format(time.RFC3339),
		"paymentSignature": proofSig,
	}
}

func createMarket(t *testing.T, ts *httptest.Server) domain.Market {
	t.Helper()
	resp, data := doJSON(t, ts, http.MethodPost, "/api/markets", creatorWallet, createBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var m domain.Market
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), `"status":"ok"`)
}

func TestIdentityRequired(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts, http.MethodPost, "/api/markets", "", createBody())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "identity_required", errCode(t, data))
}

func TestMalformedWalletRejected(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, ts, http.MethodGet, "/api/auth/user", "not-base58-0OIl", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateAndGetMarket(t *testing.T) {
	ts := newTestServer(t)
	m := createMarket(t, ts)

	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	assert.Equal(t, creatorWallet, m.CreatorID)
	assert.Nil(t, m.CounterpartyID)
	assert.True(t, m.StakeAmount.Equal(decimal.RequireFromString("0.10")))

	resp, data := doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/markets/%d", m.ID), "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var got domain.Market
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, m.ID, got.ID)
}

func TestGetMarketNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts, http.MethodGet, "/api/markets/999", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errCode(t, data))
}

func TestCreateMarketValidationError(t *testing.T) {
	ts := newTestServer(t)

	body := createBody()
	body["title"] = ""
	resp, data := doJSON(t, ts, http.MethodPost, "/api/markets", creatorWallet, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", errCode(t, data))

	body = createBody()
	delete(body, "paymentSignature")
	resp, data = doJSON(t, ts, http.MethodPost, "/api/markets", creatorWallet, body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "payment_proof_missing", errCode(t, data))
}

func TestJoinFlow(t *testing.T) {
	ts := newTestServer(t)
	m := createMarket(t, ts)
	joinPath := fmt.Sprintf("/api/markets/%d/join", m.ID)
	joinBody := map[string]any{"paymentSignature": proofSig}

	// Creator cannot join its own market.
	resp, data := doJSON(t, ts, http.MethodPost, joinPath, creatorWallet, joinBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "self_join", errCode(t, data))

	// Counterparty joins.
	resp, data = doJSON(t, ts, http.MethodPost, joinPath, joinerWallet, joinBody)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var joined domain.Market
	require.NoError(t, json.Unmarshal(data, &joined))
	assert.Equal(t, domain.MarketStatusActive, joined.Status)
	require.NotNil(t, joined.CounterpartyID)
	assert.Equal(t, joinerWallet, *joined.CounterpartyID)

	// The market is no longer open to others.
	resp, data = doJSON(t, ts, http.MethodPost, joinPath, adminWallet, joinBody)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "market_not_open", errCode(t, data))
}

func TestSettleFlow(t *testing.T) {
	ts := newTestServer(t)
	m := createMarket(t, ts)
	doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/markets/%d/join", m.ID), joinerWallet,
		map[string]any{"paymentSignature": proofSig})

	settlePath := fmt.Sprintf("/api/admin/markets/%d/settle", m.ID)

	// Non-admin is refused by the engine.
	resp, data := doJSON(t, ts, http.MethodPost, settlePath, joinerWallet,
		map[string]any{"settlement": "creator_wins"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "unauthorized", errCode(t, data))

	// Unknown settlement value fails DTO validation.
	resp, data = doJSON(t, ts, http.MethodPost, settlePath, adminWallet,
		map[string]any{"settlement": "draw"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_settlement", errCode(t, data))

	// Admin settles.
	resp, data = doJSON(t, ts, http.MethodPost, settlePath, adminWallet,
		map[string]any{"settlement": "creator_wins"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var result service.SettlementResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.TotalPot.Equal(decimal.RequireFromString("0.20")))
	assert.True(t, result.PlatformFee.Equal(decimal.RequireFromString("0.004")))
	assert.True(t, result.WinnerPayout.Equal(decimal.RequireFromString("0.196")))

	// Settling again conflicts.
	resp, data = doJSON(t, ts, http.MethodPost, settlePath, adminWallet,
		map[string]any{"settlement": "creator_wins"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "market_not_active", errCode(t, data))
}

func TestCancelFlow(t *testing.T) {
	ts := newTestServer(t)
	m := createMarket(t, ts)
	cancelPath := fmt.Sprintf("/api/markets/%d/cancel", m.ID)

	// Only the creator may cancel.
	resp, data := doJSON(t, ts, http.MethodPost, cancelPath, joinerWallet, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "not_creator", errCode(t, data))

	resp, data = doJSON(t, ts, http.MethodPost, cancelPath, creatorWallet, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var result service.CancelResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, domain.MarketStatusCancelled, result.Market.Status)
	assert.True(t, result.Refund.Equal(decimal.RequireFromString("0.10")))
}

func TestListMarketsByStatus(t *testing.T) {
	ts := newTestServer(t)
	createMarket(t, ts)
	m := createMarket(t, ts)
	doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/markets/%d/join", m.ID), joinerWallet,
		map[string]any{"paymentSignature": proofSig})

	resp, data := doJSON(t, ts, http.MethodGet, "/api/markets?status=open", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Markets []domain.Market `json:"markets"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	require.Len(t, body.Markets, 1)
	assert.Equal(t, domain.MarketStatusOpen, body.Markets[0].Status)

	// Unknown status is rejected, not silently empty.
	resp, data = doJSON(t, ts, http.MethodGet, "/api/markets?status=pending", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation", errCode(t, data))
}

func TestCurrentUserAndHistory(t *testing.T) {
	ts := newTestServer(t)
	m := createMarket(t, ts)
	doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/markets/%d/join", m.ID), joinerWallet,
		map[string]any{"paymentSignature": proofSig})

	resp, data := doJSON(t, ts, http.MethodGet, "/api/auth/user", adminWallet, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var user struct {
		ID    string `json:"id"`
		Admin bool   `json:"admin"`
	}
	require.NoError(t, json.Unmarshal(data, &user))
	assert.Equal(t, adminWallet, user.ID)
	assert.True(t, user.Admin)

	resp, data = doJSON(t, ts, http.MethodGet, "/api/user/markets", joinerWallet, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var markets struct {
		Markets []domain.Market `json:"markets"`
	}
	require.NoError(t, json.Unmarshal(data, &markets))
	assert.Len(t, markets.Markets, 1)

	resp, data = doJSON(t, ts, http.MethodGet, "/api/user/transactions", joinerWallet, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var txns struct {
		Transactions []domain.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(data, &txns))
	require.Len(t, txns.Transactions, 1)
	assert.Equal(t, domain.TransactionTypeStake, txns.Transactions[0].Type)
}

func TestAdminListRequiresAdmin(t *testing.T) {
	ts := newTestServer(t)
	createMarket(t, ts)

	resp, data := doJSON(t, ts, http.MethodGet, "/api/admin/markets", creatorWallet, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "unauthorized", errCode(t, data))

	resp, data = doJSON(t, ts, http.MethodGet, "/api/admin/markets", adminWallet, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Markets []domain.Market `json:"markets"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Len(t, body.Markets, 1)
}

func TestMarketTransactionsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	m := createMarket(t, ts)
	doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/markets/%d/join", m.ID), joinerWallet,
		map[string]any{"paymentSignature": proofSig})

	resp, data := doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/markets/%d/transactions", m.ID), "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Transactions []domain.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	require.Len(t, body.Transactions, 2)
	assert.Equal(t, creatorWallet, body.Transactions[0].UserID)
	assert.Equal(t, joinerWallet, body.Transactions[1].UserID)
}
