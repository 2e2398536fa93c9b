package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/betmatch/betmatch/internal/domain"
	"github.com/betmatch/betmatch/internal/policy"
	"github.com/betmatch/betmatch/internal/store/memory"
)

const (
	creator  = "7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2"
	joiner   = "GjwcWFQYzemBtpUoN5fMAP2FZviTtMRWCmrppGuTthJS"
	other    = "4k3Dyjzvzp8eMZWUXbBCjEvwSkkk59S5iCNLY3QrkX6R"
	adminKey = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	treasury = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

	proof = "5wHu1qwD4kKkyoLdJjvQZq4nNfFZ9QsQMJ1Q2cV6wPTn"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, cfg Config) (*MarketService, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.InitialBalance = dec("1000")
	svc := NewMarketService(cfg, store, store, store,
		policy.NewAllowList([]string{adminKey}), nil, nil, testLogger())
	return svc, store
}

func validParams() CreateMarketParams {
	return CreateMarketParams{
		Title:            "BTC above 100k by March",
		Category:         "crypto",
		StakeAmount:      dec("0.10"),
		ExpiryDate:       time.Now().Add(24 * time.Hour),
		PaymentSignature: proof,
	}
}

func createActive(t *testing.T, svc *MarketService) domain.Market {
	t.Helper()
	ctx := context.Background()
	m, err := svc.CreateMarket(ctx, creator, validParams())
	require.NoError(t, err)
	joined, err := svc.JoinMarket(ctx, joiner, m.ID, proof)
	require.NoError(t, err)
	return joined
}

func TestCreateMarketValidation(t *testing.T) {
	svc, _ := newEngine(t, Config{})
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateMarketParams)
		want   error
	}{
		{"missing title", func(p *CreateMarketParams) { p.Title = "  " }, domain.ErrValidation},
		{"missing category", func(p *CreateMarketParams) { p.Category = "" }, domain.ErrValidation},
		{"stake below minimum", func(p *CreateMarketParams) { p.StakeAmount = dec("0.001") }, domain.ErrValidation},
		{"missing expiry", func(p *CreateMarketParams) { p.ExpiryDate = time.Time{} }, domain.ErrValidation},
		{"odds too low", func(p *CreateMarketParams) { p.Odds = dec("0.01") }, domain.ErrValidation},
		{"odds too high", func(p *CreateMarketParams) { p.Odds = dec("11") }, domain.ErrValidation},
		{"missing proof", func(p *CreateMarketParams) { p.PaymentSignature = "" }, domain.ErrPaymentProofMissing},
		{"short proof", func(p *CreateMarketParams) { p.PaymentSignature = "abc123" }, domain.ErrPaymentProofMissing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams()
			tc.mutate(&p)
			_, err := svc.CreateMarket(ctx, creator, p)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestCreateMarketDerivesCounterpartyStake(t *testing.T) {
	svc, _ := newEngine(t, Config{})
	ctx := context.Background()

	p := validParams()
	p.Odds = dec("2")

	m, err := svc.CreateMarket(ctx, creator, p)
	require.NoError(t, err)

	// At 2:1 odds the joiner risks half the creator's stake.
	assert.True(t, m.CounterpartyStakeAmount.Equal(dec("0.05")),
		"counterparty stake = %s", m.CounterpartyStakeAmount)
	assert.Equal(t, domain.MarketStatusOpen, m.Status)
	assert.Nil(t, m.CounterpartyID)
}

func TestJoinMarket(t *testing.T) {
	svc, _ := newEngine(t, Config{})
	ctx := context.Background()

	m, err := svc.CreateMarket(ctx, creator, validParams())
	require.NoError(t, err)

	// Creator cannot take the other side of its own market.
	_, err = svc.JoinMarket(ctx, creator, m.ID, proof)
	assert.ErrorIs(t, err, domain.ErrSelfJoin)

	// Proof is required before the transition is attempted.
	_, err = svc.JoinMarket(ctx, joiner, m.ID, "short")
	assert.ErrorIs(t, err, domain.ErrPaymentProofMissing)

	joined, err := svc.JoinMarket(ctx, joiner, m.ID, proof)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusActive, joined.Status)
	require.NotNil(t, joined.CounterpartyID)
	assert.Equal(t, joiner, *joined.CounterpartyID)

	// Second join loses.
	_, err = svc.JoinMarket(ctx, other, m.ID, proof)
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)

	// Unknown market.
	_, err = svc.JoinMarket(ctx, joiner, 999, proof)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConcurrentJoinAdmitsOne(t *testing.T) {
	svc, store := newEngine(t, Config{})
	ctx := context.Background()

	m, err := svc.CreateMarket(ctx, creator, validParams())
	require.NoError(t, err)

	wallets := []string{joiner, other, adminKey, treasury}
	var g errgroup.Group
	results := make([]error, len(wallets))
	for i, w := range wallets {
		i, w := i, w
		g.Go(func() error {
			_, results[i] = svc.JoinMarket(ctx, w, m.ID, proof)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, domain.ErrMarketNotOpen)
		}
	}
	assert.Equal(t, 1, wins)

	txns, err := store.ListByMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 2, "creator stake plus exactly one joiner stake")
}

func TestSettleMarketAuthorization(t *testing.T) {
	svc, _ := newEngine(t, Config{})
	ctx := context.Background()
	m := createActive(t, svc)

	_, err := svc.SettleMarket(ctx, other, m.ID, domain.SettlementCreatorWins)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	_, err = svc.SettleMarket(ctx, adminKey, m.ID, domain.Settlement("draw"))
	assert.ErrorIs(t, err, domain.ErrInvalidSettlement)
}

func TestSettleMarketDecisive(t *testing.T) {
	svc, store := newEngine(t, Config{})
	ctx := context.Background()
	m := createActive(t, svc)

	res, err := svc.SettleMarket(ctx, adminKey, m.ID, domain.SettlementCounterpartyWins)
	require.NoError(t, err)

	assert.Equal(t, domain.MarketStatusSettled, res.Market.Status)
	require.NotNil(t, res.Market.Settlement)
	assert.Equal(t, domain.SettlementCounterpartyWins, *res.Market.Settlement)
	assert.NotNil(t, res.Market.SettledAt)

	assert.True(t, res.TotalPot.Equal(dec("0.20")))
	assert.True(t, res.PlatformFee.Equal(dec("0.004")))
	assert.True(t, res.WinnerPayout.Equal(dec("0.196")))
	require.Len(t, res.Payouts, 1)
	assert.Equal(t, joiner, res.Payouts[0].UserID)

	// Ledger: two stakes plus one payout, no fee row without a treasury.
	txns, err := store.ListByMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, domain.TransactionTypePayout, txns[2].Type)
	assert.Equal(t, joiner, txns[2].UserID)

	// Settlement is terminal.
	_, err = svc.SettleMarket(ctx, adminKey, m.ID, domain.SettlementCreatorWins)
	assert.ErrorIs(t, err, domain.ErrMarketNotActive)
}

func TestSettleMarketFeeRowWithTreasury(t *testing.T) {
	svc, store := newEngine(t, Config{TreasuryWallet: treasury})
	ctx := context.Background()
	m := createActive(t, svc)

	res, err := svc.SettleMarket(ctx, adminKey, m.ID, domain.SettlementCreatorWins)
	require.NoError(t, err)
	assert.True(t, res.PlatformFee.Equal(dec("0.004")))

	txns, err := store.ListByMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, txns, 4)
	assert.Equal(t, domain.TransactionTypeFee, txns[3].Type)
	assert.Equal(t, treasury, txns[3].UserID)
	assert.True(t, txns[3].Amount.Equal(dec("0.004")))
}

func TestSettleMarketRefundNoFee(t *testing.T) {
	svc, store := newEngine(t, Config{TreasuryWallet: treasury})
	ctx := context.Background()

	// Asymmetric stakes at 2:1 odds.
	p := validParams()
	p.Odds = dec("2")
	m, err := svc.CreateMarket(ctx, creator, p)
	require.NoError(t, err)
	_, err = svc.JoinMarket(ctx, joiner, m.ID, proof)
	require.NoError(t, err)

	res, err := svc.SettleMarket(ctx, adminKey, m.ID, domain.SettlementRefund)
	require.NoError(t, err)

	assert.True(t, res.PlatformFee.IsZero(), "refunds are fee-free even with a treasury")
	require.Len(t, res.Payouts, 2)
	assert.True(t, res.Payouts[0].Amount.Equal(dec("0.10")), "creator gets own stake back")
	assert.True(t, res.Payouts[1].Amount.Equal(dec("0.05")), "joiner gets own stake back")

	txns, err := store.ListByMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 4, "two stakes, two refunds, no fee row")
}

func TestConcurrentSettleAppliesOnce(t *testing.T) {
	svc, store := newEngine(t, Config{})
	ctx := context.Background()
	m := createActive(t, svc)

	const settlers = 8
	var g errgroup.Group
	results := make([]error, settlers)
	for i := 0; i < settlers; i++ {
		i := i
		g.Go(func() error {
			_, results[i] = svc.SettleMarket(ctx, adminKey, m.ID, domain.SettlementCreatorWins)
			return nil
		})
	}
	require.NoError(t, g.Wait())

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, domain.ErrMarketNotActive)
		}
	}
	assert.Equal(t, 1, wins, "settlement must apply exactly once")

	txns, err := store.ListByMarket(ctx, m.ID)
	require.NoError(t, err)
	assert.Len(t, txns, 3, "payout row written exactly once")
}

func TestSettleRejectsOpenMarket(t *testing.T) {
	svc, _ := newEngine(t, Config{})
	ctx := context.Background()

	m, err := svc.CreateMarket(ctx, creator, validParams())
	require.NoError(t, err)

	_, err = svc.SettleMarket(ctx, adminKey, m.ID, domain.SettlementCreatorWins)
	assert.ErrorIs(t, err, domain.ErrMarketNotActive)
}

func TestCancelMarket(t *testing.T) {
	svc, store := newEngine(t, Config{})
	ctx := context.Background()

	m, err := svc.CreateMarket(ctx, creator, validParams())
	require.NoError(t, err)

	// Only the creator may cancel.
	_, err = svc.CancelMarket(ctx, other, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotCreator)

	res, err := svc.CancelMarket(ctx, creator, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MarketStatusCancelled, res.Market.Status)
	assert.True(t, res.Refund.Equal(dec("0.10")))

	txns, err := store.ListByMarket(ctx, m.ID)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, domain.TransactionTypeRefund, txns[1].Type)
	assert.True(t, txns[1].Amount.Equal(dec("0.10")), "full stake back, no fee")

	// Cancelled is terminal.
	_, err = svc.CancelMarket(ctx, creator, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)
}

func TestCancelRejectedAfterJoin(t *testing.T) {
	svc, _ := newEngine(t, Config{})
	ctx := context.Background()
	m := createActive(t, svc)

	_, err := svc.CancelMarket(ctx, creator, m.ID)
	assert.ErrorIs(t, err, domain.ErrMarketNotOpen)
}

func TestCustodialStakeConservation(t *testing.T) {
	svc, store := newEngine(t, Config{Custodial: true, TreasuryWallet: treasury})
	ctx := context.Background()

	for _, w := range []string{creator, joiner, treasury} {
		_, err := store.Upsert(ctx, w)
		require.NoError(t, err)
	}

	m, err := svc.CreateMarket(ctx, creator, validParams())
	require.NoError(t, err)
	_, err = svc.JoinMarket(ctx, joiner, m.ID, proof)
	require.NoError(t, err)

	// Both stakes are escrowed.
	cu, _ := store.Get(ctx, creator)
	ju, _ := store.Get(ctx, joiner)
	assert.True(t, cu.Balance.Equal(dec("999.90")))
	assert.True(t, ju.Balance.Equal(dec("999.90")))

	_, err = svc.SettleMarket(ctx, adminKey, m.ID, domain.SettlementCreatorWins)
	require.NoError(t, err)

	cu, _ = store.Get(ctx, creator)
	ju, _ = store.Get(ctx, joiner)
	tu, _ := store.Get(ctx, treasury)

	assert.True(t, cu.Balance.Equal(dec("1000.096")), "winner balance = %s", cu.Balance)
	assert.True(t, ju.Balance.Equal(dec("999.90")), "loser stays debited")
	assert.True(t, tu.Balance.Equal(dec("1000.004")), "treasury collects the fee")

	// Total money across all parties is unchanged.
	total := cu.Balance.Add(ju.Balance).Add(tu.Balance)
	assert.True(t, total.Equal(dec("3000")), "total = %s", total)
}

func TestCustodialInsufficientFunds(t *testing.T) {
	svc, store := newEngine(t, Config{Custodial: true})
	store.InitialBalance = dec("0.01")
	ctx := context.Background()

	_, err := store.Upsert(ctx, creator)
	require.NoError(t, err)

	_, err = svc.CreateMarket(ctx, creator, validParams())
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Nothing was created.
	markets, err := svc.ListMarkets(ctx, "", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, markets)
}

func TestCustodialCancelRestoresBalance(t *testing.T) {
	svc, store := newEngine(t, Config{Custodial: true})
	ctx := context.Background()

	_, err := store.Upsert(ctx, creator)
	require.NoError(t, err)

	m, err := svc.CreateMarket(ctx, creator, validParams())
	require.NoError(t, err)

	_, err = svc.CancelMarket(ctx, creator, m.ID)
	require.NoError(t, err)

	u, err := store.Get(ctx, creator)
	require.NoError(t, err)
	assert.True(t, u.Balance.Equal(dec("1000")), "cancel refunds the full stake")
}

func TestListMarketsRejectsUnknownStatus(t *testing.T) {
	svc, _ := newEngine(t, Config{})
	_, err := svc.ListMarkets(context.Background(), domain.MarketStatus("pending"), domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestEventsPublishedOnLifecycle(t *testing.T) {
	store := memory.NewStore()
	sink := &captureSink{}
	svc := NewMarketService(Config{}, store, store, store,
		policy.NewAllowList([]string{adminKey}), nil, sink, testLogger())
	ctx := context.Background()

	m, err := svc.CreateMarket(ctx, creator, validParams())
	require.NoError(t, err)
	_, err = svc.JoinMarket(ctx, joiner, m.ID, proof)
	require.NoError(t, err)
	_, err = svc.SettleMarket(ctx, adminKey, m.ID, domain.SettlementRefund)
	require.NoError(t, err)

	require.Len(t, sink.events, 3)
	assert.Equal(t, domain.EventMarketCreated, sink.events[0].Type)
	assert.Equal(t, domain.EventMarketJoined, sink.events[1].Type)
	assert.Equal(t, domain.EventMarketSettled, sink.events[2].Type)
}

type captureSink struct {
	events []domain.Event
}

func (c *captureSink) Publish(_ context.Context, e domain.Event) {
	c.events = append(c.events, e)
}
