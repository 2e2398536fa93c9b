package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func activeMarket(creatorStake, counterpartyStake string) Market {
	counterparty := "GjwcWFQYzemBtpUoN5fMAP2FZviTtMRWCmrppGuTthJS"
	return Market{
		ID:                      1,
		Title:                   "BTC above 100k by March",
		CreatorID:               "7Np41oeYqPefeNQEHSv1UDhYrehxin3NStELsSKCT4K2",
		CounterpartyID:          &counterparty,
		StakeAmount:             dec(creatorStake),
		CounterpartyStakeAmount: dec(counterpartyStake),
		Status:                  MarketStatusActive,
	}
}

func TestComputeSettlementCreatorWins(t *testing.T) {
	m := activeMarket("0.10", "0.10")

	b, err := ComputeSettlement(m, SettlementCreatorWins)
	require.NoError(t, err)

	assert.True(t, b.TotalPot.Equal(dec("0.20")), "pot = %s", b.TotalPot)
	assert.True(t, b.PlatformFee.Equal(dec("0.004")), "fee = %s", b.PlatformFee)
	assert.True(t, b.WinnerPayout.Equal(dec("0.196")), "payout = %s", b.WinnerPayout)

	require.Len(t, b.Payouts, 1)
	assert.Equal(t, m.CreatorID, b.Payouts[0].UserID)
	assert.Equal(t, TransactionTypePayout, b.Payouts[0].Type)
	assert.True(t, b.Payouts[0].Amount.Equal(dec("0.196")))
}

func TestComputeSettlementCounterpartyWins(t *testing.T) {
	m := activeMarket("1", "0.5")

	b, err := ComputeSettlement(m, SettlementCounterpartyWins)
	require.NoError(t, err)

	assert.True(t, b.TotalPot.Equal(dec("1.5")))
	assert.True(t, b.PlatformFee.Equal(dec("0.03")))
	assert.True(t, b.WinnerPayout.Equal(dec("1.47")))

	require.Len(t, b.Payouts, 1)
	assert.Equal(t, *m.CounterpartyID, b.Payouts[0].UserID)
}

func TestComputeSettlementRefundReturnsOwnStakes(t *testing.T) {
	// Asymmetric stakes: a refund must return each side exactly what it put
	// in, never a pooled split.
	m := activeMarket("0.10", "0.05")

	b, err := ComputeSettlement(m, SettlementRefund)
	require.NoError(t, err)

	assert.True(t, b.PlatformFee.IsZero(), "refunds are fee-free")
	require.Len(t, b.Payouts, 2)

	assert.Equal(t, m.CreatorID, b.Payouts[0].UserID)
	assert.Equal(t, TransactionTypeRefund, b.Payouts[0].Type)
	assert.True(t, b.Payouts[0].Amount.Equal(dec("0.10")))

	assert.Equal(t, *m.CounterpartyID, b.Payouts[1].UserID)
	assert.Equal(t, TransactionTypeRefund, b.Payouts[1].Type)
	assert.True(t, b.Payouts[1].Amount.Equal(dec("0.05")))
}

func TestComputeSettlementConservesPot(t *testing.T) {
	cases := []struct {
		creator, counterparty string
		outcome               Settlement
	}{
		{"0.10", "0.10", SettlementCreatorWins},
		{"0.10", "0.05", SettlementCounterpartyWins},
		{"3.33", "1.11", SettlementCreatorWins},
		{"0.10", "0.05", SettlementRefund},
	}

	for _, tc := range cases {
		m := activeMarket(tc.creator, tc.counterparty)
		b, err := ComputeSettlement(m, tc.outcome)
		require.NoError(t, err)

		disbursed := b.PlatformFee
		for _, p := range b.Payouts {
			disbursed = disbursed.Add(p.Amount)
		}
		assert.True(t, disbursed.Equal(b.TotalPot),
			"%s/%s %s: disbursed %s, pot %s",
			tc.creator, tc.counterparty, tc.outcome, disbursed, b.TotalPot)
	}
}

func TestComputeSettlementRejectsInvalid(t *testing.T) {
	m := activeMarket("0.10", "0.10")

	_, err := ComputeSettlement(m, Settlement("bogus"))
	assert.ErrorIs(t, err, ErrInvalidSettlement)

	m.CounterpartyID = nil
	_, err = ComputeSettlement(m, SettlementCreatorWins)
	assert.ErrorIs(t, err, ErrMissingCounterparty)
}

func TestStatusAndSettlementValid(t *testing.T) {
	for _, s := range []MarketStatus{MarketStatusOpen, MarketStatusActive, MarketStatusSettled, MarketStatusCancelled} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, MarketStatus("pending").Valid())

	for _, s := range []Settlement{SettlementCreatorWins, SettlementCounterpartyWins, SettlementRefund} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Settlement("draw").Valid())
}
