package domain

import "github.com/shopspring/decimal"

// PlatformFeeRate is the fraction of the total pot retained on a decisive
// settlement. The fee is waived entirely on refunds.
var PlatformFeeRate = decimal.RequireFromString("0.02")

// MinStake is the smallest stake either side may commit.
var MinStake = decimal.RequireFromString("0.01")

// Odds bounds accepted at market creation.
var (
	MinOdds = decimal.RequireFromString("0.1")
	MaxOdds = decimal.RequireFromString("10")
)

// Payout describes a single disbursement owed to a party after settlement.
type Payout struct {
	UserID string
	Type   TransactionType // payout or refund
	Amount decimal.Decimal
}

// SettlementBreakdown is the full accounting of one settlement: the pot, the
// platform fee retained, and the disbursements owed. It is derived purely from
// the market row and the settlement value so that the same computation can be
// replayed for auditing.
type SettlementBreakdown struct {
	TotalPot     decimal.Decimal
	PlatformFee  decimal.Decimal
	WinnerPayout decimal.Decimal
	Payouts      []Payout
}

// ComputeSettlement derives the breakdown for settling m with outcome s.
//
// For a decisive outcome the winner receives the whole pot minus the platform
// fee. For a refund each party gets back exactly its own original stake --
// never a pooled or averaged amount -- and no fee is charged. The sum of all
// disbursements plus the fee always equals the pot exactly.
//
// The market must be active with a counterparty; callers are expected to have
// checked that already, so violations surface as ErrMissingCounterparty or
// ErrInvalidSettlement.
func ComputeSettlement(m Market, s Settlement) (SettlementBreakdown, error) {
	if !s.Valid() {
		return SettlementBreakdown{}, ErrInvalidSettlement
	}
	if m.CounterpartyID == nil {
		return SettlementBreakdown{}, ErrMissingCounterparty
	}

	pot := m.TotalPot()

	if s == SettlementRefund {
		return SettlementBreakdown{
			TotalPot:     pot,
			PlatformFee:  decimal.Zero,
			WinnerPayout: decimal.Zero,
			Payouts: []Payout{
				{UserID: m.CreatorID, Type: TransactionTypeRefund, Amount: m.StakeAmount},
				{UserID: *m.CounterpartyID, Type: TransactionTypeRefund, Amount: m.CounterpartyStakeAmount},
			},
		}, nil
	}

	fee := pot.Mul(PlatformFeeRate)
	winnerPayout := pot.Sub(fee)

	winner := m.CreatorID
	if s == SettlementCounterpartyWins {
		winner = *m.CounterpartyID
	}

	return SettlementBreakdown{
		TotalPot:     pot,
		PlatformFee:  fee,
		WinnerPayout: winnerPayout,
		Payouts: []Payout{
			{UserID: winner, Type: TransactionTypePayout, Amount: winnerPayout},
		},
	}, nil
}
