package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market.
//
// Legal transitions:
//
//	open --join--> active --settle--> settled
//	open --cancel--> cancelled
//
// settled and cancelled are terminal.
type MarketStatus string

const (
	MarketStatusOpen      MarketStatus = "open"
	MarketStatusActive    MarketStatus = "active"
	MarketStatusSettled   MarketStatus = "settled"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// Valid reports whether s is a member of the closed status enum.
func (s MarketStatus) Valid() bool {
	switch s {
	case MarketStatusOpen, MarketStatusActive, MarketStatusSettled, MarketStatusCancelled:
		return true
	}
	return false
}

// Settlement is the admin-determined final outcome of a market.
type Settlement string

const (
	SettlementCreatorWins      Settlement = "creator_wins"
	SettlementCounterpartyWins Settlement = "counterparty_wins"
	SettlementRefund           Settlement = "refund"
)

// Valid reports whether s is a member of the closed settlement enum.
func (s Settlement) Valid() bool {
	switch s {
	case SettlementCreatorWins, SettlementCounterpartyWins, SettlementRefund:
		return true
	}
	return false
}

// Market is a 1-vs-1 proposition: the creator stakes StakeAmount against a
// counterparty staking CounterpartyStakeAmount, at the recorded odds. The
// payment signature is an opaque proof that the stake moved on-chain; it is
// recorded but never verified against the ledger here.
type Market struct {
	ID                      int64           `json:"id"`
	Title                   string          `json:"title"`
	Description             string          `json:"description"`
	Category                string          `json:"category"`
	StakeAmount             decimal.Decimal `json:"stakeAmount"`
	CounterpartyStakeAmount decimal.Decimal `json:"counterpartyStakeAmount"`
	Odds                    decimal.Decimal `json:"odds"`
	CreatorID               string          `json:"creatorId"`
	CounterpartyID          *string         `json:"counterpartyId"`
	Status                  MarketStatus    `json:"status"`
	Settlement              *Settlement     `json:"settlement"`
	ExpiryDate              time.Time       `json:"expiryDate"` // informational; never enforced
	PaymentSignature        string          `json:"paymentSignature"`
	CreatedAt               time.Time       `json:"createdAt"`
	SettledAt               *time.Time      `json:"settledAt"`
}

// TotalPot returns the combined stake of both sides.
func (m Market) TotalPot() decimal.Decimal {
	return m.StakeAmount.Add(m.CounterpartyStakeAmount)
}
