package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger event.
type TransactionType string

const (
	TransactionTypeStake  TransactionType = "stake"
	TransactionTypePayout TransactionType = "payout"
	TransactionTypeFee    TransactionType = "fee"
	TransactionTypeRefund TransactionType = "refund"
)

// Valid reports whether t is a member of the closed type enum.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeStake, TransactionTypePayout, TransactionTypeFee, TransactionTypeRefund:
		return true
	}
	return false
}

// Transaction is one row of the append-only audit log. Every ledger-affecting
// event (stake, payout, fee, refund) produces exactly one row; rows are never
// mutated or deleted.
type Transaction struct {
	ID               int64           `json:"id"`
	UserID           string          `json:"userId"`
	MarketID         *int64          `json:"marketId"`
	Type             TransactionType `json:"type"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description"`
	PaymentSignature string          `json:"paymentSignature,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}
