package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// BalanceChange is a conditional balance mutation applied inside the same
// store transaction as the market write it accompanies. Debits fail with
// ErrInsufficientFunds when the user's balance does not cover the amount.
// Only the custodial funding mode produces balance changes; in payment-proof
// mode the engine passes nil/empty and balances stay untouched.
type BalanceChange struct {
	UserID string
	Amount decimal.Decimal // positive; Debit selects the direction
	Debit  bool
}

// UserStore persists wallet accounts.
type UserStore interface {
	Get(ctx context.Context, id string) (User, error)
	// Upsert creates the user if the wallet identity is unseen and returns the
	// stored row either way. Existing balance and admin flag are preserved.
	Upsert(ctx context.Context, id string) (User, error)
	// SetAdmin flips the persisted admin flag.
	SetAdmin(ctx context.Context, id string, isAdmin bool) error
}

// MarketStore persists markets and enforces the atomicity the lifecycle engine
// depends on: every mutating call writes the market row, its accompanying
// transaction rows, and any balance changes as one unit, and the join / settle
// / cancel transitions are conditional on the row still being in the expected
// state at write time (compare-and-swap, not read-then-write).
type MarketStore interface {
	// Create inserts m with status open and appends the creator's stake
	// transaction. debit is applied first when non-nil (custodial mode).
	Create(ctx context.Context, m Market, stake Transaction, debit *BalanceChange) (Market, error)

	GetByID(ctx context.Context, id int64) (Market, error)
	// List returns markets newest-first, optionally filtered by status
	// (empty string means all).
	List(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	// ListByParticipant returns markets where wallet is creator or counterparty.
	ListByParticipant(ctx context.Context, wallet string, opts ListOpts) ([]Market, error)
	// ListSettledBetween returns settled markets whose settlement happened
	// strictly after `after` and before `before`, oldest-first, for archival.
	// A zero `after` means no lower bound.
	ListSettledBetween(ctx context.Context, after, before time.Time, limit int) ([]Market, error)

	// Join atomically sets the counterparty and flips open -> active,
	// conditioned on the row still being open with a null counterparty.
	// Exactly one concurrent caller can ever succeed; losers observe
	// ErrMarketNotOpen. The joiner's stake transaction (and debit, when
	// custodial) commits in the same unit.
	Join(ctx context.Context, id int64, joiner string, stake Transaction, debit *BalanceChange) (Market, error)

	// Settle atomically flips active -> settled, records the settlement value
	// and timestamp, and appends the payout/refund/fee transactions, all in
	// one unit. The transition is conditioned on status still being active, so
	// a second concurrent settle observes ErrMarketNotActive and no duplicate
	// disbursement rows are ever written.
	Settle(ctx context.Context, id int64, s Settlement, settledAt time.Time, txns []Transaction, credits []BalanceChange) (Market, error)

	// Cancel atomically flips open -> cancelled and appends the creator's
	// refund transaction, conditioned on no counterparty having joined.
	Cancel(ctx context.Context, id int64, refund Transaction, credit *BalanceChange) (Market, error)
}

// TransactionStore reads the append-only audit log. Writes happen only through
// MarketStore mutations so a transaction row can never commit without the
// market write it belongs to.
type TransactionStore interface {
	ListByUser(ctx context.Context, wallet string, opts ListOpts) ([]Transaction, error)
	ListByMarket(ctx context.Context, marketID int64) ([]Transaction, error)
}
