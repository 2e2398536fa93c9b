package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/betmatch/betmatch/internal/domain"
)

// TransactionStore implements domain.TransactionStore using PostgreSQL.
// It is read-only: transaction rows are written exclusively through
// MarketStore mutations so they commit atomically with the market state
// they describe.
type TransactionStore struct {
	pool *pgxpool.Pool
}

// NewTransactionStore creates a new TransactionStore backed by the given pool.
func NewTransactionStore(pool *pgxpool.Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const transactionCols = `id, user_id, market_id, type, amount, description, payment_signature, created_at`

func (s *TransactionStore) query(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query transactions: %w", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		var typ string
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.MarketID, &typ, &t.Amount,
			&t.Description, &t.PaymentSignature, &t.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan transaction: %w", err)
		}
		t.Type = domain.TransactionType(typ)
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: transaction rows: %w", err)
	}
	return txns, nil
}

// ListByUser returns a user's transactions, newest-first.
func (s *TransactionStore) ListByUser(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionCols + ` FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC`
	args := []any{wallet}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.query(ctx, query, args...)
}

// ListByMarket returns every transaction recorded against a market,
// oldest-first, which reads as the market's audit trail.
func (s *TransactionStore) ListByMarket(ctx context.Context, marketID int64) ([]domain.Transaction, error) {
	return s.query(ctx,
		`SELECT `+transactionCols+` FROM transactions
		WHERE market_id = $1
		ORDER BY created_at ASC, id ASC`,
		marketID)
}
