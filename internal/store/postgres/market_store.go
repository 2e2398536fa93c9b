package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/betmatch/betmatch/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL. The lifecycle
// transitions (join, settle, cancel) are conditional UPDATEs keyed on the
// expected current status so concurrent callers race on a single atomic row
// write instead of a read-then-write pair.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, title, description, category, stake_amount,
	counterparty_stake_amount, odds, creator_id, counterparty_id,
	status, settlement, expiry_date, payment_signature, created_at, settled_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string
	var settlement *string
	err := row.Scan(
		&m.ID, &m.Title, &m.Description, &m.Category, &m.StakeAmount,
		&m.CounterpartyStakeAmount, &m.Odds, &m.CreatorID, &m.CounterpartyID,
		&status, &settlement, &m.ExpiryDate, &m.PaymentSignature,
		&m.CreatedAt, &m.SettledAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	if settlement != nil {
		s := domain.Settlement(*settlement)
		m.Settlement = &s
	}
	return m, nil
}

// insertTransaction appends one audit-log row inside tx.
func insertTransaction(ctx context.Context, tx pgx.Tx, t domain.Transaction) error {
	if !t.Type.Valid() {
		return fmt.Errorf("postgres: transaction type %q: %w", t.Type, domain.ErrValidation)
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (user_id, market_id, type, amount, description, payment_signature)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.UserID, t.MarketID, string(t.Type), t.Amount, t.Description, t.PaymentSignature)
	if err != nil {
		return fmt.Errorf("postgres: insert transaction for %s: %w", t.UserID, err)
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *MarketStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

// Create inserts a new open market together with the creator's stake
// transaction (and the balance debit in custodial mode) as one unit.
func (s *MarketStore) Create(ctx context.Context, m domain.Market, stake domain.Transaction, debit *domain.BalanceChange) (domain.Market, error) {
	var created domain.Market
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if debit != nil {
			if err := applyBalanceChange(ctx, tx, *debit); err != nil {
				return err
			}
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO markets (
				title, description, category, stake_amount,
				counterparty_stake_amount, odds, creator_id,
				status, expiry_date, payment_signature
			) VALUES ($1, $2, $3, $4, $5, $6, $7, 'open', $8, $9)
			RETURNING `+marketCols,
			m.Title, m.Description, m.Category, m.StakeAmount,
			m.CounterpartyStakeAmount, m.Odds, m.CreatorID,
			m.ExpiryDate, m.PaymentSignature)

		var err error
		created, err = scanMarket(row)
		if err != nil {
			return fmt.Errorf("postgres: insert market: %w", err)
		}

		stake.MarketID = &created.ID
		return insertTransaction(ctx, tx, stake)
	})
	if err != nil {
		return domain.Market{}, err
	}
	return created, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

func (s *MarketStore) queryMarkets(ctx context.Context, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query markets: %w", err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}

// List returns markets newest-first, optionally filtered by status.
func (s *MarketStore) List(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" WHERE status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryMarkets(ctx, query, args...)
}

// ListByParticipant returns markets where wallet is the creator or the
// counterparty, newest-first.
func (s *MarketStore) ListByParticipant(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE creator_id = $1 OR counterparty_id = $1
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

	return s.queryMarkets(ctx, query, args...)
}

// ListSettledBetween returns settled markets whose settlement happened after
// `after` and before `before`, oldest-first. The lower bound lets the archiver
// resume from a watermark instead of re-reading the same oldest rows.
func (s *MarketStore) ListSettledBetween(ctx context.Context, after, before time.Time, limit int) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE status = 'settled' AND settled_at > $1 AND settled_at < $2
		ORDER BY settled_at ASC`
	args := []any{after, before}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}
	return s.queryMarkets(ctx, query, args...)
}

// Join atomically claims an open market for the joiner. The UPDATE is
// conditioned on the row still being open with no counterparty, so when two
// joiners race exactly one row write wins; the loser's UPDATE matches nothing
// and the follow-up lookup decides between "gone" and "no longer open".
func (s *MarketStore) Join(ctx context.Context, id int64, joiner string, stake domain.Transaction, debit *domain.BalanceChange) (domain.Market, error) {
	var joined domain.Market
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if debit != nil {
			if err := applyBalanceChange(ctx, tx, *debit); err != nil {
				return err
			}
		}

		row := tx.QueryRow(ctx, `
			UPDATE markets
			SET counterparty_id = $2, status = 'active'
			WHERE id = $1 AND status = 'open' AND counterparty_id IS NULL
			RETURNING `+marketCols,
			id, joiner)

		var err error
		joined, err = scanMarket(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return s.conflictError(ctx, tx, id, domain.ErrMarketNotOpen)
			}
			return fmt.Errorf("postgres: join market %d: %w", id, err)
		}

		stake.MarketID = &joined.ID
		return insertTransaction(ctx, tx, stake)
	})
	if err != nil {
		return domain.Market{}, err
	}
	return joined, nil
}

// Settle atomically flips an active market to settled and appends every
// payout/refund/fee row in the same transaction. A concurrent second settle
// matches no row and fails before any disbursement is written, so duplicate
// payouts cannot occur.
func (s *MarketStore) Settle(ctx context.Context, id int64, settlement domain.Settlement, settledAt time.Time, txns []domain.Transaction, credits []domain.BalanceChange) (domain.Market, error) {
	if !settlement.Valid() {
		return domain.Market{}, domain.ErrInvalidSettlement
	}

	var settled domain.Market
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE markets
			SET status = 'settled', settlement = $2, settled_at = $3
			WHERE id = $1 AND status = 'active'
			RETURNING `+marketCols,
			id, string(settlement), settledAt)

		var err error
		settled, err = scanMarket(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return s.conflictError(ctx, tx, id, domain.ErrMarketNotActive)
			}
			return fmt.Errorf("postgres: settle market %d: %w", id, err)
		}

		for _, t := range txns {
			t.MarketID = &settled.ID
			if err := insertTransaction(ctx, tx, t); err != nil {
				return err
			}
		}
		for _, c := range credits {
			if err := applyBalanceChange(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}
	return settled, nil
}

// Cancel atomically flips an open, unjoined market to cancelled and records
// the creator's refund.
func (s *MarketStore) Cancel(ctx context.Context, id int64, refund domain.Transaction, credit *domain.BalanceChange) (domain.Market, error) {
	var cancelled domain.Market
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE markets
			SET status = 'cancelled'
			WHERE id = $1 AND status = 'open' AND counterparty_id IS NULL
			RETURNING `+marketCols,
			id)

		var err error
		cancelled, err = scanMarket(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return s.conflictError(ctx, tx, id, domain.ErrMarketNotOpen)
			}
			return fmt.Errorf("postgres: cancel market %d: %w", id, err)
		}

		refund.MarketID = &cancelled.ID
		if err := insertTransaction(ctx, tx, refund); err != nil {
			return err
		}
		if credit != nil {
			return applyBalanceChange(ctx, tx, *credit)
		}
		return nil
	})
	if err != nil {
		return domain.Market{}, err
	}
	return cancelled, nil
}

// conflictError distinguishes a missing market from a state conflict after a
// conditional UPDATE matched no row.
func (s *MarketStore) conflictError(ctx context.Context, tx pgx.Tx, id int64, conflict error) error {
	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM markets WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check market %d: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return conflict
}
