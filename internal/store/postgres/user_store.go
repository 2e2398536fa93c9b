package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/betmatch/betmatch/internal/domain"
)

// UserStore implements domain.UserStore using PostgreSQL.
type UserStore struct {
	pool *pgxpool.Pool
}

// NewUserStore creates a new UserStore backed by the given connection pool.
func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

const userCols = `id, balance, is_admin, created_at, updated_at`

func scanUser(row pgx.Row) (domain.User, error) {
	var u domain.User
	err := row.Scan(&u.ID, &u.Balance, &u.IsAdmin, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

// Get retrieves a user by wallet public key.
func (s *UserStore) Get(ctx context.Context, id string) (domain.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.User{}, domain.ErrNotFound
		}
		return domain.User{}, fmt.Errorf("postgres: get user %s: %w", id, err)
	}
	return u, nil
}

// Upsert creates the user on first sight of the wallet identity and returns
// the stored row. Conflicting inserts only bump updated_at so an existing
// balance or admin flag is never clobbered by a concurrent upsert.
func (s *UserStore) Upsert(ctx context.Context, id string) (domain.User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET updated_at = NOW()
		RETURNING `+userCols, id)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, fmt.Errorf("postgres: upsert user %s: %w", id, err)
	}
	return u, nil
}

// SetAdmin flips the persisted admin flag.
func (s *UserStore) SetAdmin(ctx context.Context, id string, isAdmin bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET is_admin = $2, updated_at = NOW() WHERE id = $1`,
		id, isAdmin)
	if err != nil {
		return fmt.Errorf("postgres: set admin %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// applyBalanceChange executes a single conditional balance mutation inside tx.
// Debits require the balance to cover the amount; a debit that matches no row
// distinguishes "missing user" from "insufficient funds" with a second lookup.
func applyBalanceChange(ctx context.Context, tx pgx.Tx, ch domain.BalanceChange) error {
	if ch.Amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("postgres: balance change for %s: %w: amount must be positive", ch.UserID, domain.ErrValidation)
	}

	if ch.Debit {
		tag, err := tx.Exec(ctx, `
			UPDATE users SET balance = balance - $2, updated_at = NOW()
			WHERE id = $1 AND balance >= $2`,
			ch.UserID, ch.Amount)
		if err != nil {
			return fmt.Errorf("postgres: debit user %s: %w", ch.UserID, err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, ch.UserID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("postgres: debit user %s: %w", ch.UserID, err)
			}
			if !exists {
				return domain.ErrNotFound
			}
			return domain.ErrInsufficientFunds
		}
		return nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE users SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1`,
		ch.UserID, ch.Amount)
	if err != nil {
		return fmt.Errorf("postgres: credit user %s: %w", ch.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
