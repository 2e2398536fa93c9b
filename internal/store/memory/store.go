// Package memory provides an in-memory implementation of the domain store
// interfaces with the same compare-and-swap transition semantics as the
// postgres store. A single mutex serializes every mutation, so the atomicity
// unit (market write + transaction rows + balance changes) holds trivially.
// It backs the engine and handler tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betmatch/betmatch/internal/domain"
)

// Store implements domain.UserStore, domain.MarketStore, and
// domain.TransactionStore in memory.
type Store struct {
	mu sync.Mutex

	users        map[string]domain.User
	markets      map[int64]domain.Market
	transactions []domain.Transaction

	nextMarketID int64
	nextTxnID    int64

	// InitialBalance seeds newly upserted users (custodial-mode tests).
	InitialBalance decimal.Decimal
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		users:          make(map[string]domain.User),
		markets:        make(map[int64]domain.Market),
		nextMarketID:   1,
		nextTxnID:      1,
		InitialBalance: decimal.Zero,
	}
}

// --- domain.UserStore ---

// Get retrieves a user by wallet public key.
func (s *Store) Get(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

// Upsert creates the user if unseen and returns the stored row.
func (s *Store) Upsert(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(id), nil
}

func (s *Store) upsertLocked(id string) domain.User {
	if u, ok := s.users[id]; ok {
		u.UpdatedAt = time.Now()
		s.users[id] = u
		return u
	}
	now := time.Now()
	u := domain.User{
		ID:        id,
		Balance:   s.InitialBalance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.users[id] = u
	return u
}

// SetAdmin flips the persisted admin flag.
func (s *Store) SetAdmin(_ context.Context, id string, isAdmin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return domain.ErrNotFound
	}
	u.IsAdmin = isAdmin
	u.UpdatedAt = time.Now()
	s.users[id] = u
	return nil
}

// stageBalanceChangesLocked applies changes to copies of the affected user
// rows and returns them without writing anything back. The caller commits the
// returned rows only once every change has validated.
func (s *Store) stageBalanceChangesLocked(changes []domain.BalanceChange) (map[string]domain.User, error) {
	staged := make(map[string]domain.User, len(changes))
	now := time.Now()
	for _, ch := range changes {
		u, ok := staged[ch.UserID]
		if !ok {
			u, ok = s.users[ch.UserID]
			if !ok {
				return nil, domain.ErrNotFound
			}
		}
		if ch.Debit {
			if u.Balance.LessThan(ch.Amount) {
				return nil, domain.ErrInsufficientFunds
			}
			u.Balance = u.Balance.Sub(ch.Amount)
		} else {
			u.Balance = u.Balance.Add(ch.Amount)
		}
		u.UpdatedAt = now
		staged[ch.UserID] = u
	}
	return staged, nil
}

func (s *Store) applyBalanceChangeLocked(ch domain.BalanceChange) error {
	u, ok := s.users[ch.UserID]
	if !ok {
		return domain.ErrNotFound
	}
	if ch.Debit {
		if u.Balance.LessThan(ch.Amount) {
			return domain.ErrInsufficientFunds
		}
		u.Balance = u.Balance.Sub(ch.Amount)
	} else {
		u.Balance = u.Balance.Add(ch.Amount)
	}
	u.UpdatedAt = time.Now()
	s.users[ch.UserID] = u
	return nil
}

// --- domain.MarketStore ---

func (s *Store) appendTransactionLocked(t domain.Transaction) {
	t.ID = s.nextTxnID
	s.nextTxnID++
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.transactions = append(s.transactions, t)
}

// Create inserts a new open market and the creator's stake transaction.
func (s *Store) Create(_ context.Context, m domain.Market, stake domain.Transaction, debit *domain.BalanceChange) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if debit != nil {
		if err := s.applyBalanceChangeLocked(*debit); err != nil {
			return domain.Market{}, err
		}
	}

	m.ID = s.nextMarketID
	s.nextMarketID++
	m.Status = domain.MarketStatusOpen
	m.CounterpartyID = nil
	m.Settlement = nil
	m.SettledAt = nil
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.markets[m.ID] = m

	stake.MarketID = &m.ID
	s.appendTransactionLocked(stake)

	return m, nil
}

// GetByID retrieves a market by ID.
func (s *Store) GetByID(_ context.Context, id int64) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

func (s *Store) listLocked(filter func(domain.Market) bool) []domain.Market {
	var out []domain.Market
	for _, m := range s.markets {
		if filter(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// List returns markets newest-first, optionally filtered by status.
func (s *Store) List(_ context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.listLocked(func(m domain.Market) bool {
		return status == "" || m.Status == status
	})
	return paginate(out, opts), nil
}

// ListByParticipant returns markets where wallet is creator or counterparty.
func (s *Store) ListByParticipant(_ context.Context, wallet string, opts domain.ListOpts) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.listLocked(func(m domain.Market) bool {
		return m.CreatorID == wallet ||
			(m.CounterpartyID != nil && *m.CounterpartyID == wallet)
	})
	return paginate(out, opts), nil
}

// ListSettledBetween returns settled markets settled after `after` and before
// `before`, oldest-first. A zero `after` means no lower bound.
func (s *Store) ListSettledBetween(_ context.Context, after, before time.Time, limit int) ([]domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.listLocked(func(m domain.Market) bool {
		return m.Status == domain.MarketStatusSettled &&
			m.SettledAt != nil &&
			m.SettledAt.After(after) && m.SettledAt.Before(before)
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].SettledAt.Before(*out[j].SettledAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Join claims an open market for the joiner. The status check and the write
// happen under the single store mutex, which is this store's equivalent of
// the conditional UPDATE.
func (s *Store) Join(_ context.Context, id int64, joiner string, stake domain.Transaction, debit *domain.BalanceChange) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	if m.Status != domain.MarketStatusOpen || m.CounterpartyID != nil {
		return domain.Market{}, domain.ErrMarketNotOpen
	}

	if debit != nil {
		if err := s.applyBalanceChangeLocked(*debit); err != nil {
			return domain.Market{}, err
		}
	}

	m.CounterpartyID = &joiner
	m.Status = domain.MarketStatusActive
	s.markets[id] = m

	stake.MarketID = &m.ID
	s.appendTransactionLocked(stake)

	return m, nil
}

// Settle flips an active market to settled and appends all disbursement rows.
func (s *Store) Settle(_ context.Context, id int64, settlement domain.Settlement, settledAt time.Time, txns []domain.Transaction, credits []domain.BalanceChange) (domain.Market, error) {
	if !settlement.Valid() {
		return domain.Market{}, domain.ErrInvalidSettlement
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	if m.Status != domain.MarketStatusActive {
		return domain.Market{}, domain.ErrMarketNotActive
	}

	// Stage every balance change before touching anything so a bad credit
	// target leaves balances and the market exactly as they were, matching
	// the all-or-nothing unit the postgres transaction provides.
	staged, err := s.stageBalanceChangesLocked(credits)
	if err != nil {
		return domain.Market{}, err
	}
	for id, u := range staged {
		s.users[id] = u
	}

	m.Status = domain.MarketStatusSettled
	m.Settlement = &settlement
	m.SettledAt = &settledAt
	s.markets[id] = m

	for _, t := range txns {
		t.MarketID = &m.ID
		s.appendTransactionLocked(t)
	}

	return m, nil
}

// Cancel flips an open, unjoined market to cancelled.
func (s *Store) Cancel(_ context.Context, id int64, refund domain.Transaction, credit *domain.BalanceChange) (domain.Market, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	if m.Status != domain.MarketStatusOpen || m.CounterpartyID != nil {
		return domain.Market{}, domain.ErrMarketNotOpen
	}

	if credit != nil {
		if err := s.applyBalanceChangeLocked(*credit); err != nil {
			return domain.Market{}, err
		}
	}

	m.Status = domain.MarketStatusCancelled
	s.markets[id] = m

	refund.MarketID = &m.ID
	s.appendTransactionLocked(refund)

	return m, nil
}

// --- domain.TransactionStore ---

// ListByUser returns a user's transactions, newest-first.
func (s *Store) ListByUser(_ context.Context, wallet string, opts domain.ListOpts) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Transaction
	for _, t := range s.transactions {
		if t.UserID == wallet {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, opts), nil
}

// ListByMarket returns every transaction recorded against a market, oldest-first.
func (s *Store) ListByMarket(_ context.Context, marketID int64) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Transaction
	for _, t := range s.transactions {
		if t.MarketID != nil && *t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}
