// Package service implements the market lifecycle engine: the rules governing
// how a market moves from open to active to settled or cancelled, how stakes
// are accounted, and how payouts and the platform fee are computed. The engine
// holds no state across calls; every operation re-reads and re-writes through
// the store, and all concurrency correctness rests on the store's conditional
// transition writes.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betmatch/betmatch/internal/domain"
	"github.com/betmatch/betmatch/internal/policy"
)

// minPaymentSignatureLen is the only check applied to payment proofs. The
// signature is never verified against the chain; verification belongs to the
// payment collaborator in front of this service.
const minPaymentSignatureLen = 10

// Config holds engine parameters.
type Config struct {
	// Custodial selects the funding mode. When true, stakes are debited from
	// and payouts credited to the users' ledger balances inside the same store
	// transaction as the market write. When false (payment-proof mode, the
	// default), funds move off-chain and balances are never touched.
	Custodial bool

	// TreasuryWallet, when set, receives a fee transaction on every decisive
	// settlement. When empty the fee is retained implicitly (pot minus payout)
	// with no fee row, matching the behavior the service shipped with.
	TreasuryWallet string
}

// MarketService is the market lifecycle engine.
type MarketService struct {
	cfg     Config
	markets domain.MarketStore
	users   domain.UserStore
	txns    domain.TransactionStore
	admins  policy.Admin
	cache   domain.MarketCache // optional
	events  domain.EventSink   // optional
	logger  *slog.Logger
}

// NewMarketService creates a MarketService. cache and events may be nil.
func NewMarketService(
	cfg Config,
	markets domain.MarketStore,
	users domain.UserStore,
	txns domain.TransactionStore,
	admins policy.Admin,
	cache domain.MarketCache,
	events domain.EventSink,
	logger *slog.Logger,
) *MarketService {
	return &MarketService{
		cfg:     cfg,
		markets: markets,
		users:   users,
		txns:    txns,
		admins:  admins,
		cache:   cache,
		events:  events,
		logger:  logger.With(slog.String("component", "market_service")),
	}
}

// CreateMarketParams are the caller-supplied fields for a new market.
type CreateMarketParams struct {
	Title                   string
	Description             string
	Category                string
	StakeAmount             decimal.Decimal
	CounterpartyStakeAmount decimal.Decimal // zero means derive from stake/odds
	Odds                    decimal.Decimal // zero means even odds
	ExpiryDate              time.Time
	PaymentSignature        string
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", domain.ErrValidation, msg)
}

func checkPaymentSignature(sig string) error {
	if strings.TrimSpace(sig) == "" {
		return domain.ErrPaymentProofMissing
	}
	if len(sig) < minPaymentSignatureLen {
		return fmt.Errorf("%w: signature too short", domain.ErrPaymentProofMissing)
	}
	return nil
}

func (s *MarketService) validateCreate(p *CreateMarketParams) error {
	if strings.TrimSpace(p.Title) == "" {
		return validationError("title is required")
	}
	if strings.TrimSpace(p.Category) == "" {
		return validationError("category is required")
	}
	if p.StakeAmount.LessThan(domain.MinStake) {
		return validationError("minimum stake amount is " + domain.MinStake.String())
	}
	if p.ExpiryDate.IsZero() {
		return validationError("expiry date is required")
	}

	if p.Odds.IsZero() {
		p.Odds = decimal.NewFromInt(1)
	}
	if p.Odds.LessThan(domain.MinOdds) || p.Odds.GreaterThan(domain.MaxOdds) {
		return validationError("odds must be between " + domain.MinOdds.String() + " and " + domain.MaxOdds.String())
	}

	// The counterparty stake defaults to the creator stake divided by the
	// odds: at 2:1 odds the creator risks twice what the joiner does.
	if p.CounterpartyStakeAmount.IsZero() {
		p.CounterpartyStakeAmount = p.StakeAmount.DivRound(p.Odds, 6)
	}
	if p.CounterpartyStakeAmount.LessThan(domain.MinStake) {
		return validationError("minimum counterparty stake is " + domain.MinStake.String())
	}

	return checkPaymentSignature(p.PaymentSignature)
}

// CreateMarket validates params and inserts a new open market, recording the
// creator's stake in the transaction log. In custodial mode the creator's
// balance must cover the stake and is debited atomically with the insert.
func (s *MarketService) CreateMarket(ctx context.Context, creator string, p CreateMarketParams) (domain.Market, error) {
	if err := s.validateCreate(&p); err != nil {
		return domain.Market{}, err
	}

	m := domain.Market{
		Title:                   strings.TrimSpace(p.Title),
		Description:             strings.TrimSpace(p.Description),
		Category:                strings.TrimSpace(p.Category),
		StakeAmount:             p.StakeAmount,
		CounterpartyStakeAmount: p.CounterpartyStakeAmount,
		Odds:                    p.Odds,
		CreatorID:               creator,
		ExpiryDate:              p.ExpiryDate,
		PaymentSignature:        p.PaymentSignature,
	}

	stake := domain.Transaction{
		UserID:           creator,
		Type:             domain.TransactionTypeStake,
		Amount:           p.StakeAmount,
		Description:      "Created market: " + m.Title,
		PaymentSignature: p.PaymentSignature,
	}

	var debit *domain.BalanceChange
	if s.cfg.Custodial {
		debit = &domain.BalanceChange{UserID: creator, Amount: p.StakeAmount, Debit: true}
	}

	created, err := s.markets.Create(ctx, m, stake, debit)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create: %w", err)
	}

	s.logger.InfoContext(ctx, "market created",
		slog.Int64("market_id", created.ID),
		slog.String("creator", creator),
		slog.String("stake", created.StakeAmount.String()),
	)
	s.publish(ctx, domain.EventMarketCreated, created)

	return created, nil
}

// JoinMarket stakes the joiner against an open market, flipping it to active.
// At most one join can ever succeed for a given market: the store transition
// is conditional on the row still being open with no counterparty, so the
// loser of a race observes ErrMarketNotOpen.
func (s *MarketService) JoinMarket(ctx context.Context, joiner string, marketID int64, paymentSignature string) (domain.Market, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: join %d: %w", marketID, err)
	}

	// Self-join is rejected regardless of market state.
	if m.CreatorID == joiner {
		return domain.Market{}, domain.ErrSelfJoin
	}
	if m.Status != domain.MarketStatusOpen || m.CounterpartyID != nil {
		return domain.Market{}, domain.ErrMarketNotOpen
	}
	if err := checkPaymentSignature(paymentSignature); err != nil {
		return domain.Market{}, err
	}

	stake := domain.Transaction{
		UserID:           joiner,
		Type:             domain.TransactionTypeStake,
		Amount:           m.CounterpartyStakeAmount,
		Description:      "Joined market: " + m.Title,
		PaymentSignature: paymentSignature,
	}

	var debit *domain.BalanceChange
	if s.cfg.Custodial {
		debit = &domain.BalanceChange{UserID: joiner, Amount: m.CounterpartyStakeAmount, Debit: true}
	}

	joined, err := s.markets.Join(ctx, marketID, joiner, stake, debit)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: join %d: %w", marketID, err)
	}

	s.invalidate(ctx, marketID)
	s.logger.InfoContext(ctx, "market joined",
		slog.Int64("market_id", marketID),
		slog.String("joiner", joiner),
		slog.String("stake", stake.Amount.String()),
	)
	s.publish(ctx, domain.EventMarketJoined, joined)

	return joined, nil
}

// SettlementResult reports a completed settlement and its accounting.
type SettlementResult struct {
	Market       domain.Market   `json:"market"`
	TotalPot     decimal.Decimal `json:"totalPot"`
	PlatformFee  decimal.Decimal `json:"platformFee"`
	WinnerPayout decimal.Decimal `json:"winnerPayout"`
	Payouts      []domain.Payout `json:"payouts"`
}

// SettleMarket settles an active market with the given outcome. Only admin
// identities may settle. Settlement is terminal and applies exactly once:
// concurrent calls race on the store's conditional transition, and the payout
// or refund rows commit atomically with the status flip, so disbursements are
// never missing and never duplicated.
func (s *MarketService) SettleMarket(ctx context.Context, admin string, marketID int64, settlement domain.Settlement) (SettlementResult, error) {
	ok, err := s.admins.IsAdmin(ctx, admin)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("market_service: admin check: %w", err)
	}
	if !ok {
		return SettlementResult{}, domain.ErrUnauthorized
	}

	if !settlement.Valid() {
		return SettlementResult{}, domain.ErrInvalidSettlement
	}

	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("market_service: settle %d: %w", marketID, err)
	}
	if m.Status != domain.MarketStatusActive {
		return SettlementResult{}, domain.ErrMarketNotActive
	}
	if m.CounterpartyID == nil {
		return SettlementResult{}, domain.ErrMissingCounterparty
	}

	breakdown, err := domain.ComputeSettlement(m, settlement)
	if err != nil {
		return SettlementResult{}, err
	}

	txns := make([]domain.Transaction, 0, len(breakdown.Payouts)+1)
	var credits []domain.BalanceChange
	for _, p := range breakdown.Payouts {
		desc := "Won market: " + m.Title
		if p.Type == domain.TransactionTypeRefund {
			desc = "Refund for market: " + m.Title
		}
		txns = append(txns, domain.Transaction{
			UserID:      p.UserID,
			Type:        p.Type,
			Amount:      p.Amount,
			Description: desc,
		})
		if s.cfg.Custodial {
			credits = append(credits, domain.BalanceChange{UserID: p.UserID, Amount: p.Amount})
		}
	}
	if s.cfg.TreasuryWallet != "" && breakdown.PlatformFee.IsPositive() {
		txns = append(txns, domain.Transaction{
			UserID:      s.cfg.TreasuryWallet,
			Type:        domain.TransactionTypeFee,
			Amount:      breakdown.PlatformFee,
			Description: "Platform fee for market: " + m.Title,
		})
		if s.cfg.Custodial {
			credits = append(credits, domain.BalanceChange{UserID: s.cfg.TreasuryWallet, Amount: breakdown.PlatformFee})
		}
	}

	settled, err := s.markets.Settle(ctx, marketID, settlement, time.Now().UTC(), txns, credits)
	if err != nil {
		return SettlementResult{}, fmt.Errorf("market_service: settle %d: %w", marketID, err)
	}

	s.invalidate(ctx, marketID)
	s.logger.InfoContext(ctx, "market settled",
		slog.Int64("market_id", marketID),
		slog.String("settlement", string(settlement)),
		slog.String("total_pot", breakdown.TotalPot.String()),
		slog.String("platform_fee", breakdown.PlatformFee.String()),
		slog.String("admin", admin),
	)
	s.publish(ctx, domain.EventMarketSettled, settled)

	return SettlementResult{
		Market:       settled,
		TotalPot:     breakdown.TotalPot,
		PlatformFee:  breakdown.PlatformFee,
		WinnerPayout: breakdown.WinnerPayout,
		Payouts:      breakdown.Payouts,
	}, nil
}

// CancelResult reports a cancelled market and the creator's refund.
type CancelResult struct {
	Market domain.Market   `json:"market"`
	Refund decimal.Decimal `json:"refund"`
}

// CancelMarket withdraws an open market before anyone joins, refunding the
// creator's full stake with no fee. Only the creator may cancel, and only
// while the market is still open.
func (s *MarketService) CancelMarket(ctx context.Context, caller string, marketID int64) (CancelResult, error) {
	m, err := s.markets.GetByID(ctx, marketID)
	if err != nil {
		return CancelResult{}, fmt.Errorf("market_service: cancel %d: %w", marketID, err)
	}
	if m.CreatorID != caller {
		return CancelResult{}, domain.ErrNotCreator
	}
	if m.Status != domain.MarketStatusOpen || m.CounterpartyID != nil {
		return CancelResult{}, domain.ErrMarketNotOpen
	}

	refund := domain.Transaction{
		UserID:      m.CreatorID,
		Type:        domain.TransactionTypeRefund,
		Amount:      m.StakeAmount,
		Description: "Cancelled market: " + m.Title,
	}

	var credit *domain.BalanceChange
	if s.cfg.Custodial {
		credit = &domain.BalanceChange{UserID: m.CreatorID, Amount: m.StakeAmount}
	}

	cancelled, err := s.markets.Cancel(ctx, marketID, refund, credit)
	if err != nil {
		return CancelResult{}, fmt.Errorf("market_service: cancel %d: %w", marketID, err)
	}

	s.invalidate(ctx, marketID)
	s.logger.InfoContext(ctx, "market cancelled",
		slog.Int64("market_id", marketID),
		slog.String("creator", caller),
	)
	s.publish(ctx, domain.EventMarketCancelled, cancelled)

	return CancelResult{Market: cancelled, Refund: m.StakeAmount}, nil
}

// GetMarket retrieves a market by ID, checking the cache first and falling
// back to the store on a miss.
func (s *MarketService) GetMarket(ctx context.Context, id int64) (domain.Market, error) {
	if s.cache != nil {
		if m, err := s.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}

	m, err := s.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get %d: %w", id, err)
	}

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.Int64("market_id", id),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets returns markets, optionally filtered by status. An unknown
// status value is rejected rather than silently matching nothing.
func (s *MarketService) ListMarkets(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	if status != "" && !status.Valid() {
		return nil, validationError("unknown status " + string(status))
	}
	markets, err := s.markets.List(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list: %w", err)
	}
	return markets, nil
}

// ListUserMarkets returns markets where wallet participates as either side.
func (s *MarketService) ListUserMarkets(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.markets.ListByParticipant(ctx, wallet, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list user markets: %w", err)
	}
	return markets, nil
}

// ListUserTransactions returns a user's audit-log rows, newest-first.
func (s *MarketService) ListUserTransactions(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.Transaction, error) {
	txns, err := s.txns.ListByUser(ctx, wallet, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list user transactions: %w", err)
	}
	return txns, nil
}

// MarketTransactions returns the full audit trail of one market.
func (s *MarketService) MarketTransactions(ctx context.Context, marketID int64) ([]domain.Transaction, error) {
	txns, err := s.txns.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("market_service: market transactions: %w", err)
	}
	return txns, nil
}

// IsAdmin exposes the injected admin policy to the transport layer.
func (s *MarketService) IsAdmin(ctx context.Context, wallet string) (bool, error) {
	return s.admins.IsAdmin(ctx, wallet)
}

func (s *MarketService) invalidate(ctx context.Context, id int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, id); err != nil {
		// Non-fatal: the cache entry will expire on its own.
		s.logger.WarnContext(ctx, "cache invalidate failed",
			slog.Int64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

func (s *MarketService) publish(ctx context.Context, typ domain.EventType, m domain.Market) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, domain.Event{Type: typ, Market: m, At: time.Now().UTC()})
}
