// Package store defines the persistence interface for the betting engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wagerline/betting-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// Methods returning (bool, error) are conditional writes: they apply the
// mutation only while the stated predicate holds and report whether a row
// was affected. Wallet debits, claim guards, and bet settlement all use this
// primitive so that concurrent requests cannot overdraw a wallet,
// double-claim a reward, or settle a bet twice.
type Store interface {
	// RunInTx runs fn against a transactional view of the store. All writes
	// made through the view commit or roll back as one unit. Within a
	// transaction, GetMarketForUpdate locks the market row so concurrent
	// trades on the same pool serialize.
	RunInTx(ctx context.Context, fn func(Store) error) error

	// --- Market operations ---

	// CreateMarket persists a new market.
	CreateMarket(ctx context.Context, m *model.Market) error

	// GetMarket retrieves a market by its ID.
	GetMarket(ctx context.Context, id string) (*model.Market, error)

	// GetMarketForUpdate retrieves a market and locks its row for the
	// duration of the enclosing transaction.
	GetMarketForUpdate(ctx context.Context, id string) (*model.Market, error)

	// ListMarkets returns all markets, newest first.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// UpdateMarketReserves persists post-trade pool reserves and the
	// implied probabilities.
	UpdateMarketReserves(ctx context.Context, id string, yes, no, probYes, probNo decimal.Decimal) error

	// CloseMarket transitions an open market to the given terminal status,
	// recording the outcome for resolved markets. Returns false when the
	// market was not open.
	CloseMarket(ctx context.Context, id, status string, outcome *model.Side) (bool, error)

	// --- User ledger ---

	// CreateUser persists a new user with zeroed balances.
	CreateUser(ctx context.Context, u *model.User) error

	// GetUser retrieves a user by ID.
	GetUser(ctx context.Context, id string) (*model.User, error)

	// DebitWallet conditionally decrements one wallet (and the available
	// balance) by amount, incrementing expended credits. Returns false
	// without mutation when the wallet balance is below amount.
	DebitWallet(ctx context.Context, userID string, w model.Wallet, amount decimal.Decimal) (bool, error)

	// CreditWallet increments one wallet and the available balance.
	CreditWallet(ctx context.Context, userID string, w model.Wallet, amount decimal.Decimal) error

	// ClaimDailyReward atomically awards free credits and advances the
	// streak, guarded on the user not having claimed since dayFloor (the
	// claimant's UTC midnight). Returns false without mutation when a claim
	// for the same UTC day already landed.
	ClaimDailyReward(ctx context.Context, userID string, claimedAt, dayFloor time.Time, streakDay int, credits decimal.Decimal) (bool, error)

	// --- Bets ---

	// CreateBet persists a new pending bet.
	CreateBet(ctx context.Context, b *model.Bet) error

	// GetBet retrieves a bet by ID.
	GetBet(ctx context.Context, id string) (*model.Bet, error)

	// ListBetsByUser returns a user's bets, newest first.
	ListBetsByUser(ctx context.Context, userID string) ([]model.Bet, error)

	// ListPendingBetsByMarket returns the unsettled bets on a market.
	ListPendingBetsByMarket(ctx context.Context, marketID string) ([]model.Bet, error)

	// SettleBet conditionally transitions a bet from one status to another,
	// recording payout and profit. Returns false without mutation when the
	// bet is not in fromStatus.
	SettleBet(ctx context.Context, id, fromStatus, toStatus string, payout, profit decimal.Decimal, settledAt time.Time) (bool, error)

	// --- Immutable ledger ---

	// InsertLedgerEntry appends an immutable credit-movement record.
	InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error

	// GetLedgerEntriesByUser returns all credit movements for a user.
	GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error)
}
