// Package model defines the core domain types shared across the betting
// engine. All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies the outcome a bet is placed on.
type Side string

const (
	SideYes Side = "YES"
	SideNo  Side = "NO"
)

// Valid reports whether the side is one of the two supported outcomes.
func (s Side) Valid() bool {
	return s == SideYes || s == SideNo
}

// Market statuses. Lifecycle: open → closed | resolved. No mutating trade is
// accepted once a market leaves "open".
const (
	MarketOpen     = "open"
	MarketClosed   = "closed"
	MarketResolved = "resolved"
)

// Bet statuses. A bet is created "pending" and reaches exactly one terminal
// state afterwards.
const (
	BetPending      = "pending"
	BetSold         = "sold"
	BetResolvedWin  = "resolved_win"
	BetResolvedLoss = "resolved_loss"
	BetCancelled    = "cancelled"
)

// Wallet identifies which of the two user sub-balances an operation touches.
type Wallet string

const (
	WalletFree      Wallet = "free"
	WalletPurchased Wallet = "purchased"
)

// Ledger entry transaction types.
const (
	TxBetPlaced   = "bet_placed"
	TxBetSold     = "bet_sold"
	TxBetWon      = "bet_won"
	TxDailyReward = "daily_reward"
)

// Market represents one binary-outcome market backed by a constant-product
// pool. YesReserve and NoReserve are the two pool reserves; both stay
// strictly positive for any finite trade.
type Market struct {
	ID             string          `json:"id" db:"id"`
	Question       string          `json:"question" db:"question"`
	YesReserve     decimal.Decimal `json:"yes_reserve" db:"yes_reserve"`
	NoReserve      decimal.Decimal `json:"no_reserve" db:"no_reserve"`
	YesProbability decimal.Decimal `json:"yes_probability" db:"yes_probability"`
	NoProbability  decimal.Decimal `json:"no_probability" db:"no_probability"`
	Status         string          `json:"status" db:"status"`
	Outcome        *Side           `json:"outcome,omitempty" db:"outcome"`
	ExpiresAt      time.Time       `json:"expires_at" db:"expires_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
}

// Open reports whether the market accepts trades at the given instant.
func (m *Market) Open(now time.Time) bool {
	return m.Status == MarketOpen && now.Before(m.ExpiresAt)
}

// EndingSoon reports whether the market is within `window` of expiry.
// Ending-soon markets restrict spending to the purchased wallet.
func (m *Market) EndingSoon(now time.Time, window time.Duration) bool {
	return m.ExpiresAt.Sub(now) <= window
}

// User holds the dual-wallet credit ledger and daily-reward state.
// Invariant: AvailableCredits == FreeCredits + PurchasedCredits, never
// negative. Updated in the same transaction as any trade or claim.
type User struct {
	ID                    string          `json:"id" db:"id"`
	FreeCredits           decimal.Decimal `json:"free_credits_balance" db:"free_credits"`
	PurchasedCredits      decimal.Decimal `json:"purchased_credits_balance" db:"purchased_credits"`
	AvailableCredits      decimal.Decimal `json:"available_credits" db:"available_credits"`
	ExpendedCredits       decimal.Decimal `json:"expended_credits" db:"expended_credits"`
	LastDailyRewardAt     *time.Time      `json:"last_daily_reward_at" db:"last_daily_reward_at"`
	ConsecutiveDaysOnline int             `json:"consecutive_days_online" db:"consecutive_days_online"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
}

// Bet is a position in one market. Created on trade execution, mutated once
// on sell/resolve, terminal thereafter.
type Bet struct {
	ID          string          `json:"id" db:"id"`
	MarketID    string          `json:"market_id" db:"market_id"`
	UserID      string          `json:"user_id" db:"user_id"`
	Side        Side            `json:"side" db:"side"`
	Shares      decimal.Decimal `json:"shares" db:"shares"`
	StakeAmount decimal.Decimal `json:"stake_amount" db:"stake_amount"`
	Wallet      Wallet          `json:"wallet" db:"wallet"` // wallet the stake was debited from
	Payout      decimal.Decimal `json:"payout" db:"payout"`
	Profit      decimal.Decimal `json:"profit" db:"profit"`
	Status      string          `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	SettledAt   *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
}

// LedgerEntry is an immutable record of a credit movement. Once created,
// entries are never modified or deleted.
type LedgerEntry struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Amount       decimal.Decimal `json:"amount" db:"amount"` // signed: +credit, -debit
	Type         string          `json:"type" db:"type"`
	Wallet       Wallet          `json:"wallet" db:"wallet"`
	ReferenceID  string          `json:"reference_id" db:"reference_id"` // bet or market ID
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
