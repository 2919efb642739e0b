package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel error kinds. Callers branch with errors.Is; the concrete error
// values below carry the state needed to build an actionable message.
var (
	ErrValidation          = errors.New("validation failed")
	ErrNotFound            = errors.New("not found")
	ErrMarketClosed        = errors.New("market closed")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyClaimed      = errors.New("daily reward already claimed")
	ErrInvalidState        = errors.New("invalid state")
	ErrWriteConflict       = errors.New("concurrent write conflict")
)

// ValidationError reports a rejected input value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports a missing (or not owned) market, bet, or user.
type NotFoundError struct {
	Kind string // "market", "bet", "user"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// MarketClosedError reports a trade against a non-open or expired market.
type MarketClosedError struct {
	MarketID string
	Status   string
	Expired  bool
}

func (e *MarketClosedError) Error() string {
	if e.Expired {
		return fmt.Sprintf("market %s has expired", e.MarketID)
	}
	return fmt.Sprintf("market %s is %s", e.MarketID, e.Status)
}

func (e *MarketClosedError) Unwrap() error { return ErrMarketClosed }

// InsufficientBalanceError reports that no eligible wallet covers the stake.
// Available is the balance across the wallets that were eligible for this
// trade, not the user's total balance.
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
	Wallets   []Wallet // wallets attempted, in debit order
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s across %v",
		e.Required, e.Available, e.Wallets)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// AlreadyClaimedError reports a second daily claim within the same UTC day.
type AlreadyClaimedError struct {
	UserID      string
	LastClaimAt string // RFC3339, for the caller's message
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("user %s already claimed today's reward (last claim %s)",
		e.UserID, e.LastClaimAt)
}

func (e *AlreadyClaimedError) Unwrap() error { return ErrAlreadyClaimed }

// InvalidStateError reports an operation against a bet or market in the
// wrong lifecycle state, e.g. selling a non-pending bet.
type InvalidStateError struct {
	Kind     string
	ID       string
	Status   string
	Expected string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s %s is %s, expected %s", e.Kind, e.ID, e.Status, e.Expected)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }
