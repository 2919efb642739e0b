package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wagerline/betting-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
//
// Transactions are serialized on a single lock and roll back by restoring a
// snapshot of the whole state, which gives the same all-or-nothing semantics
// the Postgres store gets from real transactions.
type MemoryStore struct {
	mu      sync.RWMutex
	txMu    sync.Mutex
	markets map[string]*model.Market
	users   map[string]*model.User
	bets    map[string]*model.Bet
	ledger  []model.LedgerEntry
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.Market),
		users:   make(map[string]*model.User),
		bets:    make(map[string]*model.Bet),
	}
}

// RunInTx serializes transactions on one lock and restores a snapshot when
// fn fails.
func (s *MemoryStore) RunInTx(_ context.Context, fn func(Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snapshot := s.snapshot()
	if err := fn(s); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	markets map[string]*model.Market
	users   map[string]*model.User
	bets    map[string]*model.Bet
	ledger  []model.LedgerEntry
}

func (s *MemoryStore) snapshot() memorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memorySnapshot{
		markets: make(map[string]*model.Market, len(s.markets)),
		users:   make(map[string]*model.User, len(s.users)),
		bets:    make(map[string]*model.Bet, len(s.bets)),
		ledger:  append([]model.LedgerEntry(nil), s.ledger...),
	}
	for id, m := range s.markets {
		snap.markets[id] = copyMarket(m)
	}
	for id, u := range s.users {
		snap.users[id] = copyUser(u)
	}
	for id, b := range s.bets {
		snap.bets[id] = copyBet(b)
	}
	return snap
}

func (s *MemoryStore) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markets = snap.markets
	s.users = snap.users
	s.bets = snap.bets
	s.ledger = snap.ledger
}

// --- Market operations ---

func (s *MemoryStore) CreateMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.markets[m.ID] = copyMarket(m)
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, id string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "market", ID: id}
	}
	return copyMarket(m), nil
}

// GetMarketForUpdate has no row lock to take: transactions already
// serialize on txMu.
func (s *MemoryStore) GetMarketForUpdate(ctx context.Context, id string) (*model.Market, error) {
	return s.GetMarket(ctx, id)
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *copyMarket(m))
	}
	sort.Slice(markets, func(i, j int) bool {
		return markets[i].CreatedAt.After(markets[j].CreatedAt)
	})
	return markets, nil
}

func (s *MemoryStore) UpdateMarketReserves(_ context.Context, id string, yes, no, probYes, probNo decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok {
		return &model.NotFoundError{Kind: "market", ID: id}
	}
	m.YesReserve = yes
	m.NoReserve = no
	m.YesProbability = probYes
	m.NoProbability = probNo
	return nil
}

func (s *MemoryStore) CloseMarket(_ context.Context, id, status string, outcome *model.Side) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.markets[id]
	if !ok || m.Status != model.MarketOpen {
		return false, nil
	}
	m.Status = status
	if outcome != nil {
		side := *outcome
		m.Outcome = &side
	}
	return true, nil
}

// --- User ledger ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[u.ID] = copyUser(u)
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "user", ID: id}
	}
	return copyUser(u), nil
}

func (s *MemoryStore) DebitWallet(_ context.Context, userID string, w model.Wallet, amount decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, nil
	}

	switch w {
	case model.WalletFree:
		if u.FreeCredits.LessThan(amount) {
			return false, nil
		}
		u.FreeCredits = u.FreeCredits.Sub(amount)
	case model.WalletPurchased:
		if u.PurchasedCredits.LessThan(amount) {
			return false, nil
		}
		u.PurchasedCredits = u.PurchasedCredits.Sub(amount)
	default:
		return false, nil
	}

	u.AvailableCredits = u.AvailableCredits.Sub(amount)
	u.ExpendedCredits = u.ExpendedCredits.Add(amount)
	return true, nil
}

func (s *MemoryStore) CreditWallet(_ context.Context, userID string, w model.Wallet, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return &model.NotFoundError{Kind: "user", ID: userID}
	}

	switch w {
	case model.WalletFree:
		u.FreeCredits = u.FreeCredits.Add(amount)
	case model.WalletPurchased:
		u.PurchasedCredits = u.PurchasedCredits.Add(amount)
	}
	u.AvailableCredits = u.AvailableCredits.Add(amount)
	return nil
}

func (s *MemoryStore) ClaimDailyReward(_ context.Context, userID string, claimedAt, dayFloor time.Time, streakDay int, credits decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, nil
	}
	if u.LastDailyRewardAt != nil && !u.LastDailyRewardAt.Before(dayFloor) {
		return false, nil
	}

	u.FreeCredits = u.FreeCredits.Add(credits)
	u.AvailableCredits = u.AvailableCredits.Add(credits)
	claimed := claimedAt
	u.LastDailyRewardAt = &claimed
	u.ConsecutiveDaysOnline = streakDay
	return true, nil
}

// --- Bets ---

func (s *MemoryStore) CreateBet(_ context.Context, b *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bets[b.ID] = copyBet(b)
	return nil
}

func (s *MemoryStore) GetBet(_ context.Context, id string) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[id]
	if !ok {
		return nil, &model.NotFoundError{Kind: "bet", ID: id}
	}
	return copyBet(b), nil
}

func (s *MemoryStore) ListBetsByUser(_ context.Context, userID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bets []model.Bet
	for _, b := range s.bets {
		if b.UserID == userID {
			bets = append(bets, *copyBet(b))
		}
	}
	sort.Slice(bets, func(i, j int) bool {
		return bets[i].CreatedAt.After(bets[j].CreatedAt)
	})
	return bets, nil
}

func (s *MemoryStore) ListPendingBetsByMarket(_ context.Context, marketID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bets []model.Bet
	for _, b := range s.bets {
		if b.MarketID == marketID && b.Status == model.BetPending {
			bets = append(bets, *copyBet(b))
		}
	}
	sort.Slice(bets, func(i, j int) bool {
		return bets[i].CreatedAt.Before(bets[j].CreatedAt)
	})
	return bets, nil
}

func (s *MemoryStore) SettleBet(_ context.Context, id, fromStatus, toStatus string, payout, profit decimal.Decimal, settledAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bets[id]
	if !ok || b.Status != fromStatus {
		return false, nil
	}

	b.Status = toStatus
	b.Payout = payout
	b.Profit = profit
	settled := settledAt
	b.SettledAt = &settled
	return true, nil
}

// --- Immutable ledger ---

func (s *MemoryStore) InsertLedgerEntry(_ context.Context, e *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ledger = append(s.ledger, *e)
	return nil
}

func (s *MemoryStore) GetLedgerEntriesByUser(_ context.Context, userID string) ([]model.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []model.LedgerEntry
	for _, e := range s.ledger {
		if e.UserID == userID {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// --- Copy helpers (no aliasing of internal state) ---

func copyMarket(m *model.Market) *model.Market {
	out := *m
	if m.Outcome != nil {
		side := *m.Outcome
		out.Outcome = &side
	}
	return &out
}

func copyUser(u *model.User) *model.User {
	out := *u
	if u.LastDailyRewardAt != nil {
		t := *u.LastDailyRewardAt
		out.LastDailyRewardAt = &t
	}
	return &out
}

func copyBet(b *model.Bet) *model.Bet {
	out := *b
	if b.SettledAt != nil {
		t := *b.SettledAt
		out.SettledAt = &t
	}
	return &out
}
