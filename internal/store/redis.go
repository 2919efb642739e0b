package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/wagerline/betting-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for market and user rows. Writes go to the primary store and
// invalidate the cache; reads check Redis first then fall back to the
// primary. Cache failures never fail the request — the primary answers.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration

	// inTx marks the view handed to RunInTx callbacks. Transactional reads
	// must see the transaction's own writes, and uncommitted rows must
	// never land in the cache, so the tx view bypasses Redis for reads and
	// keeps only the write-side invalidations.
	inTx bool
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// RunInTx delegates to the primary store's transaction, handing fn a view
// that writes through to the cache invalidations but reads the transactional
// store directly. A concurrent request can re-cache a pre-commit row between
// an in-tx Del and the commit; that stale entry expires with the TTL, but it
// must never be read back inside the transaction itself.
func (s *CachedStore) RunInTx(ctx context.Context, fn func(Store) error) error {
	return s.primary.RunInTx(ctx, func(tx Store) error {
		return fn(&CachedStore{primary: tx, rdb: s.rdb, ttl: s.ttl, inTx: true})
	})
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	if s.inTx {
		return s.primary.GetMarket(ctx, id)
	}

	data, err := s.rdb.Get(ctx, marketKey(id)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, marketKey(id), m)
	return m, nil
}

func (s *CachedStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	if s.inTx {
		return s.primary.GetUser(ctx, id)
	}

	data, err := s.rdb.Get(ctx, userKey(id)).Bytes()
	if err == nil {
		var u model.User
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}

	u, err := s.primary.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheJSON(ctx, userKey(id), u)
	return u, nil
}

// GetMarketForUpdate always hits the primary: a locked read must see the
// transaction's view, never the cache.
func (s *CachedStore) GetMarketForUpdate(ctx context.Context, id string) (*model.Market, error) {
	return s.primary.GetMarketForUpdate(ctx, id)
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.CreateMarket(ctx, m); err != nil {
		return err
	}
	s.cacheJSON(ctx, marketKey(m.ID), m)
	return nil
}

func (s *CachedStore) UpdateMarketReserves(ctx context.Context, id string, yes, no, probYes, probNo decimal.Decimal) error {
	if err := s.primary.UpdateMarketReserves(ctx, id, yes, no, probYes, probNo); err != nil {
		return err
	}
	s.rdb.Del(ctx, marketKey(id))
	return nil
}

func (s *CachedStore) CloseMarket(ctx context.Context, id, status string, outcome *model.Side) (bool, error) {
	ok, err := s.primary.CloseMarket(ctx, id, status, outcome)
	if err != nil {
		return false, err
	}
	if ok {
		s.rdb.Del(ctx, marketKey(id))
	}
	return ok, nil
}

func (s *CachedStore) CreateUser(ctx context.Context, u *model.User) error {
	if err := s.primary.CreateUser(ctx, u); err != nil {
		return err
	}
	s.cacheJSON(ctx, userKey(u.ID), u)
	return nil
}

func (s *CachedStore) DebitWallet(ctx context.Context, userID string, w model.Wallet, amount decimal.Decimal) (bool, error) {
	ok, err := s.primary.DebitWallet(ctx, userID, w, amount)
	if err != nil {
		return false, err
	}
	if ok {
		s.rdb.Del(ctx, userKey(userID))
	}
	return ok, nil
}

func (s *CachedStore) CreditWallet(ctx context.Context, userID string, w model.Wallet, amount decimal.Decimal) error {
	if err := s.primary.CreditWallet(ctx, userID, w, amount); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(userID))
	return nil
}

func (s *CachedStore) ClaimDailyReward(ctx context.Context, userID string, claimedAt, dayFloor time.Time, streakDay int, credits decimal.Decimal) (bool, error) {
	ok, err := s.primary.ClaimDailyReward(ctx, userID, claimedAt, dayFloor, streakDay, credits)
	if err != nil {
		return false, err
	}
	if ok {
		s.rdb.Del(ctx, userKey(userID))
	}
	return ok, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.primary.ListMarkets(ctx)
}

func (s *CachedStore) CreateBet(ctx context.Context, b *model.Bet) error {
	return s.primary.CreateBet(ctx, b)
}

func (s *CachedStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	return s.primary.GetBet(ctx, id)
}

func (s *CachedStore) ListBetsByUser(ctx context.Context, userID string) ([]model.Bet, error) {
	return s.primary.ListBetsByUser(ctx, userID)
}

func (s *CachedStore) ListPendingBetsByMarket(ctx context.Context, marketID string) ([]model.Bet, error) {
	return s.primary.ListPendingBetsByMarket(ctx, marketID)
}

func (s *CachedStore) SettleBet(ctx context.Context, id, fromStatus, toStatus string, payout, profit decimal.Decimal, settledAt time.Time) (bool, error) {
	return s.primary.SettleBet(ctx, id, fromStatus, toStatus, payout, profit, settledAt)
}

func (s *CachedStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	return s.primary.InsertLedgerEntry(ctx, e)
}

func (s *CachedStore) GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.primary.GetLedgerEntriesByUser(ctx, userID)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if s.inTx {
		// Nothing uncommitted goes into the cache.
		return
	}
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func marketKey(id string) string { return fmt.Sprintf("market:%s", id) }
func userKey(id string) string   { return fmt.Sprintf("user:%s", id) }
