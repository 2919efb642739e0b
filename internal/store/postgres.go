package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wagerline/betting-engine/internal/model"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same query
// methods serve pooled and transactional execution.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool // nil when this store is a transactional view
	q    querier
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, q: pool}
}

// RunInTx runs fn against a transactional view. A nested call joins the
// enclosing transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(Store) error) error {
	if s.pool == nil {
		return fn(s)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PostgresStore{q: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- Market operations ---

const marketColumns = `id, question,
       yes_reserve::TEXT, no_reserve::TEXT,
       yes_probability::TEXT, no_probability::TEXT,
       status, outcome, expires_at, created_at`

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO markets (id, question, yes_reserve, no_reserve, yes_probability, no_probability, status, outcome, expires_at, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10)`,
		m.ID, m.Question,
		m.YesReserve.String(), m.NoReserve.String(),
		m.YesProbability.String(), m.NoProbability.String(),
		m.Status, sideString(m.Outcome), m.ExpiresAt, m.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return s.getMarket(ctx, id, "")
}

func (s *PostgresStore) GetMarketForUpdate(ctx context.Context, id string) (*model.Market, error) {
	return s.getMarket(ctx, id, " FOR UPDATE")
}

func (s *PostgresStore) getMarket(ctx context.Context, id, locking string) (*model.Market, error) {
	row := s.q.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`+locking, id)

	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.NotFoundError{Kind: "market", ID: id}
		}
		return nil, fmt.Errorf("get market %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+marketColumns+` FROM markets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) UpdateMarketReserves(ctx context.Context, id string, yes, no, probYes, probNo decimal.Decimal) error {
	_, err := s.q.Exec(ctx,
		`UPDATE markets
		 SET yes_reserve = $2::NUMERIC, no_reserve = $3::NUMERIC,
		     yes_probability = $4::NUMERIC, no_probability = $5::NUMERIC
		 WHERE id = $1`,
		id, yes.String(), no.String(), probYes.String(), probNo.String(),
	)
	return err
}

func (s *PostgresStore) CloseMarket(ctx context.Context, id, status string, outcome *model.Side) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE markets SET status = $2, outcome = $3
		 WHERE id = $1 AND status = $4`,
		id, status, sideString(outcome), model.MarketOpen,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- User ledger ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO users (id, free_credits, purchased_credits, available_credits, expended_credits, last_daily_reward_at, consecutive_days_online, created_at)
		 VALUES ($1, $2::NUMERIC, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7, $8)`,
		u.ID,
		u.FreeCredits.String(), u.PurchasedCredits.String(),
		u.AvailableCredits.String(), u.ExpendedCredits.String(),
		u.LastDailyRewardAt, u.ConsecutiveDaysOnline, u.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	var free, purchased, available, expended string

	err := s.q.QueryRow(ctx,
		`SELECT id, free_credits::TEXT, purchased_credits::TEXT,
		        available_credits::TEXT, expended_credits::TEXT,
		        last_daily_reward_at, consecutive_days_online, created_at
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &free, &purchased, &available, &expended,
			&u.LastDailyRewardAt, &u.ConsecutiveDaysOnline, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.NotFoundError{Kind: "user", ID: id}
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}

	u.FreeCredits, _ = decimal.NewFromString(free)
	u.PurchasedCredits, _ = decimal.NewFromString(purchased)
	u.AvailableCredits, _ = decimal.NewFromString(available)
	u.ExpendedCredits, _ = decimal.NewFromString(expended)

	return &u, nil
}

func (s *PostgresStore) DebitWallet(ctx context.Context, userID string, w model.Wallet, amount decimal.Decimal) (bool, error) {
	col, err := walletColumn(w)
	if err != nil {
		return false, err
	}

	// Conditional decrement: the WHERE clause is the balance predicate, so
	// a concurrent debit that drains the wallet first simply yields zero
	// affected rows here.
	tag, err := s.q.Exec(ctx,
		`UPDATE users
		 SET `+col+` = `+col+` - $2::NUMERIC,
		     available_credits = available_credits - $2::NUMERIC,
		     expended_credits = expended_credits + $2::NUMERIC
		 WHERE id = $1 AND `+col+` >= $2::NUMERIC`,
		userID, amount.String(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CreditWallet(ctx context.Context, userID string, w model.Wallet, amount decimal.Decimal) error {
	col, err := walletColumn(w)
	if err != nil {
		return err
	}

	tag, err := s.q.Exec(ctx,
		`UPDATE users
		 SET `+col+` = `+col+` + $2::NUMERIC,
		     available_credits = available_credits + $2::NUMERIC
		 WHERE id = $1`,
		userID, amount.String(),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &model.NotFoundError{Kind: "user", ID: userID}
	}
	return nil
}

func (s *PostgresStore) ClaimDailyReward(ctx context.Context, userID string, claimedAt, dayFloor time.Time, streakDay int, credits decimal.Decimal) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE users
		 SET free_credits = free_credits + $2::NUMERIC,
		     available_credits = available_credits + $2::NUMERIC,
		     last_daily_reward_at = $3,
		     consecutive_days_online = $4
		 WHERE id = $1
		   AND (last_daily_reward_at IS NULL OR last_daily_reward_at < $5)`,
		userID, credits.String(), claimedAt, streakDay, dayFloor,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- Bets ---

const betColumns = `id, market_id, user_id, side,
       shares::TEXT, stake_amount::TEXT, wallet,
       payout::TEXT, profit::TEXT, status, created_at, settled_at`

func (s *PostgresStore) CreateBet(ctx context.Context, b *model.Bet) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO bets (id, market_id, user_id, side, shares, stake_amount, wallet, payout, profit, status, created_at, settled_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8::NUMERIC, $9::NUMERIC, $10, $11, $12)`,
		b.ID, b.MarketID, b.UserID, string(b.Side),
		b.Shares.String(), b.StakeAmount.String(), string(b.Wallet),
		b.Payout.String(), b.Profit.String(), b.Status, b.CreatedAt, b.SettledAt,
	)
	return err
}

func (s *PostgresStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	row := s.q.QueryRow(ctx, `SELECT `+betColumns+` FROM bets WHERE id = $1`, id)

	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.NotFoundError{Kind: "bet", ID: id}
		}
		return nil, fmt.Errorf("get bet %s: %w", id, err)
	}
	return b, nil
}

func (s *PostgresStore) ListBetsByUser(ctx context.Context, userID string) ([]model.Bet, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBets(rows)
}

func (s *PostgresStore) ListPendingBetsByMarket(ctx context.Context, marketID string) ([]model.Bet, error) {
	rows, err := s.q.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE market_id = $1 AND status = $2 ORDER BY created_at`,
		marketID, model.BetPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectBets(rows)
}

func (s *PostgresStore) SettleBet(ctx context.Context, id, fromStatus, toStatus string, payout, profit decimal.Decimal, settledAt time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx,
		`UPDATE bets
		 SET status = $3, payout = $4::NUMERIC, profit = $5::NUMERIC, settled_at = $6
		 WHERE id = $1 AND status = $2`,
		id, fromStatus, toStatus, payout.String(), profit.String(), settledAt,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// --- Immutable ledger ---

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e *model.LedgerEntry) error {
	_, err := s.q.Exec(ctx,
		`INSERT INTO ledger_entries (id, user_id, amount, type, wallet, reference_id, balance_after, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7::NUMERIC, $8)`,
		e.ID, e.UserID, e.Amount.String(), e.Type, string(e.Wallet),
		e.ReferenceID, e.BalanceAfter.String(), e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetLedgerEntriesByUser(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, user_id, amount::TEXT, type, wallet, reference_id, balance_after::TEXT, created_at
		 FROM ledger_entries WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.LedgerEntry
	for rows.Next() {
		var e model.LedgerEntry
		var amount, balanceAfter, wallet string

		if err := rows.Scan(&e.ID, &e.UserID, &amount, &e.Type, &wallet,
			&e.ReferenceID, &balanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}

		e.Amount, _ = decimal.NewFromString(amount)
		e.BalanceAfter, _ = decimal.NewFromString(balanceAfter)
		e.Wallet = model.Wallet(wallet)

		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Scan helpers ---

func scanMarket(row pgx.Row) (*model.Market, error) {
	var m model.Market
	var yes, no, probYes, probNo string
	var outcome *string

	if err := row.Scan(&m.ID, &m.Question,
		&yes, &no, &probYes, &probNo,
		&m.Status, &outcome, &m.ExpiresAt, &m.CreatedAt); err != nil {
		return nil, err
	}

	m.YesReserve, _ = decimal.NewFromString(yes)
	m.NoReserve, _ = decimal.NewFromString(no)
	m.YesProbability, _ = decimal.NewFromString(probYes)
	m.NoProbability, _ = decimal.NewFromString(probNo)
	if outcome != nil {
		side := model.Side(*outcome)
		m.Outcome = &side
	}

	return &m, nil
}

func scanBet(row pgx.Row) (*model.Bet, error) {
	var b model.Bet
	var side, wallet string
	var shares, stake, payout, profit string

	if err := row.Scan(&b.ID, &b.MarketID, &b.UserID, &side,
		&shares, &stake, &wallet,
		&payout, &profit, &b.Status, &b.CreatedAt, &b.SettledAt); err != nil {
		return nil, err
	}

	b.Side = model.Side(side)
	b.Wallet = model.Wallet(wallet)
	b.Shares, _ = decimal.NewFromString(shares)
	b.StakeAmount, _ = decimal.NewFromString(stake)
	b.Payout, _ = decimal.NewFromString(payout)
	b.Profit, _ = decimal.NewFromString(profit)

	return &b, nil
}

func collectBets(rows pgx.Rows) ([]model.Bet, error) {
	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

func walletColumn(w model.Wallet) (string, error) {
	switch w {
	case model.WalletFree:
		return "free_credits", nil
	case model.WalletPurchased:
		return "purchased_credits", nil
	default:
		return "", fmt.Errorf("unknown wallet %q", w)
	}
}

func sideString(s *model.Side) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
