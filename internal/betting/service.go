// Package betting implements the trade executor and credit-settlement core:
// quotes, bet placement, position sells, market resolution, and the daily
// credit allocation, each executed as a single store transaction.
//
// All monetary values use shopspring/decimal — never float64 for money.
package betting

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wagerline/betting-engine/internal/amm"
	"github.com/wagerline/betting-engine/internal/metrics"
	"github.com/wagerline/betting-engine/internal/model"
	"github.com/wagerline/betting-engine/internal/reward"
	"github.com/wagerline/betting-engine/internal/store"
	"github.com/wagerline/betting-engine/internal/wallet"
)

// Service orchestrates trades against the AMM pools and the dual-wallet
// credit ledger. Concurrent trades on one market serialize on the market
// row inside the store transaction; trades on different markets run
// independently.
type Service struct {
	store            store.Store
	hub              *Hub // optional WebSocket hub for real-time broadcasts
	feeBps           int64
	endingSoonWindow time.Duration
}

// NewService creates a new betting service. Pass nil for hub if WebSocket
// broadcasting is not needed.
func NewService(st store.Store, hub *Hub, feeBps int64, endingSoonWindow time.Duration) *Service {
	return &Service{
		store:            st,
		hub:              hub,
		feeBps:           feeBps,
		endingSoonWindow: endingSoonWindow,
	}
}

// BalanceSnapshot is the ledger view returned from mutating operations.
type BalanceSnapshot struct {
	FreeCredits      decimal.Decimal `json:"free_credits_balance"`
	PurchasedCredits decimal.Decimal `json:"purchased_credits_balance"`
	AvailableCredits decimal.Decimal `json:"available_credits"`
}

func snapshotOf(u *model.User) BalanceSnapshot {
	return BalanceSnapshot{
		FreeCredits:      u.FreeCredits,
		PurchasedCredits: u.PurchasedCredits,
		AvailableCredits: u.AvailableCredits,
	}
}

// TradeQuote is a read-only preview of a buy. Nothing is persisted.
type TradeQuote struct {
	MarketID          string          `json:"market_id"`
	Side              model.Side      `json:"side"`
	Stake             decimal.Decimal `json:"stake"`
	Fee               decimal.Decimal `json:"fee"`
	Shares            decimal.Decimal `json:"shares"`
	PriceBefore       decimal.Decimal `json:"price_before"`
	PriceAfter        decimal.Decimal `json:"price_after"`
	ProbabilityBefore decimal.Decimal `json:"probability_before"`
	ProbabilityAfter  decimal.Decimal `json:"probability_after"`
	PriceImpact       decimal.Decimal `json:"price_impact"`
	EffectivePrice    decimal.Decimal `json:"effective_price"`
	EndingSoon        bool            `json:"ending_soon"`
}

// PlaceBetRequest describes a bet placement.
type PlaceBetRequest struct {
	MarketID string          `json:"market_id"`
	Amount   decimal.Decimal `json:"amount"`
	Side     model.Side      `json:"side"`
}

// PlaceBetResult is returned from a successful placement.
type PlaceBetResult struct {
	Bet            *model.Bet      `json:"bet"`
	NewBalance     BalanceSnapshot `json:"new_balance"`
	SharesReceived decimal.Decimal `json:"shares_received"`
	PriceImpact    decimal.Decimal `json:"price_impact"`
	NewProbability decimal.Decimal `json:"new_probability"`
}

// SellResult is returned from a successful position sell.
type SellResult struct {
	Bet            *model.Bet      `json:"bet"`
	CreditsOut     decimal.Decimal `json:"credits_out"`
	Profit         decimal.Decimal `json:"profit"`
	NewBalance     BalanceSnapshot `json:"new_balance"`
	NewProbability decimal.Decimal `json:"new_probability"`
}

// ClaimResult is returned from a successful daily credit claim.
type ClaimResult struct {
	CreditsAwarded  decimal.Decimal `json:"credits_awarded"`
	ConsecutiveDays int             `json:"consecutive_days_online"`
	NewBalance      BalanceSnapshot `json:"new_balance"`
}

// CreateMarketRequest describes a new market. Probability, when set, seeds
// the pool at those odds instead of 50/50.
type CreateMarketRequest struct {
	Question    string           `json:"question"`
	Liquidity   decimal.Decimal  `json:"liquidity"`
	Probability *decimal.Decimal `json:"probability,omitempty"`
	ExpiresAt   time.Time        `json:"expires_at"`
}

// ResolveResult summarizes a market resolution.
type ResolveResult struct {
	Market  *model.Market `json:"market"`
	Winners int           `json:"winners"`
	Losers  int           `json:"losers"`
}

// --- Markets ---

// CreateMarket initializes a market with a seeded pool.
func (s *Service) CreateMarket(ctx context.Context, req CreateMarketRequest) (*model.Market, error) {
	if req.Question == "" {
		return nil, &model.ValidationError{Field: "question", Reason: "must not be empty"}
	}
	now := time.Now().UTC()
	if !req.ExpiresAt.After(now) {
		return nil, &model.ValidationError{Field: "expires_at", Reason: "must be in the future"}
	}

	var pool amm.Pool
	var err error
	if req.Probability != nil {
		pool, err = amm.NewPoolWithProbability(req.Liquidity, *req.Probability)
	} else {
		pool, err = amm.NewPool(req.Liquidity)
	}
	if err != nil {
		return nil, validationFromAMM(err)
	}

	market := &model.Market{
		ID:             uuid.New().String(),
		Question:       req.Question,
		YesReserve:     pool.YesReserve,
		NoReserve:      pool.NoReserve,
		YesProbability: pool.YesProbability(),
		NoProbability:  pool.NoProbability(),
		Status:         model.MarketOpen,
		ExpiresAt:      req.ExpiresAt.UTC(),
		CreatedAt:      now,
	}

	if err := s.store.CreateMarket(ctx, market); err != nil {
		return nil, err
	}

	slog.Info("market created",
		"id", market.ID,
		"question", market.Question,
		"liquidity", req.Liquidity.String(),
		"yes_probability", market.YesProbability.String(),
	)
	return market, nil
}

// GetMarket returns one market.
func (s *Service) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	return s.store.GetMarket(ctx, id)
}

// ListMarkets returns all markets.
func (s *Service) ListMarkets(ctx context.Context) ([]model.Market, error) {
	return s.store.ListMarkets(ctx)
}

// --- Quotes ---

// GetTradeQuote prices a buy against the current pool without persisting
// anything.
func (s *Service) GetTradeQuote(ctx context.Context, marketID string, amount decimal.Decimal, side model.Side) (*TradeQuote, error) {
	if !side.Valid() {
		return nil, &model.ValidationError{Field: "side", Reason: "must be YES or NO"}
	}

	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if !market.Open(now) {
		return nil, closedError(market, now)
	}

	res, err := s.buy(market, amount, side)
	if err != nil {
		return nil, err
	}

	return &TradeQuote{
		MarketID:          market.ID,
		Side:              side,
		Stake:             amount,
		Fee:               res.Fee,
		Shares:            res.Shares,
		PriceBefore:       res.PriceBefore,
		PriceAfter:        res.PriceAfter,
		ProbabilityBefore: res.ProbabilityBefore,
		ProbabilityAfter:  res.ProbabilityAfter,
		PriceImpact:       res.PriceImpact,
		EffectivePrice:    res.EffectivePrice,
		EndingSoon:        market.EndingSoon(now, s.endingSoonWindow),
	}, nil
}

// --- Bet placement ---

// PlaceBet executes a buy: wallet debit, pool mutation, bet creation, and
// ledger append commit or roll back as one unit.
func (s *Service) PlaceBet(ctx context.Context, userID string, req PlaceBetRequest) (*PlaceBetResult, error) {
	if !req.Side.Valid() {
		return nil, &model.ValidationError{Field: "side", Reason: "must be YES or NO"}
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, &model.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	start := time.Now()
	var result *PlaceBetResult

	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		now := time.Now().UTC()

		// Lock the pool row so concurrent buys never price off stale
		// reserves.
		market, err := tx.GetMarketForUpdate(ctx, req.MarketID)
		if err != nil {
			return err
		}
		if !market.Open(now) {
			return closedError(market, now)
		}
		endingSoon := market.EndingSoon(now, s.endingSoonWindow)

		debited, err := s.debit(ctx, tx, userID, req.Amount, endingSoon)
		if err != nil {
			return err
		}

		res, err := s.buy(market, req.Amount, req.Side)
		if err != nil {
			return err
		}

		if err := tx.UpdateMarketReserves(ctx, market.ID,
			res.Pool.YesReserve, res.Pool.NoReserve,
			res.Pool.YesProbability(), res.Pool.NoProbability()); err != nil {
			return err
		}

		bet := &model.Bet{
			ID:          uuid.New().String(),
			MarketID:    market.ID,
			UserID:      userID,
			Side:        req.Side,
			Shares:      res.Shares,
			StakeAmount: req.Amount,
			Wallet:      debited,
			Payout:      decimal.Zero,
			Profit:      decimal.Zero,
			Status:      model.BetPending,
			CreatedAt:   now,
		}
		if err := tx.CreateBet(ctx, bet); err != nil {
			return err
		}

		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.InsertLedgerEntry(ctx, &model.LedgerEntry{
			ID:           uuid.New().String(),
			UserID:       userID,
			Amount:       req.Amount.Neg(),
			Type:         model.TxBetPlaced,
			Wallet:       debited,
			ReferenceID:  bet.ID,
			BalanceAfter: user.AvailableCredits,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		result = &PlaceBetResult{
			Bet:            bet,
			NewBalance:     snapshotOf(user),
			SharesReceived: res.Shares,
			PriceImpact:    res.PriceImpact,
			NewProbability: res.ProbabilityAfter,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.BetsTotal.WithLabelValues(string(req.Side)).Inc()
	metrics.TradeLatency.WithLabelValues("place").Observe(time.Since(start).Seconds())

	slog.Info("bet placed",
		"bet_id", result.Bet.ID,
		"user", userID,
		"market", req.MarketID,
		"side", req.Side,
		"amount", req.Amount.String(),
		"shares", result.SharesReceived.String(),
		"wallet", result.Bet.Wallet,
		"new_probability", result.NewProbability.String(),
	)

	s.broadcastMarket(ctx, req.MarketID, "bet_placed", string(req.Side), req.Amount)
	return result, nil
}

// debit attempts a conditional decrement on each eligible wallet in order.
// Exactly one wallet is debited; when every attempt fails the user's
// balances are re-read to report required vs. available.
func (s *Service) debit(ctx context.Context, tx store.Store, userID string, amount decimal.Decimal, endingSoon bool) (model.Wallet, error) {
	for _, w := range wallet.DebitOrder(endingSoon) {
		ok, err := tx.DebitWallet(ctx, userID, w, amount)
		if err != nil {
			return "", err
		}
		if ok {
			return w, nil
		}
	}

	user, err := tx.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}

	if _, pickErr := wallet.Pick(wallet.Of(user), amount, endingSoon); pickErr != nil {
		metrics.InsufficientBalanceTotal.Inc()
		return "", pickErr
	}

	// The re-read says a wallet covers the stake, yet every conditional
	// decrement failed: a concurrent debit landed in between.
	return "", model.ErrWriteConflict
}

func (s *Service) buy(market *model.Market, amount decimal.Decimal, side model.Side) (amm.BuyResult, error) {
	pool := amm.Pool{YesReserve: market.YesReserve, NoReserve: market.NoReserve}

	var res amm.BuyResult
	var err error
	if side == model.SideYes {
		res, err = amm.BuyYes(pool, amount, s.feeBps)
	} else {
		res, err = amm.BuyNo(pool, amount, s.feeBps)
	}
	if err != nil {
		return amm.BuyResult{}, validationFromAMM(err)
	}
	return res, nil
}

// --- Position sell ---

// SellPosition reverses a pending bet through the same pool. Credits go to
// the purchased wallet; profit is creditsOut minus the original stake.
func (s *Service) SellPosition(ctx context.Context, userID, betID string) (*SellResult, error) {
	start := time.Now()
	var result *SellResult
	var marketID string

	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		now := time.Now().UTC()

		bet, err := tx.GetBet(ctx, betID)
		if err != nil {
			return err
		}
		// Not-owned reads as not-found: one user cannot probe another's bets.
		if bet.UserID != userID {
			return &model.NotFoundError{Kind: "bet", ID: betID}
		}
		if bet.Status != model.BetPending {
			return &model.InvalidStateError{
				Kind: "bet", ID: betID, Status: bet.Status, Expected: model.BetPending,
			}
		}

		market, err := tx.GetMarketForUpdate(ctx, bet.MarketID)
		if err != nil {
			return err
		}
		if market.Status == model.MarketResolved {
			return &model.InvalidStateError{
				Kind: "market", ID: market.ID, Status: market.Status, Expected: "unresolved",
			}
		}
		marketID = market.ID

		pool := amm.Pool{YesReserve: market.YesReserve, NoReserve: market.NoReserve}
		var res amm.SellResult
		if bet.Side == model.SideYes {
			res, err = amm.SellYes(pool, bet.Shares, s.feeBps)
		} else {
			res, err = amm.SellNo(pool, bet.Shares, s.feeBps)
		}
		if err != nil {
			return validationFromAMM(err)
		}

		profit := res.Credits.Sub(bet.StakeAmount)

		ok, err := tx.SettleBet(ctx, bet.ID, model.BetPending, model.BetSold, res.Credits, profit, now)
		if err != nil {
			return err
		}
		if !ok {
			// Lost the race to another settlement of the same bet.
			return &model.InvalidStateError{
				Kind: "bet", ID: betID, Status: "settling", Expected: model.BetPending,
			}
		}

		if err := tx.UpdateMarketReserves(ctx, market.ID,
			res.Pool.YesReserve, res.Pool.NoReserve,
			res.Pool.YesProbability(), res.Pool.NoProbability()); err != nil {
			return err
		}

		if err := tx.CreditWallet(ctx, userID, model.WalletPurchased, res.Credits); err != nil {
			return err
		}

		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.InsertLedgerEntry(ctx, &model.LedgerEntry{
			ID:           uuid.New().String(),
			UserID:       userID,
			Amount:       res.Credits,
			Type:         model.TxBetSold,
			Wallet:       model.WalletPurchased,
			ReferenceID:  bet.ID,
			BalanceAfter: user.AvailableCredits,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		sold, err := tx.GetBet(ctx, bet.ID)
		if err != nil {
			return err
		}
		result = &SellResult{
			Bet:            sold,
			CreditsOut:     res.Credits,
			Profit:         profit,
			NewBalance:     snapshotOf(user),
			NewProbability: res.ProbabilityAfter,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.SellsTotal.Inc()
	metrics.TradeLatency.WithLabelValues("sell").Observe(time.Since(start).Seconds())

	slog.Info("position sold",
		"bet_id", betID,
		"user", userID,
		"market", marketID,
		"credits_out", result.CreditsOut.String(),
		"profit", result.Profit.String(),
	)

	s.broadcastMarket(ctx, marketID, "position_sold", string(result.Bet.Side), result.CreditsOut)
	return result, nil
}

// --- Market resolution ---

// ResolveMarket closes an open market with the winning side and settles
// every pending bet: winners are paid one credit per share into the
// purchased wallet, losers are marked resolved_loss.
func (s *Service) ResolveMarket(ctx context.Context, marketID string, outcome model.Side) (*ResolveResult, error) {
	if !outcome.Valid() {
		return nil, &model.ValidationError{Field: "outcome", Reason: "must be YES or NO"}
	}

	var result *ResolveResult

	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		now := time.Now().UTC()

		market, err := tx.GetMarketForUpdate(ctx, marketID)
		if err != nil {
			return err
		}

		ok, err := tx.CloseMarket(ctx, marketID, model.MarketResolved, &outcome)
		if err != nil {
			return err
		}
		if !ok {
			return &model.InvalidStateError{
				Kind: "market", ID: marketID, Status: market.Status, Expected: model.MarketOpen,
			}
		}
		market.Status = model.MarketResolved
		market.Outcome = &outcome

		bets, err := tx.ListPendingBetsByMarket(ctx, marketID)
		if err != nil {
			return err
		}

		winners, losers := 0, 0
		for i := range bets {
			bet := &bets[i]
			if bet.Side == outcome {
				// Winning shares redeem at one credit each.
				payout := bet.Shares
				profit := payout.Sub(bet.StakeAmount)
				if _, err := tx.SettleBet(ctx, bet.ID, model.BetPending, model.BetResolvedWin, payout, profit, now); err != nil {
					return err
				}
				if err := tx.CreditWallet(ctx, bet.UserID, model.WalletPurchased, payout); err != nil {
					return err
				}
				user, err := tx.GetUser(ctx, bet.UserID)
				if err != nil {
					return err
				}
				if err := tx.InsertLedgerEntry(ctx, &model.LedgerEntry{
					ID:           uuid.New().String(),
					UserID:       bet.UserID,
					Amount:       payout,
					Type:         model.TxBetWon,
					Wallet:       model.WalletPurchased,
					ReferenceID:  bet.ID,
					BalanceAfter: user.AvailableCredits,
					CreatedAt:    now,
				}); err != nil {
					return err
				}
				winners++
			} else {
				loss := bet.StakeAmount.Neg()
				if _, err := tx.SettleBet(ctx, bet.ID, model.BetPending, model.BetResolvedLoss, decimal.Zero, loss, now); err != nil {
					return err
				}
				losers++
			}
		}

		result = &ResolveResult{Market: market, Winners: winners, Losers: losers}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("market resolved",
		"market", marketID,
		"outcome", outcome,
		"winners", result.Winners,
		"losers", result.Losers,
	)

	s.broadcastMarket(ctx, marketID, "market_resolved", string(outcome), decimal.Zero)
	return result, nil
}

// --- Daily allocation ---

// ClaimDailyCredits awards the daily streak credits. The store-level claim
// guard makes the operation idempotent per UTC day even under concurrent
// requests.
func (s *Service) ClaimDailyCredits(ctx context.Context, userID string) (*ClaimResult, error) {
	var result *ClaimResult

	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		now := time.Now().UTC()

		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}

		claim, err := reward.Evaluate(now, user.LastDailyRewardAt, user.ConsecutiveDaysOnline)
		if err != nil {
			var ac *model.AlreadyClaimedError
			if errors.As(err, &ac) {
				ac.UserID = userID
			}
			return err
		}

		ok, err := tx.ClaimDailyReward(ctx, userID, now, reward.MidnightUTC(now), claim.Day, claim.Credits)
		if err != nil {
			return err
		}
		if !ok {
			// A concurrent claim for the same UTC day won the write.
			return &model.AlreadyClaimedError{
				UserID:      userID,
				LastClaimAt: now.Format(time.RFC3339),
			}
		}

		after, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.InsertLedgerEntry(ctx, &model.LedgerEntry{
			ID:           uuid.New().String(),
			UserID:       userID,
			Amount:       claim.Credits,
			Type:         model.TxDailyReward,
			Wallet:       model.WalletFree,
			ReferenceID:  "day:" + reward.MidnightUTC(now).Format("2006-01-02"),
			BalanceAfter: after.AvailableCredits,
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		result = &ClaimResult{
			CreditsAwarded:  claim.Credits,
			ConsecutiveDays: claim.Day,
			NewBalance:      snapshotOf(after),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.DailyClaimsTotal.Inc()
	slog.Info("daily credits claimed",
		"user", userID,
		"credits", result.CreditsAwarded.String(),
		"streak_day", result.ConsecutiveDays,
	)
	return result, nil
}

// --- Users ---

// CreateUser registers a user with zeroed balances. Purchased credits
// arrive through the external payments collaborator.
func (s *Service) CreateUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		id = uuid.New().String()
	}
	user := &model.User{
		ID:               id,
		FreeCredits:      decimal.Zero,
		PurchasedCredits: decimal.Zero,
		AvailableCredits: decimal.Zero,
		ExpendedCredits:  decimal.Zero,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// GetUser returns a user's ledger view.
func (s *Service) GetUser(ctx context.Context, id string) (*model.User, error) {
	return s.store.GetUser(ctx, id)
}

// ListBets returns a user's bets.
func (s *Service) ListBets(ctx context.Context, userID string) ([]model.Bet, error) {
	return s.store.ListBetsByUser(ctx, userID)
}

// ListLedger returns a user's credit movements.
func (s *Service) ListLedger(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	return s.store.GetLedgerEntriesByUser(ctx, userID)
}

// --- Helpers ---

func (s *Service) broadcastMarket(ctx context.Context, marketID, event, side string, amount decimal.Decimal) {
	if s.hub == nil {
		return
	}
	market, err := s.store.GetMarket(ctx, marketID)
	if err != nil {
		return
	}
	s.hub.Broadcast(Message{
		Type:           event,
		MarketID:       marketID,
		YesProbability: market.YesProbability.String(),
		NoProbability:  market.NoProbability.String(),
		Side:           side,
		Amount:         amount.String(),
	})
}

func closedError(m *model.Market, now time.Time) error {
	return &model.MarketClosedError{
		MarketID: m.ID,
		Status:   m.Status,
		Expired:  m.Status == model.MarketOpen && !now.Before(m.ExpiresAt),
	}
}

// validationFromAMM maps the pricing package's sentinel errors onto the
// engine's validation kind.
func validationFromAMM(err error) error {
	switch {
	case errors.Is(err, amm.ErrInvalidStake):
		return &model.ValidationError{Field: "amount", Reason: "must be positive"}
	case errors.Is(err, amm.ErrInvalidShares):
		return &model.ValidationError{Field: "shares", Reason: "must be positive"}
	case errors.Is(err, amm.ErrInvalidLiquidity):
		return &model.ValidationError{Field: "liquidity", Reason: "must be positive"}
	case errors.Is(err, amm.ErrInvalidProbability):
		return &model.ValidationError{Field: "probability", Reason: "must be between 0 and 1 exclusive"}
	case errors.Is(err, amm.ErrInvalidFee):
		return &model.ValidationError{Field: "fee_bps", Reason: "must be in [0, 10000)"}
	default:
		return err
	}
}
