package betting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/wagerline/betting-engine/internal/model"
	"github.com/wagerline/betting-engine/internal/store"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// approxEqual compares decimals within a small tolerance to absorb
// division rounding.
func approxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThan(d("0.000001"))
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	return NewService(st, nil, 0, 24*time.Hour), st
}

func seedMarket(t *testing.T, st *store.MemoryStore, expiresIn time.Duration) *model.Market {
	t.Helper()
	now := time.Now().UTC()
	m := &model.Market{
		ID:             "mkt-1",
		Question:       "Will it rain tomorrow?",
		YesReserve:     d("10000"),
		NoReserve:      d("10000"),
		YesProbability: d("0.5"),
		NoProbability:  d("0.5"),
		Status:         model.MarketOpen,
		ExpiresAt:      now.Add(expiresIn),
		CreatedAt:      now,
	}
	if err := st.CreateMarket(context.Background(), m); err != nil {
		t.Fatalf("seed market: %v", err)
	}
	return m
}

func seedUser(t *testing.T, st *store.MemoryStore, id, free, purchased string) *model.User {
	t.Helper()
	u := &model.User{
		ID:               id,
		FreeCredits:      d(free),
		PurchasedCredits: d(purchased),
		AvailableCredits: d(free).Add(d(purchased)),
		ExpendedCredits:  decimal.Zero,
		CreatedAt:        time.Now().UTC(),
	}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func TestGetTradeQuote_DoesNotMutate(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, 72*time.Hour)
	ctx := context.Background()

	quote, err := svc.GetTradeQuote(ctx, m.ID, d("1000"), model.SideYes)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	// 1000 into a 10000/10000 pool buys ~909.09 shares.
	if !approxEqual(quote.Shares, d("909.0909090909090909")) {
		t.Errorf("shares = %s, want ~909.0909", quote.Shares)
	}
	if !quote.ProbabilityAfter.GreaterThan(quote.ProbabilityBefore) {
		t.Errorf("buying YES must raise the YES probability: %s -> %s",
			quote.ProbabilityBefore, quote.ProbabilityAfter)
	}

	after, err := st.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("reload market: %v", err)
	}
	if !after.YesReserve.Equal(d("10000")) || !after.NoReserve.Equal(d("10000")) {
		t.Errorf("quote mutated reserves: yes=%s no=%s", after.YesReserve, after.NoReserve)
	}
}

func TestPlaceBet_DebitsFreeWalletFirst(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, 72*time.Hour)
	seedUser(t, st, "u1", "5000", "0")
	ctx := context.Background()

	result, err := svc.PlaceBet(ctx, "u1", PlaceBetRequest{
		MarketID: m.ID, Amount: d("1000"), Side: model.SideYes,
	})
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}

	if result.Bet.Status != model.BetPending {
		t.Errorf("bet status = %s, want pending", result.Bet.Status)
	}
	if result.Bet.Wallet != model.WalletFree {
		t.Errorf("debited wallet = %s, want free", result.Bet.Wallet)
	}
	if !result.NewBalance.FreeCredits.Equal(d("4000")) {
		t.Errorf("free after = %s, want 4000", result.NewBalance.FreeCredits)
	}
	if !result.NewProbability.GreaterThan(d("0.5")) {
		t.Errorf("new probability = %s, want > 0.5", result.NewProbability)
	}

	market, err := st.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("reload market: %v", err)
	}
	if !market.NoReserve.Equal(d("11000")) {
		t.Errorf("no reserve = %s, want 11000", market.NoReserve)
	}

	entries, err := st.GetLedgerEntriesByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	if entries[0].Type != model.TxBetPlaced || !entries[0].Amount.Equal(d("-1000")) {
		t.Errorf("ledger entry = %s %s, want bet_placed -1000",
			entries[0].Type, entries[0].Amount)
	}
}

func TestPlaceBet_FallsThroughToPurchased(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, 72*time.Hour)
	seedUser(t, st, "u1", "50", "100")
	ctx := context.Background()

	result, err := svc.PlaceBet(ctx, "u1", PlaceBetRequest{
		MarketID: m.ID, Amount: d("80"), Side: model.SideNo,
	})
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}

	if result.Bet.Wallet != model.WalletPurchased {
		t.Errorf("debited wallet = %s, want purchased", result.Bet.Wallet)
	}
	if !result.NewBalance.FreeCredits.Equal(d("50")) {
		t.Errorf("free wallet touched: %s, want 50", result.NewBalance.FreeCredits)
	}
	if !result.NewBalance.PurchasedCredits.Equal(d("20")) {
		t.Errorf("purchased after = %s, want 20", result.NewBalance.PurchasedCredits)
	}
}

func TestPlaceBet_EndingSoonSpendsPurchasedOnly(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, time.Hour) // inside the 24h ending-soon window
	seedUser(t, st, "u1", "1000", "0")
	ctx := context.Background()

	_, err := svc.PlaceBet(ctx, "u1", PlaceBetRequest{
		MarketID: m.ID, Amount: d("100"), Side: model.SideYes,
	})
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}

	var ib *model.InsufficientBalanceError
	if !errors.As(err, &ib) {
		t.Fatalf("err type = %T", err)
	}
	if len(ib.Wallets) != 1 || ib.Wallets[0] != model.WalletPurchased {
		t.Errorf("eligible wallets = %v, want [purchased]", ib.Wallets)
	}

	user, err := st.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if !user.FreeCredits.Equal(d("1000")) {
		t.Errorf("free credits touched on rejected trade: %s", user.FreeCredits)
	}
}

func TestPlaceBet_InsufficientAcrossBothWallets(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, 72*time.Hour)
	seedUser(t, st, "u1", "30", "40")
	ctx := context.Background()

	_, err := svc.PlaceBet(ctx, "u1", PlaceBetRequest{
		MarketID: m.ID, Amount: d("100"), Side: model.SideYes,
	})
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want insufficient balance", err)
	}

	// No wallet splitting: 30+40 >= 70 would still not cover 100, but even
	// a 60 stake must fail because no single wallet covers it.
	_, err = svc.PlaceBet(ctx, "u1", PlaceBetRequest{
		MarketID: m.ID, Amount: d("60"), Side: model.SideYes,
	})
	if !errors.Is(err, model.ErrInsufficientBalance) {
		t.Fatalf("split-wallet stake accepted: %v", err)
	}
}

func TestPlaceBet_ExpiredMarket(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, -time.Hour)
	seedUser(t, st, "u1", "1000", "0")

	_, err := svc.PlaceBet(context.Background(), "u1", PlaceBetRequest{
		MarketID: m.ID, Amount: d("100"), Side: model.SideYes,
	})
	if !errors.Is(err, model.ErrMarketClosed) {
		t.Fatalf("err = %v, want market closed", err)
	}

	var mc *model.MarketClosedError
	if !errors.As(err, &mc) || !mc.Expired {
		t.Errorf("expected expiry-flagged closed error, got %v", err)
	}
}

func TestPlaceBet_Validation(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, 72*time.Hour)
	seedUser(t, st, "u1", "1000", "0")
	ctx := context.Background()

	_, err := svc.PlaceBet(ctx, "u1", PlaceBetRequest{
		MarketID: m.ID, Amount: d("100"), Side: "MAYBE",
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("invalid side: err = %v, want validation", err)
	}

	_, err = svc.PlaceBet(ctx, "u1", PlaceBetRequest{
		MarketID: m.ID, Amount: d("-5"), Side: model.SideYes,
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("negative amount: err = %v, want validation", err)
	}
}

func TestSellPosition_RoundTripAtZeroFee(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, 72*time.Hour)
	seedUser(t, st, "u1", "5000", "0")
	ctx := context.Background()

	placed, err := svc.PlaceBet(ctx, "u1", PlaceBetRequest{
		MarketID: m.ID, Amount: d("1000"), Side: model.SideYes,
	})
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}

	sold, err := svc.SellPosition(ctx, "u1", placed.Bet.ID)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	// At zero fee an immediate sell recovers the stake.
	if !approxEqual(sold.CreditsOut, d("1000")) {
		t.Errorf("credits out = %s, want ~1000", sold.CreditsOut)
	}
	if !approxEqual(sold.Profit, d("0")) {
		t.Errorf("profit = %s, want ~0", sold.Profit)
	}
	if sold.Bet.Status != model.BetSold {
		t.Errorf("bet status = %s, want sold", sold.Bet.Status)
	}

	// Proceeds land in the purchased wallet regardless of the debit wallet.
	if !approxEqual(sold.NewBalance.PurchasedCredits, d("1000")) {
		t.Errorf("purchased after = %s, want ~1000", sold.NewBalance.PurchasedCredits)
	}
	if !sold.NewBalance.FreeCredits.Equal(d("4000")) {
		t.Errorf("free after = %s, want 4000", sold.NewBalance.FreeCredits)
	}

	market, err := st.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("reload market: %v", err)
	}
	if !approxEqual(market.YesReserve, d("10000")) || !approxEqual(market.NoReserve, d("10000")) {
		t.Errorf("reserves not restored: yes=%s no=%s", market.YesReserve, market.NoReserve)
	}
	if !approxEqual(market.YesProbability, d("0.5")) {
		t.Errorf("probability not restored: %s", market.YesProbability)
	}
}

func TestSellPosition_NotOwnerReadsAsNotFound(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, 72*time.Hour)
	seedUser(t, st, "u1", "5000", "0")
	seedUser(t, st, "u2", "5000", "0")
	ctx := context.Background()

	placed, err := svc.PlaceBet(ctx, "u1", PlaceBetRequest{
		MarketID: m.ID, Amount: d("100"), Side: model.SideYes,
	})
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}

	_, err = svc.SellPosition(ctx, "u2", placed.Bet.ID)
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestSellPosition_AlreadySold(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, 72*time.Hour)
	seedUser(t, st, "u1", "5000", "0")
	ctx := context.Background()

	placed, err := svc.PlaceBet(ctx, "u1", PlaceBetRequest{
		MarketID: m.ID, Amount: d("100"), Side: model.SideNo,
	})
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if _, err := svc.SellPosition(ctx, "u1", placed.Bet.ID); err != nil {
		t.Fatalf("first sell: %v", err)
	}

	_, err = svc.SellPosition(ctx, "u1", placed.Bet.ID)
	if !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("second sell: err = %v, want invalid state", err)
	}
}

func TestResolveMarket_SettlesWinnersAndLosers(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, 72*time.Hour)
	seedUser(t, st, "winner", "5000", "0")
	seedUser(t, st, "loser", "5000", "0")
	ctx := context.Background()

	win, err := svc.PlaceBet(ctx, "winner", PlaceBetRequest{
		MarketID: m.ID, Amount: d("1000"), Side: model.SideYes,
	})
	if err != nil {
		t.Fatalf("place winning bet: %v", err)
	}
	lose, err := svc.PlaceBet(ctx, "loser", PlaceBetRequest{
		MarketID: m.ID, Amount: d("1000"), Side: model.SideNo,
	})
	if err != nil {
		t.Fatalf("place losing bet: %v", err)
	}

	result, err := svc.ResolveMarket(ctx, m.ID, model.SideYes)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if result.Winners != 1 || result.Losers != 1 {
		t.Errorf("winners/losers = %d/%d, want 1/1", result.Winners, result.Losers)
	}

	wonBet, err := st.GetBet(ctx, win.Bet.ID)
	if err != nil {
		t.Fatalf("reload won bet: %v", err)
	}
	if wonBet.Status != model.BetResolvedWin {
		t.Errorf("won bet status = %s", wonBet.Status)
	}
	// Winning shares redeem at one credit each.
	if !wonBet.Payout.Equal(wonBet.Shares) {
		t.Errorf("payout = %s, want shares %s", wonBet.Payout, wonBet.Shares)
	}

	winner, err := st.GetUser(ctx, "winner")
	if err != nil {
		t.Fatalf("reload winner: %v", err)
	}
	if !winner.PurchasedCredits.Equal(wonBet.Payout) {
		t.Errorf("winner purchased = %s, want %s", winner.PurchasedCredits, wonBet.Payout)
	}

	lostBet, err := st.GetBet(ctx, lose.Bet.ID)
	if err != nil {
		t.Fatalf("reload lost bet: %v", err)
	}
	if lostBet.Status != model.BetResolvedLoss {
		t.Errorf("lost bet status = %s", lostBet.Status)
	}
	if !lostBet.Payout.IsZero() || !lostBet.Profit.Equal(d("-1000")) {
		t.Errorf("lost bet payout/profit = %s/%s, want 0/-1000",
			lostBet.Payout, lostBet.Profit)
	}

	// A second resolution must be rejected.
	if _, err := svc.ResolveMarket(ctx, m.ID, model.SideNo); !errors.Is(err, model.ErrInvalidState) {
		t.Errorf("double resolve: err = %v, want invalid state", err)
	}
}

func TestSellPosition_AfterResolveIsRejected(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, 72*time.Hour)
	seedUser(t, st, "u1", "5000", "0")
	ctx := context.Background()

	placed, err := svc.PlaceBet(ctx, "u1", PlaceBetRequest{
		MarketID: m.ID, Amount: d("100"), Side: model.SideYes,
	})
	if err != nil {
		t.Fatalf("place bet: %v", err)
	}
	if _, err := svc.ResolveMarket(ctx, m.ID, model.SideNo); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	_, err = svc.SellPosition(ctx, "u1", placed.Bet.ID)
	if !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("err = %v, want invalid state", err)
	}
}

func TestClaimDailyCredits_OncePerDay(t *testing.T) {
	svc, st := newTestService(t)
	seedUser(t, st, "u1", "0", "0")
	ctx := context.Background()

	result, err := svc.ClaimDailyCredits(ctx, "u1")
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !result.CreditsAwarded.Equal(d("1000")) {
		t.Errorf("first claim = %s, want 1000", result.CreditsAwarded)
	}
	if result.ConsecutiveDays != 1 {
		t.Errorf("streak = %d, want 1", result.ConsecutiveDays)
	}
	if !result.NewBalance.FreeCredits.Equal(d("1000")) {
		t.Errorf("free after = %s, want 1000", result.NewBalance.FreeCredits)
	}

	_, err = svc.ClaimDailyCredits(ctx, "u1")
	if !errors.Is(err, model.ErrAlreadyClaimed) {
		t.Fatalf("second claim: err = %v, want already claimed", err)
	}

	entries, err := st.GetLedgerEntriesByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != model.TxDailyReward {
		t.Fatalf("ledger entries = %+v, want one daily_reward", entries)
	}
	if entries[0].Wallet != model.WalletFree {
		t.Errorf("reward wallet = %s, want free", entries[0].Wallet)
	}
}

func TestCreateMarket_SeedsPoolAtProbability(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p := d("0.7")
	market, err := svc.CreateMarket(ctx, CreateMarketRequest{
		Question:    "Will the launch slip?",
		Liquidity:   d("20000"),
		Probability: &p,
		ExpiresAt:   time.Now().UTC().Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("create market: %v", err)
	}

	if !approxEqual(market.YesProbability, d("0.7")) {
		t.Errorf("yes probability = %s, want 0.7", market.YesProbability)
	}
	if !approxEqual(market.YesReserve.Add(market.NoReserve), d("20000")) {
		t.Errorf("total liquidity = %s, want 20000",
			market.YesReserve.Add(market.NoReserve))
	}
}

func TestCreateMarket_Validation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateMarket(ctx, CreateMarketRequest{
		Question:  "",
		Liquidity: d("1000"),
		ExpiresAt: time.Now().UTC().Add(time.Hour),
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("empty question: err = %v, want validation", err)
	}

	_, err = svc.CreateMarket(ctx, CreateMarketRequest{
		Question:  "Expired on arrival?",
		Liquidity: d("1000"),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("past expiry: err = %v, want validation", err)
	}
}

func TestPlaceBet_ConcurrentBuysSerializeOnPool(t *testing.T) {
	svc, st := newTestService(t)
	m := seedMarket(t, st, 72*time.Hour)
	seedUser(t, st, "u1", "10000", "0")
	ctx := context.Background()

	const buyers = 8
	stake := d("100")

	var wg sync.WaitGroup
	errs := make([]error, buyers)
	results := make([]*PlaceBetResult, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.PlaceBet(ctx, "u1", PlaceBetRequest{
				MarketID: m.ID, Amount: stake, Side: model.SideYes,
			})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("buy %d: %v", i, err)
		}
	}

	// Every buy must have priced off the reserves left by the previous
	// one, never a shared stale snapshot.
	market, err := st.GetMarket(ctx, m.ID)
	if err != nil {
		t.Fatalf("reload market: %v", err)
	}
	if !market.NoReserve.Equal(d("10800")) {
		t.Errorf("no reserve = %s, want 10800", market.NoReserve)
	}
	wantYes := d("100000000").Div(d("10800"))
	if market.YesReserve.Sub(wantYes).Abs().GreaterThan(d("0.001")) {
		t.Errorf("yes reserve = %s, want ~%s", market.YesReserve, wantYes)
	}
	k := market.YesReserve.Mul(market.NoReserve)
	if k.Sub(d("100000000")).Abs().GreaterThan(d("0.001")) {
		t.Errorf("constant product drifted: k = %s", k)
	}

	// Total shares match the reserve drawdown, so no buy double-counted.
	totalShares := decimal.Zero
	for _, r := range results {
		totalShares = totalShares.Add(r.SharesReceived)
	}
	drawdown := d("10000").Sub(market.YesReserve)
	if totalShares.Sub(drawdown).Abs().GreaterThan(d("0.001")) {
		t.Errorf("shares sum = %s, reserve drawdown = %s", totalShares, drawdown)
	}

	user, err := st.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if !user.FreeCredits.Equal(d("9200")) {
		t.Errorf("free after = %s, want 9200", user.FreeCredits)
	}

	entries, err := st.GetLedgerEntriesByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(entries) != buyers {
		t.Errorf("ledger entries = %d, want %d", len(entries), buyers)
	}
}

// --- HTTP layer ---

func newTestRouter(t *testing.T) (*chi.Mux, *store.MemoryStore) {
	t.Helper()
	svc, st := newTestService(t)
	api := NewAPI(svc, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		api.Routes(r)
	})
	return r, st
}

func TestHandlePlaceBet_InsufficientBalanceStatus(t *testing.T) {
	r, st := newTestRouter(t)
	m := seedMarket(t, st, 72*time.Hour)
	seedUser(t, st, "u1", "10", "0")

	body, _ := json.Marshal(map[string]any{
		"user_id":   "u1",
		"market_id": m.ID,
		"amount":    "500",
		"side":      "YES",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/bets", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetQuote(t *testing.T) {
	r, st := newTestRouter(t)
	m := seedMarket(t, st, 72*time.Hour)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/markets/"+m.ID+"/quote?amount=1000&side=YES", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var quote TradeQuote
	if err := json.Unmarshal(rec.Body.Bytes(), &quote); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !quote.ProbabilityAfter.GreaterThan(d("0.5")) {
		t.Errorf("probability after = %s, want > 0.5", quote.ProbabilityAfter)
	}
}

func TestHandleGetMarket_NotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/markets/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}
