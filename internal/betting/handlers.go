// Package betting — HTTP handlers for the engine API.
package betting

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/wagerline/betting-engine/internal/metrics"
	"github.com/wagerline/betting-engine/internal/model"
	"github.com/wagerline/betting-engine/internal/ratelimit"
)

// API exposes the betting service over HTTP. The rate limiter, when set,
// guards the mutating trade endpoints per user.
type API struct {
	svc     *Service
	limiter *ratelimit.Limiter
}

// NewAPI creates the HTTP layer. Pass nil for limiter to disable rate
// limiting.
func NewAPI(svc *Service, limiter *ratelimit.Limiter) *API {
	return &API{svc: svc, limiter: limiter}
}

// Routes mounts the API under the given router.
func (a *API) Routes(r chi.Router) {
	r.Post("/markets", a.handleCreateMarket)
	r.Get("/markets", a.handleListMarkets)
	r.Get("/markets/{marketID}", a.handleGetMarket)
	r.Get("/markets/{marketID}/quote", a.handleGetQuote)
	r.Post("/markets/{marketID}/resolve", a.handleResolveMarket)

	r.Post("/bets", a.handlePlaceBet)
	r.Post("/bets/{betID}/sell", a.handleSellPosition)

	r.Post("/users", a.handleCreateUser)
	r.Get("/users/{userID}/balance", a.handleGetBalance)
	r.Get("/users/{userID}/bets", a.handleListBets)
	r.Get("/users/{userID}/ledger", a.handleListLedger)
	r.Post("/users/{userID}/rewards/claim", a.handleClaimDaily)
}

// --- Markets ---

func (a *API) handleCreateMarket(w http.ResponseWriter, r *http.Request) {
	var req CreateMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	market, err := a.svc.CreateMarket(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, market)
}

func (a *API) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	markets, err := a.svc.ListMarkets(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": markets})
}

func (a *API) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	market, err := a.svc.GetMarket(r.Context(), chi.URLParam(r, "marketID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, market)
}

func (a *API) handleGetQuote(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		writeError(w, "amount must be a decimal number", http.StatusBadRequest)
		return
	}
	side := model.Side(r.URL.Query().Get("side"))

	quote, err := a.svc.GetTradeQuote(r.Context(), chi.URLParam(r, "marketID"), amount, side)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (a *API) handleResolveMarket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Outcome model.Side `json:"outcome"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := a.svc.ResolveMarket(r.Context(), chi.URLParam(r, "marketID"), req.Outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Trades ---

func (a *API) handlePlaceBet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
		PlaceBetRequest
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !a.allow(r, "trade:"+req.UserID) {
		writeError(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	result, err := a.svc.PlaceBet(r.Context(), req.UserID, req.PlaceBetRequest)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (a *API) handleSellPosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}
	if !a.allow(r, "trade:"+req.UserID) {
		writeError(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	result, err := a.svc.SellPosition(r.Context(), req.UserID, chi.URLParam(r, "betID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Users ---

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	user, err := a.svc.CreateUser(r.Context(), req.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotOf(user))
}

func (a *API) handleListBets(w http.ResponseWriter, r *http.Request) {
	bets, err := a.svc.ListBets(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bets": bets})
}

func (a *API) handleListLedger(w http.ResponseWriter, r *http.Request) {
	entries, err := a.svc.ListLedger(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleClaimDaily(w http.ResponseWriter, r *http.Request) {
	result, err := a.svc.ClaimDailyCredits(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- Helpers ---

func (a *API) allow(r *http.Request, key string) bool {
	if a.limiter == nil {
		return true
	}
	if a.limiter.Allow(r.Context(), key) {
		return true
	}
	metrics.RateLimitRejections.Inc()
	return false
}

// writeDomainError maps the engine's typed errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrInsufficientBalance):
		writeError(w, err.Error(), http.StatusPaymentRequired)
	case errors.Is(err, model.ErrMarketClosed),
		errors.Is(err, model.ErrAlreadyClaimed),
		errors.Is(err, model.ErrInvalidState),
		errors.Is(err, model.ErrWriteConflict):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		slog.Error("internal error", "err", err)
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
