// Package amm implements the constant-product market maker (CPMM) used to
// price binary-outcome shares from a pool of two reserves.
//
// The pool holds a YES reserve and a NO reserve with invariant
//
//	k = yesReserve * noReserve
//
// held constant across trades net of fees. Buying YES pushes stake into the
// NO reserve and draws shares from the YES reserve along the hyperbola, so
// both reserves remain strictly positive for any finite trade.
//
// All monetary values use shopspring/decimal — never float64 for money.
// Every function is pure and stateless; no I/O.
package amm

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidStake is returned when stake <= 0.
	ErrInvalidStake = errors.New("amm: stake must be positive")

	// ErrInvalidShares is returned when shares <= 0 on a sell.
	ErrInvalidShares = errors.New("amm: shares must be positive")

	// ErrInvalidLiquidity is returned when pool liquidity <= 0.
	ErrInvalidLiquidity = errors.New("amm: liquidity must be positive")

	// ErrInvalidProbability is returned when an initial probability is
	// outside the open interval (0, 1).
	ErrInvalidProbability = errors.New("amm: probability must be in (0, 1)")

	// ErrInvalidFee is returned when feeBps is negative or >= 10000.
	ErrInvalidFee = errors.New("amm: fee must be in [0, 10000) basis points")

	// PriceScale is the number of decimal places for price/probability
	// rounding on display values. Reserves and share quantities keep full
	// division precision so the product invariant survives round trips.
	PriceScale int32 = 8
)

var (
	oneHundred  = decimal.NewFromInt(100)
	tenThousand = decimal.NewFromInt(10000)
)

// Pool is the reserve pair backing one market. Zero value is invalid; build
// pools with NewPool or NewPoolWithProbability.
type Pool struct {
	YesReserve decimal.Decimal `json:"yes_reserve"`
	NoReserve  decimal.Decimal `json:"no_reserve"`
}

// NewPool creates a pool with equal reserves (50/50 odds) from total
// liquidity.
func NewPool(liquidity decimal.Decimal) (Pool, error) {
	return NewPoolWithProbability(liquidity, decimal.NewFromFloat(0.5))
}

// NewPoolWithProbability creates a pool whose implied YES probability is p:
//
//	noReserve  = p * liquidity
//	yesReserve = (1-p) * liquidity
//
// since yesProbability = noReserve / (yesReserve + noReserve).
func NewPoolWithProbability(liquidity, p decimal.Decimal) (Pool, error) {
	if liquidity.LessThanOrEqual(decimal.Zero) {
		return Pool{}, ErrInvalidLiquidity
	}
	one := decimal.NewFromInt(1)
	if p.LessThanOrEqual(decimal.Zero) || p.GreaterThanOrEqual(one) {
		return Pool{}, ErrInvalidProbability
	}
	return Pool{
		YesReserve: one.Sub(p).Mul(liquidity),
		NoReserve:  p.Mul(liquidity),
	}, nil
}

// K returns the constant product yesReserve * noReserve.
func (p Pool) K() decimal.Decimal {
	return p.YesReserve.Mul(p.NoReserve)
}

// YesProbability returns the implied probability of the YES outcome:
// noReserve / (yesReserve + noReserve). Rounded to PriceScale.
func (p Pool) YesProbability() decimal.Decimal {
	return p.NoReserve.Div(p.YesReserve.Add(p.NoReserve)).Round(PriceScale)
}

// NoProbability returns 1 - YesProbability.
func (p Pool) NoProbability() decimal.Decimal {
	return decimal.NewFromInt(1).Sub(p.YesProbability())
}

// YesPrice returns the marginal YES price noReserve / yesReserve.
func (p Pool) YesPrice() decimal.Decimal {
	return p.NoReserve.Div(p.YesReserve).Round(PriceScale)
}

// NoPrice returns the marginal NO price yesReserve / noReserve.
func (p Pool) NoPrice() decimal.Decimal {
	return p.YesReserve.Div(p.NoReserve).Round(PriceScale)
}

// BuyResult describes a buy executed against a pool.
type BuyResult struct {
	Pool              Pool            // post-trade reserves
	Shares            decimal.Decimal // shares drawn from the side's reserve
	Fee               decimal.Decimal // stake withheld as fee
	PriceBefore       decimal.Decimal // marginal price of the traded side
	PriceAfter        decimal.Decimal
	ProbabilityBefore decimal.Decimal // implied probability of the traded side
	ProbabilityAfter  decimal.Decimal
	PriceImpact       decimal.Decimal // (priceAfter-priceBefore)/priceBefore * 100
	EffectivePrice    decimal.Decimal // stake / shares, average paid per share
}

// SellResult describes a sell executed against a pool. The fee applies to
// the output credits, not the input shares, so a zero-fee round trip
// restores the original reserves exactly (within division precision).
type SellResult struct {
	Pool             Pool            // post-trade reserves
	Credits          decimal.Decimal // credits out, net of fee
	Fee              decimal.Decimal // credits withheld as fee
	PriceAfter       decimal.Decimal // marginal price of the traded side
	ProbabilityAfter decimal.Decimal // implied probability of the traded side
}

// BuyYes buys YES shares with the given stake. The effective stake (net of
// fee) enters the NO reserve and shares come out of the YES reserve:
//
//	newNo  = noReserve + stake*(1 - feeBps/10000)
//	newYes = k / newNo
//	shares = yesReserve - newYes
func BuyYes(pool Pool, stake decimal.Decimal, feeBps int64) (BuyResult, error) {
	return buy(pool, stake, feeBps, true)
}

// BuyNo is the symmetric trade: stake enters the YES reserve, shares are
// drawn from the NO reserve.
func BuyNo(pool Pool, stake decimal.Decimal, feeBps int64) (BuyResult, error) {
	return buy(pool, stake, feeBps, false)
}

func buy(pool Pool, stake decimal.Decimal, feeBps int64, yes bool) (BuyResult, error) {
	if stake.LessThanOrEqual(decimal.Zero) {
		return BuyResult{}, ErrInvalidStake
	}
	feeRate, err := feeRate(feeBps)
	if err != nil {
		return BuyResult{}, err
	}

	shareRes, moneyRes := pool.YesReserve, pool.NoReserve
	if !yes {
		shareRes, moneyRes = pool.NoReserve, pool.YesReserve
	}

	fee := stake.Mul(feeRate)
	effective := stake.Sub(fee)

	k := shareRes.Mul(moneyRes)
	newMoney := moneyRes.Add(effective)
	newShare := k.Div(newMoney)
	shares := shareRes.Sub(newShare)

	newPool := Pool{YesReserve: newShare, NoReserve: newMoney}
	if !yes {
		newPool = Pool{YesReserve: newMoney, NoReserve: newShare}
	}

	priceBefore := moneyRes.Div(shareRes).Round(PriceScale)
	priceAfter := newMoney.Div(newShare).Round(PriceScale)
	probBefore := sideProbability(pool, yes)
	probAfter := sideProbability(newPool, yes)

	return BuyResult{
		Pool:              newPool,
		Shares:            shares,
		Fee:               fee,
		PriceBefore:       priceBefore,
		PriceAfter:        priceAfter,
		ProbabilityBefore: probBefore,
		ProbabilityAfter:  probAfter,
		PriceImpact:       priceAfter.Sub(priceBefore).Div(priceBefore).Mul(oneHundred).Round(PriceScale),
		EffectivePrice:    stake.Div(shares).Round(PriceScale),
	}, nil
}

// SellYes returns shares to the YES reserve and pays credits out of the NO
// reserve:
//
//	newYes  = yesReserve + shares
//	newNo   = k / newYes
//	credits = (noReserve - newNo) * (1 - feeBps/10000)
func SellYes(pool Pool, shares decimal.Decimal, feeBps int64) (SellResult, error) {
	return sell(pool, shares, feeBps, true)
}

// SellNo is the symmetric trade: shares return to the NO reserve and credits
// come out of the YES reserve.
func SellNo(pool Pool, shares decimal.Decimal, feeBps int64) (SellResult, error) {
	return sell(pool, shares, feeBps, false)
}

func sell(pool Pool, shares decimal.Decimal, feeBps int64, yes bool) (SellResult, error) {
	if shares.LessThanOrEqual(decimal.Zero) {
		return SellResult{}, ErrInvalidShares
	}
	feeRate, err := feeRate(feeBps)
	if err != nil {
		return SellResult{}, err
	}

	shareRes, moneyRes := pool.YesReserve, pool.NoReserve
	if !yes {
		shareRes, moneyRes = pool.NoReserve, pool.YesReserve
	}

	k := shareRes.Mul(moneyRes)
	newShare := shareRes.Add(shares)
	newMoney := k.Div(newShare)
	raw := moneyRes.Sub(newMoney)

	fee := raw.Mul(feeRate)
	credits := raw.Sub(fee)

	newPool := Pool{YesReserve: newShare, NoReserve: newMoney}
	if !yes {
		newPool = Pool{YesReserve: newMoney, NoReserve: newShare}
	}

	return SellResult{
		Pool:             newPool,
		Credits:          credits,
		Fee:              fee,
		PriceAfter:       newMoney.Div(newShare).Round(PriceScale),
		ProbabilityAfter: sideProbability(newPool, yes),
	}, nil
}

// sideProbability returns the implied probability of the traded side.
func sideProbability(pool Pool, yes bool) decimal.Decimal {
	if yes {
		return pool.YesProbability()
	}
	return pool.NoProbability()
}

func feeRate(feeBps int64) (decimal.Decimal, error) {
	if feeBps < 0 || feeBps >= 10000 {
		return decimal.Decimal{}, ErrInvalidFee
	}
	return decimal.NewFromInt(feeBps).Div(tenThousand), nil
}
