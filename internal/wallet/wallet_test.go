package wallet

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/wagerline/betting-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestDebitOrder(t *testing.T) {
	require.Equal(t,
		[]model.Wallet{model.WalletFree, model.WalletPurchased},
		DebitOrder(false))
	require.Equal(t,
		[]model.Wallet{model.WalletPurchased},
		DebitOrder(true))
}

func TestPick_FreeFirstOnNormalMarkets(t *testing.T) {
	w, err := Pick(Balances{Free: d(100), Purchased: d(100)}, d(50), false)
	require.NoError(t, err)
	require.Equal(t, model.WalletFree, w)
}

func TestPick_FallsThroughToPurchased(t *testing.T) {
	// free=50, purchased=100, bet=80: free cannot cover, purchased is
	// debited whole — no partial free usage.
	w, err := Pick(Balances{Free: d(50), Purchased: d(100)}, d(80), false)
	require.NoError(t, err)
	require.Equal(t, model.WalletPurchased, w)
}

func TestPick_EndingSoonIgnoresFree(t *testing.T) {
	// free=1000, purchased=0, ending-soon: insufficient despite free balance.
	_, err := Pick(Balances{Free: d(1000), Purchased: decimal.Zero}, d(10), true)
	require.Error(t, err)
	require.ErrorIs(t, err, model.ErrInsufficientBalance)

	var ibe *model.InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	require.True(t, ibe.Required.Equal(d(10)))
	require.True(t, ibe.Available.IsZero())
	require.Equal(t, []model.Wallet{model.WalletPurchased}, ibe.Wallets)
}

func TestPick_InsufficientAcrossBoth(t *testing.T) {
	_, err := Pick(Balances{Free: d(30), Purchased: d(40)}, d(80), false)
	require.ErrorIs(t, err, model.ErrInsufficientBalance)

	var ibe *model.InsufficientBalanceError
	require.True(t, errors.As(err, &ibe))
	require.True(t, ibe.Available.Equal(d(70)))
}

func TestPick_ExactBalance(t *testing.T) {
	w, err := Pick(Balances{Free: d(80), Purchased: decimal.Zero}, d(80), false)
	require.NoError(t, err)
	require.Equal(t, model.WalletFree, w)
}
