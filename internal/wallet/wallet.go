// Package wallet implements the dual-wallet spending policy for the credit
// ledger.
//
// Every user carries two balances: free credits (granted by the daily
// allocation) and purchased credits (paid). Normal markets spend free
// credits first, then purchased. Markets close to expiry ("ending soon")
// accept purchased credits only, which keeps promotional credits from being
// dumped into near-resolved markets.
//
// The policy itself is pure: it decides which wallets are eligible and in
// what order. The actual decrement is a conditional write owned by the
// store, so concurrent trades cannot overdraw a wallet.
package wallet

import (
	"github.com/shopspring/decimal"

	"github.com/wagerline/betting-engine/internal/model"
)

// Balances is the snapshot a debit decision is made against.
type Balances struct {
	Free      decimal.Decimal
	Purchased decimal.Decimal
}

// Of extracts the wallet balances from a user row.
func Of(u *model.User) Balances {
	return Balances{Free: u.FreeCredits, Purchased: u.PurchasedCredits}
}

// Get returns the balance of one wallet.
func (b Balances) Get(w model.Wallet) decimal.Decimal {
	if w == model.WalletFree {
		return b.Free
	}
	return b.Purchased
}

// DebitOrder returns the wallets eligible for a debit, in the order they
// must be attempted. Exactly one wallet is debited per trade — no partial
// splitting across wallets.
func DebitOrder(endingSoon bool) []model.Wallet {
	if endingSoon {
		return []model.Wallet{model.WalletPurchased}
	}
	return []model.Wallet{model.WalletFree, model.WalletPurchased}
}

// Pick returns the first eligible wallet whose balance covers the amount.
// When no eligible wallet covers it, an InsufficientBalanceError reports the
// required amount and the total available across the wallets that were
// considered.
func Pick(b Balances, amount decimal.Decimal, endingSoon bool) (model.Wallet, error) {
	order := DebitOrder(endingSoon)

	available := decimal.Zero
	for _, w := range order {
		bal := b.Get(w)
		if bal.GreaterThanOrEqual(amount) {
			return w, nil
		}
		available = available.Add(bal)
	}

	return "", &model.InsufficientBalanceError{
		Required:  amount,
		Available: available,
		Wallets:   order,
	}
}
