// Package wallet holds the per-user balance and the append-only ledger of
// every event that moved it.
package wallet

import (
	"errors"
	"fmt"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/types"
)

// Errors returned by the balance primitives.
var (
	ErrNonPositiveAmount   = errors.New("wallet: amount must be positive")
	ErrInsufficientBalance = errors.New("wallet: insufficient balance")
	ErrCurrencyMismatch    = errors.New("wallet: currency mismatch")
	ErrBalanceOverflow     = errors.New("wallet: balance overflow")
)

// Wallet is the single balance a user owns. Balance never goes below zero;
// the guard lives in Debit rather than in storage.
type Wallet struct {
	types.Entity
	ID      id.WalletID `json:"id"`
	UserID  id.UserID   `json:"user_id"`
	Balance types.Money `json:"balance"`
}

// New returns an empty wallet for userID.
func New(userID id.UserID, currency string) *Wallet {
	return &Wallet{
		Entity:  types.NewEntity(),
		ID:      id.NewWalletID(),
		UserID:  userID,
		Balance: types.Zero(currency),
	}
}

// Credit increases the balance by amount. A credit the balance cannot hold
// fails with ErrBalanceOverflow and leaves the balance untouched.
func (w *Wallet) Credit(amount types.Money) error {
	if err := w.check(amount); err != nil {
		return err
	}
	sum, err := w.Balance.CheckedAdd(amount)
	if err != nil {
		return fmt.Errorf("%w: have %s, credit %s", ErrBalanceOverflow, w.Balance.FormatMajor(), amount.FormatMajor())
	}
	w.Balance = sum
	return nil
}

// Debit decreases the balance by amount, refusing to go below zero.
// The balance is left untouched on error.
func (w *Wallet) Debit(amount types.Money) error {
	if err := w.check(amount); err != nil {
		return err
	}
	if w.Balance.LessThan(amount) {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, w.Balance.FormatMajor(), amount.FormatMajor())
	}
	w.Balance = w.Balance.Subtract(amount)
	return nil
}

// Covers reports whether the balance is at least amount.
func (w *Wallet) Covers(amount types.Money) bool {
	return w.Balance.SameCurrency(amount) && !w.Balance.LessThan(amount)
}

func (w *Wallet) check(amount types.Money) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	if !w.Balance.SameCurrency(amount) {
		return fmt.Errorf("%w: wallet %s, amount %s", ErrCurrencyMismatch, w.Balance.Currency, amount.Currency)
	}
	return nil
}
