package escrow

import (
	"context"
	"errors"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/wallet"
)

// ──────────────────────────────────────────────────
// Top-up
// ──────────────────────────────────────────────────

// TopUp credits amount to the user's wallet, creating the wallet on first
// use, and books a successful deposit.
func (e *Engine) TopUp(ctx context.Context, userID id.UserID, amount types.Money) (*wallet.Transaction, error) {
	const op = "top_up"

	if err := e.checkAmount(amount, "Jumlah top-up harus lebih dari 0."); err != nil {
		return nil, e.fail(ctx, op, err)
	}
	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return nil, e.fail(ctx, op, err)
	}

	var deposit *wallet.Transaction
	err := e.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		wallets, err := e.lockWallets(ctx, tx, true, userID)
		if err != nil {
			return err
		}

		deposit, err = e.book(ctx, tx, wallets[userID], &wallet.Transaction{
			Amount:      amount,
			Type:        wallet.TypeDeposit,
			Status:      wallet.StatusSuccess,
			Description: depositDescription(amount),
		})
		return err
	})
	if err != nil {
		return nil, e.fail(ctx, op, err)
	}

	e.plugins.EmitDeposit(ctx, deposit)
	e.logger.Info("wallet topped up",
		"user_id", userID.String(),
		"wallet_id", deposit.WalletID.String(),
		"amount", amount.FormatMajor(),
	)
	return deposit, nil
}

// checkAmount rejects non-positive amounts with msg and amounts in a
// currency the ledger does not book.
func (e *Engine) checkAmount(amount types.Money, msg string) error {
	if amount.Currency != e.currency {
		return newError(ErrCurrencyMismatch, "Mata uang %q tidak didukung.", amount.Currency)
	}
	if !amount.IsPositive() {
		return newError(ErrInvalidAmount, "%s", msg)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// Wallet returns the user's wallet. It fails with ErrWalletNotFound before
// the first top-up.
func (e *Engine) Wallet(ctx context.Context, userID id.UserID) (*wallet.Wallet, error) {
	w, err := e.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return w, nil
}

// Balance returns the user's balance, zero when no wallet exists yet.
// The value is for display; money operations re-read it under lock.
func (e *Engine) Balance(ctx context.Context, userID id.UserID) (types.Money, error) {
	w, err := e.store.GetWalletByUser(ctx, userID)
	if errors.Is(err, ErrWalletNotFound) {
		return types.Zero(e.currency), nil
	}
	if err != nil {
		return types.Money{}, classify(err)
	}
	return w.Balance, nil
}

// History lists the user's ledger rows, newest first.
func (e *Engine) History(ctx context.Context, userID id.UserID, opts wallet.ListOpts) ([]*wallet.Transaction, error) {
	w, err := e.store.GetWalletByUser(ctx, userID)
	if errors.Is(err, ErrWalletNotFound) {
		return []*wallet.Transaction{}, nil
	}
	if err != nil {
		return nil, classify(err)
	}

	txs, err := e.store.ListTransactions(ctx, w.ID, opts)
	if err != nil {
		return nil, classify(err)
	}
	return txs, nil
}
