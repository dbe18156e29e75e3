package escrow

import (
	"context"
	"errors"
	"slices"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/wallet"
)

// lockWallets resolves the wallets of users and locks them in ascending
// wallet-id order, so two units touching the same pair of wallets always
// queue on the same row first. With create set, missing wallets are created
// empty; otherwise the first missing one fails with ErrWalletNotFound.
//
// The returned map is keyed by user. Users sharing a wallet share a pointer.
func (e *Engine) lockWallets(ctx context.Context, tx store.Tx, create bool, userIDs ...id.UserID) (map[id.UserID]*wallet.Wallet, error) {
	owners := make(map[id.WalletID][]id.UserID, len(userIDs))
	walletIDs := make([]id.WalletID, 0, len(userIDs))

	for _, userID := range userIDs {
		var (
			walletID id.WalletID
			err      error
		)
		if create {
			walletID, err = tx.EnsureWallet(ctx, userID, e.currency)
		} else {
			walletID, err = tx.FindWalletID(ctx, userID)
		}
		if err != nil {
			return nil, err
		}
		if _, seen := owners[walletID]; !seen {
			walletIDs = append(walletIDs, walletID)
		}
		owners[walletID] = append(owners[walletID], userID)
	}

	slices.SortFunc(walletIDs, id.ID.Compare)

	locked := make(map[id.UserID]*wallet.Wallet, len(userIDs))
	for _, walletID := range walletIDs {
		w, err := tx.LockWallet(ctx, walletID)
		if err != nil {
			return nil, err
		}
		if w.Balance.Currency != e.currency {
			return nil, newError(ErrCurrencyMismatch, "Mata uang wallet (%s) tidak didukung.", w.Balance.Currency)
		}
		for _, userID := range owners[walletID] {
			locked[userID] = w
		}
	}
	return locked, nil
}

// book applies a balance change to a locked wallet and appends the ledger
// row that records it. Credits and holds are the only calls; a zero amount
// books nothing and returns nil.
func (e *Engine) book(ctx context.Context, tx store.Tx, w *wallet.Wallet, t *wallet.Transaction) (*wallet.Transaction, error) {
	if t.Amount.IsZero() {
		return nil, nil
	}

	var err error
	if t.Type.Credits() {
		err = w.Credit(t.Amount)
	} else {
		err = w.Debit(t.Amount)
	}
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientBalance) {
			return nil, &InsufficientFundsError{
				Balance:   w.Balance,
				Required:  t.Amount,
				Shortfall: t.Amount.Subtract(w.Balance),
				Message:   insufficientMessage(w.Balance, t.Amount),
			}
		}
		if errors.Is(err, wallet.ErrBalanceOverflow) {
			return nil, newError(ErrInvalidAmount, "Saldo wallet tidak dapat menampung %s.", t.Amount.Display())
		}
		return nil, err
	}

	now := e.now()
	w.Touch(now)
	if err := tx.UpdateBalance(ctx, w.ID, w.Balance); err != nil {
		return nil, err
	}

	t.ID = id.NewTransactionID()
	t.Entity = types.EntityAt(now)
	t.WalletID = w.ID
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := tx.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
