package escrow

import (
	"context"
	"errors"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/wallet"
)

// Settlement is the result of ReleaseFunds.
type Settlement = wallet.Settlement

// ──────────────────────────────────────────────────
// Escrow hold
// ──────────────────────────────────────────────────

// LockFundsForCase debits amount from the case client's wallet, books a
// pending escrow_hold referencing the case and activates the case.
//
// A case carries at most one pending hold; a second lock is rejected with
// ErrEscrowAlreadyHeld once the balance check has passed.
func (e *Engine) LockFundsForCase(ctx context.Context, caseID id.CaseID, amount types.Money) (*wallet.Transaction, error) {
	const op = "lock_funds"

	if err := e.checkAmount(amount, "Jumlah escrow harus lebih dari 0."); err != nil {
		return nil, e.fail(ctx, op, err)
	}

	c, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, e.fail(ctx, op, err)
	}
	noClient := newError(ErrNoClient, "Kasus ini belum memiliki client yang terdaftar.")
	if c.ClientID.IsNil() {
		return nil, e.fail(ctx, op, noClient)
	}
	client, err := e.store.GetUser(ctx, c.ClientID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, e.fail(ctx, op, noClient)
	}
	if err != nil {
		return nil, e.fail(ctx, op, err)
	}

	var hold *wallet.Transaction
	err = e.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		wallets, err := e.lockWallets(ctx, tx, false, client.ID)
		if errors.Is(err, ErrWalletNotFound) {
			return newError(ErrNoWallet, "User %s belum memiliki wallet. Silakan top-up terlebih dahulu.", client.Name)
		}
		if err != nil {
			return err
		}

		w := wallets[client.ID]
		if !w.Covers(amount) {
			return &InsufficientFundsError{
				Balance:   w.Balance,
				Required:  amount,
				Shortfall: amount.Subtract(w.Balance),
				Message:   insufficientMessage(w.Balance, amount),
			}
		}

		if _, err := tx.LockPendingHold(ctx, c.ID); err == nil {
			return newError(ErrEscrowAlreadyHeld, "Kasus #%s sudah memiliki dana escrow yang ditahan.", c.Number)
		} else if !errors.Is(err, ErrEscrowNotFound) {
			return err
		}

		hold, err = e.book(ctx, tx, w, &wallet.Transaction{
			Amount:      amount,
			Type:        wallet.TypeEscrowHold,
			Reference:   wallet.CaseRef(c.ID),
			Status:      wallet.StatusPending,
			Description: holdDescription(c.Number, amount),
		})
		if err != nil {
			return err
		}

		locked, err := tx.LockCase(ctx, c.ID)
		if err != nil {
			return err
		}
		locked.Status = legalcase.StatusActive
		locked.Touch(e.now())
		if err := tx.UpdateCase(ctx, locked); err != nil {
			return err
		}
		c = locked
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, op, err)
	}

	e.plugins.EmitEscrowLocked(ctx, c, hold)
	e.logger.Info("escrow funds locked",
		"case_id", c.ID.String(),
		"case_number", c.Number,
		"transaction_id", hold.ID.String(),
		"amount", amount.FormatMajor(),
	)
	return hold, nil
}

// ──────────────────────────────────────────────────
// Release
// ──────────────────────────────────────────────────

// ReleaseFunds splits the pending hold of a completed case between the
// assigned expert and the platform account. The fee is the platform percent
// of the hold rounded half up to the sen; the expert receives the rest.
//
// The pending hold is locked and settled in the same unit, so of two
// releases of one case exactly one succeeds and the other fails with
// ErrEscrowNotFound.
func (e *Engine) ReleaseFunds(ctx context.Context, caseID id.CaseID) (*Settlement, error) {
	const op = "release_funds"

	c, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, e.fail(ctx, op, err)
	}
	if c.Status != legalcase.StatusCompleted {
		return nil, e.fail(ctx, op, newError(ErrInvalidCaseStatus,
			"Dana hanya bisa dicairkan untuk kasus berstatus 'completed'. Status saat ini: %s", c.Status))
	}
	if !c.HasExpert() {
		return nil, e.fail(ctx, op, newError(ErrNoExpertAssigned,
			"Kasus ini belum memiliki mitra (expert) yang ditugaskan."))
	}

	var settlement Settlement
	err = e.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		platform, err := tx.FindPlatformUser(ctx)
		if errors.Is(err, ErrUserNotFound) {
			return newError(ErrNoPlatformAccount, "Akun platform (admin) belum tersedia.")
		}
		if err != nil {
			return err
		}

		wallets, err := e.lockWallets(ctx, tx, true, c.ExpertID, platform.ID)
		if err != nil {
			return err
		}

		hold, err := tx.LockPendingHold(ctx, c.ID)
		if errors.Is(err, ErrEscrowNotFound) {
			return newError(ErrEscrowNotFound, "Dana escrow untuk kasus #%s tidak ditemukan atau sudah dicairkan.", c.Number)
		}
		if err != nil {
			return err
		}

		locked, err := tx.LockCase(ctx, c.ID)
		if err != nil {
			return err
		}
		if locked.Status != legalcase.StatusCompleted || !locked.ExpertID.Equal(c.ExpertID) {
			return ErrCaseChanged
		}

		fee := hold.Amount.Percent(e.feePercent)
		payout := hold.Amount.Subtract(fee)

		settlement.Payout, err = e.book(ctx, tx, wallets[c.ExpertID], &wallet.Transaction{
			Amount:      payout,
			Type:        wallet.TypePaymentRelease,
			Reference:   wallet.CaseRef(c.ID),
			Status:      wallet.StatusSuccess,
			Description: payoutDescription(c.Number, 100-e.feePercent, payout),
		})
		if err != nil {
			return err
		}

		settlement.Fee, err = e.book(ctx, tx, wallets[platform.ID], &wallet.Transaction{
			Amount:      fee,
			Type:        wallet.TypeAdminFee,
			Reference:   wallet.CaseRef(c.ID),
			Status:      wallet.StatusSuccess,
			Description: feeDescription(c.Number, e.feePercent, fee),
		})
		if err != nil {
			return err
		}

		if err := hold.Settle(wallet.StatusSuccess); err != nil {
			return err
		}
		hold.Touch(e.now())
		if err := tx.UpdateTransactionStatus(ctx, hold.ID, hold.Status); err != nil {
			return err
		}
		settlement.Hold = hold
		c = locked
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, op, err)
	}

	e.plugins.EmitEscrowReleased(ctx, c, &settlement)
	e.logger.Info("escrow funds released",
		"case_id", c.ID.String(),
		"case_number", c.Number,
		"total", settlement.Hold.Amount.FormatMajor(),
		"expert_id", c.ExpertID.String(),
	)
	return &settlement, nil
}
