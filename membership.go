package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// ──────────────────────────────────────────────────
// Pro subscription
// ──────────────────────────────────────────────────

// SubscribePro charges the Pro price and opens a new period starting now.
// It fails with an *AlreadySubscribedError while an active period remains,
// without touching the wallet.
func (e *Engine) SubscribePro(ctx context.Context, userID id.UserID) (*subscription.Subscription, error) {
	const op = "subscribe_pro"

	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return nil, e.fail(ctx, op, err)
	}

	plan := e.proPlan
	var sub *subscription.Subscription
	err := e.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		wallets, err := e.lockWallets(ctx, tx, false, userID)
		if errors.Is(err, ErrWalletNotFound) {
			return newError(ErrNoWallet, "Anda belum memiliki wallet. Silakan top-up terlebih dahulu.")
		}
		if err != nil {
			return err
		}

		now := e.now()
		active, err := tx.LatestActiveSubscription(ctx, userID, plan.Name, now)
		switch {
		case err == nil:
			ends := active.EndsAt.In(e.location)
			return &AlreadySubscribedError{
				EndsAt:  ends,
				Message: fmt.Sprintf("Anda sudah memiliki langganan Pro yang masih aktif hingga %s.", ends.Format(dateLayout)),
			}
		case !errors.Is(err, ErrSubscriptionNotFound):
			return err
		}

		w := wallets[userID]
		if !w.Covers(plan.Price) {
			shortfall := plan.Price.Subtract(w.Balance)
			return &InsufficientFundsError{
				Balance:   w.Balance,
				Required:  plan.Price,
				Shortfall: shortfall,
				Message: fmt.Sprintf("Saldo tidak mencukupi untuk berlangganan Pro. Saldo saat ini: %s, dibutuhkan: %s. Silakan top-up minimal %s.",
					w.Balance.Display(), plan.Price.Display(), shortfall.Display()),
			}
		}

		sub = e.newSubscription(userID, now)
		if err := tx.InsertSubscription(ctx, sub); err != nil {
			return err
		}

		_, err = e.book(ctx, tx, w, &wallet.Transaction{
			Amount:      plan.Price,
			Type:        wallet.TypeSubscriptionPayment,
			Reference:   wallet.SubscriptionRef(sub.ID),
			Status:      wallet.StatusSuccess,
			Description: subscribeDescription(plan.Days(), plan.Price),
		})
		return err
	})
	if err != nil {
		return nil, e.fail(ctx, op, err)
	}

	e.plugins.EmitSubscriptionCreated(ctx, sub)
	e.logger.Info("pro subscription created",
		"user_id", userID.String(),
		"subscription_id", sub.ID.String(),
		"ends_at", sub.EndsAt,
	)
	return sub, nil
}

// RenewPro charges the Pro price for another period. The period continues
// from the end of the latest active one, or starts now when none is active.
func (e *Engine) RenewPro(ctx context.Context, userID id.UserID) (*subscription.Subscription, error) {
	const op = "renew_pro"

	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return nil, e.fail(ctx, op, err)
	}

	plan := e.proPlan
	var sub *subscription.Subscription
	err := e.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		wallets, err := e.lockWallets(ctx, tx, false, userID)
		if errors.Is(err, ErrWalletNotFound) {
			return newError(ErrNoWallet, "Anda belum memiliki wallet.")
		}
		if err != nil {
			return err
		}

		w := wallets[userID]
		if !w.Covers(plan.Price) {
			return &InsufficientFundsError{
				Balance:   w.Balance,
				Required:  plan.Price,
				Shortfall: plan.Price.Subtract(w.Balance),
				Message: fmt.Sprintf("Saldo tidak mencukupi. Saldo: %s, dibutuhkan: %s.",
					w.Balance.Display(), plan.Price.Display()),
			}
		}

		now := e.now()
		start := now
		active, err := tx.LatestActiveSubscription(ctx, userID, plan.Name, now)
		switch {
		case err == nil:
			start = active.EndsAt
		case !errors.Is(err, ErrSubscriptionNotFound):
			return err
		}

		sub = e.newSubscription(userID, start)
		sub.Entity = types.EntityAt(now)
		if err := tx.InsertSubscription(ctx, sub); err != nil {
			return err
		}

		_, err = e.book(ctx, tx, w, &wallet.Transaction{
			Amount:      plan.Price,
			Type:        wallet.TypeSubscriptionPayment,
			Reference:   wallet.SubscriptionRef(sub.ID),
			Status:      wallet.StatusSuccess,
			Description: renewDescription(plan.Days(), sub.EndsAt.In(e.location)),
		})
		return err
	})
	if err != nil {
		return nil, e.fail(ctx, op, err)
	}

	e.plugins.EmitSubscriptionRenewed(ctx, sub)
	e.logger.Info("pro subscription renewed",
		"user_id", userID.String(),
		"subscription_id", sub.ID.String(),
		"starts_at", sub.StartsAt,
		"ends_at", sub.EndsAt,
	)
	return sub, nil
}

func (e *Engine) newSubscription(userID id.UserID, start time.Time) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:   types.EntityAt(start),
		ID:       id.NewSubscriptionID(),
		UserID:   userID,
		PlanName: e.proPlan.Name,
		Price:    e.proPlan.Price,
		Status:   subscription.StatusActive,
		StartsAt: start,
		EndsAt:   start.Add(e.proPlan.Duration),
	}
}

// SubscriptionStatus reports the user's current Pro period, if any.
func (e *Engine) SubscriptionStatus(ctx context.Context, userID id.UserID) (*subscription.Report, error) {
	now := e.now()
	active, err := e.store.GetActiveSubscription(ctx, userID, e.proPlan.Name, now)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return &subscription.Report{
			Plan:     subscription.PlanFree,
			Features: e.proPlan.Features,
			Price:    e.proPlan.PriceLabel(),
			Message:  "Anda belum berlangganan Pro.",
		}, nil
	}
	if err != nil {
		return nil, classify(err)
	}

	starts, ends := active.StartsAt, active.EndsAt
	days := active.DaysLeft(now)
	return &subscription.Report{
		IsPro:    true,
		Plan:     active.PlanName,
		StartsAt: &starts,
		EndsAt:   &ends,
		DaysLeft: days,
		Message:  fmt.Sprintf("Langganan Pro aktif. Sisa %d hari.", days),
	}, nil
}

// IsPro reports whether the user holds an active Pro period. This is the
// only entitlement source; the corporate role does not grant Pro.
func (e *Engine) IsPro(ctx context.Context, userID id.UserID) (bool, error) {
	_, err := e.store.GetActiveSubscription(ctx, userID, e.proPlan.Name, e.now())
	if errors.Is(err, ErrSubscriptionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, classify(err)
	}
	return true, nil
}

// ──────────────────────────────────────────────────
// Corporate membership
// ──────────────────────────────────────────────────

// MembershipFee is the flat price of the corporate role upgrade.
var MembershipFee = types.Rupiah(50000)

// UpgradeMembership charges the flat membership fee and switches the user
// to the corporate role.
func (e *Engine) UpgradeMembership(ctx context.Context, userID id.UserID) (*wallet.Transaction, error) {
	const op = "upgrade_membership"

	u, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, e.fail(ctx, op, err)
	}
	alreadyCorporate := newError(ErrAlreadyCorporate, "User sudah berstatus PRO/Corporate.")
	if u.Role == user.RoleCorporate {
		return nil, e.fail(ctx, op, alreadyCorporate)
	}

	var payment *wallet.Transaction
	err = e.store.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		wallets, err := e.lockWallets(ctx, tx, false, userID)
		if errors.Is(err, ErrWalletNotFound) {
			return newError(ErrNoWallet, "User belum memiliki wallet. Silakan top-up terlebih dahulu.")
		}
		if err != nil {
			return err
		}

		w := wallets[userID]
		if !w.Covers(MembershipFee) {
			return &InsufficientFundsError{
				Balance:   w.Balance,
				Required:  MembershipFee,
				Shortfall: MembershipFee.Subtract(w.Balance),
				Message:   "Saldo tidak cukup untuk upgrade PRO. Dibutuhkan: " + MembershipFee.Display(),
			}
		}

		locked, err := tx.LockUser(ctx, userID)
		if err != nil {
			return err
		}
		if locked.Role == user.RoleCorporate {
			return alreadyCorporate
		}

		payment, err = e.book(ctx, tx, w, &wallet.Transaction{
			Amount:      MembershipFee,
			Type:        wallet.TypeWithdrawal,
			Reference:   wallet.MembershipRef(userID),
			Status:      wallet.StatusSuccess,
			Description: membershipDescription,
		})
		if err != nil {
			return err
		}

		if err := tx.UpdateUserRole(ctx, userID, user.RoleCorporate); err != nil {
			return err
		}
		locked.Role = user.RoleCorporate
		u = locked
		return nil
	})
	if err != nil {
		return nil, e.fail(ctx, op, err)
	}

	e.plugins.EmitMembershipUpgraded(ctx, u, payment)
	e.logger.Info("membership upgraded",
		"user_id", userID.String(),
		"transaction_id", payment.ID.String(),
	)
	return payment, nil
}
