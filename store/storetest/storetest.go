// Package storetest is a conformance suite every store.Store backend runs.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// Factory returns a fresh, migrated, empty store. The suite closes it.
type Factory func(t *testing.T) store.Store

// base is a fixed instant with whole seconds, representable by every backend.
var base = time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)

// Run executes the whole suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"Users", testUsers},
		{"PlatformUser", testPlatformUser},
		{"Wallets", testWallets},
		{"Rollback", testRollback},
		{"Transactions", testTransactions},
		{"PendingHold", testPendingHold},
		{"Cases", testCases},
		{"Subscriptions", testSubscriptions},
		{"ExpireSubscriptions", testExpireSubscriptions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func atomic(t *testing.T, s store.Store, fn func(ctx context.Context, tx store.Tx) error) {
	t.Helper()
	if err := s.Atomic(context.Background(), fn); err != nil {
		t.Fatalf("Atomic: %v", err)
	}
}

func newUser(t *testing.T, s store.Store, name string, role user.Role, at time.Time) *user.User {
	t.Helper()
	u := &user.User{
		Entity: types.EntityAt(at),
		ID:     id.NewUserID(),
		Name:   name,
		Email:  name + "@example.com",
		Role:   role,
	}
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return u
}

func testUsers(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s, "budi", user.RoleClient, base)

	got, err := s.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Name != "budi" || got.Role != user.RoleClient || got.Email != "budi@example.com" {
		t.Errorf("GetUser: got %+v", got)
	}

	if err := s.CreateUser(ctx, u); !errors.Is(err, escrow.ErrAlreadyExists) {
		t.Errorf("duplicate CreateUser: got %v, want ErrAlreadyExists", err)
	}

	if _, err := s.GetUser(ctx, id.NewUserID()); !errors.Is(err, escrow.ErrUserNotFound) {
		t.Errorf("GetUser missing: got %v, want ErrUserNotFound", err)
	}

	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		locked, err := tx.LockUser(ctx, u.ID)
		if err != nil {
			return err
		}
		if !locked.ID.Equal(u.ID) {
			t.Errorf("LockUser: got %s", locked.ID)
		}
		return tx.UpdateUserRole(ctx, u.ID, user.RoleCorporate)
	})

	got, _ = s.GetUser(ctx, u.ID)
	if got.Role != user.RoleCorporate {
		t.Errorf("role after update: got %s, want corporate", got.Role)
	}
}

func testPlatformUser(t *testing.T, s store.Store) {
	err := s.Atomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.FindPlatformUser(ctx)
		return err
	})
	if !errors.Is(err, escrow.ErrUserNotFound) {
		t.Fatalf("FindPlatformUser on empty store: got %v", err)
	}

	newUser(t, s, "client", user.RoleClient, base)
	first := newUser(t, s, "admin1", user.RoleAdmin, base.Add(time.Minute))
	newUser(t, s, "admin2", user.RoleAdmin, base.Add(2*time.Minute))

	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.FindPlatformUser(ctx)
		if err != nil {
			return err
		}
		if !got.ID.Equal(first.ID) {
			t.Errorf("FindPlatformUser: got %s, want %s", got.Name, first.Name)
		}
		return nil
	})
}

func testWallets(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s, "siti", user.RoleClient, base)

	if _, err := s.GetWalletByUser(ctx, u.ID); !errors.Is(err, escrow.ErrWalletNotFound) {
		t.Fatalf("GetWalletByUser before create: got %v", err)
	}

	var first id.WalletID
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.FindWalletID(ctx, u.ID); !errors.Is(err, escrow.ErrWalletNotFound) {
			t.Errorf("FindWalletID before create: got %v", err)
		}
		var err error
		first, err = tx.EnsureWallet(ctx, u.ID, types.CurrencyIDR)
		if err != nil {
			return err
		}
		again, err := tx.EnsureWallet(ctx, u.ID, types.CurrencyIDR)
		if err != nil {
			return err
		}
		if !again.Equal(first) {
			t.Errorf("EnsureWallet not idempotent: %s != %s", again, first)
		}

		w, err := tx.LockWallet(ctx, first)
		if err != nil {
			return err
		}
		if !w.Balance.Equal(types.Zero(types.CurrencyIDR)) {
			t.Errorf("new wallet balance: got %v", w.Balance)
		}
		return tx.UpdateBalance(ctx, first, types.Rupiah(1000000))
	})

	w, err := s.GetWalletByUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetWalletByUser: %v", err)
	}
	if !w.ID.Equal(first) || !w.UserID.Equal(u.ID) {
		t.Errorf("wallet identity: got %s/%s", w.ID, w.UserID)
	}
	if w.Balance.FormatMajor() != "1000000.00" {
		t.Errorf("balance: got %s, want 1000000.00", w.Balance.FormatMajor())
	}

	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		found, err := tx.FindWalletID(ctx, u.ID)
		if err != nil {
			return err
		}
		if !found.Equal(first) {
			t.Errorf("FindWalletID: got %s, want %s", found, first)
		}
		return nil
	})
}

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s, "andi", user.RoleClient, base)
	boom := errors.New("boom")

	err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		wid, err := tx.EnsureWallet(ctx, u.ID, types.CurrencyIDR)
		if err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, wid, types.Rupiah(5000)); err != nil {
			return err
		}
		if err := tx.UpdateUserRole(ctx, u.ID, user.RoleAdmin); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Atomic: got %v, want the callback error", err)
	}

	if _, err := s.GetWalletByUser(ctx, u.ID); !errors.Is(err, escrow.ErrWalletNotFound) {
		t.Errorf("wallet survived rollback: %v", err)
	}
	got, _ := s.GetUser(ctx, u.ID)
	if got.Role != user.RoleClient {
		t.Errorf("role survived rollback: %s", got.Role)
	}
}

func seedWallet(t *testing.T, s store.Store, u *user.User) id.WalletID {
	t.Helper()
	var wid id.WalletID
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		var err error
		wid, err = tx.EnsureWallet(ctx, u.ID, types.CurrencyIDR)
		return err
	})
	return wid
}

func ledgerRow(wid id.WalletID, typ wallet.Type, amount types.Money, status wallet.Status, ref wallet.Reference, at time.Time) *wallet.Transaction {
	return &wallet.Transaction{
		Entity:      types.EntityAt(at),
		ID:          id.NewTransactionID(),
		WalletID:    wid,
		Amount:      amount,
		Type:        typ,
		Reference:   ref,
		Status:      status,
		Description: string(typ),
	}
}

func testTransactions(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s, "dewi", user.RoleClient, base)
	wid := seedWallet(t, s, u)
	caseID := id.NewCaseID()

	rows := []*wallet.Transaction{
		ledgerRow(wid, wallet.TypeDeposit, types.Rupiah(1000000), wallet.StatusSuccess, wallet.Reference{}, base),
		ledgerRow(wid, wallet.TypeEscrowHold, types.Rupiah(500000), wallet.StatusPending, wallet.CaseRef(caseID), base.Add(time.Second)),
		ledgerRow(wid, wallet.TypeDeposit, types.IDR(1), wallet.StatusSuccess, wallet.Reference{}, base.Add(2*time.Second)),
	}
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		for _, r := range rows {
			if err := tx.InsertTransaction(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})

	all, err := s.ListTransactions(ctx, wid, wallet.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("ListTransactions: got %d rows, want 3", len(all))
	}
	for i, want := range []*wallet.Transaction{rows[2], rows[1], rows[0]} {
		if !all[i].ID.Equal(want.ID) {
			t.Errorf("row %d: got %s, want %s (newest first)", i, all[i].ID, want.ID)
		}
	}

	hold := all[1]
	if hold.Reference.Kind != wallet.RefCase || !hold.Reference.ID.Equal(caseID) {
		t.Errorf("reference: got %+v", hold.Reference)
	}
	if !hold.Amount.Equal(types.Rupiah(500000)) || hold.Status != wallet.StatusPending {
		t.Errorf("hold: got %v %s", hold.Amount, hold.Status)
	}
	if !all[0].Amount.Equal(types.IDR(1)) {
		t.Errorf("one sen row: got %v", all[0].Amount)
	}

	deposits, err := s.ListTransactions(ctx, wid, wallet.ListOpts{Type: wallet.TypeDeposit})
	if err != nil {
		t.Fatalf("ListTransactions by type: %v", err)
	}
	if len(deposits) != 2 {
		t.Errorf("deposits: got %d, want 2", len(deposits))
	}

	paged, err := s.ListTransactions(ctx, wid, wallet.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListTransactions paged: %v", err)
	}
	if len(paged) != 1 || !paged[0].ID.Equal(rows[1].ID) {
		t.Errorf("paged: got %d rows", len(paged))
	}

	other, err := s.ListTransactions(ctx, id.NewWalletID(), wallet.ListOpts{})
	if err != nil {
		t.Fatalf("ListTransactions other wallet: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("other wallet: got %d rows", len(other))
	}
}

func testPendingHold(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s, "rina", user.RoleClient, base)
	wid := seedWallet(t, s, u)
	caseID := id.NewCaseID()

	noHold := func() error {
		return s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
			_, err := tx.LockPendingHold(ctx, caseID)
			return err
		})
	}
	if err := noHold(); !errors.Is(err, escrow.ErrEscrowNotFound) {
		t.Fatalf("LockPendingHold before insert: got %v", err)
	}

	hold := ledgerRow(wid, wallet.TypeEscrowHold, types.Rupiah(250000), wallet.StatusPending, wallet.CaseRef(caseID), base)
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertTransaction(ctx, hold)
	})

	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		got, err := tx.LockPendingHold(ctx, caseID)
		if err != nil {
			return err
		}
		if !got.ID.Equal(hold.ID) {
			t.Errorf("LockPendingHold: got %s, want %s", got.ID, hold.ID)
		}
		return tx.UpdateTransactionStatus(ctx, got.ID, wallet.StatusSuccess)
	})

	if err := noHold(); !errors.Is(err, escrow.ErrEscrowNotFound) {
		t.Errorf("LockPendingHold after settle: got %v", err)
	}

	rows, _ := s.ListTransactions(ctx, wid, wallet.ListOpts{})
	if len(rows) != 1 || rows[0].Status != wallet.StatusSuccess {
		t.Errorf("settled hold: got %+v", rows)
	}
}

func testCases(t *testing.T, s store.Store) {
	ctx := context.Background()
	client := newUser(t, s, "client", user.RoleClient, base)
	expert := newUser(t, s, "lawyer", user.RoleLawyer, base)

	prefix := legalcase.NumberPrefix(base)
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		last, err := tx.LatestCaseNumber(ctx, prefix)
		if err != nil {
			return err
		}
		if last != "" {
			t.Errorf("LatestCaseNumber on empty store: got %q", last)
		}
		return nil
	})

	c := &legalcase.Case{
		Entity:   types.EntityAt(base),
		ID:       id.NewCaseID(),
		Number:   prefix + "00009",
		Title:    "Sengketa tanah",
		ClientID: client.ID,
		Status:   legalcase.StatusSubmitted,
	}
	c2 := &legalcase.Case{
		Entity:   types.EntityAt(base),
		ID:       id.NewCaseID(),
		Number:   prefix + "00010",
		ClientID: client.ID,
		Status:   legalcase.StatusSubmitted,
	}
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertCase(ctx, c); err != nil {
			return err
		}
		return tx.InsertCase(ctx, c2)
	})

	dup := *c2
	dup.ID = id.NewCaseID()
	err := s.Atomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertCase(ctx, &dup)
	})
	if !errors.Is(err, escrow.ErrAlreadyExists) {
		t.Errorf("duplicate case number: got %v, want ErrAlreadyExists", err)
	}

	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		last, err := tx.LatestCaseNumber(ctx, prefix)
		if err != nil {
			return err
		}
		if last != prefix+"00010" {
			t.Errorf("LatestCaseNumber: got %q", last)
		}

		locked, err := tx.LockCase(ctx, c.ID)
		if err != nil {
			return err
		}
		if locked.HasExpert() {
			t.Error("new case should have no expert")
		}
		locked.ExpertID = expert.ID
		locked.Status = legalcase.StatusCompleted
		return tx.UpdateCase(ctx, locked)
	})

	got, err := s.GetCase(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if got.Status != legalcase.StatusCompleted || !got.ExpertID.Equal(expert.ID) {
		t.Errorf("GetCase: got status %s expert %s", got.Status, got.ExpertID)
	}
	if got.Title != "Sengketa tanah" || !got.ClientID.Equal(client.ID) {
		t.Errorf("GetCase fields: got %+v", got)
	}

	if _, err := s.GetCase(ctx, id.NewCaseID()); !errors.Is(err, escrow.ErrCaseNotFound) {
		t.Errorf("GetCase missing: got %v", err)
	}
}

func newSub(userID id.UserID, start time.Time, status subscription.Status) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:   types.EntityAt(start),
		ID:       id.NewSubscriptionID(),
		UserID:   userID,
		PlanName: subscription.PlanPro,
		Price:    types.Rupiah(50000),
		Status:   status,
		StartsAt: start,
		EndsAt:   start.Add(30 * 24 * time.Hour),
	}
}

func testSubscriptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s, "eko", user.RoleClient, base)
	now := base

	if _, err := s.GetActiveSubscription(ctx, u.ID, subscription.PlanPro, now); !errors.Is(err, escrow.ErrSubscriptionNotFound) {
		t.Fatalf("GetActiveSubscription on empty store: got %v", err)
	}

	lapsed := newSub(u.ID, now.Add(-40*24*time.Hour), subscription.StatusActive)
	current := newSub(u.ID, now.Add(-10*24*time.Hour), subscription.StatusActive)
	next := newSub(u.ID, current.EndsAt, subscription.StatusActive)
	cancelled := newSub(u.ID, now.Add(-time.Hour), subscription.StatusCancelled)
	cancelled.EndsAt = now.Add(90 * 24 * time.Hour)

	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		for _, sub := range []*subscription.Subscription{lapsed, current, next, cancelled} {
			if err := tx.InsertSubscription(ctx, sub); err != nil {
				return err
			}
		}
		latest, err := tx.LatestActiveSubscription(ctx, u.ID, subscription.PlanPro, now)
		if err != nil {
			return err
		}
		if !latest.ID.Equal(next.ID) {
			t.Errorf("LatestActiveSubscription: got %s, want the renewal", latest.ID)
		}
		return nil
	})

	got, err := s.GetActiveSubscription(ctx, u.ID, subscription.PlanPro, now)
	if err != nil {
		t.Fatalf("GetActiveSubscription: %v", err)
	}
	if !got.EndsAt.Equal(next.EndsAt) {
		t.Errorf("EndsAt: got %v, want %v", got.EndsAt, next.EndsAt)
	}
	if !got.Price.Equal(types.Rupiah(50000)) {
		t.Errorf("Price: got %v", got.Price)
	}

	if _, err := s.GetActiveSubscription(ctx, u.ID, subscription.PlanPro, next.EndsAt); !errors.Is(err, escrow.ErrSubscriptionNotFound) {
		t.Errorf("GetActiveSubscription after all ended: got %v", err)
	}

	subs, err := s.ListSubscriptions(ctx, u.ID, subscription.ListOpts{})
	if err != nil {
		t.Fatalf("ListSubscriptions: %v", err)
	}
	if len(subs) != 4 {
		t.Errorf("ListSubscriptions: got %d, want 4", len(subs))
	}
	onlyCancelled, _ := s.ListSubscriptions(ctx, u.ID, subscription.ListOpts{Status: subscription.StatusCancelled})
	if len(onlyCancelled) != 1 {
		t.Errorf("ListSubscriptions cancelled: got %d, want 1", len(onlyCancelled))
	}
}

func testExpireSubscriptions(t *testing.T, s store.Store) {
	ctx := context.Background()
	u := newUser(t, s, "fajar", user.RoleClient, base)
	now := base

	lapsed := newSub(u.ID, now.Add(-31*24*time.Hour), subscription.StatusActive)
	live := newSub(u.ID, now.Add(-24*time.Hour), subscription.StatusActive)
	atomic(t, s, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertSubscription(ctx, lapsed); err != nil {
			return err
		}
		return tx.InsertSubscription(ctx, live)
	})

	expired, err := s.ExpireSubscriptions(ctx, now)
	if err != nil {
		t.Fatalf("ExpireSubscriptions: %v", err)
	}
	if len(expired) != 1 || !expired[0].ID.Equal(lapsed.ID) {
		t.Fatalf("ExpireSubscriptions: got %d rows", len(expired))
	}
	if expired[0].Status != subscription.StatusExpired {
		t.Errorf("returned status: got %s", expired[0].Status)
	}

	again, err := s.ExpireSubscriptions(ctx, now)
	if err != nil {
		t.Fatalf("ExpireSubscriptions again: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("second sweep: got %d rows, want 0", len(again))
	}

	rows, _ := s.ListSubscriptions(ctx, u.ID, subscription.ListOpts{Status: subscription.StatusExpired})
	if len(rows) != 1 {
		t.Errorf("expired rows: got %d, want 1", len(rows))
	}
}
