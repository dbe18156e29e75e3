package sqlite

import (
	"database/sql"
	"time"

	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// Timestamps are stored as UTC unix nanoseconds so they round-trip exactly
// and compare as integers.

const (
	userColumns         = `id, name, email, role, created_at, updated_at`
	walletColumns       = `id, user_id, balance, currency, created_at, updated_at`
	transactionColumns  = `id, wallet_id, amount, currency, type, reference_kind, reference_id, status, description, created_at, updated_at`
	caseColumns         = `id, case_number, title, client_id, expert_id, status, created_at, updated_at`
	subscriptionColumns = `id, user_id, plan_name, price, currency, status, starts_at, ends_at, cancelled_at, created_at, updated_at`
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func entity(created, updated int64) types.Entity {
	return types.Entity{CreatedAt: fromNanos(created), UpdatedAt: fromNanos(updated)}
}

func scanUser(sc scanner) (*user.User, error) {
	var (
		u                user.User
		role             string
		created, updated int64
	)
	if err := sc.Scan(&u.ID, &u.Name, &u.Email, &role, &created, &updated); err != nil {
		return nil, err
	}
	u.Role = user.Role(role)
	u.Entity = entity(created, updated)
	return &u, nil
}

func scanWallet(sc scanner) (*wallet.Wallet, error) {
	var (
		w                wallet.Wallet
		created, updated int64
	)
	if err := sc.Scan(&w.ID, &w.UserID, &w.Balance.Amount, &w.Balance.Currency, &created, &updated); err != nil {
		return nil, err
	}
	w.Entity = entity(created, updated)
	return &w, nil
}

func scanTransaction(sc scanner) (*wallet.Transaction, error) {
	var (
		t                     wallet.Transaction
		typ, kind, ref, state string
		created, updated      int64
	)
	err := sc.Scan(&t.ID, &t.WalletID, &t.Amount.Amount, &t.Amount.Currency, &typ,
		&kind, &ref, &state, &t.Description, &created, &updated)
	if err != nil {
		return nil, err
	}
	t.Reference, err = wallet.ParseReference(kind, ref)
	if err != nil {
		return nil, err
	}
	t.Type = wallet.Type(typ)
	t.Status = wallet.Status(state)
	t.Entity = entity(created, updated)
	return &t, nil
}

func transactionArgs(t *wallet.Transaction) []any {
	return []any{
		t.ID, t.WalletID, t.Amount.Amount, t.Amount.Currency, string(t.Type),
		string(t.Reference.Kind), t.Reference.ID.String(), string(t.Status),
		t.Description, nanos(t.CreatedAt), nanos(t.UpdatedAt),
	}
}

func scanCase(sc scanner) (*legalcase.Case, error) {
	var (
		c                legalcase.Case
		status           string
		created, updated int64
	)
	// id.ID scans NULL as the nil ID.
	if err := sc.Scan(&c.ID, &c.Number, &c.Title, &c.ClientID, &c.ExpertID, &status, &created, &updated); err != nil {
		return nil, err
	}
	c.Status = legalcase.Status(status)
	c.Entity = entity(created, updated)
	return &c, nil
}

func caseArgs(c *legalcase.Case) []any {
	return []any{
		c.ID, c.Number, c.Title, c.ClientID, c.ExpertID, string(c.Status),
		nanos(c.CreatedAt), nanos(c.UpdatedAt),
	}
}

func scanSubscription(sc scanner) (*subscription.Subscription, error) {
	var (
		s                subscription.Subscription
		status           string
		starts, ends     int64
		cancelled        sql.NullInt64
		created, updated int64
	)
	err := sc.Scan(&s.ID, &s.UserID, &s.PlanName, &s.Price.Amount, &s.Price.Currency, &status,
		&starts, &ends, &cancelled, &created, &updated)
	if err != nil {
		return nil, err
	}
	s.Status = subscription.Status(status)
	s.StartsAt = fromNanos(starts)
	s.EndsAt = fromNanos(ends)
	if cancelled.Valid {
		at := fromNanos(cancelled.Int64)
		s.CancelledAt = &at
	}
	s.Entity = entity(created, updated)
	return &s, nil
}

func subscriptionArgs(s *subscription.Subscription) []any {
	var cancelled sql.NullInt64
	if s.CancelledAt != nil {
		cancelled = sql.NullInt64{Int64: nanos(*s.CancelledAt), Valid: true}
	}
	return []any{
		s.ID, s.UserID, s.PlanName, s.Price.Amount, s.Price.Currency, string(s.Status),
		nanos(s.StartsAt), nanos(s.EndsAt), cancelled, nanos(s.CreatedAt), nanos(s.UpdatedAt),
	}
}
