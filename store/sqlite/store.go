// Package sqlite implements store.Store on an embedded SQLite database
// (modernc.org/sqlite, no cgo). Units of work begin IMMEDIATE, so writers
// are serialized by the database lock and every read inside a unit sees a
// stable snapshot.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// compile-time interface check
var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*tx)(nil)
)

// querier is what both *sql.DB and *sql.Tx offer.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New wraps an open database. The DSN should enable foreign keys and
// immediate transactions; Open does both.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) the database file at path.
func Open(path string) (*Store, error) {
	dsn := "file:" + path +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("escrow/sqlite: open %s: %w", path, err)
	}
	if path == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}
	return New(db), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the escrow tables and indexes.
func (s *Store) Migrate(_ context.Context) error {
	return runMigrations(s.db)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Atomic runs fn in one IMMEDIATE transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(ctx, &tx{q: sqlTx}); err != nil {
		return err
	}
	return mapError(sqlTx.Commit())
}

// ==================== User Store ====================

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO escrow_users (`+userColumns+`)
VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Name, u.Email, string(u.Role), nanos(u.CreatedAt), nanos(u.UpdatedAt))
	return mapError(err)
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*user.User, error) {
	return queryOne(ctx, s.db, scanUser, escrow.ErrUserNotFound,
		`SELECT `+userColumns+` FROM escrow_users WHERE id = ?`, userID)
}

// ==================== Wallet Store ====================

func (s *Store) GetWalletByUser(ctx context.Context, userID id.UserID) (*wallet.Wallet, error) {
	return queryOne(ctx, s.db, scanWallet, escrow.ErrWalletNotFound,
		`SELECT `+walletColumns+` FROM escrow_wallets WHERE user_id = ?`, userID)
}

func (s *Store) ListTransactions(ctx context.Context, walletID id.WalletID, opts wallet.ListOpts) ([]*wallet.Transaction, error) {
	var b strings.Builder
	args := []any{walletID}
	b.WriteString(`SELECT ` + transactionColumns + ` FROM escrow_wallet_transactions WHERE wallet_id = ?`)
	if opts.Type != "" {
		b.WriteString(` AND type = ?`)
		args = append(args, string(opts.Type))
	}
	b.WriteString(` ORDER BY seq DESC`)
	args = writePage(&b, args, opts.Offset, opts.Limit)

	return queryAll(ctx, s.db, scanTransaction, b.String(), args...)
}

// ==================== Case Store ====================

func (s *Store) GetCase(ctx context.Context, caseID id.CaseID) (*legalcase.Case, error) {
	return queryOne(ctx, s.db, scanCase, escrow.ErrCaseNotFound,
		`SELECT `+caseColumns+` FROM escrow_cases WHERE id = ?`, caseID)
}

// ==================== Subscription Store ====================

func (s *Store) GetActiveSubscription(ctx context.Context, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error) {
	return latestActive(ctx, s.db, userID, plan, now)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID id.UserID, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var b strings.Builder
	args := []any{userID}
	b.WriteString(`SELECT ` + subscriptionColumns + ` FROM escrow_subscriptions WHERE user_id = ?`)
	if opts.Status != "" {
		b.WriteString(` AND status = ?`)
		args = append(args, string(opts.Status))
	}
	b.WriteString(` ORDER BY seq DESC`)
	args = writePage(&b, args, opts.Offset, opts.Limit)

	return queryAll(ctx, s.db, scanSubscription, b.String(), args...)
}

func (s *Store) ExpireSubscriptions(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	return queryAll(ctx, s.db, scanSubscription, `
UPDATE escrow_subscriptions SET status = ?, updated_at = ?
WHERE status = ? AND ends_at <= ?
RETURNING `+subscriptionColumns,
		string(subscription.StatusExpired), nanos(now), string(subscription.StatusActive), nanos(now))
}

// ==================== Unit of work ====================

// tx runs inside an IMMEDIATE transaction, which already holds the database
// write lock, so Lock* methods are plain reads.
type tx struct {
	q querier
}

func (t *tx) LockUser(ctx context.Context, userID id.UserID) (*user.User, error) {
	return queryOne(ctx, t.q, scanUser, escrow.ErrUserNotFound,
		`SELECT `+userColumns+` FROM escrow_users WHERE id = ?`, userID)
}

func (t *tx) UpdateUserRole(ctx context.Context, userID id.UserID, role user.Role) error {
	return execOne(ctx, t.q, escrow.ErrUserNotFound,
		`UPDATE escrow_users SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), nanos(time.Now()), userID)
}

func (t *tx) FindPlatformUser(ctx context.Context) (*user.User, error) {
	return queryOne(ctx, t.q, scanUser, escrow.ErrUserNotFound, `
SELECT `+userColumns+` FROM escrow_users
WHERE role = ?
ORDER BY created_at, id
LIMIT 1`, string(user.RoleAdmin))
}

func (t *tx) EnsureWallet(ctx context.Context, userID id.UserID, currency string) (id.WalletID, error) {
	w := wallet.New(userID, currency)
	_, err := t.q.ExecContext(ctx, `
INSERT INTO escrow_wallets (`+walletColumns+`)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (user_id) DO NOTHING`,
		w.ID, userID, w.Balance.Amount, w.Balance.Currency, nanos(w.CreatedAt), nanos(w.UpdatedAt))
	if err != nil {
		if hasCode(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY) {
			return id.Nil, escrow.ErrUserNotFound
		}
		return id.Nil, mapError(err)
	}
	return t.FindWalletID(ctx, userID)
}

func (t *tx) FindWalletID(ctx context.Context, userID id.UserID) (id.WalletID, error) {
	var walletID id.WalletID
	err := t.q.QueryRowContext(ctx, `SELECT id FROM escrow_wallets WHERE user_id = ?`, userID).Scan(&walletID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return id.Nil, escrow.ErrWalletNotFound
		}
		return id.Nil, mapError(err)
	}
	return walletID, nil
}

func (t *tx) LockWallet(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	return queryOne(ctx, t.q, scanWallet, escrow.ErrWalletNotFound,
		`SELECT `+walletColumns+` FROM escrow_wallets WHERE id = ?`, walletID)
}

func (t *tx) UpdateBalance(ctx context.Context, walletID id.WalletID, balance types.Money) error {
	return execOne(ctx, t.q, escrow.ErrWalletNotFound,
		`UPDATE escrow_wallets SET balance = ?, updated_at = ? WHERE id = ?`,
		balance.Amount, nanos(time.Now()), walletID)
}

func (t *tx) InsertTransaction(ctx context.Context, wt *wallet.Transaction) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO escrow_wallet_transactions (`+transactionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, transactionArgs(wt)...)
	if hasCode(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY) {
		return escrow.ErrWalletNotFound
	}
	return mapError(err)
}

func (t *tx) LockPendingHold(ctx context.Context, caseID id.CaseID) (*wallet.Transaction, error) {
	return queryOne(ctx, t.q, scanTransaction, escrow.ErrEscrowNotFound, `
SELECT `+transactionColumns+` FROM escrow_wallet_transactions
WHERE type = ? AND status = ? AND reference_kind = ? AND reference_id = ?
ORDER BY seq
LIMIT 1`,
		string(wallet.TypeEscrowHold), string(wallet.StatusPending), string(wallet.RefCase), caseID.String())
}

func (t *tx) UpdateTransactionStatus(ctx context.Context, txID id.TransactionID, status wallet.Status) error {
	return execOne(ctx, t.q, escrow.ErrTransactionNotFound,
		`UPDATE escrow_wallet_transactions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), nanos(time.Now()), txID)
}

func (t *tx) InsertCase(ctx context.Context, c *legalcase.Case) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO escrow_cases (`+caseColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, caseArgs(c)...)
	return mapError(err)
}

func (t *tx) LockCase(ctx context.Context, caseID id.CaseID) (*legalcase.Case, error) {
	return queryOne(ctx, t.q, scanCase, escrow.ErrCaseNotFound,
		`SELECT `+caseColumns+` FROM escrow_cases WHERE id = ?`, caseID)
}

func (t *tx) UpdateCase(ctx context.Context, c *legalcase.Case) error {
	return execOne(ctx, t.q, escrow.ErrCaseNotFound, `
UPDATE escrow_cases
SET title = ?, client_id = ?, expert_id = ?, status = ?, updated_at = ?
WHERE id = ?`,
		c.Title, c.ClientID, c.ExpertID, string(c.Status), nanos(c.UpdatedAt), c.ID)
}

func (t *tx) LatestCaseNumber(ctx context.Context, prefix string) (string, error) {
	var number string
	err := t.q.QueryRowContext(ctx, `
SELECT case_number FROM escrow_cases
WHERE substr(case_number, 1, length(?1)) = ?1
ORDER BY length(case_number) DESC, case_number DESC
LIMIT 1`, prefix).Scan(&number)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", mapError(err)
	}
	return number, nil
}

func (t *tx) LatestActiveSubscription(ctx context.Context, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error) {
	return latestActive(ctx, t.q, userID, plan, now)
}

func (t *tx) InsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO escrow_subscriptions (`+subscriptionColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, subscriptionArgs(sub)...)
	if hasCode(err, sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY) {
		return escrow.ErrUserNotFound
	}
	return mapError(err)
}

// ==================== Helpers ====================

func latestActive(ctx context.Context, q querier, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error) {
	return queryOne(ctx, q, scanSubscription, escrow.ErrSubscriptionNotFound, `
SELECT `+subscriptionColumns+` FROM escrow_subscriptions
WHERE user_id = ? AND plan_name = ? AND status = ? AND ends_at > ?
ORDER BY ends_at DESC
LIMIT 1`,
		userID, plan, string(subscription.StatusActive), nanos(now))
}

func queryOne[T any](ctx context.Context, q querier, scan func(scanner) (*T, error), notFound error, query string, args ...any) (*T, error) {
	v, err := scan(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFound
		}
		return nil, mapError(err)
	}
	return v, nil
}

func queryAll[T any](ctx context.Context, q querier, scan func(scanner) (*T, error), query string, args ...any) ([]*T, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	result := make([]*T, 0)
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, mapError(err)
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return result, nil
}

// execOne runs a single-row write and reports notFound when no row matched.
func execOne(ctx context.Context, q querier, notFound error, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// writePage appends LIMIT/OFFSET. SQLite needs a LIMIT before OFFSET; -1
// means no limit.
func writePage(b *strings.Builder, args []any, offset, limit int) []any {
	if limit <= 0 && offset <= 0 {
		return args
	}
	if limit <= 0 {
		limit = -1
	}
	b.WriteString(` LIMIT ? OFFSET ?`)
	return append(args, limit, offset)
}

func hasCode(err error, codes ...int) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	for _, code := range codes {
		if sqliteErr.Code() == code {
			return true
		}
	}
	return false
}

// mapError translates the result codes the engine reacts to.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case hasCode(err, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY):
		return fmt.Errorf("%w: %v", escrow.ErrAlreadyExists, err)
	case hasCode(err, sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED):
		return fmt.Errorf("%w: %v", escrow.ErrConflict, err)
	}
	return fmt.Errorf("escrow/sqlite: %w", err)
}
