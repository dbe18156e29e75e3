// Package postgres implements store.Store on PostgreSQL via the Grove ORM.
// Units of work run at READ COMMITTED and take row locks with
// SELECT ... FOR UPDATE.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

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
	_ querier     = (*pgdriver.PgDB)(nil)
	_ querier     = (*pgdriver.PgTx)(nil)
)

// querier is what both the database handle and an open transaction offer.
// Select wheres take $N placeholders; update clauses take ? and are
// numbered by the builder.
type querier interface {
	NewSelect(model ...any) *pgdriver.SelectQuery
	NewInsert(model any) *pgdriver.InsertQuery
	NewUpdate(model any) *pgdriver.UpdateQuery
	NewRaw(query string, args ...any) *pgdriver.RawQuery
}

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pgdb := pgdriver.New()
	if err := pgdb.Open(ctx, dsn); err != nil {
		return nil, fmt.Errorf("escrow/postgres: connect: %w", err)
	}
	db, err := grove.Open(pgdb)
	if err != nil {
		_ = pgdb.Close()
		return nil, fmt.Errorf("escrow/postgres: open: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("escrow/postgres: ping: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("escrow/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("escrow/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Atomic runs fn in one database transaction.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.pg.BeginTxQuery(ctx, &driver.TxOptions{IsolationLevel: driver.LevelReadCommitted})
	if err != nil {
		return mapError(err)
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

// ==================== User Store ====================

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	_, err := s.pg.NewInsert(toUserModel(u)).Exec(ctx)
	return mapError(err)
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*user.User, error) {
	m := new(userModel)
	q := s.pg.NewSelect(m).Where("id = $1", userID.String())
	return scanOne(ctx, q, m, fromUserModel, escrow.ErrUserNotFound)
}

// ==================== Wallet Store ====================

func (s *Store) GetWalletByUser(ctx context.Context, userID id.UserID) (*wallet.Wallet, error) {
	m := new(walletModel)
	q := s.pg.NewSelect(m).Where("user_id = $1", userID.String())
	return scanOne(ctx, q, m, fromWalletModel, escrow.ErrWalletNotFound)
}

func (s *Store) ListTransactions(ctx context.Context, walletID id.WalletID, opts wallet.ListOpts) ([]*wallet.Transaction, error) {
	var models []transactionModel
	q := s.pg.NewSelect(&models).Where("wallet_id = $1", walletID.String())
	if opts.Type != "" {
		q = q.Where("type = $2", string(opts.Type))
	}
	q = page(q.OrderExpr("seq DESC"), opts.Offset, opts.Limit)
	return scanAll(ctx, q, &models, fromTransactionModel)
}

// ==================== Case Store ====================

func (s *Store) GetCase(ctx context.Context, caseID id.CaseID) (*legalcase.Case, error) {
	m := new(caseModel)
	q := s.pg.NewSelect(m).Where("id = $1", caseID.String())
	return scanOne(ctx, q, m, fromCaseModel, escrow.ErrCaseNotFound)
}

// ==================== Subscription Store ====================

func (s *Store) GetActiveSubscription(ctx context.Context, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error) {
	return latestActive(ctx, s.pg, userID, plan, now, false)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID id.UserID, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).Where("user_id = $1", userID.String())
	if opts.Status != "" {
		q = q.Where("status = $2", string(opts.Status))
	}
	q = page(q.OrderExpr("seq DESC"), opts.Offset, opts.Limit)
	return scanAll(ctx, q, &models, fromSubscriptionModel)
}

func (s *Store) ExpireSubscriptions(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.pg.NewRaw(`
UPDATE escrow_subscriptions SET status = $1, updated_at = $3
WHERE status = $2 AND ends_at <= $3
RETURNING *`,
		string(subscription.StatusExpired), string(subscription.StatusActive), now).
		Scan(ctx, &models)
	if err != nil {
		return nil, mapError(err)
	}
	return fromModels(models, fromSubscriptionModel)
}

// ==================== Unit of work ====================

type tx struct {
	q querier
}

func (t *tx) LockUser(ctx context.Context, userID id.UserID) (*user.User, error) {
	m := new(userModel)
	q := t.q.NewSelect(m).Where("id = $1", userID.String()).ForUpdate()
	return scanOne(ctx, q, m, fromUserModel, escrow.ErrUserNotFound)
}

func (t *tx) UpdateUserRole(ctx context.Context, userID id.UserID, role user.Role) error {
	res, err := t.q.NewUpdate((*userModel)(nil)).
		Set("role = ?", string(role)).
		Set("updated_at = NOW()").
		Where("id = ?", userID.String()).
		Exec(ctx)
	return affectedOne(res, err, escrow.ErrUserNotFound)
}

func (t *tx) FindPlatformUser(ctx context.Context) (*user.User, error) {
	m := new(userModel)
	q := t.q.NewSelect(m).
		Where("role = $1", string(user.RoleAdmin)).
		OrderExpr("created_at, id").
		Limit(1)
	return scanOne(ctx, q, m, fromUserModel, escrow.ErrUserNotFound)
}

func (t *tx) EnsureWallet(ctx context.Context, userID id.UserID, currency string) (id.WalletID, error) {
	_, err := t.q.NewInsert(toWalletModel(wallet.New(userID, currency))).
		OnConflict("(user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		if isForeignKeyViolation(err) {
			return id.Nil, escrow.ErrUserNotFound
		}
		return id.Nil, mapError(err)
	}
	return t.FindWalletID(ctx, userID)
}

func (t *tx) FindWalletID(ctx context.Context, userID id.UserID) (id.WalletID, error) {
	var raw string
	err := t.q.NewRaw(`SELECT id FROM escrow_wallets WHERE user_id = $1`, userID.String()).Scan(ctx, &raw)
	if err != nil {
		if isNoRows(err) {
			return id.Nil, escrow.ErrWalletNotFound
		}
		return id.Nil, mapError(err)
	}
	return id.ParseWalletID(raw)
}

func (t *tx) LockWallet(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	m := new(walletModel)
	return scanOne(ctx, lockWalletQuery(t.q, m, walletID), m, fromWalletModel, escrow.ErrWalletNotFound)
}

func (t *tx) UpdateBalance(ctx context.Context, walletID id.WalletID, balance types.Money) error {
	res, err := t.q.NewUpdate((*walletModel)(nil)).
		Set("balance = ?", balance.Amount).
		Set("updated_at = NOW()").
		Where("id = ?", walletID.String()).
		Exec(ctx)
	return affectedOne(res, err, escrow.ErrWalletNotFound)
}

func (t *tx) InsertTransaction(ctx context.Context, wt *wallet.Transaction) error {
	_, err := t.q.NewInsert(toTransactionModel(wt)).Exec(ctx)
	if isForeignKeyViolation(err) {
		return escrow.ErrWalletNotFound
	}
	return mapError(err)
}

func (t *tx) LockPendingHold(ctx context.Context, caseID id.CaseID) (*wallet.Transaction, error) {
	m := new(transactionModel)
	return scanOne(ctx, lockPendingHoldQuery(t.q, m, caseID), m, fromTransactionModel, escrow.ErrEscrowNotFound)
}

func (t *tx) UpdateTransactionStatus(ctx context.Context, txID id.TransactionID, status wallet.Status) error {
	res, err := t.q.NewUpdate((*transactionModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = NOW()").
		Where("id = ?", txID.String()).
		Exec(ctx)
	return affectedOne(res, err, escrow.ErrTransactionNotFound)
}

func (t *tx) InsertCase(ctx context.Context, c *legalcase.Case) error {
	_, err := t.q.NewInsert(toCaseModel(c)).Exec(ctx)
	return mapError(err)
}

func (t *tx) LockCase(ctx context.Context, caseID id.CaseID) (*legalcase.Case, error) {
	m := new(caseModel)
	q := t.q.NewSelect(m).Where("id = $1", caseID.String()).ForUpdate()
	return scanOne(ctx, q, m, fromCaseModel, escrow.ErrCaseNotFound)
}

func (t *tx) UpdateCase(ctx context.Context, c *legalcase.Case) error {
	m := toCaseModel(c)
	res, err := t.q.NewUpdate(m).
		Column("title", "client_id", "expert_id", "status", "updated_at").
		Where("id = ?", m.ID).
		Exec(ctx)
	return affectedOne(res, err, escrow.ErrCaseNotFound)
}

func (t *tx) LatestCaseNumber(ctx context.Context, prefix string) (string, error) {
	var number string
	err := t.q.NewRaw(`
SELECT case_number FROM escrow_cases
WHERE starts_with(case_number, $1)
ORDER BY length(case_number) DESC, case_number DESC
LIMIT 1`, prefix).Scan(ctx, &number)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", mapError(err)
	}
	return number, nil
}

func (t *tx) LatestActiveSubscription(ctx context.Context, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error) {
	return latestActive(ctx, t.q, userID, plan, now, true)
}

func (t *tx) InsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := t.q.NewInsert(toSubscriptionModel(sub)).Exec(ctx)
	if isForeignKeyViolation(err) {
		return escrow.ErrUserNotFound
	}
	return mapError(err)
}

// ==================== Helpers ====================

func lockWalletQuery(q querier, m *walletModel, walletID id.WalletID) *pgdriver.SelectQuery {
	return q.NewSelect(m).Where("id = $1", walletID.String()).ForUpdate()
}

// lockPendingHoldQuery selects the oldest pending escrow hold on a case.
func lockPendingHoldQuery(q querier, m *transactionModel, caseID id.CaseID) *pgdriver.SelectQuery {
	return q.NewSelect(m).
		Where("type = $1", string(wallet.TypeEscrowHold)).
		Where("status = $2", string(wallet.StatusPending)).
		Where("reference_kind = $3", string(wallet.RefCase)).
		Where("reference_id = $4", caseID.String()).
		OrderExpr("seq").
		Limit(1).
		ForUpdate()
}

func latestActive(ctx context.Context, q querier, userID id.UserID, plan string, now time.Time, lock bool) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	sq := q.NewSelect(m).
		Where("user_id = $1", userID.String()).
		Where("plan_name = $2", plan).
		Where("status = $3", string(subscription.StatusActive)).
		Where("ends_at > $4", now).
		OrderExpr("ends_at DESC").
		Limit(1)
	if lock {
		sq = sq.ForUpdate()
	}
	return scanOne(ctx, sq, m, fromSubscriptionModel, escrow.ErrSubscriptionNotFound)
}

func page(q *pgdriver.SelectQuery, offset, limit int) *pgdriver.SelectQuery {
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}

func scanOne[M, T any](ctx context.Context, q *pgdriver.SelectQuery, m *M, from func(*M) (*T, error), notFound error) (*T, error) {
	if err := q.Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, notFound
		}
		return nil, mapError(err)
	}
	return from(m)
}

func scanAll[M, T any](ctx context.Context, q *pgdriver.SelectQuery, models *[]M, from func(*M) (*T, error)) ([]*T, error) {
	if err := q.Scan(ctx); err != nil {
		return nil, mapError(err)
	}
	return fromModels(*models, from)
}

func fromModels[M, T any](models []M, from func(*M) (*T, error)) ([]*T, error) {
	result := make([]*T, 0, len(models))
	for i := range models {
		v, err := from(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	return result, nil
}

// affectedOne reports notFound when a single-row write matched nothing.
func affectedOne(res driver.Result, err error, notFound error) error {
	if err != nil {
		return mapError(err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if rows == 0 {
		return notFound
	}
	return nil
}

// isNoRows checks for the no-rows sentinel of either pgx or database/sql.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

// mapError translates the server error codes the engine reacts to.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", escrow.ErrAlreadyExists, pgErr.ConstraintName)
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", escrow.ErrConflict, pgErr.Message)
		}
	}
	return fmt.Errorf("escrow/postgres: %w", err)
}
