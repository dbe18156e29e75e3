// Package mongo implements store.Store on MongoDB via Grove ORM. Units of
// work are multi-document transactions, so the deployment must be a replica
// set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readconcern"
	"go.mongodb.org/mongo-driver/v2/mongo/writeconcern"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// Collection name constants.
const (
	colUsers         = "escrow_users"
	colWallets       = "escrow_wallets"
	colTransactions  = "escrow_wallet_transactions"
	colCases         = "escrow_cases"
	colSubscriptions = "escrow_subscriptions"
)

// compile-time interface check
var (
	_ store.Store = (*Store)(nil)
	_ store.Tx    = (*tx)(nil)
)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
	seq atomic.Int64
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// Open connects to uri, using database dbName, and verifies the connection.
func Open(ctx context.Context, uri, dbName string) (*Store, error) {
	mdb := mongodriver.New()
	if err := mdb.Open(ctx, uri, mongodriver.WithDatabase(dbName)); err != nil {
		_ = mdb.Close()
		return nil, fmt.Errorf("escrow/mongo: open: %w", err)
	}
	db, err := grove.Open(mdb)
	if err != nil {
		_ = mdb.Close()
		return nil, fmt.Errorf("escrow/mongo: grove: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the collections' indexes.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("escrow/mongo: migrate %s indexes: %w", col, err)
		}
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

// Atomic runs fn in one snapshot transaction. fn runs once; a write
// conflict surfaces as escrow.ErrConflict instead of being retried here.
// The session is started on the driver's client rather than through
// grove.DB.BeginTx, which only offers the client's default read concern.
// Queries join it through the session context handed to fn.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	sess, err := s.mdb.Client().StartSession()
	if err != nil {
		return mapError(err)
	}
	defer sess.EndSession(context.WithoutCancel(ctx))

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
	if err := sess.StartTransaction(txOpts); err != nil {
		return mapError(err)
	}

	sctx := mongo.NewSessionContext(ctx, sess)
	if err := fn(sctx, &tx{s: s}); err != nil {
		_ = sess.AbortTransaction(context.WithoutCancel(ctx))
		return err
	}
	return mapError(sess.CommitTransaction(sctx))
}

func (s *Store) col(name string) *mongo.Collection { return s.mdb.Collection(name) }

// nextSeq returns a strictly increasing insertion sequence, close to wall
// clock nanoseconds so that separate processes interleave sensibly.
func (s *Store) nextSeq() int64 {
	for {
		last := s.seq.Load()
		next := max(last+1, time.Now().UnixNano())
		if s.seq.CompareAndSwap(last, next) {
			return next
		}
	}
}

// ==================== User Store ====================

func (s *Store) CreateUser(ctx context.Context, u *user.User) error {
	_, err := s.mdb.NewInsert(toUserModel(u)).Exec(ctx)
	return mapError(err)
}

func (s *Store) GetUser(ctx context.Context, userID id.UserID) (*user.User, error) {
	var m userModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID.String()}).
		Scan(ctx)
	return decodeOne(&m, err, fromUserModel, escrow.ErrUserNotFound)
}

// ==================== Wallet Store ====================

func (s *Store) GetWalletByUser(ctx context.Context, userID id.UserID) (*wallet.Wallet, error) {
	return walletByUser(ctx, s.mdb, userID)
}

func (s *Store) ListTransactions(ctx context.Context, walletID id.WalletID, opts wallet.ListOpts) ([]*wallet.Transaction, error) {
	var models []transactionModel

	filter := bson.M{"wallet_id": walletID.String()}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}

	err := page(s.mdb.NewFind(&models).Filter(filter), opts.Offset, opts.Limit).Scan(ctx)
	return decodeAll(models, err, fromTransactionModel)
}

// ==================== Case Store ====================

func (s *Store) GetCase(ctx context.Context, caseID id.CaseID) (*legalcase.Case, error) {
	var m caseModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": caseID.String()}).
		Scan(ctx)
	return decodeOne(&m, err, fromCaseModel, escrow.ErrCaseNotFound)
}

// ==================== Subscription Store ====================

func (s *Store) GetActiveSubscription(ctx context.Context, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error) {
	return latestActive(ctx, s.mdb, userID, plan, now)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID id.UserID, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{"user_id": userID.String()}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	err := page(s.mdb.NewFind(&models).Filter(filter), opts.Offset, opts.Limit).Scan(ctx)
	return decodeAll(models, err, fromSubscriptionModel)
}

// ExpireSubscriptions flips due rows one document at a time, so every
// returned row is one this call changed.
func (s *Store) ExpireSubscriptions(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	filter := bson.M{
		"status":  string(subscription.StatusActive),
		"ends_at": bson.M{"$lte": now},
	}
	update := bson.M{"$set": bson.M{
		"status":     string(subscription.StatusExpired),
		"updated_at": now.UTC(),
	}}
	after := options.FindOneAndUpdate().SetReturnDocument(options.After)

	expired := make([]*subscription.Subscription, 0)
	for {
		var m subscriptionModel
		err := s.col(colSubscriptions).FindOneAndUpdate(ctx, filter, update, after).Decode(&m)
		if isNoDocuments(err) {
			return expired, nil
		}
		if err != nil {
			return expired, mapError(err)
		}
		sub, err := fromSubscriptionModel(&m)
		if err != nil {
			return expired, err
		}
		expired = append(expired, sub)
	}
}

// ==================== Unit of work ====================

// tx issues every operation on the session context it is handed, so all of
// them join the open transaction.
type tx struct {
	s *Store
}

// lock bumps the document's lock counter and decodes the result. Any other
// transaction writing the same document now conflicts until this one ends.
func lock[M, T any](ctx context.Context, c *mongo.Collection, filter any, sort any, from func(*M) (*T, error), notFound error) (*T, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	if sort != nil {
		opts.SetSort(sort)
	}
	var m M
	err := c.FindOneAndUpdate(ctx, filter, bson.M{"$inc": bson.M{"lock": 1}}, opts).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, notFound
		}
		return nil, mapError(err)
	}
	return from(&m)
}

func (t *tx) LockUser(ctx context.Context, userID id.UserID) (*user.User, error) {
	return lock(ctx, t.s.col(colUsers), bson.M{"_id": userID.String()}, nil, fromUserModel, escrow.ErrUserNotFound)
}

func (t *tx) UpdateUserRole(ctx context.Context, userID id.UserID, role user.Role) error {
	res, err := t.s.mdb.NewUpdate((*userModel)(nil)).
		Filter(bson.M{"_id": userID.String()}).
		Set("role", string(role)).
		Set("updated_at", time.Now().UTC()).
		Exec(ctx)
	return matchedOne(res, err, escrow.ErrUserNotFound)
}

func (t *tx) FindPlatformUser(ctx context.Context) (*user.User, error) {
	var m userModel
	err := t.s.mdb.NewFind(&m).
		Filter(bson.M{"role": string(user.RoleAdmin)}).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		Scan(ctx)
	return decodeOne(&m, err, fromUserModel, escrow.ErrUserNotFound)
}

func (t *tx) EnsureWallet(ctx context.Context, userID id.UserID, currency string) (id.WalletID, error) {
	if walletID, err := t.FindWalletID(ctx, userID); err == nil || !errors.Is(err, escrow.ErrWalletNotFound) {
		return walletID, err
	}
	if _, err := t.s.GetUser(ctx, userID); err != nil {
		return id.Nil, err
	}
	w := wallet.New(userID, currency)
	if _, err := t.s.mdb.NewInsert(toWalletModel(w)).Exec(ctx); err != nil {
		return id.Nil, mapError(err)
	}
	return w.ID, nil
}

func (t *tx) FindWalletID(ctx context.Context, userID id.UserID) (id.WalletID, error) {
	w, err := walletByUser(ctx, t.s.mdb, userID)
	if err != nil {
		return id.Nil, err
	}
	return w.ID, nil
}

func (t *tx) LockWallet(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error) {
	return lock(ctx, t.s.col(colWallets), bson.M{"_id": walletID.String()}, nil, fromWalletModel, escrow.ErrWalletNotFound)
}

func (t *tx) UpdateBalance(ctx context.Context, walletID id.WalletID, balance types.Money) error {
	res, err := t.s.mdb.NewUpdate((*walletModel)(nil)).
		Filter(bson.M{"_id": walletID.String()}).
		Set("balance", balance.Amount).
		Set("updated_at", time.Now().UTC()).
		Exec(ctx)
	return matchedOne(res, err, escrow.ErrWalletNotFound)
}

func (t *tx) InsertTransaction(ctx context.Context, wt *wallet.Transaction) error {
	n, err := t.s.mdb.NewFind((*walletModel)(nil)).
		Filter(bson.M{"_id": wt.WalletID.String()}).
		Count(ctx)
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return escrow.ErrWalletNotFound
	}
	_, err = t.s.mdb.NewInsert(toTransactionModel(wt, t.s.nextSeq())).Exec(ctx)
	return mapError(err)
}

func (t *tx) LockPendingHold(ctx context.Context, caseID id.CaseID) (*wallet.Transaction, error) {
	filter := bson.M{
		"type":           string(wallet.TypeEscrowHold),
		"status":         string(wallet.StatusPending),
		"reference_kind": string(wallet.RefCase),
		"reference_id":   caseID.String(),
	}
	return lock(ctx, t.s.col(colTransactions), filter, bson.D{{Key: "seq", Value: 1}},
		fromTransactionModel, escrow.ErrEscrowNotFound)
}

func (t *tx) UpdateTransactionStatus(ctx context.Context, txID id.TransactionID, status wallet.Status) error {
	res, err := t.s.mdb.NewUpdate((*transactionModel)(nil)).
		Filter(bson.M{"_id": txID.String()}).
		Set("status", string(status)).
		Set("updated_at", time.Now().UTC()).
		Exec(ctx)
	return matchedOne(res, err, escrow.ErrTransactionNotFound)
}

func (t *tx) InsertCase(ctx context.Context, c *legalcase.Case) error {
	_, err := t.s.mdb.NewInsert(toCaseModel(c)).Exec(ctx)
	return mapError(err)
}

func (t *tx) LockCase(ctx context.Context, caseID id.CaseID) (*legalcase.Case, error) {
	return lock(ctx, t.s.col(colCases), bson.M{"_id": caseID.String()}, nil, fromCaseModel, escrow.ErrCaseNotFound)
}

func (t *tx) UpdateCase(ctx context.Context, c *legalcase.Case) error {
	m := toCaseModel(c)
	res, err := t.s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		SetUpdate(bson.M{"$set": bson.M{
			"title":      m.Title,
			"client_id":  m.ClientID,
			"expert_id":  m.ExpertID,
			"status":     m.Status,
			"updated_at": time.Now().UTC(),
		}}).
		Exec(ctx)
	return matchedOne(res, err, escrow.ErrCaseNotFound)
}

// LatestCaseNumber reads the numbers of one day and picks the greatest
// sequence; length decides first so sequences past 99999 sort last.
func (t *tx) LatestCaseNumber(ctx context.Context, prefix string) (string, error) {
	var rows []caseModel
	err := t.s.mdb.NewFind(&rows).
		Filter(bson.M{"case_number": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}).
		Project(bson.M{"case_number": 1}).
		Scan(ctx)
	if err != nil {
		return "", mapError(err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	numbers := make([]string, len(rows))
	for i, r := range rows {
		numbers[i] = r.Number
	}
	return slices.MaxFunc(numbers, func(a, b string) int {
		if len(a) != len(b) {
			return len(a) - len(b)
		}
		return strings.Compare(a, b)
	}), nil
}

func (t *tx) LatestActiveSubscription(ctx context.Context, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error) {
	return latestActive(ctx, t.s.mdb, userID, plan, now)
}

func (t *tx) InsertSubscription(ctx context.Context, sub *subscription.Subscription) error {
	_, err := t.s.mdb.NewInsert(toSubscriptionModel(sub, t.s.nextSeq())).Exec(ctx)
	return mapError(err)
}

// ==================== Helpers ====================

func latestActive(ctx context.Context, mdb *mongodriver.MongoDB, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := mdb.NewFind(&m).
		Filter(bson.M{
			"user_id":   userID.String(),
			"plan_name": plan,
			"status":    string(subscription.StatusActive),
			"ends_at":   bson.M{"$gt": now},
		}).
		Sort(bson.D{{Key: "ends_at", Value: -1}}).
		Scan(ctx)
	return decodeOne(&m, err, fromSubscriptionModel, escrow.ErrSubscriptionNotFound)
}

func walletByUser(ctx context.Context, mdb *mongodriver.MongoDB, userID id.UserID) (*wallet.Wallet, error) {
	var m walletModel
	err := mdb.NewFind(&m).
		Filter(bson.M{"user_id": userID.String()}).
		Scan(ctx)
	return decodeOne(&m, err, fromWalletModel, escrow.ErrWalletNotFound)
}

// decodeOne converts the model a single-document find filled in.
func decodeOne[M, T any](m *M, err error, from func(*M) (*T, error), notFound error) (*T, error) {
	if err != nil {
		if isNoDocuments(err) {
			return nil, notFound
		}
		return nil, mapError(err)
	}
	return from(m)
}

func decodeAll[M, T any](models []M, err error, from func(*M) (*T, error)) ([]*T, error) {
	if err != nil {
		return nil, mapError(err)
	}
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

// matchedOne reports notFound when an update matched no document.
func matchedOne(res interface{ MatchedCount() int64 }, err error, notFound error) error {
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount() == 0 {
		return notFound
	}
	return nil
}

// page sorts newest first by insertion sequence.
func page(q *mongodriver.FindQuery, offset, limit int) *mongodriver.FindQuery {
	q = q.Sort(bson.D{{Key: "seq", Value: -1}})
	if limit > 0 {
		q = q.Limit(int64(limit))
	}
	if offset > 0 {
		q = q.Skip(int64(offset))
	}
	return q
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

func hasLabel(err error, label string) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorLabel(label)
}

// mapError translates duplicate keys and transaction conflicts.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", escrow.ErrAlreadyExists, err)
	case hasLabel(err, "TransientTransactionError"), hasLabel(err, "UnknownTransactionCommitResult"):
		return fmt.Errorf("%w: %v", escrow.ErrConflict, err)
	}
	return fmt.Errorf("escrow/mongo: %w", err)
}

// migrationIndexes returns the index definitions for all escrow collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colUsers: {
			{Keys: bson.D{{Key: "role", Value: 1}, {Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
		},
		colWallets: {
			{
				Keys:    bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colTransactions: {
			{Keys: bson.D{{Key: "wallet_id", Value: 1}, {Key: "seq", Value: -1}}},
			{Keys: bson.D{{Key: "reference_kind", Value: 1}, {Key: "reference_id", Value: 1}, {Key: "type", Value: 1}, {Key: "status", Value: 1}}},
		},
		colCases: {
			{
				Keys:    bson.D{{Key: "case_number", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colSubscriptions: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "plan_name", Value: 1}, {Key: "status", Value: 1}, {Key: "ends_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "ends_at", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "seq", Value: -1}}},
		},
	}
}
