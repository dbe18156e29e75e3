// Package store defines the persistence contract of the escrow engine.
//
// Reads outside a unit of work are for display only. Every read that feeds a
// balance or state decision goes through a Tx obtained from Atomic, which
// commits all of its writes together or none of them.
package store

import (
	"context"
	"time"

	"github.com/xraph/escrow/id"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/types"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// Store is the unified storage interface for all escrow entities.
type Store interface {
	// Atomic runs fn in one unit of work. A non-nil error from fn rolls back
	// every write made through tx and is returned unchanged.
	Atomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// User methods
	CreateUser(ctx context.Context, u *user.User) error
	GetUser(ctx context.Context, userID id.UserID) (*user.User, error)

	// Wallet methods
	GetWalletByUser(ctx context.Context, userID id.UserID) (*wallet.Wallet, error)
	ListTransactions(ctx context.Context, walletID id.WalletID, opts wallet.ListOpts) ([]*wallet.Transaction, error)

	// Case methods
	GetCase(ctx context.Context, caseID id.CaseID) (*legalcase.Case, error)

	// Subscription methods
	GetActiveSubscription(ctx context.Context, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, userID id.UserID, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	// ExpireSubscriptions flips active rows whose ends_at is not after now to
	// expired and returns them.
	ExpireSubscriptions(ctx context.Context, now time.Time) ([]*subscription.Subscription, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the view of the store inside a unit of work. Lock* methods take an
// exclusive row lock held until the unit ends. Callers acquire locks in the
// order wallets (ascending id), escrow hold, case, user.
type Tx interface {
	// Users
	LockUser(ctx context.Context, userID id.UserID) (*user.User, error)
	UpdateUserRole(ctx context.Context, userID id.UserID, role user.Role) error
	// FindPlatformUser returns the first admin account by creation order.
	FindPlatformUser(ctx context.Context) (*user.User, error)

	// Wallets
	// EnsureWallet returns the user's wallet id, creating an empty wallet
	// when none exists.
	EnsureWallet(ctx context.Context, userID id.UserID, currency string) (id.WalletID, error)
	FindWalletID(ctx context.Context, userID id.UserID) (id.WalletID, error)
	LockWallet(ctx context.Context, walletID id.WalletID) (*wallet.Wallet, error)
	UpdateBalance(ctx context.Context, walletID id.WalletID, balance types.Money) error

	// Ledger
	InsertTransaction(ctx context.Context, t *wallet.Transaction) error
	// LockPendingHold locks the pending escrow_hold row referencing the case.
	LockPendingHold(ctx context.Context, caseID id.CaseID) (*wallet.Transaction, error)
	UpdateTransactionStatus(ctx context.Context, txID id.TransactionID, status wallet.Status) error

	// Cases
	InsertCase(ctx context.Context, c *legalcase.Case) error
	LockCase(ctx context.Context, caseID id.CaseID) (*legalcase.Case, error)
	UpdateCase(ctx context.Context, c *legalcase.Case) error
	// LatestCaseNumber returns the greatest case number with the prefix, or
	// "" when there is none.
	LatestCaseNumber(ctx context.Context, prefix string) (string, error)

	// Subscriptions
	// LatestActiveSubscription returns the active row of the plan with the
	// latest ends_at after now.
	LatestActiveSubscription(ctx context.Context, userID id.UserID, plan string, now time.Time) (*subscription.Subscription, error)
	InsertSubscription(ctx context.Context, s *subscription.Subscription) error
}
