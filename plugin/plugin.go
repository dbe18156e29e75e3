// Package plugin provides an extensible plugin system for the escrow engine.
// Plugins can hook into money movements and subscription lifecycle events.
// Hooks run after the unit of work has committed and cannot veto it.
package plugin

import (
	"context"

	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine any) error
}

// OnShutdown is called when the engine stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Wallet and escrow hooks
// ──────────────────────────────────────────────────

// OnDeposit is called after a top-up is booked.
type OnDeposit interface {
	Plugin
	OnDeposit(ctx context.Context, deposit *wallet.Transaction) error
}

// OnEscrowLocked is called after a client's funds are held for a case.
type OnEscrowLocked interface {
	Plugin
	OnEscrowLocked(ctx context.Context, c *legalcase.Case, hold *wallet.Transaction) error
}

// OnEscrowReleased is called after a hold is split between expert and platform.
type OnEscrowReleased interface {
	Plugin
	OnEscrowReleased(ctx context.Context, c *legalcase.Case, s *wallet.Settlement) error
}

// ──────────────────────────────────────────────────
// Membership hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated is called after a first Pro purchase.
type OnSubscriptionCreated interface {
	Plugin
	OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionRenewed is called after a renewal period is booked.
type OnSubscriptionRenewed interface {
	Plugin
	OnSubscriptionRenewed(ctx context.Context, sub *subscription.Subscription) error
}

// OnSubscriptionExpired is called for each row the expiry worker closes.
type OnSubscriptionExpired interface {
	Plugin
	OnSubscriptionExpired(ctx context.Context, sub *subscription.Subscription) error
}

// OnMembershipUpgraded is called after a user pays for the corporate role.
type OnMembershipUpgraded interface {
	Plugin
	OnMembershipUpgraded(ctx context.Context, u *user.User, payment *wallet.Transaction) error
}

// ──────────────────────────────────────────────────
// Failure and quota hooks
// ──────────────────────────────────────────────────

// OnOperationFailed is called when a money operation aborts.
type OnOperationFailed interface {
	Plugin
	OnOperationFailed(ctx context.Context, op string, err error) error
}

// OnQuotaExceeded is called when a free-tier identity hits its daily limit.
type OnQuotaExceeded interface {
	Plugin
	OnQuotaExceeded(ctx context.Context, identity string, used, limit int64) error
}
