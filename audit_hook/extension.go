// Package audithook turns escrow engine events into audit records.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit backend. Callers pass a RecorderFunc or their own
// implementation at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                = (*Extension)(nil)
	_ plugin.OnDeposit             = (*Extension)(nil)
	_ plugin.OnEscrowLocked        = (*Extension)(nil)
	_ plugin.OnEscrowReleased      = (*Extension)(nil)
	_ plugin.OnSubscriptionCreated = (*Extension)(nil)
	_ plugin.OnSubscriptionRenewed = (*Extension)(nil)
	_ plugin.OnSubscriptionExpired = (*Extension)(nil)
	_ plugin.OnMembershipUpgraded  = (*Extension)(nil)
	_ plugin.OnOperationFailed     = (*Extension)(nil)
	_ plugin.OnQuotaExceeded       = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension records engine events through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Wallet and escrow hooks
// ──────────────────────────────────────────────────

// OnDeposit implements plugin.OnDeposit.
func (e *Extension) OnDeposit(ctx context.Context, t *wallet.Transaction) error {
	return e.record(ctx, ActionWalletDeposited, SeverityInfo, OutcomeSuccess,
		ResourceTransaction, t.ID.String(), CategoryWallet, nil,
		"wallet_id", t.WalletID.String(),
		"amount", t.Amount.String(),
	)
}

// OnEscrowLocked implements plugin.OnEscrowLocked.
func (e *Extension) OnEscrowLocked(ctx context.Context, c *legalcase.Case, hold *wallet.Transaction) error {
	return e.record(ctx, ActionEscrowLocked, SeverityInfo, OutcomeSuccess,
		ResourceCase, c.ID.String(), CategoryEscrow, nil,
		"case_number", c.Number,
		"transaction_id", hold.ID.String(),
		"amount", hold.Amount.String(),
	)
}

// OnEscrowReleased implements plugin.OnEscrowReleased.
func (e *Extension) OnEscrowReleased(ctx context.Context, c *legalcase.Case, s *wallet.Settlement) error {
	return e.record(ctx, ActionEscrowReleased, SeverityInfo, OutcomeSuccess,
		ResourceCase, c.ID.String(), CategoryEscrow, nil,
		"case_number", c.Number,
		"expert_id", c.ExpertID.String(),
		"hold_id", s.Hold.ID.String(),
		"payout", s.PayoutAmount().String(),
		"fee", s.FeeAmount().String(),
	)
}

// ──────────────────────────────────────────────────
// Membership hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (e *Extension) OnSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) error {
	return e.recordSubscription(ctx, ActionSubscriptionCreated, sub)
}

// OnSubscriptionRenewed implements plugin.OnSubscriptionRenewed.
func (e *Extension) OnSubscriptionRenewed(ctx context.Context, sub *subscription.Subscription) error {
	return e.recordSubscription(ctx, ActionSubscriptionRenewed, sub)
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (e *Extension) OnSubscriptionExpired(ctx context.Context, sub *subscription.Subscription) error {
	return e.recordSubscription(ctx, ActionSubscriptionExpired, sub)
}

// OnMembershipUpgraded implements plugin.OnMembershipUpgraded.
func (e *Extension) OnMembershipUpgraded(ctx context.Context, u *user.User, payment *wallet.Transaction) error {
	return e.record(ctx, ActionMembershipUpgraded, SeverityInfo, OutcomeSuccess,
		ResourceUser, u.ID.String(), CategorySubscription, nil,
		"role", string(u.Role),
		"transaction_id", payment.ID.String(),
		"amount", payment.Amount.String(),
	)
}

func (e *Extension) recordSubscription(ctx context.Context, action string, sub *subscription.Subscription) error {
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, sub.ID.String(), CategorySubscription, nil,
		"user_id", sub.UserID.String(),
		"plan", sub.PlanName,
		"starts_at", sub.StartsAt,
		"ends_at", sub.EndsAt,
	)
}

// ──────────────────────────────────────────────────
// Failure and quota hooks
// ──────────────────────────────────────────────────

// OnOperationFailed implements plugin.OnOperationFailed. Domain rejections
// are warnings; anything else is an error.
func (e *Extension) OnOperationFailed(ctx context.Context, op string, err error) error {
	severity := SeverityError
	if escrow.IsDomain(err) || escrow.IsNotFound(err) {
		severity = SeverityWarning
	}
	return e.record(ctx, ActionOperationFailed, severity, OutcomeFailure,
		ResourceOperation, op, CategoryWallet, err,
		"operation", op,
	)
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (e *Extension) OnQuotaExceeded(ctx context.Context, identity string, used, limit int64) error {
	return e.record(ctx, ActionQuotaExceeded, SeverityWarning, OutcomeFailure,
		ResourceChat, identity, CategoryUsage, nil,
		"used", used,
		"limit", limit,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
