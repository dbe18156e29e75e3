// Package observability counts escrow engine events through a MetricFactory.
package observability

import (
	"context"
	"errors"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                = (*MetricsExtension)(nil)
	_ plugin.OnInit                = (*MetricsExtension)(nil)
	_ plugin.OnDeposit             = (*MetricsExtension)(nil)
	_ plugin.OnEscrowLocked        = (*MetricsExtension)(nil)
	_ plugin.OnEscrowReleased      = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCreated = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionRenewed = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionExpired = (*MetricsExtension)(nil)
	_ plugin.OnMembershipUpgraded  = (*MetricsExtension)(nil)
	_ plugin.OnOperationFailed     = (*MetricsExtension)(nil)
	_ plugin.OnQuotaExceeded       = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics. Names are dot-separated, e.g.
// "escrow.wallet.deposits".
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records engine event counts and amounts. Amounts are
// observed in whole rupiah.
type MetricsExtension struct {
	factory MetricFactory

	// Wallet metrics
	Deposits      Counter
	DepositAmount Histogram

	// Escrow metrics
	EscrowLocked   Counter
	EscrowReleased Counter
	HoldAmount     Histogram
	PayoutAmount   Histogram
	PlatformFees   Counter

	// Membership metrics
	SubscriptionCreated Counter
	SubscriptionRenewed Counter
	SubscriptionExpired Counter
	MembershipUpgraded  Counter

	// Usage metrics
	QuotaExceeded Counter

	// Error metrics
	DomainRejections   Counter
	InsufficientFunds  Counter
	UnexpectedFailures Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		Deposits:      factory.Counter("escrow.wallet.deposits"),
		DepositAmount: factory.Histogram("escrow.wallet.deposit_amount"),

		EscrowLocked:   factory.Counter("escrow.hold.locked"),
		EscrowReleased: factory.Counter("escrow.hold.released"),
		HoldAmount:     factory.Histogram("escrow.hold.amount"),
		PayoutAmount:   factory.Histogram("escrow.hold.payout_amount"),
		PlatformFees:   factory.Counter("escrow.hold.platform_fees"),

		SubscriptionCreated: factory.Counter("escrow.subscription.created"),
		SubscriptionRenewed: factory.Counter("escrow.subscription.renewed"),
		SubscriptionExpired: factory.Counter("escrow.subscription.expired"),
		MembershipUpgraded:  factory.Counter("escrow.membership.upgraded"),

		QuotaExceeded: factory.Counter("escrow.chat.quota_exceeded"),

		DomainRejections:   factory.Counter("escrow.operation.rejected"),
		InsufficientFunds:  factory.Counter("escrow.operation.insufficient_funds"),
		UnexpectedFailures: factory.Counter("escrow.operation.unexpected"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Wallet and escrow hooks
// ──────────────────────────────────────────────────

// OnDeposit implements plugin.OnDeposit.
func (m *MetricsExtension) OnDeposit(_ context.Context, t *wallet.Transaction) error {
	m.Deposits.Inc()
	m.DepositAmount.Observe(rupiah(t.Amount.Amount))
	return nil
}

// OnEscrowLocked implements plugin.OnEscrowLocked.
func (m *MetricsExtension) OnEscrowLocked(_ context.Context, _ *legalcase.Case, hold *wallet.Transaction) error {
	m.EscrowLocked.Inc()
	m.HoldAmount.Observe(rupiah(hold.Amount.Amount))
	return nil
}

// OnEscrowReleased implements plugin.OnEscrowReleased.
func (m *MetricsExtension) OnEscrowReleased(_ context.Context, _ *legalcase.Case, s *wallet.Settlement) error {
	m.EscrowReleased.Inc()
	m.PayoutAmount.Observe(rupiah(s.PayoutAmount().Amount))
	if fee := s.FeeAmount(); fee.IsPositive() {
		m.PlatformFees.Add(rupiah(fee.Amount))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Membership hooks
// ──────────────────────────────────────────────────

// OnSubscriptionCreated implements plugin.OnSubscriptionCreated.
func (m *MetricsExtension) OnSubscriptionCreated(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionCreated.Inc()
	return nil
}

// OnSubscriptionRenewed implements plugin.OnSubscriptionRenewed.
func (m *MetricsExtension) OnSubscriptionRenewed(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionRenewed.Inc()
	return nil
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (m *MetricsExtension) OnSubscriptionExpired(_ context.Context, _ *subscription.Subscription) error {
	m.SubscriptionExpired.Inc()
	return nil
}

// OnMembershipUpgraded implements plugin.OnMembershipUpgraded.
func (m *MetricsExtension) OnMembershipUpgraded(_ context.Context, _ *user.User, _ *wallet.Transaction) error {
	m.MembershipUpgraded.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Failure and quota hooks
// ──────────────────────────────────────────────────

// OnOperationFailed implements plugin.OnOperationFailed.
func (m *MetricsExtension) OnOperationFailed(_ context.Context, _ string, err error) error {
	switch {
	case errors.Is(err, escrow.ErrInsufficientFunds):
		m.InsufficientFunds.Inc()
		m.DomainRejections.Inc()
	case escrow.IsDomain(err), escrow.IsNotFound(err):
		m.DomainRejections.Inc()
	default:
		m.UnexpectedFailures.Inc()
	}
	return nil
}

// OnQuotaExceeded implements plugin.OnQuotaExceeded.
func (m *MetricsExtension) OnQuotaExceeded(_ context.Context, _ string, _, _ int64) error {
	m.QuotaExceeded.Inc()
	return nil
}

func rupiah(sen int64) float64 { return float64(sen) / 100 }
