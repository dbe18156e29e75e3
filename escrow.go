package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/escrow/plugin"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/types"
)

// DefaultPlatformFeePercent is the platform's share of every released hold.
const DefaultPlatformFeePercent = 10

// Engine moves money between client, expert and platform wallets and sells
// Pro membership. Every money-mutating call is one unit of work against the
// store.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	clock      func() time.Time
	location   *time.Location
	currency   string
	feePercent int64
	proPlan    subscription.Plan

	migrate bool

	// Background workers
	expiryInterval time.Duration
	stopChan       chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		plugins:        plugin.NewRegistry(),
		logger:         slog.Default(),
		clock:          time.Now,
		location:       time.Local,
		currency:       types.CurrencyIDR,
		feePercent:     DefaultPlatformFeePercent,
		proPlan:        subscription.DefaultProPlan(),
		migrate:        true,
		expiryInterval: time.Hour,
		stopChan:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.clock = now }
}

// WithLocation sets the time zone used for case numbers and printed dates.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) {
		if loc != nil {
			e.location = loc
		}
	}
}

// WithPlatformFeePercent sets the platform share of a release. Values outside
// [0, 100] are ignored.
func WithPlatformFeePercent(pct int64) Option {
	return func(e *Engine) {
		if pct >= 0 && pct <= 100 {
			e.feePercent = pct
		}
	}
}

// WithProPlan overrides the Pro price and period.
func WithProPlan(p subscription.Plan) Option {
	return func(e *Engine) { e.proPlan = p }
}

// WithExpiryInterval sets how often lapsed subscriptions are marked expired.
// Zero disables the worker.
func WithExpiryInterval(d time.Duration) Option {
	return func(e *Engine) { e.expiryInterval = d }
}

// WithMigrate controls whether Start applies store migrations.
func WithMigrate(enabled bool) Option {
	return func(e *Engine) { e.migrate = enabled }
}

// Start migrates the store, initializes plugins and begins background workers.
func (e *Engine) Start(ctx context.Context) error {
	if e.migrate {
		if err := e.store.Migrate(ctx); err != nil {
			return fmt.Errorf("escrow: migrate: %w", err)
		}
	}

	e.plugins.EmitInit(ctx, e)

	if e.expiryInterval > 0 {
		e.wg.Add(1)
		go e.expiryWorker(context.WithoutCancel(ctx))
	}

	e.logger.Info("escrow engine started",
		"platform_fee_percent", e.feePercent,
		"pro_price", e.proPlan.Price.FormatMajor(),
		"pro_days", e.proPlan.Days(),
		"expiry_interval", e.expiryInterval,
	)

	return nil
}

// Stop shuts down background workers, notifies plugins and closes the store.
func (e *Engine) Stop() error {
	e.stopOnce.Do(func() { close(e.stopChan) })
	e.wg.Wait()

	e.plugins.EmitShutdown(context.Background())

	return e.store.Close()
}

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Plugins returns the plugin registry.
func (e *Engine) Plugins() *plugin.Registry { return e.plugins }

// ProPlan returns the plan SubscribePro and RenewPro charge for.
func (e *Engine) ProPlan() subscription.Plan { return e.proPlan }

// PlatformFeePercent returns the platform share of a release.
func (e *Engine) PlatformFeePercent() int64 { return e.feePercent }

func (e *Engine) now() time.Time { return e.clock().In(e.location) }

// expiryWorker periodically closes subscriptions whose period has ended.
func (e *Engine) expiryWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.expiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			if _, err := e.ExpireSubscriptions(ctx); err != nil {
				e.logger.Error("failed to expire subscriptions", "error", err)
			}
		}
	}
}

// ExpireSubscriptions marks lapsed active subscriptions as expired and
// returns how many rows changed.
func (e *Engine) ExpireSubscriptions(ctx context.Context) (int, error) {
	start := time.Now()

	expired, err := e.store.ExpireSubscriptions(ctx, e.now())
	if err != nil {
		return 0, classify(err)
	}

	for _, sub := range expired {
		e.plugins.EmitSubscriptionExpired(ctx, sub)
	}

	if len(expired) > 0 {
		e.logger.Info("expired subscriptions",
			"count", len(expired),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
	return len(expired), nil
}

// fail classifies err, reports it to plugins and logs it at a level that
// matches its kind.
func (e *Engine) fail(ctx context.Context, op string, err error) error {
	err = classify(err)
	e.plugins.EmitOperationFailed(ctx, op, err)

	switch {
	case IsUnexpected(err):
		e.logger.Error("escrow operation failed", "op", op, "error", err)
	case IsRetryable(err):
		e.logger.Warn("escrow operation lost a race", "op", op, "error", err)
	default:
		e.logger.Debug("escrow operation rejected", "op", op, "error", err)
	}
	return err
}
