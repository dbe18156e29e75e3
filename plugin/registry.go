package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/escrow/legalcase"
	"github.com/xraph/escrow/subscription"
	"github.com/xraph/escrow/user"
	"github.com/xraph/escrow/wallet"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and dispatches events to them.
// Hook implementations are discovered once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	onInit                []OnInit
	onShutdown            []OnShutdown
	onDeposit             []OnDeposit
	onEscrowLocked        []OnEscrowLocked
	onEscrowReleased      []OnEscrowReleased
	onSubscriptionCreated []OnSubscriptionCreated
	onSubscriptionRenewed []OnSubscriptionRenewed
	onSubscriptionExpired []OnSubscriptionExpired
	onMembershipUpgraded  []OnMembershipUpgraded
	onOperationFailed     []OnOperationFailed
	onQuotaExceeded       []OnQuotaExceeded
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: DefaultTimeout,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its hooks.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnDeposit); ok {
		r.onDeposit = append(r.onDeposit, v)
	}
	if v, ok := p.(OnEscrowLocked); ok {
		r.onEscrowLocked = append(r.onEscrowLocked, v)
	}
	if v, ok := p.(OnEscrowReleased); ok {
		r.onEscrowReleased = append(r.onEscrowReleased, v)
	}
	if v, ok := p.(OnSubscriptionCreated); ok {
		r.onSubscriptionCreated = append(r.onSubscriptionCreated, v)
	}
	if v, ok := p.(OnSubscriptionRenewed); ok {
		r.onSubscriptionRenewed = append(r.onSubscriptionRenewed, v)
	}
	if v, ok := p.(OnSubscriptionExpired); ok {
		r.onSubscriptionExpired = append(r.onSubscriptionExpired, v)
	}
	if v, ok := p.(OnMembershipUpgraded); ok {
		r.onMembershipUpgraded = append(r.onMembershipUpgraded, v)
	}
	if v, ok := p.(OnOperationFailed); ok {
		r.onOperationFailed = append(r.onOperationFailed, v)
	}
	if v, ok := p.(OnQuotaExceeded); ok {
		r.onQuotaExceeded = append(r.onQuotaExceeded, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedHooks(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnDeposit", reflect.TypeFor[OnDeposit]()},
	{"OnEscrowLocked", reflect.TypeFor[OnEscrowLocked]()},
	{"OnEscrowReleased", reflect.TypeFor[OnEscrowReleased]()},
	{"OnSubscriptionCreated", reflect.TypeFor[OnSubscriptionCreated]()},
	{"OnSubscriptionRenewed", reflect.TypeFor[OnSubscriptionRenewed]()},
	{"OnSubscriptionExpired", reflect.TypeFor[OnSubscriptionExpired]()},
	{"OnMembershipUpgraded", reflect.TypeFor[OnMembershipUpgraded]()},
	{"OnOperationFailed", reflect.TypeFor[OnOperationFailed]()},
	{"OnQuotaExceeded", reflect.TypeFor[OnQuotaExceeded]()},
}

// implementedHooks lists the hook interfaces p implements.
func implementedHooks(p Plugin) []string {
	v := reflect.TypeOf(p)
	var names []string
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine any) {
	emit(ctx, r, "OnInit", snapshot(r, &r.onInit), func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, "OnShutdown", snapshot(r, &r.onShutdown), func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitDeposit emits a deposit event.
func (r *Registry) EmitDeposit(ctx context.Context, deposit *wallet.Transaction) {
	emit(ctx, r, "OnDeposit", snapshot(r, &r.onDeposit), func(p OnDeposit) error {
		return p.OnDeposit(ctx, deposit)
	})
}

// EmitEscrowLocked emits an escrow locked event.
func (r *Registry) EmitEscrowLocked(ctx context.Context, c *legalcase.Case, hold *wallet.Transaction) {
	emit(ctx, r, "OnEscrowLocked", snapshot(r, &r.onEscrowLocked), func(p OnEscrowLocked) error {
		return p.OnEscrowLocked(ctx, c, hold)
	})
}

// EmitEscrowReleased emits an escrow released event.
func (r *Registry) EmitEscrowReleased(ctx context.Context, c *legalcase.Case, s *wallet.Settlement) {
	emit(ctx, r, "OnEscrowReleased", snapshot(r, &r.onEscrowReleased), func(p OnEscrowReleased) error {
		return p.OnEscrowReleased(ctx, c, s)
	})
}

// EmitSubscriptionCreated emits a subscription created event.
func (r *Registry) EmitSubscriptionCreated(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionCreated", snapshot(r, &r.onSubscriptionCreated), func(p OnSubscriptionCreated) error {
		return p.OnSubscriptionCreated(ctx, sub)
	})
}

// EmitSubscriptionRenewed emits a subscription renewed event.
func (r *Registry) EmitSubscriptionRenewed(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionRenewed", snapshot(r, &r.onSubscriptionRenewed), func(p OnSubscriptionRenewed) error {
		return p.OnSubscriptionRenewed(ctx, sub)
	})
}

// EmitSubscriptionExpired emits a subscription expired event.
func (r *Registry) EmitSubscriptionExpired(ctx context.Context, sub *subscription.Subscription) {
	emit(ctx, r, "OnSubscriptionExpired", snapshot(r, &r.onSubscriptionExpired), func(p OnSubscriptionExpired) error {
		return p.OnSubscriptionExpired(ctx, sub)
	})
}

// EmitMembershipUpgraded emits a membership upgraded event.
func (r *Registry) EmitMembershipUpgraded(ctx context.Context, u *user.User, payment *wallet.Transaction) {
	emit(ctx, r, "OnMembershipUpgraded", snapshot(r, &r.onMembershipUpgraded), func(p OnMembershipUpgraded) error {
		return p.OnMembershipUpgraded(ctx, u, payment)
	})
}

// EmitOperationFailed emits an operation failed event.
func (r *Registry) EmitOperationFailed(ctx context.Context, op string, err error) {
	emit(ctx, r, "OnOperationFailed", snapshot(r, &r.onOperationFailed), func(p OnOperationFailed) error {
		return p.OnOperationFailed(ctx, op, err)
	})
}

// EmitQuotaExceeded emits a quota exceeded event.
func (r *Registry) EmitQuotaExceeded(ctx context.Context, identity string, used, limit int64) {
	emit(ctx, r, "OnQuotaExceeded", snapshot(r, &r.onQuotaExceeded), func(p OnQuotaExceeded) error {
		return p.OnQuotaExceeded(ctx, identity, used, limit)
	})
}

func snapshot[T any](r *Registry, list *[]T) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return *list
}

func emit[T Plugin](ctx context.Context, r *Registry, hook string, plugins []T, call func(T) error) {
	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block a money operation's caller.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
