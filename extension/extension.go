// Package extension provides the Forge extension adapter for the escrow
// engine.
//
// It implements the forge.Extension interface to integrate the engine, the
// chat meter, the assistant and the HTTP API into a Forge application with
// DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.escrow" or "escrow" keys.
package extension

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/api"
	"github.com/xraph/escrow/assistant"
	"github.com/xraph/escrow/meter"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/subscription"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "escrow"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Wallet, escrow and membership engine for the legal marketplace"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the escrow engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *escrow.Engine
	store      store.Store
	escrowOpts []escrow.Option

	counter   meter.Counter
	templates *assistant.Templates
	meter     *meter.Meter
	assistant *assistant.Assistant
	server    *api.Server
}

// New creates a new escrow Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying engine.
// This is nil until Register is called.
func (e *Extension) Engine() *escrow.Engine { return e.engine }

// Assistant returns the chat assistant. Nil until Register is called.
func (e *Extension) Assistant() *assistant.Assistant { return e.assistant }

// HTTPHandler returns the API mounted under the configured base path, or
// nil when routes are disabled.
func (e *Extension) HTTPHandler() http.Handler {
	if e.server == nil {
		return nil
	}
	base := strings.TrimRight(e.config.BasePath, "/")
	if base == "" {
		return e.server.Handler()
	}
	return http.StripPrefix(base, e.server.Handler())
}

// Register implements [forge.Extension]. It loads configuration, builds
// the engine, meter, assistant and API, and registers them in the DI
// container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}
	if err := e.build(); err != nil {
		return err
	}

	c := fapp.Container()
	if err := vessel.Provide(c, func() (*escrow.Engine, error) { return e.engine, nil }); err != nil {
		return err
	}
	if err := vessel.Provide(c, func() (*meter.Meter, error) { return e.meter, nil }); err != nil {
		return err
	}
	if err := vessel.Provide(c, func() (*assistant.Assistant, error) { return e.assistant, nil }); err != nil {
		return err
	}
	if e.server != nil {
		return vessel.Provide(c, func() (*api.Server, error) { return e.server, nil })
	}
	return nil
}

// build wires the components from the resolved config.
func (e *Extension) build() error {
	if !e.config.DisableRoutes && e.config.JWTSecret == "" {
		return errors.New("escrow: jwt_secret is required unless routes are disabled")
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}
	e.engine = escrow.New(e.store, e.buildEscrowOpts()...)

	if e.counter == nil {
		e.counter = meter.NewMemoryCounter(nil)
	}
	e.meter = meter.New(e.counter, meter.WithLimit(e.config.FreeDailyLimit))

	chatOpts := []assistant.Option{assistant.WithPlugins(e.engine.Plugins())}
	if e.templates != nil {
		chatOpts = append(chatOpts, assistant.WithTemplates(e.templates))
	}
	e.assistant = assistant.New(e.meter, e.engine, chatOpts...)

	if !e.config.DisableRoutes {
		auth := api.NewAuthenticator([]byte(e.config.JWTSecret), e.config.JWTIssuer)
		e.server = api.New(e.engine, e.assistant, auth)
	}
	return nil
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("escrow: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("escrow: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildEscrowOpts constructs escrow.Option values from the resolved config.
// Pass-through options come last and win.
func (e *Extension) buildEscrowOpts() []escrow.Option {
	opts := make([]escrow.Option, 0, len(e.escrowOpts)+4)

	opts = append(opts,
		escrow.WithMigrate(!e.config.DisableMigrate),
		escrow.WithPlatformFeePercent(e.config.PlatformFeePercent),
		escrow.WithExpiryInterval(e.config.ExpiryInterval),
	)
	if e.config.ProDurationDays > 0 {
		plan := subscription.DefaultProPlan()
		plan.Duration = time.Duration(e.config.ProDurationDays) * 24 * time.Hour
		opts = append(opts, escrow.WithProPlan(plan))
	}

	return append(opts, e.escrowOpts...)
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("escrow: configuration is required but not found in config files; " +
				"ensure 'extensions.escrow' or 'escrow' key exists in your config")
		}
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("escrow: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("platform_fee_percent", e.config.PlatformFeePercent),
		forge.F("pro_duration_days", e.config.ProDurationDays),
		forge.F("free_daily_limit", e.config.FreeDailyLimit),
		forge.F("expiry_interval", e.config.ExpiryInterval),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range []string{"extensions.escrow", "escrow"} {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("escrow: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("escrow: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.BasePath == "" {
		cfg.BasePath = defaults.BasePath
	}
	if cfg.PlatformFeePercent == 0 {
		cfg.PlatformFeePercent = defaults.PlatformFeePercent
	}
	if cfg.ProDurationDays == 0 {
		cfg.ProDurationDays = defaults.ProDurationDays
	}
	if cfg.FreeDailyLimit == 0 {
		cfg.FreeDailyLimit = defaults.FreeDailyLimit
	}
	if cfg.ExpiryInterval == 0 {
		cfg.ExpiryInterval = defaults.ExpiryInterval
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML wins; programmatic values fill gaps and bool flags override when true.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	if yamlConfig.BasePath == "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}
	if yamlConfig.JWTSecret == "" {
		yamlConfig.JWTSecret = programmaticConfig.JWTSecret
	}
	if yamlConfig.JWTIssuer == "" {
		yamlConfig.JWTIssuer = programmaticConfig.JWTIssuer
	}
	if yamlConfig.PlatformFeePercent == 0 {
		yamlConfig.PlatformFeePercent = programmaticConfig.PlatformFeePercent
	}
	if yamlConfig.ProDurationDays == 0 {
		yamlConfig.ProDurationDays = programmaticConfig.ProDurationDays
	}
	if yamlConfig.FreeDailyLimit == 0 {
		yamlConfig.FreeDailyLimit = programmaticConfig.FreeDailyLimit
	}
	if yamlConfig.ExpiryInterval == 0 {
		yamlConfig.ExpiryInterval = programmaticConfig.ExpiryInterval
	}

	return mergeWithDefaults(yamlConfig)
}
