// Command escrowd serves the escrow engine and the chat assistant over HTTP.
//
//	escrowd -config /etc/escrowd.yaml
//
// Settings not in the file come from .env and ESCROW_* variables; see
// internal/config.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/escrow"
	"github.com/xraph/escrow/api"
	"github.com/xraph/escrow/assistant"
	audithook "github.com/xraph/escrow/audit_hook"
	"github.com/xraph/escrow/internal/config"
	"github.com/xraph/escrow/meter"
	meterredis "github.com/xraph/escrow/meter/redis"
	"github.com/xraph/escrow/observability"
	"github.com/xraph/escrow/store"
	"github.com/xraph/escrow/store/memory"
	"github.com/xraph/escrow/store/mongo"
	"github.com/xraph/escrow/store/postgres"
	"github.com/xraph/escrow/store/sqlite"
	"github.com/xraph/escrow/subscription"
)

func main() {
	configPath := flag.String("config", os.Getenv("ESCROW_CONFIG"), "path to the YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("escrowd exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	level, _ := cfg.LogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}

	counter, closeCounter, err := openCounter(ctx, cfg.Meter)
	if err != nil {
		_ = st.Close()
		return err
	}
	defer closeCounter()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	plan := subscription.DefaultProPlan()
	plan.Duration = time.Duration(cfg.Escrow.ProDurationDays) * 24 * time.Hour

	opts := []escrow.Option{
		escrow.WithLogger(logger),
		escrow.WithLocation(loc),
		escrow.WithPlatformFeePercent(cfg.Escrow.PlatformFeePercent),
		escrow.WithProPlan(plan),
		escrow.WithExpiryInterval(cfg.Escrow.ExpiryInterval),
		escrow.WithMigrate(cfg.Store.Migrate),
		escrow.WithPlugin(observability.NewMetricsExtension(observability.NewPrometheusFactory(reg))),
	}
	if cfg.Escrow.Audit {
		opts = append(opts, escrow.WithPlugin(audithook.New(auditLog(logger), audithook.WithLogger(logger))))
	}
	engine := escrow.New(st, opts...)

	chatOpts := []assistant.Option{
		assistant.WithLogger(logger),
		assistant.WithPlugins(engine.Plugins()),
	}
	if cfg.Escrow.TemplatesFile != "" {
		tpl, err := assistant.LoadTemplates(cfg.Escrow.TemplatesFile)
		if err != nil {
			_ = st.Close()
			return err
		}
		chatOpts = append(chatOpts, assistant.WithTemplates(tpl))
	}
	m := meter.New(counter, meter.WithLimit(cfg.Meter.DailyLimit), meter.WithLocation(loc))
	chat := assistant.New(m, engine, chatOpts...)

	if err := engine.Start(ctx); err != nil {
		_ = st.Close()
		return err
	}
	defer func() {
		if err := engine.Stop(); err != nil {
			logger.Error("engine stop", "error", err)
		}
	}()

	auth := api.NewAuthenticator([]byte(cfg.JWT.Secret), cfg.JWT.Issuer)
	srv := api.New(engine, chat, auth, api.WithLogger(logger), api.WithTimeout(cfg.Server.RequestTimeout))

	root := chi.NewRouter()
	if cfg.Server.MetricsPath != "" {
		root.Handle(cfg.Server.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	root.Mount("/", srv.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening",
			"addr", cfg.Server.Addr,
			"store", cfg.Store.Driver,
			"meter", cfg.Meter.Driver,
		)
		errc <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.DSN)
	case "sqlite":
		return sqlite.Open(cfg.DSN)
	case "mongo":
		return mongo.Open(ctx, cfg.DSN, cfg.Database)
	default:
		return memory.New(), nil
	}
}

func openCounter(ctx context.Context, cfg config.MeterConfig) (meter.Counter, func(), error) {
	if cfg.Driver != "redis" {
		return meter.NewMemoryCounter(nil), func() {}, nil
	}
	c, err := meterredis.Open(ctx, cfg.RedisAddrs, cfg.RedisPassword)
	if err != nil {
		return nil, nil, err
	}
	return c, func() { _ = c.Close() }, nil
}

// auditLog writes audit events to the process log.
func auditLog(logger *slog.Logger) audithook.RecorderFunc {
	return func(ctx context.Context, ev *audithook.AuditEvent) error {
		logger.LogAttrs(ctx, slog.LevelInfo, "audit",
			slog.String("action", ev.Action),
			slog.String("resource", ev.Resource),
			slog.String("resource_id", ev.ResourceID),
			slog.String("outcome", ev.Outcome),
			slog.String("severity", ev.Severity),
			slog.Any("metadata", ev.Metadata),
		)
		return nil
	}
}
