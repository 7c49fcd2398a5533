// Command opspilot runs the conversational task orchestration pipeline.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ophttp "github.com/Strob0t/OpsPilot/internal/adapter/http"
	"github.com/Strob0t/OpsPilot/internal/adapter/otel"
	"github.com/Strob0t/OpsPilot/internal/adapter/ws"
	"github.com/Strob0t/OpsPilot/internal/config"
	"github.com/Strob0t/OpsPilot/internal/logger"
	"github.com/Strob0t/OpsPilot/internal/middleware"
	"github.com/Strob0t/OpsPilot/internal/service"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "migrate:", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}
	cfg, path, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", path,
		"port", cfg.Server.Port,
		"transport", cfg.Channel.Transport,
		"snapshots", cfg.Snapshots.Backend,
		"validation_engine", cfg.Validation.Engine,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Telemetry ---

	shutdownOTEL, err := otel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	infra := newInfra(cfg)
	defer infra.close()

	ch, err := infra.channel(ctx)
	if err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	store, err := infra.snapshotStore(ctx)
	if err != nil {
		return fmt.Errorf("snapshots: %w", err)
	}

	// --- Services ---

	router := service.NewRouter(cfg.Router.DedupWindow, cfg.Router.AbandonedWindow, metrics)
	detach := router.Attach(ch)
	defer detach()

	decisions, err := service.NewDecisionClient(router, ch, cfg.Decision)
	if err != nil {
		return fmt.Errorf("decision client: %w", err)
	}
	engine, err := infra.preflightEngine(router, ch)
	if err != nil {
		return fmt.Errorf("preflight engine: %w", err)
	}
	validation := service.NewValidationMonitor(router, engine, cfg.Validation.StallTimeout, metrics)
	executions := service.NewExecutionMonitor(router, ch, cfg.Execution, metrics)
	snapshots := service.NewSnapshotService(store, cfg.Snapshots.TTL)

	hub := ws.NewHub(0)
	defer hub.Close()

	pipelines := service.NewPipelineService(router, decisions, validation, executions, snapshots, hub, cfg.Pipeline, metrics)

	lookup, err := infra.catalog()
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if lookup != nil {
		pipelines.SetCatalog(lookup, cfg.Catalog.Limit)
	}

	policies, err := service.LoadPolicyService(cfg.Policy)
	if err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	pipelines.SetPolicy(policies)
	slog.Info("policy profiles available", "profiles", policies.ListProfiles(), "default", cfg.Policy.DefaultProfile)

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	handlers := &ophttp.Handlers{
		Pipelines: pipelines,
		WS:        http.HandlerFunc(hub.HandleWS),
		Checks:    infra.checks,
		BodyLimit: cfg.Server.BodyLimit,
		Version:   version,
	}
	r := ophttp.NewRouter(handlers, ophttp.RouterOptions{
		ServiceName: cfg.OTEL.ServiceName,
		CORSOrigin:  cfg.Server.CORSOrigin,
		RateLimiter: limiter,
	})

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if err := pipelines.Close(shutdownCtx); err != nil {
		slog.Warn("pipeline shutdown", "error", err)
	}
	return nil
}
