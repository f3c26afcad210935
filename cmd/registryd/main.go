package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charleschow/game-registry/internal/adapters/inbound/registry_http"
	"github.com/charleschow/game-registry/internal/adapters/kvstore"
	"github.com/charleschow/game-registry/internal/adapters/outbound/status_http"
	"github.com/charleschow/game-registry/internal/config"
	"github.com/charleschow/game-registry/internal/core/reconcile"
	"github.com/charleschow/game-registry/internal/core/registry"
	"github.com/charleschow/game-registry/internal/core/status"
	"github.com/charleschow/game-registry/internal/events"
	"github.com/charleschow/game-registry/internal/fanout"
	"github.com/charleschow/game-registry/internal/telemetry"
)

func main() {
	cfg := config.Load()
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting registry")

	tuning, err := config.LoadTuning(cfg.TuningPath)
	if err != nil {
		telemetry.Errorf("Failed to load tuning: %v", err)
		os.Exit(1)
	}

	// ── Persistence ─────────────────────────────────────────────
	slots, err := kvstore.OpenSQLiteStore(cfg.RegistryDBPath, cfg.WatchInterval)
	if err != nil {
		telemetry.Errorf("Slot store: %v", err)
		os.Exit(1)
	}
	reg := registry.New(slots.Slot(cfg.RegistrySlot), registry.WithName(cfg.RegistrySlot))

	// ── Status provider + engine ────────────────────────────────
	provider := status_http.NewClient(cfg.StatusBaseURL, status_http.Options{
		Timeout:   tuning.Provider.Timeout(),
		RateLimit: tuning.Provider.RatePerSec,
		Burst:     tuning.Provider.Burst,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()
	opts := []reconcile.Option{reconcile.WithBus(bus), reconcile.WithName("registryd")}
	if !cfg.FetchStatuses {
		opts = append(opts, reconcile.WithoutStatuses())
	}
	engine := reconcile.NewEngine(ctx, reg, status.NewCache(), provider, opts...)

	// ── HTTP + fanout ───────────────────────────────────────────
	fan := fanout.NewServer(bus, engine.Entries)
	mux := http.NewServeMux()
	registry_http.NewHandler(engine).RegisterRoutes(mux)
	fan.RegisterRoutes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Errorf("HTTP server: %v", err)
			os.Exit(1)
		}
	}()
	telemetry.Infof("Listening on %q  authority=%s  statuses=%t", addr, cfg.StatusBaseURL, cfg.FetchStatuses)

	// ── Shutdown ────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	telemetry.Infof("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	fan.Close()

	engine.Close()
	reg.Close()
	if err := slots.Close(); err != nil {
		telemetry.Warnf("Slot store close: %v", err)
	}

	telemetry.Infof("Shutdown complete  reconciles=%d  fetches=%d  cancelled=%d  failures=%d  prunes=%d  cache_hits=%d",
		telemetry.Metrics.Reconciles.Value(),
		telemetry.Metrics.FetchesIssued.Value(),
		telemetry.Metrics.FetchesCancelled.Value(),
		telemetry.Metrics.FetchFailures.Value(),
		telemetry.Metrics.Prunes.Value(),
		telemetry.Metrics.CacheHits.Value(),
	)
}
