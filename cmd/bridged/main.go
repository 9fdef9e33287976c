package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kda-wallet/bridge/internal/chainweb"
	"github.com/kda-wallet/bridge/internal/channels"
	"github.com/kda-wallet/bridge/internal/config"
	"github.com/kda-wallet/bridge/internal/crypto"
	"github.com/kda-wallet/bridge/internal/dispatch"
	"github.com/kda-wallet/bridge/internal/engine"
	"github.com/kda-wallet/bridge/internal/logger"
	"github.com/kda-wallet/bridge/internal/metrics"
	"github.com/kda-wallet/bridge/internal/pact"
	"github.com/kda-wallet/bridge/internal/popup"
	"github.com/kda-wallet/bridge/internal/session"
	"github.com/kda-wallet/bridge/internal/watch"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx := context.Background()

	// Initialize the session store backend
	var store session.Store
	switch cfg.StoreBackend {
	case "postgres":
		pgStore, err := session.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()
		store = pgStore
		slog.Info("connected to database")
	default:
		store = session.NewMemoryStore()
		slog.Info("using in-memory session store")
	}

	sess := session.NewService(store, crypto.DecryptKey)

	// Clear transient browsing-session state left over from a previous
	// run so no stale grant or staged popup payload survives a restart.
	if err := sess.ResetTransient(ctx); err != nil {
		slog.Error("failed to reset transient session state", "error", err)
		os.Exit(1)
	}

	// Metrics registry
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Channel registry: every registered tab counts as open since the
	// bridge has no browser-side tab reporter.
	registry := channels.NewRegistry(nil)
	registry.OnDeliveryError = func(tabID int, err error) {
		m.DeliveryFailuresTotal.Inc()
	}
	metrics.RegisterChannelGauge(reg, registry.Len)

	// Extension surfaces and popup presentation
	hub := channels.NewSurfaceHub()
	windows := popup.NewSurfaceWindowManager(hub, popup.Bounds{
		Width:  cfg.WindowWidth,
		Height: cfg.WindowHeight,
	})
	presenter := popup.NewPresenter(sess, windows)

	// Authorization engine and dispatch
	chain := chainweb.NewClient(cfg.ChainwebTimeout)
	signer := pact.NewSigner()
	eng := engine.New(sess, chain, signer, presenter, registry)

	limiter := dispatch.NewDomainLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.RateLimitEnabled)
	dispatcher := dispatch.New(eng, registry, limiter, m)

	// Selected-wallet change propagation
	watcher := watch.New(sess, registry, hub, cfg.WalletSettleDelay)
	watcher.Start()

	mux := http.NewServeMux()
	mux.Handle("/channel", channels.NewServer(registry, dispatcher))
	mux.Handle("/surface", hub)
	mux.Handle("/message", dispatcher.RelayHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("bridge listening", "addr", cfg.ListenAddr)
		serverErrors <- server.ListenAndServe()
	}()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Wait for either server error or shutdown signal
	select {
	case err := <-serverErrors:
		slog.Error("server error", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		slog.Info("received shutdown signal", "signal", sig.String())

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			slog.Error("error during shutdown", "error", err)
			slog.Warn("forcing shutdown")
		}

		slog.Info("server stopped")
	}
}
