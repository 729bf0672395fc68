package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/linabrihoum/microcap-trader/internal/cache"
	"github.com/linabrihoum/microcap-trader/internal/config"
	"github.com/linabrihoum/microcap-trader/internal/fetcher"
	"github.com/linabrihoum/microcap-trader/internal/handlers"
	"github.com/linabrihoum/microcap-trader/internal/manager"
	"github.com/linabrihoum/microcap-trader/internal/metrics"
	"github.com/linabrihoum/microcap-trader/internal/middleware"
	"github.com/linabrihoum/microcap-trader/internal/policy"
	"github.com/linabrihoum/microcap-trader/internal/refresh"
	"github.com/linabrihoum/microcap-trader/pkg/logger"
)

const (
	shutdownTimeout  = 30 * time.Second
	simulatedLatency = 150 * time.Millisecond
)

// App holds all application dependencies so nothing lives in globals and
// lifecycle (start/stop) stays in one place.
type App struct {
	config  *config.Config
	logger  *zap.Logger
	store   *cache.Store
	manager *manager.Manager
	server  *http.Server

	initOnce sync.Once
	initErr  error

	shutdownOnce sync.Once
}

// NewApp creates an empty application shell; Initialize does the wiring.
func NewApp() *App {
	return &App{}
}

// Initialize sets up all components. All or nothing: any failure aborts
// startup with an error.
func (a *App) Initialize() error {
	a.initOnce.Do(func() {
		a.initErr = a.doInitialize()
	})
	return a.initErr
}

func (a *App) doInitialize() error {
	// Config first so the logger can be built at the configured level.
	configPath := os.Getenv("TRADER_CONFIG_PATH")
	if configPath == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			configPath = "config.yaml"
		}
	}
	if err := config.Load(configPath); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.config = config.Get()

	if err := logger.Init(a.config.Log.Level, a.config.Log.Development); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = logger.Get()
	a.logger.Info("configuration loaded",
		zap.String("server_host", a.config.Server.Host),
		zap.Int("server_port", a.config.Server.Port),
		zap.Int("cache_max_size", a.config.Cache.MaxSize),
	)

	// The policy table is static; a broken table is a programming error
	// and must fail startup.
	policies := policy.Default()

	m := metrics.New("microcap_trader")

	a.store = cache.NewStore(cache.Options{
		MaxSize:               a.config.Cache.MaxSize,
		PriceChangeThreshold:  a.config.Cache.PriceChangeThreshold,
		VolumeChangeThreshold: a.config.Cache.VolumeChangeThreshold,
	}, policies, logger.Named("cache"))
	a.store.SetRecorder(m)

	quoteFetcher := fetcher.NewSimulated(simulatedLatency, logger.Named("fetcher"))

	scheduler := refresh.NewScheduler(a.store, quoteFetcher, policies, refresh.Options{
		MaxQueueSize: a.config.Refresh.MaxQueueSize,
		MaxRetries:   a.config.Refresh.MaxRetries,
		RetryDelay:   a.config.Refresh.RetryDelayDuration(),
		PollInterval: a.config.Refresh.PollIntervalDuration(),
	}, logger.Named("refresh"))
	scheduler.SetRecorder(m)

	// NewManager starts the background refresh worker.
	a.manager = manager.NewManager(a.store, scheduler, quoteFetcher, policies, logger.Named("manager"))

	a.initializeServer()

	a.logger.Info("application initialized")
	return nil
}

// initializeServer sets up the monitoring HTTP surface
func (a *App) initializeServer() {
	quoteHandler := handlers.NewQuoteHandler(a.manager, a.logger)

	r := chi.NewRouter()

	// Health stays outside the middleware chain so it answers fast.
	r.Get("/health", a.healthCheckHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Logging(a.logger))
		r.Use(middleware.Recovery(a.logger))

		r.Get("/stats", quoteHandler.GetStats)
		r.Handle("/metrics", promhttp.Handler())

		r.Route("/quotes", func(r chi.Router) {
			r.Get("/{symbol}", quoteHandler.GetQuote)
			r.Delete("/{symbol}", quoteHandler.InvalidateQuote)
		})
	})

	addr := fmt.Sprintf("%s:%d", a.config.Server.Host, a.config.Server.Port)
	a.server = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// healthCheckHandler answers liveness probes
func (a *App) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	stats := a.manager.Stats()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","worker_running":%t,"timestamp":%d}`,
		stats.Refresh.WorkerRunning, time.Now().Unix())
}

// Start begins serving HTTP. The server runs in its own goroutine so main
// can wait on OS signals.
func (a *App) Start() error {
	if err := a.Initialize(); err != nil {
		return err
	}

	go func() {
		a.logger.Info("starting HTTP server",
			zap.String("addr", a.server.Addr),
		)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown stops the server and the background refresh worker, waiting for
// in-flight requests to finish.
func (a *App) Shutdown() error {
	var shutdownErr error

	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down...")

		if a.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := a.server.Shutdown(ctx); err != nil {
				a.logger.Error("error shutting down HTTP server", zap.Error(err))
				shutdownErr = err
			}
			cancel()
		}

		if a.manager != nil {
			a.manager.Shutdown()
		}

		if a.logger != nil {
			_ = a.logger.Sync()
		}
	})

	return shutdownErr
}

func main() {
	app := NewApp()

	if err := app.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := app.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
}
