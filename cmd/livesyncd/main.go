// Command livesyncd serves dashboard panels over websockets, keeping them
// in sync with a polled REST backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/krisalay/livesync"
	"github.com/krisalay/livesync/engine"
	"github.com/krisalay/livesync/expiration"
	"github.com/krisalay/livesync/fetch"
	"github.com/krisalay/livesync/internal/config"
	"github.com/krisalay/livesync/internal/gateway"
	"github.com/krisalay/livesync/internal/logging"
	"github.com/krisalay/livesync/internal/mockapi"
	"github.com/krisalay/livesync/internal/supervisor"
	"github.com/krisalay/livesync/metrics"
	"github.com/krisalay/livesync/refresh"
	"github.com/krisalay/livesync/scheduler"
	"github.com/krisalay/livesync/writepolicy"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "livesyncd: %v\n", err)
		os.Exit(1)
	}
	logging.Init(cfg.Logging.Logger())

	if err := run(cfg); err != nil {
		logging.Fatal().Err(err).Msg("livesyncd failed")
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.New(reg)

	router := chi.NewRouter()
	router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	baseURL := cfg.Backend.BaseURL
	if cfg.MockAPI.Enabled {
		opts := mockapi.Options{
			Latency:     cfg.MockAPI.Latency,
			FailureRate: cfg.MockAPI.FailureRate,
			RateLimit:   cfg.MockAPI.RateLimit,
			Logger:      logging.Component("mockapi"),
		}
		if seed := uint64(cfg.MockAPI.Seed); seed != 0 {
			opts.Rand = rand.New(rand.NewPCG(seed, seed))
		}
		router.Mount("/api", mockapi.New(opts).Router())
		if baseURL == "" {
			baseURL = "http://" + loopback(cfg.Server.Addr)
		}
	}
	if baseURL == "" {
		return errors.New("backend.base_url is required when the mock API is disabled")
	}

	client := fetch.New(fetch.Config{
		BaseURL:   baseURL,
		Timeout:   cfg.Backend.Timeout,
		Paths:     cfg.Backend.Paths,
		RateLimit: cfg.Backend.RateLimit,
		Burst:     cfg.Backend.Burst,
		Breaker: fetch.BreakerConfig{
			Enabled:     cfg.Backend.Breaker.Enabled,
			Failures:    cfg.Backend.Breaker.Failures,
			OpenTimeout: cfg.Backend.Breaker.OpenTimeout,
		},
		Logger: logging.Component("fetch"),
	})

	var hook refresh.Hook
	if cfg.Cache.BackgroundRefresh {
		hook = refresh.NewBackground(cfg.Cache.RefreshTimeout, logging.Component("refresh"))
	}
	var policy writepolicy.WritePolicy
	if cfg.Cache.WriteMode == "back" {
		policy = writepolicy.NewWriteBackPolicy(client, cfg.Cache.WriteBuffer, logging.Component("writepolicy"))
	}

	e := engine.NewEngine(
		&expiration.StaleAfterFetch{Default: cfg.Cache.StaleAfter, Overrides: cfg.Cache.StaleOverrides},
		hook,
		client,
		policy,
		collector,
	)
	store := livesync.New(e,
		livesync.WithShards(cfg.Cache.Shards),
		livesync.WithLogger(logging.Component("store")),
		livesync.WithSchedulerOptions(
			scheduler.WithJitter(cfg.Scheduler.Jitter),
			scheduler.WithLogger(logging.Component("scheduler")),
		),
	)
	defer store.Close()

	for _, g := range cfg.Groups {
		if _, err := store.WatchGroup(g.Name, g.Keys, g.Interval); err != nil {
			return fmt.Errorf("group %s: %w", g.Name, err)
		}
	}

	presets := make(map[string][]livesync.Watch, len(cfg.Panels))
	for _, p := range cfg.Panels {
		presets[p.ID] = p.Watches()
	}
	gw := gateway.New(store, gateway.Options{
		Presets:        presets,
		Hold:           cfg.Freshness.Hold,
		Keys:           cfg.SubscribableKeys(),
		MinInterval:    cfg.Gateway.MinInterval,
		MaxInterval:    cfg.Gateway.MaxInterval,
		AllowedOrigins: cfg.Server.CORSOrigins,
		Logger:         logging.Component("gateway"),
	})
	gw.Routes(router)

	if cfg.Metrics.Enabled {
		router.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}
	router.Get("/healthz", healthz(store, gw))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logging.Component("supervisor"), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddSyncService(supervisor.NewRunnerService("poll-scheduler", store.Scheduler()))
	tree.AddAPIService(supervisor.NewHTTPService(server, cfg.Server.ShutdownTimeout))
	tree.AddAPIService(supervisor.NewCloserService("panel-gateway", gw))

	logging.Info().
		Str("addr", cfg.Server.Addr).
		Str("backend", baseURL).
		Bool("mock_api", cfg.MockAPI.Enabled).
		Int("panels", len(cfg.Panels)).
		Int("groups", len(cfg.Groups)).
		Msg("livesyncd starting")

	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logging.Info().Msg("livesyncd stopped")
	return nil
}

func healthz(store *livesync.Store, gw *gateway.Gateway) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		body, _ := json.Marshal(map[string]any{
			"status":      "ok",
			"keys":        len(store.Keys()),
			"tasks":       len(store.Scheduler().Stats()),
			"connections": gw.Connections(),
			"polling":     store.Scheduler().IsRunning(),
		})
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}
}

// loopback turns a listen address into one the process can dial itself on.
func loopback(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "127.0.0.1" + addr
	}
	return strings.Replace(addr, "0.0.0.0", "127.0.0.1", 1)
}
