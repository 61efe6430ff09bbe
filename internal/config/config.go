// Package config loads the daemon configuration.
//
// Precedence, lowest first:
//  1. built-in defaults
//  2. optional YAML file
//  3. environment variables LIVESYNC_<SECTION>__<FIELD>, e.g.
//     LIVESYNC_BACKEND__BASE_URL or LIVESYNC_CACHE__STALE_AFTER=45s
package config

import (
	"sort"
	"time"

	"github.com/krisalay/livesync"
	"github.com/krisalay/livesync/internal/logging"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Backend   BackendConfig   `koanf:"backend"`
	MockAPI   MockAPIConfig   `koanf:"mock_api"`
	Cache     CacheConfig     `koanf:"cache"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Freshness FreshnessConfig `koanf:"freshness"`
	Gateway   GatewayConfig   `koanf:"gateway"`
	Logging   LoggingConfig   `koanf:"logging"`
	Metrics   MetricsConfig   `koanf:"metrics"`

	// Panels and Groups fall back to DefaultPanels / DefaultGroups when
	// neither the file nor the environment sets any.
	Panels []PanelConfig `koanf:"panels" validate:"dive"`
	Groups []GroupConfig `koanf:"groups" validate:"dive"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// BackendConfig points the fetch client at the data source. An empty
// BaseURL means the in-process mock API.
type BackendConfig struct {
	BaseURL   string            `koanf:"base_url" validate:"omitempty,url"`
	Timeout   time.Duration     `koanf:"timeout" validate:"gt=0"`
	RateLimit float64           `koanf:"rate_limit" validate:"gte=0"`
	Burst     int               `koanf:"burst" validate:"gte=0"`
	Paths     map[string]string `koanf:"paths"`
	Breaker   BreakerConfig     `koanf:"breaker"`
}

type BreakerConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Failures    uint32        `koanf:"failures" validate:"gte=1"`
	OpenTimeout time.Duration `koanf:"open_timeout" validate:"gt=0"`
}

type MockAPIConfig struct {
	Enabled bool `koanf:"enabled"`

	// Latency is added to every response.
	Latency time.Duration `koanf:"latency" validate:"gte=0"`

	// FailureRate is the share of GET requests answered with 503.
	FailureRate float64 `koanf:"failure_rate" validate:"gte=0,lte=1"`

	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int `koanf:"rate_limit" validate:"gte=0"`

	Seed int64 `koanf:"seed"`
}

type CacheConfig struct {
	Shards int `koanf:"shards" validate:"gte=1,lte=1024"`

	// StaleAfter is how long fetched data counts as fresh. Zero disables
	// time-based staleness.
	StaleAfter     time.Duration            `koanf:"stale_after" validate:"gte=0"`
	StaleOverrides map[string]time.Duration `koanf:"stale_overrides"`

	BackgroundRefresh bool          `koanf:"background_refresh"`
	RefreshTimeout    time.Duration `koanf:"refresh_timeout" validate:"gte=0"`

	WriteMode   string `koanf:"write_mode" validate:"oneof=through back"`
	WriteBuffer int    `koanf:"write_buffer" validate:"gte=1"`
}

type SchedulerConfig struct {
	Jitter float64 `koanf:"jitter" validate:"gte=0,lte=1"`
}

type FreshnessConfig struct {
	Hold time.Duration `koanf:"hold" validate:"gt=0"`
}

// GatewayConfig bounds what websocket clients may subscribe to.
type GatewayConfig struct {
	MinInterval time.Duration `koanf:"min_interval" validate:"gt=0"`
	MaxInterval time.Duration `koanf:"max_interval" validate:"gtefield=MinInterval"`

	// Keys are subscribable on top of the panel, group and backend path keys.
	Keys []string `koanf:"keys" validate:"dive,required"`
}

type LoggingConfig struct {
	Level     string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled"`
	Format    string `koanf:"format" validate:"oneof=json console"`
	Caller    bool   `koanf:"caller"`
	Timestamp bool   `koanf:"timestamp"`
}

// Logger converts to the logging package's configuration.
func (l LoggingConfig) Logger() logging.Config {
	return logging.Config{
		Level:     l.Level,
		Format:    l.Format,
		Caller:    l.Caller,
		Timestamp: l.Timestamp,
	}
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path" validate:"required,startswith=/"`
}

// PanelConfig is a preset a client can mount by id.
type PanelConfig struct {
	ID      string        `koanf:"id" validate:"required"`
	Watches []WatchConfig `koanf:"watches" validate:"min=1,dive"`
}

type WatchConfig struct {
	Key string `koanf:"key" validate:"required"`

	// Interval zero means subscribe without polling.
	Interval time.Duration `koanf:"interval" validate:"gte=0"`
}

// GroupConfig is a set of keys refreshed together on one timer.
type GroupConfig struct {
	Name     string        `koanf:"name" validate:"required"`
	Keys     []string      `koanf:"keys" validate:"min=1,dive,required"`
	Interval time.Duration `koanf:"interval" validate:"gt=0"`
}

// Watches converts the preset for Store.Mount.
func (p PanelConfig) Watches() []livesync.Watch {
	out := make([]livesync.Watch, len(p.Watches))
	for i, w := range p.Watches {
		out[i] = livesync.Watch{Key: w.Key, Interval: w.Interval}
	}
	return out
}

// Panel returns the preset with the given id.
func (c *Config) Panel(id string) (PanelConfig, bool) {
	for _, p := range c.Panels {
		if p.ID == id {
			return p, true
		}
	}
	return PanelConfig{}, false
}

// SubscribableKeys returns every key a websocket client may subscribe to:
// the panel and group keys, the backend path overrides and gateway.keys.
func (c *Config) SubscribableKeys() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	for _, p := range c.Panels {
		for _, w := range p.Watches {
			add(w.Key)
		}
	}
	for _, g := range c.Groups {
		for _, k := range g.Keys {
			add(k)
		}
	}
	for k := range c.Backend.Paths {
		add(k)
	}
	for _, k := range c.Gateway.Keys {
		add(k)
	}
	sort.Strings(out)
	return out
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Backend: BackendConfig{
			Timeout: 5 * time.Second,
			Burst:   10,
			Paths:   map[string]string{},
			Breaker: BreakerConfig{
				Failures:    5,
				OpenTimeout: 30 * time.Second,
			},
		},
		MockAPI: MockAPIConfig{
			Enabled:   true,
			RateLimit: 600,
		},
		Cache: CacheConfig{
			Shards:            16,
			StaleAfter:        30 * time.Second,
			StaleOverrides:    map[string]time.Duration{},
			BackgroundRefresh: true,
			RefreshTimeout:    10 * time.Second,
			WriteMode:         "through",
			WriteBuffer:       256,
		},
		Scheduler: SchedulerConfig{Jitter: 0.1},
		Freshness: FreshnessConfig{Hold: time.Second},
		Gateway:   GatewayConfig{MinInterval: time.Second, MaxInterval: time.Hour},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "json",
			Timestamp: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// DefaultPanels are the panels of the health dashboard and their cadences.
func DefaultPanels() []PanelConfig {
	return []PanelConfig{
		{ID: "hero", Watches: []WatchConfig{
			{Key: "dashboard-stats"},
		}},
		{ID: "admin-dashboard", Watches: []WatchConfig{
			{Key: "dashboard-stats"},
			{Key: "surge-forecast"},
			{Key: "hospital-leaderboard"},
			{Key: "resource-optimization"},
			{Key: "emergency-alerts", Interval: 5 * time.Second},
		}},
		{ID: "city-map", Watches: []WatchConfig{
			{Key: "hospitals"},
			{Key: "dashboard-stats"},
			{Key: "map-heatmap"},
			{Key: "surge-zones"},
			{Key: "hospital-flows", Interval: 3 * time.Second},
			{Key: "ambulance-tracking", Interval: 2 * time.Second},
		}},
		{ID: "advisory", Watches: []WatchConfig{
			{Key: "health-advisories"},
		}},
	}
}

// DefaultGroups refresh the dashboard's core feeds together.
func DefaultGroups() []GroupConfig {
	return []GroupConfig{
		{
			Name:     "realtime",
			Keys:     []string{"dashboard-stats", "hospitals", "health-advisories"},
			Interval: 30 * time.Second,
		},
	}
}
