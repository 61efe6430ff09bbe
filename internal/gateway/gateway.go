// Package gateway lets browsers act as panels. Each websocket connection
// mounts panels on the store and receives their entries and freshness
// changes as JSON messages.
package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/krisalay/livesync"
	"github.com/krisalay/livesync/freshness"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	defaultSendBuffer  = 256
	defaultMinInterval = time.Second
	defaultMaxInterval = time.Hour
)

type Options struct {
	// Presets maps a panel id to the keys it renders, for mount requests.
	Presets map[string][]livesync.Watch

	// Hold is how long a changed value stays highlighted.
	Hold time.Duration

	// Keys are subscribable on top of the preset keys. Subscribe requests
	// for any other key are refused.
	Keys []string

	// MinInterval and MaxInterval bound the poll interval of subscribe
	// requests. Presets are not checked.
	MinInterval time.Duration
	MaxInterval time.Duration

	// AllowedOrigins restricts websocket origins. Empty or "*" allows all.
	AllowedOrigins []string

	// SendBuffer is the per-connection outgoing queue. Messages beyond it
	// are dropped.
	SendBuffer int

	Clock  clockwork.Clock
	Logger zerolog.Logger
}

type Gateway struct {
	store    *livesync.Store
	opts     Options
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	// keys is the set a client may subscribe to
	keys map[string]struct{}

	mu    sync.Mutex
	conns map[*conn]struct{}
}

func New(store *livesync.Store, opts Options) *Gateway {
	if opts.Hold <= 0 {
		opts.Hold = freshness.DefaultHold
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.MinInterval <= 0 {
		opts.MinInterval = defaultMinInterval
	}
	if opts.MaxInterval < opts.MinInterval {
		opts.MaxInterval = max(defaultMaxInterval, opts.MinInterval)
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	g := &Gateway{
		store:  store,
		opts:   opts,
		logger: opts.Logger,
		keys:   make(map[string]struct{}),
		conns:  make(map[*conn]struct{}),
	}
	for _, watches := range opts.Presets {
		for _, w := range watches {
			g.keys[w.Key] = struct{}{}
		}
	}
	for _, k := range opts.Keys {
		g.keys[k] = struct{}{}
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      g.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return g
}

// Routes registers /ws and the read API on r.
func (g *Gateway) Routes(r chi.Router) {
	r.Get("/ws", g.ServeWS)
	r.Get("/cache", g.listEntries)
	r.Get("/cache/{key}", g.getEntry)
}

// ServeWS upgrades the request and runs the connection until it closes.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := newConn(g, ws)

	g.mu.Lock()
	g.conns[c] = struct{}{}
	g.mu.Unlock()

	g.logger.Debug().Str("conn", c.id).Msg("client connected")
	go c.writePump()
	c.readPump()
}

func (g *Gateway) release(c *conn) {
	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
	g.logger.Debug().Str("conn", c.id).Uint64("dropped", c.dropped.Load()).Msg("client disconnected")
}

// Connections returns the number of open websocket connections.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.conns)
}

// Close disconnects every client. Their panels are unmounted before Close
// returns.
func (g *Gateway) Close() {
	g.mu.Lock()
	conns := make([]*conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	for _, c := range conns {
		c.shutdown()
	}
}

// subscription validates a client subscribe request.
func (g *Gateway) subscription(req Request) (livesync.Watch, error) {
	if req.Panel == "" || req.Key == "" {
		return livesync.Watch{}, errors.New("panel and key are required")
	}
	if _, ok := g.keys[req.Key]; !ok {
		return livesync.Watch{}, fmt.Errorf("unknown key %q", req.Key)
	}
	if req.IntervalMs == 0 {
		return livesync.Watch{Key: req.Key}, nil
	}
	if req.IntervalMs < g.opts.MinInterval.Milliseconds() || req.IntervalMs > g.opts.MaxInterval.Milliseconds() {
		return livesync.Watch{}, fmt.Errorf("intervalMs must be between %d and %d",
			g.opts.MinInterval.Milliseconds(), g.opts.MaxInterval.Milliseconds())
	}
	return livesync.Watch{Key: req.Key, Interval: time.Duration(req.IntervalMs) * time.Millisecond}, nil
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if len(g.opts.AllowedOrigins) == 0 || slices.Contains(g.opts.AllowedOrigins, "*") {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin != "" && slices.Contains(g.opts.AllowedOrigins, origin) {
		return true
	}
	g.logger.Warn().Str("origin", origin).Msg("websocket connection rejected from unauthorized origin")
	return false
}

func (g *Gateway) listEntries(w http.ResponseWriter, _ *http.Request) {
	snap := g.store.Snapshot()
	out := make([]EntryView, len(snap))
	for i, ent := range snap {
		out[i] = viewOf(ent, g.store.Subscribers(ent.Key))
	}
	writeJSON(w, out)
}

// getEntry answers 200 for unknown keys too, with state empty.
func (g *Gateway) getEntry(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	writeJSON(w, viewOf(g.store.Get(key), g.store.Subscribers(key)))
}

func writeJSON(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encode failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
