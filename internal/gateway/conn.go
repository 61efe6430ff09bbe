package gateway

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/krisalay/livesync"
	"github.com/krisalay/livesync/freshness"
	"github.com/krisalay/livesync/types"
)

var errDisconnected = errors.New("connection closing")

// binding is one (panel, key) pair of a connection.
type binding struct {
	unmount func()
	ind     *freshness.Indicator
	gone    atomic.Bool
}

type conn struct {
	id   string
	g    *Gateway
	ws   *websocket.Conn
	send chan Message

	// done is closed once every panel of the connection is unmounted.
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.Mutex
	panels map[string]map[string]*binding
	closed bool
}

func newConn(g *Gateway, ws *websocket.Conn) *conn {
	return &conn{
		id:     uuid.NewString(),
		g:      g,
		ws:     ws,
		send:   make(chan Message, g.opts.SendBuffer),
		done:   make(chan struct{}),
		panels: make(map[string]map[string]*binding),
	}
}

func (c *conn) readPump() {
	defer func() {
		c.unmountAll()
		close(c.done)
		_ = c.ws.Close()
		c.g.release(c)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.g.logger.Debug().Err(err).Str("conn", c.id).Msg("unexpected websocket close")
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.fail(Request{}, "malformed request")
			continue
		}
		c.handle(req)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case m := <-c.send:
			data, err := json.Marshal(m)
			if err != nil {
				c.g.logger.Error().Err(err).Str("conn", c.id).Str("key", m.Key).Msg("failed to encode message")
				continue
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// shutdown closes the socket and waits until the panels are unmounted.
func (c *conn) shutdown() {
	_ = c.ws.Close()
	<-c.done
}

func (c *conn) handle(req Request) {
	switch req.Type {
	case TypePing:
		c.enqueue(Message{Type: TypePong})

	case TypeMount:
		watches, ok := c.g.opts.Presets[req.Panel]
		if !ok {
			c.fail(req, "unknown panel")
			return
		}
		if err := c.mount(req.Panel, watches); err != nil {
			c.fail(req, err.Error())
		}

	case TypeUnmount:
		if !c.unmount(req.Panel) {
			c.fail(req, "panel not mounted")
		}

	case TypeSubscribe:
		w, err := c.g.subscription(req)
		if err != nil {
			c.fail(req, err.Error())
			return
		}
		if err := c.bind(req.Panel, w); err != nil {
			c.fail(req, err.Error())
		}

	case TypeUnsubscribe:
		if !c.unbind(req.Panel, req.Key) {
			c.fail(req, "not subscribed")
		}

	default:
		c.fail(req, fmt.Sprintf("unknown message type %q", req.Type))
	}
}

// mount binds every watch of a preset. Nothing stays bound on error.
func (c *conn) mount(panel string, watches []livesync.Watch) error {
	c.mu.Lock()
	_, mounted := c.panels[panel]
	c.mu.Unlock()
	if mounted {
		return fmt.Errorf("panel %s already mounted", panel)
	}

	for i, w := range watches {
		if err := c.bind(panel, w); err != nil {
			for _, done := range watches[:i] {
				c.unbind(panel, done.Key)
			}
			return err
		}
	}
	c.g.logger.Debug().Str("conn", c.id).Str("panel", panel).Int("keys", len(watches)).Msg("panel mounted")
	return nil
}

func (c *conn) bind(panel string, w livesync.Watch) error {
	key := w.Key
	b := &binding{}
	b.ind = freshness.New(c.g.opts.Hold, func() {
		if !b.gone.Load() {
			c.enqueue(Message{Type: TypeFreshness, Panel: panel, Key: key})
		}
	}, freshness.WithClock(c.g.opts.Clock))

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errDisconnected
	}
	keys := c.panels[panel]
	if keys == nil {
		keys = make(map[string]*binding)
		c.panels[panel] = keys
	}
	if _, dup := keys[key]; dup {
		c.mu.Unlock()
		return fmt.Errorf("%s already subscribed on %s", key, panel)
	}
	keys[key] = b
	c.mu.Unlock()

	unmount, err := c.g.store.Mount(c.id+"/"+panel, func(ent types.CacheEntry) {
		c.deliver(panel, b, ent)
	}, w)
	if err != nil {
		c.mu.Lock()
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.panels, panel)
		}
		c.mu.Unlock()
		b.gone.Store(true)
		b.ind.Stop()
		return err
	}

	c.mu.Lock()
	b.unmount = unmount
	c.mu.Unlock()

	c.deliver(panel, b, c.g.store.Get(key))
	return nil
}

func (c *conn) unbind(panel, key string) bool {
	c.mu.Lock()
	keys := c.panels[panel]
	b, ok := keys[key]
	if ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.panels, panel)
		}
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	c.drop(b)
	return true
}

func (c *conn) unmount(panel string) bool {
	c.mu.Lock()
	keys, ok := c.panels[panel]
	delete(c.panels, panel)
	c.mu.Unlock()
	if !ok {
		return false
	}
	for _, b := range keys {
		c.drop(b)
	}
	c.g.logger.Debug().Str("conn", c.id).Str("panel", panel).Msg("panel unmounted")
	return true
}

func (c *conn) unmountAll() {
	c.mu.Lock()
	c.closed = true
	panels := c.panels
	c.panels = make(map[string]map[string]*binding)
	c.mu.Unlock()

	for _, keys := range panels {
		for _, b := range keys {
			c.drop(b)
		}
	}
}

func (c *conn) drop(b *binding) {
	b.gone.Store(true)
	c.mu.Lock()
	unmount := b.unmount
	c.mu.Unlock()
	if unmount != nil {
		unmount()
	}
	b.ind.Stop()
}

func (c *conn) deliver(panel string, b *binding, ent types.CacheEntry) {
	if b.gone.Load() {
		return
	}
	c.enqueue(entryMessage(panel, ent, b.ind.Observe(ent)))
}

// enqueue never blocks. A full queue drops the message.
func (c *conn) enqueue(m Message) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- m:
	default:
		n := c.dropped.Add(1)
		c.g.logger.Debug().Str("conn", c.id).Str("type", m.Type).Str("key", m.Key).
			Uint64("dropped", n).Msg("slow client, message dropped")
	}
}

func (c *conn) fail(req Request, msg string) {
	c.enqueue(Message{Type: TypeError, Panel: req.Panel, Key: req.Key, Error: msg})
}
