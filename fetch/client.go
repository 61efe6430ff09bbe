// Package fetch is the HTTP Fetch Client: it turns a resource key into a GET
// request against the backend and decodes the JSON document it returns.
//
// There are no retries. Every failure comes back as a *types.FetchError so
// the store can mark the entry as failed and the next poll tick tries again.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/krisalay/livesync/types"
)

const (
	// DefaultTimeout bounds one request when Config.Timeout is zero.
	DefaultTimeout = 5 * time.Second

	maxBodyBytes = 8 << 20
)

// Config configures a Client.
type Config struct {
	// BaseURL is prepended to every path, e.g. "http://localhost:5000".
	BaseURL string

	// Timeout bounds each request, including reading the body.
	Timeout time.Duration

	// Paths overrides the request path for individual keys. Keys without an
	// override are requested at /api/<key>.
	Paths map[string]string

	// RateLimit caps outgoing requests per second. Zero disables pacing.
	RateLimit float64
	Burst     int

	Breaker BreakerConfig

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client implements types.Loader over HTTP.
type Client struct {
	base     string
	timeout  time.Duration
	paths    map[string]string
	http     *http.Client
	limiter  *rate.Limiter
	breakers *breakers
	logger   zerolog.Logger
}

var _ types.Loader = (*Client)(nil)

func New(cfg Config) *Client {
	c := &Client{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		paths:   make(map[string]string, len(cfg.Paths)),
		http:    cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	for k, p := range cfg.Paths {
		c.paths[k] = p
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	if cfg.Breaker.Enabled {
		c.breakers = newBreakers(cfg.Breaker, cfg.Logger)
	}
	return c
}

// Path returns the request path for key.
func (c *Client) Path(key string) string {
	if p, ok := c.paths[key]; ok {
		return p
	}
	return "/api/" + key
}

// URL returns the absolute request URL for key.
func (c *Client) URL(key string) string {
	return c.base + c.Path(key)
}

/*
Load fetches and decodes the document for key.

Failures:
  - transport error, rate-limit wait aborted, open breaker: network (503)
  - request timeout: network (504)
  - non-2xx status: server (the status)
  - malformed or empty body: decode (502)
*/
func (c *Client) Load(ctx context.Context, key string) (any, error) {
	return c.do(ctx, key, http.MethodGet, nil)
}

// Put POSTs value as JSON to key's path and returns the decoded response.
func (c *Client) Put(ctx context.Context, key string, value any) (any, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return nil, types.NewDecodeError(key, fmt.Errorf("encode request: %w", err))
	}
	return c.do(ctx, key, http.MethodPost, body)
}

func (c *Client) do(ctx context.Context, key, method string, body []byte) (any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, networkError(key, err)
		}
	}
	if c.breakers == nil {
		return c.roundTrip(ctx, key, method, body)
	}
	return c.breakers.execute(key, func() (any, error) {
		return c.roundTrip(ctx, key, method, body)
	})
}

func (c *Client) roundTrip(ctx context.Context, key, method string, body []byte) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.URL(key), reader)
	if err != nil {
		return nil, types.NewNetworkError(key, types.CodeUnavailable, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkError(key, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, networkError(key, err)
	}

	c.logger.Debug().
		Str("key", key).
		Str("method", method).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, types.NewServerError(key, resp.StatusCode, serverMessage(resp.StatusCode, raw))
	}
	return decode(key, raw)
}

func decode(key string, raw []byte) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, types.NewDecodeError(key, types.ErrEmptyDocument)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, types.NewDecodeError(key, err)
	}
	if doc == nil {
		return nil, types.NewDecodeError(key, types.ErrEmptyDocument)
	}
	return doc, nil
}

// serverMessage extracts {"error": ...} or {"message": ...} from an error body.
func serverMessage(status int, raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return http.StatusText(status)
}

func networkError(key string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewNetworkError(key, types.CodeTimeout, err)
	}
	return types.NewNetworkError(key, types.CodeUnavailable, err)
}
