package fetch

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/krisalay/livesync/types"
)

// BreakerConfig enables fail-fast for feeds that keep failing.
type BreakerConfig struct {
	Enabled bool

	// Failures is how many consecutive failures open the breaker.
	Failures uint32

	// OpenTimeout is how long the breaker stays open before one probe
	// request is let through.
	OpenTimeout time.Duration
}

// breakers holds one circuit breaker per key, so a broken feed never
// fails fast for the others.
type breakers struct {
	cfg    BreakerConfig
	logger zerolog.Logger

	mu sync.Mutex
	m  map[string]*gobreaker.CircuitBreaker[any]
}

func newBreakers(cfg BreakerConfig, logger zerolog.Logger) *breakers {
	if cfg.Failures == 0 {
		cfg.Failures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	return &breakers{cfg: cfg, logger: logger, m: make(map[string]*gobreaker.CircuitBreaker[any])}
}

func (b *breakers) get(key string) *gobreaker.CircuitBreaker[any] {
	b.mu.Lock()
	defer b.mu.Unlock()

	cb, ok := b.m[key]
	if ok {
		return cb
	}
	failures := b.cfg.Failures
	cb = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     b.cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// a 4xx is a bad request, not a broken feed
		IsSuccessful: func(err error) bool {
			var fe *types.FetchError
			if errors.As(err, &fe) && fe.Kind == types.KindServer {
				return fe.Code < 500
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Info().
				Str("key", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state transition")
		},
	})
	b.m[key] = cb
	return cb
}

func (b *breakers) execute(key string, fn func() (any, error)) (any, error) {
	res, err := b.get(key).Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, &types.FetchError{
			Kind:    types.KindNetwork,
			Key:     key,
			Code:    types.CodeUnavailable,
			Message: "circuit open",
			Err:     err,
		}
	}
	return res, err
}

func (b *breakers) state(key string) gobreaker.State {
	b.mu.Lock()
	cb, ok := b.m[key]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

// BreakerState reports the breaker state for key ("closed" when breakers
// are disabled or key was never fetched).
func (c *Client) BreakerState(key string) string {
	if c.breakers == nil {
		return gobreaker.StateClosed.String()
	}
	return c.breakers.state(key).String()
}
