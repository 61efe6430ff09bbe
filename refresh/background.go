package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/krisalay/livesync/types"
)

/*
Background refetches stale keys asynchronously.

At most one background refresh per key is outstanding at a time; repeated
reads of the same stale key while it is being refreshed are ignored. The
store coalesces fetches anyway, this only avoids piling up goroutines.
*/
type Background struct {
	timeout time.Duration
	logger  zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	r       Refresher
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// NewBackground creates a hook whose refreshes are bounded by timeout
// (zero => only by the store lifetime).
func NewBackground(timeout time.Duration, logger zerolog.Logger) *Background {
	return &Background{
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]struct{}),
	}
}

func (b *Background) Bind(ctx context.Context, r Refresher) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctx = ctx
	b.r = r
}

func (b *Background) OnRead(key string, ent types.CacheEntry) {
	if ent.State != types.StateStale {
		return
	}

	b.mu.Lock()
	if b.r == nil || b.ctx.Err() != nil {
		b.mu.Unlock()
		return
	}
	if _, busy := b.pending[key]; busy {
		b.mu.Unlock()
		return
	}
	b.pending[key] = struct{}{}
	ctx, r := b.ctx, b.r
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		defer func() {
			b.mu.Lock()
			delete(b.pending, key)
			b.mu.Unlock()
		}()

		if b.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, b.timeout)
			defer cancel()
		}
		if err := r.Refresh(ctx, key); err != nil {
			b.logger.Debug().Err(err).Str("key", key).Msg("background refresh failed")
		}
	}()
}

// Wait blocks until all background refreshes started so far have finished.
func (b *Background) Wait() {
	b.wg.Wait()
}
