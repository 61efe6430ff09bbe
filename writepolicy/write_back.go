package writepolicy

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/krisalay/livesync/types"
)

// writeReq represents one pending write that needs to be sent to the backing store.
type writeReq struct {
	ctx   context.Context
	key   string
	value any
	done  Done
}

/*
WriteBackPolicy manages asynchronous writes to the backing store.

Writes are queued on a buffered channel and drained by one worker, so they
reach the backend in submission order.
*/
type WriteBackPolicy struct {
	store  types.Loader
	logger zerolog.Logger

	ch chan writeReq

	mu     sync.RWMutex
	closed bool

	wg sync.WaitGroup
}

// NewWriteBackPolicy creates a new write-back policy with a queue of buffer writes.
func NewWriteBackPolicy(store types.Loader, buffer int, logger zerolog.Logger) *WriteBackPolicy {
	if buffer < 1 {
		buffer = 1
	}
	w := &WriteBackPolicy{
		store:  store,
		logger: logger,
		ch:     make(chan writeReq, buffer),
	}

	w.wg.Add(1)
	go w.worker()

	return w
}

/*
Write queues the write and returns immediately.

If the queue is full (or the policy is closed) the write is DROPPED and done
receives ErrQueueFull / types.ErrClosed. Blocking here would stall the panel
that submitted it.

The request context is detached from cancellation: the caller returning must
not abort a write that was already accepted.
*/
func (w *WriteBackPolicy) Write(ctx context.Context, key string, value any, done Done) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		call(done, nil, types.ErrClosed)
		return
	}

	select {
	case w.ch <- writeReq{context.WithoutCancel(ctx), key, value, done}:
	default:
		w.logger.Warn().Str("key", key).Msg("write-back queue full, dropping write")
		call(done, nil, ErrQueueFull)
	}
}

func (w *WriteBackPolicy) worker() {
	defer w.wg.Done()

	for req := range w.ch {
		resp, err := w.store.Put(req.ctx, req.key, req.value)
		if err != nil {
			w.logger.Error().Err(err).Str("key", req.key).Msg("write-back failed")
		}
		call(req.done, resp, err)
	}
}

/*
Close shuts down the write-back policy gracefully.
------------------
1. Stop accepting writes
2. Wait for the worker to drain what is already queued

Safe to call more than once.
*/
func (w *WriteBackPolicy) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.ch)
	w.mu.Unlock()

	w.wg.Wait()
}
