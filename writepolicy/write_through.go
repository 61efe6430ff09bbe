package writepolicy

import (
	"context"

	"github.com/krisalay/livesync/types"
)

/*
WriteThroughPolicy forwards every write to the backing store immediately.

So the flow is: Submit → POST → done → invalidate (all synchronous)
*/
type WriteThroughPolicy struct {
	store types.Loader
}

func NewWriteThroughPolicy(store types.Loader) *WriteThroughPolicy {
	return &WriteThroughPolicy{store: store}
}

/*
Write is synchronous: done has been called by the time Write returns.
If the backend is slow, the caller is slow.
*/
func (w *WriteThroughPolicy) Write(ctx context.Context, key string, value any, done Done) {
	resp, err := w.store.Put(ctx, key, value)
	call(done, resp, err)
}

// Close has nothing to clean up.
func (w *WriteThroughPolicy) Close() {}
