// This file defines the "refresh hook": what happens when a panel reads data
// that is already stale.
// The goal is stale-while-revalidate: hand out the old value immediately and
// fetch a new one in the background.

package refresh

import (
	"context"

	"github.com/krisalay/livesync/types"
)

/*
Hook is called by the engine every time a read returns a stale entry.

OnRead runs on the read path, so it MUST NOT block. Anything slow (a
network fetch) has to be handed off to another goroutine.
*/
type Hook interface {
	OnRead(key string, ent types.CacheEntry)
}

// Refresher is the part of the store a hook may call back into.
type Refresher interface {
	Refresh(ctx context.Context, key string) error
}

// Binder is implemented by hooks that need the store they are attached to.
// The store calls Bind once while it is being constructed.
type Binder interface {
	Bind(ctx context.Context, r Refresher)
}
