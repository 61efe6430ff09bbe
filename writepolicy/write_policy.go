package writepolicy

import (
	"context"
	"errors"
)

/*
This file defines what a "write policy" is.

Panels occasionally send mutations (a new advisory, a hospital update, a
scenario simulation). How that mutation reaches the backend is pluggable:
- write-through: send it now, caller waits
- write-back: queue it, a worker sends it later
*/

// ErrQueueFull is reported to done when a write-back queue drops a write.
var ErrQueueFull = errors.New("writepolicy: queue full, write dropped")

// Done receives the backend's response to a write (or the error).
type Done func(resp any, err error)

/*
WritePolicy is the contract that all write policies must follow.
The store does not care which policy is used. It simply calls these methods.
*/
type WritePolicy interface {

	/*
		Write sends value for key to the backing store.

		done is called exactly once with the outcome. It may be called
		before Write returns (write-through) or later from another
		goroutine (write-back). done may be nil.
	*/
	Write(ctx context.Context, key string, value any, done Done)

	/*
		Close is called when the store is shutting down.
		Pending writes are flushed before Close returns.
	*/
	Close()
}

func call(done Done, resp any, err error) {
	if done != nil {
		done(resp, err)
	}
}
