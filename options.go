package livesync

import (
	"github.com/rs/zerolog"

	"github.com/krisalay/livesync/scheduler"
	"github.com/krisalay/livesync/shard"
)

const defaultShards = 16

type Option func(*Store)

// WithShards sets the number of shards. Values below 1 are ignored.
func WithShards(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.nshards = n
		}
	}
}

// WithSelector replaces the key to shard mapping.
func WithSelector(sel shard.Selector) Option {
	return func(s *Store) { s.selector = sel }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithSchedulerOptions configures the store's poll scheduler. The engine's
// clock is always passed first, so a WithClock here overrides it.
func WithSchedulerOptions(opts ...scheduler.Option) Option {
	return func(s *Store) { s.schedOpts = append(s.schedOpts, opts...) }
}
