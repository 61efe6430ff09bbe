// Package freshness drives the transient "just updated" highlight a panel
// shows when one of its values changes.
package freshness

import (
	"reflect"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/krisalay/livesync/types"
)

// DefaultHold is how long a highlight stays on.
const DefaultHold = time.Second

// State is what a panel renders for one key.
type State struct {
	Highlight     bool
	ChangedFields []string
	// Until is when the current highlight reverts. Zero when not highlighted.
	Until time.Time
}

type Option func(*Indicator)

func WithClock(c clockwork.Clock) Option {
	return func(i *Indicator) { i.clock = c }
}

/*
Indicator is one panel's freshness signal for one key.

Observe turns the highlight on when the entry's data changed; the
indicator's own timer turns it off after the hold. A change during the hold
restarts it. Indicators share nothing with each other.

The first data an indicator sees is the baseline and is not highlighted.
Error entries keep the previous data and therefore never highlight.
*/
type Indicator struct {
	hold     time.Duration
	clock    clockwork.Clock
	onRevert func()

	mu      sync.Mutex
	prev    any
	hasPrev bool
	state   State
	gen     uint64
	timer   clockwork.Timer
	stopped bool
}

// New creates an indicator. onRevert, if not nil, is called from the
// indicator's timer goroutine each time a highlight expires.
func New(hold time.Duration, onRevert func(), opts ...Option) *Indicator {
	if hold <= 0 {
		hold = DefaultHold
	}
	i := &Indicator{
		hold:     hold,
		clock:    clockwork.NewRealClock(),
		onRevert: onRevert,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Observe feeds a change notification and returns the resulting state.
func (i *Indicator) Observe(ent types.CacheEntry) State {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.stopped || !ent.HasData() {
		return i.snapshot()
	}
	if !i.hasPrev {
		i.prev, i.hasPrev = ent.Data, true
		return i.snapshot()
	}
	if reflect.DeepEqual(i.prev, ent.Data) {
		return i.snapshot()
	}

	fields := ChangedFields(i.prev, ent.Data)
	i.prev = ent.Data

	if i.timer != nil {
		i.timer.Stop()
	}
	i.gen++
	gen := i.gen
	i.state = State{
		Highlight:     true,
		ChangedFields: fields,
		Until:         i.clock.Now().Add(i.hold),
	}
	i.timer = i.clock.AfterFunc(i.hold, func() { i.expire(gen) })

	return i.snapshot()
}

func (i *Indicator) expire(gen uint64) {
	i.mu.Lock()
	if i.stopped || gen != i.gen {
		i.mu.Unlock()
		return
	}
	i.state = State{}
	i.timer = nil
	cb := i.onRevert
	i.mu.Unlock()

	if cb != nil {
		cb()
	}
}

func (i *Indicator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.snapshot()
}

func (i *Indicator) snapshot() State {
	s := i.state
	s.ChangedFields = append([]string(nil), i.state.ChangedFields...)
	return s
}

// Stop cancels a pending revert and clears the highlight. The indicator
// ignores further observations.
func (i *Indicator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stopped = true
	i.state = State{}
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
}
