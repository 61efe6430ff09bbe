package scheduler

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// State is the lifecycle state of one poll task.
type State uint8

const (
	StateIdle State = iota
	StateScheduled
	StateFetching
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScheduled:
		return "scheduled"
	case StateFetching:
		return "fetching"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

/*
task polls one key (or one group of keys) for as long as somebody watches it.

Every watcher brings its own interval; the shortest one governs. When the
governing interval changes the running timer is restarted through reset.
*/
type task struct {
	id   string
	keys []string
	// group tasks refresh keys together through RefreshAll
	group bool

	reset chan struct{}
	stop  chan struct{}

	mu        sync.Mutex
	watchers  map[uint64]time.Duration
	nextWatch uint64
	state     State
	ticks     uint64
	failures  uint64
	lastErr   error
	lastTick  time.Time
}

func newTask(id string, keys []string, group bool) *task {
	return &task{
		id:       id,
		keys:     keys,
		group:    group,
		reset:    make(chan struct{}, 1),
		stop:     make(chan struct{}),
		watchers: make(map[uint64]time.Duration),
	}
}

const groupPrefix = "group:"

func groupID(name string) string {
	return groupPrefix + name
}

func sameKeys(a, b []string) bool {
	return strings.Join(a, "\x00") == strings.Join(b, "\x00")
}

func sortedCopy(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return out
}

// interval returns the shortest watched interval, 0 without watchers.
func (t *task) interval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.intervalLocked()
}

func (t *task) intervalLocked() time.Duration {
	var shortest time.Duration
	for _, d := range t.watchers {
		if shortest == 0 || d < shortest {
			shortest = d
		}
	}
	return shortest
}

// addWatcher registers an interval and reports whether the governing one changed.
func (t *task) addWatcher(d time.Duration) (id uint64, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	before := t.intervalLocked()
	t.nextWatch++
	t.watchers[t.nextWatch] = d
	return t.nextWatch, t.intervalLocked() != before
}

// removeWatcher drops an interval. It returns how many watchers are left and
// whether the governing interval changed.
func (t *task) removeWatcher(id uint64) (left int, changed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	before := t.intervalLocked()
	delete(t.watchers, id)
	return len(t.watchers), t.intervalLocked() != before
}

func (t *task) poke() {
	select {
	case t.reset <- struct{}{}:
	default:
	}
}

// halt moves the task to its terminal state.
func (t *task) halt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateStopped {
		return
	}
	t.state = StateStopped
	close(t.stop)
}

// setState changes state unless the task has been stopped.
func (t *task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateStopped {
		t.state = s
	}
}

func (t *task) record(now time.Time, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ticks++
	t.lastTick = now
	if err != nil {
		t.failures++
		t.lastErr = err
	}
}

// Stats is a point-in-time view of one poll task.
type Stats struct {
	ID       string
	Keys     []string
	Group    bool
	Interval time.Duration
	Watchers int
	State    State
	Ticks    uint64
	Failures uint64
	LastErr  error
	LastTick time.Time
}

func (t *task) stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		ID:       t.id,
		Keys:     append([]string(nil), t.keys...),
		Group:    t.group,
		Interval: t.intervalLocked(),
		Watchers: len(t.watchers),
		State:    t.state,
		Ticks:    t.ticks,
		Failures: t.failures,
		LastErr:  t.lastErr,
		LastTick: t.lastTick,
	}
}
