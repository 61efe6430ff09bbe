package livesync_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/krisalay/livesync"
	"github.com/krisalay/livesync/engine"
	"github.com/krisalay/livesync/expiration"
	"github.com/krisalay/livesync/refresh"
	"github.com/krisalay/livesync/scheduler"
	"github.com/krisalay/livesync/types"
)

//
// ================= TEST BACKEND =================
//

type TestBackend struct {
	mu    sync.Mutex
	docs  map[string]any
	errs  map[string]error
	loads map[string]int
	puts  []string

	// gate, when set, holds every Load until it is closed
	gate chan struct{}
}

func NewTestBackend() *TestBackend {
	return &TestBackend{
		docs:  make(map[string]any),
		errs:  make(map[string]error),
		loads: make(map[string]int),
	}
}

func (b *TestBackend) Load(ctx context.Context, key string) (any, error) {
	b.mu.Lock()
	b.loads[key]++
	gate := b.gate
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, types.NewNetworkError(key, types.CodeTimeout, ctx.Err())
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.errs[key]; err != nil {
		return nil, err
	}
	return b.docs[key], nil
}

func (b *TestBackend) Put(ctx context.Context, key string, value any) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.puts = append(b.puts, key)
	return value, nil
}

func (b *TestBackend) set(key string, doc any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs[key] = doc
	delete(b.errs, key)
}

func (b *TestBackend) fail(key string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errs[key] = err
}

func (b *TestBackend) loadCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads[key]
}

type TestMetrics struct {
	types.NoopMetrics
	coalesced atomic.Int64
	stale     atomic.Int64
	notifies  atomic.Int64
}

func (m *TestMetrics) Coalesced(string)   { m.coalesced.Add(1) }
func (m *TestMetrics) Stale(string)       { m.stale.Add(1) }
func (m *TestMetrics) Notify(string, int) { m.notifies.Add(1) }

//
// ================= HELPERS =================
//

func newTestStore(t *testing.T) (*livesync.Store, *TestBackend, *clockwork.FakeClock, *TestMetrics) {
	t.Helper()

	backend := NewTestBackend()
	clock := clockwork.NewFakeClock()
	metrics := &TestMetrics{}

	e := engine.NewEngine(nil, nil, backend, nil, metrics).WithClock(clock)
	s := livesync.New(e, livesync.WithShards(4))
	t.Cleanup(s.Close)

	return s, backend, clock, metrics
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

type recorder struct {
	mu      sync.Mutex
	entries []types.CacheEntry
}

func (r *recorder) record(e types.CacheEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *recorder) last() types.CacheEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[len(r.entries)-1]
}

func hospitalsDoc() []any {
	return []any{map[string]any{"id": "1", "beds": 23.0}}
}

//
// ================= BASIC OPERATIONS =================
//

func TestGetBeforeFetchIsEmpty(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	for _, k := range []string{"dashboard-stats", "hospitals", "ambulance-tracking"} {
		ent := s.Get(k)
		if ent.State != types.StateEmpty || ent.HasData() || !ent.FetchedAt.IsZero() {
			t.Fatalf("%s: expected empty entry, got %+v", k, ent)
		}
	}
}

func TestResolveMakesFresh(t *testing.T) {
	s, _, clock, _ := newTestStore(t)

	doc := hospitalsDoc()
	s.Resolve("hospitals", doc)

	ent := s.Get("hospitals")
	if ent.State != types.StateFresh {
		t.Fatalf("expected fresh, got %s", ent.State)
	}
	if !reflect.DeepEqual(ent.Data, doc) {
		t.Fatalf("expected %v, got %v", doc, ent.Data)
	}
	if !ent.FetchedAt.Equal(clock.Now()) {
		t.Fatalf("expected fetchedAt %v, got %v", clock.Now(), ent.FetchedAt)
	}
}

func TestResolveNilIsDecodeError(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	s.Resolve("surge-zones", nil)

	ent := s.Get("surge-zones")
	if ent.State != types.StateError {
		t.Fatalf("expected error, got %s", ent.State)
	}
	if types.KindOf(ent.Err) != types.KindDecode {
		t.Fatalf("expected decode error, got %v", ent.Err)
	}
}

//
// ================= INVALIDATION =================
//

func TestInvalidateIsIdempotent(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	doc := map[string]any{"totalBeds": 1200.0}
	s.Resolve("dashboard-stats", doc)

	s.Invalidate("dashboard-stats")
	s.Invalidate("dashboard-stats")

	ent := s.Get("dashboard-stats")
	if ent.State != types.StateStale {
		t.Fatalf("expected stale, got %s", ent.State)
	}
	if !reflect.DeepEqual(ent.Data, doc) {
		t.Fatalf("invalidate must keep data, got %v", ent.Data)
	}
}

func TestInvalidateOnlyTouchesFresh(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	s.Invalidate("never-fetched")
	if st := s.Get("never-fetched").State; st != types.StateEmpty {
		t.Fatalf("empty must stay empty, got %s", st)
	}

	s.Reject("broken", errors.New("boom"))
	s.Invalidate("broken")
	if st := s.Get("broken").State; st != types.StateError {
		t.Fatalf("error must stay error, got %s", st)
	}
}

func TestInvalidateAll(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	keys := []string{"dashboard-stats", "hospitals", "health-advisories"}
	for _, k := range keys {
		s.Resolve(k, k)
	}
	s.Resolve("untouched", 1)

	s.InvalidateAll(keys)

	for _, k := range keys {
		if st := s.Get(k).State; st != types.StateStale {
			t.Fatalf("%s: expected stale, got %s", k, st)
		}
	}
	if st := s.Get("untouched").State; st != types.StateFresh {
		t.Fatalf("keys outside the group must stay fresh, got %s", st)
	}
}

//
// ================= NOTIFICATION =================
//

func TestFanOutSameEntry(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	a, b := &recorder{}, &recorder{}
	s.Subscribe("A", "hospitals", a.record)
	s.Subscribe("B", "hospitals", b.record)

	s.Resolve("hospitals", hospitalsDoc())

	if a.len() != 1 || b.len() != 1 {
		t.Fatalf("expected one call each, got A=%d B=%d", a.len(), b.len())
	}
	if !reflect.DeepEqual(a.last(), b.last()) {
		t.Fatalf("both panels must see the same entry")
	}
}

func TestUnsubscribeSafety(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	a, b := &recorder{}, &recorder{}
	unsubA := s.Subscribe("A", "hospitals", a.record)
	s.Subscribe("B", "hospitals", b.record)

	unsubA()
	s.Resolve("hospitals", hospitalsDoc())

	if a.len() != 0 {
		t.Fatalf("unsubscribed panel must not be called")
	}
	if b.len() != 1 {
		t.Fatalf("remaining panel must be called once, got %d", b.len())
	}
}

func TestNotificationRules(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	r := &recorder{}
	s.Subscribe("panel", "surge-forecast", r.record)

	s.Resolve("surge-forecast", map[string]any{"level": "high"})
	s.Resolve("surge-forecast", map[string]any{"level": "high"})
	if r.len() != 1 {
		t.Fatalf("equal data must not notify again, got %d", r.len())
	}

	s.Reject("surge-forecast", errors.New("down"))
	s.Reject("surge-forecast", errors.New("down"))
	if r.len() != 3 {
		t.Fatalf("every reject must notify, got %d", r.len())
	}

	s.Resolve("surge-forecast", map[string]any{"level": "high"})
	if r.len() != 4 {
		t.Fatalf("recovery from error must notify, got %d", r.len())
	}

	s.Invalidate("surge-forecast")
	s.Resolve("surge-forecast", map[string]any{"level": "high"})
	if r.len() != 4 {
		t.Fatalf("stale to fresh with equal data must not notify, got %d", r.len())
	}

	s.Resolve("surge-forecast", map[string]any{"level": "low"})
	if r.len() != 5 {
		t.Fatalf("changed data must notify, got %d", r.len())
	}
}

func TestNotificationsFollowWriteOrder(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	var mu sync.Mutex
	var versions []uint64
	s.Subscribe("panel", "ambulance-tracking", func(e types.CacheEntry) {
		mu.Lock()
		versions = append(versions, e.Version)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				s.Resolve("ambulance-tracking", g*1000+i)
			}
		}(g)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Fatalf("notification %d out of order: %d after %d", i, versions[i], versions[i-1])
		}
	}
}

func TestPanickingSubscriberDoesNotBreakStore(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	good := &recorder{}
	s.Subscribe("bad", "k", func(types.CacheEntry) { panic("render failed") })
	s.Subscribe("good", "k", good.record)

	s.Resolve("k", 1)
	s.Resolve("k", 2)

	if good.len() != 2 {
		t.Fatalf("expected 2 notifications, got %d", good.len())
	}
	if s.Get("k").Data != 2 {
		t.Fatalf("store must keep working after a panic")
	}
}

//
// ================= FETCHING =================
//

func TestRefreshResolves(t *testing.T) {
	s, backend, _, _ := newTestStore(t)
	backend.set("hospitals", hospitalsDoc())

	if err := s.Refresh(context.Background(), "hospitals"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	ent := s.Get("hospitals")
	if ent.State != types.StateFresh || !reflect.DeepEqual(ent.Data, hospitalsDoc()) {
		t.Fatalf("unexpected entry %+v", ent)
	}
}

func TestAtMostOneInFlight(t *testing.T) {
	s, backend, _, metrics := newTestStore(t)
	backend.set("hospital-flows", []any{1.0})
	backend.gate = make(chan struct{})

	errs := make(chan error, 2)
	go func() { errs <- s.Refresh(context.Background(), "hospital-flows") }()
	waitFor(t, "first fetch", func() bool { return backend.loadCount("hospital-flows") == 1 })

	if st := s.Get("hospital-flows").State; st != types.StateLoading {
		t.Fatalf("expected loading while first fetch runs, got %s", st)
	}

	go func() { errs <- s.Refresh(context.Background(), "hospital-flows") }()
	time.Sleep(50 * time.Millisecond)

	close(backend.gate)
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("refresh: %v", err)
		}
	}

	if n := backend.loadCount("hospital-flows"); n != 1 {
		t.Fatalf("expected exactly one network call, got %d", n)
	}
	if n := metrics.coalesced.Load(); n != 1 {
		t.Fatalf("expected one coalesced join, got %d", n)
	}
}

func TestCoalescedCountMatchesJoins(t *testing.T) {
	s, backend, _, metrics := newTestStore(t)
	backend.set("ambulance-tracking", []any{1.0})

	const (
		workers = 50
		rounds  = 20
	)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				if err := s.Refresh(context.Background(), "ambulance-tracking"); err != nil {
					t.Errorf("refresh: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	loads := int64(backend.loadCount("ambulance-tracking"))
	if got, want := metrics.coalesced.Load(), int64(workers*rounds)-loads; got != want {
		t.Fatalf("coalesced = %d, want %d (%d calls, %d loads)", got, want, workers*rounds, loads)
	}
}

func TestTimeoutKeepsLastKnownValue(t *testing.T) {
	s, backend, _, _ := newTestStore(t)

	previous := []any{map[string]any{"id": "amb-1", "lat": 19.07, "lng": 72.87}}
	s.Resolve("ambulance-tracking", previous)

	backend.fail("ambulance-tracking", types.NewNetworkError("ambulance-tracking", types.CodeTimeout, context.DeadlineExceeded))
	err := s.Refresh(context.Background(), "ambulance-tracking")
	if err == nil {
		t.Fatalf("expected refresh error")
	}

	ent := s.Get("ambulance-tracking")
	if ent.State != types.StateError {
		t.Fatalf("expected error, got %s", ent.State)
	}
	if !reflect.DeepEqual(ent.Data, previous) {
		t.Fatalf("previous data must remain, got %v", ent.Data)
	}

	var fe *types.FetchError
	if !errors.As(ent.Err, &fe) || fe.Kind != types.KindNetwork || fe.Code != types.CodeTimeout {
		t.Fatalf("expected network timeout, got %v", ent.Err)
	}
}

func TestCallerCancelDoesNotCancelFetch(t *testing.T) {
	s, backend, _, _ := newTestStore(t)
	backend.set("map-heatmap", map[string]any{"points": 3.0})
	backend.gate = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Refresh(ctx, "map-heatmap") }()
	waitFor(t, "fetch started", func() bool { return backend.loadCount("map-heatmap") == 1 })

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	close(backend.gate)
	waitFor(t, "result resolved", func() bool { return s.Get("map-heatmap").State == types.StateFresh })
}

func TestEmptyDocumentIsRejected(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	err := s.Refresh(context.Background(), "surge-zones")
	if types.KindOf(err) != types.KindDecode {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestRefreshAllIsolatesFailures(t *testing.T) {
	s, backend, _, _ := newTestStore(t)
	backend.set("dashboard-stats", map[string]any{"a": 1.0})
	backend.set("hospitals", hospitalsDoc())
	backend.fail("health-advisories", types.NewServerError("health-advisories", 500, "Failed to fetch health advisories"))

	err := s.RefreshAll(context.Background(), []string{"dashboard-stats", "hospitals", "health-advisories", "hospitals"})
	if types.KindOf(err) != types.KindServer {
		t.Fatalf("expected the server error to be returned, got %v", err)
	}

	if st := s.Get("dashboard-stats").State; st != types.StateFresh {
		t.Fatalf("dashboard-stats: expected fresh, got %s", st)
	}
	if st := s.Get("hospitals").State; st != types.StateFresh {
		t.Fatalf("hospitals: expected fresh, got %s", st)
	}
	if st := s.Get("health-advisories").State; st != types.StateError {
		t.Fatalf("health-advisories: expected error, got %s", st)
	}
	if n := backend.loadCount("hospitals"); n != 1 {
		t.Fatalf("duplicate keys must be fetched once, got %d", n)
	}
}

//
// ================= STALENESS =================
//

func TestStaleWhileRevalidate(t *testing.T) {
	backend := NewTestBackend()
	clock := clockwork.NewFakeClock()
	metrics := &TestMetrics{}
	hook := refresh.NewBackground(time.Second, zerolog.Nop())

	e := engine.NewEngine(&expiration.StaleAfterFetch{Default: 10 * time.Second}, hook, backend, nil, metrics).WithClock(clock)
	s := livesync.New(e)
	t.Cleanup(s.Close)

	s.Resolve("dashboard-stats", map[string]any{"v": 1.0})
	backend.set("dashboard-stats", map[string]any{"v": 2.0})

	clock.Advance(10 * time.Second)

	ent := s.Get("dashboard-stats")
	if ent.State != types.StateStale {
		t.Fatalf("expected stale after the window, got %s", ent.State)
	}
	if metrics.stale.Load() != 1 {
		t.Fatalf("expected one stale transition, got %d", metrics.stale.Load())
	}

	hook.Wait()
	ent = s.Get("dashboard-stats")
	if ent.State != types.StateFresh || !reflect.DeepEqual(ent.Data, map[string]any{"v": 2.0}) {
		t.Fatalf("expected background refresh to land, got %+v", ent)
	}
}

//
// ================= POLLING =================
//

func TestPollTickResolvesHospitals(t *testing.T) {
	s, backend, clock, _ := newTestStore(t)
	backend.set("hospitals", hospitalsDoc())

	r := &recorder{}
	s.Subscribe("city-map", "hospitals", r.record)
	release, err := s.Scheduler().Watch("hospitals", 2000*time.Millisecond)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer release()

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("timer: %v", err)
	}
	clock.Advance(2 * time.Second)

	waitFor(t, "tick", func() bool { return r.len() == 1 })

	ent := s.Get("hospitals")
	if ent.State != types.StateFresh || !reflect.DeepEqual(ent.Data, hospitalsDoc()) {
		t.Fatalf("unexpected entry after tick %+v", ent)
	}
}

func TestMountFetchesAndUnmountIsSynchronous(t *testing.T) {
	s, backend, _, _ := newTestStore(t)
	backend.set("dashboard-stats", map[string]any{"totalBeds": 100.0})
	backend.set("emergency-alerts", []any{})

	r := &recorder{}
	unmount, err := s.Mount("admin-dashboard", r.record,
		livesync.Watch{Key: "dashboard-stats"},
		livesync.Watch{Key: "emergency-alerts", Interval: 5 * time.Second},
	)
	if err != nil {
		t.Fatalf("mount: %v", err)
	}

	waitFor(t, "fetch on mount", func() bool { return r.len() == 2 })
	if _, ok := s.Scheduler().Task("emergency-alerts"); !ok {
		t.Fatalf("expected a poll task for emergency-alerts")
	}

	unmount()
	unmount()

	s.Resolve("dashboard-stats", map[string]any{"totalBeds": 101.0})
	if r.len() != 2 {
		t.Fatalf("no callback may fire after unmount, got %d", r.len())
	}
	if s.Subscribers("dashboard-stats") != 0 {
		t.Fatalf("expected no subscribers left")
	}
	if len(s.Scheduler().Stats()) != 0 {
		t.Fatalf("expected no poll tasks left, got %v", s.Scheduler().Stats())
	}
}

func TestMountRejectsNegativeInterval(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	_, err := s.Mount("hero", func(types.CacheEntry) {}, livesync.Watch{Key: "dashboard-stats", Interval: -time.Second})
	if !errors.Is(err, types.ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval, got %v", err)
	}
	if s.Subscribers("dashboard-stats") != 0 {
		t.Fatalf("failed mount must not leave subscriptions")
	}
}

func TestMountCannotAttachToGroupTask(t *testing.T) {
	s, _, _, _ := newTestStore(t)

	release, err := s.WatchGroup("realtime", []string{"dashboard-stats", "hospitals"}, 30*time.Second)
	if err != nil {
		t.Fatalf("watch group: %v", err)
	}
	defer release()

	_, err = s.Mount("hero", func(types.CacheEntry) {},
		livesync.Watch{Key: "hospitals"},
		livesync.Watch{Key: "group:realtime", Interval: time.Second},
	)
	if !errors.Is(err, scheduler.ErrReservedKey) {
		t.Fatalf("expected ErrReservedKey, got %v", err)
	}
	if s.Subscribers("hospitals") != 0 || s.Subscribers("group:realtime") != 0 {
		t.Fatalf("failed mount must not leave subscriptions")
	}
	if st, _ := s.Scheduler().Task("group:realtime"); st.Interval != 30*time.Second {
		t.Fatalf("group cadence changed to %v", st.Interval)
	}
}

//
// ================= MUTATIONS =================
//

func TestSubmitRefreshesAffectedKeys(t *testing.T) {
	s, backend, _, _ := newTestStore(t)
	backend.set("health-advisories", []any{"a1"})
	backend.set("dashboard-stats", map[string]any{"advisories": 1.0})

	err := s.Submit(context.Background(), "health-advisories", map[string]any{"title": "Heat wave"},
		"health-advisories", "dashboard-stats")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	backend.mu.Lock()
	puts := append([]string(nil), backend.puts...)
	backend.mu.Unlock()
	if len(puts) != 1 || puts[0] != "health-advisories" {
		t.Fatalf("expected one mutation, got %v", puts)
	}

	waitFor(t, "refresh after mutation", func() bool {
		return backend.loadCount("health-advisories") == 1 && backend.loadCount("dashboard-stats") == 1
	})
}

//
// ================= LIFECYCLE =================
//

func TestCloseAndReset(t *testing.T) {
	s, _, _, _ := newTestStore(t)
	s.Resolve("a", 1)
	s.Resolve("b", 2)

	if got := s.Keys(); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected keys %v", got)
	}
	if snap := s.Snapshot(); len(snap) != 2 || snap[0].Key != "a" {
		t.Fatalf("unexpected snapshot %v", snap)
	}

	s.Reset()
	if len(s.Keys()) != 0 {
		t.Fatalf("reset must drop entries")
	}

	s.Close()
	s.Close()
	if err := s.Refresh(context.Background(), "a"); !errors.Is(err, types.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	// resolving into a closed store nobody reads must not fail
	s.Resolve("a", 3)
}
