package subscription

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/krisalay/livesync/types"
)

func entry(key string, data any) types.CacheEntry {
	return types.CacheEntry{Key: key, Data: data, State: types.StateFresh}
}

// ===== FAN-OUT =====

func TestFanOutEachSubscriberOnce(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var a, b []types.CacheEntry
	r.Subscribe("A", "hospitals", func(e types.CacheEntry) { a = append(a, e) })
	r.Subscribe("B", "hospitals", func(e types.CacheEntry) { b = append(b, e) })
	r.Subscribe("C", "dashboard-stats", func(types.CacheEntry) { t.Fatalf("wrong key notified") })

	ent := entry("hospitals", "v1")
	if n := r.Notify(ent); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("expected one call each, got A=%d B=%d", len(a), len(b))
	}
	if a[0] != b[0] {
		t.Fatalf("subscribers must receive the same entry")
	}
}

func TestDeliveryOrderIsSubscriptionOrder(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var order []string
	for _, p := range []string{"p1", "p2", "p3", "p4"} {
		p := p
		r.Subscribe(p, "k", func(types.CacheEntry) { order = append(order, p) })
	}
	r.Notify(entry("k", 1))

	if strings.Join(order, ",") != "p1,p2,p3,p4" {
		t.Fatalf("unexpected order %v", order)
	}
}

// ===== UNSUBSCRIBE =====

func TestUnsubscribeStopsCallbacks(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	calledA, calledB := 0, 0
	unsubA := r.Subscribe("A", "k", func(types.CacheEntry) { calledA++ })
	r.Subscribe("B", "k", func(types.CacheEntry) { calledB++ })

	unsubA()
	unsubA()
	r.Notify(entry("k", 1))

	if calledA != 0 {
		t.Fatalf("unsubscribed panel must not be called")
	}
	if calledB != 1 {
		t.Fatalf("other panels must be unaffected")
	}
	if r.Count("k") != 1 {
		t.Fatalf("expected 1 remaining subscription, got %d", r.Count("k"))
	}
}

func TestLastUnsubscribeDropsKey(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	unsub := r.Subscribe("A", "k", func(types.CacheEntry) {})
	if len(r.Keys()) != 1 {
		t.Fatalf("expected key to be tracked")
	}
	unsub()
	if len(r.Keys()) != 0 {
		t.Fatalf("expected no keys, got %v", r.Keys())
	}
}

// ===== RE-ENTRANCY =====

func TestReentrantSubscribeAndUnsubscribe(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var calls []string
	var unsubSelf, unsubLater func()
	unsubSelf = r.Subscribe("self", "k", func(types.CacheEntry) {
		calls = append(calls, "self")
		unsubSelf()
		unsubLater()
		r.Subscribe("new", "k", func(types.CacheEntry) { calls = append(calls, "new") })
	})
	unsubLater = r.Subscribe("later", "k", func(types.CacheEntry) { calls = append(calls, "later") })

	r.Notify(entry("k", 1))
	if strings.Join(calls, ",") != "self" {
		t.Fatalf("first notify: unexpected calls %v", calls)
	}

	calls = nil
	r.Notify(entry("k", 2))
	if strings.Join(calls, ",") != "new" {
		t.Fatalf("second notify: unexpected calls %v", calls)
	}
}

// ===== FAILURE ISOLATION =====

func TestPanickingCallbackIsIsolated(t *testing.T) {
	var buf bytes.Buffer
	r := NewRegistry(zerolog.New(&buf))

	called := false
	r.Subscribe("bad", "k", func(types.CacheEntry) { panic("boom") })
	r.Subscribe("good", "k", func(types.CacheEntry) { called = true })

	if n := r.Notify(entry("k", 1)); n != 1 {
		t.Fatalf("expected 1 successful delivery, got %d", n)
	}
	if !called {
		t.Fatalf("panic must not prevent other subscribers")
	}
	if !strings.Contains(buf.String(), "subscriber callback panicked") {
		t.Fatalf("panic must be logged, got %q", buf.String())
	}
}

func TestPanelsDistinct(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	r.Subscribe("map", "hospitals", nil)
	r.Subscribe("hero", "hospitals", nil)
	r.Subscribe("map", "hospitals", nil)

	got := r.Panels("hospitals")
	if strings.Join(got, ",") != "map,hero" {
		t.Fatalf("unexpected panels %v", got)
	}
}
