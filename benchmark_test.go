package livesync_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/krisalay/livesync"
	"github.com/krisalay/livesync/engine"
	"github.com/krisalay/livesync/expiration"
	"github.com/krisalay/livesync/types"
)

func newBenchmarkStore(b *testing.B) (*livesync.Store, *TestBackend) {
	backend := NewTestBackend()

	exp := &expiration.StaleAfterFetch{Default: time.Minute}
	e := engine.NewEngine(exp, nil, backend, nil, nil)

	s := livesync.New(e, livesync.WithShards(8))
	b.Cleanup(s.Close)
	return s, backend
}

//
// ================= SINGLE THREAD BENCH =================
//

func BenchmarkStoreGetFresh(b *testing.B) {
	s, _ := newBenchmarkStore(b)
	s.Resolve("dashboard-stats", map[string]any{"totalBeds": 1200.0})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Get("dashboard-stats")
	}
}

func BenchmarkStoreGetEmpty(b *testing.B) {
	s, _ := newBenchmarkStore(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Get(fmt.Sprintf("missing-%d", i))
	}
}

//
// ================= PARALLEL BENCH =================
//

func BenchmarkStoreParallelGet(b *testing.B) {
	s, _ := newBenchmarkStore(b)

	for i := 0; i < 1000; i++ {
		s.Resolve(fmt.Sprintf("hospital-simulation/%d", i), i)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s.Get("hospital-simulation/42")
		}
	})
}

//
// ================= WRITE BENCH =================
//

func BenchmarkStoreResolve(b *testing.B) {
	s, _ := newBenchmarkStore(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Resolve(fmt.Sprintf("key-%d", i%1000), i)
	}
}

func BenchmarkStoreResolveFanOut(b *testing.B) {
	s, _ := newBenchmarkStore(b)
	for p := 0; p < 50; p++ {
		s.Subscribe(fmt.Sprintf("panel-%d", p), "hospitals", func(types.CacheEntry) {})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.Resolve("hospitals", i)
	}
}

//
// ================= HIGH CONCURRENCY TEST =================
//

func BenchmarkStoreCoalescedRefresh(b *testing.B) {
	ctx := context.Background()
	s, backend := newBenchmarkStore(b)
	backend.set("ambulance-tracking", []any{1.0})

	b.ResetTimer()

	wg := sync.WaitGroup{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < b.N/100; j++ {
				_ = s.Refresh(ctx, "ambulance-tracking")
			}
		}()
	}
	wg.Wait()
}
