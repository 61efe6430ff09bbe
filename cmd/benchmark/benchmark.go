package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krisalay/livesync"
	"github.com/krisalay/livesync/engine"
	"github.com/krisalay/livesync/expiration"
	"github.com/krisalay/livesync/types"
)

// ================= BACKEND =================

// InMemoryBackend answers every load with a counter so each fetch yields new data.
type InMemoryBackend struct {
	loads   atomic.Int64
	latency time.Duration
}

func (b *InMemoryBackend) Load(ctx context.Context, key string) (any, error) {
	n := b.loads.Add(1)
	if b.latency > 0 {
		select {
		case <-time.After(b.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return map[string]any{"key": key, "seq": n}, nil
}

func (b *InMemoryBackend) Put(_ context.Context, _ string, value any) (any, error) {
	return value, nil
}

// ================= BENCHMARK =================

func main() {
	ctx := context.Background()

	const (
		shards      = 8
		keys        = 64
		panels      = 500
		goroutines  = 200
		opsPerG     = 5000
		refreshEach = 50
	)

	printConfig := func() {
		fmt.Println("CONFIG")
		fmt.Println("---------------------------------")
		fmt.Println("Shards         :", shards)
		fmt.Println("Keys           :", keys)
		fmt.Println("Panels         :", panels)
		fmt.Println("Goroutines     :", goroutines)
		fmt.Println("Ops/Goroutine  :", opsPerG)
		fmt.Println("Refresh every  :", refreshEach, "ops")
		fmt.Println("---------------------------------")
	}

	fmt.Println("\n================ SYNC LAYER BENCHMARK =================")
	printConfig()

	// ---------------- Backend ----------------
	backend := &InMemoryBackend{latency: 2 * time.Millisecond}

	// ---------------- Store ----------------
	e := engine.NewEngine(
		&expiration.StaleAfterFetch{Default: time.Minute},
		nil,
		backend,
		nil,
		nil,
	)
	store := livesync.New(e, livesync.WithShards(shards))
	defer store.Close()

	names := make([]string, keys)
	for i := range names {
		names[i] = fmt.Sprintf("feed-%d", i)
	}

	// ---------------- Subscribers ----------------
	fmt.Println("Mounting panels...")
	var notified atomic.Int64
	for p := 0; p < panels; p++ {
		_, err := store.Mount(
			fmt.Sprintf("panel-%d", p),
			func(types.CacheEntry) { notified.Add(1) },
			livesync.Watch{Key: names[p%keys]},
			livesync.Watch{Key: names[(p*7+3)%keys]},
		)
		if err != nil {
			panic(err)
		}
	}

	// ---------------- Warmup ----------------
	fmt.Println("Warming up store...")
	if err := store.RefreshAll(ctx, names); err != nil {
		panic(err)
	}
	fmt.Println("Warmup complete.")

	loadsBefore := backend.loads.Load()
	notifiedBefore := notified.Load()

	// ---------------- Load Test ----------------
	fmt.Println("Running concurrency benchmark...")

	var refreshes, resolves atomic.Int64
	start := time.Now()

	wg := sync.WaitGroup{}
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < opsPerG; j++ {
				key := names[(id+j)%keys]
				switch {
				case j%refreshEach == 0:
					_ = store.Refresh(ctx, key)
					refreshes.Add(1)
				case j%refreshEach == 1:
					store.Resolve(key, map[string]any{"key": key, "writer": id, "op": j})
					resolves.Add(1)
				default:
					store.Get(key)
				}
			}
		}(i)
	}

	wg.Wait()

	duration := time.Since(start)
	totalOps := goroutines * opsPerG
	loads := backend.loads.Load() - loadsBefore

	fmt.Println("\n================ RESULTS =================")
	fmt.Printf("Total Operations : %d\n", totalOps)
	fmt.Printf("Total Time       : %v\n", duration)
	fmt.Printf("Throughput       : %.2f ops/sec\n", float64(totalOps)/duration.Seconds())
	fmt.Printf("Refresh Calls    : %d\n", refreshes.Load())
	fmt.Printf("Backend Loads    : %d\n", loads)
	if loads > 0 {
		fmt.Printf("Coalescing Ratio : %.2fx\n", float64(refreshes.Load())/float64(loads))
	}
	fmt.Printf("Direct Resolves  : %d\n", resolves.Load())
	fmt.Printf("Notifications    : %d\n", notified.Load()-notifiedBefore)
	fmt.Println("=========================================")
}
