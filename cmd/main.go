package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/krisalay/livesync"
	"github.com/krisalay/livesync/engine"
	"github.com/krisalay/livesync/expiration"
	"github.com/krisalay/livesync/fetch"
	"github.com/krisalay/livesync/freshness"
	"github.com/krisalay/livesync/internal/mockapi"
	"github.com/krisalay/livesync/refresh"
	"github.com/krisalay/livesync/types"
)

// ================= BACKEND =================

// startBackend serves the mock API on a loopback port and counts requests.
func startBackend() (url string, hits *atomic.Int64, stop func()) {
	hits = &atomic.Int64{}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if req.Method == http.MethodGet {
				hits.Add(1)
				fmt.Println("BACKEND → GET", req.URL.Path)
			} else {
				fmt.Println("BACKEND →", req.Method, req.URL.Path)
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Mount("/api", mockapi.New(mockapi.Options{Latency: 50 * time.Millisecond}).Router())

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	srv := &http.Server{Handler: r}
	go srv.Serve(ln)

	return "http://" + ln.Addr().String(), hits, func() { _ = srv.Close() }
}

// ================= METRICS =================
type Metrics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	fetches   atomic.Int64
	coalesced atomic.Int64
	notifies  atomic.Int64
	refreshes atomic.Int64
}

func (m *Metrics) Hit(string)                         { m.hits.Add(1) }
func (m *Metrics) Miss(string)                        { m.misses.Add(1) }
func (m *Metrics) Stale(string)                       {}
func (m *Metrics) Fetch(string, time.Duration, error) { m.fetches.Add(1) }
func (m *Metrics) Coalesced(string)                   { m.coalesced.Add(1) }
func (m *Metrics) Notify(string, int)                 { m.notifies.Add(1) }
func (m *Metrics) Refresh(string)                     { m.refreshes.Add(1) }

func (m *Metrics) Print() {
	fmt.Println("\n==================== METRICS ====================")
	fmt.Printf("FRESH READS         : %d\n", m.hits.Load())
	fmt.Printf("OTHER READS         : %d\n", m.misses.Load())
	fmt.Printf("FETCHES             : %d\n", m.fetches.Load())
	fmt.Printf("COALESCED JOINS     : %d\n", m.coalesced.Load())
	fmt.Printf("NOTIFICATIONS       : %d\n", m.notifies.Load())
	fmt.Printf("BACKGROUND REFRESHES: %d\n", m.refreshes.Load())
}

func panel(name string) func(types.CacheEntry) {
	return func(e types.CacheEntry) {
		msg := fmt.Sprintf("PANEL %-8s ← %s v%d %s", name, e.Key, e.Version, e.State)
		if e.Err != nil {
			msg += " (" + e.Err.Error() + ")"
		}
		fmt.Println(msg)
	}
}

// ================= MAIN =================

func main() {
	ctx := context.Background()

	fmt.Println("\n==================== SYSTEM BOOT ====================")

	// ---------------- System Config ----------------
	fmt.Println("BACKEND        : in-process mock API")
	fmt.Println("WRITE MODE     : WRITE-THROUGH")
	fmt.Println("SHARDS         : 4")
	fmt.Println("STALE AFTER    : 1s")
	fmt.Println("REVALIDATE     : background, on stale read")

	url, hits, stopBackend := startBackend()
	defer stopBackend()

	client := fetch.New(fetch.Config{BaseURL: url, Timeout: 2 * time.Second})
	metrics := &Metrics{}

	e := engine.NewEngine(
		&expiration.StaleAfterFetch{Default: time.Second},
		refresh.NewBackground(2*time.Second, zerolog.Nop()),
		client,
		nil,
		metrics,
	)
	store := livesync.New(e, livesync.WithShards(4))

	// ====================================================
	fmt.Println("\n==================== 1) FETCH ON MOUNT ====================")
	unmountHero, err := store.Mount("hero", panel("hero"),
		livesync.Watch{Key: "dashboard-stats"},
	)
	if err != nil {
		panic(err)
	}
	time.Sleep(200 * time.Millisecond)
	fmt.Println("STORE  → dashboard-stats is", store.Get("dashboard-stats").State)

	// ====================================================
	fmt.Println("\n==================== 2) COALESCED REFRESH ====================")
	before := hits.Load()
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			err := store.Refresh(ctx, "hospitals")
			fmt.Printf("GOROUTINE-%d → refresh hospitals, err=%v\n", id, err)
		}(i)
	}
	wg.Wait()
	fmt.Println("BACKEND → requests for 5 refreshes:", hits.Load()-before)

	// ====================================================
	fmt.Println("\n==================== 3) STALE WHILE REVALIDATE ====================")
	time.Sleep(1100 * time.Millisecond)
	ent := store.Get("hospitals")
	fmt.Println("STORE  → GET hospitals after 1.1s =", ent.State, "(last data still served)")
	time.Sleep(200 * time.Millisecond)
	fmt.Println("STORE  → GET hospitals after revalidation =", store.Get("hospitals").State)

	// ====================================================
	fmt.Println("\n==================== 4) GROUP REFRESH ====================")
	unmountAdvisory, _ := store.Mount("advisory", panel("advisory"), livesync.Watch{Key: "health-advisories"})
	time.Sleep(200 * time.Millisecond)
	group := []string{"dashboard-stats", "hospitals", "health-advisories"}
	if err := store.RefreshAll(ctx, group); err != nil {
		fmt.Println("GROUP  → refresh failed:", err)
	}
	fmt.Println("GROUP  → refreshed", group, "(unchanged data notifies nobody)")

	// ====================================================
	fmt.Println("\n==================== 5) MUTATION ====================")
	err = store.Submit(ctx, "health-advisories", map[string]any{
		"type":     "medical",
		"message":  "Dengue cases rising in Kurla. Remove standing water.",
		"severity": "high",
	}, "health-advisories", "dashboard-stats")
	fmt.Println("STORE  → submit advisory, err =", err)
	time.Sleep(300 * time.Millisecond)

	// ====================================================
	fmt.Println("\n==================== 6) FRESHNESS ====================")
	ind := freshness.New(500*time.Millisecond, func() {
		fmt.Println("FRESH  → highlight reverted")
	})
	ind.Observe(store.Get("hospitals"))
	_, _ = client.Put(ctx, "hospitals", map[string]any{
		"name": "Lilavati Hospital", "location": "Bandra West",
		"latitude": "19.0510", "longitude": "72.8290", "bedsAvailable": 12,
	})
	_ = store.Refresh(ctx, "hospitals")
	st := ind.Observe(store.Get("hospitals"))
	fmt.Println("FRESH  → highlight =", st.Highlight, "changed =", st.ChangedFields)
	time.Sleep(600 * time.Millisecond)
	ind.Stop()

	// ====================================================
	fmt.Println("\n==================== 7) FAILURE KEEPS LAST DATA ====================")
	err = store.Refresh(ctx, "no-such-feed")
	fmt.Println("STORE  → refresh no-such-feed, err =", err)
	fmt.Println("STORE  → state =", store.Get("no-such-feed").State, "kind =", types.KindOf(err))

	// ====================================================
	metrics.Print()

	// ====================================================
	fmt.Println("\n==================== SHUTDOWN ====================")
	unmountHero()
	unmountAdvisory()
	store.Close()
	fmt.Println("SYSTEM → store closed cleanly")
}
