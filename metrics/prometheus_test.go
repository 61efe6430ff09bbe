package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/krisalay/livesync/types"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.Hit("hospitals")
	c.Hit("hospitals")
	c.Miss("hospitals")
	c.Stale("hospitals")
	c.Coalesced("hospitals")
	c.Notify("hospitals", 3)
	c.Refresh("hospitals")

	if got := testutil.ToFloat64(c.Reads.WithLabelValues("hospitals", "hit")); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.Reads.WithLabelValues("hospitals", "miss")); got != 1 {
		t.Errorf("misses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.StaleEntries.WithLabelValues("hospitals")); got != 1 {
		t.Errorf("stale = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.CoalescedJoins.WithLabelValues("hospitals")); got != 1 {
		t.Errorf("coalesced = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Notifications.WithLabelValues("hospitals")); got != 3 {
		t.Errorf("notifications = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.BackgroundRefreshes.WithLabelValues("hospitals")); got != 1 {
		t.Errorf("refreshes = %v, want 1", got)
	}
}

func TestCollectorFetchOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.Fetch("surge-zones", 10*time.Millisecond, nil)
	c.Fetch("surge-zones", time.Second, types.NewServerError("surge-zones", 500, ""))
	c.Fetch("surge-zones", time.Second, errors.New("dial tcp: refused"))

	if got := testutil.ToFloat64(c.Fetches.WithLabelValues("surge-zones", "ok", "")); got != 1 {
		t.Errorf("ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Fetches.WithLabelValues("surge-zones", "error", "server")); got != 1 {
		t.Errorf("server errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.Fetches.WithLabelValues("surge-zones", "error", "network")); got != 1 {
		t.Errorf("network errors = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.FetchDuration); n != 1 {
		t.Errorf("expected one histogram series, got %d", n)
	}
}

func TestCollectorLint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)
	c.Hit("k")
	c.Fetch("k", time.Millisecond, nil)

	problems, err := testutil.GatherAndLint(reg)
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, p := range problems {
		t.Errorf("lint %s: %s", p.Metric, p.Text)
	}

	expected := `
# HELP livesync_reads_total Total number of Get calls by outcome (hit = fresh data)
# TYPE livesync_reads_total counter
livesync_reads_total{key="k",outcome="hit"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "livesync_reads_total"); err != nil {
		t.Fatalf("compare: %v", err)
	}
}
