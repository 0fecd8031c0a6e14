package availability

import (
	"context"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/zmyer/tera/master/tabletmgr"
	"github.com/zmyer/tera/metrics"
	"github.com/zmyer/tera/proto"
)

var (
	notServeGauge = metrics.NewGaugeVec("availability", "tablet_not_serve",
		"tablets currently without a serving node", "table")
	notServeSeconds = metrics.NewCounter("availability", "tablet_not_serve_seconds_total",
		"accumulated tablet-seconds without a serving node")
)

type Config struct {
	// AlertNotServeMs is the window after which a tablet counts against the
	// SLO; advisory only, placement is not driven from here.
	AlertNotServeMs int64 `json:"alert_not_serve_ms"`
}

const defaultAlertNotServeMs = 60000

// Tracker keeps per-tablet wall-clock windows of "no server" and publishes
// them as counters.
type Tracker struct {
	cfg Config
	mgr *tabletmgr.TabletManager

	// path -> when the tablet was first seen not serving
	notServing map[string]time.Time
	lastSweep  time.Time

	lock sync.Mutex
}

// NewTracker builds the tracker over the catalog.
func NewTracker(cfg Config, mgr *tabletmgr.TabletManager) *Tracker {
	if cfg.AlertNotServeMs <= 0 {
		cfg.AlertNotServeMs = defaultAlertNotServeMs
	}
	return &Tracker{
		cfg:        cfg,
		mgr:        mgr,
		notServing: make(map[string]time.Time),
		lastSweep:  time.Now(),
	}
}

// Sweep scans the catalog once, typically after a query round.
func (t *Tracker) Sweep(ctx context.Context) {
	span := trace.SpanFromContextSafe(ctx)
	now := time.Now()

	t.lock.Lock()
	defer t.lock.Unlock()

	elapsed := now.Sub(t.lastSweep)
	t.lastSweep = now

	counts := make(map[string]int)
	seen := make(map[string]struct{})
	for _, tablet := range t.mgr.AllTablets() {
		key := tablet.TableName() + "/" + tablet.Path()
		if tablet.Status() == proto.TabletReady {
			delete(t.notServing, key)
			continue
		}
		seen[key] = struct{}{}
		counts[tablet.TableName()]++
		since, ok := t.notServing[key]
		if !ok {
			t.notServing[key] = now
			continue
		}
		notServeSeconds.Add(elapsed.Seconds())
		if now.Sub(since).Milliseconds() > t.cfg.AlertNotServeMs {
			span.Warnf("tablet %s not serving for %s", key, now.Sub(since))
		}
	}
	// drop windows of tablets that left the catalog
	for key := range t.notServing {
		if _, ok := seen[key]; !ok {
			delete(t.notServing, key)
		}
	}

	notServeGauge.Reset()
	for table, n := range counts {
		notServeGauge.WithLabelValues(table).Set(float64(n))
	}
}

// NotServingCount returns the number of tracked unserved tablets.
func (t *Tracker) NotServingCount() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.notServing)
}
