// Package observer records every analytics-related network request a browser
// session emits into an append-only, arrival-ordered beacon log.
//
// The log is the one component that runs concurrently with the main control
// flow: the browser's network events fire on their own goroutine for the
// whole session. Consumers never read "beacons since last check"; they slice
// the log by closed monotonic time windows after the fact, which absorbs
// delivery jitter without coordination.
package observer

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tagsentry/tagsentry/internal/clock"
	"github.com/tagsentry/tagsentry/internal/model"
)

// managerLoadMarkers identify tag-manager and gtag loader script requests.
var managerLoadMarkers = []string{
	"googletagmanager.com/gtm.js",
	"googletagmanager.com/gtag/js",
}

// collectMarkers identify analytics collection hits under their common path
// aliases. Regional hosts (region1.google-analytics.com, …) still contain
// the base host substring.
var collectMarkers = []string{
	"google-analytics.com/g/collect",
	"analytics.google.com/g/collect",
	"google-analytics.com/collect",
	"google-analytics.com/j/collect",
	"googletagmanager.com/g/collect",
}

// Log is the append-only beacon sequence for one run. Safe for concurrent
// appends from the network event goroutine while the main flow reads.
type Log struct {
	clock *clock.Monotonic

	mu      sync.Mutex
	beacons []model.Beacon
}

// NewLog creates an empty beacon log on the given run clock.
func NewLog(c *clock.Monotonic) *Log {
	return &Log{clock: c}
}

// OnRequest classifies one outbound request and appends a beacon if it is
// tag-related. Invoked for every request of the session, from before
// navigation until teardown. Never blocks on consumers and never fails:
// malformed collect URLs are still recorded, downgraded to BeaconOther with
// nil extracted fields.
func (l *Log) OnRequest(rawURL string) {
	kind := classify(rawURL)
	if kind == "" {
		return // irrelevant traffic
	}

	b := model.Beacon{
		URL:  rawURL,
		Kind: kind,
	}
	if kind == model.BeaconAnalyticsCollect {
		en, tid, ok := parseCollectParams(rawURL)
		if !ok {
			b.Kind = model.BeaconOther
		} else {
			b.EventName = en
			b.MeasurementID = tid
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	b.ObservedAtMs = l.clock.NowMs()
	b.ObservedAt = time.Now().UTC()
	l.beacons = append(l.beacons, b)
}

// classify returns the beacon kind for a tag-related URL, or "" for
// irrelevant traffic.
func classify(rawURL string) model.BeaconKind {
	for _, m := range collectMarkers {
		if strings.Contains(rawURL, m) {
			return model.BeaconAnalyticsCollect
		}
	}
	for _, m := range managerLoadMarkers {
		if strings.Contains(rawURL, m) {
			return model.BeaconTagManagerLoad
		}
	}
	return ""
}

// parseCollectParams extracts the en (event name) and tid (measurement id)
// query parameters. Absence of either is nil, not an error. A URL that does
// not parse at all reports ok=false.
func parseCollectParams(rawURL string) (eventName, measurementID *string, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, nil, false
	}
	// Query() silently drops malformed pairs; parse strictly so a mangled
	// query downgrades the beacon instead of half-reading it.
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, nil, false
	}
	if v := q.Get("en"); v != "" {
		eventName = &v
	}
	if v := q.Get("tid"); v != "" {
		measurementID = &v
	}
	return eventName, measurementID, true
}

// Snapshot returns a copy of the full log in arrival order.
func (l *Log) Snapshot() []model.Beacon {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.Beacon, len(l.beacons))
	copy(out, l.beacons)
	return out
}

// Len returns the number of recorded beacons.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.beacons)
}

// CountKind returns the number of beacons of one kind.
func (l *Log) CountKind(kind model.BeaconKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, b := range l.beacons {
		if b.Kind == kind {
			n++
		}
	}
	return n
}

// CollectsSince returns the number of analytics collect beacons observed at
// or after the given monotonic millisecond. Used by the consent phase's
// bounded wait.
func (l *Log) CollectsSince(ms int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, b := range l.beacons {
		if b.Kind == model.BeaconAnalyticsCollect && b.ObservedAtMs >= ms {
			n++
		}
	}
	return n
}
