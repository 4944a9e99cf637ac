package observer

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagsentry/tagsentry/internal/clock"
	"github.com/tagsentry/tagsentry/internal/model"
)

func TestOnRequest_ClassifiesManagerLoad(t *testing.T) {
	l := NewLog(clock.New())
	l.OnRequest("https://www.googletagmanager.com/gtm.js?id=GTM-ABC123")
	l.OnRequest("https://www.googletagmanager.com/gtag/js?id=G-XYZ789")

	beacons := l.Snapshot()
	require.Len(t, beacons, 2)
	assert.Equal(t, model.BeaconTagManagerLoad, beacons[0].Kind)
	assert.Equal(t, model.BeaconTagManagerLoad, beacons[1].Kind)
	assert.Nil(t, beacons[0].EventName)
}

func TestOnRequest_ParsesCollectParams(t *testing.T) {
	l := NewLog(clock.New())
	l.OnRequest("https://region1.google-analytics.com/g/collect?v=2&tid=G-XYZ789&en=page_view")

	beacons := l.Snapshot()
	require.Len(t, beacons, 1)
	b := beacons[0]
	assert.Equal(t, model.BeaconAnalyticsCollect, b.Kind)
	require.NotNil(t, b.EventName)
	assert.Equal(t, "page_view", *b.EventName)
	require.NotNil(t, b.MeasurementID)
	assert.Equal(t, "G-XYZ789", *b.MeasurementID)
}

func TestOnRequest_MissingParamsAreNil(t *testing.T) {
	l := NewLog(clock.New())
	l.OnRequest("https://www.google-analytics.com/g/collect?v=2")

	beacons := l.Snapshot()
	require.Len(t, beacons, 1)
	assert.Equal(t, model.BeaconAnalyticsCollect, beacons[0].Kind)
	assert.Nil(t, beacons[0].EventName)
	assert.Nil(t, beacons[0].MeasurementID)
}

// A collect URL that fails to parse is still recorded, downgraded to Other
// with nil fields, never dropped.
func TestOnRequest_MalformedCollectURLDowngraded(t *testing.T) {
	l := NewLog(clock.New())
	l.OnRequest("https://google-analytics.com/g/collect?en=click%zz&tid=%")

	beacons := l.Snapshot()
	require.Len(t, beacons, 1)
	assert.Equal(t, model.BeaconOther, beacons[0].Kind)
	assert.Nil(t, beacons[0].EventName)
	assert.Nil(t, beacons[0].MeasurementID)
}

func TestOnRequest_IgnoresIrrelevantTraffic(t *testing.T) {
	l := NewLog(clock.New())
	l.OnRequest("https://example.com/styles.css")
	l.OnRequest("https://fonts.googleapis.com/css2?family=Inter")
	l.OnRequest("https://example.com/api/quote")

	assert.Equal(t, 0, l.Len())
}

func TestSnapshot_PreservesArrivalOrder(t *testing.T) {
	l := NewLog(clock.New())
	for i := 0; i < 5; i++ {
		l.OnRequest(fmt.Sprintf("https://www.google-analytics.com/g/collect?en=event_%d", i))
	}

	beacons := l.Snapshot()
	require.Len(t, beacons, 5)
	for i, b := range beacons {
		require.NotNil(t, b.EventName)
		assert.Equal(t, fmt.Sprintf("event_%d", i), *b.EventName)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	l := NewLog(clock.New())
	l.OnRequest("https://www.google-analytics.com/g/collect?en=a")

	snap := l.Snapshot()
	snap[0].URL = "mutated"

	assert.Equal(t, "https://www.google-analytics.com/g/collect?en=a", l.Snapshot()[0].URL)
}

func TestCollectsSince(t *testing.T) {
	l := NewLog(clock.New())
	l.OnRequest("https://www.googletagmanager.com/gtm.js?id=GTM-A")
	l.OnRequest("https://www.google-analytics.com/g/collect?en=a")
	l.OnRequest("https://www.google-analytics.com/g/collect?en=b")

	// Loader scripts never count as collects.
	assert.Equal(t, 2, l.CollectsSince(0))

	snap := l.Snapshot()
	after := snap[2].ObservedAtMs + 1
	assert.Equal(t, 0, l.CollectsSince(after))
}

func TestCountKind(t *testing.T) {
	l := NewLog(clock.New())
	l.OnRequest("https://www.googletagmanager.com/gtm.js?id=GTM-A")
	l.OnRequest("https://www.google-analytics.com/g/collect?en=a")
	l.OnRequest("https://www.google-analytics.com/g/collect")

	assert.Equal(t, 1, l.CountKind(model.BeaconTagManagerLoad))
	assert.Equal(t, 2, l.CountKind(model.BeaconAnalyticsCollect))
}

// The network event goroutine appends while the main flow reads; the log
// must tolerate that without losing beacons.
func TestConcurrentAppendAndRead(t *testing.T) {
	l := NewLog(clock.New())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.OnRequest("https://www.google-analytics.com/g/collect?en=x")
				_ = l.Snapshot()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, l.Len())
}
