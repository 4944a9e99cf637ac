// Package model defines the core domain types for TagSentry.
//
// Types mirror the JSON shapes emitted in health reports. Records that feed
// correlation (beacons, interaction windows) are immutable once created and
// carry monotonic millisecond timestamps from the run's clock; wall-clock
// times appear only as evidence, never in correlation logic.
package model

import "time"

// BeaconKind classifies an outbound network request observed during a run.
type BeaconKind string

const (
	// BeaconTagManagerLoad is a tag-manager or gtag loader script request.
	BeaconTagManagerLoad BeaconKind = "tag_manager_load"
	// BeaconAnalyticsCollect is an analytics collection hit.
	BeaconAnalyticsCollect BeaconKind = "analytics_collect"
	// BeaconOther is tag-related traffic that matched no known shape,
	// including collect URLs that failed to parse.
	BeaconOther BeaconKind = "other"
)

// Beacon is one observed analytics-related network request. Appended to the
// run's log in arrival order and never revised.
type Beacon struct {
	URL          string     `json:"url"`
	ObservedAt   time.Time  `json:"observed_at"`
	ObservedAtMs int64      `json:"observed_at_ms"`
	Kind         BeaconKind `json:"kind"`

	// EventName and MeasurementID are parsed from collect beacons only.
	// Nil means the parameter was absent, never "empty string".
	EventName     *string `json:"event_name,omitempty"`
	MeasurementID *string `json:"measurement_id,omitempty"`
}
