package model

// CTACategory names a family of call-to-action elements.
type CTACategory string

const (
	CTAPhone CTACategory = "phone"
	CTAEmail CTACategory = "email"
	CTAForm  CTACategory = "form"
)

// OutcomeKind is the classification of one exercised interaction.
type OutcomeKind string

const (
	// OutcomeTracked means at least one in-window collect beacon carried an
	// event name.
	OutcomeTracked OutcomeKind = "tracked"
	// OutcomeTrackedNoEventName means collect beacons fired in the window
	// but none carried an event name. Distinct from total absence: the tag
	// fires, the site's event payload is incomplete.
	OutcomeTrackedNoEventName OutcomeKind = "tracked_no_event_name"
	// OutcomeUntracked means no collect beacon fell inside the window.
	OutcomeUntracked OutcomeKind = "untracked"
	// OutcomeClickFailed means the interaction itself threw; the element
	// does not count as tested and no correlation is attempted.
	OutcomeClickFailed OutcomeKind = "click_failed"
)

// InteractionOutcome is derived purely from the beacons whose monotonic
// timestamp falls inside the interaction's window.
type InteractionOutcome struct {
	Kind OutcomeKind `json:"kind"`
	// EventNames lists event names of in-window collect beacons, in
	// observation order. Populated for OutcomeTracked only.
	EventNames []string `json:"event_names,omitempty"`
	// BeaconCount is the number of in-window collect beacons.
	BeaconCount int `json:"beacon_count,omitempty"`
	// FailReason is set for OutcomeClickFailed only.
	FailReason string `json:"fail_reason,omitempty"`
}

// InteractionWindow brackets one simulated interaction. Beacons are
// attributed to it by monotonic timestamp membership, start <= t <= end,
// never by wall clock.
type InteractionWindow struct {
	Category CTACategory        `json:"category"`
	Target   string             `json:"target"`
	StartMs  int64              `json:"start_ms"`
	EndMs    int64              `json:"end_ms"`
	Outcome  InteractionOutcome `json:"outcome"`
}

// FiredEvent records a tracked interaction for the report.
type FiredEvent struct {
	Target      string   `json:"target"`
	EventNames  []string `json:"event_names,omitempty"`
	BeaconCount int      `json:"beacon_count"`
}

// InteractionFailure records a failed interaction attempt for the report.
type InteractionFailure struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// CTAResult aggregates one category's interactions.
type CTAResult struct {
	Found    int                  `json:"found"`
	Tested   int                  `json:"tested"`
	Working  int                  `json:"working"`
	Events   []FiredEvent         `json:"events,omitempty"`
	Failures []InteractionFailure `json:"failures,omitempty"`
	Windows  []InteractionWindow  `json:"windows,omitempty"`
}

// ConsentOutcome records the consent simulation phase.
type ConsentOutcome struct {
	BannerFound bool `json:"banner_found"`
	Accepted    bool `json:"accepted"`
	// TrackingFiredAfter reports whether a collect beacon arrived within
	// the bounded post-accept wait. False is an observed absence, not an
	// error.
	TrackingFiredAfter bool `json:"tracking_fired_after"`
	// Selector is the pattern that matched the accept control, if any.
	Selector string `json:"selector,omitempty"`
}
