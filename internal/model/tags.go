package model

// TagSnapshot is a single point-in-time read of the tag identifiers present
// in page markup and the state of the tag runtimes, captured once after the
// post-navigation settle delay.
type TagSnapshot struct {
	// ContainerIDs are tag-manager container IDs (GTM-…) found in markup.
	ContainerIDs []string `json:"gtm_ids"`
	// MeasurementIDs are analytics measurement IDs (G-…) found in markup.
	MeasurementIDs []string `json:"ga4_ids"`
	// AdsIDs are ad-conversion IDs (AW-…). Captured only so they are not
	// mistaken for the other two families; excluded from every issue rule.
	AdsIDs []string `json:"aw_ids"`

	// ManagerRuntime reports whether the tag-manager runtime object exists.
	ManagerRuntime bool `json:"gtm_runtime"`
	// AnalyticsRuntime reports whether the gtag function exists or the data
	// layer carries a manager bootstrap entry.
	AnalyticsRuntime bool `json:"ga4_runtime"`
	// ConfiguredIDs are measurement IDs the runtime was explicitly
	// configured with via a data-layer config push.
	ConfiguredIDs []string `json:"configured_ids"`
}

// Initialized reports whether the analytics runtime received at least one
// explicit config push. Distinct from the runtime merely existing.
func (s TagSnapshot) Initialized() bool {
	return len(s.ConfiguredIDs) > 0
}

// AnyTags reports whether either real tag family appeared in markup.
// Ads IDs do not count.
func (s TagSnapshot) AnyTags() bool {
	return len(s.ContainerIDs) > 0 || len(s.MeasurementIDs) > 0
}
