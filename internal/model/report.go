package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the overall verdict of a verification run.
type Status string

const (
	StatusHealthy Status = "HEALTHY"
	StatusWarning Status = "WARNING"
	StatusFailing Status = "FAILING"
	// StatusError means a phase-level failure aborted the run; the report
	// retains whatever evidence was gathered before the failure.
	StatusError Status = "ERROR"
)

// Severity tags an issue as critical or warning.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityWarning  Severity = "WARNING"
)

// Issue is one derived finding. Serialized as the conventional prefixed
// string ("CRITICAL: …" / "WARNING: …") so the report's issues list stays a
// list of ordered human-readable strings.
type Issue struct {
	Severity Severity
	Message  string
}

func (i Issue) String() string {
	return string(i.Severity) + ": " + i.Message
}

// MarshalJSON renders the issue as its prefixed string form.
func (i Issue) MarshalJSON() ([]byte, error) {
	return json.Marshal(i.String())
}

// UnmarshalJSON parses the prefixed string form. Unprefixed strings load as
// warnings rather than failing the whole report.
func (i *Issue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("model: issue: %w", err)
	}
	switch {
	case strings.HasPrefix(s, string(SeverityCritical)+": "):
		i.Severity = SeverityCritical
		i.Message = strings.TrimPrefix(s, string(SeverityCritical)+": ")
	case strings.HasPrefix(s, string(SeverityWarning)+": "):
		i.Severity = SeverityWarning
		i.Message = strings.TrimPrefix(s, string(SeverityWarning)+": ")
	default:
		i.Severity = SeverityWarning
		i.Message = s
	}
	return nil
}

// TagsFiring summarizes observed runtime activity for the report.
type TagsFiring struct {
	ManagerLoaded   bool     `json:"gtm_loaded"`
	AnalyticsLoaded bool     `json:"ga4_loaded"`
	Initialized     bool     `json:"initialized"`
	ManagerHits     int      `json:"gtm_hits"`
	CollectHits     int      `json:"collect_hits"`
	ConfiguredIDs   []string `json:"configured_ids"`
}

// CTATests groups per-category interaction results.
type CTATests struct {
	Phone CTAResult `json:"phone"`
	Email CTAResult `json:"email"`
	Forms CTAResult `json:"forms"`
}

// Results returns the categories in their fixed execution order.
func (c *CTATests) Results() map[CTACategory]*CTAResult {
	return map[CTACategory]*CTAResult{
		CTAPhone: &c.Phone,
		CTAEmail: &c.Email,
		CTAForm:  &c.Forms,
	}
}

// Evidence carries the raw observations backing the verdict.
type Evidence struct {
	Beacons []Beacon `json:"beacons"`
	// DataLayer is the final JSON snapshot of the page's data queue.
	DataLayer json.RawMessage `json:"data_layer,omitempty"`
	// PageLoadMs is the initial navigation duration.
	PageLoadMs int64 `json:"page_load_ms"`
}

// HealthReport is the final product of one verification run. Built once at
// the end and immutable afterwards.
type HealthReport struct {
	ID            uuid.UUID         `json:"id"`
	URL           string            `json:"url"`
	Labels        map[string]string `json:"labels,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	TagsFound     TagSnapshot       `json:"tags_found"`
	TagsFiring    TagsFiring        `json:"tags_firing"`
	CookieConsent ConsentOutcome    `json:"cookie_consent"`
	CTATests      CTATests          `json:"cta_tests"`
	Issues        []Issue           `json:"issues"`
	Evidence      Evidence          `json:"evidence"`
	OverallStatus Status            `json:"overall_status"`
}
