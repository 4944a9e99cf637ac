// Package verdict holds the pure correlation and verdict logic: window
// classification of interactions, issue derivation, and the overall status.
// Everything here is a function of immutable inputs; running it twice over
// the same log and window yields the same outcome.
package verdict

import (
	"fmt"
	"strings"

	"github.com/tagsentry/tagsentry/internal/model"
)

// Classify attributes beacons to one interaction window and derives its
// outcome. Only analytics collect beacons whose monotonic timestamp lies in
// [startMs, endMs] (closed on both ends) are considered.
//
// The three-way split is deliberate: a collect beacon with no event name
// means the tag fires but the site's event payload is incomplete, which is
// a different defect from total tracking absence.
func Classify(log []model.Beacon, startMs, endMs int64) model.InteractionOutcome {
	var names []string
	count := 0
	for _, b := range log {
		if b.Kind != model.BeaconAnalyticsCollect {
			continue
		}
		if b.ObservedAtMs < startMs || b.ObservedAtMs > endMs {
			continue
		}
		count++
		if b.EventName != nil {
			names = append(names, *b.EventName)
		}
	}

	switch {
	case len(names) > 0:
		return model.InteractionOutcome{
			Kind:        model.OutcomeTracked,
			EventNames:  names,
			BeaconCount: count,
		}
	case count > 0:
		return model.InteractionOutcome{
			Kind:        model.OutcomeTrackedNoEventName,
			BeaconCount: count,
		}
	default:
		return model.InteractionOutcome{Kind: model.OutcomeUntracked}
	}
}

// categoryNouns phrase the per-category issue messages.
var categoryNouns = map[model.CTACategory]string{
	model.CTAPhone: "phone clicks",
	model.CTAEmail: "email clicks",
	model.CTAForm:  "form submissions",
}

// DeriveIssues computes the ordered issue list from accumulated evidence.
// Rules are independent; several may apply at once. The ads ID category
// feeds no rule.
func DeriveIssues(rep *model.HealthReport) []model.Issue {
	var issues []model.Issue
	snap := rep.TagsFound

	// No tags of either family at all.
	if !snap.AnyTags() {
		issues = append(issues, model.Issue{
			Severity: model.SeverityCritical,
			Message:  "No Google tracking tags (GTM or GA4) found on the page",
		})
	}

	// Identifiers in markup but runtime missing, per family.
	if len(snap.ContainerIDs) > 0 && !snap.ManagerRuntime {
		issues = append(issues, model.Issue{
			Severity: model.SeverityWarning,
			Message: fmt.Sprintf("GTM container found in markup (%s) but the tag manager runtime is not loaded",
				strings.Join(snap.ContainerIDs, ", ")),
		})
	}
	if len(snap.MeasurementIDs) > 0 && !snap.AnalyticsRuntime {
		issues = append(issues, model.Issue{
			Severity: model.SeverityWarning,
			Message: fmt.Sprintf("GA4 measurement ID found in markup (%s) but the analytics runtime is not loaded",
				strings.Join(snap.MeasurementIDs, ", ")),
		})
	}

	// Runtime present but never explicitly configured.
	if len(snap.MeasurementIDs) > 0 && snap.AnalyticsRuntime && !snap.Initialized() {
		issues = append(issues, model.Issue{
			Severity: model.SeverityWarning,
			Message:  "GA4 runtime is loaded but was never explicitly configured (no config push observed)",
		})
	}

	// Configured but silent for the whole session.
	if snap.Initialized() && len(rep.Evidence.Beacons) == 0 {
		issues = append(issues, model.Issue{
			Severity: model.SeverityWarning,
			Message:  "Tags are configured but no beacons were observed during the session",
		})
	}

	// Consent accepted without a post-consent beacon.
	c := rep.CookieConsent
	if c.BannerFound && c.Accepted && !c.TrackingFiredAfter {
		issues = append(issues, model.Issue{
			Severity: model.SeverityWarning,
			Message:  "Consent banner was accepted but no tracking beacon followed",
		})
	}

	// Per-category CTA rules, in fixed category order.
	for _, cat := range []model.CTACategory{model.CTAPhone, model.CTAEmail, model.CTAForm} {
		issues = append(issues, categoryIssues(cat, rep.CTATests.Results()[cat])...)
	}

	return issues
}

// categoryIssues applies the per-category tracking rules. The critical rule
// requires tested > 0: elements that were never exercised (every attempt
// threw, or the cap excluded them) cannot prove tracking is broken.
func categoryIssues(cat model.CTACategory, r *model.CTAResult) []model.Issue {
	if r.Found == 0 {
		return nil
	}
	noun := categoryNouns[cat]

	if r.Tested == 0 {
		return []model.Issue{{
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf("No %s could be exercised (%d found)", noun, r.Found),
		}}
	}
	if r.Working == 0 {
		return []model.Issue{{
			Severity: model.SeverityCritical,
			Message:  fmt.Sprintf("All %s not tracking (0/%d)", noun, r.Tested),
		}}
	}
	if r.Working < r.Tested {
		return []model.Issue{{
			Severity: model.SeverityWarning,
			Message:  fmt.Sprintf("Some %s not tracking (%d/%d working)", noun, r.Working, r.Tested),
		}}
	}
	return nil
}

// Overall reduces the issue list to a status. ERROR is never produced here;
// only a phase-level failure upstream short-circuits to it.
func Overall(issues []model.Issue) model.Status {
	warning := false
	for _, i := range issues {
		switch i.Severity {
		case model.SeverityCritical:
			return model.StatusFailing
		case model.SeverityWarning:
			warning = true
		}
	}
	if warning {
		return model.StatusWarning
	}
	return model.StatusHealthy
}

// Finalize derives the issue list and overall status onto the report.
func Finalize(rep *model.HealthReport) {
	rep.Issues = DeriveIssues(rep)
	rep.OverallStatus = Overall(rep.Issues)
}
