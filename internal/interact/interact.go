// Package interact drives the simulated call-to-action interactions: phone
// links, email links, and forms. Interactions run strictly sequentially —
// overlapping windows would make beacon attribution ambiguous — and each
// one is bracketed by monotonic timestamps from the run clock, handed to
// the correlation logic as a closed window.
package interact

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tagsentry/tagsentry/internal/browser"
	"github.com/tagsentry/tagsentry/internal/clock"
	"github.com/tagsentry/tagsentry/internal/model"
	"github.com/tagsentry/tagsentry/internal/observer"
	"github.com/tagsentry/tagsentry/internal/verdict"
)

// categorySelectors enumerate each CTA family.
var categorySelectors = map[model.CTACategory]string{
	model.CTAPhone: `a[href^="tel:"]`,
	model.CTAEmail: `a[href^="mailto:"]`,
	model.CTAForm:  "form",
}

// Synthetic form inputs. Deliberately inert values: runs hit production
// sites and submissions should be recognizable as test traffic.
const (
	syntheticEmail = "test@example.com"
	syntheticPhone = "5551234567"
	syntheticText  = "Test"
)

// submitSelector finds submit-like controls inside a form.
const submitSelector = `button[type="submit"], input[type="submit"], button:not([type])`

// validationSelector finds visible validation-error indicators; their
// presence suppresses the submit click.
const validationSelector = `.error, .field-error, .invalid-feedback, [aria-invalid="true"]`

// Config bounds the driver.
type Config struct {
	// LinkCap and FormCap limit how many elements per category are
	// exercised, bounding run time and side effects on production systems.
	LinkCap int
	FormCap int
	// StabilizeWait runs between scrolling an element into view and
	// interacting with it.
	StabilizeWait time.Duration
	// LinkObserveWait and FormObserveWait are the fixed post-interaction
	// observation delays; forms get longer for AJAX or navigation.
	LinkObserveWait time.Duration
	FormObserveWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.LinkCap <= 0 {
		c.LinkCap = 3
	}
	if c.FormCap <= 0 {
		c.FormCap = 2
	}
	if c.StabilizeWait <= 0 {
		c.StabilizeWait = 300 * time.Millisecond
	}
	if c.LinkObserveWait <= 0 {
		c.LinkObserveWait = 3 * time.Second
	}
	if c.FormObserveWait <= 0 {
		c.FormObserveWait = 4 * time.Second
	}
	return c
}

// Driver exercises CTA elements against the shared beacon log.
type Driver struct {
	log    *observer.Log
	clock  *clock.Monotonic
	cfg    Config
	logger *slog.Logger
}

// New creates a driver on the run's log and clock.
func New(log *observer.Log, clk *clock.Monotonic, cfg Config, logger *slog.Logger) *Driver {
	return &Driver{log: log, clock: clk, cfg: cfg.withDefaults(), logger: logger}
}

// RunCategory enumerates and exercises one CTA category. Per-element
// failures are absorbed into the result as ClickFailed outcomes; only a
// broken session (enumeration failure, cancellation) returns an error.
func (d *Driver) RunCategory(ctx context.Context, sess browser.Session, cat model.CTACategory) (model.CTAResult, error) {
	els, err := sess.QueryAll(ctx, categorySelectors[cat])
	if err != nil {
		return model.CTAResult{}, fmt.Errorf("interact: enumerate %s: %w", cat, err)
	}

	result := model.CTAResult{Found: len(els)}
	limit := d.cfg.LinkCap
	observe := d.cfg.LinkObserveWait
	if cat == model.CTAForm {
		limit = d.cfg.FormCap
		observe = d.cfg.FormObserveWait
	}

	for i, el := range els[:min(limit, len(els))] {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		target := d.targetID(ctx, el, cat, i)

		win := model.InteractionWindow{
			Category: cat,
			Target:   target,
			StartMs:  d.clock.NowMs(),
		}

		if err := d.exercise(ctx, el, cat); err != nil {
			// The element does not count as tested and gets no
			// correlation: an attempt that threw proves nothing about
			// tracking.
			d.logger.Warn("interact: interaction failed", "category", cat, "target", target, "error", err)
			win.EndMs = d.clock.NowMs()
			win.Outcome = model.InteractionOutcome{
				Kind:       model.OutcomeClickFailed,
				FailReason: err.Error(),
			}
			result.Failures = append(result.Failures, model.InteractionFailure{
				Target: target,
				Reason: err.Error(),
			})
			result.Windows = append(result.Windows, win)
			continue
		}

		sleep(ctx, observe)
		win.EndMs = d.clock.NowMs()
		result.Tested++

		win.Outcome = verdict.Classify(d.log.Snapshot(), win.StartMs, win.EndMs)
		if win.Outcome.Kind == model.OutcomeTracked {
			result.Working++
			result.Events = append(result.Events, model.FiredEvent{
				Target:      target,
				EventNames:  win.Outcome.EventNames,
				BeaconCount: win.Outcome.BeaconCount,
			})
		}
		result.Windows = append(result.Windows, win)

		d.logger.Info("interact: interaction classified",
			"category", cat,
			"target", target,
			"outcome", win.Outcome.Kind,
			"beacons", win.Outcome.BeaconCount,
		)
	}

	return result, nil
}

// exercise performs one interaction: click for links, fill-and-submit for
// forms. Any error aborts just this element.
func (d *Driver) exercise(ctx context.Context, el browser.Element, cat model.CTACategory) error {
	if err := el.ScrollIntoView(ctx); err != nil {
		return fmt.Errorf("scroll into view: %w", err)
	}
	sleep(ctx, d.cfg.StabilizeWait)

	if cat == model.CTAForm {
		return d.fillAndSubmit(ctx, el)
	}
	if err := el.Click(ctx, false); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

// fillAndSubmit fills a form's visible controls by heuristic and clicks a
// submit-like control, unless a visible validation-error indicator is
// already present.
func (d *Driver) fillAndSubmit(ctx context.Context, form browser.Element) error {
	controls, err := form.QueryAll(ctx, "input, textarea, select")
	if err != nil {
		return fmt.Errorf("enumerate controls: %w", err)
	}

	for _, c := range controls {
		visible, err := c.Visible(ctx)
		if err != nil || !visible {
			continue
		}
		if err := d.fillControl(ctx, c); err != nil {
			return fmt.Errorf("fill control: %w", err)
		}
	}

	if d.hasVisibleValidationError(ctx, form) {
		d.logger.Info("interact: validation error visible, skipping submit")
		return nil
	}

	submits, err := form.QueryAll(ctx, submitSelector)
	if err != nil {
		return fmt.Errorf("find submit: %w", err)
	}
	for _, s := range submits {
		visible, err := s.Visible(ctx)
		if err != nil || !visible {
			continue
		}
		if err := s.Click(ctx, false); err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		return nil
	}
	// No submit control is not a failure; the fill itself may already have
	// fired field-level events.
	return nil
}

// fillControl applies the per-control heuristic.
func (d *Driver) fillControl(ctx context.Context, c browser.Element) error {
	switch c.Tag() {
	case "textarea":
		return c.Fill(ctx, "Test message")
	case "select":
		return nil
	case "input":
	default:
		return nil
	}

	typ, ok, err := c.Attr(ctx, "type")
	if err != nil {
		return err
	}
	if !ok {
		typ = "text"
	}
	typ = strings.ToLower(typ)

	switch typ {
	case "hidden", "submit", "button", "file", "password", "image":
		return nil
	case "checkbox", "radio":
		if _, required, err := c.Attr(ctx, "required"); err != nil {
			return err
		} else if required {
			return c.SetChecked(ctx)
		}
		return nil
	case "email":
		return c.Fill(ctx, syntheticEmail)
	case "tel":
		return c.Fill(ctx, syntheticPhone)
	}

	// Free-text inputs: route by name/id when they look like contact
	// fields.
	hint := d.nameHint(ctx, c)
	switch {
	case strings.Contains(hint, "email"):
		return c.Fill(ctx, syntheticEmail)
	case strings.Contains(hint, "phone"), strings.Contains(hint, "tel"):
		return c.Fill(ctx, syntheticPhone)
	default:
		return c.Fill(ctx, syntheticText)
	}
}

func (d *Driver) nameHint(ctx context.Context, c browser.Element) string {
	name, _, _ := c.Attr(ctx, "name")
	id, _, _ := c.Attr(ctx, "id")
	return strings.ToLower(name + " " + id)
}

func (d *Driver) hasVisibleValidationError(ctx context.Context, form browser.Element) bool {
	indicators, err := form.QueryAll(ctx, validationSelector)
	if err != nil {
		return false
	}
	for _, ind := range indicators {
		if visible, err := ind.Visible(ctx); err == nil && visible {
			return true
		}
	}
	return false
}

// targetID names an element for the report: href for links, id or name for
// forms, positional fallback otherwise.
func (d *Driver) targetID(ctx context.Context, el browser.Element, cat model.CTACategory, i int) string {
	if cat == model.CTAForm {
		if id, ok, _ := el.Attr(ctx, "id"); ok && id != "" {
			return "form#" + id
		}
		if name, ok, _ := el.Attr(ctx, "name"); ok && name != "" {
			return "form[name=" + name + "]"
		}
		return fmt.Sprintf("form[%d]", i)
	}
	if href, ok, _ := el.Attr(ctx, "href"); ok && href != "" {
		return href
	}
	return fmt.Sprintf("%s[%d]", cat, i)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
