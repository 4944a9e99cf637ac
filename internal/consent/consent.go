// Package consent locates and activates a cookie-consent acceptance control
// and observes whether tracking follows. Absence of a banner, or a beacon
// that never arrives, are normal observed outcomes, not failures.
package consent

import (
	"context"
	"log/slog"
	"time"

	"github.com/tagsentry/tagsentry/internal/browser"
	"github.com/tagsentry/tagsentry/internal/clock"
	"github.com/tagsentry/tagsentry/internal/model"
	"github.com/tagsentry/tagsentry/internal/observer"
)

// defaultSelectors is the probe order: vendor-specific patterns first, the
// generic attribute heuristics last. The first visible match wins; there is
// no attempt to disambiguate multiple matches.
var defaultSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#hs-eu-confirmation-button",
	".cc-allow",
	"#cookie_action_close_header",
	"[data-cookiebanner='accept_button']",
	"#CybotCookiebotDialogBodyLevelButtonLevelOptinAllowAll",
	"button[id*='accept']",
	"a[id*='accept']",
	"button[class*='accept']",
	"button[aria-label*='accept']",
}

// Config bounds the consent phase.
type Config struct {
	// Selectors overrides the probe list. Nil keeps the defaults.
	Selectors []string
	// BeaconWait bounds the post-accept wait for a collect beacon.
	BeaconWait time.Duration
	// PollInterval is the beacon-wait polling period.
	PollInterval time.Duration
	// GraceWait runs after the beacon wait so late consent-triggered
	// requests settle before the next phase starts.
	GraceWait time.Duration
}

func (c Config) withDefaults() Config {
	if c.Selectors == nil {
		c.Selectors = defaultSelectors
	}
	if c.BeaconWait <= 0 {
		c.BeaconWait = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.GraceWait <= 0 {
		c.GraceWait = time.Second
	}
	return c
}

// Simulator drives the consent phase against the shared beacon log.
type Simulator struct {
	log    *observer.Log
	clock  *clock.Monotonic
	cfg    Config
	logger *slog.Logger
}

// New creates a consent simulator on the run's log and clock.
func New(log *observer.Log, clk *clock.Monotonic, cfg Config, logger *slog.Logger) *Simulator {
	return &Simulator{log: log, clock: clk, cfg: cfg.withDefaults(), logger: logger}
}

// Run probes for a consent control and, if one is visible, accepts it and
// waits for tracking to follow. A missing banner makes the phase a no-op.
func (s *Simulator) Run(ctx context.Context, sess browser.Session) model.ConsentOutcome {
	el, selector := s.find(ctx, sess)
	if el == nil {
		s.logger.Debug("consent: no banner found")
		return model.ConsentOutcome{}
	}

	out := model.ConsentOutcome{BannerFound: true, Selector: selector}
	clickMs := s.clock.NowMs()

	if err := el.Click(ctx, false); err != nil {
		// Covered or intercepted controls are common; one forced retry.
		s.logger.Warn("consent: click failed, retrying forced", "selector", selector, "error", err)
		if err := el.Click(ctx, true); err != nil {
			s.logger.Warn("consent: forced click failed", "selector", selector, "error", err)
			return out
		}
	}
	out.Accepted = true

	out.TrackingFiredAfter = s.awaitBeacon(ctx, clickMs)
	sleep(ctx, s.cfg.GraceWait)
	return out
}

// find evaluates the selector priority list and returns the first visible
// match. Probe errors on individual selectors count as absence.
func (s *Simulator) find(ctx context.Context, sess browser.Session) (browser.Element, string) {
	for _, selector := range s.cfg.Selectors {
		els, err := sess.QueryAll(ctx, selector)
		if err != nil {
			continue
		}
		for _, el := range els {
			visible, err := el.Visible(ctx)
			if err == nil && visible {
				return el, selector
			}
		}
	}
	return nil, ""
}

// awaitBeacon polls the log for a collect beacon at or after sinceMs, up to
// the configured bound. Timeout is an observed absence, not an error.
func (s *Simulator) awaitBeacon(ctx context.Context, sinceMs int64) bool {
	deadline := time.Now().Add(s.cfg.BeaconWait)
	for {
		if s.log.CollectsSince(sinceMs) > 0 {
			return true
		}
		if time.Now().After(deadline) || ctx.Err() != nil {
			return false
		}
		sleep(ctx, s.cfg.PollInterval)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
