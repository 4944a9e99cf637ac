// Package engine orchestrates one verification run end to end: navigate,
// detect, simulate consent, exercise CTAs, and assemble the HealthReport.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/tagsentry/tagsentry/internal/browser"
	"github.com/tagsentry/tagsentry/internal/clock"
	"github.com/tagsentry/tagsentry/internal/consent"
	"github.com/tagsentry/tagsentry/internal/detect"
	"github.com/tagsentry/tagsentry/internal/interact"
	"github.com/tagsentry/tagsentry/internal/model"
	"github.com/tagsentry/tagsentry/internal/observer"
	"github.com/tagsentry/tagsentry/internal/telemetry"
	"github.com/tagsentry/tagsentry/internal/verdict"
)

// ctaOrder fixes the execution order of interaction categories. Forms go
// last: a submit may navigate away and invalidate remaining elements.
var ctaOrder = []model.CTACategory{model.CTAPhone, model.CTAEmail, model.CTAForm}

// Config bounds a verification run.
type Config struct {
	// SettleWait is how long the page gets after navigation for async tag
	// bootstrapping before detection.
	SettleWait time.Duration

	Consent  consent.Config
	Interact interact.Config
}

func (c Config) withDefaults() Config {
	if c.SettleWait <= 0 {
		c.SettleWait = 5 * time.Second
	}
	return c
}

// Request names one page to verify.
type Request struct {
	URL    string            `json:"url"`
	Labels map[string]string `json:"labels,omitempty"`
}

// Engine runs verifications. Safe for concurrent use; every run gets its
// own session, clock, and beacon log.
type Engine struct {
	factory browser.Factory
	cfg     Config
	logger  *slog.Logger

	runCount    metric.Int64Counter
	runDuration metric.Float64Histogram
	runBeacons  metric.Int64Histogram
}

// New creates an engine on the given session factory.
func New(factory browser.Factory, cfg Config, logger *slog.Logger) *Engine {
	meter := telemetry.Meter("tagsentry/engine")
	runs, _ := meter.Int64Counter("tagsentry.verify.count",
		metric.WithDescription("Completed verification runs by overall status"),
	)
	dur, _ := meter.Float64Histogram("tagsentry.verify.duration",
		metric.WithDescription("Wall-clock duration of a verification run (ms)"),
		metric.WithUnit("ms"),
	)
	beacons, _ := meter.Int64Histogram("tagsentry.verify.beacons",
		metric.WithDescription("Tag-related beacons observed per verification run"),
	)
	return &Engine{
		factory:     factory,
		cfg:         cfg.withDefaults(),
		logger:      logger,
		runCount:    runs,
		runDuration: dur,
		runBeacons:  beacons,
	}
}

// Verify runs the full pipeline against one page. It always returns a
// report: phase-level failures produce an ERROR report carrying whatever
// evidence was gathered before the failure, with the error recorded as a
// critical issue. The returned error is non-nil only alongside such a
// report.
func (e *Engine) Verify(ctx context.Context, req Request) (*model.HealthReport, error) {
	started := time.Now()
	rep := &model.HealthReport{
		ID:        uuid.New(),
		URL:       req.URL,
		Labels:    req.Labels,
		Timestamp: started.UTC(),
	}
	logger := e.logger.With("run_id", rep.ID, "url", req.URL)
	logger.Info("engine: run started")

	clk := clock.New()
	log := observer.NewLog(clk)

	rep, err := e.run(ctx, rep, req, clk, log, logger)

	// Evidence is assembled on both paths: an ERROR report still carries
	// everything observed before the failure.
	rep.Evidence.Beacons = log.Snapshot()
	rep.TagsFiring = model.TagsFiring{
		ManagerLoaded:   rep.TagsFound.ManagerRuntime || log.CountKind(model.BeaconTagManagerLoad) > 0,
		AnalyticsLoaded: rep.TagsFound.AnalyticsRuntime || log.CountKind(model.BeaconAnalyticsCollect) > 0,
		Initialized:     rep.TagsFound.Initialized(),
		ManagerHits:     log.CountKind(model.BeaconTagManagerLoad),
		CollectHits:     log.CountKind(model.BeaconAnalyticsCollect),
		ConfiguredIDs:   rep.TagsFound.ConfiguredIDs,
	}
	if err == nil {
		verdict.Finalize(rep)
	}

	elapsed := time.Since(started)
	e.runCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(rep.OverallStatus)),
	))
	e.runDuration.Record(ctx, float64(elapsed.Milliseconds()))
	e.runBeacons.Record(ctx, int64(len(rep.Evidence.Beacons)))

	logger.Info("engine: run finished",
		"status", rep.OverallStatus,
		"issues", len(rep.Issues),
		"beacons", len(rep.Evidence.Beacons),
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return rep, err
}

// run executes the phases. A non-nil error marks the report ERROR; the
// caller finishes evidence assembly either way.
func (e *Engine) run(ctx context.Context, rep *model.HealthReport, req Request, clk *clock.Monotonic, log *observer.Log, logger *slog.Logger) (*model.HealthReport, error) {
	sess, err := e.factory.NewSession(ctx)
	if err != nil {
		return e.fail(rep, "browser session", err)
	}
	defer func() {
		// Close on a fresh context so shutdown still works after ctx
		// cancellation.
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sess.Close(closeCtx); err != nil {
			logger.Warn("engine: session close failed", "error", err)
		}
	}()

	// The observer must be registered before navigation: loader beacons
	// fire during page load.
	sess.OnRequest(log.OnRequest)

	if err := sess.Navigate(ctx, req.URL); err != nil {
		return e.fail(rep, "navigation", &NavigationError{URL: req.URL, Err: err})
	}
	rep.Evidence.PageLoadMs = clk.NowMs()
	logger.Debug("engine: page loaded", "page_load_ms", rep.Evidence.PageLoadMs)

	sleep(ctx, e.cfg.SettleWait)

	snap, err := detect.Detect(ctx, sess)
	if err != nil {
		return e.fail(rep, "detection", &DetectionError{Err: err})
	}
	rep.TagsFound = snap
	logger.Info("engine: tags detected",
		"containers", len(snap.ContainerIDs),
		"measurements", len(snap.MeasurementIDs),
		"configured", len(snap.ConfiguredIDs),
	)

	rep.CookieConsent = consent.New(log, clk, e.cfg.Consent, logger).Run(ctx, sess)

	driver := interact.New(log, clk, e.cfg.Interact, logger)
	results := rep.CTATests.Results()
	for _, cat := range ctaOrder {
		res, err := driver.RunCategory(ctx, sess, cat)
		if err != nil {
			*results[cat] = res
			return e.fail(rep, fmt.Sprintf("interactions (%s)", cat), err)
		}
		*results[cat] = res
	}

	e.snapshotDataLayer(ctx, sess, rep, logger)
	return rep, nil
}

// snapshotDataLayer captures the final data-layer state as evidence and
// folds in config pushes that happened after detection, typically unlocked
// by consent. Best-effort: a failed evaluation leaves the detection-time
// snapshot in place.
func (e *Engine) snapshotDataLayer(ctx context.Context, sess browser.Session, rep *model.HealthReport, logger *slog.Logger) {
	var raw string
	if err := sess.Evaluate(ctx, detect.DataLayerJS, &raw); err != nil {
		logger.Warn("engine: final data-layer snapshot failed", "error", err)
		return
	}
	if json.Valid([]byte(raw)) {
		rep.Evidence.DataLayer = json.RawMessage(raw)
	}
	info, err := detect.ParseDataLayer([]byte(raw))
	if err != nil {
		logger.Warn("engine: final data-layer parse failed", "error", err)
		return
	}
	rep.TagsFound.ConfiguredIDs = mergeIDs(rep.TagsFound.ConfiguredIDs, info.ConfiguredIDs)
	if info.BootstrapSeen {
		rep.TagsFound.AnalyticsRuntime = true
	}
}

// fail records a phase failure and marks the report ERROR.
func (e *Engine) fail(rep *model.HealthReport, phase string, err error) (*model.HealthReport, error) {
	wrapped := fmt.Errorf("engine: %s: %w", phase, err)
	rep.Issues = append(rep.Issues, model.Issue{
		Severity: model.SeverityCritical,
		Message:  fmt.Sprintf("Verification aborted during %s: %v", phase, err),
	})
	rep.OverallStatus = model.StatusError
	return rep, wrapped
}

func mergeIDs(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
