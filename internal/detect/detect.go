// Package detect captures the one point-in-time TagSnapshot of a page:
// which tag identifiers appear in markup, whether the tag runtimes exist,
// and which measurement IDs were explicitly configured. Called once, after
// the post-navigation settle delay, so asynchronous tag-manager
// bootstrapping has had time to finish.
package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tagsentry/tagsentry/internal/browser"
	"github.com/tagsentry/tagsentry/internal/model"
)

var (
	gtmIDPattern = regexp.MustCompile(`GTM-[A-Z0-9]{4,}`)
	ga4IDPattern = regexp.MustCompile(`G-[A-Z0-9]{4,12}`)
	// Ad-conversion IDs are scanned only so they are not misread as one of
	// the families above; they feed no verdict rule.
	awIDPattern = regexp.MustCompile(`AW-[0-9]{6,}`)
)

// MarkupJS concatenates all script and noscript content (inline bodies and
// src URLs) for identifier scanning.
const MarkupJS = `(function() {
	var parts = [];
	var nodes = document.querySelectorAll('script,noscript');
	for (var i = 0; i < nodes.length; i++) {
		parts.push(nodes[i].src || '');
		parts.push(nodes[i].innerHTML || '');
	}
	return parts.join('\n');
})()`

// RuntimeJS probes the session's global tag runtime markers and snapshots
// the data layer in one evaluation.
const RuntimeJS = `(function() {
	return {
		manager: typeof window.google_tag_manager === 'object' && window.google_tag_manager !== null,
		gtag_fn: typeof window.gtag === 'function',
		data_layer: JSON.stringify(window.dataLayer || [])
	};
})()`

// DataLayerJS returns the current data-layer snapshot as a JSON string.
// Used again at the end of a run for report evidence.
const DataLayerJS = `JSON.stringify(window.dataLayer || [])`

type runtimeProbe struct {
	Manager   bool   `json:"manager"`
	GtagFn    bool   `json:"gtag_fn"`
	DataLayer string `json:"data_layer"`
}

// Detect captures the TagSnapshot for the current page. Any evaluation
// error is a detection failure: the caller treats it as fatal for the run.
func Detect(ctx context.Context, sess browser.Session) (model.TagSnapshot, error) {
	var markup string
	if err := sess.Evaluate(ctx, MarkupJS, &markup); err != nil {
		return model.TagSnapshot{}, fmt.Errorf("detect: scan markup: %w", err)
	}
	gtm, ga4, aw := ScanMarkup(markup)

	var probe runtimeProbe
	if err := sess.Evaluate(ctx, RuntimeJS, &probe); err != nil {
		return model.TagSnapshot{}, fmt.Errorf("detect: probe runtime: %w", err)
	}

	info, err := ParseDataLayer([]byte(probe.DataLayer))
	if err != nil {
		return model.TagSnapshot{}, fmt.Errorf("detect: data layer: %w", err)
	}

	return model.TagSnapshot{
		ContainerIDs:     gtm,
		MeasurementIDs:   ga4,
		AdsIDs:           aw,
		ManagerRuntime:   probe.Manager,
		AnalyticsRuntime: probe.GtagFn || info.BootstrapSeen,
		ConfiguredIDs:    info.ConfiguredIDs,
	}, nil
}

// ScanMarkup extracts the three identifier families from concatenated
// script content, deduplicated in first-seen order.
func ScanMarkup(markup string) (gtm, ga4, aw []string) {
	gtm = dedupe(gtmIDPattern.FindAllString(markup, -1))
	ga4 = dedupe(ga4IDPattern.FindAllString(markup, -1))
	aw = dedupe(awIDPattern.FindAllString(markup, -1))
	return gtm, ga4, aw
}

// DataLayerInfo is what the data-layer snapshot contributes to detection.
type DataLayerInfo struct {
	// BootstrapSeen reports a gtm.js event entry, the manager's bootstrap
	// signal.
	BootstrapSeen bool
	// ConfiguredIDs are IDs from explicit config pushes, in either
	// recognized shape.
	ConfiguredIDs []string
}

// ParseDataLayer reads a JSON data-layer snapshot and recognizes the two
// equivalent config push shapes: positional ['config', id, …] and object
// {event: 'gtag.config', 'gtag.id': id}.
func ParseDataLayer(raw []byte) (DataLayerInfo, error) {
	if len(raw) == 0 {
		return DataLayerInfo{}, nil
	}
	var entries []any
	if err := json.Unmarshal(raw, &entries); err != nil {
		return DataLayerInfo{}, fmt.Errorf("parse snapshot: %w", err)
	}

	var info DataLayerInfo
	var ids []string
	for _, entry := range entries {
		switch v := entry.(type) {
		case []any:
			if len(v) >= 2 {
				if cmd, ok := v[0].(string); ok && cmd == "config" {
					if id, ok := v[1].(string); ok {
						ids = append(ids, id)
					}
				}
			}
		case map[string]any:
			event, _ := v["event"].(string)
			switch event {
			case "gtm.js":
				info.BootstrapSeen = true
			case "gtag.config":
				if id, ok := v["gtag.id"].(string); ok {
					ids = append(ids, id)
				}
			}
		}
	}
	info.ConfiguredIDs = dedupe(ids)
	return info, nil
}

func dedupe(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	var out []string
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
