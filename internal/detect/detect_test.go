package detect

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagsentry/tagsentry/internal/browser/browsertest"
)

func TestScanMarkup_AllFamilies(t *testing.T) {
	markup := `
		https://www.googletagmanager.com/gtm.js?id=GTM-ABC123
		gtag('config', 'G-XYZ789');
		gtag('config', 'AW-123456789');
	`
	gtm, ga4, aw := ScanMarkup(markup)

	assert.Equal(t, []string{"GTM-ABC123"}, gtm)
	assert.Equal(t, []string{"G-XYZ789"}, ga4)
	assert.Equal(t, []string{"AW-123456789"}, aw)
}

func TestScanMarkup_Deduplicates(t *testing.T) {
	markup := strings.Repeat("GTM-ABC123 G-XYZ789 ", 3)
	gtm, ga4, _ := ScanMarkup(markup)

	assert.Equal(t, []string{"GTM-ABC123"}, gtm)
	assert.Equal(t, []string{"G-XYZ789"}, ga4)
}

func TestScanMarkup_Empty(t *testing.T) {
	gtm, ga4, aw := ScanMarkup("<script>console.log('no tags')</script>")
	assert.Empty(t, gtm)
	assert.Empty(t, ga4)
	assert.Empty(t, aw)
}

func TestParseDataLayer_PositionalConfigPush(t *testing.T) {
	raw := `[["js", "2024-01-01"], ["config", "G-XYZ789", {"send_page_view": true}]]`
	info, err := ParseDataLayer([]byte(raw))

	require.NoError(t, err)
	assert.Equal(t, []string{"G-XYZ789"}, info.ConfiguredIDs)
	assert.False(t, info.BootstrapSeen)
}

func TestParseDataLayer_ObjectConfigPush(t *testing.T) {
	raw := `[{"event": "gtag.config", "gtag.id": "G-ABC111"}]`
	info, err := ParseDataLayer([]byte(raw))

	require.NoError(t, err)
	assert.Equal(t, []string{"G-ABC111"}, info.ConfiguredIDs)
}

func TestParseDataLayer_BootstrapEntry(t *testing.T) {
	raw := `[{"event": "gtm.js", "gtm.start": 1700000000000}]`
	info, err := ParseDataLayer([]byte(raw))

	require.NoError(t, err)
	assert.True(t, info.BootstrapSeen)
	assert.Empty(t, info.ConfiguredIDs)
}

func TestParseDataLayer_MixedShapesDeduplicated(t *testing.T) {
	raw := `[
		["config", "G-XYZ789"],
		{"event": "gtag.config", "gtag.id": "G-XYZ789"},
		{"event": "gtag.config", "gtag.id": "G-ABC111"}
	]`
	info, err := ParseDataLayer([]byte(raw))

	require.NoError(t, err)
	assert.Equal(t, []string{"G-XYZ789", "G-ABC111"}, info.ConfiguredIDs)
}

func TestParseDataLayer_IgnoresUnrelatedEntries(t *testing.T) {
	raw := `[["js", "x"], {"event": "scroll"}, ["consent", "default"], 42, null]`
	info, err := ParseDataLayer([]byte(raw))

	require.NoError(t, err)
	assert.False(t, info.BootstrapSeen)
	assert.Empty(t, info.ConfiguredIDs)
}

func TestParseDataLayer_Empty(t *testing.T) {
	info, err := ParseDataLayer(nil)
	require.NoError(t, err)
	assert.False(t, info.BootstrapSeen)
}

func TestParseDataLayer_InvalidJSON(t *testing.T) {
	_, err := ParseDataLayer([]byte(`{not json`))
	assert.Error(t, err)
}

func sessionWith(markup string, probe map[string]any) *browsertest.Session {
	return &browsertest.Session{
		EvaluateFunc: func(js string, out any) error {
			switch {
			case strings.Contains(js, "script,noscript"):
				return browsertest.JSONInto(markup, out)
			case strings.Contains(js, "google_tag_manager"):
				return browsertest.JSONInto(probe, out)
			}
			return fmt.Errorf("unexpected script: %s", js)
		},
	}
}

func TestDetect_FullyConfiguredPage(t *testing.T) {
	sess := sessionWith(
		`src=https://www.googletagmanager.com/gtag/js?id=G-XYZ789 GTM-ABC123`,
		map[string]any{
			"manager":    true,
			"gtag_fn":    true,
			"data_layer": `[["js", "x"], ["config", "G-XYZ789"]]`,
		},
	)

	snap, err := Detect(context.Background(), sess)
	require.NoError(t, err)

	assert.Equal(t, []string{"GTM-ABC123"}, snap.ContainerIDs)
	assert.Equal(t, []string{"G-XYZ789"}, snap.MeasurementIDs)
	assert.True(t, snap.ManagerRuntime)
	assert.True(t, snap.AnalyticsRuntime)
	assert.True(t, snap.Initialized())
	assert.Equal(t, []string{"G-XYZ789"}, snap.ConfiguredIDs)
}

// A runtime object without a config push is loaded but not initialized.
func TestDetect_LoadedButNotConfigured(t *testing.T) {
	sess := sessionWith(`G-XYZ789`, map[string]any{
		"manager":    false,
		"gtag_fn":    true,
		"data_layer": `[["js", "x"]]`,
	})

	snap, err := Detect(context.Background(), sess)
	require.NoError(t, err)

	assert.True(t, snap.AnalyticsRuntime)
	assert.False(t, snap.Initialized())
}

// The gtm.js bootstrap entry alone marks the analytics runtime present even
// when the gtag function is absent.
func TestDetect_BootstrapEntryMarksRuntime(t *testing.T) {
	sess := sessionWith(`GTM-ABC123`, map[string]any{
		"manager":    true,
		"gtag_fn":    false,
		"data_layer": `[{"event": "gtm.js"}]`,
	})

	snap, err := Detect(context.Background(), sess)
	require.NoError(t, err)

	assert.True(t, snap.AnalyticsRuntime)
	assert.False(t, snap.Initialized())
}

func TestDetect_EvaluationErrorIsFatal(t *testing.T) {
	sess := &browsertest.Session{
		EvaluateFunc: func(js string, out any) error {
			return fmt.Errorf("session closed")
		},
	}

	_, err := Detect(context.Background(), sess)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detect:")
}
