package model_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagsentry/tagsentry/internal/model"
)

func TestIssue_MarshalPrefixedString(t *testing.T) {
	data, err := json.Marshal(model.Issue{
		Severity: model.SeverityCritical,
		Message:  "All phone clicks not tracking (0/1)",
	})
	require.NoError(t, err)
	assert.Equal(t, `"CRITICAL: All phone clicks not tracking (0/1)"`, string(data))
}

func TestIssue_RoundTrip(t *testing.T) {
	issues := []model.Issue{
		{Severity: model.SeverityCritical, Message: "No Google tracking tags found"},
		{Severity: model.SeverityWarning, Message: "Consent accepted but no tracking fired"},
	}
	data, err := json.Marshal(issues)
	require.NoError(t, err)

	var got []model.Issue
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, issues, got)
}

// An archived report whose issue strings predate the severity prefix must
// still load; such entries default to warnings.
func TestIssue_UnprefixedLoadsAsWarning(t *testing.T) {
	var got model.Issue
	require.NoError(t, json.Unmarshal([]byte(`"something looked off"`), &got))
	assert.Equal(t, model.SeverityWarning, got.Severity)
	assert.Equal(t, "something looked off", got.Message)
}

func TestIssue_PrefixInsideMessageSurvives(t *testing.T) {
	in := model.Issue{Severity: model.SeverityCritical, Message: "WARNING: nested prefix stays"}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	var got model.Issue
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, in, got)
}

func TestIssue_NonStringIsAnError(t *testing.T) {
	var got model.Issue
	err := json.Unmarshal([]byte(`{"severity":"CRITICAL"}`), &got)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "issue")
}
