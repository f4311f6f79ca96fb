package display

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/randalmurphal/waypoints/internal/state"
)

func plainDisplay() (*Display, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(WithWriter(&buf), WithPlain()), &buf
}

func TestPlainBanner(t *testing.T) {
	d, buf := plainDisplay()
	d.Banner("myproject", "20250615-120000")
	assert.Equal(t, "=== myproject (workflow 20250615-120000) ===\n", buf.String())
}

func TestPhaseLines(t *testing.T) {
	d, buf := plainDisplay()
	d.PhaseStart(2)
	d.PhaseComplete(2)
	out := buf.String()
	assert.Contains(t, out, "--- Phase 2: Interfaces ---")
	assert.Contains(t, out, "Phase 2 (Interfaces) complete")
}

func TestReviewerFeedbackPlain(t *testing.T) {
	d, buf := plainDisplay()
	d.ReviewerFeedback("- missing error check")
	assert.Contains(t, buf.String(), "[reviewer]")
	assert.Contains(t, buf.String(), "- missing error check")

	buf.Reset()
	d.ReviewerFeedback("   ")
	assert.Empty(t, buf.String())
}

func TestUsageTableTotals(t *testing.T) {
	d, buf := plainDisplay()
	d.UsageTable(map[string]state.PhaseUsage{
		"phase1": {InputTokens: 100, OutputTokens: 50, CostUSD: 0.01},
		"phase2": {InputTokens: 200, OutputTokens: 25, CostUSD: 0.02},
	})
	out := buf.String()
	assert.Contains(t, out, "Phase 1 (Requirements)")
	assert.Contains(t, out, "Phase 2 (Interfaces)")
	assert.Contains(t, out, "300")
	assert.Contains(t, out, "75")
	assert.Contains(t, out, "0.0300")
}

func TestStyledOutputDiffersFromPlain(t *testing.T) {
	var styled bytes.Buffer
	d := New(WithWriter(&styled))
	d.plain = false
	d.PhaseStart(1)
	assert.Contains(t, styled.String(), "Phase 1: Requirements")
}
