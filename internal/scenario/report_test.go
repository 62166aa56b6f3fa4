package scenario

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonhhouse/gaps-e2e/internal/errs"
)

func TestReport_WriteText(t *testing.T) {
	failure := errs.New(errs.AssertionFailed, `expected #movies_info to have text "Showing 1 to 1 of 1 entries", last observed "Showing 0 to 0 of 0 entries" (after 5s)`)
	report := &Report{
		RunID:    "run-abc",
		Duration: 1500 * time.Millisecond,
		Groups: []GroupResult{{
			Name: "Find owned movies",
			Scenarios: []ScenarioResult{
				{Name: "Find Movies", Status: StatusFailed, Step: `expect #movies_info to have text "Showing 1 to 1 of 1 entries"`, StepIndex: 6, Code: errs.AssertionFailed, Err: failure, Duration: time.Second},
				{Name: "Refresh Movies", Status: StatusPassed, Duration: 500 * time.Millisecond},
			},
		}},
	}

	var buf bytes.Buffer
	require.NoError(t, report.WriteText(&buf))
	out := buf.String()

	assert.True(t, report.Failed())
	assert.Contains(t, out, "run run-abc")
	assert.Contains(t, out, "Find owned movies / Find Movies")
	assert.Contains(t, out, "code: assertion_failed")
	assert.Contains(t, out, `last observed "Showing 0 to 0 of 0 entries"`)
	assert.Contains(t, out, "1 passed, 1 failed in 1.5s")
}

func TestReport_EmptyIsNotFailed(t *testing.T) {
	r := &Report{}
	assert.False(t, r.Failed())
	assert.Equal(t, 0, r.Count(StatusPassed))
}
