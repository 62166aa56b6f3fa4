package scenario

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/jasonhhouse/gaps-e2e/internal/errs"
)

// Status is the outcome of a scenario.
type Status string

const (
	StatusPassed Status = "passed"
	StatusFailed Status = "failed"
)

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name   string
	Status Status
	// Step describes the failing step. StepIndex is 1-based; 0 means the
	// failure happened before the first declared step.
	Step      string
	StepIndex int
	Code      errs.Code
	Err       error
	Duration  time.Duration
}

// GroupResult is the outcome of one group.
type GroupResult struct {
	Name      string
	BeforeErr error
	Scenarios []ScenarioResult
}

// Report collects the results of a run.
type Report struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Groups   []GroupResult
}

// Count returns the number of scenarios with status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, g := range r.Groups {
		for _, sc := range g.Scenarios {
			if sc.Status == status {
				n++
			}
		}
	}
	return n
}

// Failed reports whether any scenario failed.
func (r *Report) Failed() bool {
	return r.Count(StatusFailed) > 0
}

// WriteText writes a per-scenario summary followed by failure details.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s\n", r.RunID)
	for _, g := range r.Groups {
		fmt.Fprintf(tw, "%s\n", g.Name)
		for _, sc := range g.Scenarios {
			fmt.Fprintf(tw, "  %s\t%s\t%s\n", sc.Status, sc.Name, sc.Duration.Round(time.Millisecond))
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var failures []string
	for _, g := range r.Groups {
		for _, sc := range g.Scenarios {
			if sc.Status != StatusFailed {
				continue
			}
			failures = append(failures, fmt.Sprintf("%s / %s\n    step: %s\n    code: %s\n    error: %v",
				g.Name, sc.Name, sc.Step, sc.Code, sc.Err))
		}
	}
	if len(failures) > 0 {
		if _, err := fmt.Fprintln(w, "\nfailures:"); err != nil {
			return err
		}
		for _, f := range failures {
			if _, err := fmt.Fprintf(w, "  %s\n", f); err != nil {
				return err
			}
		}
	}
	_, err := fmt.Fprintf(w, "\n%d passed, %d failed in %s\n",
		r.Count(StatusPassed), r.Count(StatusFailed), r.Duration.Round(time.Millisecond))
	return err
}
