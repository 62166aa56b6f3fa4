package browser

import (
	"context"
	"strings"
	"testing"

	"github.com/jasonhhouse/gaps-e2e/internal/scenario"
	"github.com/jasonhhouse/gaps-e2e/internal/suite"
)

// TestBrowser_Suites_BuiltInPass runs every built-in group against the
// stand-in, the same way gaps-e2e --stub does.
func TestBrowser_Suites_BuiltInPass(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}

	env := SetupBrowserTestEnv(t)
	env.InitBrowser(t)

	groups, err := suite.Load()
	if err != nil {
		t.Fatalf("Failed to load built-in suites: %v", err)
	}

	report := env.Runner().Run(context.Background(), groups)

	var out strings.Builder
	_ = report.WriteText(&out)
	t.Log(out.String())

	for _, g := range report.Groups {
		if g.BeforeErr != nil {
			t.Errorf("group %q: before failed: %v", g.Name, g.BeforeErr)
		}
		for _, sc := range g.Scenarios {
			if sc.Status != scenario.StatusPassed {
				t.Errorf("%s / %s: step %d (%s): %s: %v", g.Name, sc.Name, sc.StepIndex, sc.Step, sc.Code, sc.Err)
			}
		}
	}
	if report.Failed() {
		t.Fatalf("built-in suites failed")
	}
}

// TestBrowser_Suites_FailingExpectationIsReported checks that a broken
// expectation fails the scenario at the right step instead of hanging.
func TestBrowser_Suites_FailingExpectationIsReported(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}

	env := SetupBrowserTestEnv(t)
	env.InitBrowser(t)

	group, err := scenario.Parse([]byte(`
name: Broken
scenarios:
  - name: Wrong tab state
    route: /configuration
    awaitReady: true
    steps:
      - expect: {selector: "#configurationTab", parent: true, attr: {aria-current: page}}
      - expect: {selector: "#tmdbTab", noClass: active}
`), "broken.yaml")
	if err != nil {
		t.Fatalf("Failed to parse scenario: %v", err)
	}

	report := env.Runner().Run(context.Background(), []scenario.Group{group})
	if !report.Failed() {
		t.Fatalf("expected the scenario to fail")
	}
	sc := report.Groups[0].Scenarios[0]
	if sc.StepIndex != 2 {
		t.Errorf("expected failure at step 2, got %d (%s)", sc.StepIndex, sc.Step)
	}
	if sc.Code != "assertion_failed" {
		t.Errorf("expected assertion_failed, got %q", sc.Code)
	}
}
