package scenario

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/jasonhhouse/gaps-e2e/internal/driver"
	"github.com/jasonhhouse/gaps-e2e/internal/errs"
	"github.com/jasonhhouse/gaps-e2e/internal/expect"
	"github.com/jasonhhouse/gaps-e2e/internal/obs"
	"github.com/jasonhhouse/gaps-e2e/internal/probe"
)

// DefaultNavTimeout bounds a single navigation.
const DefaultNavTimeout = 10 * time.Second

// Fixtures runs named setup hooks against the application.
type Fixtures interface {
	Run(ctx context.Context, name string) error
}

// Runner executes groups against one browser.
type Runner struct {
	Browser  driver.Browser
	BaseURL  string
	Fixtures Fixtures
	Poller   expect.Poller
	Probe    probe.Options
	// NavTimeout bounds each navigation. Zero means DefaultNavTimeout.
	NavTimeout time.Duration
	// Filter, if set, runs only scenarios whose name matches.
	Filter *regexp.Regexp
	// RunID correlates the run's log lines. Empty generates one.
	RunID string
}

// Run executes groups in order and returns the report.
func (r *Runner) Run(ctx context.Context, groups []Group) *Report {
	runID := r.RunID
	if runID == "" {
		runID = obs.NewRunID()
	}
	ctx = obs.WithCorrelation(ctx, obs.Correlation{RunID: runID})
	report := &Report{RunID: runID, Started: time.Now()}
	for _, g := range groups {
		if ctx.Err() != nil {
			break
		}
		report.Groups = append(report.Groups, r.RunGroup(ctx, g))
	}
	report.Duration = time.Since(report.Started)
	obs.From(ctx).Info("run_finished",
		"passed", report.Count(StatusPassed),
		"failed", report.Count(StatusFailed),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report
}

func (r *Runner) selected(g Group) []Scenario {
	if r.Filter == nil {
		return g.Scenarios
	}
	var out []Scenario
	for _, sc := range g.Scenarios {
		if r.Filter.MatchString(sc.Name) {
			out = append(out, sc)
		}
	}
	return out
}

// RunGroup runs the group's Before fixture and then its scenarios. A failed
// Before fails every scenario without running it.
func (r *Runner) RunGroup(ctx context.Context, g Group) GroupResult {
	ctx = obs.WithCorrelation(ctx, obs.Correlation{Group: g.Name})
	logger := obs.From(ctx)
	result := GroupResult{Name: g.Name}

	scenarios := r.selected(g)
	if len(scenarios) == 0 {
		return result
	}

	if g.Before != "" {
		start := time.Now()
		if err := r.runFixture(ctx, g.Before); err != nil {
			logger.Error("before_failed", "fixture", g.Before, "error", err)
			result.BeforeErr = err
			for _, sc := range scenarios {
				result.Scenarios = append(result.Scenarios, ScenarioResult{
					Name:     sc.Name,
					Status:   StatusFailed,
					Step:     "before: fixture " + g.Before,
					Code:     errs.CodeOf(err),
					Err:      err,
					Duration: time.Since(start),
				})
			}
			return result
		}
	}

	for _, sc := range scenarios {
		if ctx.Err() != nil {
			break
		}
		result.Scenarios = append(result.Scenarios, r.RunScenario(ctx, sc))
	}
	return result
}

// RunScenario runs sc on a fresh page and stops at the first failing step.
func (r *Runner) RunScenario(ctx context.Context, sc Scenario) ScenarioResult {
	ctx = obs.WithCorrelation(ctx, obs.Correlation{Scenario: sc.Name})
	logger := obs.From(ctx)
	start := time.Now()
	result := ScenarioResult{Name: sc.Name, Status: StatusPassed}

	fail := func(step string, index int, err error) ScenarioResult {
		result.Status = StatusFailed
		result.Step = step
		result.StepIndex = index
		result.Code = errs.CodeOf(err)
		result.Err = err
		result.Duration = time.Since(start)
		logger.Error("scenario_failed", "step", step, "code", string(result.Code), "error", err)
		return result
	}

	page, err := r.Browser.NewPage(ctx)
	if err != nil {
		return fail("open page", 0, errs.Wrap(errs.Unavailable, "open browser page", err))
	}
	defer page.Close()

	run := &run{runner: r, page: page, probe: probe.New(r.Probe)}
	if err := run.probe.Install(ctx, page); err != nil {
		return fail("install readiness probe", 0, errs.Wrap(errs.Unavailable, "install readiness probe", err))
	}

	if sc.Route != "" {
		desc := "visit " + sc.Route
		if err := run.visit(ctx, sc.Route); err != nil {
			return fail(desc, 0, err)
		}
		if sc.AwaitReady {
			if err := run.awaitReady(ctx); err != nil {
				return fail(desc+" (await application start)", 0, err)
			}
		}
	}

	for i, step := range sc.Steps {
		stepCtx := obs.WithCorrelation(ctx, obs.Correlation{Step: fmt.Sprintf("%d", i+1)})
		if err := run.step(stepCtx, step); err != nil {
			return fail(step.String(), i+1, err)
		}
		obs.From(stepCtx).Debug("step_passed", "step_desc", step.String())
	}

	result.Duration = time.Since(start)
	logger.Info("scenario_passed", "duration_ms", result.Duration.Milliseconds())
	return result
}

func (r *Runner) runFixture(ctx context.Context, name string) error {
	if r.Fixtures == nil {
		return errs.New(errs.FixtureFailed, fmt.Sprintf("fixture %s: no fixture client configured", name))
	}
	return r.Fixtures.Run(ctx, name)
}

// resolve joins route onto the base URL. Absolute URLs pass through.
func (r *Runner) resolve(route string) (string, error) {
	ref, err := url.Parse(route)
	if err != nil {
		return "", errs.Wrap(errs.InvalidArgument, fmt.Sprintf("bad route %q", route), err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	base, err := url.Parse(r.BaseURL)
	if err != nil || !base.IsAbs() {
		return "", errs.New(errs.InvalidArgument, fmt.Sprintf("base URL %q is not absolute", r.BaseURL))
	}
	return base.ResolveReference(ref).String(), nil
}

func (r *Runner) navTimeout() time.Duration {
	if r.NavTimeout > 0 {
		return r.NavTimeout
	}
	return DefaultNavTimeout
}

// run is the per-scenario state: the page, its probe and the cell of the
// latest navigation.
type run struct {
	runner *Runner
	page   driver.Page
	probe  *probe.Probe
	cell   *probe.Cell
}

func (s *run) visit(ctx context.Context, route string) error {
	target, err := s.runner.resolve(route)
	if err != nil {
		return err
	}
	s.cell = s.probe.Arm(ctx, s.page)
	navCtx, cancel := context.WithTimeout(ctx, s.runner.navTimeout())
	defer cancel()
	if err := s.page.Goto(navCtx, target); err != nil {
		return errs.Wrap(errs.NavigationFailed, fmt.Sprintf("navigate to %s", target), err)
	}
	return nil
}

func (s *run) awaitReady(ctx context.Context) error {
	if s.cell == nil {
		return errs.New(errs.InvalidArgument, "awaitReady before any navigation")
	}
	return s.probe.Wait(ctx, s.page, s.cell)
}

func (s *run) locate(t Target) driver.Element {
	el := s.page.Locator(t.Selector)
	if t.Parent {
		el = el.Parent()
	}
	if t.First {
		el = el.First()
	}
	return el
}

// actionable waits until the target exists and is visible before input is
// simulated on it.
func (s *run) actionable(ctx context.Context, t Target) (driver.Element, error) {
	el := s.locate(t)
	if err := s.runner.Poller.That(ctx, el, expect.Visible()); err != nil {
		return nil, err
	}
	return el, nil
}

func (s *run) step(ctx context.Context, step Step) error {
	switch {
	case step.Visit != "":
		return s.visit(ctx, step.Visit)
	case step.Expect != nil:
		return s.runner.Poller.That(ctx, s.locate(step.Expect.Target), step.Expect.Conditions()...)
	case step.Click != nil:
		el, err := s.actionable(ctx, *step.Click)
		if err != nil {
			return err
		}
		if step.Click.Navigates {
			s.cell = s.probe.Arm(ctx, s.page)
		}
		return el.Click(ctx)
	case step.Clear != nil:
		el, err := s.actionable(ctx, *step.Clear)
		if err != nil {
			return err
		}
		return el.Clear(ctx)
	case step.Type != nil:
		el, err := s.actionable(ctx, step.Type.Target)
		if err != nil {
			return err
		}
		return el.Type(ctx, step.Type.Text)
	case step.Fixture != "":
		return s.runner.runFixture(ctx, step.Fixture)
	case step.AwaitReady:
		return s.awaitReady(ctx)
	}
	return errs.New(errs.InvalidArgument, "step has no action")
}
