package scenario

import (
	"fmt"
	"strings"

	"github.com/jasonhhouse/gaps-e2e/internal/errs"
)

// Validate checks the structure of g and returns an InvalidArgument error
// listing every problem found.
func (g Group) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(g.Name) == "" {
		add("group name is required")
	}
	if len(g.Scenarios) == 0 {
		add("group %q has no scenarios", g.Name)
	}
	seen := make(map[string]bool, len(g.Scenarios))
	for i, sc := range g.Scenarios {
		where := fmt.Sprintf("scenario %d", i+1)
		if strings.TrimSpace(sc.Name) == "" {
			add("%s: name is required", where)
		} else {
			where = fmt.Sprintf("scenario %q", sc.Name)
			if seen[sc.Name] {
				add("%s: duplicate name", where)
			}
			seen[sc.Name] = true
		}
		if sc.AwaitReady && sc.Route == "" {
			add("%s: awaitReady needs a route", where)
		}
		if sc.Route == "" && len(sc.Steps) == 0 {
			add("%s: nothing to do", where)
		}
		for j, step := range sc.Steps {
			if err := step.validate(); err != nil {
				add("%s step %d: %v", where, j+1, err)
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	prefix := g.Name
	if g.Source != "" {
		prefix = g.Source
	}
	return errs.New(errs.InvalidArgument, fmt.Sprintf("%s: %s", prefix, strings.Join(problems, "; ")))
}

func (s Step) validate() error {
	actions := s.actions()
	switch len(actions) {
	case 0:
		return fmt.Errorf("no action")
	case 1:
	default:
		return fmt.Errorf("more than one action: %s", strings.Join(actions, ", "))
	}

	switch {
	case s.Expect != nil:
		if s.Expect.Selector == "" {
			return fmt.Errorf("expect needs a selector")
		}
		if len(s.Expect.Conditions()) == 0 {
			return fmt.Errorf("expect on %s has no conditions", s.Expect.Selector)
		}
		if s.Expect.Navigates {
			return fmt.Errorf("navigates only applies to click")
		}
	case s.Click != nil:
		if s.Click.Selector == "" {
			return fmt.Errorf("click needs a selector")
		}
	case s.Clear != nil:
		if s.Clear.Selector == "" {
			return fmt.Errorf("clear needs a selector")
		}
	case s.Type != nil:
		if s.Type.Selector == "" {
			return fmt.Errorf("type needs a selector")
		}
		if s.Type.Text == "" {
			return fmt.Errorf("type needs text")
		}
	}
	return nil
}
