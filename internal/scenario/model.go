// Package scenario runs declarative browser scenarios: named groups of
// ordered steps that navigate with the readiness probe attached, interact,
// and assert.
package scenario

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jasonhhouse/gaps-e2e/internal/expect"
)

// Group is an ordered set of scenarios sharing a setup fixture.
type Group struct {
	Name string `yaml:"name"`
	// Before names a fixture hook run once before the first scenario.
	Before    string     `yaml:"before,omitempty"`
	Scenarios []Scenario `yaml:"scenarios"`

	// Source is the file the group was loaded from.
	Source string `yaml:"-"`
}

// Scenario is one independent run on a fresh page.
type Scenario struct {
	Name string `yaml:"name"`
	// Route is visited first, relative to the application base URL.
	Route string `yaml:"route,omitempty"`
	// AwaitReady waits for the probe after visiting Route.
	AwaitReady bool   `yaml:"awaitReady,omitempty"`
	Steps      []Step `yaml:"steps"`
}

// Step holds exactly one action.
type Step struct {
	Visit      string     `yaml:"visit,omitempty"`
	Expect     *Expect    `yaml:"expect,omitempty"`
	Click      *Target    `yaml:"click,omitempty"`
	Clear      *Target    `yaml:"clear,omitempty"`
	Type       *TypeInput `yaml:"type,omitempty"`
	Fixture    string     `yaml:"fixture,omitempty"`
	AwaitReady bool       `yaml:"awaitReady,omitempty"`
}

// Target selects an element handle.
type Target struct {
	Selector string `yaml:"selector"`
	First    bool   `yaml:"first,omitempty"`
	Parent   bool   `yaml:"parent,omitempty"`
	// Navigates arms a fresh probe cell before a click that loads a new
	// document, so a following awaitReady waits for that document.
	Navigates bool `yaml:"navigates,omitempty"`
}

func (t Target) String() string {
	var b strings.Builder
	b.WriteString(t.Selector)
	if t.Parent {
		b.WriteString(" >> parent")
	}
	if t.First {
		b.WriteString(" >> first")
	}
	return b.String()
}

// TypeInput types Text into the target.
type TypeInput struct {
	Target `yaml:",inline"`
	Text   string `yaml:"text"`
}

// Expect is a polling assertion on a target. Every field set adds a
// condition; all must hold at the same time.
type Expect struct {
	Target      `yaml:",inline"`
	Present     *bool             `yaml:"present,omitempty"`
	Count       *int              `yaml:"count,omitempty"`
	Attr        map[string]string `yaml:"attr,omitempty"`
	NoAttr      map[string]string `yaml:"noAttr,omitempty"`
	Class       string            `yaml:"class,omitempty"`
	NoClass     string            `yaml:"noClass,omitempty"`
	Visible     *bool             `yaml:"visible,omitempty"`
	Text        *string           `yaml:"text,omitempty"`
	Contains    string            `yaml:"contains,omitempty"`
	ImageLoaded bool              `yaml:"imageLoaded,omitempty"`
}

// Conditions converts the fields into expect conditions in a fixed order.
func (e *Expect) Conditions() []expect.Condition {
	var conds []expect.Condition
	if e.Present != nil {
		if *e.Present {
			conds = append(conds, expect.Present())
		} else {
			conds = append(conds, expect.Count(0))
		}
	}
	if e.Count != nil {
		conds = append(conds, expect.Count(*e.Count))
	}
	for _, name := range sortedKeys(e.Attr) {
		conds = append(conds, expect.Attr(name, e.Attr[name]))
	}
	for _, name := range sortedKeys(e.NoAttr) {
		conds = append(conds, expect.NoAttr(name, e.NoAttr[name]))
	}
	if e.Class != "" {
		conds = append(conds, expect.Class(e.Class))
	}
	if e.NoClass != "" {
		conds = append(conds, expect.NoClass(e.NoClass))
	}
	if e.Visible != nil {
		if *e.Visible {
			conds = append(conds, expect.Visible())
		} else {
			conds = append(conds, expect.Hidden())
		}
	}
	if e.Text != nil {
		conds = append(conds, expect.Text(*e.Text))
	}
	if e.Contains != "" {
		conds = append(conds, expect.ContainsText(e.Contains))
	}
	if e.ImageLoaded {
		conds = append(conds, expect.ImageLoaded())
	}
	return conds
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// actions returns the names of the actions set on s.
func (s Step) actions() []string {
	var set []string
	if s.Visit != "" {
		set = append(set, "visit")
	}
	if s.Expect != nil {
		set = append(set, "expect")
	}
	if s.Click != nil {
		set = append(set, "click")
	}
	if s.Clear != nil {
		set = append(set, "clear")
	}
	if s.Type != nil {
		set = append(set, "type")
	}
	if s.Fixture != "" {
		set = append(set, "fixture")
	}
	if s.AwaitReady {
		set = append(set, "awaitReady")
	}
	return set
}

// String describes the step for reports.
func (s Step) String() string {
	switch {
	case s.Visit != "":
		return "visit " + s.Visit
	case s.Expect != nil:
		return fmt.Sprintf("expect %s %s", s.Expect.Target, expect.Describe(s.Expect.Conditions()))
	case s.Click != nil:
		return "click " + s.Click.String()
	case s.Clear != nil:
		return "clear " + s.Clear.String()
	case s.Type != nil:
		return fmt.Sprintf("type %q into %s", s.Type.Text, s.Type.Target)
	case s.Fixture != "":
		return "fixture " + s.Fixture
	case s.AwaitReady:
		return "await application start"
	}
	return "empty step"
}
