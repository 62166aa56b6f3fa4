// Package suite holds the built-in scenario groups for the Gaps web
// application.
package suite

import (
	"embed"

	"github.com/jasonhhouse/gaps-e2e/internal/scenario"
)

//go:embed suites/*.yaml
var files embed.FS

// Load returns the built-in groups in file name order.
func Load() ([]scenario.Group, error) {
	return scenario.LoadFS(files, "suites")
}

// Fixtures lists the fixture hooks the built-in groups refer to.
func Fixtures(groups []scenario.Group) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, g := range groups {
		add(g.Before)
		for _, sc := range g.Scenarios {
			for _, step := range sc.Steps {
				add(step.Fixture)
			}
		}
	}
	return names
}
