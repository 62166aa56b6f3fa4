package suite

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonhhouse/gaps-e2e/internal/driver/drivertest"
	"github.com/jasonhhouse/gaps-e2e/internal/errs"
	"github.com/jasonhhouse/gaps-e2e/internal/expect"
	"github.com/jasonhhouse/gaps-e2e/internal/probe"
	"github.com/jasonhhouse/gaps-e2e/internal/scenario"
)

func TestLoad_BuiltInGroups(t *testing.T) {
	groups, err := Load()
	require.NoError(t, err)
	require.Len(t, groups, 3)

	assert.Equal(t, "Configuration", groups[0].Name)
	assert.Equal(t, "Not Searched Yet Library", groups[1].Name)
	assert.Equal(t, "library", groups[1].Before)
	assert.Equal(t, "Find owned movies", groups[2].Name)
	assert.Equal(t, "redLibrary", groups[2].Before)

	var names []string
	for _, sc := range groups[2].Scenarios {
		names = append(names, sc.Name)
	}
	assert.Equal(t, []string{"Find Movies", "Refresh Movies", "Research Movies", "Regular Movies Empty"}, names)
}

func TestLoad_ConfigurationAssertions(t *testing.T) {
	groups, err := Load()
	require.NoError(t, err)

	sc := groups[0].Scenarios[0]
	assert.Equal(t, "/configuration", sc.Route)
	assert.True(t, sc.AwaitReady)

	var descs []string
	for _, step := range sc.Steps {
		descs = append(descs, step.String())
	}
	assert.Contains(t, descs, `expect #configurationTab >> parent to have attribute aria-current="page"`)
	assert.Contains(t, descs, `expect #librariesTab >> parent not to have attribute aria-current="page"`)
	assert.Contains(t, descs, `expect #folderTab to have class "disabled"`)
	assert.Contains(t, descs, `expect #tmdbSaveSuccess to be hidden`)
}

func TestLoad_SearchUsesExactResultString(t *testing.T) {
	groups, err := Load()
	require.NoError(t, err)

	find := groups[2].Scenarios[0]
	var texts []string
	for _, step := range find.Steps {
		if step.Expect != nil && step.Expect.Text != nil {
			texts = append(texts, *step.Expect.Text)
		}
	}
	assert.Equal(t, []string{"Showing 1 to 1 of 1 entries"}, texts)
}

func TestFixtures(t *testing.T) {
	groups, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"library", "redLibrary", "jokerLibrary"}, Fixtures(groups))
}

// configurationPage renders the configuration page's nav and tabs, with or
// without the TMDB banners.
func configurationPage(withBanners bool) func(p *drivertest.Page) {
	return func(p *drivertest.Page) {
		p.OnGoto = func(p *drivertest.Page, rawURL string) error {
			p.Reset()
			for _, tab := range []struct{ id, href string }{
				{"#configurationTab", "/configuration"},
				{"#librariesTab", "/libraries"},
				{"#recommendedTab", "/recommended"},
				{"#rssTab", "/rssCheck"},
				{"#aboutTab", "/about"},
			} {
				li := &drivertest.Node{Attrs: map[string]string{}}
				if strings.HasSuffix(rawURL, tab.href) {
					li.Attrs["aria-current"] = "page"
				}
				p.Set(tab.id, &drivertest.Node{Attrs: map[string]string{"href": tab.href}, Parent: li})
			}
			p.Set("#tmdbTab", &drivertest.Node{Attrs: map[string]string{"class": "nav-link active"}})
			p.Set("#plexTab", &drivertest.Node{Attrs: map[string]string{"class": "nav-link"}})
			p.Set("#folderTab", &drivertest.Node{Attrs: map[string]string{"class": "nav-link disabled"}})
			if withBanners {
				for _, id := range []string{"#tmdbTestError", "#tmdbTestSuccess", "#tmdbSaveError", "#tmdbSaveSuccess"} {
					p.Set(id, &drivertest.Node{Attrs: map[string]string{"class": "alert d-none"}, Hidden: true})
				}
			}
			go p.CallAll("change")
			return nil
		}
	}
}

func runConfiguration(t *testing.T, withBanners bool) scenario.ScenarioResult {
	t.Helper()
	groups, err := Load()
	require.NoError(t, err)
	r := &scenario.Runner{
		Browser: &drivertest.Browser{Setup: configurationPage(withBanners)},
		BaseURL: "http://gaps.test",
		Poller:  expect.Poller{Timeout: 100 * time.Millisecond, Interval: 5 * time.Millisecond},
		Probe:   probe.Options{Timeout: time.Second, Interval: 5 * time.Millisecond},
	}
	res := r.RunGroup(context.Background(), groups[0])
	require.Len(t, res.Scenarios, 1)
	return res.Scenarios[0]
}

func TestConfiguration_PassesWithHiddenBanners(t *testing.T) {
	res := runConfiguration(t, true)
	assert.Equal(t, scenario.StatusPassed, res.Status, "step %d (%s): %v", res.StepIndex, res.Step, res.Err)
}

func TestConfiguration_FailsWhenBannersAreMissing(t *testing.T) {
	res := runConfiguration(t, false)
	assert.Equal(t, scenario.StatusFailed, res.Status)
	assert.Equal(t, errs.AssertionFailed, res.Code)
	assert.Contains(t, res.Step, "#tmdbTestError to be hidden")
}
