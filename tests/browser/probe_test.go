package browser

import (
	"context"
	"testing"

	"github.com/jasonhhouse/gaps-e2e/internal/errs"
	"github.com/jasonhhouse/gaps-e2e/internal/probe"
)

func TestBrowser_Probe_FiresOncePageStarts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}

	env := SetupBrowserTestEnv(t)
	env.InitBrowser(t)
	ctx := context.Background()

	page, err := env.Driver().NewPage(ctx)
	if err != nil {
		t.Fatalf("could not create page: %v", err)
	}
	defer page.Close()

	p := probe.New(probe.Options{Timeout: browserMaxTimeout})
	if err := p.Install(ctx, page); err != nil {
		t.Fatalf("install probe: %v", err)
	}

	for _, path := range []string{"/configuration", "/libraries", "/about"} {
		cell := p.Arm(ctx, page)
		if err := page.Goto(ctx, env.BaseURL+path); err != nil {
			t.Fatalf("goto %s: %v", path, err)
		}
		if err := p.Wait(ctx, page, cell); err != nil {
			t.Errorf("%s: probe did not fire: %v", path, err)
		}
	}
}

func TestBrowser_Probe_HandlersWiredWhenFired(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}

	env := SetupBrowserTestEnv(t)
	env.InitBrowser(t)
	ctx := context.Background()

	page, err := env.Driver().NewPage(ctx)
	if err != nil {
		t.Fatalf("could not create page: %v", err)
	}
	defer page.Close()

	p := probe.New(probe.Options{Timeout: browserMaxTimeout})
	if err := p.Install(ctx, page); err != nil {
		t.Fatalf("install probe: %v", err)
	}
	cell := p.Arm(ctx, page)
	if err := page.Goto(ctx, env.BaseURL+"/configuration"); err != nil {
		t.Fatalf("goto: %v", err)
	}
	if err := p.Wait(ctx, page, cell); err != nil {
		t.Fatalf("probe did not fire: %v", err)
	}

	// The tab handlers were wired before the change listener, so a click
	// right after the probe fires must switch panels.
	if err := page.Locator("#plexTab").Click(ctx); err != nil {
		t.Fatalf("click plexTab: %v", err)
	}
	class, _, err := page.Locator("#plexTab").Attribute(ctx, "class")
	if err != nil {
		t.Fatalf("read class: %v", err)
	}
	if class != "nav-link active" {
		t.Errorf("expected plexTab to be active, class=%q", class)
	}
}

func TestBrowser_Probe_NeverFiresWithoutScripts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}

	env := SetupBrowserTestEnv(t)
	env.InitBrowser(t)
	ctx := context.Background()

	page, err := env.Driver().NewPage(ctx)
	if err != nil {
		t.Fatalf("could not create page: %v", err)
	}
	defer page.Close()

	p := probe.New(probe.Options{Timeout: browserMaxTimeout / 5})
	if err := p.Install(ctx, page); err != nil {
		t.Fatalf("install probe: %v", err)
	}
	cell := p.Arm(ctx, page)
	if err := page.Goto(ctx, env.BaseURL+"/static/gaps.css"); err != nil {
		t.Fatalf("goto: %v", err)
	}
	err = p.Wait(ctx, page, cell)
	if !errs.Is(err, errs.ProbeNeverFired) {
		t.Fatalf("expected probe_never_fired, got %v", err)
	}
}
