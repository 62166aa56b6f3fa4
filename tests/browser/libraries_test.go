package browser

import (
	"context"
	"strings"
	"testing"

	"github.com/playwright-community/playwright-go"

	"github.com/jasonhhouse/gaps-e2e/internal/fixture"
)

func waitForText(t *testing.T, page playwright.Page, selector, want string) {
	t.Helper()
	_, err := page.WaitForFunction(`([sel, want]) => {
		const el = document.querySelector(sel);
		return el !== null && el.textContent === want;
	}`, []string{selector, want}, playwright.PageWaitForFunctionOptions{Timeout: playwright.Float(browserMaxTimeoutMS)})
	if err != nil {
		got, _ := page.Locator(selector).First().TextContent()
		t.Fatalf("%s: expected %q, got %q: %v", selector, want, got, err)
	}
}

func TestBrowser_Libraries_SearchFilterAndResearch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}

	env := SetupBrowserTestEnv(t)
	env.InitBrowser(t)
	if err := env.Fixtures().Run(context.Background(), fixture.HookRedLibrary); err != nil {
		t.Fatalf("fixture: %v", err)
	}

	page := env.NewPage(t)
	defer page.Close()
	Navigate(t, page, env.BaseURL, "/libraries")

	WaitForSelector(t, page, ".card-body > .btn").Click()
	waitForText(t, page, "#movies_info", "Showing 1 to 5 of 5 entries")

	input := WaitForSelector(t, page, "label > input")
	if err := input.PressSequentially("Matrix"); err != nil {
		t.Fatalf("type: %v", err)
	}
	waitForText(t, page, "#movies_info", "Showing 1 to 1 of 1 entries")
	waitForText(t, page, ".card-title", "The Matrix")

	WaitForSelector(t, page, "#movieContainer > .top-margin").Click()
	waitForText(t, page, "#movies_info", "Showing 1 to 1 of 1 entries")
	value, err := page.Locator("label > input").InputValue()
	if err != nil {
		t.Fatalf("input value: %v", err)
	}
	if value != "Matrix" {
		t.Errorf("research should keep the filter, got %q", value)
	}

	if err := page.Locator("label > input").Fill("zzz"); err != nil {
		t.Fatalf("fill: %v", err)
	}
	waitForText(t, page, "#movies_info", "Showing 0 to 0 of 0 entries")
}

func TestBrowser_Libraries_SwitchResetsFilter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}

	env := SetupBrowserTestEnv(t)
	env.InitBrowser(t)
	if err := env.Fixtures().Run(context.Background(), fixture.HookLibrary); err != nil {
		t.Fatalf("fixture: %v", err)
	}

	page := env.NewPage(t)
	defer page.Close()
	Navigate(t, page, env.BaseURL, "/libraries")

	WaitForSelector(t, page, ".card-body > .btn").Click()
	input := WaitForSelector(t, page, "label > input")
	if err := input.Fill("Saw"); err != nil {
		t.Fatalf("fill: %v", err)
	}
	waitForText(t, page, "#movies_info", "Showing 1 to 1 of 1 entries")

	WaitForSelector(t, page, "#dropdownMenuLink").Click()
	WaitForSelector(t, page, `[data-key="2"]`).Click()

	waitForText(t, page, "#libraryTitle", "KnoxServer - Disney Classic Movies")
	waitForText(t, page, "#movies_info", "Showing 1 to 4 of 4 entries")
	value, _ := page.Locator("label > input").InputValue()
	if value != "" {
		t.Errorf("switching libraries should clear the filter, got %q", value)
	}
	if visible, _ := page.Locator(".dropdown-menu").IsVisible(); visible {
		t.Errorf("dropdown should close after picking a library")
	}
	if !strings.Contains(page.URL(), "key=2") {
		t.Errorf("URL should name the picked library, got %s", page.URL())
	}
}
