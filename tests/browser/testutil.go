// Package browser runs the scenario harness through a real Chromium against
// the in-process stand-in application.
// All browser test files use BrowserTestEnv via SetupBrowserTestEnv(t).
package browser

import (
	"context"
	"crypto/rand"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/jasonhhouse/gaps-e2e/internal/db"
	"github.com/jasonhhouse/gaps-e2e/internal/driver/pwdriver"
	"github.com/jasonhhouse/gaps-e2e/internal/expect"
	"github.com/jasonhhouse/gaps-e2e/internal/fixture"
	"github.com/jasonhhouse/gaps-e2e/internal/probe"
	"github.com/jasonhhouse/gaps-e2e/internal/ratelimit"
	"github.com/jasonhhouse/gaps-e2e/internal/s3client"
	"github.com/jasonhhouse/gaps-e2e/internal/scenario"
	"github.com/jasonhhouse/gaps-e2e/internal/stubapp"
)

const (
	browserTestBucketName = "browser-test-posters"

	// CODING AGENT RULE: Always use these timeout constants for browser tests.
	// Never introduce a larger timeout value anywhere in tests/browser.
	browserMaxTimeoutMS = 5000
	browserMaxTimeout   = 5 * time.Second
)

var browserFixtureMu sync.Mutex
var browserSharedFixture *BrowserTestEnv

// BrowserTestEnv is the shared environment for all browser tests: the
// stand-in application behind an httptest server plus one Chromium.
type BrowserTestEnv struct {
	Server  *httptest.Server
	BaseURL string
	Store   *db.Store
	Posters *s3client.Client
	App     *stubapp.App

	pw        *playwright.Playwright
	browser   playwright.Browser
	browserMu sync.Mutex
}

// SetupBrowserTestEnv returns the shared environment with an empty
// configuration.
func SetupBrowserTestEnv(t *testing.T) *BrowserTestEnv {
	t.Helper()

	env := getOrCreateSharedBrowserTestEnv(t)
	if err := env.Store.Nuke(context.Background()); err != nil {
		t.Fatalf("Failed to reset stand-in state: %v", err)
	}
	return env
}

func getOrCreateSharedBrowserTestEnv(t *testing.T) *BrowserTestEnv {
	t.Helper()

	browserFixtureMu.Lock()
	defer browserFixtureMu.Unlock()

	if browserSharedFixture != nil {
		if err := browserSharedFixture.Store.DB().Ping(); err == nil {
			return browserSharedFixture
		}
		cleanupSharedBrowserTestEnvLocked()
	}

	browserSharedFixture = createBrowserTestEnv(t)
	return browserSharedFixture
}

func createBrowserTestEnv(t *testing.T) *BrowserTestEnv {
	t.Helper()

	key := make([]byte, db.KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("Failed to generate database key: %v", err)
	}
	store, err := db.Open("", key)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	// The shared fixture outlives any single test, so it cannot use TestClient.
	posters, err := s3client.NewMemory(context.Background(), browserTestBucketName, "")
	if err != nil {
		t.Fatalf("Failed to start in-memory S3: %v", err)
	}

	app, err := stubapp.New(stubapp.Options{
		Store:   store,
		Posters: posters,
		// High limits for tests
		RateLimit: ratelimit.Config{RPS: 10000, Burst: 100000, CleanupInterval: time.Hour},
	})
	if err != nil {
		t.Fatalf("Failed to create stand-in application: %v", err)
	}

	server := httptest.NewServer(app.Handler())
	return &BrowserTestEnv{
		Server:  server,
		BaseURL: server.URL,
		Store:   store,
		Posters: posters,
		App:     app,
	}
}

func cleanupSharedBrowserTestEnv() {
	browserFixtureMu.Lock()
	defer browserFixtureMu.Unlock()
	cleanupSharedBrowserTestEnvLocked()
}

func cleanupSharedBrowserTestEnvLocked() {
	if browserSharedFixture == nil {
		return
	}
	if browserSharedFixture.browser != nil {
		_ = browserSharedFixture.browser.Close()
	}
	if browserSharedFixture.pw != nil {
		_ = browserSharedFixture.pw.Stop()
	}
	if browserSharedFixture.Server != nil {
		browserSharedFixture.Server.Close()
	}
	if browserSharedFixture.App != nil {
		browserSharedFixture.App.Close()
	}
	if browserSharedFixture.Posters != nil {
		_ = browserSharedFixture.Posters.Close()
	}
	if browserSharedFixture.Store != nil {
		_ = browserSharedFixture.Store.Close()
	}
	browserSharedFixture = nil
}

func TestMain(m *testing.M) {
	code := m.Run()
	cleanupSharedBrowserTestEnv()
	os.Exit(code)
}

// =============================================================================
// Browser helpers
// =============================================================================

// InitBrowser launches Chromium once per process, skipping the test when
// Playwright is not installed.
func (env *BrowserTestEnv) InitBrowser(t *testing.T) {
	t.Helper()

	env.browserMu.Lock()
	defer env.browserMu.Unlock()

	if env.browser != nil {
		return
	}

	pw, err := playwright.Run()
	if err != nil {
		t.Skip("Playwright not available:", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		_ = pw.Stop()
		t.Skip("Could not launch browser:", err)
	}
	env.pw = pw
	env.browser = browser
}

// NewPage creates a new browser page with default 5s timeout.
func (env *BrowserTestEnv) NewPage(t *testing.T) playwright.Page {
	t.Helper()

	page, err := env.browser.NewPage()
	if err != nil {
		t.Fatalf("could not create page: %v", err)
	}
	page.SetDefaultTimeout(browserMaxTimeoutMS)
	page.SetDefaultNavigationTimeout(browserMaxTimeoutMS)
	return page
}

// Driver adapts the shared Chromium to the harness driver. Closing it leaves
// the browser running.
func (env *BrowserTestEnv) Driver() *pwdriver.Browser {
	return pwdriver.Wrap(env.browser, pwdriver.Options{Timeout: browserMaxTimeout, NavTimeout: 2 * browserMaxTimeout})
}

// Fixtures returns the setup hook client pointed at the stand-in.
func (env *BrowserTestEnv) Fixtures() *fixture.Client {
	return fixture.New(fixture.Options{
		BaseURL:   env.BaseURL,
		TMDBKey:   stubapp.Demo.TMDBKey,
		PlexToken: stubapp.Demo.PlexToken,
		PlexServers: map[string]string{
			fixture.HookLibrary:      stubapp.Demo.LibraryPlexURL,
			fixture.HookRedLibrary:   stubapp.Demo.RedPlexURL,
			fixture.HookJokerLibrary: stubapp.Demo.JokerPlexURL,
		},
	})
}

// Runner returns a scenario runner wired to the shared browser and stand-in.
func (env *BrowserTestEnv) Runner() *scenario.Runner {
	return &scenario.Runner{
		Browser:    env.Driver(),
		BaseURL:    env.BaseURL,
		Fixtures:   env.Fixtures(),
		Poller:     expect.Poller{Timeout: browserMaxTimeout, Interval: 50 * time.Millisecond},
		Probe:      probe.Options{Timeout: browserMaxTimeout},
		NavTimeout: browserMaxTimeout,
	}
}

// =============================================================================
// Navigation and wait helpers
// =============================================================================

// Navigate navigates to a path on the test server and waits for DOMContentLoaded.
func Navigate(t *testing.T, page playwright.Page, baseURL, path string) {
	t.Helper()

	_, err := page.Goto(baseURL+path, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(browserMaxTimeoutMS),
	})
	if err != nil {
		t.Fatalf("Failed to navigate to %s: %v", path, err)
	}
}

// WaitForSelector waits for an element to be visible and returns its locator.
func WaitForSelector(t *testing.T, page playwright.Page, selector string) playwright.Locator {
	t.Helper()

	locator := page.Locator(selector)
	first := locator.First()
	err := first.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(browserMaxTimeoutMS),
	})
	if err != nil {
		currentURL := page.URL()
		title, _ := page.Title()
		content, _ := page.Content()
		if len(content) > 500 {
			content = content[:500] + "..."
		}
		t.Logf("Current URL: %s", currentURL)
		t.Logf("Current title: %s", title)
		t.Logf("Content preview: %s", content)
		t.Fatalf("Failed to wait for selector %s: %v", selector, err)
	}
	return first
}
