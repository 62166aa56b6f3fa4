// gaps-e2e drives the Gaps web application through a real browser and runs
// the end-to-end scenario groups against it.
//
// Usage:
//
//	GAPS_BASE_URL=http://localhost:8484 TMDB_KEY=... PLEX_TOKEN=... gaps-e2e
//	gaps-e2e --stub                      # against the in-process stand-in
//	gaps-e2e --stub --driver rod --run 'Find'
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jasonhhouse/gaps-e2e/internal/config"
	"github.com/jasonhhouse/gaps-e2e/internal/driver"
	"github.com/jasonhhouse/gaps-e2e/internal/driver/cdpdriver"
	"github.com/jasonhhouse/gaps-e2e/internal/driver/pwdriver"
	"github.com/jasonhhouse/gaps-e2e/internal/driver/roddriver"
	"github.com/jasonhhouse/gaps-e2e/internal/expect"
	"github.com/jasonhhouse/gaps-e2e/internal/fixture"
	"github.com/jasonhhouse/gaps-e2e/internal/obs"
	"github.com/jasonhhouse/gaps-e2e/internal/probe"
	"github.com/jasonhhouse/gaps-e2e/internal/scenario"
	"github.com/jasonhhouse/gaps-e2e/internal/stubapp"
	"github.com/jasonhhouse/gaps-e2e/internal/suite"
)

func main() {
	flags := config.ParseFlags()
	cfg, err := config.LoadConfig(flags)
	if err != nil {
		log.Fatal(err)
	}
	obs.Init()
	cfg.PrintStartupSummary(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	failed, err := run(ctx, cfg)
	stop()
	if err != nil {
		log.Fatal(err)
	}
	if failed {
		os.Exit(1)
	}
}

// run executes the configured suites and reports whether any scenario failed.
func run(ctx context.Context, cfg *config.Config) (bool, error) {
	logger := obs.Pkg("main")

	if cfg.Stub {
		srv, err := stubapp.Start(ctx, cfg)
		if err != nil {
			return false, fmt.Errorf("start stand-in application: %w", err)
		}
		defer func() {
			if err := srv.Close(); err != nil {
				logger.Error("stubapp_close_failed", "error", err)
			}
		}()
		applyStubDefaults(cfg, srv.URL)
	}

	groups, err := loadGroups(cfg)
	if err != nil {
		return false, err
	}

	browser, err := launch(ctx, cfg)
	if err != nil {
		return false, fmt.Errorf("launch %s browser: %w", cfg.Driver, err)
	}
	defer browser.Close()

	fixtures := fixture.New(fixture.Options{
		BaseURL:   cfg.BaseURL,
		TMDBKey:   cfg.TMDBKey,
		PlexToken: cfg.PlexToken,
		PlexServers: map[string]string{
			fixture.HookLibrary:      cfg.LibraryPlexURL,
			fixture.HookRedLibrary:   cfg.RedPlexURL,
			fixture.HookJokerLibrary: cfg.JokerPlexURL,
		},
	})

	runner := &scenario.Runner{
		Browser:    browser,
		BaseURL:    cfg.BaseURL,
		Fixtures:   fixtures,
		Poller:     expect.Poller{Timeout: cfg.AssertTimeout, Interval: cfg.PollInterval},
		Probe:      probe.Options{Timeout: cfg.ProbeTimeout, Interval: cfg.PollInterval},
		NavTimeout: cfg.NavTimeout,
		Filter:     cfg.Filter(),
	}
	report := runner.Run(ctx, groups)
	if err := report.WriteText(os.Stdout); err != nil {
		return false, fmt.Errorf("write report: %w", err)
	}
	return report.Failed(), nil
}

// applyStubDefaults points the harness at the stand-in and fills fixture
// inputs that were not set explicitly with the demo catalog's.
func applyStubDefaults(cfg *config.Config, baseURL string) {
	cfg.BaseURL = baseURL
	fill := func(dst *string, value string) {
		if *dst == "" {
			*dst = value
		}
	}
	fill(&cfg.TMDBKey, stubapp.Demo.TMDBKey)
	fill(&cfg.PlexToken, stubapp.Demo.PlexToken)
	fill(&cfg.LibraryPlexURL, stubapp.Demo.LibraryPlexURL)
	fill(&cfg.RedPlexURL, stubapp.Demo.RedPlexURL)
	fill(&cfg.JokerPlexURL, stubapp.Demo.JokerPlexURL)
}

func loadGroups(cfg *config.Config) ([]scenario.Group, error) {
	if cfg.SuitesDir == "" {
		groups, err := suite.Load()
		if err != nil {
			return nil, fmt.Errorf("load built-in suites: %w", err)
		}
		return groups, nil
	}
	groups, err := scenario.LoadDir(cfg.SuitesDir)
	if err != nil {
		return nil, fmt.Errorf("load suites from %s: %w", cfg.SuitesDir, err)
	}
	return groups, nil
}

func launch(ctx context.Context, cfg *config.Config) (driver.Browser, error) {
	switch cfg.Driver {
	case config.DriverChromedp:
		return cdpdriver.Launch(ctx, cdpdriver.Options{RemoteURL: cfg.CDPURL, Headless: cfg.Headless})
	case config.DriverRod:
		return roddriver.Launch(roddriver.Options{RemoteURL: cfg.CDPURL, Headless: cfg.Headless})
	default:
		return pwdriver.Launch(pwdriver.Options{Headless: cfg.Headless, Timeout: cfg.AssertTimeout, NavTimeout: cfg.NavTimeout})
	}
}
