// Package config loads the harness and stand-in application configuration
// from CLI flags and environment variables, validates it, and provides
// defaults.
//
// --stub boots the in-process stand-in application instead of targeting
// GAPS_BASE_URL. Environment variables provide the fixture secrets and the
// stand-in's storage settings.
package config

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jasonhhouse/gaps-e2e/internal/ratelimit"
)

const (
	defaultS3Region = "auto"

	DriverPlaywright = "playwright"
	DriverChromedp   = "chromedp"
	DriverRod        = "rod"
)

// Config holds all configuration.
type Config struct {
	// Harness
	BaseURL       string // GAPS_BASE_URL, filled from the stand-in with --stub
	Stub          bool   // --stub
	Driver        string // E2E_DRIVER or --driver
	Headless      bool   // E2E_HEADLESS
	CDPURL        string // E2E_CDP_URL, attach to a running browser (chromedp, rod)
	AssertTimeout time.Duration
	PollInterval  time.Duration
	ProbeTimeout  time.Duration
	NavTimeout    time.Duration
	SuitesDir     string // E2E_SUITES_DIR or --suites; empty runs the built-in suites
	RunFilter     string // E2E_RUN or --run, regexp on scenario names

	// Fixture hooks
	TMDBKey        string
	PlexToken      string
	LibraryPlexURL string
	RedPlexURL     string
	JokerPlexURL   string

	// Stand-in application
	ListenAddr      string
	DatabasePath    string // DATABASE_PATH, empty keeps the store in memory
	DatabaseKey     string // DATABASE_KEY, 64 hex characters; empty generates one per process
	RateLimitConfig ratelimit.Config

	// S3 poster storage (in-memory when AWS_ENDPOINT_URL_S3 is unset)
	AWSEndpointS3      string // AWS_ENDPOINT_URL_S3
	AWSRegion          string // AWS_REGION
	AWSAccessKeyID     string // AWS_ACCESS_KEY_ID
	AWSSecretAccessKey string // AWS_SECRET_ACCESS_KEY
	AWSBucketName      string // BUCKET_NAME
}

// Flags are the CLI flag values layered over the environment.
type Flags struct {
	Stub   bool
	Driver string
	Suites string
	Run    string
	Addr   string
}

// ValidationError represents a configuration validation error with multiple issues.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

// RegisterFlags registers the CLI flags on fs.
func RegisterFlags(fs *flag.FlagSet, f *Flags) {
	fs.BoolVar(&f.Stub, "stub", false, "Run against the in-process stand-in application")
	fs.StringVar(&f.Driver, "driver", "", "Browser driver: playwright, chromedp or rod (overrides E2E_DRIVER)")
	fs.StringVar(&f.Suites, "suites", "", "Directory of scenario YAML files (overrides E2E_SUITES_DIR)")
	fs.StringVar(&f.Run, "run", "", "Only run scenarios whose name matches this regexp (overrides E2E_RUN)")
	fs.StringVar(&f.Addr, "addr", "", "Stand-in listen address (overrides LISTEN_ADDR)")
}

// ParseFlags parses the process command line. Call before LoadConfig.
func ParseFlags() Flags {
	var f Flags
	RegisterFlags(flag.CommandLine, &f)
	flag.Parse()
	return f
}

// LoadConfig loads configuration from environment variables and CLI flag values.
func LoadConfig(f Flags) (*Config, error) {
	cfg := &Config{Stub: f.Stub}

	// Harness
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("GAPS_BASE_URL")), "/")
	cfg.Driver = strings.ToLower(getEnvOrDefault("E2E_DRIVER", DriverPlaywright))
	if f.Driver != "" {
		cfg.Driver = strings.ToLower(f.Driver)
	}
	cfg.Headless = parseBoolOrDefault("E2E_HEADLESS", true)
	cfg.CDPURL = strings.TrimSpace(os.Getenv("E2E_CDP_URL"))
	cfg.AssertTimeout = parseDurationOrDefault("E2E_ASSERT_TIMEOUT", 5*time.Second)
	cfg.PollInterval = parseDurationOrDefault("E2E_POLL_INTERVAL", 100*time.Millisecond)
	cfg.ProbeTimeout = parseDurationOrDefault("E2E_PROBE_TIMEOUT", 5*time.Second)
	cfg.NavTimeout = parseDurationOrDefault("E2E_NAV_TIMEOUT", 10*time.Second)
	cfg.SuitesDir = strings.TrimSpace(os.Getenv("E2E_SUITES_DIR"))
	if f.Suites != "" {
		cfg.SuitesDir = f.Suites
	}
	cfg.RunFilter = os.Getenv("E2E_RUN")
	if f.Run != "" {
		cfg.RunFilter = f.Run
	}

	// Fixture hooks
	cfg.TMDBKey = strings.TrimSpace(os.Getenv("TMDB_KEY"))
	cfg.PlexToken = strings.TrimSpace(os.Getenv("PLEX_TOKEN"))
	cfg.LibraryPlexURL = strings.TrimSpace(os.Getenv("LIBRARY_PLEX_URL"))
	cfg.RedPlexURL = strings.TrimSpace(os.Getenv("RED_PLEX_URL"))
	cfg.JokerPlexURL = strings.TrimSpace(os.Getenv("JOKER_PLEX_URL"))

	// Stand-in application
	cfg.ListenAddr = getEnvOrDefault("LISTEN_ADDR", "127.0.0.1:8484")
	if f.Addr != "" {
		cfg.ListenAddr = f.Addr
	}
	cfg.DatabasePath = strings.TrimSpace(os.Getenv("DATABASE_PATH"))
	cfg.DatabaseKey = strings.TrimSpace(os.Getenv("DATABASE_KEY"))
	cfg.RateLimitConfig = ratelimit.Config{
		RPS:             parseFloat64OrDefault("RATE_LIMIT_RPS", ratelimit.DefaultConfig.RPS),
		Burst:           parseIntOrDefault("RATE_LIMIT_BURST", ratelimit.DefaultConfig.Burst),
		CleanupInterval: parseDurationOrDefault("RATE_LIMIT_CLEANUP_INTERVAL", ratelimit.DefaultConfig.CleanupInterval),
	}

	// S3 poster storage
	cfg.AWSEndpointS3 = strings.TrimSpace(os.Getenv("AWS_ENDPOINT_URL_S3"))
	cfg.AWSRegion = getEnvOrDefault("AWS_REGION", defaultS3Region)
	cfg.AWSAccessKeyID = strings.TrimSpace(os.Getenv("AWS_ACCESS_KEY_ID"))
	cfg.AWSSecretAccessKey = strings.TrimSpace(os.Getenv("AWS_SECRET_ACCESS_KEY"))
	cfg.AWSBucketName = getEnvOrDefault("BUCKET_NAME", "gaps-posters")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that all required configuration is present and valid.
// Fixture secrets and the base URL are only required without --stub, where
// the stand-in supplies them.
func (c *Config) Validate() error {
	var errs []string

	switch c.Driver {
	case DriverPlaywright, DriverChromedp, DriverRod:
	default:
		errs = append(errs, fmt.Sprintf("E2E_DRIVER must be one of %s, %s, %s (got %q)", DriverPlaywright, DriverChromedp, DriverRod, c.Driver))
	}

	if !c.Stub {
		if c.BaseURL == "" {
			errs = append(errs, "GAPS_BASE_URL is required (set env var or use --stub)")
		} else if u, err := url.Parse(c.BaseURL); err != nil || !u.IsAbs() {
			errs = append(errs, "GAPS_BASE_URL must be an absolute URL")
		}
		if c.TMDBKey == "" {
			errs = append(errs, "TMDB_KEY is required (set env var or use --stub)")
		}
		if c.PlexToken == "" {
			errs = append(errs, "PLEX_TOKEN is required (set env var or use --stub)")
		}
		for name, value := range map[string]string{
			"LIBRARY_PLEX_URL": c.LibraryPlexURL,
			"RED_PLEX_URL":     c.RedPlexURL,
			"JOKER_PLEX_URL":   c.JokerPlexURL,
		} {
			if value == "" {
				errs = append(errs, name+" is required (set env var or use --stub)")
			}
		}
	}

	for name, d := range map[string]time.Duration{
		"E2E_ASSERT_TIMEOUT": c.AssertTimeout,
		"E2E_POLL_INTERVAL":  c.PollInterval,
		"E2E_PROBE_TIMEOUT":  c.ProbeTimeout,
		"E2E_NAV_TIMEOUT":    c.NavTimeout,
	} {
		if d <= 0 {
			errs = append(errs, name+" must be positive")
		}
	}
	if c.PollInterval > c.AssertTimeout {
		errs = append(errs, "E2E_POLL_INTERVAL must not exceed E2E_ASSERT_TIMEOUT")
	}

	if c.RunFilter != "" {
		if _, err := regexp.Compile(c.RunFilter); err != nil {
			errs = append(errs, fmt.Sprintf("E2E_RUN is not a valid regexp: %v", err))
		}
	}

	if c.DatabaseKey != "" {
		if b, err := hex.DecodeString(c.DatabaseKey); err != nil || len(b) != 32 {
			errs = append(errs, "DATABASE_KEY must be 64 hex characters (32 bytes)")
		}
	}

	if c.AWSEndpointS3 != "" {
		if c.AWSAccessKeyID == "" {
			errs = append(errs, "AWS_ACCESS_KEY_ID is required when AWS_ENDPOINT_URL_S3 is set")
		}
		if c.AWSSecretAccessKey == "" {
			errs = append(errs, "AWS_SECRET_ACCESS_KEY is required when AWS_ENDPOINT_URL_S3 is set")
		}
	}

	if c.RateLimitConfig.RPS <= 0 {
		errs = append(errs, "RATE_LIMIT_RPS must be positive")
	}
	if c.RateLimitConfig.Burst <= 0 {
		errs = append(errs, "RATE_LIMIT_BURST must be positive")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return &ValidationError{Errors: errs}
	}
	return nil
}

// Filter compiles RunFilter. A nil result runs every scenario.
func (c *Config) Filter() *regexp.Regexp {
	if c.RunFilter == "" {
		return nil
	}
	return regexp.MustCompile(c.RunFilter)
}

// UseMemoryS3 reports whether posters are kept in an in-memory S3.
func (c *Config) UseMemoryS3() bool {
	return c.AWSEndpointS3 == ""
}

// PrintStartupSummary prints a human-readable summary of the configuration.
func (c *Config) PrintStartupSummary(w io.Writer) {
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "gaps-e2e starting...")

	if c.Stub {
		fmt.Fprintf(w, "  Target:  stand-in application (--stub, listen %s)\n", c.ListenAddr)
	} else {
		fmt.Fprintf(w, "  Target:  %s\n", c.BaseURL)
	}

	browser := c.Driver
	if c.CDPURL != "" {
		browser += " (remote " + c.CDPURL + ")"
	} else if c.Headless {
		browser += " (headless)"
	}
	fmt.Fprintf(w, "  Driver:  %s\n", browser)

	if c.SuitesDir != "" {
		fmt.Fprintf(w, "  Suites:  %s\n", c.SuitesDir)
	} else {
		fmt.Fprintln(w, "  Suites:  built-in")
	}
	if c.RunFilter != "" {
		fmt.Fprintf(w, "  Filter:  %s\n", c.RunFilter)
	}
	fmt.Fprintf(w, "  Timing:  assert %s, poll %s, probe %s, nav %s\n", c.AssertTimeout, c.PollInterval, c.ProbeTimeout, c.NavTimeout)

	if c.Stub {
		if c.UseMemoryS3() {
			fmt.Fprintln(w, "  Posters: in-memory S3")
		} else {
			fmt.Fprintf(w, "  Posters: S3 (endpoint: %s, bucket: %s)\n", c.AWSEndpointS3, c.AWSBucketName)
		}
	}
	fmt.Fprintln(w, "")
}

// Helper functions for parsing environment variables

func getEnvOrDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
