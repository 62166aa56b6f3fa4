// Package fixture implements the setup hooks that put the application into
// a known library state before a scenario group runs.
package fixture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/jasonhhouse/gaps-e2e/internal/errs"
	"github.com/jasonhhouse/gaps-e2e/internal/logutil"
	"github.com/jasonhhouse/gaps-e2e/internal/obs"
)

// Hook names used by scenario groups.
const (
	HookLibrary      = "library"
	HookRedLibrary   = "redLibrary"
	HookJokerLibrary = "jokerLibrary"
)

const (
	defaultPlexPort    = "32400"
	maxLoggedBodyChars = 200
	defaultTimeout     = 30 * time.Second
)

// Options configures a Client.
type Options struct {
	// BaseURL is the application root, e.g. http://localhost:8484.
	BaseURL   string
	TMDBKey   string
	PlexToken string
	// PlexServers maps hook names to the Plex server URL the hook registers.
	PlexServers map[string]string
	HTTPClient  *http.Client
}

// Client calls the application's setup endpoints.
type Client struct {
	baseURL   string
	tmdbKey   string
	plexToken string
	servers   map[string]string
	http      *http.Client
}

// New returns a Client. A nil HTTPClient uses one with a 30s timeout.
func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	servers := make(map[string]string, len(opts.PlexServers))
	for name, u := range opts.PlexServers {
		servers[name] = u
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		tmdbKey:   opts.TMDBKey,
		plexToken: opts.PlexToken,
		servers:   servers,
		http:      hc,
	}
}

// Hooks returns the registered hook names in sorted order.
func (c *Client) Hooks() []string {
	names := make([]string, 0, len(c.servers))
	for name := range c.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run executes the named hook: wipe the configuration, save the TMDB key,
// and register the hook's Plex server. Every failure is a FixtureFailed
// error.
func (c *Client) Run(ctx context.Context, name string) error {
	plexURL, ok := c.servers[name]
	if !ok {
		return errs.New(errs.FixtureFailed, fmt.Sprintf("fixture %s: unknown hook (known: %s)", name, strings.Join(c.Hooks(), ", ")))
	}
	address, port, err := SplitPlexURL(plexURL)
	if err != nil {
		return errs.Wrap(errs.FixtureFailed, fmt.Sprintf("fixture %s: %v", name, err), err)
	}

	logger := obs.From(ctx)
	start := time.Now()
	logger.Info("fixture_start", "fixture", name, "plex_address", address, "plex_port", port)

	if err := c.Nuke(ctx); err != nil {
		return c.fail(name, err)
	}
	if err := c.SaveTMDBKey(ctx, c.tmdbKey); err != nil {
		return c.fail(name, err)
	}
	if err := c.AddPlex(ctx, address, port, c.plexToken); err != nil {
		return c.fail(name, err)
	}

	logger.Info("fixture_done", "fixture", name, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (c *Client) fail(name string, err error) error {
	return errs.Wrap(errs.FixtureFailed, fmt.Sprintf("fixture %s: %s", name, err.Error()), err)
}

// Nuke wipes the application's configuration.
func (c *Client) Nuke(ctx context.Context) error {
	return c.post(ctx, "/configuration/nuke", nil)
}

// SaveTMDBKey stores the TMDB API key.
func (c *Client) SaveTMDBKey(ctx context.Context, key string) error {
	if key == "" {
		return errs.New(errs.InvalidArgument, "TMDB key is empty")
	}
	return c.post(ctx, "/configuration/save/tmdbKey/"+url.PathEscape(key), nil)
}

// AddPlex registers a Plex server.
func (c *Client) AddPlex(ctx context.Context, address, port, token string) error {
	form := url.Values{}
	form.Set("address", address)
	form.Set("port", port)
	form.Set("plexToken", token)
	return c.post(ctx, "/configuration/add/plex", form)
}

func (c *Client) post(ctx context.Context, path string, form url.Values) error {
	logger := obs.From(ctx)
	logPath := logutil.RedactPathForLog(path)

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build POST %s: %w", logPath, err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Warn("fixture_request_failed", "method", http.MethodPost, "path", logPath, "error", err)
		return fmt.Errorf("POST %s: %w", logPath, err)
	}
	defer resp.Body.Close()
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))

	attrs := []any{
		"method", http.MethodPost,
		"path", logPath,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	}
	if readErr != nil {
		attrs = append(attrs, "read_error", readErr)
	}
	if form != nil {
		attrs = append(attrs, "form", logutil.FormatFormForLog(form))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		attrs = append(attrs, "response", logutil.TruncateForLog(
			logutil.RedactBodyForLog(resp.Header.Get("Content-Type"), respBody), maxLoggedBodyChars),
			"response_headers", logutil.FormatHeadersForLog(resp.Header))
		logger.Warn("fixture_request", attrs...)
		if readErr != nil {
			return fmt.Errorf("POST %s returned %d (reading body: %w)", logPath, resp.StatusCode, readErr)
		}
		return fmt.Errorf("POST %s returned %d", logPath, resp.StatusCode)
	}
	logger.Debug("fixture_request", attrs...)
	return nil
}

// SplitPlexURL splits a Plex server URL such as http://192.168.1.8:32400
// into the address and port the add-server form expects. A bare host:port
// is accepted too. The port defaults to 32400.
func SplitPlexURL(raw string) (address, port string, err error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", errors.New("empty plex server URL")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("bad plex server URL: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		return "", "", fmt.Errorf("plex server URL %q has no host", raw)
	}
	port = u.Port()
	if port == "" {
		port = defaultPlexPort
	}
	return host, port, nil
}
