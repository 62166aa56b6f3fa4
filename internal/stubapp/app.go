// Package stubapp is an in-process stand-in for the Gaps web application.
// It serves the pages, setup endpoints and library API the end-to-end
// suites drive, against a fixed catalog of Plex servers instead of real
// Plex and TMDB services.
package stubapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jasonhhouse/gaps-e2e/internal/db"
	"github.com/jasonhhouse/gaps-e2e/internal/obs"
	"github.com/jasonhhouse/gaps-e2e/internal/ratelimit"
	"github.com/jasonhhouse/gaps-e2e/internal/s3client"
	"github.com/jasonhhouse/gaps-e2e/internal/web"
)

// Options configures an App.
type Options struct {
	Store     *db.Store
	Posters   *s3client.Client
	Catalog   Catalog
	RateLimit ratelimit.Config
	// Now is the clock used for search timestamps. Defaults to time.Now.
	Now func() time.Time
}

// App is the stand-in application.
type App struct {
	store    *db.Store
	posters  *s3client.Client
	catalog  Catalog
	renderer *web.Renderer
	static   *web.StaticHandler
	limiter  *ratelimit.ClientLimiter
	now      func() time.Time

	ctaOnce sync.Once
	ctaPNG  []byte
	ctaErr  error
}

// New creates the application.
func New(opts Options) (*App, error) {
	if opts.Store == nil {
		return nil, errors.New("stubapp: store is required")
	}
	if opts.Posters == nil {
		return nil, errors.New("stubapp: poster storage is required")
	}
	if opts.Catalog == nil {
		opts.Catalog = DemoCatalog()
	}
	if opts.RateLimit == (ratelimit.Config{}) {
		opts.RateLimit = ratelimit.DefaultConfig
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	renderer, err := web.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("stubapp: %w", err)
	}

	return &App{
		store:    opts.Store,
		posters:  opts.Posters,
		catalog:  opts.Catalog,
		renderer: renderer,
		static:   web.NewStaticHandler(renderer),
		limiter:  ratelimit.NewClientLimiter(opts.RateLimit),
		now:      opts.Now,
	}, nil
}

// Handler returns the application's HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()

	// Pages
	mux.HandleFunc("GET /{$}", a.handleRoot)
	mux.HandleFunc("GET /configuration", a.handleConfiguration)
	mux.HandleFunc("GET /libraries", a.handleLibraries)
	mux.HandleFunc("GET /recommended", a.handleRecommended)
	mux.HandleFunc("GET /rssCheck", a.handleRSSCheck)
	a.static.RegisterRoutes(mux)

	// Assets
	mux.HandleFunc("GET /posters/{name}", a.handlePoster)
	mux.HandleFunc("GET /images/search-library.png", a.handleCallToAction)

	// Feeds and library API
	mux.HandleFunc("GET /rss/{machineId}/{key}", a.handleRSS)
	mux.HandleFunc("GET /libraries/{machineId}/{key}", a.handleLibraryJSON)
	mux.HandleFunc("POST /libraries/{machineId}/{key}/search", a.handleSearch)

	// Setup endpoints
	limited := ratelimit.Middleware(a.limiter, ratelimit.ClientKey)
	mux.Handle("POST /configuration/nuke", limited(http.HandlerFunc(a.handleNuke)))
	mux.Handle("POST /configuration/save/tmdbKey/{key}", limited(http.HandlerFunc(a.handleSaveTMDBKey)))
	mux.Handle("POST /configuration/test/tmdbKey/{key}", limited(http.HandlerFunc(a.handleTestTMDBKey)))
	mux.Handle("POST /configuration/add/plex", limited(http.HandlerFunc(a.handleAddPlex)))

	return obs.RequestContextMiddleware(obs.AccessLogMiddleware("stubapp", mux))
}

// Close stops background work.
func (a *App) Close() {
	a.limiter.Stop()
}

func (a *App) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/libraries", http.StatusFound)
}

func (a *App) callToAction() ([]byte, error) {
	a.ctaOnce.Do(func() {
		a.ctaPNG, a.ctaErr = RenderCallToAction()
	})
	return a.ctaPNG, a.ctaErr
}

func (a *App) handleCallToAction(w http.ResponseWriter, r *http.Request) {
	img, err := a.callToAction()
	if err != nil {
		obs.From(r.Context()).With("pkg", "stubapp").Error("cta_render_failed", "error", err)
		http.Error(w, "image unavailable", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(img)
}

// ensurePoster uploads the poster for t under key unless it is already stored.
func (a *App) ensurePoster(ctx context.Context, key string, t Title) error {
	stored, err := a.posters.HasPoster(ctx, key)
	if err != nil || stored {
		return err
	}
	img, err := RenderPoster(t)
	if err != nil {
		return fmt.Errorf("render poster for %q: %w", t.Title, err)
	}
	return a.posters.PutPoster(ctx, key, img)
}
