package stubapp

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jasonhhouse/gaps-e2e/internal/db"
	"github.com/jasonhhouse/gaps-e2e/internal/errs"
	"github.com/jasonhhouse/gaps-e2e/internal/obs"
	"github.com/jasonhhouse/gaps-e2e/internal/s3client"
	"github.com/jasonhhouse/gaps-e2e/internal/urlutil"
)

// MovieView is a movie as the library API and templates present it.
type MovieView struct {
	Title  string `json:"title"`
	Year   int    `json:"year"`
	Poster string `json:"poster"`
}

// LibraryView is the library API response.
type LibraryView struct {
	MachineID  string      `json:"machineIdentifier"`
	Key        int         `json:"key"`
	Title      string      `json:"title"`
	ServerName string      `json:"serverName"`
	Searched   bool        `json:"searched"`
	SearchedAt *time.Time  `json:"searchedAt,omitempty"`
	Filter     string      `json:"filter,omitempty"`
	Movies     []MovieView `json:"movies"`
}

func (a *App) movieViews(movies []db.Movie) []MovieView {
	views := make([]MovieView, 0, len(movies))
	for _, m := range movies {
		views = append(views, MovieView{Title: m.Title, Year: m.Year, Poster: a.posters.PosterURL(m.PosterKey)})
	}
	return views
}

// findLibrary returns a stored server and one of its libraries.
func (a *App) findLibrary(ctx context.Context, machineID, rawKey string) (db.Server, db.Library, error) {
	key, err := strconv.Atoi(rawKey)
	if err != nil {
		return db.Server{}, db.Library{}, errs.New(errs.InvalidArgument, "library key must be a number")
	}
	servers, err := a.store.Servers(ctx)
	if err != nil {
		return db.Server{}, db.Library{}, errs.Wrap(errs.Internal, "failed to load servers", err)
	}
	for _, srv := range servers {
		if srv.MachineID != machineID {
			continue
		}
		for _, lib := range srv.Libraries {
			if lib.Key == key {
				return srv, lib, nil
			}
		}
	}
	return db.Server{}, db.Library{}, errs.New(errs.NotFound, fmt.Sprintf("library %s/%d not found", machineID, key))
}

func (a *App) libraryView(ctx context.Context, srv db.Server, lib db.Library, filter string) (LibraryView, error) {
	view := LibraryView{
		MachineID:  srv.MachineID,
		Key:        lib.Key,
		Title:      lib.Title,
		ServerName: srv.FriendlyName,
		Searched:   lib.Searched(),
		Filter:     filter,
		Movies:     []MovieView{},
	}
	if !lib.Searched() {
		return view, nil
	}
	at := lib.SearchedAt
	view.SearchedAt = &at

	movies, err := a.store.Movies(ctx, srv.MachineID, lib.Key, filter)
	if err != nil {
		return LibraryView{}, errs.Wrap(errs.Internal, "failed to load movies", err)
	}
	view.Movies = a.movieViews(movies)
	return view, nil
}

func (a *App) handleLibraryJSON(w http.ResponseWriter, r *http.Request) {
	srv, lib, err := a.findLibrary(r.Context(), r.PathValue("machineId"), r.PathValue("key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	view, err := a.libraryView(r.Context(), srv, lib, strings.TrimSpace(r.URL.Query().Get("q")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleSearch searches every library of the server the requested library
// belongs to, then answers with the requested library.
func (a *App) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	srv, lib, err := a.findLibrary(ctx, r.PathValue("machineId"), r.PathValue("key"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	tmdbKey, err := a.store.TMDBKey(ctx)
	if err != nil {
		writeError(w, r, errs.Wrap(errs.Internal, "failed to load TMDB key", err))
		return
	}
	if tmdbKey == "" {
		writeError(w, r, errs.New(errs.InvalidArgument, "TMDB key is not configured"))
		return
	}

	if err := a.searchServer(ctx, srv); err != nil {
		writeError(w, r, err)
		return
	}

	lib, err = a.store.Library(ctx, srv.MachineID, lib.Key)
	if err != nil {
		writeError(w, r, errs.Wrap(errs.Internal, "failed to reload library", err))
		return
	}
	view, err := a.libraryView(ctx, srv, lib, strings.TrimSpace(r.URL.Query().Get("q")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// searchServer asks the catalog for every library's owned and missing
// movies, records them, and makes sure each poster is stored.
func (a *App) searchServer(ctx context.Context, srv db.Server) error {
	logger := obs.From(ctx).With("pkg", "stubapp")
	start := time.Now()

	plex, ok := a.catalog.Lookup(srv.Address, srv.Port)
	if !ok || plex.MachineID != srv.MachineID {
		return errs.New(errs.Unavailable, fmt.Sprintf("could not reach %s at %s:%d", srv.FriendlyName, srv.Address, srv.Port))
	}

	results := make(map[int][]db.Movie, len(srv.Libraries))
	titles := make(map[string]Title)
	for _, lib := range srv.Libraries {
		found := []db.Movie{}
		if plexLib, ok := plex.Library(lib.Key); ok {
			for _, t := range plexLib.Owned {
				found = append(found, db.Movie{Title: t.Title, Year: t.Year})
				titles[posterID(t)] = t
			}
			for _, t := range plexLib.Missing {
				found = append(found, db.Movie{Title: t.Title, Year: t.Year, Missing: true})
				titles[posterID(t)] = t
			}
		}
		results[lib.Key] = found
	}

	if err := a.store.SaveSearch(ctx, srv.MachineID, results, a.now()); err != nil {
		return errs.Wrap(errs.Internal, "failed to save search results", err)
	}

	for _, lib := range srv.Libraries {
		owned, err := a.store.Movies(ctx, srv.MachineID, lib.Key, "")
		if err != nil {
			return errs.Wrap(errs.Internal, "failed to load movies", err)
		}
		missing, err := a.store.Recommended(ctx, srv.MachineID, lib.Key)
		if err != nil {
			return errs.Wrap(errs.Internal, "failed to load recommendations", err)
		}
		for _, m := range append(owned, missing...) {
			t := titles[posterID(Title{Title: m.Title, Year: m.Year})]
			if err := a.ensurePoster(ctx, m.PosterKey, t); err != nil {
				return errs.Wrap(errs.Unavailable, "failed to store poster", err)
			}
		}
	}

	logger.Info("library_search_done",
		"machine_id", srv.MachineID,
		"libraries", len(srv.Libraries),
		"dur_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func posterID(t Title) string {
	return t.Title + "\x00" + strconv.Itoa(t.Year)
}

func (a *App) handlePoster(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !strings.HasSuffix(name, ".png") {
		http.NotFound(w, r)
		return
	}
	img, err := a.posters.Poster(r.Context(), "posters/"+name)
	if errors.Is(err, s3client.ErrPosterNotFound) || errors.Is(err, s3client.ErrInvalidKey) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		obs.From(r.Context()).With("pkg", "stubapp").Error("poster_fetch_failed", "name", name, "error", err)
		http.Error(w, "poster unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(img)
}

type rssFeed struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title       string    `xml:"title"`
	Link        string    `xml:"link"`
	Description string    `xml:"description"`
	Items       []rssItem `xml:"item"`
}

type rssItem struct {
	Title     string       `xml:"title"`
	Link      string       `xml:"link"`
	GUID      string       `xml:"guid"`
	Enclosure rssEnclosure `xml:"enclosure"`
}

type rssEnclosure struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

// handleRSS serves the missing movies of a searched library as RSS 2.0.
func (a *App) handleRSS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	srv, lib, err := a.findLibrary(ctx, r.PathValue("machineId"), r.PathValue("key"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !lib.Searched() {
		writeError(w, r, errs.New(errs.NotFound, "library has not been searched yet"))
		return
	}
	missing, err := a.store.Recommended(ctx, srv.MachineID, lib.Key)
	if err != nil {
		writeError(w, r, errs.Wrap(errs.Internal, "failed to load recommendations", err))
		return
	}

	origin := urlutil.OriginFromRequest(r, "")
	link := urlutil.BuildAbsolute(origin, urlutil.WithQuery("/recommended", url.Values{
		"machineId": {srv.MachineID},
		"key":       {strconv.Itoa(lib.Key)},
	}))
	feed := rssFeed{
		Version: "2.0",
		Channel: rssChannel{
			Title:       "Gaps - " + srv.FriendlyName + " - " + lib.Title,
			Link:        link,
			Description: "Movies missing from " + lib.Title,
		},
	}
	for _, m := range missing {
		title := fmt.Sprintf("%s (%d)", m.Title, m.Year)
		feed.Channel.Items = append(feed.Channel.Items, rssItem{
			Title: title,
			Link:  link,
			GUID:  m.PosterKey,
			Enclosure: rssEnclosure{
				URL:  urlutil.BuildAbsolute(origin, a.posters.PosterURL(m.PosterKey)),
				Type: "image/png",
			},
		})
	}

	w.Header().Set("Content-Type", "application/rss+xml; charset=utf-8")
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(feed); err != nil {
		obs.From(ctx).With("pkg", "stubapp").Error("rss_encode_failed", "error", err)
	}
}
