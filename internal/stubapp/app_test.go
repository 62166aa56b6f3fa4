package stubapp

import (
	"bytes"
	"crypto/rand"
	"encoding/json"
	"encoding/xml"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jasonhhouse/gaps-e2e/internal/db"
	"github.com/jasonhhouse/gaps-e2e/internal/ratelimit"
	"github.com/jasonhhouse/gaps-e2e/internal/s3client"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	app    *App
	store  *db.Store
	server *httptest.Server
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	key := make([]byte, db.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)

	store, err := db.Open("", key)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	opts.Store = store
	opts.Posters = s3client.TestClient(t, "posters")
	if opts.Now == nil {
		opts.Now = func() time.Time { return fixedNow }
	}
	app, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(app.Close)

	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return &testEnv{app: app, store: store, server: srv}
}

func (e *testEnv) do(t *testing.T, method, path string, form url.Values) (*http.Response, []byte) {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, e.server.URL+path, body)
	require.NoError(t, err)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func plexForm(rawURL, token string) url.Values {
	host, port := mustHostPort(rawURL)
	return url.Values{"address": {host}, "port": {strconv.Itoa(port)}, "plexToken": {token}}
}

// setUp mirrors the fixture hooks: reset, save the TMDB key, add a server.
func (e *testEnv) setUp(t *testing.T, plexURL string) {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, "/configuration/nuke", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = e.do(t, http.MethodPost, "/configuration/save/tmdbKey/"+Demo.TMDBKey, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := e.do(t, http.MethodPost, "/configuration/add/plex", plexForm(plexURL, Demo.PlexToken))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func decodeLibrary(t *testing.T, body []byte) LibraryView {
	t.Helper()
	var view LibraryView
	require.NoError(t, json.Unmarshal(body, &view), string(body))
	return view
}

func decodeStatus(t *testing.T, body []byte) statusResponse {
	t.Helper()
	var status statusResponse
	require.NoError(t, json.Unmarshal(body, &status), string(body))
	return status
}

func titles(movies []MovieView) []string {
	out := make([]string, 0, len(movies))
	for _, m := range movies {
		out = append(out, m.Title)
	}
	return out
}

func TestNew_RequiresStoreAndPosters(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorContains(t, err, "store")
}

func TestRoot_RedirectsToLibraries(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp, _ := env.do(t, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/libraries", resp.Header.Get("Location"))
}

func TestConfiguration_CleanPage(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp, body := env.do(t, http.MethodGet, "/configuration", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	page := string(body)
	assert.Contains(t, page, `class="nav-link active" id="tmdbTab"`)
	assert.Contains(t, page, `class="nav-link" id="plexTab"`)
	assert.Contains(t, page, `class="nav-link disabled" id="folderTab"`)
	for _, id := range []string{"tmdbTestError", "tmdbTestSuccess", "tmdbSaveError", "tmdbSaveSuccess"} {
		assert.Regexp(t, `class="[^"]*d-none[^"]*" id="`+id+`"`, page)
	}
	assert.Equal(t, 1, strings.Count(page, `aria-current="page"`))
	assert.Contains(t, page, "Gaps.start(GapsConfiguration.init)")
}

func TestSetup_AddPlexListsServer(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.LibraryPlexURL)

	_, body := env.do(t, http.MethodGet, "/configuration", nil)
	assert.Contains(t, string(body), "KnoxServer")
	assert.Contains(t, string(body), `value="`+Demo.TMDBKey+`"`)
}

func TestSetup_AddPlexErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name   string
		form   url.Values
		status int
		msg    string
	}{
		{"missing fields", url.Values{}, http.StatusBadRequest, "address is required"},
		{"bad port", url.Values{"address": {"knox.plex.test"}, "port": {"nope"}, "plexToken": {"x"}}, http.StatusBadRequest, "port must be"},
		{"unknown server", plexForm("http://nowhere.test:32400", Demo.PlexToken), http.StatusServiceUnavailable, "could not reach"},
		{"wrong token", plexForm(Demo.LibraryPlexURL, "wrong"), http.StatusBadRequest, "rejected the token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodPost, "/configuration/add/plex", tt.form)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, decodeStatus(t, body).Message, tt.msg)
		})
	}
}

func TestSetup_AddPlexTwiceFails(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.LibraryPlexURL)

	// The red address reaches the same server.
	resp, body := env.do(t, http.MethodPost, "/configuration/add/plex", plexForm(Demo.RedPlexURL, Demo.PlexToken))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeStatus(t, body).Message, "already added")
}

func TestSetup_TMDBKeyValidation(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp, _ := env.do(t, http.MethodPost, "/configuration/test/tmdbKey/abc-123", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/configuration/save/tmdbKey/"+url.PathEscape("bad key!"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", decodeStatus(t, body).Code)
}

func TestSetup_RateLimited(t *testing.T) {
	env := newTestEnv(t, Options{RateLimit: ratelimit.Config{RPS: 0.001, Burst: 1, CleanupInterval: time.Minute}})

	resp, _ := env.do(t, http.MethodPost, "/configuration/nuke", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = env.do(t, http.MethodPost, "/configuration/nuke", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Pages are not limited.
	resp, _ = env.do(t, http.MethodGet, "/libraries", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLibraries_NoServers(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp, body := env.do(t, http.MethodGet, "/libraries", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "No Plex libraries yet")
	assert.NotContains(t, string(body), "dropdownMenuLink")
}

func TestLibraries_DropdownEntries(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.LibraryPlexURL)

	_, body := env.do(t, http.MethodGet, "/libraries", nil)
	page := string(body)
	assert.Contains(t, page, `<h2 id="libraryTitle">KnoxServer - Movies</h2>`)
	assert.Contains(t, page, `id="dropdownMenuLink" aria-haspopup="true" aria-expanded="false">Libraries</a>`)
	assert.Contains(t, page, `data-key="1">KnoxServer - Movies</a>`)
	assert.Contains(t, page, `data-key="2">KnoxServer - Disney Classic Movies</a>`)
	assert.Contains(t, page, `data-current-library="1"`)
	assert.Equal(t, 2, strings.Count(page, "data-key="), "only the menu entries carry data-key")
	assert.Contains(t, page, "Gaps.start(GapsLibraries.init)")
}

func TestLibraries_SelectByQuery(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.LibraryPlexURL)

	_, body := env.do(t, http.MethodGet, "/libraries?machineId="+knoxMachineID+"&key=2", nil)
	assert.Contains(t, string(body), `<h2 id="libraryTitle">KnoxServer - Disney Classic Movies</h2>`)
}

func TestLibraryJSON_Unsearched(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.LibraryPlexURL)

	resp, body := env.do(t, http.MethodGet, "/libraries/"+knoxMachineID+"/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decodeLibrary(t, body)
	assert.False(t, view.Searched)
	assert.Nil(t, view.SearchedAt)
	assert.Equal(t, "KnoxServer", view.ServerName)
	assert.Equal(t, "Movies", view.Title)
	assert.Empty(t, view.Movies)
	assert.Contains(t, string(body), `"movies":[]`)
}

func TestLibraryJSON_Errors(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.LibraryPlexURL)

	resp, _ := env.do(t, http.MethodGet, "/libraries/"+knoxMachineID+"/x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/libraries/"+knoxMachineID+"/9", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/libraries/unknown/1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSearch_RequiresTMDBKey(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.LibraryPlexURL)
	require.NoError(t, env.store.SetTMDBKey(t.Context(), ""))

	resp, body := env.do(t, http.MethodPost, "/libraries/"+knoxMachineID+"/1/search", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decodeStatus(t, body).Message, "TMDB key")
}

func TestSearch_FindsOwnedMovies(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.RedPlexURL)

	resp, body := env.do(t, http.MethodPost, "/libraries/"+knoxMachineID+"/1/search?q=Saw", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	view := decodeLibrary(t, body)
	assert.True(t, view.Searched)
	require.NotNil(t, view.SearchedAt)
	assert.True(t, fixedNow.Equal(*view.SearchedAt))
	assert.Equal(t, "Saw", view.Filter)
	require.Len(t, view.Movies, 1)
	assert.Equal(t, "Saw", view.Movies[0].Title)
	assert.Equal(t, 2004, view.Movies[0].Year)
	assert.Regexp(t, `^/posters/[0-9a-f]{64}\.png$`, view.Movies[0].Poster)

	_, body = env.do(t, http.MethodGet, "/libraries/"+knoxMachineID+"/1", nil)
	assert.Equal(t, []string{"Alien", "Die Hard", "Saw", "The Matrix", "Toy Story"}, titles(decodeLibrary(t, body).Movies))
}

func TestSearch_MarksEveryLibraryOfTheServer(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.RedPlexURL)

	resp, _ := env.do(t, http.MethodPost, "/libraries/"+knoxMachineID+"/1/search", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := env.do(t, http.MethodGet, "/libraries/"+knoxMachineID+"/2?q=saw", nil)
	view := decodeLibrary(t, body)
	assert.True(t, view.Searched)
	assert.Equal(t, []string{"Seesaw Summer"}, titles(view.Movies))
}

func TestSearch_EmptyLibrary(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.JokerPlexURL)

	resp, body := env.do(t, http.MethodPost, "/libraries/"+JokerMachineID+"/1/search", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	view := decodeLibrary(t, body)
	assert.True(t, view.Searched)
	assert.Empty(t, view.Movies)
}

func TestSearch_UnreachableServer(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.LibraryPlexURL)
	env.app.catalog = Catalog{}

	resp, body := env.do(t, http.MethodPost, "/libraries/"+knoxMachineID+"/1/search", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", decodeStatus(t, body).Code)
}

func TestPoster_ServedAfterSearch(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.LibraryPlexURL)

	_, body := env.do(t, http.MethodPost, "/libraries/"+knoxMachineID+"/1/search?q=Alien", nil)
	view := decodeLibrary(t, body)
	require.NotEmpty(t, view.Movies)

	resp, img := env.do(t, http.MethodGet, view.Movies[0].Poster, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	cfg, err := png.DecodeConfig(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, posterWidth, cfg.Width)
	assert.Equal(t, posterHeight, cfg.Height)
}

func TestPoster_Missing(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp, _ := env.do(t, http.MethodGet, "/posters/nothing.png", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = env.do(t, http.MethodGet, "/posters/nothing.txt", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCallToActionImage(t *testing.T) {
	env := newTestEnv(t, Options{})
	resp, img := env.do(t, http.MethodGet, "/images/search-library.png", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, err := png.DecodeConfig(bytes.NewReader(img))
	assert.NoError(t, err)
}

func TestNuke_DeletesPostersAndState(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.LibraryPlexURL)

	_, body := env.do(t, http.MethodPost, "/libraries/"+knoxMachineID+"/1/search?q=Saw", nil)
	poster := decodeLibrary(t, body).Movies[0].Poster

	resp, _ := env.do(t, http.MethodPost, "/configuration/nuke", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, poster, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	servers, err := env.store.Servers(t.Context())
	require.NoError(t, err)
	assert.Empty(t, servers)
}

func TestRecommended_ListsMissingMovies(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.LibraryPlexURL)

	_, body := env.do(t, http.MethodGet, "/recommended", nil)
	assert.Contains(t, string(body), "has not been searched yet")

	env.do(t, http.MethodPost, "/libraries/"+knoxMachineID+"/1/search", nil)
	_, body = env.do(t, http.MethodGet, "/recommended?machineId="+knoxMachineID+"&key=1", nil)
	page := string(body)
	assert.Contains(t, page, "Saw II")
	assert.Contains(t, page, "The Matrix Reloaded")
	assert.NotContains(t, page, `<h5 class="card-title">Saw</h5>`)
	assert.Contains(t, page, "data-autosubmit")
}

func TestRSS(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.setUp(t, Demo.LibraryPlexURL)

	resp, _ := env.do(t, http.MethodGet, "/rss/"+knoxMachineID+"/1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, body := env.do(t, http.MethodGet, "/rssCheck", nil)
	assert.Contains(t, string(body), "No searched libraries yet")

	env.do(t, http.MethodPost, "/libraries/"+knoxMachineID+"/1/search", nil)

	resp, body = env.do(t, http.MethodGet, "/rss/"+knoxMachineID+"/2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/rss+xml")
	var feed rssFeed
	require.NoError(t, xml.Unmarshal(body, &feed))
	assert.Equal(t, "2.0", feed.Version)
	assert.Equal(t, "Gaps - KnoxServer - Disney Classic Movies", feed.Channel.Title)
	require.Len(t, feed.Channel.Items, 2)
	assert.Equal(t, "Bambi II (2006)", feed.Channel.Items[0].Title)
	assert.Equal(t, env.server.URL+"/recommended?key=2&machineId="+knoxMachineID, feed.Channel.Link)
	assert.True(t, strings.HasPrefix(feed.Channel.Items[0].Enclosure.URL, env.server.URL+"/posters/"))

	resp, _ = env.do(t, http.MethodGet, strings.TrimPrefix(feed.Channel.Items[0].Enclosure.URL, env.server.URL), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "missing movies have posters too")

	_, body = env.do(t, http.MethodGet, "/rssCheck", nil)
	assert.Contains(t, string(body), "/rss/"+knoxMachineID+"/1")
}

func TestPages_NavMarksCurrentTab(t *testing.T) {
	env := newTestEnv(t, Options{})
	for path, tab := range map[string]string{
		"/configuration": "configurationTab",
		"/libraries":     "librariesTab",
		"/recommended":   "recommendedTab",
		"/rssCheck":      "rssTab",
		"/about":         "aboutTab",
	} {
		t.Run(path, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, path, nil)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			page := string(body)
			idx := strings.Index(page, `id="`+tab+`"`)
			require.Positive(t, idx)
			li := page[strings.LastIndex(page[:idx], "<li"):idx]
			assert.Contains(t, li, `aria-current="page"`)
			assert.Equal(t, 1, strings.Count(page, `aria-current="page"`))
		})
	}
}
