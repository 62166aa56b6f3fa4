package stubapp

import (
	"net/http"
	"strconv"

	"github.com/jasonhhouse/gaps-e2e/internal/db"
	"github.com/jasonhhouse/gaps-e2e/internal/obs"
	"github.com/jasonhhouse/gaps-e2e/internal/web"
)

// ConfigurationPage is the data for configuration.html.
type ConfigurationPage struct {
	web.PageData
	TMDBKey string
	Servers []db.Server
}

// LibraryRef names one library of one server.
type LibraryRef struct {
	MachineID  string
	ServerName string
	Key        int
	Title      string
}

// Label is the text used for the library in menus and headings.
func (l LibraryRef) Label() string {
	return l.ServerName + " - " + l.Title
}

// LibrariesPage is the data for libraries.html.
type LibrariesPage struct {
	web.PageData
	Libraries []LibraryRef
	Current   *LibraryRef
}

// RecommendedPage is the data for recommended.html.
type RecommendedPage struct {
	web.PageData
	Libraries []LibraryRef
	Current   *LibraryRef
	Searched  bool
	Movies    []MovieView
}

// RSSFeed is one searched library's feed link.
type RSSFeed struct {
	LibraryRef
	URL string
}

// RSSCheckPage is the data for rss_check.html.
type RSSCheckPage struct {
	web.PageData
	Feeds      []RSSFeed
	Unsearched []LibraryRef
}

func (a *App) renderPage(w http.ResponseWriter, r *http.Request, name string, data any) {
	if err := a.renderer.Render(w, name, data); err != nil {
		obs.From(r.Context()).With("pkg", "stubapp").Error("render_failed", "template", name, "error", err)
		a.renderer.RenderError(w, http.StatusInternalServerError, "Failed to render page")
	}
}

func (a *App) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key, err := a.store.TMDBKey(ctx)
	if err != nil {
		a.renderer.RenderError(w, http.StatusInternalServerError, "Failed to load configuration")
		return
	}
	servers, err := a.store.Servers(ctx)
	if err != nil {
		a.renderer.RenderError(w, http.StatusInternalServerError, "Failed to load Plex servers")
		return
	}

	a.renderPage(w, r, "configuration.html", ConfigurationPage{
		PageData: web.PageData{Title: "Configuration", ActiveTab: "configurationTab"},
		TMDBKey:  key,
		Servers:  servers,
	})
}

// libraryRefs flattens the stored servers into menu entries, in server
// then library key order.
func libraryRefs(servers []db.Server) []LibraryRef {
	var refs []LibraryRef
	for _, srv := range servers {
		for _, lib := range srv.Libraries {
			refs = append(refs, LibraryRef{
				MachineID:  srv.MachineID,
				ServerName: srv.FriendlyName,
				Key:        lib.Key,
				Title:      lib.Title,
			})
		}
	}
	return refs
}

// selectLibrary picks the library named by the machineId and key query
// parameters, falling back to the first library.
func selectLibrary(r *http.Request, refs []LibraryRef) *LibraryRef {
	if len(refs) == 0 {
		return nil
	}
	machineID := r.URL.Query().Get("machineId")
	key, err := strconv.Atoi(r.URL.Query().Get("key"))
	if machineID != "" && err == nil {
		for i := range refs {
			if refs[i].MachineID == machineID && refs[i].Key == key {
				return &refs[i]
			}
		}
	}
	return &refs[0]
}

func (a *App) handleLibraries(w http.ResponseWriter, r *http.Request) {
	servers, err := a.store.Servers(r.Context())
	if err != nil {
		a.renderer.RenderError(w, http.StatusInternalServerError, "Failed to load libraries")
		return
	}
	refs := libraryRefs(servers)

	a.renderPage(w, r, "libraries.html", LibrariesPage{
		PageData:  web.PageData{Title: "Libraries", ActiveTab: "librariesTab"},
		Libraries: refs,
		Current:   selectLibrary(r, refs),
	})
}

func (a *App) handleRecommended(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	servers, err := a.store.Servers(ctx)
	if err != nil {
		a.renderer.RenderError(w, http.StatusInternalServerError, "Failed to load libraries")
		return
	}
	refs := libraryRefs(servers)
	page := RecommendedPage{
		PageData:  web.PageData{Title: "Recommended", ActiveTab: "recommendedTab"},
		Libraries: refs,
		Current:   selectLibrary(r, refs),
	}

	if page.Current != nil {
		lib, err := a.store.Library(ctx, page.Current.MachineID, page.Current.Key)
		if err != nil {
			a.renderer.RenderError(w, http.StatusInternalServerError, "Failed to load library")
			return
		}
		page.Searched = lib.Searched()
		if page.Searched {
			missing, err := a.store.Recommended(ctx, lib.MachineID, lib.Key)
			if err != nil {
				a.renderer.RenderError(w, http.StatusInternalServerError, "Failed to load recommendations")
				return
			}
			page.Movies = a.movieViews(missing)
		}
	}

	a.renderPage(w, r, "recommended.html", page)
}

func (a *App) handleRSSCheck(w http.ResponseWriter, r *http.Request) {
	servers, err := a.store.Servers(r.Context())
	if err != nil {
		a.renderer.RenderError(w, http.StatusInternalServerError, "Failed to load libraries")
		return
	}

	page := RSSCheckPage{PageData: web.PageData{Title: "RSS", ActiveTab: "rssTab"}}
	for _, srv := range servers {
		for _, lib := range srv.Libraries {
			ref := LibraryRef{MachineID: srv.MachineID, ServerName: srv.FriendlyName, Key: lib.Key, Title: lib.Title}
			if !lib.Searched() {
				page.Unsearched = append(page.Unsearched, ref)
				continue
			}
			page.Feeds = append(page.Feeds, RSSFeed{
				LibraryRef: ref,
				URL:        "/rss/" + srv.MachineID + "/" + strconv.Itoa(lib.Key),
			})
		}
	}

	a.renderPage(w, r, "rss_check.html", page)
}
