package web

import (
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"sync"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/microcosm-cc/bluemonday"
)

//go:embed content/*.md
var contentFS embed.FS

//go:embed static
var staticFS embed.FS

// StaticPageData contains data for Markdown pages.
type StaticPageData struct {
	PageData
	Content template.HTML
}

// StaticHandler serves the Markdown about page and the page scripts.
type StaticHandler struct {
	renderer *Renderer
	srcFS    fs.FS
	cache    map[string][]byte
	cacheMu  sync.RWMutex
}

// NewStaticHandler creates a handler over the embedded content.
func NewStaticHandler(renderer *Renderer) *StaticHandler {
	sub, _ := fs.Sub(contentFS, "content")
	return NewStaticHandlerFS(renderer, sub)
}

// NewStaticHandlerFS creates a handler rendering Markdown from srcFS.
func NewStaticHandlerFS(renderer *Renderer, srcFS fs.FS) *StaticHandler {
	return &StaticHandler{
		renderer: renderer,
		srcFS:    srcFS,
		cache:    make(map[string][]byte),
	}
}

// RegisterRoutes registers the static routes on the given mux.
func (h *StaticHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /about", h.HandleAbout)
	mux.Handle("GET /static/", http.FileServerFS(staticFS))
}

// HandleAbout serves the about page.
func (h *StaticHandler) HandleAbout(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, "about", "About", "aboutTab")
}

// servePage renders slug.md through the page.html template.
func (h *StaticHandler) servePage(w http.ResponseWriter, slug, title, tab string) {
	htmlContent, err := h.rendered(slug)
	if err != nil {
		h.renderer.RenderError(w, http.StatusNotFound, "Page not found")
		return
	}

	data := StaticPageData{
		PageData: PageData{
			Title:     title,
			ActiveTab: tab,
		},
		Content: template.HTML(htmlContent),
	}

	if err := h.renderer.Render(w, "page.html", data); err != nil {
		h.renderer.RenderError(w, http.StatusInternalServerError, "Failed to render page")
	}
}

// rendered returns the sanitized HTML for slug, rendering it once.
func (h *StaticHandler) rendered(slug string) ([]byte, error) {
	h.cacheMu.RLock()
	content, ok := h.cache[slug]
	h.cacheMu.RUnlock()

	if ok {
		return content, nil
	}

	md, err := fs.ReadFile(h.srcFS, slug+".md")
	if err != nil {
		return nil, err
	}
	content = renderMarkdownContent(md)

	h.cacheMu.Lock()
	h.cache[slug] = content
	h.cacheMu.Unlock()

	return content, nil
}

// ClearCache clears the rendered page cache (useful for development).
func (h *StaticHandler) ClearCache() {
	h.cacheMu.Lock()
	h.cache = make(map[string][]byte)
	h.cacheMu.Unlock()
}

// renderMarkdownContent converts markdown to sanitized HTML.
func renderMarkdownContent(md []byte) []byte {
	// Configure the markdown parser with common extensions
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)

	doc := p.Parse(md)

	htmlFlags := html.CommonFlags | html.HrefTargetBlank
	renderer := html.NewRenderer(html.RendererOptions{Flags: htmlFlags})

	htmlContent := markdown.Render(doc, renderer)

	// Sanitize HTML to prevent XSS attacks
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("pre", "code")
	policy.AllowAttrs("class").OnElements("code", "pre")
	return policy.SanitizeBytes(htmlContent)
}
