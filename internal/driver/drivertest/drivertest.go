// Package drivertest provides an in-memory driver.Browser for unit tests.
// Pages hold a tiny DOM: a map from selector to matching nodes.
package drivertest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jasonhhouse/gaps-e2e/internal/driver"
)

// Browser hands out Pages built by Setup.
type Browser struct {
	// Setup, if set, populates every new page.
	Setup func(p *Page)
	// NewPageErr fails NewPage when set.
	NewPageErr error

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

func (b *Browser) NewPage(ctx context.Context) (driver.Page, error) {
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	p := NewPage()
	if b.Setup != nil {
		b.Setup(p)
	}
	b.mu.Lock()
	b.pages = append(b.pages, p)
	b.mu.Unlock()
	return p, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// Pages returns every page opened so far.
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Node is one fake DOM element.
type Node struct {
	Attrs        map[string]string
	Text         string
	Hidden       bool
	NaturalWidth int
	Value        string
	Parent       *Node
	// OnClick runs after a click is recorded.
	OnClick func()

	Clicks int
}

// HasClass reports whether the node's class attribute lists class.
func (n *Node) HasClass(class string) bool {
	for _, c := range strings.Fields(n.Attrs["class"]) {
		if c == class {
			return true
		}
	}
	return false
}

// Page is a fake driver.Page.
type Page struct {
	// OnGoto runs for every navigation, after the URL is recorded. It may
	// rebuild the DOM with Set.
	OnGoto func(p *Page, url string) error
	// EvalFunc answers Evaluate calls.
	EvalFunc func(expression string, arg any) (any, error)

	mu          sync.Mutex
	dom         map[string][]*Node
	initScripts []string
	bindings    map[string]driver.BindingFunc
	visits      []string
	url         string
	closed      bool
}

// NewPage returns an empty page.
func NewPage() *Page {
	return &Page{dom: make(map[string][]*Node), bindings: make(map[string]driver.BindingFunc)}
}

// Set replaces the nodes matching selector.
func (p *Page) Set(selector string, nodes ...*Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dom[selector] = nodes
}

// Update runs fn with the page lock held so tests can mutate nodes while a
// poller is reading them.
func (p *Page) Update(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn()
}

// Reset clears the DOM.
func (p *Page) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dom = make(map[string][]*Node)
}

// Call invokes a binding the way a page script would.
func (p *Page) Call(name, payload string) bool {
	p.mu.Lock()
	fn := p.bindings[name]
	p.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(payload)
	return true
}

// CallAll invokes every registered binding with payload and returns how many
// there were.
func (p *Page) CallAll(payload string) int {
	p.mu.Lock()
	fns := make([]driver.BindingFunc, 0, len(p.bindings))
	for _, fn := range p.bindings {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(payload)
	}
	return len(fns)
}

func (p *Page) InitScripts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.initScripts...)
}

func (p *Page) Visits() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.visits...)
}

func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) AddInitScript(ctx context.Context, script string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initScripts = append(p.initScripts, script)
	return nil
}

func (p *Page) Bind(ctx context.Context, name string, fn driver.BindingFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bindings[name] = fn
	return nil
}

func (p *Page) Goto(ctx context.Context, url string) error {
	p.mu.Lock()
	p.visits = append(p.visits, url)
	p.url = url
	hook := p.OnGoto
	p.mu.Unlock()
	if hook != nil {
		return hook(p, url)
	}
	return nil
}

func (p *Page) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.EvalFunc == nil {
		return nil, nil
	}
	return p.EvalFunc(expression, arg)
}

func (p *Page) Locator(selector string) driver.Element {
	return &Element{page: p, path: driver.Path{Selector: selector}}
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Element resolves its path against the page's DOM on every call.
type Element struct {
	page *Page
	path driver.Path
}

func (e *Element) First() driver.Element {
	return &Element{page: e.page, path: e.path.With(driver.HopFirst)}
}

func (e *Element) Parent() driver.Element {
	return &Element{page: e.page, path: e.path.With(driver.HopParent)}
}

func (e *Element) Describe() string { return e.path.String() }

// resolve must be called with the page lock held.
func (e *Element) resolve() []*Node {
	nodes := e.page.dom[e.path.Selector]
	for _, hop := range e.path.Hops {
		switch hop {
		case driver.HopFirst:
			if len(nodes) > 1 {
				nodes = nodes[:1]
			}
		case driver.HopParent:
			var parents []*Node
			for _, n := range nodes {
				if n.Parent != nil {
					parents = append(parents, n.Parent)
				}
			}
			nodes = parents
		}
	}
	return nodes
}

func (e *Element) with(ctx context.Context, fn func(n *Node)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.mu.Lock()
	nodes := e.resolve()
	if len(nodes) == 0 {
		e.page.mu.Unlock()
		return &driver.ErrNoElement{Selector: e.path.String()}
	}
	fn(nodes[0])
	e.page.mu.Unlock()
	return nil
}

func (e *Element) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	return len(e.resolve()), nil
}

func (e *Element) Attribute(ctx context.Context, name string) (value string, ok bool, err error) {
	err = e.with(ctx, func(n *Node) { value, ok = n.Attrs[name] })
	return value, ok, err
}

func (e *Element) Visible(ctx context.Context) (visible bool, err error) {
	err = e.with(ctx, func(n *Node) { visible = !n.Hidden })
	return visible, err
}

func (e *Element) Text(ctx context.Context) (text string, err error) {
	err = e.with(ctx, func(n *Node) { text = n.Text })
	return text, err
}

func (e *Element) NaturalWidth(ctx context.Context) (w int, err error) {
	err = e.with(ctx, func(n *Node) { w = n.NaturalWidth })
	return w, err
}

func (e *Element) Click(ctx context.Context) error {
	var hook func()
	err := e.with(ctx, func(n *Node) {
		n.Clicks++
		hook = n.OnClick
	})
	if err == nil && hook != nil {
		hook()
	}
	return err
}

func (e *Element) Clear(ctx context.Context) error {
	return e.with(ctx, func(n *Node) { n.Value = "" })
}

func (e *Element) Type(ctx context.Context, text string) error {
	return e.with(ctx, func(n *Node) { n.Value += text })
}

// String is used by test failure output.
func (e *Element) String() string {
	return fmt.Sprintf("drivertest.Element(%s)", e.path)
}
