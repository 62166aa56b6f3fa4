// Package cdpdriver implements driver.Browser on chromedp.
package cdpdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/jasonhhouse/gaps-e2e/internal/driver"
	"github.com/jasonhhouse/gaps-e2e/internal/obs"
)

// Options configures how Chrome is reached.
type Options struct {
	// RemoteURL attaches to an already running Chrome DevTools endpoint
	// (ws://... or http://host:9222). Empty launches a local Chrome.
	RemoteURL string
	Headless  bool
}

// Browser owns the chromedp allocator and browser contexts.
type Browser struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	cancel      context.CancelFunc
}

// Launch starts or attaches to Chrome and opens the root browser target.
func Launch(ctx context.Context, opts Options) (*Browser, error) {
	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(ctx, opts.RemoteURL)
	} else {
		allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", opts.Headless),
		)
		allocCtx, allocCancel = chromedp.NewExecAllocator(ctx, allocOpts...)
	}

	logger := obs.Pkg("cdpdriver")
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug("cdp_error", "detail", fmt.Sprintf(format, args...))
		}),
	)
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &Browser{allocCtx: allocCtx, allocCancel: allocCancel, browserCtx: browserCtx, cancel: cancel}, nil
}

// NewPage opens a new tab in a fresh browser context.
func (b *Browser) NewPage(ctx context.Context) (driver.Page, error) {
	tabCtx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithNewBrowserContext())
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	p := &Page{ctx: tabCtx, cancel: cancel, bindings: make(map[string]driver.BindingFunc)}
	chromedp.ListenTarget(tabCtx, p.onEvent)
	return p, nil
}

func (b *Browser) Close() error {
	b.cancel()
	b.allocCancel()
	return nil
}

// Page is one chromedp tab.
type Page struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	bindings map[string]driver.BindingFunc
	url      string
}

func (p *Page) onEvent(ev any) {
	switch e := ev.(type) {
	case *runtime.EventBindingCalled:
		p.mu.RLock()
		fn := p.bindings[e.Name]
		p.mu.RUnlock()
		if fn != nil {
			go fn(e.Payload)
		}
	case *page.EventFrameNavigated:
		if e.Frame != nil && e.Frame.ParentID == "" {
			p.mu.Lock()
			p.url = e.Frame.URL
			p.mu.Unlock()
		}
	}
}

// run executes actions on the tab, bounded by the caller's context.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *Page) AddInitScript(ctx context.Context, script string) error {
	return p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}))
}

func (p *Page) Bind(ctx context.Context, name string, fn driver.BindingFunc) error {
	p.mu.Lock()
	p.bindings[name] = fn
	p.mu.Unlock()
	return p.run(ctx, runtime.AddBinding(name))
}

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

func (p *Page) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	call, err := driver.CallExpression(expression, arg)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	if err := p.run(ctx, chromedp.Evaluate(call, &raw, func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	})); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode evaluate result: %w", err)
	}
	return out, nil
}

func (p *Page) Locator(selector string) driver.Element {
	return driver.NewScriptedElement(p.Evaluate, selector)
}

func (p *Page) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

func (p *Page) Close() error {
	p.cancel()
	return nil
}
