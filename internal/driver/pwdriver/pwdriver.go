// Package pwdriver implements driver.Browser on playwright-go.
package pwdriver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/jasonhhouse/gaps-e2e/internal/driver"
)

const (
	// DefaultTimeout bounds every individual Playwright call.
	DefaultTimeout = 5 * time.Second
	// DefaultNavTimeout bounds navigations.
	DefaultNavTimeout = 10 * time.Second
)

// Options configures the launched browser.
type Options struct {
	Headless bool
	// Timeout is the default per-call timeout applied to every page.
	Timeout time.Duration
	// NavTimeout bounds navigations when the caller's context has no
	// deadline.
	NavTimeout time.Duration
	// Install downloads the Chromium build Playwright needs before launching.
	Install bool
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.NavTimeout <= 0 {
		o.NavTimeout = DefaultNavTimeout
	}
	return o
}

// Browser is a Chromium instance driven by Playwright.
type Browser struct {
	pw         *playwright.Playwright
	browser    playwright.Browser
	timeout    time.Duration
	navTimeout time.Duration
}

// Launch starts Playwright and a Chromium browser.
func Launch(opts Options) (*Browser, error) {
	if opts.Install {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{"chromium"}}); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	b := Wrap(browser, opts)
	b.pw = pw
	return b, nil
}

// Wrap adapts an already launched Playwright browser. Close on the result
// does not stop the browser. Install and Headless are ignored.
func Wrap(browser playwright.Browser, opts Options) *Browser {
	opts = opts.withDefaults()
	return &Browser{browser: browser, timeout: opts.Timeout, navTimeout: opts.NavTimeout}
}

// NewPage opens a page in a new browser context so cookies and storage do not
// leak between scenarios.
func (b *Browser) NewPage(ctx context.Context) (driver.Page, error) {
	bctx, err := b.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	bctx.SetDefaultTimeout(float64(b.timeout.Milliseconds()))
	bctx.SetDefaultNavigationTimeout(float64(b.navTimeout.Milliseconds()))

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}
	return &Page{bctx: bctx, page: page, timeout: b.timeout, navTimeout: b.navTimeout}, nil
}

// Close stops the browser and Playwright when this Browser launched them.
func (b *Browser) Close() error {
	if b.pw == nil {
		return nil
	}
	err := b.browser.Close()
	return errors.Join(err, b.pw.Stop())
}

// Page is a Playwright page with its own browser context.
type Page struct {
	bctx       playwright.BrowserContext
	page       playwright.Page
	timeout    time.Duration
	navTimeout time.Duration
}

// Raw exposes the underlying Playwright page for tests that need more than
// the driver surface.
func (p *Page) Raw() playwright.Page {
	return p.page
}

func (p *Page) AddInitScript(ctx context.Context, script string) error {
	if err := p.page.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
		return fmt.Errorf("add init script: %w", err)
	}
	return nil
}

func (p *Page) Bind(ctx context.Context, name string, fn driver.BindingFunc) error {
	err := p.page.ExposeBinding(name, func(_ *playwright.BindingSource, args ...interface{}) interface{} {
		payload := ""
		if len(args) > 0 {
			if s, ok := args[0].(string); ok {
				payload = s
			}
		}
		fn(payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("expose binding %s: %w", name, err)
	}
	return nil
}

func (p *Page) Goto(ctx context.Context, url string) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(navTimeoutMS(ctx, p.navTimeout)),
	})
	if err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

// Evaluate has no Playwright timeout option; it returns when ctx ends even if
// the evaluation is still running.
func (p *Page) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	return callCtx(ctx, p.timeout, func() (any, error) {
		return p.page.Evaluate(expression, arg)
	})
}

func (p *Page) Locator(selector string) driver.Element {
	return &Element{
		loc:     p.page.Locator(selector),
		path:    driver.Path{Selector: selector},
		timeout: p.timeout,
	}
}

func (p *Page) URL() string {
	return p.page.URL()
}

func (p *Page) Close() error {
	return p.bctx.Close()
}

// Element wraps a Playwright locator. Single-element reads resolve the first
// match so strict mode never trips on repeated markup.
type Element struct {
	loc     playwright.Locator
	path    driver.Path
	timeout time.Duration
}

func (e *Element) First() driver.Element {
	return &Element{loc: e.loc.First(), path: e.path.With(driver.HopFirst), timeout: e.timeout}
}

func (e *Element) Parent() driver.Element {
	return &Element{loc: e.loc.Locator("xpath=.."), path: e.path.With(driver.HopParent), timeout: e.timeout}
}

func (e *Element) Describe() string {
	return e.path.String()
}

func (e *Element) Count(ctx context.Context) (int, error) {
	return callCtx(ctx, e.timeout, e.loc.Count)
}

// one returns the first match, or ErrNoElement without waiting when nothing
// matches. Waiting is the caller's job.
func (e *Element) one(ctx context.Context) (playwright.Locator, error) {
	n, err := e.Count(ctx)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, &driver.ErrNoElement{Selector: e.path.String()}
	}
	return e.loc.First(), nil
}

func (e *Element) eval(ctx context.Context, expression string, arg any) (any, error) {
	loc, err := e.one(ctx)
	if err != nil {
		return nil, err
	}
	return loc.Evaluate(expression, arg, playwright.LocatorEvaluateOptions{
		Timeout: playwright.Float(timeoutMS(ctx, e.timeout)),
	})
}

func (e *Element) Attribute(ctx context.Context, name string) (string, bool, error) {
	raw, err := e.eval(ctx, `(el, name) => el.hasAttribute(name) ? el.getAttribute(name) : null`, name)
	if err != nil {
		return "", false, err
	}
	if raw == nil {
		return "", false, nil
	}
	value, _ := raw.(string)
	return value, true, nil
}

func (e *Element) Visible(ctx context.Context) (bool, error) {
	loc, err := e.one(ctx)
	if err != nil {
		return false, err
	}
	return callCtx(ctx, e.timeout, func() (bool, error) { return loc.IsVisible() })
}

func (e *Element) Text(ctx context.Context) (string, error) {
	raw, err := e.eval(ctx, `(el) => el.textContent || ''`, nil)
	if err != nil {
		return "", err
	}
	text, _ := raw.(string)
	return text, nil
}

func (e *Element) NaturalWidth(ctx context.Context) (int, error) {
	raw, err := e.eval(ctx, `(el) => el.naturalWidth || 0`, nil)
	if err != nil {
		return 0, err
	}
	return driver.ToInt(raw)
}

func (e *Element) Click(ctx context.Context) error {
	loc, err := e.one(ctx)
	if err != nil {
		return err
	}
	return loc.Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(timeoutMS(ctx, e.timeout)),
	})
}

func (e *Element) Clear(ctx context.Context) error {
	loc, err := e.one(ctx)
	if err != nil {
		return err
	}
	return loc.Clear(playwright.LocatorClearOptions{
		Timeout: playwright.Float(timeoutMS(ctx, e.timeout)),
	})
}

func (e *Element) Type(ctx context.Context, text string) error {
	loc, err := e.one(ctx)
	if err != nil {
		return err
	}
	return loc.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{
		Timeout: playwright.Float(timeoutMS(ctx, e.timeout)),
	})
}

// navTimeoutMS uses the context's remaining time when it has a deadline and
// fallback otherwise.
func navTimeoutMS(ctx context.Context, fallback time.Duration) float64 {
	d := fallback
	if deadline, ok := ctx.Deadline(); ok {
		d = time.Until(deadline)
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return float64(d.Milliseconds())
}

// callCtx runs fn and returns its result, or ctx's error if ctx ends first.
// Without a ctx deadline the wait is bounded by fallback.
func callCtx[T any](ctx context.Context, fallback time.Duration, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, fallback)
		defer cancel()
	}
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{v, err}
	}()
	select {
	case r := <-done:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// timeoutMS returns the smaller of the context's remaining time and fallback,
// in the float milliseconds Playwright expects.
func timeoutMS(ctx context.Context, fallback time.Duration) float64 {
	d := fallback
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d {
			d = remaining
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return float64(d.Milliseconds())
}
