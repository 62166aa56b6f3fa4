// Package roddriver implements driver.Browser on go-rod.
package roddriver

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/jasonhhouse/gaps-e2e/internal/driver"
)

// Options configures the Chrome instance rod drives.
type Options struct {
	// RemoteURL attaches to a running DevTools endpoint instead of
	// launching a local Chrome.
	RemoteURL string
	Headless  bool
}

// Browser wraps a connected rod browser.
type Browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
}

// Launch starts (or attaches to) Chrome and connects to it.
func Launch(opts Options) (*Browser, error) {
	var (
		controlURL string
		l          *launcher.Launcher
		err        error
	)
	if opts.RemoteURL != "" {
		controlURL, err = launcher.ResolveURL(opts.RemoteURL)
		if err != nil {
			return nil, fmt.Errorf("resolve devtools url: %w", err)
		}
	} else {
		l = launcher.New().
			Headless(opts.Headless).
			Set("no-sandbox").
			Set("disable-gpu")
		controlURL, err = l.Launch()
		if err != nil {
			return nil, fmt.Errorf("failed to launch Chrome: %w", err)
		}
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if l != nil {
			l.Kill()
		}
		return nil, fmt.Errorf("failed to connect to Chrome: %w", err)
	}
	return &Browser{browser: browser, launcher: l}, nil
}

// NewPage opens a blank page in a new incognito context.
func (b *Browser) NewPage(ctx context.Context) (driver.Page, error) {
	incognito, err := b.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("create incognito context: %w", err)
	}
	page, err := incognito.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("open page: %w", err)
	}
	return &Page{page: page, context: incognito}, nil
}

func (b *Browser) Close() error {
	err := b.browser.Close()
	if b.launcher != nil {
		b.launcher.Cleanup()
	}
	return err
}

// Page is one rod page in its own incognito context.
type Page struct {
	page    *rod.Page
	context *rod.Browser
}

func (p *Page) AddInitScript(ctx context.Context, script string) error {
	_, err := p.page.Context(ctx).EvalOnNewDocument(script)
	return err
}

func (p *Page) Bind(ctx context.Context, name string, fn driver.BindingFunc) error {
	_, err := p.page.Context(ctx).Expose(name, func(payload gson.JSON) (interface{}, error) {
		fn(payload.Str())
		return nil, nil
	})
	return err
}

func (p *Page) Goto(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	wait := page.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	wait()
	return ctx.Err()
}

func (p *Page) Evaluate(ctx context.Context, expression string, arg any) (any, error) {
	res, err := p.page.Context(ctx).Eval(expression, arg)
	if err != nil {
		return nil, fmt.Errorf("eval failed: %w", err)
	}
	return res.Value.Val(), nil
}

func (p *Page) Locator(selector string) driver.Element {
	return driver.NewScriptedElement(p.Evaluate, selector)
}

func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Close closes the page and its incognito context.
func (p *Page) Close() error {
	return p.context.Close()
}
