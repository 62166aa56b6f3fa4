// Package driver is the narrow slice of browser automation the harness needs:
// pre-load script injection, a Go-side binding, navigation, and element
// queries with simulated input. Backends live in the pwdriver, cdpdriver and
// roddriver subpackages.
package driver

import (
	"context"
	"fmt"
	"strings"
)

// Browser launches isolated pages.
type Browser interface {
	// NewPage opens a page in a fresh, isolated browsing context.
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// BindingFunc receives the string payload a page script passed to a binding.
type BindingFunc func(payload string)

// Page is a single browser tab.
type Page interface {
	// AddInitScript registers script to run in every new document of the
	// page before any of the document's own scripts.
	AddInitScript(ctx context.Context, script string) error
	// Bind exposes window[name](payload) to page scripts. Calls are delivered
	// to fn asynchronously.
	Bind(ctx context.Context, name string, fn BindingFunc) error
	// Goto navigates and waits for DOMContentLoaded.
	Goto(ctx context.Context, url string) error
	// Evaluate runs a JavaScript function expression with arg and returns its
	// JSON-compatible result.
	Evaluate(ctx context.Context, expression string, arg any) (any, error)
	// Locator returns a lazy handle for all elements matching selector.
	Locator(selector string) Element
	URL() string
	Close() error
}

// Element is a lazy handle; every call re-resolves the selector.
type Element interface {
	// First narrows the handle to the first match.
	First() Element
	// Parent moves the handle to the parent element of each match.
	Parent() Element
	// Count returns the number of matches.
	Count(ctx context.Context) (int, error)
	// Attribute returns the attribute value of the first match and whether it
	// is present.
	Attribute(ctx context.Context, name string) (string, bool, error)
	// Visible reports whether the first match is rendered and visible.
	Visible(ctx context.Context) (bool, error)
	// Text returns the textContent of the first match.
	Text(ctx context.Context) (string, error)
	// NaturalWidth returns the intrinsic pixel width of the first match,
	// which is zero until an image has actually loaded.
	NaturalWidth(ctx context.Context) (int, error)
	Click(ctx context.Context) error
	Clear(ctx context.Context) error
	Type(ctx context.Context, text string) error
	// Describe returns a human-readable path used in failure messages.
	Describe() string
}

// ErrNoElement is returned by single-element queries when nothing matches.
type ErrNoElement struct {
	Selector string
}

func (e *ErrNoElement) Error() string {
	return fmt.Sprintf("no element matches %s", e.Selector)
}

// Path identifies an element handle as a selector plus a chain of
// first/parent hops. Backends that resolve elements through page scripts
// share it.
type Path struct {
	Selector string
	Hops     []Hop
}

// Hop is one narrowing step applied after the selector.
type Hop string

const (
	HopFirst  Hop = "first"
	HopParent Hop = "parent"
)

// With returns a copy of p extended by hop.
func (p Path) With(hop Hop) Path {
	hops := make([]Hop, len(p.Hops), len(p.Hops)+1)
	copy(hops, p.Hops)
	return Path{Selector: p.Selector, Hops: append(hops, hop)}
}

// String renders the path in the notation used by failure messages.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString(p.Selector)
	for _, hop := range p.Hops {
		b.WriteString(" >> ")
		b.WriteString(string(hop))
	}
	return b.String()
}

// Arg returns the path as an argument for the resolver script.
func (p Path) Arg() map[string]any {
	hops := make([]string, len(p.Hops))
	for i, hop := range p.Hops {
		hops[i] = string(hop)
	}
	return map[string]any{"selector": p.Selector, "hops": hops}
}
