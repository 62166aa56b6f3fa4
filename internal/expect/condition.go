package expect

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jasonhhouse/gaps-e2e/internal/driver"
)

// Condition is one property checked against an element handle.
type Condition interface {
	// Check reports whether the condition holds, plus a short rendering of
	// what was observed for failure messages.
	Check(ctx context.Context, el driver.Element) (ok bool, observed string, err error)
	String() string
}

const missing = "no matching element"

// observeMissing turns ErrNoElement into an observation instead of an error.
func observeMissing(err error) (string, error) {
	var noEl *driver.ErrNoElement
	if errors.As(err, &noEl) {
		return missing, nil
	}
	return "", err
}

type present struct{}

// Present holds when at least one element matches.
func Present() Condition { return present{} }

func (present) String() string { return "to exist" }

func (present) Check(ctx context.Context, el driver.Element) (bool, string, error) {
	n, err := el.Count(ctx)
	if err != nil {
		return false, "", err
	}
	return n > 0, fmt.Sprintf("%d matches", n), nil
}

type count int

// Count holds when exactly n elements match.
func Count(n int) Condition { return count(n) }

func (c count) String() string { return fmt.Sprintf("to have %d matches", int(c)) }

func (c count) Check(ctx context.Context, el driver.Element) (bool, string, error) {
	n, err := el.Count(ctx)
	if err != nil {
		return false, "", err
	}
	return n == int(c), fmt.Sprintf("%d matches", n), nil
}

type attr struct {
	name, value string
	negate      bool
}

// Attr holds when attribute name equals value.
func Attr(name, value string) Condition { return attr{name: name, value: value} }

// NoAttr holds when attribute name is absent or differs from value.
func NoAttr(name, value string) Condition { return attr{name: name, value: value, negate: true} }

func (a attr) String() string {
	if a.negate {
		return fmt.Sprintf("not to have attribute %s=%q", a.name, a.value)
	}
	return fmt.Sprintf("to have attribute %s=%q", a.name, a.value)
}

func (a attr) Check(ctx context.Context, el driver.Element) (bool, string, error) {
	value, present, err := el.Attribute(ctx, a.name)
	if err != nil {
		observed, err := observeMissing(err)
		return false, observed, err
	}
	observed := fmt.Sprintf("%s absent", a.name)
	if present {
		observed = fmt.Sprintf("%s=%q", a.name, value)
	}
	equal := present && value == a.value
	return equal != a.negate, observed, nil
}

type class struct {
	name   string
	negate bool
}

// Class holds when the class list contains name.
func Class(name string) Condition { return class{name: name} }

// NoClass holds when the class list does not contain name.
func NoClass(name string) Condition { return class{name: name, negate: true} }

func (c class) String() string {
	if c.negate {
		return fmt.Sprintf("not to have class %q", c.name)
	}
	return fmt.Sprintf("to have class %q", c.name)
}

func (c class) Check(ctx context.Context, el driver.Element) (bool, string, error) {
	value, _, err := el.Attribute(ctx, "class")
	if err != nil {
		observed, err := observeMissing(err)
		return false, observed, err
	}
	has := false
	for _, field := range strings.Fields(value) {
		if field == c.name {
			has = true
			break
		}
	}
	return has != c.negate, fmt.Sprintf("class=%q", value), nil
}

type visible bool

// Visible holds when the first match is rendered.
func Visible() Condition { return visible(true) }

// Hidden holds when the first match exists and is not rendered. Use
// Count(0) to assert that nothing matches.
func Hidden() Condition { return visible(false) }

func (v visible) String() string {
	if v {
		return "to be visible"
	}
	return "to be hidden"
}

func (v visible) Check(ctx context.Context, el driver.Element) (bool, string, error) {
	shown, err := el.Visible(ctx)
	if err != nil {
		observed, err := observeMissing(err)
		return false, observed, err
	}
	observed := "hidden"
	if shown {
		observed = "visible"
	}
	return shown == bool(v), observed, nil
}

type text struct {
	want     string
	contains bool
}

// Text holds when the text content equals want exactly.
func Text(want string) Condition { return text{want: want} }

// ContainsText holds when the text content contains want.
func ContainsText(want string) Condition { return text{want: want, contains: true} }

func (t text) String() string {
	if t.contains {
		return fmt.Sprintf("to contain text %q", t.want)
	}
	return fmt.Sprintf("to have text %q", t.want)
}

func (t text) Check(ctx context.Context, el driver.Element) (bool, string, error) {
	got, err := el.Text(ctx)
	if err != nil {
		observed, err := observeMissing(err)
		return false, observed, err
	}
	observed := strconv.Quote(got)
	if t.contains {
		return strings.Contains(got, t.want), observed, nil
	}
	return got == t.want, observed, nil
}

type imageLoaded struct{}

// ImageLoaded holds when the first match has a positive natural width.
func ImageLoaded() Condition { return imageLoaded{} }

func (imageLoaded) String() string { return "to be a loaded image" }

func (imageLoaded) Check(ctx context.Context, el driver.Element) (bool, string, error) {
	w, err := el.NaturalWidth(ctx)
	if err != nil {
		observed, err := observeMissing(err)
		return false, observed, err
	}
	return w > 0, fmt.Sprintf("naturalWidth=%d", w), nil
}
