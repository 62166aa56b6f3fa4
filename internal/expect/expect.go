// Package expect turns element conditions into bounded polling assertions.
package expect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jasonhhouse/gaps-e2e/internal/driver"
	"github.com/jasonhhouse/gaps-e2e/internal/errs"
	"github.com/jasonhhouse/gaps-e2e/internal/obs"
	"github.com/jasonhhouse/gaps-e2e/internal/ratelimit"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultInterval = 100 * time.Millisecond
)

// Poller re-checks conditions until they all hold or the timeout elapses.
type Poller struct {
	Timeout  time.Duration
	Interval time.Duration
}

// Default returns a Poller with the default timeout and interval.
func Default() Poller {
	return Poller{Timeout: DefaultTimeout, Interval: DefaultInterval}
}

func (p Poller) withDefaults() Poller {
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	return p
}

// That waits until every condition holds for el. On timeout it returns an
// AssertionFailed error naming the element, the first unmet condition, and
// the last value observed for it. Driver errors during polling are retried;
// they only surface in the failure message.
func (p Poller) That(ctx context.Context, el driver.Element, conds ...Condition) error {
	if len(conds) == 0 {
		conds = []Condition{Present()}
	}
	p = p.withDefaults()
	pollCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	pacer := ratelimit.NewPacer(p.Interval)
	var (
		unmet    Condition
		observed string
		attempts int
	)
poll:
	for pacer.Wait(pollCtx, nil) == nil {
		attempts++
		var failed Condition
		var seen string
		for _, cond := range conds {
			ok, got, err := cond.Check(pollCtx, el)
			if err != nil {
				if pollCtx.Err() != nil {
					break poll
				}
				failed, seen = cond, "error: "+err.Error()
				break
			}
			if !ok {
				failed, seen = cond, got
				break
			}
		}
		if failed == nil {
			return nil
		}
		unmet, observed = failed, seen
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if unmet == nil {
		unmet, observed = conds[0], "never checked"
	}
	obs.From(ctx).Debug("assertion_timeout",
		"element", el.Describe(),
		"condition", unmet.String(),
		"observed", observed,
		"attempts", attempts,
	)
	return errs.New(errs.AssertionFailed, fmt.Sprintf(
		"expected %s %s, last observed %s (after %s)",
		el.Describe(), unmet, observed, p.Timeout,
	))
}

// Describe renders conditions for step descriptions.
func Describe(conds []Condition) string {
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = c.String()
	}
	return strings.Join(parts, " and ")
}
