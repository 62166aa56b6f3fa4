// Package probe detects when the application under test has started by
// watching for its first "change" listener registration.
//
// The injected script wraps EventTarget.prototype.addEventListener before any
// page script runs. Every call is forwarded unchanged. The first call for
// "change" flips a window flag, puts the previous function back, and notifies
// the Go side through a binding. Each document also gets a random load id so
// a flag left over from the previous document is never mistaken for the
// next one's.
package probe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jasonhhouse/gaps-e2e/internal/driver"
	"github.com/jasonhhouse/gaps-e2e/internal/errs"
	"github.com/jasonhhouse/gaps-e2e/internal/obs"
	"github.com/jasonhhouse/gaps-e2e/internal/ratelimit"
)

const (
	DefaultTimeout  = 5 * time.Second
	DefaultInterval = 100 * time.Millisecond
)

const scriptTemplate = `(() => {
  if (window.top !== window) {
    return;
  }
  const flag = %[1]q;
  const binding = %[2]q;
  window[%[3]q] = Math.random().toString(36).slice(2) + Date.now().toString(36);
  window[flag] = false;
  const proto = typeof EventTarget === 'function' ? EventTarget.prototype : undefined;
  if (!proto || typeof proto.addEventListener !== 'function') {
    return;
  }
  const previous = proto.addEventListener;
  proto.addEventListener = function (type) {
    if (type === 'change' && window[flag] === false) {
      window[flag] = true;
      proto.addEventListener = previous;
      const notify = window[binding];
      if (typeof notify === 'function') {
        try {
          notify('change');
        } catch (e) {}
      }
    }
    return previous.apply(this, arguments);
  };
})();`

// loadExpression returns the load id of the committed document, or "" when
// the script has not run in it.
const loadExpression = `(load) => String(window[load] || '')`

// startedExpression returns the load id of the committed document once its
// flag is set, or "".
const startedExpression = `(req) => window[req.flag] === true ? String(window[req.load] || '') : ''`

// Options tunes Wait.
type Options struct {
	// Timeout bounds Wait. Zero means DefaultTimeout.
	Timeout time.Duration
	// Interval is the page-flag polling interval. Zero means DefaultInterval.
	Interval time.Duration
}

// Probe owns the injected script and the cell of the current page load.
type Probe struct {
	flag     string
	binding  string
	load     string
	timeout  time.Duration
	interval time.Duration

	mu      sync.Mutex
	current *Cell
}

// New returns a Probe with unique flag and binding names.
func New(opts Options) *Probe {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return &Probe{
		flag:     "__gapsStarted_" + suffix,
		binding:  "__gapsStartedNotify_" + suffix,
		load:     "__gapsLoad_" + suffix,
		timeout:  opts.Timeout,
		interval: opts.Interval,
		current:  newCell(),
	}
}

// Flag is the window property the script sets.
func (p *Probe) Flag() string { return p.flag }

// Binding is the window function the script calls when it fires.
func (p *Probe) Binding() string { return p.binding }

// Load is the window property holding the document's load id.
func (p *Probe) Load() string { return p.load }

// Script returns the JavaScript to inject before any page script.
func (p *Probe) Script() string {
	return fmt.Sprintf(scriptTemplate, p.flag, p.binding, p.load)
}

// Install registers the script and the binding on page. It must be called
// before the first navigation.
func (p *Probe) Install(ctx context.Context, page driver.Page) error {
	if err := page.AddInitScript(ctx, p.Script()); err != nil {
		return fmt.Errorf("add probe script: %w", err)
	}
	if err := page.Bind(ctx, p.binding, p.onBinding); err != nil {
		return fmt.Errorf("bind %s: %w", p.binding, err)
	}
	return nil
}

func (p *Probe) onBinding(string) {
	p.mu.Lock()
	cell := p.current
	p.mu.Unlock()
	cell.Fire()
}

// Arm replaces the current cell with a fresh one and returns it. Call it
// right before each navigation and pass the result to Wait. The cell
// remembers the load id of the document committed at this point; Wait never
// accepts that document's flag.
func (p *Probe) Arm(ctx context.Context, page driver.Page) *Cell {
	cell := newCell()
	cell.stale = p.currentLoad(ctx, page)
	p.mu.Lock()
	p.current = cell
	p.mu.Unlock()
	return cell
}

func (p *Probe) currentLoad(ctx context.Context, page driver.Page) string {
	evalCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	v, err := page.Evaluate(evalCtx, loadExpression, p.load)
	if err != nil {
		obs.From(ctx).Debug("probe_load_unknown", "url", page.URL(), "error", err)
		return ""
	}
	load, _ := v.(string)
	return load
}

// Wait blocks until cell fires or the flag of a document loaded after Arm
// reads true. It returns a
// ProbeNeverFired error once the probe timeout elapses, or ctx's error if ctx
// ends first.
func (p *Probe) Wait(ctx context.Context, page driver.Page, cell *Cell) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	logger := obs.From(ctx)
	pacer := ratelimit.NewPacer(p.interval)
	var lastErr error
	for {
		if err := pacer.Wait(waitCtx, cell.Done()); err != nil {
			break
		}
		if cell.Fired() {
			return nil
		}
		v, err := page.Evaluate(waitCtx, startedExpression, map[string]string{"flag": p.flag, "load": p.load})
		if err != nil {
			lastErr = err
			continue
		}
		if load, _ := v.(string); load != "" && load != cell.stale {
			cell.Fire()
			return nil
		}
	}

	if cell.Fired() {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	logger.Warn("probe_never_fired", "url", page.URL(), "timeout", p.timeout.String())
	msg := fmt.Sprintf("no change listener registered on %s within %s", page.URL(), p.timeout)
	if lastErr != nil {
		return errs.Wrap(errs.ProbeNeverFired, msg, lastErr)
	}
	return errs.New(errs.ProbeNeverFired, msg)
}

// Cell is the one-shot "application started" state of a single page load.
type Cell struct {
	once  sync.Once
	done  chan struct{}
	fired atomic.Bool
	// stale is the load id of the document committed when the cell was
	// armed.
	stale string
}

func newCell() *Cell {
	return &Cell{done: make(chan struct{})}
}

// Fire marks the cell as started. Calls after the first are no-ops.
func (c *Cell) Fire() {
	c.once.Do(func() {
		c.fired.Store(true)
		close(c.done)
	})
}

// Fired reports whether the cell has fired.
func (c *Cell) Fired() bool { return c.fired.Load() }

// Done is closed when the cell fires.
func (c *Cell) Done() <-chan struct{} { return c.done }
