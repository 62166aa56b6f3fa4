package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
)

// EvalFunc evaluates a JavaScript function expression with a single argument
// in the page and returns its JSON-decoded result.
type EvalFunc func(ctx context.Context, expression string, arg any) (any, error)

// resolveScript resolves a Path inside the page and applies one operation to
// it. Input is simulated with DOM events so the same script serves every
// backend that lacks a native locator API.
const resolveScript = `(req) => {
  let nodes = Array.from(document.querySelectorAll(req.selector));
  for (const hop of req.hops) {
    if (hop === 'first') {
      nodes = nodes.slice(0, 1);
    } else if (hop === 'parent') {
      nodes = nodes.map((n) => n.parentElement).filter(Boolean);
    }
  }
  if (req.op === 'count') {
    return { value: nodes.length };
  }
  const el = nodes[0];
  if (!el) {
    return { missing: true };
  }
  const fire = (type) => el.dispatchEvent(new Event(type, { bubbles: true }));
  switch (req.op) {
    case 'attribute':
      return { present: el.hasAttribute(req.name), value: el.getAttribute(req.name) || '' };
    case 'visible': {
      const style = window.getComputedStyle(el);
      const rect = el.getBoundingClientRect();
      return { value: style.visibility !== 'hidden' && style.display !== 'none' && rect.width > 0 && rect.height > 0 };
    }
    case 'text':
      return { value: el.textContent || '' };
    case 'naturalWidth':
      return { value: el.naturalWidth || 0 };
    case 'click':
      el.scrollIntoView({ block: 'center' });
      el.click();
      return {};
    case 'clear':
      el.focus();
      el.value = '';
      fire('input');
      fire('change');
      return {};
    case 'type':
      el.focus();
      for (const ch of req.text) {
        el.dispatchEvent(new KeyboardEvent('keydown', { key: ch, bubbles: true }));
        el.value += ch;
        fire('input');
        el.dispatchEvent(new KeyboardEvent('keyup', { key: ch, bubbles: true }));
      }
      fire('change');
      return {};
  }
  return { error: 'unknown operation ' + req.op };
}`

// ScriptedElement implements Element by evaluating resolveScript through an
// EvalFunc.
type ScriptedElement struct {
	eval EvalFunc
	path Path
}

// NewScriptedElement returns an Element for selector backed by eval.
func NewScriptedElement(eval EvalFunc, selector string) *ScriptedElement {
	return &ScriptedElement{eval: eval, path: Path{Selector: selector}}
}

func (e *ScriptedElement) First() Element {
	return &ScriptedElement{eval: e.eval, path: e.path.With(HopFirst)}
}

func (e *ScriptedElement) Parent() Element {
	return &ScriptedElement{eval: e.eval, path: e.path.With(HopParent)}
}

func (e *ScriptedElement) Describe() string {
	return e.path.String()
}

type scriptResult struct {
	Missing bool   `json:"missing"`
	Present bool   `json:"present"`
	Error   string `json:"error"`
	Value   any    `json:"value"`
}

func (e *ScriptedElement) run(ctx context.Context, op string, extra map[string]any) (scriptResult, error) {
	req := e.path.Arg()
	req["op"] = op
	for k, v := range extra {
		req[k] = v
	}
	raw, err := e.eval(ctx, resolveScript, req)
	if err != nil {
		return scriptResult{}, fmt.Errorf("%s on %s: %w", op, e.path, err)
	}
	var res scriptResult
	if err := remarshal(raw, &res); err != nil {
		return scriptResult{}, fmt.Errorf("%s on %s: decode result: %w", op, e.path, err)
	}
	if res.Error != "" {
		return scriptResult{}, fmt.Errorf("%s on %s: %s", op, e.path, res.Error)
	}
	if res.Missing {
		return scriptResult{}, &ErrNoElement{Selector: e.path.String()}
	}
	return res, nil
}

func (e *ScriptedElement) Count(ctx context.Context) (int, error) {
	res, err := e.run(ctx, "count", nil)
	if err != nil {
		return 0, err
	}
	return ToInt(res.Value)
}

func (e *ScriptedElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	res, err := e.run(ctx, "attribute", map[string]any{"name": name})
	if err != nil {
		return "", false, err
	}
	value, _ := res.Value.(string)
	return value, res.Present, nil
}

func (e *ScriptedElement) Visible(ctx context.Context) (bool, error) {
	res, err := e.run(ctx, "visible", nil)
	if err != nil {
		return false, err
	}
	visible, _ := res.Value.(bool)
	return visible, nil
}

func (e *ScriptedElement) Text(ctx context.Context) (string, error) {
	res, err := e.run(ctx, "text", nil)
	if err != nil {
		return "", err
	}
	text, _ := res.Value.(string)
	return text, nil
}

func (e *ScriptedElement) NaturalWidth(ctx context.Context) (int, error) {
	res, err := e.run(ctx, "naturalWidth", nil)
	if err != nil {
		return 0, err
	}
	return ToInt(res.Value)
}

func (e *ScriptedElement) Click(ctx context.Context) error {
	_, err := e.run(ctx, "click", nil)
	return err
}

func (e *ScriptedElement) Clear(ctx context.Context) error {
	_, err := e.run(ctx, "clear", nil)
	return err
}

func (e *ScriptedElement) Type(ctx context.Context, text string) error {
	_, err := e.run(ctx, "type", map[string]any{"text": text})
	return err
}

// ToInt converts a JSON-decoded number to int.
func ToInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("not a finite number: %v", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

// remarshal converts a loosely typed evaluation result into out.
func remarshal(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// CallExpression inlines arg as JSON into a call of the function expression.
// Backends whose evaluate primitive accepts only a source string use it.
func CallExpression(expression string, arg any) (string, error) {
	b, err := json.Marshal(arg)
	if err != nil {
		return "", fmt.Errorf("encode evaluate argument: %w", err)
	}
	return fmt.Sprintf("(%s)(%s)", expression, b), nil
}
