package rod

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"mcp-bridge/internal/application/port/output"
)

var _ output.ElementPort = (*element)(nil)

// assignKey tags the node once so that later handles on it share a key.
const assignKey = `() => {
	if (!this.dataset.mcpKey) {
		window.__mcpKeySeq = (window.__mcpKeySeq || 0) + 1;
		this.dataset.mcpKey = 'k' + window.__mcpKeySeq;
	}
	return this.dataset.mcpKey;
}`

const setValue = `(v) => {
	if (this.isContentEditable) {
		this.textContent = v;
	} else {
		const proto = this instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		const desc = Object.getOwnPropertyDescriptor(proto, 'value');
		if (desc && desc.set) desc.set.call(this, v); else this.value = v;
	}
	this.dispatchEvent(new Event('input', { bubbles: true }));
}`

const replaceWith = `(markup) => {
	const t = document.createElement('template');
	t.innerHTML = markup;
	const first = t.content.firstElementChild;
	this.replaceWith(t.content);
	return first;
}`

type element struct {
	el  *rod.Element
	key string
}

func wrapElement(ctx context.Context, el *rod.Element) (output.ElementPort, error) {
	if el == nil {
		return nil, nil
	}
	res, err := el.Context(ctx).Eval(assignKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotElement, err)
	}
	return &element{el: el, key: res.Value.Str()}, nil
}

func (e *element) Key() string { return e.key }

func (e *element) Find(ctx context.Context, selector string) ([]output.ElementPort, error) {
	els, err := e.el.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("find %q: %w", selector, err)
	}
	out := make([]output.ElementPort, 0, len(els))
	for _, el := range els {
		w, err := wrapElement(ctx, el)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

func (e *element) First(ctx context.Context, selector string) (output.ElementPort, error) {
	return elementByJS(ctx, e.el, `(s) => this.querySelector(s)`, selector)
}

func (e *element) Closest(ctx context.Context, selector string) (output.ElementPort, error) {
	return elementByJS(ctx, e.el, `(s) => this.closest(s)`, selector)
}

func (e *element) Parent(ctx context.Context) (output.ElementPort, error) {
	return elementByJS(ctx, e.el, `() => this.parentElement`)
}

func (e *element) NextSibling(ctx context.Context) (output.ElementPort, error) {
	return elementByJS(ctx, e.el, `() => this.nextElementSibling`)
}

func (e *element) Text(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.textContent || ''`)
	if err != nil {
		return "", err
	}
	return res.Value.Str(), nil
}

func (e *element) Attr(ctx context.Context, name string) (string, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil || v == nil {
		return "", err
	}
	return *v, nil
}

func (e *element) SetAttr(ctx context.Context, name, value string) error {
	_, err := e.el.Context(ctx).Eval(`(n, v) => this.setAttribute(n, v)`, name, value)
	return err
}

func (e *element) Disabled(ctx context.Context) (bool, error) {
	res, err := e.el.Context(ctx).Eval(`() => !!this.disabled || this.getAttribute('aria-disabled') === 'true'`)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (e *element) Hide(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => { this.style.display = 'none'; }`)
	return err
}

func (e *element) SetInnerHTML(ctx context.Context, html string) error {
	_, err := e.el.Context(ctx).Eval(`(h) => { this.innerHTML = h; }`, html)
	return err
}

func (e *element) ReplaceWithHTML(ctx context.Context, html string) (output.ElementPort, error) {
	return elementByJS(ctx, e.el, replaceWith, html)
}

func (e *element) SetValue(ctx context.Context, value string) error {
	_, err := e.el.Context(ctx).Eval(setValue, value)
	return err
}

func (e *element) Click(ctx context.Context) error {
	_, err := e.el.Context(ctx).Eval(`() => this.click()`)
	return err
}

func (e *element) Submit(ctx context.Context) error {
	res, err := e.el.Context(ctx).Eval(`() => {
		if (this.tagName !== 'FORM') return false;
		if (this.requestSubmit) this.requestSubmit(); else this.submit();
		return true;
	}`)
	if err != nil {
		return err
	}
	if !res.Value.Bool() {
		return fmt.Errorf("submit: element is not a form")
	}
	return nil
}
