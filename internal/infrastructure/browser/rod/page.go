package rod

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"mcp-bridge/internal/application/port/output"
)

const (
	bindMutation   = "__mcpOnMutation"
	bindCardAction = "__mcpOnCardAction"
	bindToggle     = "__mcpOnToggle"
)

// installObservers wires the page events to the exposed bindings. Mutation
// notifications are coalesced into one call per microtask.
const installObservers = `() => {
	if (window.__mcpBridgeStop) window.__mcpBridgeStop();
	let queued = false;
	const observer = new MutationObserver(() => {
		if (queued) return;
		queued = true;
		queueMicrotask(() => { queued = false; window.__mcpOnMutation({}); });
	});
	observer.observe(document.body, { childList: true, subtree: true });

	const action = (el, value) => {
		const card = el.closest('[data-mcp-card]');
		if (!card) return;
		window.__mcpOnCardAction({
			card: card.getAttribute('data-mcp-card'),
			action: el.getAttribute('data-mcp-action'),
			value: value || '',
		});
	};
	const onClick = (e) => {
		const el = e.target.closest && e.target.closest('[data-mcp-action]');
		if (!el || el.tagName === 'SELECT' || el.disabled) return;
		e.preventDefault();
		action(el);
	};
	const onChange = (e) => {
		const el = e.target;
		if (el.tagName !== 'SELECT' || !el.hasAttribute('data-mcp-action')) return;
		action(el, el.value);
	};
	const onKey = (e) => {
		if ((e.ctrlKey || e.metaKey) && e.shiftKey && e.code === 'KeyM') {
			e.preventDefault();
			window.__mcpOnToggle({});
		}
	};
	document.addEventListener('click', onClick, true);
	document.addEventListener('change', onChange, true);
	document.addEventListener('keydown', onKey, true);

	window.__mcpBridgeStop = () => {
		observer.disconnect();
		document.removeEventListener('click', onClick, true);
		document.removeEventListener('change', onChange, true);
		document.removeEventListener('keydown', onKey, true);
		delete window.__mcpBridgeStop;
	};
}`

const removeObservers = `() => { if (window.__mcpBridgeStop) window.__mcpBridgeStop(); }`

func (b *BrowserAdapter) Query(ctx context.Context, selector string) (output.ElementPort, error) {
	if !b.IsReady() {
		return nil, ErrBrowserClosed
	}
	els, err := b.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if len(els) == 0 {
		return nil, nil
	}
	return wrapElement(ctx, els[0])
}

// Bind exposes the page callbacks and installs the observers that call them.
func (b *BrowserAdapter) Bind(ctx context.Context, bindings output.PageBindings) (func(), error) {
	if !b.IsReady() {
		return nil, ErrBrowserClosed
	}
	page := b.page.Context(ctx)

	var stops []func() error
	undo := func() {
		for _, stop := range stops {
			if err := stop(); err != nil {
				b.logger.Debug("Failed to remove binding", "error", err)
			}
		}
	}

	exposes := []struct {
		name string
		fn   func(gson.JSON) (interface{}, error)
	}{
		{bindMutation, func(gson.JSON) (interface{}, error) {
			if bindings.OnMutation != nil {
				bindings.OnMutation()
			}
			return nil, nil
		}},
		{bindCardAction, func(j gson.JSON) (interface{}, error) {
			if bindings.OnCardAction != nil {
				bindings.OnCardAction(output.CardAction{
					CardID: j.Get("card").Str(),
					Action: j.Get("action").Str(),
					Value:  j.Get("value").Str(),
				})
			}
			return nil, nil
		}},
		{bindToggle, func(gson.JSON) (interface{}, error) {
			if bindings.OnToggleSidebar != nil {
				bindings.OnToggleSidebar()
			}
			return nil, nil
		}},
	}
	for _, e := range exposes {
		stop, err := page.Expose(e.name, e.fn)
		if err != nil {
			undo()
			return nil, fmt.Errorf("expose %s: %w", e.name, err)
		}
		stops = append(stops, stop)
	}

	if _, err := page.Eval(installObservers); err != nil {
		undo()
		return nil, fmt.Errorf("install observers: %w", err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if b.IsReady() {
				if _, err := b.page.Eval(removeObservers); err != nil {
					b.logger.Debug("Failed to remove observers", "error", err)
				}
			}
			undo()
		})
	}, nil
}

// elementByJS runs js against el and wraps the element it returns.
func elementByJS(ctx context.Context, el *rod.Element, js string, args ...interface{}) (output.ElementPort, error) {
	obj, err := el.Context(ctx).Evaluate(rod.Eval(js, args...).ByObject())
	if err != nil {
		return nil, err
	}
	if obj == nil || obj.ObjectID == "" || obj.Subtype == proto.RuntimeRemoteObjectSubtypeNull {
		return nil, nil
	}
	found, err := el.Page().Context(ctx).ElementFromObject(obj)
	if err != nil {
		return nil, err
	}
	return wrapElement(ctx, found)
}

var errNotElement = errors.New("not an element")
