package dom

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"mcp-bridge/internal/application/port/output"
)

var (
	_ output.PagePort    = (*Document)(nil)
	_ output.ElementPort = (*Element)(nil)
)

const (
	actionAttr = "data-mcp-action"
	cardAttr   = "data-mcp-card"
)

// Document is an in-memory page. It behaves like the live page for the parts
// the transcript scanner relies on: structural changes notify the mutation
// binding, clicks on card controls reach the card action binding, and
// submitting the composer form hands the typed text to OnSubmit.
type Document struct {
	mu   sync.Mutex
	root *goquery.Document

	keys map[*html.Node]string
	next int

	bindings *output.PageBindings

	// OnSubmit receives the composer text when a form is submitted.
	OnSubmit func(text string)
}

func Parse(markup string) (*Document, error) {
	root, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return &Document{root: root, keys: make(map[*html.Node]string)}, nil
}

func MustParse(markup string) *Document {
	d, err := Parse(markup)
	if err != nil {
		panic(err)
	}
	return d
}

func (d *Document) Query(ctx context.Context, selector string) (output.ElementPort, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sel, err := d.find(d.root.Selection, selector)
	if err != nil {
		return nil, err
	}
	return d.wrap(sel.First()), nil
}

func (d *Document) Bind(ctx context.Context, b output.PageBindings) (func(), error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bindings != nil {
		return nil, errors.New("document already bound")
	}
	d.bindings = &b
	return func() {
		d.mu.Lock()
		d.bindings = nil
		d.mu.Unlock()
	}, nil
}

// Append parses markup and appends it to the first element matching selector.
func (d *Document) Append(selector, markup string) error {
	d.mu.Lock()
	sel, err := d.find(d.root.Selection, selector)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if sel.Length() == 0 {
		d.mu.Unlock()
		return fmt.Errorf("no element matches %q", selector)
	}
	parent := sel.Get(0)
	nodes, err := html.ParseFragment(strings.NewReader(markup), parent)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	d.mu.Unlock()

	d.mutated()
	return nil
}

// Dispatch delivers a card action as if the page had forwarded a click.
func (d *Document) Dispatch(action output.CardAction) {
	d.mu.Lock()
	b := d.bindings
	d.mu.Unlock()
	if b != nil && b.OnCardAction != nil {
		b.OnCardAction(action)
	}
}

// ToggleSidebar simulates the sidebar keyboard shortcut.
func (d *Document) ToggleSidebar() {
	d.mu.Lock()
	b := d.bindings
	d.mu.Unlock()
	if b != nil && b.OnToggleSidebar != nil {
		b.OnToggleSidebar()
	}
}

func (d *Document) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, err := goquery.OuterHtml(d.root.Selection)
	if err != nil {
		return ""
	}
	return out
}

func (d *Document) mutated() {
	d.mu.Lock()
	b := d.bindings
	d.mu.Unlock()
	if b != nil && b.OnMutation != nil {
		b.OnMutation()
	}
}

// find compiles selector up front: goquery silently matches nothing for a
// selector it cannot parse.
func (d *Document) find(sel *goquery.Selection, selector string) (*goquery.Selection, error) {
	m, err := compile(selector)
	if err != nil {
		return nil, err
	}
	return sel.FindMatcher(m), nil
}

func compile(selector string) (goquery.Matcher, error) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return m, nil
}

func (d *Document) key(n *html.Node) string {
	k, ok := d.keys[n]
	if !ok {
		d.next++
		k = fmt.Sprintf("n%d", d.next)
		d.keys[n] = k
	}
	return k
}

func (d *Document) wrap(sel *goquery.Selection) output.ElementPort {
	if sel == nil || sel.Length() == 0 {
		return nil
	}
	n := sel.Get(0)
	return &Element{doc: d, node: n, key: d.key(n)}
}

// Element is a node of a Document.
type Element struct {
	doc  *Document
	node *html.Node
	key  string
}

func (e *Element) Key() string { return e.key }

func (e *Element) Find(ctx context.Context, selector string) ([]output.ElementPort, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	sel, err := e.doc.find(goquery.NewDocumentFromNode(e.node).Selection, selector)
	if err != nil {
		return nil, err
	}
	out := make([]output.ElementPort, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		out = append(out, e.doc.wrap(s))
	})
	return out, nil
}

func (e *Element) First(ctx context.Context, selector string) (output.ElementPort, error) {
	all, err := e.Find(ctx, selector)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

func (e *Element) Closest(ctx context.Context, selector string) (output.ElementPort, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	m, err := compile(selector)
	if err != nil {
		return nil, err
	}
	return e.doc.wrap(goquery.NewDocumentFromNode(e.node).ClosestMatcher(m)), nil
}

func (e *Element) Parent(ctx context.Context) (output.ElementPort, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	p := e.node.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil, nil
	}
	return &Element{doc: e.doc, node: p, key: e.doc.key(p)}, nil
}

func (e *Element) NextSibling(ctx context.Context) (output.ElementPort, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for n := e.node.NextSibling; n != nil; n = n.NextSibling {
		if n.Type == html.ElementNode {
			return &Element{doc: e.doc, node: n, key: e.doc.key(n)}, nil
		}
	}
	return nil, nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return goquery.NewDocumentFromNode(e.node).Text(), nil
}

func (e *Element) Attr(ctx context.Context, name string) (string, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.node, name), nil
}

func (e *Element) SetAttr(ctx context.Context, name, value string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setAttr(e.node, name, value)
	return nil
}

func (e *Element) Disabled(ctx context.Context) (bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return hasAttr(e.node, "disabled"), nil
}

func (e *Element) Hide(ctx context.Context) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setAttr(e.node, "style", "display: none;")
	return nil
}

func (e *Element) SetInnerHTML(ctx context.Context, markup string) error {
	e.doc.mu.Lock()
	nodes, err := html.ParseFragment(strings.NewReader(markup), e.node)
	if err != nil {
		e.doc.mu.Unlock()
		return fmt.Errorf("parse fragment: %w", err)
	}
	for c := e.node.FirstChild; c != nil; {
		next := c.NextSibling
		e.node.RemoveChild(c)
		c = next
	}
	for _, n := range nodes {
		e.node.AppendChild(n)
	}
	e.doc.mu.Unlock()

	e.doc.mutated()
	return nil
}

func (e *Element) ReplaceWithHTML(ctx context.Context, markup string) (output.ElementPort, error) {
	e.doc.mu.Lock()
	parent := e.node.Parent
	if parent == nil {
		e.doc.mu.Unlock()
		return nil, errors.New("element is detached")
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), parent)
	if err != nil {
		e.doc.mu.Unlock()
		return nil, fmt.Errorf("parse fragment: %w", err)
	}

	var first *html.Node
	for _, n := range nodes {
		parent.InsertBefore(n, e.node)
		if first == nil && n.Type == html.ElementNode {
			first = n
		}
	}
	parent.RemoveChild(e.node)

	var out output.ElementPort
	if first != nil {
		out = &Element{doc: e.doc, node: first, key: e.doc.key(first)}
	}
	e.doc.mu.Unlock()

	e.doc.mutated()
	return out, nil
}

func (e *Element) SetValue(ctx context.Context, value string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	setAttr(e.node, "value", value)
	return nil
}

// Click follows browser defaults: card controls are forwarded to the card
// action binding and enabled submit buttons submit their form.
func (e *Element) Click(ctx context.Context) error {
	e.doc.mu.Lock()
	if hasAttr(e.node, "disabled") {
		e.doc.mu.Unlock()
		return nil
	}

	if action := attr(e.node, actionAttr); action != "" {
		var cardID string
		for n := e.node; n != nil; n = n.Parent {
			if id := attr(n, cardAttr); id != "" {
				cardID = id
				break
			}
		}
		value := attr(e.node, "value")
		e.doc.mu.Unlock()
		e.doc.Dispatch(output.CardAction{CardID: cardID, Action: action, Value: value})
		return nil
	}

	isSubmit := e.node.Data == "button" && attr(e.node, "type") != "button"
	var form *html.Node
	if isSubmit {
		for n := e.node.Parent; n != nil; n = n.Parent {
			if n.Type == html.ElementNode && n.Data == "form" {
				form = n
				break
			}
		}
	}
	e.doc.mu.Unlock()

	if form != nil {
		return e.doc.submit(form)
	}
	return nil
}

func (e *Element) Submit(ctx context.Context) error {
	if e.node.Data != "form" {
		return fmt.Errorf("cannot submit <%s>", e.node.Data)
	}
	return e.doc.submit(e.node)
}

// submit hands the first text control's value to OnSubmit and clears it.
func (d *Document) submit(form *html.Node) error {
	d.mu.Lock()
	control := findControl(form)
	var text string
	if control != nil {
		text = attr(control, "value")
		setAttr(control, "value", "")
	}
	hook := d.OnSubmit
	d.mu.Unlock()

	if hook != nil {
		hook(text)
	}
	return nil
}

func findControl(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && (n.Data == "textarea" || n.Data == "input") {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findControl(c); found != nil {
			return found
		}
	}
	return nil
}

func attr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, name string) bool {
	for _, a := range n.Attr {
		if a.Key == name {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// Render returns the outer HTML of an element. Test helper.
func Render(el output.ElementPort) string {
	e, ok := el.(*Element)
	if !ok || e == nil {
		return ""
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, e.node); err != nil {
		return ""
	}
	return buf.String()
}
