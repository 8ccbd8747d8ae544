package output

import "context"

// ElementPort is a handle on one element of the chat page. Lookups that find
// nothing return a nil element and a nil error.
type ElementPort interface {
	// Key is stable for the lifetime of the underlying node.
	Key() string

	Find(ctx context.Context, selector string) ([]ElementPort, error)
	First(ctx context.Context, selector string) (ElementPort, error)
	Closest(ctx context.Context, selector string) (ElementPort, error)
	Parent(ctx context.Context) (ElementPort, error)
	NextSibling(ctx context.Context) (ElementPort, error)

	Text(ctx context.Context) (string, error)
	Attr(ctx context.Context, name string) (string, error)
	SetAttr(ctx context.Context, name, value string) error
	Disabled(ctx context.Context) (bool, error)

	Hide(ctx context.Context) error
	SetInnerHTML(ctx context.Context, html string) error
	// ReplaceWithHTML swaps the element for a new one built from html and
	// returns the new element.
	ReplaceWithHTML(ctx context.Context, html string) (ElementPort, error)

	SetValue(ctx context.Context, value string) error
	Click(ctx context.Context) error
	Submit(ctx context.Context) error
}

// CardAction is a user interaction with a rendered call card.
type CardAction struct {
	CardID string `json:"card"`
	Action string `json:"action"`
	Value  string `json:"value,omitempty"`
}

const (
	CardActionCall   = "call"
	CardActionSelect = "select"
	CardActionToggle = "toggle"
)

// PageBindings are the callbacks a page invokes on its own initiative.
type PageBindings struct {
	OnMutation      func()
	OnCardAction    func(CardAction)
	OnToggleSidebar func()
}

type PagePort interface {
	Query(ctx context.Context, selector string) (ElementPort, error)
	// Bind installs the page-side observers. The returned stop func removes them.
	Bind(ctx context.Context, b PageBindings) (stop func(), err error)
}

// DiagnosticsPort captures the state of the page when something user-visible fails.
type DiagnosticsPort interface {
	// CaptureFailure stores a picture of the page and returns where it went.
	CaptureFailure(ctx context.Context, reason string) (string, error)
}
