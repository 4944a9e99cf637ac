// Package browser defines the automation capability the verification engine
// consumes: navigation with a degraded fallback, a network request
// subscription, in-page evaluation, and element-level interaction. The
// engine is agnostic to the concrete automation technology; the chromedp
// adapter in this package is one implementation.
package browser

import "context"

// Session is one controlled browser page. A session belongs to exactly one
// verification run and must be closed on every exit path.
type Session interface {
	// OnRequest registers the network request subscription. Must be called
	// before Navigate so pre-navigation requests are observed. The callback
	// fires on the session's event goroutine for the session's lifetime.
	OnRequest(fn func(rawURL string))

	// Navigate loads the target URL, trying the primary load strategy first
	// and a degraded fallback before giving up.
	Navigate(ctx context.Context, url string) error

	// Evaluate runs a JavaScript expression in the page and unmarshals the
	// JSON-serialized result into out.
	Evaluate(ctx context.Context, js string, out any) error

	// QueryAll resolves all elements matching a CSS selector. An empty
	// result is not an error.
	QueryAll(ctx context.Context, selector string) ([]Element, error)

	// Close releases the page and its browser resources.
	Close(ctx context.Context) error
}

// Element is a handle to one DOM element.
type Element interface {
	// Tag returns the lower-cased element tag name.
	Tag() string

	// Visible reports whether the element is rendered and has nonzero size.
	Visible(ctx context.Context) (bool, error)

	// ScrollIntoView brings the element into the viewport.
	ScrollIntoView(ctx context.Context) error

	// Click clicks the element. With force, the click is dispatched
	// programmatically, bypassing hit testing (covered elements).
	Click(ctx context.Context, force bool) error

	// Fill sets the element's value, simulating key input.
	Fill(ctx context.Context, value string) error

	// SetChecked checks a checkbox or radio input.
	SetChecked(ctx context.Context) error

	// Attr returns the named attribute and whether it is present.
	Attr(ctx context.Context, name string) (string, bool, error)

	// QueryAll resolves descendant elements by CSS selector.
	QueryAll(ctx context.Context, selector string) ([]Element, error)
}

// Factory creates sessions. The engine never constructs a concrete browser.
type Factory interface {
	NewSession(ctx context.Context) (Session, error)
}
