// Package browsertest provides an in-memory fake of the browser capability
// for engine and driver tests. Tests script element trees, evaluation
// results, and beacon emission without a real browser.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/tagsentry/tagsentry/internal/browser"
)

// Session is a scriptable browser.Session.
type Session struct {
	// NavigateFunc, when set, overrides the default (successful) navigation.
	NavigateFunc func(url string) error
	// EvaluateFunc handles Evaluate calls. Tests usually switch on a
	// distinctive substring of the script. Nil fails every evaluation.
	EvaluateFunc func(js string, out any) error
	// Elements maps session-level selectors to element lists.
	Elements map[string][]*Element

	mu        sync.Mutex
	onRequest func(string)
	closed    bool
}

var _ browser.Session = (*Session)(nil)

func (s *Session) OnRequest(fn func(rawURL string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRequest = fn
}

// EmitRequest simulates one outbound network request, as the browser's
// event goroutine would.
func (s *Session) EmitRequest(rawURL string) {
	s.mu.Lock()
	fn := s.onRequest
	s.mu.Unlock()
	if fn != nil {
		fn(rawURL)
	}
}

func (s *Session) Navigate(_ context.Context, url string) error {
	if s.NavigateFunc != nil {
		return s.NavigateFunc(url)
	}
	return nil
}

func (s *Session) Evaluate(_ context.Context, js string, out any) error {
	if s.EvaluateFunc == nil {
		return fmt.Errorf("browsertest: unexpected evaluate: %s", js)
	}
	return s.EvaluateFunc(js, out)
}

func (s *Session) QueryAll(_ context.Context, selector string) ([]browser.Element, error) {
	els := s.Elements[selector]
	out := make([]browser.Element, len(els))
	for i, e := range els {
		out[i] = e
	}
	return out, nil
}

func (s *Session) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// JSONInto round-trips v through JSON into out, mimicking how a real
// session unmarshals evaluation results.
func JSONInto(v any, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// Element is a scriptable browser.Element. The zero value is a visible,
// interactable element with no attributes.
type Element struct {
	TagName string
	Attrs   map[string]string
	Hidden  bool
	// Children maps descendant selectors for QueryAll.
	Children map[string][]*Element

	// ClickErr fails every click. PlainClickErr fails only non-forced
	// clicks, letting tests exercise the forced retry path.
	ClickErr      error
	PlainClickErr error
	ScrollErr     error
	FillErr       error

	// OnClick fires after a successful click; tests use it to emit beacons.
	OnClick func(force bool)

	mu          sync.Mutex
	filledValue string
	checked     bool
	clicks      int
}

var _ browser.Element = (*Element)(nil)

func (e *Element) Tag() string {
	if e.TagName == "" {
		return "div"
	}
	return e.TagName
}

func (e *Element) Visible(_ context.Context) (bool, error) {
	return !e.Hidden, nil
}

func (e *Element) ScrollIntoView(_ context.Context) error {
	return e.ScrollErr
}

func (e *Element) Click(_ context.Context, force bool) error {
	if e.ClickErr != nil {
		return e.ClickErr
	}
	if !force && e.PlainClickErr != nil {
		return e.PlainClickErr
	}
	e.mu.Lock()
	e.clicks++
	e.mu.Unlock()
	if e.OnClick != nil {
		e.OnClick(force)
	}
	return nil
}

func (e *Element) Fill(_ context.Context, value string) error {
	if e.FillErr != nil {
		return e.FillErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filledValue = value
	return nil
}

func (e *Element) SetChecked(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checked = true
	return nil
}

func (e *Element) Attr(_ context.Context, name string) (string, bool, error) {
	v, ok := e.Attrs[name]
	return v, ok, nil
}

func (e *Element) QueryAll(_ context.Context, selector string) ([]browser.Element, error) {
	els := e.Children[selector]
	out := make([]browser.Element, len(els))
	for i, el := range els {
		out[i] = el
	}
	return out, nil
}

// FilledValue returns the last value passed to Fill.
func (e *Element) FilledValue() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.filledValue
}

// Checked reports whether SetChecked was called.
func (e *Element) Checked() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checked
}

// Clicks returns the number of successful clicks.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Factory returns a fixed session from NewSession.
type Factory struct {
	Session *Session
	Err     error
}

var _ browser.Factory = (*Factory)(nil)

func (f *Factory) NewSession(_ context.Context) (browser.Session, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Session, nil
}
