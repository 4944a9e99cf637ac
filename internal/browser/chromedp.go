package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// FactoryConfig configures the chromedp-backed session factory.
type FactoryConfig struct {
	// ExecPath overrides the Chrome binary location. Empty means chromedp's
	// default lookup.
	ExecPath string
	Headless bool
	// NavTimeout bounds the primary navigation (full load wait).
	NavTimeout time.Duration
	// NavFallbackTimeout bounds the degraded second attempt.
	NavFallbackTimeout time.Duration
}

// ChromeFactory creates chromedp sessions, one headless Chrome tab per run.
type ChromeFactory struct {
	cfg    FactoryConfig
	logger *slog.Logger
}

// NewChromeFactory creates a session factory.
func NewChromeFactory(cfg FactoryConfig, logger *slog.Logger) *ChromeFactory {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.NavFallbackTimeout <= 0 {
		cfg.NavFallbackTimeout = 15 * time.Second
	}
	return &ChromeFactory{cfg: cfg, logger: logger}
}

// NewSession starts a fresh browser context with network events enabled.
func (f *ChromeFactory) NewSession(ctx context.Context) (Session, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
	)
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Starting the browser and enabling network events must happen before
	// any listener registration or navigation.
	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("browser: start session: %w", err)
	}

	return &chromeSession{
		ctx:    tabCtx,
		cancel: func() { tabCancel(); allocCancel() },
		cfg:    f.cfg,
		logger: f.logger,
	}, nil
}

type chromeSession struct {
	ctx    context.Context
	cancel func()
	cfg    FactoryConfig
	logger *slog.Logger
}

func (s *chromeSession) OnRequest(fn func(rawURL string)) {
	chromedp.ListenTarget(s.ctx, func(ev any) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok {
			fn(e.Request.URL)
		}
	})
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	primary, cancel := context.WithTimeout(s.run(ctx), s.cfg.NavTimeout)
	err := chromedp.Run(primary,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	cancel()
	if err == nil {
		return nil
	}
	s.logger.Warn("browser: primary navigation failed, retrying degraded", "url", url, "error", err)

	// Degraded fallback: navigate without waiting for readiness. Heavy or
	// partially broken pages still yield a usable DOM.
	fallback, cancel := context.WithTimeout(s.run(ctx), s.cfg.NavFallbackTimeout)
	defer cancel()
	if ferr := chromedp.Run(fallback, chromedp.Navigate(url)); ferr != nil {
		return fmt.Errorf("browser: navigate %s: primary: %v; fallback: %w", url, err, ferr)
	}
	return nil
}

func (s *chromeSession) Evaluate(ctx context.Context, js string, out any) error {
	if err := chromedp.Run(s.run(ctx), chromedp.Evaluate(js, out)); err != nil {
		return fmt.Errorf("browser: evaluate: %w", err)
	}
	return nil
}

// elementRef is one enumerated element, addressed by absolute XPath.
type elementRef struct {
	XPath string `json:"xpath"`
	Tag   string `json:"tag"`
}

// enumerateJS resolves a CSS selector under a root (document or an XPath)
// and returns absolute XPaths, which remain valid addresses for later
// interaction commands as long as the DOM is not rebuilt.
const enumerateJS = `(function(rootPath, sel) {
	var root = document;
	if (rootPath) {
		root = document.evaluate(rootPath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!root) return [];
	}
	var xp = function(el) {
		var path = '';
		for (var n = el; n && n.nodeType === 1; n = n.parentNode) {
			var i = 1;
			for (var sib = n.previousElementSibling; sib; sib = sib.previousElementSibling) {
				if (sib.tagName === n.tagName) i++;
			}
			path = '/' + n.tagName.toLowerCase() + '[' + i + ']' + path;
		}
		return path;
	};
	return Array.prototype.map.call(root.querySelectorAll(sel), function(el) {
		return { xpath: xp(el), tag: el.tagName.toLowerCase() };
	});
})(%s, %s)`

func (s *chromeSession) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	return s.query(ctx, "", selector)
}

func (s *chromeSession) query(ctx context.Context, rootXPath, selector string) ([]Element, error) {
	js := fmt.Sprintf(enumerateJS, strconv.Quote(rootXPath), strconv.Quote(selector))
	var refs []elementRef
	if err := s.Evaluate(ctx, js, &refs); err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", selector, err)
	}
	els := make([]Element, len(refs))
	for i, ref := range refs {
		els[i] = &chromeElement{sess: s, xpath: ref.XPath, tag: ref.Tag}
	}
	return els, nil
}

func (s *chromeSession) Close(_ context.Context) error {
	s.cancel()
	return nil
}

// run derives a command context that is bounded by both the caller's
// deadline and the session lifetime.
func (s *chromeSession) run(ctx context.Context) context.Context {
	if ctx == nil {
		return s.ctx
	}
	merged, cancel := context.WithCancel(s.ctx)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-merged.Done():
		}
	}()
	return merged
}

type chromeElement struct {
	sess  *chromeSession
	xpath string
	tag   string
}

func (e *chromeElement) Tag() string { return e.tag }

const visibleJS = `(function(p) {
	var el = document.evaluate(p, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return false;
	var s = window.getComputedStyle(el);
	if (s.display === 'none' || s.visibility === 'hidden') return false;
	var b = el.getBoundingClientRect();
	return b.width > 0 && b.height > 0;
})(%s)`

func (e *chromeElement) Visible(ctx context.Context) (bool, error) {
	var visible bool
	js := fmt.Sprintf(visibleJS, strconv.Quote(e.xpath))
	if err := e.sess.Evaluate(ctx, js, &visible); err != nil {
		return false, err
	}
	return visible, nil
}

func (e *chromeElement) ScrollIntoView(ctx context.Context) error {
	err := chromedp.Run(e.sess.run(ctx),
		chromedp.ScrollIntoView(e.xpath, chromedp.BySearch))
	if err != nil {
		return fmt.Errorf("browser: scroll into view: %w", err)
	}
	return nil
}

const forceClickJS = `(function(p) {
	var el = document.evaluate(p, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return false;
	el.click();
	return true;
})(%s)`

func (e *chromeElement) Click(ctx context.Context, force bool) error {
	if force {
		var clicked bool
		js := fmt.Sprintf(forceClickJS, strconv.Quote(e.xpath))
		if err := e.sess.Evaluate(ctx, js, &clicked); err != nil {
			return err
		}
		if !clicked {
			return fmt.Errorf("browser: force click: element detached")
		}
		return nil
	}
	if err := chromedp.Run(e.sess.run(ctx), chromedp.Click(e.xpath, chromedp.BySearch)); err != nil {
		return fmt.Errorf("browser: click: %w", err)
	}
	return nil
}

func (e *chromeElement) Fill(ctx context.Context, value string) error {
	err := chromedp.Run(e.sess.run(ctx),
		chromedp.SendKeys(e.xpath, value, chromedp.BySearch))
	if err != nil {
		return fmt.Errorf("browser: fill: %w", err)
	}
	return nil
}

const setCheckedJS = `(function(p) {
	var el = document.evaluate(p, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return false;
	if (!el.checked) {
		el.checked = true;
		el.dispatchEvent(new Event('change', { bubbles: true }));
	}
	return true;
})(%s)`

func (e *chromeElement) SetChecked(ctx context.Context) error {
	var done bool
	js := fmt.Sprintf(setCheckedJS, strconv.Quote(e.xpath))
	if err := e.sess.Evaluate(ctx, js, &done); err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("browser: set checked: element detached")
	}
	return nil
}

func (e *chromeElement) Attr(ctx context.Context, name string) (string, bool, error) {
	var value string
	var ok bool
	err := chromedp.Run(e.sess.run(ctx),
		chromedp.AttributeValue(e.xpath, name, &value, &ok, chromedp.BySearch))
	if err != nil {
		return "", false, fmt.Errorf("browser: attr %q: %w", name, err)
	}
	return value, ok, nil
}

func (e *chromeElement) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	return e.sess.query(ctx, e.xpath, selector)
}
