package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"go-appraiser/pkg/models"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36"

// Config holds everything a Session needs to drive the valuation app.
type Config struct {
	// BaseURL is the application root, e.g. https://app.signal.vin.
	BaseURL  string
	Email    string
	Password string
	Headless bool
}

// Session owns one browser with one page. It implements the orchestrator's
// Driver interface. All methods are called from a single goroutine; the only
// concurrent access is the capture buffer, which locks internally.
type Session struct {
	cfg     Config
	capture *Capture

	parent      context.Context
	tab         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	loggedIn    bool
}

func NewSession(cfg Config) *Session {
	return &Session{
		cfg:     cfg,
		capture: NewCapture(hostOf(cfg.BaseURL)),
	}
}

func hostOf(baseURL string) string {
	host := baseURL
	host = strings.TrimPrefix(host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "app.")
	return host
}

// Start launches the browser and attaches the network capture. The viewport
// matches what the app's layout was tuned against.
func (s *Session) Start(ctx context.Context) error {
	s.parent = ctx

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.WindowSize(1520, 960),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tab, tabCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(tab, network.Enable()); err != nil {
		tabCancel()
		allocCancel()
		return eris.Wrap(err, "browser: start")
	}

	s.capture.Attach(tab)
	s.tab = tab
	s.tabCancel = tabCancel
	s.allocCancel = allocCancel
	s.loggedIn = false

	zap.L().Info("browser session started", zap.Bool("headless", s.cfg.Headless))
	return nil
}

// Stop tears the browser down. Safe to call on a dead session.
func (s *Session) Stop() {
	if s.tabCancel != nil {
		s.tabCancel()
		s.tabCancel = nil
	}
	if s.allocCancel != nil {
		s.allocCancel()
		s.allocCancel = nil
	}
	s.loggedIn = false
}

// Restart rebuilds the whole browser. The session accumulates memory over
// many page visits, so the batch runner also calls this on a schedule.
func (s *Session) Restart(ctx context.Context) error {
	zap.L().Info("restarting browser session")
	s.Stop()
	parent := s.parent
	if parent == nil {
		parent = ctx
	}
	return s.Start(parent)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return chromedp.Run(s.tab, chromedp.Navigate(url))
}

func (s *Session) Location(context.Context) (string, error) {
	var loc string
	if err := chromedp.Run(s.tab, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// ScrollCycle forces a full bottom/top/bottom sweep to trigger the page's
// lazily loaded market data calls.
func (s *Session) ScrollCycle(context.Context) error {
	return chromedp.Run(s.tab,
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Evaluate(`window.scrollTo(0, 0)`, nil),
		chromedp.Sleep(300*time.Millisecond),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(time.Second),
	)
}

// SelectTrim tries to pick the requested trim from a native select element.
// Best effort: the app does not always render one, and a miss is fine.
func (s *Session) SelectTrim(_ context.Context, trim string) bool {
	js := fmt.Sprintf(`(() => {
		const sel = document.querySelector('select');
		if (!sel) return false;
		for (const o of sel.options) {
			if (o.label === %q || o.text === %q) {
				sel.value = o.value;
				sel.dispatchEvent(new Event('change', {bubbles: true}));
				return true;
			}
		}
		return false;
	})()`, trim, trim)

	var ok bool
	if err := chromedp.Run(s.tab, chromedp.Evaluate(js, &ok)); err != nil {
		return false
	}
	return ok
}

// AccessibleLabels snapshots the rendered document and returns its
// aria-label values in document order.
func (s *Session) AccessibleLabels(_ context.Context, limit int) ([]string, error) {
	var outer string
	if err := chromedp.Run(s.tab, chromedp.OuterHTML("html", &outer, chromedp.ByQuery)); err != nil {
		return nil, err
	}
	return AriaLabels(strings.NewReader(outer), limit)
}

// Reset navigates back to the application root after a failed attempt.
func (s *Session) Reset(ctx context.Context) error {
	return s.Navigate(ctx, s.cfg.BaseURL)
}

// Relogin re-authenticates after a session expiry, retrying until it works
// or the context is cancelled.
func (s *Session) Relogin(ctx context.Context) error {
	zap.L().Warn("session expired, re-authenticating")
	s.loggedIn = false
	return s.LoginLoop(ctx, 0)
}

func (s *Session) Responses() []models.CapturedResponse { return s.capture.Responses() }
func (s *Session) ClearResponses()                      { s.capture.Reset() }

// evaluate runs a JS expression on the tab and decodes the result into out.
func (s *Session) evaluate(js string, out interface{}) error {
	return chromedp.Run(s.tab, chromedp.Evaluate(js, out))
}

type point struct {
	Found bool    `json:"found"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// locate finds the first semantics node with the given role and returns its
// center as a click target.
func (s *Session) locate(role string) (Target, bool) {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector('flt-semantics[role=%q]');
		if (!el) return {found: false, x: 0, y: 0};
		const r = el.getBoundingClientRect();
		return {found: true, x: r.x + r.width / 2, y: r.y + r.height / 2};
	})()`, role)

	var p point
	if err := s.evaluate(js, &p); err != nil || !p.Found {
		return Target{Role: role}, false
	}
	return Target{Role: role, X: p.X, Y: p.Y}, true
}

// locateLabeled finds a semantics node by role whose aria-label contains the
// given substring, case-insensitively.
func (s *Session) locateLabeled(role, labelSubstr string) (Target, bool) {
	js := fmt.Sprintf(`(() => {
		const nodes = document.querySelectorAll('flt-semantics[role=%q]');
		for (const el of nodes) {
			const label = (el.getAttribute('aria-label') || '').toLowerCase();
			if (label.includes(%q)) {
				const r = el.getBoundingClientRect();
				return {found: true, x: r.x + r.width / 2, y: r.y + r.height / 2};
			}
		}
		return {found: false, x: 0, y: 0};
	})()`, role, strings.ToLower(labelSubstr))

	var p point
	if err := s.evaluate(js, &p); err != nil || !p.Found {
		return Target{Role: role}, false
	}
	return Target{Role: role, X: p.X, Y: p.Y}, true
}

// paneEstimate falls back to a fractional position inside the app's glass
// pane when the semantics tree does not expose the control.
func (s *Session) paneEstimate(role string, fx, fy float64) Target {
	js := fmt.Sprintf(`(() => {
		const el = document.querySelector('flt-glass-pane');
		const r = el ? el.getBoundingClientRect() : {x: 0, y: 0, width: 1280, height: 800};
		return {found: true, x: r.x + r.width * %f, y: r.y + r.height * %f};
	})()`, fx, fy)

	var p point
	if err := s.evaluate(js, &p); err != nil {
		return Target{Role: role, X: 1280 * fx, Y: 800 * fy}
	}
	return Target{Role: role, X: p.X, Y: p.Y}
}
