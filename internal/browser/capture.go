package browser

import (
	"context"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"go-appraiser/pkg/models"
)

// Capture accumulates every network response the page produces that could
// carry valuation data. Bodies are fetched best-effort once loading
// finishes; a response whose body cannot be read is silently skipped so the
// surrounding page load is never disturbed.
type Capture struct {
	host string

	mu        sync.Mutex
	pending   map[network.RequestID]pendingResponse
	responses []models.CapturedResponse
}

type pendingResponse struct {
	url    string
	status int
}

func NewCapture(host string) *Capture {
	return &Capture{
		host:    host,
		pending: make(map[network.RequestID]pendingResponse),
	}
}

// Wants reports whether a response URL is worth keeping: anything from the
// valuation service's domain, plus anything mentioning "export" regardless
// of origin. Comparison is case-insensitive.
func (c *Capture) Wants(url string) bool {
	lower := strings.ToLower(url)
	return strings.Contains(lower, strings.ToLower(c.host)) || strings.Contains(lower, "export")
}

// Attach registers the CDP listeners on a chromedp target. Response headers
// arrive before the body is readable, so the URL and status are parked until
// the matching loadingFinished event fires.
func (c *Capture) Attach(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *network.EventResponseReceived:
			if !c.Wants(ev.Response.URL) {
				return
			}
			c.mu.Lock()
			c.pending[ev.RequestID] = pendingResponse{
				url:    ev.Response.URL,
				status: int(ev.Response.Status),
			}
			c.mu.Unlock()

		case *network.EventLoadingFinished:
			c.mu.Lock()
			p, ok := c.pending[ev.RequestID]
			delete(c.pending, ev.RequestID)
			c.mu.Unlock()
			if !ok {
				return
			}
			// Body fetch must not block the event listener goroutine.
			go c.fetchBody(ctx, ev.RequestID, p)

		case *network.EventLoadingFailed:
			c.mu.Lock()
			delete(c.pending, ev.RequestID)
			c.mu.Unlock()
		}
	})
}

func (c *Capture) fetchBody(ctx context.Context, id network.RequestID, p pendingResponse) {
	cc := chromedp.FromContext(ctx)
	if cc == nil || cc.Target == nil {
		return
	}
	body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(ctx, cc.Target))
	if err != nil {
		// Already consumed, binary, or the tab went away. Skip quietly.
		zap.L().Debug("response body unavailable", zap.String("url", p.url), zap.Error(err))
		return
	}
	c.Add(models.CapturedResponse{URL: p.url, Status: p.status, Body: string(body)})
}

func (c *Capture) Add(resp models.CapturedResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, resp)
}

// Responses returns a snapshot of the buffer in arrival order.
func (c *Capture) Responses() []models.CapturedResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.CapturedResponse, len(c.responses))
	copy(out, c.responses)
	return out
}

// Reset clears the buffer at the start of a new appraisal attempt.
func (c *Capture) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = c.responses[:0]
	c.pending = make(map[network.RequestID]pendingResponse)
}
