package appraisal

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"go-appraiser/pkg/models"
)

// Driver is the capability "drive a webpage and observe its network
// traffic". The chromedp session implements it; tests fake it.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	ScrollCycle(ctx context.Context) error
	SelectTrim(ctx context.Context, trim string) bool
	AccessibleLabels(ctx context.Context, limit int) ([]string, error)
	// Reset navigates back to the application root after an error.
	Reset(ctx context.Context) error
	// Restart tears the whole browser session down and rebuilds it.
	Restart(ctx context.Context) error
	Relogin(ctx context.Context) error
	Responses() []models.CapturedResponse
	ClearResponses()
}

// Emitter delivers operational log lines to whoever is watching the run.
type Emitter interface {
	Log(level, message string)
}

// Config tunes the per-VIN control loop. The zero value of the wait fields
// is valid (tests run with no settling delays).
type Config struct {
	// BaseURL is the valuation application root, e.g. https://app.signal.vin.
	BaseURL string
	// NavInterval paces navigation attempts toward the upstream service.
	NavInterval time.Duration
	// SettleWait is the pause after navigation before inspecting the page.
	SettleWait time.Duration
	// RetryPause is the pause before recovering from an attempt error.
	RetryPause time.Duration
}

// Orchestrator runs the appraisal state machine for one VIN at a time over
// a single page.
type Orchestrator struct {
	driver    Driver
	events    Emitter
	extractor Extractor
	limiter   *rate.Limiter
	cfg       Config
}

const labelScanLimit = 20

func NewOrchestrator(driver Driver, events Emitter, cfg Config) *Orchestrator {
	interval := cfg.NavInterval
	if interval <= 0 {
		interval = time.Nanosecond
	}
	return &Orchestrator{
		driver:    driver,
		events:    events,
		extractor: Extractor{Host: TargetHost(cfg.BaseURL)},
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
		cfg:       cfg,
	}
}

// TargetHost derives the endpoint-ownership host from the application root:
// the hostname with its app/www prefix stripped, so responses from any
// subdomain of the service still match.
func TargetHost(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return baseURL
	}
	host := u.Hostname()
	host = strings.TrimPrefix(host, "www.")
	host = strings.TrimPrefix(host, "app.")
	return host
}

// Appraise drives the full appraisal for one vehicle and never gives up:
// any failure short of a terminal session expiry is retried until a result
// is produced or ctx is cancelled. The result record is created once and
// mutated in place across retries.
func (o *Orchestrator) Appraise(ctx context.Context, row models.RowItem) models.AppraisalResult {
	result := models.NewResult(row)

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			if result.Error == "" {
				result.Error = ctx.Err().Error()
			}
			return result
		}

		done, err := o.attempt(ctx, row, &result, attempt)
		if done {
			return result
		}
		if err != nil {
			o.events.Log("error", fmt.Sprintf("attempt %d for %s failed: %v", attempt, row.Vin, err))
			result.Status = models.StatusError
			result.Error = err.Error()
			o.recover(ctx)
		}
	}
}

// attempt runs one pass of the state machine. done=true means result is
// final; done=false with a nil error means retry immediately (session was
// re-established), with an error means recover first.
func (o *Orchestrator) attempt(ctx context.Context, row models.RowItem, result *models.AppraisalResult, attempt int) (done bool, err error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return false, err
	}

	o.events.Log("info", fmt.Sprintf("attempt %d for VIN %s", attempt, row.Vin))
	o.driver.ClearResponses()

	if err := o.driver.Navigate(ctx, o.appraisalURL(row)); err != nil {
		return false, err
	}
	o.sleep(ctx, o.cfg.SettleWait)

	location, err := o.driver.Location(ctx)
	if err != nil {
		return false, err
	}

	// An unexpected hop to the login page means the server invalidated our
	// session. Re-authenticate and rerun the same VIN; the retry does not
	// count against anything.
	if strings.Contains(strings.ToLower(location), "login") {
		o.events.Log("warning", "session expired, re-authenticating")
		if err := o.driver.Relogin(ctx); err != nil {
			result.Status = models.StatusSessionExpired
			result.Error = "re-login failed: " + err.Error()
			return true, nil
		}
		o.events.Log("info", "re-login successful, retrying VIN")
		return false, nil
	}

	// The page loads its market data lazily; scrolling forces the calls.
	for i := 0; i < 2; i++ {
		if err := o.driver.ScrollCycle(ctx); err != nil {
			return false, err
		}
	}

	if row.Trim != "" {
		if o.driver.SelectTrim(ctx, row.Trim) {
			o.events.Log("info", "selected trim "+row.Trim)
		}
		o.sleep(ctx, o.cfg.SettleWait/2)
	}

	value, signals := o.extractOnce(ctx)
	if value == "" {
		// One re-attempt after giving the page more time to settle.
		o.sleep(ctx, o.cfg.SettleWait)
		if err := o.driver.ScrollCycle(ctx); err != nil {
			return false, err
		}
		value, signals = o.extractOnce(ctx)
	}

	result.SignalTrim = signals.VehicleTrim
	o.finalize(result, row, value)
	return true, nil
}

// extractOnce runs the extractor → calculator → fallback chain over the
// current capture buffer.
func (o *Orchestrator) extractOnce(ctx context.Context) (string, SignalSet) {
	responses := o.driver.Responses()
	o.events.Log("info", fmt.Sprintf("checking %d captured responses", len(responses)))

	signals := o.extractor.Extract(responses)

	valuation, err := Calculate(signals)
	if err == nil {
		o.events.Log("info", fmt.Sprintf(
			"calculated export value %d CAD (net %.2f USD, fx %.4f, duty %.2f, depreciation %.2f)",
			valuation.ExportValueCAD, valuation.NetUSD, valuation.EffectiveFX,
			valuation.CustomsDuty, valuation.Depreciation))
		return valuation.String(), signals
	}

	o.events.Log("warning", "calculator: "+err.Error()+", falling back to pattern scan")

	if value, field, ok := ScanResponses(responses); ok {
		o.events.Log("info", fmt.Sprintf("pattern scan found %s=%s", field, value))
		return value, signals
	}

	labels, err := o.driver.AccessibleLabels(ctx, labelScanLimit)
	if err != nil {
		zap.L().Debug("accessible label scan failed", zap.Error(err))
		return "", signals
	}
	if value, ok := ScanLabels(labels); ok {
		o.events.Log("info", "accessibility scan found "+value)
		return value, signals
	}

	return "", signals
}

// finalize derives the terminal status from the extracted value and the
// requested list price.
func (o *Orchestrator) finalize(result *models.AppraisalResult, row models.RowItem, value string) {
	if value == "" {
		result.Status = models.StatusNoData
		result.Error = "could not extract export value"
		return
	}

	result.ExportValueCAD = value
	result.Error = ""

	exportNum, err := strconv.ParseFloat(value, 64)
	if err != nil {
		result.Status = models.StatusSuccess
		return
	}

	switch {
	case exportNum > 0 && row.ListPrice > 0:
		profit := exportNum - row.ListPrice
		result.Profit = &profit
		if profit > 0 {
			result.Status = models.StatusProfit
		} else {
			result.Status = models.StatusLoss
		}
	case row.ListPrice == 0:
		result.Status = models.StatusNoPrice
	default:
		result.Status = models.StatusSuccess
	}
}

// recover performs the best-effort page reset after a failed attempt:
// navigate back to the application root, and if even that fails rebuild the
// whole browser session and re-authenticate.
func (o *Orchestrator) recover(ctx context.Context) {
	o.sleep(ctx, o.cfg.RetryPause)

	if err := o.driver.Reset(ctx); err == nil {
		return
	}

	o.events.Log("warning", "page reset failed, restarting browser session")
	if err := o.driver.Restart(ctx); err != nil {
		o.events.Log("error", "browser restart failed: "+err.Error())
		o.sleep(ctx, o.cfg.RetryPause)
		return
	}
	if err := o.driver.Relogin(ctx); err != nil {
		o.events.Log("error", "re-login after restart failed: "+err.Error())
	}
}

func (o *Orchestrator) appraisalURL(row models.RowItem) string {
	q := url.Values{}
	q.Set("vin", row.Vin)
	q.Set("odometer", row.Odometer)
	q.Set("is-km", "true")
	return strings.TrimRight(o.cfg.BaseURL, "/") + "/appraisal/calculate-export?" + q.Encode()
}

func (o *Orchestrator) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
