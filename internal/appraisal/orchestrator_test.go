package appraisal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-appraiser/pkg/models"
)

// fakeDriver scripts the page's behavior per attempt: the orchestrator sees
// the configured location and responses for attempt N on its Nth navigation.
type fakeDriver struct {
	locations    []string // per navigation; last entry repeats
	responses    []models.CapturedResponse
	labels       []string
	navCount     int
	clearCount   int
	reloginCount int
	reloginErr   error
	navErrs      map[int]error // 1-based navigation index -> error
	resetErr     error
	resetCount   int
	restartCount int
	lastNavURL   string
	trimAsked    string
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.navCount++
	d.lastNavURL = url
	if err, ok := d.navErrs[d.navCount]; ok {
		return err
	}
	return nil
}

func (d *fakeDriver) Location(context.Context) (string, error) {
	idx := d.navCount - 1
	if idx >= len(d.locations) {
		idx = len(d.locations) - 1
	}
	if idx < 0 {
		return "", nil
	}
	return d.locations[idx], nil
}

func (d *fakeDriver) ScrollCycle(context.Context) error { return nil }

func (d *fakeDriver) SelectTrim(_ context.Context, trim string) bool {
	d.trimAsked = trim
	return true
}

func (d *fakeDriver) AccessibleLabels(context.Context, int) ([]string, error) {
	return d.labels, nil
}

func (d *fakeDriver) Reset(context.Context) error {
	d.resetCount++
	return d.resetErr
}

func (d *fakeDriver) Restart(context.Context) error {
	d.restartCount++
	return nil
}

func (d *fakeDriver) Relogin(context.Context) error {
	d.reloginCount++
	return d.reloginErr
}

func (d *fakeDriver) Responses() []models.CapturedResponse { return d.responses }
func (d *fakeDriver) ClearResponses()                      { d.clearCount++ }

type nopEmitter struct{}

func (nopEmitter) Log(level, message string) {}

func newTestOrchestrator(d Driver) *Orchestrator {
	return NewOrchestrator(d, nopEmitter{}, Config{BaseURL: "https://app.signal.vin"})
}

func fullSignalResponses() []models.CapturedResponse {
	return []models.CapturedResponse{
		resp("https://api.signal.vin/v1/decode", `{"make":"Honda","model":"Pilot","selected_trim":"TrailSport"}`),
		resp("https://api.signal.vin/v1/offer/initial",
			`{"exchange_rate":{"to_currency_rate":1.35},"offer_setup":{"fx_cushion_amount":0.02}}`),
		resp("https://api.signal.vin/v1/wholesale_value_trends",
			`{"wholesale_value_trends":{"predicted_wholesale_value":{"amount":20000}}}`),
	}
}

func TestAppraiseProfit(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{
		locations: []string{"https://app.signal.vin/appraisal/calculate-export"},
		responses: fullSignalResponses(),
	}
	o := newTestOrchestrator(d)

	result := o.Appraise(context.Background(), models.RowItem{
		Vin: "5FNYF8H59RB000001", Odometer: "42000", Trim: "TrailSport", ListPrice: 24000,
	})

	// 20000 * 1.33 = 26600
	assert.Equal(t, "26600", result.ExportValueCAD)
	assert.Equal(t, models.StatusProfit, result.Status)
	require.NotNil(t, result.Profit)
	assert.InDelta(t, 2600, *result.Profit, 1e-9)
	assert.Equal(t, "TrailSport", result.SignalTrim)
	assert.Equal(t, 1, d.clearCount, "buffer cleared once per attempt")
	assert.Contains(t, d.lastNavURL, "vin=5FNYF8H59RB000001")
	assert.Contains(t, d.lastNavURL, "is-km=true")
	assert.Contains(t, d.lastNavURL, "odometer=42000")
}

func TestAppraiseStatusDerivation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		wholesale  string
		listPrice  float64
		wantStatus models.Status
		wantProfit *float64
	}{
		// Unit exchange rate, so the CAD value equals the wholesale input.
		{"profit", "15000", 12000, models.StatusProfit, fptr(3000)},
		{"loss", "9000", 12000, models.StatusLoss, fptr(-3000)},
		{"no price", "15000", 0, models.StatusNoPrice, nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := &fakeDriver{
				locations: []string{"https://app.signal.vin/appraisal/calculate-export"},
				responses: []models.CapturedResponse{
					resp("https://api.signal.vin/v1/offer/initial", `{"exchange_rate":1.0}`),
					resp("https://api.signal.vin/v1/wholesale_value_trends",
						`{"wholesale_value_trends":{"predicted_wholesale_value":`+tt.wholesale+`}}`),
				},
			}
			o := newTestOrchestrator(d)

			result := o.Appraise(context.Background(), models.RowItem{
				Vin: "VIN", Odometer: "1000", ListPrice: tt.listPrice,
			})

			assert.Equal(t, tt.wantStatus, result.Status)
			if tt.wantProfit == nil {
				assert.Nil(t, result.Profit)
			} else {
				require.NotNil(t, result.Profit)
				assert.InDelta(t, *tt.wantProfit, *result.Profit, 1e-9)
			}
		})
	}
}

func TestAppraiseSessionExpiryRelogin(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{
		// First navigation lands on the login page, second succeeds.
		locations: []string{
			"https://app.signal.vin/login?redirect=appraisal",
			"https://app.signal.vin/appraisal/calculate-export",
		},
		responses: fullSignalResponses(),
	}
	o := newTestOrchestrator(d)

	result := o.Appraise(context.Background(), models.RowItem{Vin: "VIN", Odometer: "1"})

	assert.Equal(t, 1, d.reloginCount, "re-authentication invoked exactly once")
	assert.Equal(t, 2, d.navCount, "same VIN retried after re-login")
	assert.NotEqual(t, models.StatusSessionExpired, result.Status)
	assert.Equal(t, "26600", result.ExportValueCAD)
}

func TestAppraiseSessionExpiryTerminalOnReloginFailure(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{
		locations:  []string{"https://app.signal.vin/login"},
		reloginErr: errors.New("credentials rejected"),
	}
	o := newTestOrchestrator(d)

	result := o.Appraise(context.Background(), models.RowItem{Vin: "VIN", Odometer: "1"})

	assert.Equal(t, models.StatusSessionExpired, result.Status)
	assert.Contains(t, result.Error, "re-login failed")
	assert.Equal(t, 1, d.reloginCount)
	assert.Equal(t, 1, d.navCount, "no further retries once terminal")
}

func TestAppraiseNoDataAfterFallbackChain(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{
		locations: []string{"https://app.signal.vin/appraisal/calculate-export"},
		responses: []models.CapturedResponse{
			// decode only: no wholesale value, nothing for the pattern scan.
			resp("https://api.signal.vin/v1/decode", `{"make":"Honda","suggested_trim":"EX"}`),
		},
		labels: []string{"Loading...", "No data"},
	}
	o := newTestOrchestrator(d)

	result := o.Appraise(context.Background(), models.RowItem{Vin: "VIN", Odometer: "1"})

	assert.Equal(t, models.StatusNoData, result.Status)
	assert.Empty(t, result.ExportValueCAD)
	assert.Equal(t, "could not extract export value", result.Error)
	assert.Equal(t, "EX", result.SignalTrim, "vehicle signals survive a failed extraction")
}

func TestAppraiseFallbackAccessibilityStage(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{
		locations: []string{"https://app.signal.vin/appraisal/calculate-export"},
		labels:    []string{"Export value", "$18,750 CAD"},
	}
	o := newTestOrchestrator(d)

	result := o.Appraise(context.Background(), models.RowItem{Vin: "VIN", Odometer: "1", ListPrice: 20000})

	assert.Equal(t, "18750", result.ExportValueCAD)
	assert.Equal(t, models.StatusLoss, result.Status)
}

func TestAppraiseRetriesAfterTransientError(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{
		locations: []string{
			"https://app.signal.vin/appraisal/calculate-export",
			"https://app.signal.vin/appraisal/calculate-export",
		},
		navErrs:   map[int]error{1: errors.New("net::ERR_CONNECTION_RESET")},
		responses: fullSignalResponses(),
	}
	o := newTestOrchestrator(d)

	result := o.Appraise(context.Background(), models.RowItem{Vin: "VIN", Odometer: "1"})

	assert.Equal(t, 2, d.navCount)
	assert.Equal(t, 1, d.resetCount, "page reset between attempts")
	assert.Equal(t, "26600", result.ExportValueCAD)
	assert.Empty(t, result.Error, "transient error cleared once an attempt succeeds")
}

func TestAppraiseRestartWhenResetFails(t *testing.T) {
	t.Parallel()

	d := &fakeDriver{
		locations: []string{
			"https://app.signal.vin/appraisal/calculate-export",
			"https://app.signal.vin/appraisal/calculate-export",
		},
		navErrs:   map[int]error{1: errors.New("target crashed")},
		resetErr:  errors.New("browser gone"),
		responses: fullSignalResponses(),
	}
	o := newTestOrchestrator(d)

	result := o.Appraise(context.Background(), models.RowItem{Vin: "VIN", Odometer: "1"})

	assert.Equal(t, 1, d.restartCount)
	assert.Equal(t, 1, d.reloginCount, "relogin follows a full restart")
	assert.Equal(t, "26600", result.ExportValueCAD)
}

func TestAppraiseHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := &fakeDriver{}
	o := newTestOrchestrator(d)

	result := o.Appraise(ctx, models.RowItem{Vin: "VIN", Odometer: "1"})

	assert.Equal(t, models.StatusPending, result.Status)
	assert.NotEmpty(t, result.Error)
	assert.Zero(t, d.navCount)
}
