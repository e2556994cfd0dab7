package appraisal

import (
	"errors"
	"math"
	"strconv"
)

// ErrInsufficientData means the wholesale value or exchange rate never
// surfaced from the captured responses, so no export value can be computed.
var ErrInsufficientData = errors.New("insufficient data: wholesale value or exchange rate missing")

// Valuation is the breakdown of one export-value computation. All monetary
// terms are USD except ExportValueCAD.
type Valuation struct {
	EffectiveFX    float64
	CustomsDuty    float64
	Weeks          float64
	Depreciation   float64
	NetUSD         float64
	ExportValueCAD int64
}

// Calculate computes the export value from a recovered signal set:
//
//	net_usd = wholesale - export_cost - target_gpu - customs_duty - depreciation
//	export_value_cad = round(net_usd * (exchange_rate - fx_cushion))
//
// The final amount rounds half to even, matching the valuation service's own
// arithmetic. Negative results are valid and propagate as-is.
//
// Both the wholesale value and the exchange rate must be present; zero is an
// acceptable value for either.
func Calculate(s SignalSet) (Valuation, error) {
	if s.USWholesaleValue == nil || s.ExchangeRate == nil {
		return Valuation{}, ErrInsufficientData
	}

	wholesale := *s.USWholesaleValue

	var v Valuation
	v.EffectiveFX = *s.ExchangeRate - s.FXCushion
	v.CustomsDuty = wholesale * s.CustomsDutyRate

	if s.AverageDaysInInventory > 0 {
		v.Weeks = float64(s.AverageDaysInInventory) / 7
	}
	// The weekly factor arrives as percent-per-week (0.15 means 0.15%/week).
	depreciationRate := 0.0
	if s.WeeklyDepreciationFactor > 0 {
		depreciationRate = s.WeeklyDepreciationFactor / 100
	}
	v.Depreciation = wholesale * depreciationRate * v.Weeks

	v.NetUSD = wholesale - deref(s.ExportCost) - deref(s.TargetGPU) - v.CustomsDuty - v.Depreciation
	v.ExportValueCAD = int64(math.RoundToEven(v.NetUSD * v.EffectiveFX))

	return v, nil
}

// String renders the CAD amount the way the rest of the pipeline carries it.
func (v Valuation) String() string {
	return strconv.FormatInt(v.ExportValueCAD, 10)
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
