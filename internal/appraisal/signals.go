package appraisal

import (
	"encoding/json"
	"strconv"
	"strings"

	"go-appraiser/pkg/models"
)

// SignalSet holds the financial and vehicle inputs recovered from one VIN's
// captured responses. Pointer fields are absent until an endpoint supplies
// them; value fields carry well-defined defaults.
type SignalSet struct {
	USWholesaleValue         *float64
	ExchangeRate             *float64
	FXCushion                float64
	ExportCost               *float64
	TargetGPU                *float64
	CustomsDutyRate          float64
	WeeklyDepreciationFactor float64
	AverageDaysInInventory   int

	VehicleMake  string
	VehicleModel string
	VehicleTrim  string
}

// Extractor recovers a SignalSet from the capture buffer. Host scopes the
// decode endpoint match to the valuation service's own domain.
type Extractor struct {
	Host string
}

// Extract scans the buffer in arrival order. Each response that matches a
// known endpoint overwrites the fields that endpoint owns, so a later hit on
// the same endpoint wins over an earlier one. Arrival order approximates the
// page's load dependency order.
func (e Extractor) Extract(responses []models.CapturedResponse) SignalSet {
	var s SignalSet

	for _, resp := range responses {
		body := resp.Body
		if body == "" || strings.HasPrefix(body, "<!") || strings.HasPrefix(body, "(function") {
			continue
		}

		var data map[string]any
		if err := json.Unmarshal([]byte(body), &data); err != nil {
			continue
		}

		if strings.Contains(resp.URL, "decode") && strings.Contains(resp.URL, e.Host) {
			e.extractDecode(data, &s)
		}
		if strings.Contains(resp.URL, "offer/initial") {
			e.extractOfferInitial(data, &s)
		}
		if strings.Contains(resp.URL, "wholesale_value_trends") {
			e.extractWholesaleTrends(data, &s)
		}
	}

	return s
}

// decode owns the vehicle identity fields and the customs duty rate.
func (e Extractor) extractDecode(data map[string]any, s *SignalSet) {
	if v, ok := data["make"]; ok {
		s.VehicleMake = asString(v)
	}
	if v, ok := data["model"]; ok {
		s.VehicleModel = asString(v)
	}
	if t := asString(data["selected_trim"]); t != "" {
		s.VehicleTrim = t
	} else if t := asString(data["suggested_trim"]); t != "" {
		s.VehicleTrim = t
	}
	// On a failed cast the previously extracted rate survives.
	if v, ok := data["customs_duty_rate"]; ok && v != nil {
		if rate, ok := asFloat(v); ok {
			s.CustomsDutyRate = rate
		}
	}
}

// offer/initial owns the exchange rate, depreciation factor, and the
// fee amounts nested under offer_setup.
func (e Extractor) extractOfferInitial(data map[string]any, s *SignalSet) {
	switch er := data["exchange_rate"].(type) {
	case map[string]any:
		if rate, ok := asFloat(er["to_currency_rate"]); ok {
			s.ExchangeRate = &rate
		}
	default:
		if rate, ok := asFloat(er); ok {
			s.ExchangeRate = &rate
		}
	}

	if v, ok := asFloat(data["current_weekly_depreciation_factor"]); ok {
		s.WeeklyDepreciationFactor = v
	}

	setup, ok := data["offer_setup"].(map[string]any)
	if !ok {
		return
	}
	if v, ok := asFloat(setup["export_cost_amount"]); ok {
		s.ExportCost = &v
	}
	if v, ok := asFloat(setup["target_gpu_amount"]); ok {
		s.TargetGPU = &v
	}
	if v, ok := asFloat(setup["fx_cushion_amount"]); ok {
		s.FXCushion = v
	}
	if v, ok := asFloat(setup["average_days_in_inventory"]); ok {
		s.AverageDaysInInventory = int(v)
	}
}

// wholesale_value_trends owns the US wholesale value: the predicted value
// when present, else the first entry of the wholesale history.
func (e Extractor) extractWholesaleTrends(data map[string]any, s *SignalSet) {
	trends, ok := data["wholesale_value_trends"].(map[string]any)
	if !ok {
		return
	}

	switch pwv := trends["predicted_wholesale_value"].(type) {
	case map[string]any:
		if v, ok := asFloat(pwv["amount"]); ok {
			s.USWholesaleValue = &v
		}
	default:
		if v, ok := asFloat(pwv); ok {
			s.USWholesaleValue = &v
		}
	}

	if s.USWholesaleValue != nil {
		return
	}
	history, ok := trends["wholesale_history"].(map[string]any)
	if !ok {
		return
	}
	values, ok := history["values"].([]any)
	if !ok || len(values) == 0 {
		return
	}
	first, ok := values[0].(map[string]any)
	if !ok {
		return
	}
	if v, ok := asFloat(first["amount"]); ok {
		s.USWholesaleValue = &v
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
