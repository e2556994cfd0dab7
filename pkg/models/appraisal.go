package models

// RowItem is one inbound vehicle row from the inventory front end.
// Everything except VIN and odometer is optional metadata that is passed
// through to the result untouched.
type RowItem struct {
	Vin        string  `json:"vin"`
	Odometer   string  `json:"odometer"`
	Trim       string  `json:"trim,omitempty"`
	ListPrice  float64 `json:"list_price,omitempty"`
	ListingURL string  `json:"listing_url,omitempty"`
	CarfaxLink string  `json:"carfax_link,omitempty"`
	Make       string  `json:"make,omitempty"`
	Model      string  `json:"model,omitempty"`
	Year       string  `json:"year,omitempty"`
}

// CapturedResponse is one network response observed during a page visit.
// The set is owned by the current appraisal attempt and cleared before
// each new attempt.
type CapturedResponse struct {
	URL    string
	Status int
	Body   string
}

// AppraisalResult is the externally visible record produced for one VIN.
// Vehicle metadata comes from the inventory row; SignalTrim and the export
// value come from the valuation page itself.
type AppraisalResult struct {
	Vin            string   `json:"vin"`
	Odometer       string   `json:"odometer"`
	Trim           string   `json:"trim"`
	ListPrice      float64  `json:"list_price"`
	ListingURL     string   `json:"listing_url"`
	CarfaxLink     string   `json:"carfax_link"`
	Make           string   `json:"make"`
	Model          string   `json:"model"`
	Year           string   `json:"year"`
	SignalTrim     string   `json:"signal_trim"`
	ExportValueCAD string   `json:"export_value_cad,omitempty"`
	Profit         *float64 `json:"profit,omitempty"`
	Status         Status   `json:"status"`
	Error          string   `json:"error,omitempty"`
}

// NewResult seeds a result record from an inventory row. It is created once
// per VIN and mutated in place across retries until finalized.
func NewResult(row RowItem) AppraisalResult {
	return AppraisalResult{
		Vin:        row.Vin,
		Odometer:   row.Odometer,
		Trim:       row.Trim,
		ListPrice:  row.ListPrice,
		ListingURL: row.ListingURL,
		CarfaxLink: row.CarfaxLink,
		Make:       row.Make,
		Model:      row.Model,
		Year:       row.Year,
		Status:     StatusPending,
	}
}
