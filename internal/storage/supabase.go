package storage

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"go-appraiser/pkg/models"
)

// Client talks to the Supabase REST interface. Rows are keyed by VIN; there
// is no transactional grouping, each appraisal result is one independent
// write.
type Client struct {
	http         *resty.Client
	resultsTable string
}

const fetchBatchSize = 1000

func NewClient(baseURL, apiKey, resultsTable string) *Client {
	http := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/") + "/rest/v1").
		SetHeader("apikey", apiKey).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Prefer", "return=representation").
		SetTimeout(30 * time.Second)

	return &Client{http: http, resultsTable: resultsTable}
}

// FetchRows pages through an inventory table until a short batch signals
// the end.
func (c *Client) FetchRows(ctx context.Context, table string) ([]models.RowItem, error) {
	var all []models.RowItem

	for offset := 0; ; offset += fetchBatchSize {
		var batch []models.RowItem
		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"select": "*",
				"limit":  strconv.Itoa(fetchBatchSize),
				"offset": strconv.Itoa(offset),
			}).
			SetResult(&batch).
			Get("/" + table)
		if err != nil {
			return nil, eris.Wrapf(err, "storage: fetch %s", table)
		}
		if resp.IsError() {
			return nil, eris.Errorf("storage: fetch %s: %s: %s", table, resp.Status(), resp.String())
		}

		all = append(all, batch...)
		if len(batch) < fetchBatchSize {
			return all, nil
		}
	}
}

// UpdateRow patches a single column of an inventory row, matched by VIN.
func (c *Client) UpdateRow(ctx context.Context, table, vinColumn, column, vin, value string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam(vinColumn, "eq."+vin).
		SetBody(map[string]string{column: value}).
		Patch("/" + table)
	if err != nil {
		return eris.Wrapf(err, "storage: update %s", vin)
	}
	if resp.IsError() {
		return eris.Errorf("storage: update %s: %s", vin, resp.Status())
	}
	return nil
}

// SaveResult writes one finalized appraisal to the results table. Failures
// are reported to the caller for logging only; they never stop the batch.
func (c *Client) SaveResult(ctx context.Context, result models.AppraisalResult) error {
	row := ResultRow(result)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(row).
		Post("/" + c.resultsTable)
	if err != nil {
		return eris.Wrapf(err, "storage: save result for %s", result.Vin)
	}
	if resp.IsError() {
		return eris.Errorf("storage: save result for %s: %s: %s", result.Vin, resp.Status(), resp.String())
	}

	zap.L().Info("appraisal result saved",
		zap.String("vin", result.Vin),
		zap.String("status", result.Status.String()))
	return nil
}

// Row is the results-table schema. Make, model, and the links come from the
// inventory; trim and the export value come from the valuation page.
type Row struct {
	Vin         string   `json:"vin"`
	Kilometers  string   `json:"kilometers"`
	ListingLink string   `json:"listing_link"`
	CarfaxLink  string   `json:"carfax_link"`
	Make        string   `json:"make"`
	Model       string   `json:"model"`
	Trim        string   `json:"trim"`
	Price       float64  `json:"price"`
	ExportValue *float64 `json:"export_value"`
	Profit      *float64 `json:"profit"`
	Status      string   `json:"status"`
}

// ResultRow maps an appraisal result onto the row schema. The mapping is
// deterministic: the same result always produces the same row.
func ResultRow(result models.AppraisalResult) Row {
	return Row{
		Vin:         result.Vin,
		Kilometers:  result.Odometer,
		ListingLink: result.ListingURL,
		CarfaxLink:  result.CarfaxLink,
		Make:        result.Make,
		Model:       result.Model,
		Trim:        result.SignalTrim,
		Price:       result.ListPrice,
		ExportValue: parseAmount(result.ExportValueCAD),
		Profit:      result.Profit,
		Status:      result.Status.String(),
	}
}

var nonNumeric = regexp.MustCompile(`[^\d.-]`)

// parseAmount turns a formatted currency string into a number, or nil when
// it does not parse. "$24,538" and "24538" both become 24538.
func parseAmount(s string) *float64 {
	cleaned := nonNumeric.ReplaceAllString(s, "")
	if cleaned == "" {
		return nil
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &v
}

// FormatCurrency renders an amount for log lines: $1,234 or -$1,234.
func FormatCurrency(amount float64) string {
	neg := amount < 0
	if neg {
		amount = -amount
	}
	s := groupThousands(strconv.FormatFloat(amount, 'f', 0, 64))
	if neg {
		return "-$" + s
	}
	return "$" + s
}

func groupThousands(s string) string {
	if len(s) <= 3 {
		return s
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	return fmt.Sprintf("%s,%s", s, strings.Join(parts, ","))
}
