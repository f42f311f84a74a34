package models

import (
	"encoding/json"
	"time"
)

// RateSnapshot is one upstream quote: every rate is expressed relative to the
// base currency. Amounts and rates stay json.Number end to end so values
// round-trip byte-exact between the upstream API, the cache and the response.
type RateSnapshot struct {
	Amount json.Number            `json:"amount"`
	Base   string                 `json:"base"`
	Date   string                 `json:"date"`
	Rates  map[string]json.Number `json:"rates"`
}

// HistoricalRateSet is a paginated window of dated rate mappings.
// TotalRecords reflects the raw upstream entry count, before date filtering
// and pagination, so totals stay comparable with the upstream source.
type HistoricalRateSet struct {
	Base         string                            `json:"base"`
	StartDate    string                            `json:"start_date"`
	EndDate      string                            `json:"end_date"`
	Page         int                               `json:"page"`
	PageSize     int                               `json:"page_size"`
	TotalRecords int                               `json:"total_records"`
	TotalPages   int                               `json:"total_pages"`
	Rates        map[string]map[string]json.Number `json:"rates"`
}

// Conversion is the audit record written after a successful conversion.
type Conversion struct {
	ID              string      `json:"id" db:"id"`
	FromCurrency    string      `json:"from_currency" db:"from_currency"`
	ToCurrency      string      `json:"to_currency" db:"to_currency"`
	Amount          json.Number `json:"amount" db:"amount"`
	ConvertedAmount json.Number `json:"converted_amount" db:"converted_amount"`
	RateDate        string      `json:"rate_date" db:"rate_date"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
}

// DateLayout is the canonical calendar date format used in cache keys,
// upstream URLs and responses.
const DateLayout = "2006-01-02"
