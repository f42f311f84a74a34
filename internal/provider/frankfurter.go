package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"go.uber.org/zap"

	"exchange-gateway/internal/models"
)

const frankfurterName = "frankfurter"

// Frankfurter wraps the frankfurter.app REST API. All amounts and rates are
// passed through as json.Number, never converted to float.
type Frankfurter struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewFrankfurter(baseURL string, timeout time.Duration, logger *zap.Logger) *Frankfurter {
	return &Frankfurter{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (f *Frankfurter) Name() string {
	return frankfurterName
}

type latestResponse struct {
	Amount json.Number            `json:"amount"`
	Base   string                 `json:"base"`
	Date   string                 `json:"date"`
	Rates  map[string]json.Number `json:"rates"`
}

type rangeResponse struct {
	Amount    json.Number                       `json:"amount"`
	Base      string                            `json:"base"`
	StartDate string                            `json:"start_date"`
	EndDate   string                            `json:"end_date"`
	Rates     map[string]map[string]json.Number `json:"rates"`
}

func (f *Frankfurter) GetLatestRates(ctx context.Context, base string) (*models.RateSnapshot, error) {
	params := url.Values{}
	params.Set("from", base)

	var resp latestResponse
	if err := f.get(ctx, "/latest", params, &resp); err != nil {
		return nil, err
	}
	if resp.Rates == nil {
		return nil, fmt.Errorf("%w: empty rates in latest response", ErrUpstream)
	}

	return &models.RateSnapshot{
		Amount: resp.Amount,
		Base:   resp.Base,
		Date:   resp.Date,
		Rates:  stripExcluded(resp.Rates),
	}, nil
}

func (f *Frankfurter) Convert(ctx context.Context, from, to string, amount json.Number) (*models.RateSnapshot, error) {
	params := url.Values{}
	params.Set("from", from)
	params.Set("to", to)
	params.Set("amount", amount.String())

	var resp latestResponse
	if err := f.get(ctx, "/latest", params, &resp); err != nil {
		return nil, err
	}
	if resp.Rates == nil {
		return nil, fmt.Errorf("%w: empty rates in conversion response", ErrUpstream)
	}

	return &models.RateSnapshot{
		Amount: resp.Amount,
		Base:   resp.Base,
		Date:   resp.Date,
		Rates:  stripExcluded(resp.Rates),
	}, nil
}

func (f *Frankfurter) GetHistoricalRates(ctx context.Context, base string, start, end time.Time, page, pageSize int) (*models.HistoricalRateSet, error) {
	params := url.Values{}
	params.Set("from", base)
	path := fmt.Sprintf("/%s..%s", start.Format(models.DateLayout), end.Format(models.DateLayout))

	var resp rangeResponse
	if err := f.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}
	if resp.Rates == nil {
		return nil, fmt.Errorf("%w: empty rates in range response", ErrUpstream)
	}

	// Totals reflect the raw upstream series, not the filtered page.
	totalRecords := len(resp.Rates)

	dates := make([]string, 0, len(resp.Rates))
	startStr := start.Format(models.DateLayout)
	endStr := end.Format(models.DateLayout)
	for date := range resp.Rates {
		if date >= startStr && date <= endStr {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)

	offset := (page - 1) * pageSize
	if offset > len(dates) {
		offset = len(dates)
	}
	limit := offset + pageSize
	if limit > len(dates) {
		limit = len(dates)
	}

	rates := make(map[string]map[string]json.Number, limit-offset)
	for _, date := range dates[offset:limit] {
		rates[date] = stripExcluded(resp.Rates[date])
	}

	return &models.HistoricalRateSet{
		Base:         resp.Base,
		StartDate:    startStr,
		EndDate:      endStr,
		Page:         page,
		PageSize:     pageSize,
		TotalRecords: totalRecords,
		TotalPages:   (totalRecords + pageSize - 1) / pageSize,
		Rates:        rates,
	}, nil
}

func (f *Frankfurter) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	reqURL := fmt.Sprintf("%s%s?%s", f.baseURL, path, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrUpstream, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		// Surface cancellation as its own kind, not an upstream fault.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		f.logger.Warn("upstream returned non-OK status",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	if err := decoder.Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUpstream, err)
	}

	return nil
}

func stripExcluded(rates map[string]json.Number) map[string]json.Number {
	filtered := make(map[string]json.Number, len(rates))
	for code, rate := range rates {
		if IsExcluded(code) {
			continue
		}
		filtered[code] = rate
	}
	return filtered
}
