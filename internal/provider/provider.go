package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"exchange-gateway/internal/models"
)

var (
	// ErrUnsupportedProvider is returned by the factory for unknown names.
	ErrUnsupportedProvider = errors.New("unsupported exchange rate provider")

	// ErrUpstream is returned when the upstream source fails or answers
	// with an absent or unparseable payload.
	ErrUpstream = errors.New("upstream provider failure")
)

// excluded currencies are stripped from every returned rates mapping.
var excluded = map[string]struct{}{
	"TRY": {},
	"PLN": {},
	"THB": {},
	"MXN": {},
}

// IsExcluded reports whether a currency code is permanently filtered
// from all outputs.
func IsExcluded(code string) bool {
	_, ok := excluded[code]
	return ok
}

// Provider fetches exchange rates from a single upstream source.
type Provider interface {
	// GetLatestRates fetches the current rates for a base currency.
	GetLatestRates(ctx context.Context, base string) (*models.RateSnapshot, error)

	// Convert quotes an amount of one currency in another.
	Convert(ctx context.Context, from, to string, amount json.Number) (*models.RateSnapshot, error)

	// GetHistoricalRates fetches a dated rate series for [start, end] and
	// returns one page of it, sorted ascending by date.
	GetHistoricalRates(ctx context.Context, base string, start, end time.Time, page, pageSize int) (*models.HistoricalRateSet, error)

	// Name identifies the provider in the factory registry and in logs.
	Name() string
}

// Factory resolves a provider name to a concrete implementation. The
// registry is fixed at construction; there is no runtime registration.
type Factory struct {
	providers map[string]Provider
}

func NewFactory(providers ...Provider) *Factory {
	registry := make(map[string]Provider, len(providers))
	for _, p := range providers {
		registry[strings.ToLower(p.Name())] = p
	}
	return &Factory{providers: registry}
}

// CreateProvider returns the provider registered under name,
// matched case-insensitively.
func (f *Factory) CreateProvider(name string) (Provider, error) {
	p, ok := f.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, name)
	}
	return p, nil
}
