package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"exchange-gateway/internal/cache"
	"exchange-gateway/internal/metrics"
	"exchange-gateway/internal/models"
	"exchange-gateway/internal/provider"
)

var (
	ErrInvalidCurrency   = errors.New("invalid currency code")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidDateRange  = errors.New("invalid date range")
	ErrInvalidPagination = errors.New("invalid pagination")
)

const (
	latestTTL     = 1 * time.Hour
	conversionTTL = 1 * time.Hour
	historicalTTL = 24 * time.Hour

	maxPageSize = 100
)

var currencyCodePattern = regexp.MustCompile(`^[A-Z]{3}$`)

// AuditLog records fetched snapshots and performed conversions. Write
// failures are logged and never fail the request.
type AuditLog interface {
	SaveSnapshot(ctx context.Context, source string, snap *models.RateSnapshot) error
	SaveConversion(ctx context.Context, conversion *models.Conversion) error
}

// ExchangeService runs each query through the same pipeline: validate,
// build a deterministic cache key, check the cache, on miss resolve the
// active provider and fetch, store the result, return it. Provider errors
// are never cached; cache infrastructure errors propagate unchanged.
type ExchangeService struct {
	factory      *provider.Factory
	providerName string
	cache        cache.Store
	audit        AuditLog
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

func NewExchangeService(factory *provider.Factory, providerName string, store cache.Store, audit AuditLog, m *metrics.Metrics, logger *zap.Logger) *ExchangeService {
	return &ExchangeService{
		factory:      factory,
		providerName: providerName,
		cache:        store,
		audit:        audit,
		metrics:      m,
		logger:       logger,
	}
}

func (s *ExchangeService) GetLatestRates(ctx context.Context, base string) (*models.RateSnapshot, error) {
	if err := validateCurrency(base); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("latest:%s", base)
	snap, err := s.cachedSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		return snap, nil
	}

	p, err := s.factory.CreateProvider(s.providerName)
	if err != nil {
		return nil, err
	}

	snap, err = p.GetLatestRates(ctx, base)
	if err != nil {
		return nil, err
	}

	if err := s.storeSnapshot(ctx, key, snap, latestTTL); err != nil {
		return nil, err
	}

	if err := s.audit.SaveSnapshot(ctx, p.Name(), snap); err != nil {
		s.logger.Error("failed to save rate snapshot", zap.Error(err), zap.String("base", base))
	}

	return snap, nil
}

func (s *ExchangeService) Convert(ctx context.Context, from, to string, amount json.Number) (*models.RateSnapshot, error) {
	if err := validateCurrency(from); err != nil {
		return nil, err
	}
	if err := validateCurrency(to); err != nil {
		return nil, err
	}
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("convert:%s:%s:%s", from, to, amount.String())
	snap, err := s.cachedSnapshot(ctx, key)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		return snap, nil
	}

	p, err := s.factory.CreateProvider(s.providerName)
	if err != nil {
		return nil, err
	}

	snap, err = p.Convert(ctx, from, to, amount)
	if err != nil {
		return nil, err
	}

	if err := s.storeSnapshot(ctx, key, snap, conversionTTL); err != nil {
		return nil, err
	}

	if converted, ok := snap.Rates[to]; ok {
		conversion := &models.Conversion{
			ID:              uuid.NewString(),
			FromCurrency:    from,
			ToCurrency:      to,
			Amount:          amount,
			ConvertedAmount: converted,
			RateDate:        snap.Date,
			CreatedAt:       time.Now().UTC(),
		}
		if err := s.audit.SaveConversion(ctx, conversion); err != nil {
			s.logger.Error("failed to save conversion", zap.Error(err), zap.String("id", conversion.ID))
		}
	}

	return snap, nil
}

func (s *ExchangeService) GetHistoricalRates(ctx context.Context, base string, start, end time.Time, page, pageSize int) (*models.HistoricalRateSet, error) {
	if err := validateCurrency(base); err != nil {
		return nil, err
	}
	if err := validateDateRange(start, end); err != nil {
		return nil, err
	}
	if err := validatePagination(page, pageSize); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("history:%s:%s:%s:%d:%d",
		base,
		start.Format(models.DateLayout),
		end.Format(models.DateLayout),
		page,
		pageSize,
	)

	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		var set models.HistoricalRateSet
		if err := json.Unmarshal(data, &set); err == nil {
			s.metrics.CacheHitsTotal.Inc()
			return &set, nil
		}
		s.logger.Warn("discarding malformed cache entry", zap.String("key", key))
	}
	s.metrics.CacheMissesTotal.Inc()

	p, err := s.factory.CreateProvider(s.providerName)
	if err != nil {
		return nil, err
	}

	set, err := p.GetHistoricalRates(ctx, base, start, end, page, pageSize)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(set)
	if err != nil {
		return nil, fmt.Errorf("marshaling historical rates: %w", err)
	}
	if err := s.cache.Set(ctx, key, encoded, historicalTTL); err != nil {
		return nil, err
	}

	return set, nil
}

// SupportedCurrencies lists the currencies the gateway serves, with the
// permanently excluded codes already removed.
func (s *ExchangeService) SupportedCurrencies() []string {
	all := []string{
		"USD", "EUR", "GBP", "JPY", "AUD", "CAD", "CHF", "CNY",
		"SEK", "NZD", "MXN", "SGD", "HKD", "NOK", "KRW", "TRY",
		"INR", "BRL", "ZAR", "DKK", "PLN", "THB", "IDR",
		"HUF", "CZK", "ILS", "PHP", "MYR", "RON", "BGN", "ISK",
	}

	supported := make([]string, 0, len(all))
	for _, code := range all {
		if provider.IsExcluded(code) {
			continue
		}
		supported = append(supported, code)
	}
	sort.Strings(supported)
	return supported
}

// cachedSnapshot returns (nil, nil) on a miss. Store failures propagate;
// the pipeline never silently degrades to skipping the cache.
func (s *ExchangeService) cachedSnapshot(ctx context.Context, key string) (*models.RateSnapshot, error) {
	data, found, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !found {
		s.metrics.CacheMissesTotal.Inc()
		return nil, nil
	}

	var snap models.RateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.logger.Warn("discarding malformed cache entry", zap.String("key", key))
		s.metrics.CacheMissesTotal.Inc()
		return nil, nil
	}
	s.metrics.CacheHitsTotal.Inc()
	return &snap, nil
}

func (s *ExchangeService) storeSnapshot(ctx context.Context, key string, snap *models.RateSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	return s.cache.Set(ctx, key, data, ttl)
}

func validateCurrency(code string) error {
	if !currencyCodePattern.MatchString(code) {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return nil
}

func validateAmount(amount json.Number) error {
	value, err := strconv.ParseFloat(amount.String(), 64)
	if err != nil || value <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidAmount, amount.String())
	}
	return nil
}

func validateDateRange(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidDateRange)
	}
	if start.After(end) {
		return fmt.Errorf("%w: start date %s is after end date %s",
			ErrInvalidDateRange, start.Format(models.DateLayout), end.Format(models.DateLayout))
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if end.After(today) {
		return fmt.Errorf("%w: end date %s is in the future", ErrInvalidDateRange, end.Format(models.DateLayout))
	}
	return nil
}

func validatePagination(page, pageSize int) error {
	if page < 1 {
		return fmt.Errorf("%w: page must be at least 1", ErrInvalidPagination)
	}
	if pageSize < 1 || pageSize > maxPageSize {
		return fmt.Errorf("%w: page size must be between 1 and %d", ErrInvalidPagination, maxPageSize)
	}
	return nil
}
