package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"exchange-gateway/internal/cache"
	"exchange-gateway/internal/metrics"
	"exchange-gateway/internal/models"
	"exchange-gateway/internal/provider"
)

type mockProvider struct {
	name         string
	latestCalls  int
	convertCalls int
	historyCalls int

	latestFunc  func(ctx context.Context, base string) (*models.RateSnapshot, error)
	convertFunc func(ctx context.Context, from, to string, amount json.Number) (*models.RateSnapshot, error)
	historyFunc func(ctx context.Context, base string, start, end time.Time, page, pageSize int) (*models.HistoricalRateSet, error)
}

func (m *mockProvider) Name() string {
	if m.name == "" {
		return "mock"
	}
	return m.name
}

func (m *mockProvider) GetLatestRates(ctx context.Context, base string) (*models.RateSnapshot, error) {
	m.latestCalls++
	return m.latestFunc(ctx, base)
}

func (m *mockProvider) Convert(ctx context.Context, from, to string, amount json.Number) (*models.RateSnapshot, error) {
	m.convertCalls++
	return m.convertFunc(ctx, from, to, amount)
}

func (m *mockProvider) GetHistoricalRates(ctx context.Context, base string, start, end time.Time, page, pageSize int) (*models.HistoricalRateSet, error) {
	m.historyCalls++
	return m.historyFunc(ctx, base, start, end, page, pageSize)
}

// fakeStore is an in-memory cache.Store recording keys and TTLs.
type fakeStore struct {
	data     map[string][]byte
	ttls     map[string]time.Duration
	getCalls int
	setCalls int

	getErr error
	setErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (s *fakeStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.getCalls++
	if s.getErr != nil {
		return nil, false, s.getErr
	}
	data, ok := s.data[key]
	return data, ok, nil
}

func (s *fakeStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.setCalls++
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	s.ttls[key] = ttl
	return nil
}

type mockAudit struct {
	snapshots   []*models.RateSnapshot
	conversions []*models.Conversion
	err         error
}

func (m *mockAudit) SaveSnapshot(ctx context.Context, source string, snap *models.RateSnapshot) error {
	m.snapshots = append(m.snapshots, snap)
	return m.err
}

func (m *mockAudit) SaveConversion(ctx context.Context, conversion *models.Conversion) error {
	m.conversions = append(m.conversions, conversion)
	return m.err
}

func newTestService(p provider.Provider, store cache.Store, providerName string) (*ExchangeService, *mockAudit) {
	audit := &mockAudit{}
	svc := NewExchangeService(
		provider.NewFactory(p),
		providerName,
		store,
		audit,
		metrics.New(prometheus.NewRegistry()),
		zap.NewNop(),
	)
	return svc, audit
}

func eurSnapshot() *models.RateSnapshot {
	return &models.RateSnapshot{
		Amount: json.Number("1"),
		Base:   "EUR",
		Date:   "2025-08-29",
		Rates: map[string]json.Number{
			"USD": json.Number("1.0857"),
			"GBP": json.Number("0.8412"),
		},
	}
}

func TestGetLatestRates(t *testing.T) {
	t.Run("cache miss fetches once then serves from cache", func(t *testing.T) {
		store := newFakeStore()
		p := &mockProvider{
			latestFunc: func(ctx context.Context, base string) (*models.RateSnapshot, error) {
				return eurSnapshot(), nil
			},
		}
		svc, audit := newTestService(p, store, "mock")

		first, err := svc.GetLatestRates(context.Background(), "EUR")
		if err != nil {
			t.Fatalf("GetLatestRates() error = %v", err)
		}
		second, err := svc.GetLatestRates(context.Background(), "EUR")
		if err != nil {
			t.Fatalf("GetLatestRates() second call error = %v", err)
		}

		if p.latestCalls != 1 {
			t.Errorf("provider called %d times, want 1", p.latestCalls)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("cached result differs from fetched result:\n%+v\n%+v", first, second)
		}
		if ttl := store.ttls["latest:EUR"]; ttl != time.Hour {
			t.Errorf("latest:EUR cached with ttl %v, want 1h", ttl)
		}
		if len(audit.snapshots) != 1 {
			t.Errorf("audited %d snapshots, want 1", len(audit.snapshots))
		}
	})

	t.Run("invalid currency fails before cache and provider", func(t *testing.T) {
		for _, base := range []string{"eur", "EURO", "E1R", ""} {
			store := newFakeStore()
			p := &mockProvider{}
			svc, _ := newTestService(p, store, "mock")

			_, err := svc.GetLatestRates(context.Background(), base)
			if !errors.Is(err, ErrInvalidCurrency) {
				t.Errorf("GetLatestRates(%q) error = %v, want ErrInvalidCurrency", base, err)
			}
			if store.getCalls != 0 || p.latestCalls != 0 {
				t.Errorf("GetLatestRates(%q) touched cache or provider", base)
			}
		}
	})

	t.Run("provider error propagates and nothing is cached", func(t *testing.T) {
		store := newFakeStore()
		p := &mockProvider{
			latestFunc: func(ctx context.Context, base string) (*models.RateSnapshot, error) {
				return nil, fmt.Errorf("%w: status 503", provider.ErrUpstream)
			},
		}
		svc, _ := newTestService(p, store, "mock")

		_, err := svc.GetLatestRates(context.Background(), "EUR")
		if !errors.Is(err, provider.ErrUpstream) {
			t.Errorf("error = %v, want ErrUpstream", err)
		}
		if store.setCalls != 0 {
			t.Error("result cached despite provider error")
		}
	})

	t.Run("cache read failure propagates without reaching provider", func(t *testing.T) {
		store := newFakeStore()
		store.getErr = fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
		p := &mockProvider{}
		svc, _ := newTestService(p, store, "mock")

		_, err := svc.GetLatestRates(context.Background(), "EUR")
		if !errors.Is(err, cache.ErrUnavailable) {
			t.Errorf("error = %v, want ErrUnavailable", err)
		}
		if p.latestCalls != 0 {
			t.Error("provider called despite cache failure")
		}
	})

	t.Run("cache write failure propagates", func(t *testing.T) {
		store := newFakeStore()
		store.setErr = fmt.Errorf("%w: connection refused", cache.ErrUnavailable)
		p := &mockProvider{
			latestFunc: func(ctx context.Context, base string) (*models.RateSnapshot, error) {
				return eurSnapshot(), nil
			},
		}
		svc, _ := newTestService(p, store, "mock")

		_, err := svc.GetLatestRates(context.Background(), "EUR")
		if !errors.Is(err, cache.ErrUnavailable) {
			t.Errorf("error = %v, want ErrUnavailable", err)
		}
	})

	t.Run("unknown provider name fails without upstream call", func(t *testing.T) {
		store := newFakeStore()
		p := &mockProvider{}
		svc, _ := newTestService(p, store, "Foo")

		_, err := svc.GetLatestRates(context.Background(), "EUR")
		if !errors.Is(err, provider.ErrUnsupportedProvider) {
			t.Errorf("error = %v, want ErrUnsupportedProvider", err)
		}
		if p.latestCalls != 0 {
			t.Error("provider called despite unsupported name")
		}
	})
}

func TestConvert(t *testing.T) {
	t.Run("cache miss calls provider once and caches under deterministic key", func(t *testing.T) {
		store := newFakeStore()
		p := &mockProvider{
			convertFunc: func(ctx context.Context, from, to string, amount json.Number) (*models.RateSnapshot, error) {
				if from != "EUR" || to != "USD" || amount.String() != "100" {
					t.Errorf("provider called with (%s, %s, %s)", from, to, amount)
				}
				return &models.RateSnapshot{
					Amount: json.Number("100"),
					Base:   "EUR",
					Date:   "2025-08-29",
					Rates:  map[string]json.Number{"USD": json.Number("108.57")},
				}, nil
			},
		}
		svc, audit := newTestService(p, store, "mock")

		snap, err := svc.Convert(context.Background(), "EUR", "USD", json.Number("100"))
		if err != nil {
			t.Fatalf("Convert() error = %v", err)
		}

		if p.convertCalls != 1 {
			t.Errorf("provider called %d times, want 1", p.convertCalls)
		}
		if _, ok := store.data["convert:EUR:USD:100"]; !ok {
			t.Errorf("expected cache entry under convert:EUR:USD:100, keys: %v", keys(store.data))
		}
		if ttl := store.ttls["convert:EUR:USD:100"]; ttl != time.Hour {
			t.Errorf("cached with ttl %v, want 1h", ttl)
		}
		if got := snap.Rates["USD"].String(); got != "108.57" {
			t.Errorf("converted amount = %q, want 108.57", got)
		}
		if len(audit.conversions) != 1 {
			t.Fatalf("audited %d conversions, want 1", len(audit.conversions))
		}
		if got := audit.conversions[0].ConvertedAmount.String(); got != "108.57" {
			t.Errorf("audited converted amount = %q, want 108.57", got)
		}
	})

	t.Run("high-precision amount round-trips through the key and provider", func(t *testing.T) {
		const amount = "100.123456789012345678"
		store := newFakeStore()
		p := &mockProvider{
			convertFunc: func(ctx context.Context, from, to string, got json.Number) (*models.RateSnapshot, error) {
				if got.String() != amount {
					t.Errorf("amount = %q, want %q", got, amount)
				}
				return eurSnapshot(), nil
			},
		}
		svc, _ := newTestService(p, store, "mock")

		if _, err := svc.Convert(context.Background(), "EUR", "USD", json.Number(amount)); err != nil {
			t.Fatalf("Convert() error = %v", err)
		}
		if _, ok := store.data["convert:EUR:USD:"+amount]; !ok {
			t.Errorf("expected cache entry under convert:EUR:USD:%s", amount)
		}
	})

	t.Run("invalid amounts fail before cache and provider", func(t *testing.T) {
		for _, amount := range []string{"0", "-5", "abc", ""} {
			store := newFakeStore()
			p := &mockProvider{}
			svc, _ := newTestService(p, store, "mock")

			_, err := svc.Convert(context.Background(), "EUR", "USD", json.Number(amount))
			if !errors.Is(err, ErrInvalidAmount) {
				t.Errorf("Convert(amount=%q) error = %v, want ErrInvalidAmount", amount, err)
			}
			if store.getCalls != 0 || p.convertCalls != 0 {
				t.Errorf("Convert(amount=%q) touched cache or provider", amount)
			}
		}
	})
}

func TestGetHistoricalRates(t *testing.T) {
	start := mustDate("2025-01-01")
	end := mustDate("2025-01-05")

	sampleSet := func() *models.HistoricalRateSet {
		return &models.HistoricalRateSet{
			Base:         "EUR",
			StartDate:    "2025-01-01",
			EndDate:      "2025-01-05",
			Page:         1,
			PageSize:     2,
			TotalRecords: 5,
			TotalPages:   3,
			Rates: map[string]map[string]json.Number{
				"2025-01-01": {"USD": json.Number("1.04")},
				"2025-01-02": {"USD": json.Number("1.05")},
			},
		}
	}

	t.Run("cached set deep-equals the stored one", func(t *testing.T) {
		store := newFakeStore()
		p := &mockProvider{
			historyFunc: func(ctx context.Context, base string, s, e time.Time, page, pageSize int) (*models.HistoricalRateSet, error) {
				return sampleSet(), nil
			},
		}
		svc, _ := newTestService(p, store, "mock")

		first, err := svc.GetHistoricalRates(context.Background(), "EUR", start, end, 1, 2)
		if err != nil {
			t.Fatalf("GetHistoricalRates() error = %v", err)
		}
		second, err := svc.GetHistoricalRates(context.Background(), "EUR", start, end, 1, 2)
		if err != nil {
			t.Fatalf("GetHistoricalRates() second call error = %v", err)
		}

		if p.historyCalls != 1 {
			t.Errorf("provider called %d times, want 1", p.historyCalls)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("cached set differs from stored set:\n%+v\n%+v", first, second)
		}

		key := "history:EUR:2025-01-01:2025-01-05:1:2"
		if _, ok := store.data[key]; !ok {
			t.Errorf("expected cache entry under %s, keys: %v", key, keys(store.data))
		}
		if ttl := store.ttls[key]; ttl != 24*time.Hour {
			t.Errorf("cached with ttl %v, want 24h", ttl)
		}
	})

	t.Run("validation failures never reach cache or provider", func(t *testing.T) {
		future := time.Now().UTC().AddDate(0, 0, 7)

		tests := []struct {
			name       string
			base       string
			start, end time.Time
			page, size int
			wantErr    error
		}{
			{"start after end", "EUR", end, start, 1, 10, ErrInvalidDateRange},
			{"future end date", "EUR", start, future, 1, 10, ErrInvalidDateRange},
			{"zero dates", "EUR", time.Time{}, time.Time{}, 1, 10, ErrInvalidDateRange},
			{"page zero", "EUR", start, end, 0, 10, ErrInvalidPagination},
			{"page size zero", "EUR", start, end, 1, 0, ErrInvalidPagination},
			{"page size over limit", "EUR", start, end, 1, 101, ErrInvalidPagination},
			{"bad currency", "eu", start, end, 1, 10, ErrInvalidCurrency},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				store := newFakeStore()
				p := &mockProvider{}
				svc, _ := newTestService(p, store, "mock")

				_, err := svc.GetHistoricalRates(context.Background(), tt.base, tt.start, tt.end, tt.page, tt.size)
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("error = %v, want %v", err, tt.wantErr)
				}
				if store.getCalls != 0 || p.historyCalls != 0 {
					t.Error("validation failure touched cache or provider")
				}
			})
		}
	})
}

func TestSupportedCurrencies(t *testing.T) {
	svc, _ := newTestService(&mockProvider{}, newFakeStore(), "mock")

	for _, code := range svc.SupportedCurrencies() {
		if provider.IsExcluded(code) {
			t.Errorf("excluded currency %s listed as supported", code)
		}
	}
}

func mustDate(s string) time.Time {
	d, err := time.Parse(models.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

func keys(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
