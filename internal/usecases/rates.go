package usecases

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/moneta-app/wallet/backend/internal/core/ports"
	"github.com/moneta-app/wallet/backend/internal/entities"
)

// RateService serves exchange rates from an in-memory cache, refreshing
// from the upstream source when the cache is older than the TTL. A failed
// refresh falls back to the stale snapshot rather than failing the caller.
type RateService struct {
	logger    *slog.Logger
	client    *http.Client
	sourceURL string
	ttl       time.Duration

	mu        sync.RWMutex
	rates     map[string]decimal.Decimal
	fetchedAt time.Time
}

func NewRateService(logger *slog.Logger, sourceURL string, ttl time.Duration) *RateService {
	return &RateService{
		logger:    logger,
		client:    &http.Client{Timeout: 10 * time.Second},
		sourceURL: sourceURL,
		ttl:       ttl,
		rates:     make(map[string]decimal.Decimal),
	}
}

// Rate returns how many units of the target currency one unit of the base
// currency buys.
func (s *RateService) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	rates, err := s.snapshot(ctx)
	if err != nil {
		return decimal.Decimal{}, err
	}

	fromRate, ok := rates[from]
	if !ok || fromRate.IsZero() {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ports.ErrCurrencyUnsupported, from)
	}
	toRate, ok := rates[to]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ports.ErrCurrencyUnsupported, to)
	}

	return toRate.Div(fromRate), nil
}

// Convert converts the amount between currencies, rounded to cents.
func (s *RateService) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (decimal.Decimal, decimal.Decimal, error) {
	rate, err := s.Rate(ctx, from, to)
	if err != nil {
		return decimal.Decimal{}, decimal.Decimal{}, err
	}
	return amount.Mul(rate).Round(2), rate, nil
}

// snapshot returns the current rate table, refreshing it first when the
// TTL has elapsed. Refresh failures are tolerated as long as an earlier
// snapshot exists.
func (s *RateService) snapshot(ctx context.Context) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	fresh := time.Since(s.fetchedAt) < s.ttl && len(s.rates) > 0
	rates := s.rates
	s.mu.RUnlock()

	if fresh {
		return rates, nil
	}

	updated, err := s.fetch(ctx)
	if err != nil {
		s.mu.RLock()
		stale := s.rates
		staleAge := time.Since(s.fetchedAt)
		s.mu.RUnlock()

		if len(stale) > 0 {
			s.logger.WarnContext(ctx, "Rate refresh failed, serving stale rates",
				"error", err, "age", staleAge.String())
			return stale, nil
		}
		return nil, fmt.Errorf("failed to fetch exchange rates: %w", err)
	}

	s.mu.Lock()
	s.rates = updated
	s.fetchedAt = time.Now()
	s.mu.Unlock()

	return updated, nil
}

type ratesPayload struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

func (s *RateService) fetch(ctx context.Context) (map[string]decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.sourceURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rate source returned status %d", resp.StatusCode)
	}

	var payload ratesPayload
	if err = json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode rate payload: %w", err)
	}

	rates := make(map[string]decimal.Decimal, len(payload.Rates)+1)
	for currency := range entities.SupportedCurrencies {
		if v, ok := payload.Rates[currency]; ok {
			rates[currency] = decimal.NewFromFloat(v)
		}
	}
	if payload.Base != "" {
		rates[payload.Base] = decimal.NewFromInt(1)
	}

	if len(rates) == 0 {
		return nil, fmt.Errorf("rate source returned no supported currencies")
	}

	return rates, nil
}
