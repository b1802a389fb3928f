package usecases

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func rateSource(t *testing.T, fail *atomic.Bool, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"base":"EUR","rates":{"USD":1.10,"GBP":0.84,"PLN":4.30,"CHF":0.96,"JPY":170.1}}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRateServiceCachesWithinTTL(t *testing.T) {
	var fail atomic.Bool
	var hits atomic.Int64
	server := rateSource(t, &fail, &hits)

	svc := NewRateService(discardLogger(), server.URL, time.Hour)

	rate, err := svc.Rate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	require.True(t, rate.Equal(amount("1.1")))

	// Second lookup is served from the cache.
	_, err = svc.Rate(context.Background(), "USD", "GBP")
	require.NoError(t, err)
	require.Equal(t, int64(1), hits.Load())
}

func TestRateServiceServesStaleOnError(t *testing.T) {
	var fail atomic.Bool
	var hits atomic.Int64
	server := rateSource(t, &fail, &hits)

	// Zero TTL forces a refresh attempt on every call.
	svc := NewRateService(discardLogger(), server.URL, 0)

	_, err := svc.Rate(context.Background(), "EUR", "USD")
	require.NoError(t, err)

	fail.Store(true)

	rate, err := svc.Rate(context.Background(), "EUR", "USD")
	require.NoError(t, err, "stale snapshot should cover upstream failures")
	require.True(t, rate.Equal(amount("1.1")))
}

func TestRateServiceFailsWithoutAnySnapshot(t *testing.T) {
	var fail atomic.Bool
	var hits atomic.Int64
	fail.Store(true)
	server := rateSource(t, &fail, &hits)

	svc := NewRateService(discardLogger(), server.URL, time.Hour)

	_, err := svc.Rate(context.Background(), "EUR", "USD")
	require.Error(t, err)
}

func TestRateServiceConvert(t *testing.T) {
	var fail atomic.Bool
	var hits atomic.Int64
	server := rateSource(t, &fail, &hits)

	svc := NewRateService(discardLogger(), server.URL, time.Hour)

	t.Run("cross rate", func(t *testing.T) {
		converted, rate, err := svc.Convert(context.Background(), amount("100.00"), "EUR", "USD")
		require.NoError(t, err)
		require.True(t, rate.Equal(amount("1.1")))
		require.True(t, converted.Equal(amount("110.00")))
	})

	t.Run("identity", func(t *testing.T) {
		converted, rate, err := svc.Convert(context.Background(), amount("42.42"), "EUR", "EUR")
		require.NoError(t, err)
		require.True(t, rate.Equal(amount("1")))
		require.True(t, converted.Equal(amount("42.42")))
	})

	t.Run("unsupported currency", func(t *testing.T) {
		// JPY is present upstream but not a supported wallet currency.
		_, _, err := svc.Convert(context.Background(), amount("10.00"), "EUR", "JPY")
		require.Error(t, err)
	})
}
