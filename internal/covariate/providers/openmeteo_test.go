package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBackoff() BackoffConfig {
	return BackoffConfig{
		MaxAttempts:   3,
		RateLimitBase: time.Millisecond,
		RetryDelay:    time.Millisecond,
	}
}

func newOpenMeteo(t *testing.T, handler http.HandlerFunc) (*OpenMeteoProvider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p := NewOpenMeteoProvider(srv.Client(), OpenMeteoConfig{
		BaseURL:   srv.URL,
		TempCol:   "temp",
		PrecipCol: "precip",
		Backoff:   testBackoff(),
	})
	return p, srv
}

func TestOpenMeteoAggregation(t *testing.T) {
	p, _ := newOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2020-01-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2020-12-31", r.URL.Query().Get("end_date"))
		assert.Equal(t, "UTC", r.URL.Query().Get("timezone"))
		w.Write([]byte(`{"daily":{
			"time":["2020-01-01","2020-01-02"],
			"temperature_2m_max":[20,22],
			"temperature_2m_min":[10,12],
			"precipitation_sum":[5,null]
		}}`))
	})

	vals, err := p.Fetch(context.Background(), 34.0, -118.25, 2020)
	require.NoError(t, err)

	// Mean of per-day midpoints: (15 + 17) / 2.
	require.NotNil(t, vals["temp"])
	assert.InDelta(t, 16.0, *vals["temp"], 1e-12)

	// Missing days count as zero when the series key is present.
	require.NotNil(t, vals["precip"])
	assert.InDelta(t, 5.0, *vals["precip"], 1e-12)
}

func TestOpenMeteoDaysWithOneSideMissingAreExcluded(t *testing.T) {
	p, _ := newOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"daily":{
			"temperature_2m_max":[20,null,30],
			"temperature_2m_min":[10,12,null],
			"precipitation_sum":[1,2,3]
		}}`))
	})

	vals, err := p.Fetch(context.Background(), 0, 0, 2020)
	require.NoError(t, err)

	// Only the first day has both sides: midpoint 15.
	require.NotNil(t, vals["temp"])
	assert.InDelta(t, 15.0, *vals["temp"], 1e-12)
	require.NotNil(t, vals["precip"])
	assert.InDelta(t, 6.0, *vals["precip"], 1e-12)
}

func TestOpenMeteoMissingPrecipKeyIsAbsent(t *testing.T) {
	p, _ := newOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"daily":{
			"temperature_2m_max":[20],
			"temperature_2m_min":[10]
		}}`))
	})

	vals, err := p.Fetch(context.Background(), 0, 0, 2020)
	require.NoError(t, err)
	require.NotNil(t, vals["temp"])
	assert.Nil(t, vals["precip"])
}

func TestOpenMeteoEmptyDailyIsAllAbsent(t *testing.T) {
	p, _ := newOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"daily":{}}`))
	})

	vals, err := p.Fetch(context.Background(), 0, 0, 2020)
	require.NoError(t, err)
	assert.Nil(t, vals["temp"])
	assert.Nil(t, vals["precip"])
}

func TestOpenMeteoRetriesAfter429(t *testing.T) {
	var calls int
	p, _ := newOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"daily":{"temperature_2m_max":[20],"temperature_2m_min":[10],"precipitation_sum":[0]}}`))
	})

	vals, err := p.Fetch(context.Background(), 0, 0, 2020)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	require.NotNil(t, vals["temp"])
	assert.InDelta(t, 15.0, *vals["temp"], 1e-12)
}

func TestOpenMeteoRateLimitExhaustion(t *testing.T) {
	var calls int
	p, _ := newOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := p.Fetch(context.Background(), 0, 0, 2020)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 3, calls)
}

func TestOpenMeteoServerErrorDegradesToAbsent(t *testing.T) {
	var calls int
	p, _ := newOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})

	vals, err := p.Fetch(context.Background(), 0, 0, 2020)
	require.NoError(t, err, "non-rate-limit failures never propagate")
	assert.Equal(t, 3, calls)
	assert.Nil(t, vals["temp"])
	assert.Nil(t, vals["precip"])
}

func TestOpenMeteoContextCancellation(t *testing.T) {
	p, _ := newOpenMeteo(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Fetch(ctx, 0, 0, 2020)
	assert.ErrorIs(t, err, context.Canceled)
}
