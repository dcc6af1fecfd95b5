package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/mkhalitova/climate-covariates/internal/covariate"
)

// OpenMeteoConfig configures the climate reanalysis provider.
type OpenMeteoConfig struct {
	BaseURL   string
	TempCol   string // yearly mean temperature column
	PrecipCol string // yearly precipitation sum column
	Backoff   BackoffConfig
}

// OpenMeteoProvider fetches daily temperature and precipitation series
// from the Open-Meteo archive API for one grid cell and one year, and
// reduces them to the yearly aggregates the checkpoint stores.
type OpenMeteoProvider struct {
	name    string
	cfg     OpenMeteoConfig
	httpCfg HTTPClientConfig
	circuit *breaker
}

func NewOpenMeteoProvider(client *http.Client, cfg OpenMeteoConfig) *OpenMeteoProvider {
	cb := newBreaker(gobreaker.Settings{
		Name:        "openmeteo",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &OpenMeteoProvider{
		name: "openmeteo",
		cfg:  cfg,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: cfg.Backoff,
		},
		circuit: cb,
	}
}

func (p *OpenMeteoProvider) Name() string { return p.name }

func (p *OpenMeteoProvider) Variables() []string {
	return []string{p.cfg.TempCol, p.cfg.PrecipCol}
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, lat, lon float64, year int) (covariate.Values, error) {
	attempt := func(ctx context.Context) (covariate.Values, error) {
		values := url.Values{}
		values.Set("latitude", covariate.FormatCoord(lat))
		values.Set("longitude", covariate.FormatCoord(lon))
		values.Set("start_date", fmt.Sprintf("%d-01-01", year))
		values.Set("end_date", fmt.Sprintf("%d-12-31", year))
		values.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum")
		values.Set("timezone", "UTC")

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s?%s", p.cfg.BaseURL, values.Encode()), nil)
		if err != nil {
			return nil, err
		}

		resp, err := p.httpCfg.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := classifyResponse(resp); err != nil {
			return nil, err
		}

		// Series keys are decoded individually: the precipitation
		// aggregate distinguishes "key missing" from "key present
		// with null days".
		var payload struct {
			Daily map[string]json.RawMessage `json:"daily"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, err
		}

		tempMax, _, err := dailySeries(payload.Daily, "temperature_2m_max")
		if err != nil {
			return nil, err
		}
		tempMin, _, err := dailySeries(payload.Daily, "temperature_2m_min")
		if err != nil {
			return nil, err
		}
		precip, precipPresent, err := dailySeries(payload.Daily, "precipitation_sum")
		if err != nil {
			return nil, err
		}

		return covariate.Values{
			p.cfg.TempCol:   meanTemperature(tempMax, tempMin),
			p.cfg.PrecipCol: sumPrecipitation(precip, precipPresent),
		}, nil
	}

	return fetchWithRetry(ctx, p.name, p.httpCfg.Backoff, p.circuit, p.Variables(), attempt)
}

func dailySeries(daily map[string]json.RawMessage, key string) ([]*float64, bool, error) {
	raw, ok := daily[key]
	if !ok {
		return nil, false, nil
	}
	var series []*float64
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, false, fmt.Errorf("decode daily %s: %w", key, err)
	}
	return series, true, nil
}

// meanTemperature averages the per-day midpoints of (max, min). Days
// with either side missing are excluded entirely, not imputed. Absent
// when no day has both sides.
func meanTemperature(max, min []*float64) *float64 {
	n := len(max)
	if len(min) < n {
		n = len(min)
	}

	var sum float64
	var count int
	for i := 0; i < n; i++ {
		if max[i] == nil || min[i] == nil {
			continue
		}
		sum += (*max[i] + *min[i]) / 2
		count++
	}
	if count == 0 {
		return nil
	}
	mean := sum / float64(count)
	return &mean
}

// sumPrecipitation totals the daily series, counting missing days as
// zero. The aggregate itself is absent only when the series key was
// entirely missing from the response.
func sumPrecipitation(series []*float64, present bool) *float64 {
	if !present {
		return nil
	}
	var sum float64
	for _, v := range series {
		if v != nil {
			sum += *v
		}
	}
	return &sum
}
