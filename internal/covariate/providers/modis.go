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

// ndviScale converts the backend's raw integer reflectance to a unit
// vegetation index in [-1, 1].
const ndviScale = 10000.0

// ModisConfig configures the vegetation-index provider.
type ModisConfig struct {
	BaseURL      string
	APIKey       string
	Column       string  // result column this provider fills
	BufferMeters float64 // spatial aggregation radius, half the grid cell
	Backoff      BackoffConfig
}

// ModisProvider fetches a yearly mean vegetation index (MODIS-style
// NDVI) for one grid cell from the satellite-imagery backend. The
// backend is a black box: point + date range + aggregation radius in,
// scalar or absent out.
type ModisProvider struct {
	name    string
	cfg     ModisConfig
	httpCfg HTTPClientConfig
	circuit *breaker
}

func NewModisProvider(client *http.Client, cfg ModisConfig) *ModisProvider {
	cb := newBreaker(gobreaker.Settings{
		Name:        "modis-ndvi",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &ModisProvider{
		name: "modis-ndvi",
		cfg:  cfg,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: cfg.Backoff,
		},
		circuit: cb,
	}
}

func (p *ModisProvider) Name() string { return p.name }

func (p *ModisProvider) Variables() []string { return []string{p.cfg.Column} }

func (p *ModisProvider) Fetch(ctx context.Context, lat, lon float64, year int) (covariate.Values, error) {
	attempt := func(ctx context.Context) (covariate.Values, error) {
		values := url.Values{}
		values.Set("latitude", covariate.FormatCoord(lat))
		values.Set("longitude", covariate.FormatCoord(lon))
		values.Set("start_date", fmt.Sprintf("%d-01-01", year))
		values.Set("end_date", fmt.Sprintf("%d-12-31", year))
		values.Set("buffer_m", fmt.Sprintf("%.0f", p.cfg.BufferMeters))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s?%s", p.cfg.BaseURL, values.Encode()), nil)
		if err != nil {
			return nil, err
		}
		if p.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		}

		resp, err := p.httpCfg.Client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if err := classifyResponse(resp); err != nil {
			return nil, err
		}

		var payload struct {
			ImageCount int      `json:"image_count"`
			NDVI       *float64 `json:"ndvi"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, err
		}

		vals := covariate.Values{p.cfg.Column: nil}
		// No qualifying images for the window, or a null reduction,
		// is a legitimate absent value and gets cached as such.
		if payload.ImageCount > 0 && payload.NDVI != nil {
			v := *payload.NDVI / ndviScale
			vals[p.cfg.Column] = &v
		}
		return vals, nil
	}

	return fetchWithRetry(ctx, p.name, p.httpCfg.Backoff, p.circuit, p.Variables(), attempt)
}
