package covariate

import (
	"context"
	"errors"
)

// ErrRateLimited marks a backend rate-limit signal (HTTP 429 or quota
// text in an error payload). A provider returns it only after retries
// are exhausted; the pipeline then aborts the run with a flush, since
// continuing to hammer a global rate limit wastes the remaining quota.
var ErrRateLimited = errors.New("rate limited")

// Provider abstracts one external covariate backend (the satellite
// vegetation-index source or the climate reanalysis source). One Fetch
// covers the full year window for a single grid cell.
type Provider interface {
	Name() string

	// Variables lists the result column names this provider fills,
	// in checkpoint column order.
	Variables() []string

	// Fetch returns a value (or nil for absent) per variable. The
	// only error a caller sees is a terminal rate-limit exhaustion
	// or a context cancellation; every other failure degrades to
	// absent values inside the provider.
	Fetch(ctx context.Context, lat, lon float64, year int) (Values, error)
}
