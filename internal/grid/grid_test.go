package grid

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveKM(t *testing.T) {
	assert.Equal(t, 25.0, EffectiveKM(25, 0.25))
	assert.Equal(t, 25.0, EffectiveKM(5, 25), "requested grid below backend minimum is clamped")
	assert.Equal(t, 50.0, EffectiveKM(50, 25))
}

func TestResolutionClamped(t *testing.T) {
	assert.InDelta(t, 25.0/111.0, Resolution(5, 25), 1e-12)
	assert.InDelta(t, 5.0/111.0, Resolution(5, 0.25), 1e-12)
}

func TestQuantizeNearestMultiple(t *testing.T) {
	step := 0.25
	lat, lon := Quantize(34.05, -118.25, step)
	assert.Equal(t, 34.0, lat)
	assert.Equal(t, -118.25, lon)
}

func TestQuantizeIdempotent(t *testing.T) {
	step := Resolution(25, 0.25)
	coords := [][2]float64{
		{34.05, -118.25},
		{-12.3456, 45.6789},
		{0.0001, -0.0001},
		{89.99, 179.99},
	}
	for _, c := range coords {
		qlat, qlon := Quantize(c[0], c[1], step)
		qlat2, qlon2 := Quantize(qlat, qlon, step)
		assert.Equal(t, qlat, qlat2)
		assert.Equal(t, qlon, qlon2)
	}
}

func TestQuantizeDeterministic(t *testing.T) {
	step := Resolution(25, 25)
	lat1, lon1 := Quantize(34.05, -118.25, step)
	lat2, lon2 := Quantize(34.05, -118.25, step)
	assert.Equal(t, lat1, lat2)
	assert.Equal(t, lon1, lon2)
}

// With a 5 km requested grid, the vegetation backend keeps 5 km while
// the climate backend clamps to its 25 km minimum, so the same raw
// point lands on two different cells.
func TestBackendMinimumsDiverge(t *testing.T) {
	ndviStep := Resolution(5, 0.25)
	climateStep := Resolution(5, 25)

	nlat, nlon := Quantize(34.05, -118.25, ndviStep)
	clat, clon := Quantize(34.05, -118.25, climateStep)
	assert.False(t, nlat == clat && nlon == clon, "cells should differ across resolutions")

	nlat2, nlon2 := Quantize(34.05, -118.25, ndviStep)
	assert.Equal(t, nlat, nlat2)
	assert.Equal(t, nlon, nlon2)
}

func TestQuantizeNoNegativeZero(t *testing.T) {
	lat, lon := Quantize(-0.01, -0.01, 0.25)
	assert.False(t, math.Signbit(lat))
	assert.False(t, math.Signbit(lon))
}
