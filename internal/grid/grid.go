package grid

import "math"

// KmPerDegree is the approximate length of one degree of latitude
// (and of longitude at the equator).
const KmPerDegree = 111.0

// EffectiveKM clamps a requested grid size to a backend's minimum
// supported resolution. A backend with a 25 km minimum ignores a
// requested 5 km grid and uses 25 km.
func EffectiveKM(gridKM, minKM float64) float64 {
	if gridKM < minKM {
		return minKM
	}
	return gridKM
}

// Resolution returns the effective grid step in degrees for a requested
// grid size and a backend minimum.
func Resolution(gridKM, minKM float64) float64 {
	return EffectiveKM(gridKM, minKM) / KmPerDegree
}

// Quantize rounds both coordinates to the nearest multiple of
// resolutionDeg, collapsing nearby raw coordinates onto one grid-cell
// center.
func Quantize(lat, lon, resolutionDeg float64) (float64, float64) {
	return snap(lat, resolutionDeg), snap(lon, resolutionDeg)
}

func snap(v, step float64) float64 {
	q := math.Round(v/step) * step
	if q == 0 {
		// normalize -0 so formatting stays stable
		return 0
	}
	return q
}
