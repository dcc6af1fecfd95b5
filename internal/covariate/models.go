package covariate

import "fmt"

// Required input columns of the source table.
const (
	ColLat  = "lat_center"
	ColLon  = "lon_center"
	ColYear = "year"
)

// CellKey identifies the unit of fetch deduplication: a year plus a
// quantized grid-cell center. Every record sharing a cell key receives
// the identical fetched values for that cell's variables.
type CellKey struct {
	Year int
	Lat  float64
	Lon  float64
}

// String serializes the key with fixed 6-decimal coordinate precision
// so the same quantization always produces the same cache key across
// runs, independent of default float formatting.
func (k CellKey) String() string {
	return fmt.Sprintf("%d,%s,%s", k.Year, FormatCoord(k.Lat), FormatCoord(k.Lon))
}

// FormatCoord renders a quantized coordinate with the fixed precision
// shared by cache keys and checkpoint columns.
func FormatCoord(v float64) string {
	return fmt.Sprintf("%.6f", v)
}

// Values maps a variable name to its fetched value; nil means the
// backend was queried and reported nothing for the cell.
type Values = map[string]*float64

// AllAbsent returns a Values with every variable explicitly unset, the
// terminal result after retries are exhausted on a non-rate-limit
// error.
func AllAbsent(variables []string) Values {
	vals := make(Values, len(variables))
	for _, v := range variables {
		vals[v] = nil
	}
	return vals
}
