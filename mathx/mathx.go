// Package mathx provides small numeric helpers shared by the tracing engine.
package mathx

import (
	"math"
	"sort"
)

// Round rounds a float to the nearest "unit" (0.1 for tenth, 0.01 for hundredth, and so on).
func Round(x, unit float64) float64 {
	return math.Round(x/unit) * unit
}

// Mean returns the arithmetic mean of data.  It returns NaN for empty input.
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// Median returns the median of data without mutating it.
// It returns NaN for empty input.
func Median(data []float64) float64 {
	if len(data) == 0 {
		return math.NaN()
	}
	cpy := make([]float64, len(data))
	copy(cpy, data)
	sort.Float64s(cpy)
	n := len(cpy)
	if n%2 == 1 {
		return cpy[n/2]
	}
	return (cpy[n/2-1] + cpy[n/2]) / 2
}
