package trace

import "math"

// Grid produces the ordered sequence of set voltages for one channel,
// monotonic in the direction from start to end with the given step
// magnitude.  Both endpoints are always included.  Values produced by
// floating-point step accumulation that land outside the closed interval
// are dropped.  A zero step (or start == end) yields the single-element
// sequence {start}.
func Grid(start, end, step float64) []float64 {
	if step == 0 || start == end {
		return []float64{start}
	}
	step = math.Abs(step)
	var (
		lo   = math.Min(start, end)
		hi   = math.Max(start, end)
		sign = 1.
	)
	if end < start {
		sign = -1
	}
	var out []float64
	for i := 0; ; i++ {
		v := start + sign*float64(i)*step
		if v < lo-step/2 || v > hi+step/2 {
			break
		}
		if v < lo || v > hi {
			// accumulation artifact just past an endpoint
			continue
		}
		out = append(out, v)
	}
	last := out[len(out)-1]
	if math.Abs(last-end) > step/100 {
		out = append(out, end)
	}
	return out
}
