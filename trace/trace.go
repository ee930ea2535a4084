/*Package trace implements the coordinated dual-source sweep and regulation
engine for tracing the current-voltage behavior of a device under test.

The engine owns two supply outputs (Channels) for the duration of a run and
drives them from a single goroutine.  Control flow is:

 1. Reconcile runs once per channel, clamping the requested sweep bounds and
    limits against the hardware capability and reporting every adjustment.
 2. An optional preheat holds a regulated bias point for a fixed duration.
 3. Sweep iterates the two-dimensional voltage grid, enforcing per-point
    current and power limits, aggregating repeated readings, and curtailing
    a row when the device saturates into sustained compliance.

All waits are blocking sleeps; test throughput is bounded by instrument
response time, not compute.
*/
package trace

import (
	"math"

	"github.jpl.nasa.gov/bdube/ivtrace/mathx"
	"github.jpl.nasa.gov/bdube/ivtrace/psu"
)

// Aggregate selects the statistic used to combine repeated readings at one
// grid point.
type Aggregate int

const (
	// AggMean aggregates repetitions with the arithmetic mean
	AggMean Aggregate = iota

	// AggMedian aggregates repetitions with the median
	AggMedian
)

func (a Aggregate) apply(data []float64) float64 {
	if a == AggMedian {
		return mathx.Median(data)
	}
	return mathx.Mean(data)
}

// TestParams are the sweep parameters for one channel.  VStep == 0 means the
// channel is held at VStart for the whole test.
type TestParams struct {
	VStart float64 `yaml:"VStart"`
	VEnd   float64 `yaml:"VEnd"`
	VStep  float64 `yaml:"VStep"`

	// ILimit and PLimit bound the output current and power at every point
	ILimit float64 `yaml:"ILimit"`
	PLimit float64 `yaml:"PLimit"`
}

// IdleParams describe the controlled bias point a channel holds between or
// before measurements.  VIdleMin == VIdleMax means the idle voltage is fixed;
// otherwise the channel is the regulated one and its working VIdle is
// adjusted to hold the other channel's current at its IIdle target.
type IdleParams struct {
	// VIdle is the working idle voltage.  For a regulated channel it is
	// live state, mutated by the regulator during idle windows.
	VIdle    float64 `yaml:"VIdle"`
	VIdleMin float64 `yaml:"VIdleMin"`
	VIdleMax float64 `yaml:"VIdleMax"`

	// IIdle is the idle current: the target on a fixed channel, the
	// current limit on a regulated one
	IIdle float64 `yaml:"IIdle"`

	// PIdleLimit bounds the idle power on a fixed channel; 0 disables it
	PIdleLimit float64 `yaml:"PIdleLimit"`

	// GM is the signed transconductance estimate in A/V relating this
	// channel's voltage to the other channel's current.  Zero disables
	// regulation for this channel.
	GM float64 `yaml:"GM"`
}

// Channel is one supply output under test: the instrument handle, an
// immutable capability snapshot, and the mutable run parameters.
type Channel struct {
	// Label identifies the channel in notices and errors
	Label string

	// Polarity is +1 or -1 and is applied to every reported value.
	// It is never applied to hardware commands.
	Polarity float64

	// Source is the instrument backing this channel
	Source psu.Source

	// Caps is the capability snapshot taken at construction
	Caps psu.Capabilities

	// Test holds the sweep parameters, reconciled before the run
	Test TestParams

	// Idle holds the bias parameters, nil if the channel never idles
	Idle *IdleParams
}

// NewChannel wraps a supply output for use by the engine, snapshotting its
// capabilities.  Any negative polarity is normalized to -1, else +1.
func NewChannel(label string, polarity float64, src psu.Source) *Channel {
	pol := 1.
	if polarity < 0 {
		pol = -1
	}
	return &Channel{
		Label:    label,
		Polarity: pol,
		Source:   src,
		Caps:     src.Capabilities()}
}

// regulated reports whether this channel's idle voltage window is open,
// making it the regulated channel during idle bias control
func (ch *Channel) regulated() bool {
	return ch.Idle != nil && ch.Idle.VIdleMin != ch.Idle.VIdleMax
}

// PointCurrentLimit computes the instantaneous current limit for a channel
// at set voltage v: the lesser of the configured current limit and the power
// limit expressed as a current, further clamped so v*i never exceeds the
// hardware's maximum power.
func PointCurrentLimit(v, ilimit, plimit, pmax float64) float64 {
	lim := ilimit
	if v > 0 {
		lim = math.Min(lim, plimit/v)
		if v*lim > pmax {
			lim = pmax / v
		}
	}
	return lim
}
