package trace

import (
	"fmt"
	"io"
)

// PointChannel is one channel's share of a measurement point.  All values
// already carry the channel's polarity.
type PointChannel struct {
	// VSet is the commanded voltage
	VSet float64

	// ILimit is the commanded current limit at this point
	ILimit float64

	// V and I are the aggregated measured voltage and current
	V float64
	I float64

	// Limited is true if any repetition reported compliance or the
	// aggregated current exceeds the commanded limit
	Limited bool
}

// Point is the aggregate of the repeated readings taken at one grid
// coordinate, for both channels.
type Point struct {
	Ch1 PointChannel
	Ch2 PointChannel
}

// Row renders the point in the 10-field output format:
//
//	V1_set I1_limit V1_meas I1_meas LIMIT1 V2_set I2_limit V2_meas I2_meas LIMIT2
//
// numerics with four decimals, flags as 0/1, space separated.
func (p Point) Row() string {
	return fmt.Sprintf("%.4f %.4f %.4f %.4f %d %.4f %.4f %.4f %.4f %d",
		p.Ch1.VSet, p.Ch1.ILimit, p.Ch1.V, p.Ch1.I, b2i(p.Ch1.Limited),
		p.Ch2.VSet, p.Ch2.ILimit, p.Ch2.V, p.Ch2.I, b2i(p.Ch2.Limited))
}

// IdleSummary is the operating point at the end of a preheat or idle hold:
// the fixed channel's voltage and current, then the regulated channel's.
// All values already carry the channels' polarities.
type IdleSummary struct {
	VFixed float64
	IFixed float64
	VReg   float64
	IReg   float64
}

// Row renders the summary as a comment-marked line so downstream consumers
// can distinguish it from measurement rows
func (s IdleSummary) Row() string {
	return fmt.Sprintf("# idle %.4f %.4f %.4f %.4f", s.VFixed, s.IFixed, s.VReg, s.IReg)
}

// Recorder accepts the records the engine emits.  The engine defines the row
// shapes; where they go (console, file, network) is the caller's business.
type Recorder interface {
	// WritePoint accepts one accepted measurement point
	WritePoint(Point) error

	// WriteIdle accepts the summary emitted after a preheat hold
	WriteIdle(IdleSummary) error
}

// WriterRecorder renders records as rows on an io.Writer, one line each
type WriterRecorder struct {
	W io.Writer
}

// NewWriterRecorder returns a Recorder writing formatted rows to w
func NewWriterRecorder(w io.Writer) WriterRecorder {
	return WriterRecorder{W: w}
}

// WritePoint writes the point's row and a newline
func (r WriterRecorder) WritePoint(p Point) error {
	_, err := fmt.Fprintln(r.W, p.Row())
	return err
}

// WriteIdle writes the summary's row and a newline
func (r WriterRecorder) WriteIdle(s IdleSummary) error {
	_, err := fmt.Fprintln(r.W, s.Row())
	return err
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
