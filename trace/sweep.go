package trace

import (
	"log"
	"time"

	"github.jpl.nasa.gov/bdube/ivtrace/psu"
	"github.jpl.nasa.gov/bdube/ivtrace/util"
)

// settleTime is the wait between commanding a set-point and acquiring.
// A variable so tests can run the grid faster than real instruments.
var settleTime = 200 * time.Millisecond

// consecLimitMax is the number of consecutive limited points that curtails
// the remainder of a row; two, so a single noisy reading does not abort it
const consecLimitMax = 2

// Sweep drives both outputs across the two-dimensional voltage grid.
// Channel 1 is the inner (fast) dimension, channel 2 the outer.  The two
// channels are exclusively owned by the sweep for the duration of Run.
type Sweep struct {
	// Ch1 and Ch2 are the channels under test, already reconciled
	Ch1 *Channel
	Ch2 *Channel

	// NRep is the number of repeated readings aggregated per point, >= 1
	NRep int

	// IdleSecs is the idle hold between points; 0 disables idling
	IdleSecs float64

	// PreheatSecs is the one-shot regulated hold before the grid starts
	PreheatSecs float64

	// Agg selects the aggregation statistic (mean by default)
	Agg Aggregate

	// Rec receives accepted points and the preheat summary
	Rec Recorder
}

// Run executes the sweep.  On every exit path, success or fault, both
// outputs are disabled before Run returns; the engine never exits leaving
// an output energized.
func (s *Sweep) Run() (err error) {
	if s.NRep < 1 {
		s.NRep = 1
	}
	// a dual-regulated configuration is fatal before any hardware I/O
	reg, err := idleRoles(s.Ch1, s.Ch2)
	if err != nil {
		return err
	}

	defer func() {
		offErr := s.shutdown()
		if err == nil {
			err = offErr
		}
	}()
	return s.run(reg)
}

func (s *Sweep) run(reg *regulator) error {
	if err := s.Ch1.Source.TurnOn(); err != nil {
		return acqErr(s.Ch1, "output enable", err)
	}
	if err := s.Ch2.Source.TurnOn(); err != nil {
		return acqErr(s.Ch2, "output enable", err)
	}

	if s.PreheatSecs > 0 {
		if err := reg.Hold(util.SecsToDuration(s.PreheatSecs), s.Rec); err != nil {
			return err
		}
	}

	var (
		outer = Grid(s.Ch2.Test.VStart, s.Ch2.Test.VEnd, s.Ch2.Test.VStep)
		inner = Grid(s.Ch1.Test.VStart, s.Ch1.Test.VEnd, s.Ch1.Test.VStep)
	)
	for _, v2 := range outer {
		lim2 := PointCurrentLimit(v2, s.Ch2.Test.ILimit, s.Ch2.Test.PLimit, s.Ch2.Caps.PMax)
		if err := setPoint(s.Ch2, v2, lim2); err != nil {
			return err
		}
		consec := 0
		for _, v1 := range inner {
			if s.IdleSecs > 0 {
				if err := reg.Hold(util.SecsToDuration(s.IdleSecs), nil); err != nil {
					return err
				}
				// idling moved the set-points; reassert the outer channel,
				// the inner one is commanded below anyway
				if err := setPoint(s.Ch2, v2, lim2); err != nil {
					return err
				}
			}
			lim1 := PointCurrentLimit(v1, s.Ch1.Test.ILimit, s.Ch1.Test.PLimit, s.Ch1.Caps.PMax)
			if err := setPoint(s.Ch1, v1, lim1); err != nil {
				return err
			}
			time.Sleep(settleTime)

			p, limited, err := s.measure(v1, lim1, v2, lim2)
			if err != nil {
				return err
			}
			if limited {
				consec++
				if consec >= consecLimitMax {
					// the device is saturated, do not force it further into
					// compliance; curtail the rest of this row
					break
				}
				continue
			}
			consec = 0
			if s.Rec != nil {
				if err := s.Rec.WritePoint(p); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// measure takes the repeated readings for one grid point and aggregates them
func (s *Sweep) measure(v1, lim1, v2, lim2 float64) (Point, bool, error) {
	var (
		v1s = make([]float64, s.NRep)
		i1s = make([]float64, s.NRep)
		v2s = make([]float64, s.NRep)
		i2s = make([]float64, s.NRep)
		cc1 bool
		cc2 bool
	)
	for i := 0; i < s.NRep; i++ {
		r1, err := s.Ch1.Source.Read(1)
		if err != nil {
			return Point{}, false, acqErr(s.Ch1, "read", err)
		}
		r2, err := s.Ch2.Source.Read(1)
		if err != nil {
			return Point{}, false, acqErr(s.Ch2, "read", err)
		}
		v1s[i], i1s[i] = r1.V, r1.I
		v2s[i], i2s[i] = r2.V, r2.I
		cc1 = cc1 || r1.Mode == psu.ModeCC
		cc2 = cc2 || r2.Mode == psu.ModeCC
	}
	var (
		aggI1 = s.Agg.apply(i1s)
		aggI2 = s.Agg.apply(i2s)
		lim1F = cc1 || aggI1 > lim1
		lim2F = cc2 || aggI2 > lim2
	)
	p := Point{
		Ch1: PointChannel{
			VSet:    s.Ch1.Polarity * v1,
			ILimit:  s.Ch1.Polarity * lim1,
			V:       s.Ch1.Polarity * s.Agg.apply(v1s),
			I:       s.Ch1.Polarity * aggI1,
			Limited: lim1F},
		Ch2: PointChannel{
			VSet:    s.Ch2.Polarity * v2,
			ILimit:  s.Ch2.Polarity * lim2,
			V:       s.Ch2.Polarity * s.Agg.apply(v2s),
			I:       s.Ch2.Polarity * aggI2,
			Limited: lim2F}}
	return p, lim1F || lim2F, nil
}

// setPoint commands a channel's current limit, then its voltage.  Limit
// first: the voltage change must never be applied with a stale, larger limit.
func setPoint(ch *Channel, v, ilim float64) error {
	if err := ch.Source.SetCurrent(ilim, false); err != nil {
		return acqErr(ch, "set current limit", err)
	}
	if err := ch.Source.SetVoltage(v, false); err != nil {
		return acqErr(ch, "set voltage", err)
	}
	return nil
}

// shutdown disables both outputs.  Failures are logged and the first is
// returned; a fault on one channel must not stop the other being disabled.
func (s *Sweep) shutdown() error {
	var first error
	for _, ch := range []*Channel{s.Ch1, s.Ch2} {
		if err := ch.Source.TurnOff(); err != nil {
			log.Printf("channel %s: output disable failed: %v", ch.Label, err)
			if first == nil {
				first = acqErr(ch, "output disable", err)
			}
		}
	}
	return first
}
