package trace

import (
	"math"
	"time"

	"github.jpl.nasa.gov/bdube/ivtrace/psu"
	"github.jpl.nasa.gov/bdube/ivtrace/util"
)

// idleTick is the regulator polling period.  A variable so tests can run
// the loop faster than real instruments would allow.
var idleTick = 200 * time.Millisecond

// damping scales the regulator's voltage correction; below 1 so a pessimistic
// transconductance estimate rings down instead of oscillating
const damping = 0.65

// regulator holds the channel roles for idle bias control.  The fixed
// channel's current is held at its idle target by adjusting the regulated
// channel's working idle voltage.
type regulator struct {
	chans [2]*Channel

	// fixed and reg are nil when no channel requests regulation
	fixed *Channel
	reg   *Channel
}

// idleRoles assigns the idle control roles.  A channel with an open idle
// voltage window is the regulated one; at most one channel may be regulated,
// and the other must then define an idle current target.  The returned
// regulator is nil if neither channel idles at all.
func idleRoles(ch1, ch2 *Channel) (*regulator, error) {
	if ch1.regulated() && ch2.regulated() {
		return nil, ErrDualRegulation
	}
	if ch1.Idle == nil && ch2.Idle == nil {
		return nil, nil
	}
	r := &regulator{chans: [2]*Channel{ch1, ch2}}
	switch {
	case ch1.regulated():
		r.reg, r.fixed = ch1, ch2
	case ch2.regulated():
		r.reg, r.fixed = ch2, ch1
	}
	if r.reg != nil && r.fixed.Idle == nil {
		return nil, ErrRegulationTarget
	}
	return r, nil
}

// idleCurrentLimit is the current limit commanded on a fixed channel while
// idling: the test current limit, further reduced by the idle power budget
func idleCurrentLimit(ch *Channel) float64 {
	lim := ch.Test.ILimit
	if ch.Idle.PIdleLimit > 0 && ch.Idle.VIdle > 0 {
		lim = math.Min(lim, ch.Idle.PIdleLimit/ch.Idle.VIdle)
	}
	return lim
}

// Hold drives the idle bias point for the requested duration.  With a
// regulated channel configured it runs the feedback loop on the polling
// period; otherwise it parks every idling channel at its fixed bias point
// and waits.  When rec is non-nil, the final operating point is emitted as
// an idle summary; the sweep passes nil between repetitions and reasserts
// its own set-points afterward.
func (r *regulator) Hold(d time.Duration, rec Recorder) error {
	if d <= 0 {
		return nil
	}
	if r == nil {
		time.Sleep(d)
		return nil
	}
	if r.reg == nil {
		return r.holdFixed(d, rec)
	}

	var (
		fx     = r.fixed
		rg     = r.reg
		fixLim = idleCurrentLimit(fx)
	)
	if err := fx.Source.SetCurrent(fixLim, false); err != nil {
		return acqErr(fx, "set idle current limit", err)
	}
	if err := fx.Source.SetVoltage(fx.Idle.VIdle, false); err != nil {
		return acqErr(fx, "set idle voltage", err)
	}
	if err := rg.Source.SetCurrent(rg.Idle.IIdle, false); err != nil {
		return acqErr(rg, "set idle current limit", err)
	}
	if err := rg.Source.SetVoltage(rg.Idle.VIdle, false); err != nil {
		return acqErr(rg, "set idle voltage", err)
	}

	var (
		lastFix psu.Reading
		lastReg psu.Reading
		end     = time.Now().Add(d)
	)
	for {
		rf, err := fx.Source.Read(1)
		if err != nil {
			return acqErr(fx, "read", err)
		}
		rr, err := rg.Source.Read(1)
		if err != nil {
			return acqErr(rg, "read", err)
		}
		lastFix, lastReg = rf, rr

		iObs := rf.I
		if rf.Mode == psu.ModeCC && fx.Idle.VIdle != 0 {
			// compliance clamps the observed current at the limit and pulls
			// the voltage off the bias point; extrapolate back to the true
			// operating point so the correction is not starved
			iObs = fixLim * (1 + (fx.Idle.VIdle-rf.V)/fx.Idle.VIdle)
		}
		dI := iObs - fx.Idle.IIdle
		if dI != 0 {
			v := rg.Idle.VIdle - damping*dI/rg.Idle.GM
			v = util.Clamp(v, rg.Idle.VIdleMin, rg.Idle.VIdleMax)
			rg.Idle.VIdle = v
			if err := rg.Source.SetVoltage(v, false); err != nil {
				return acqErr(rg, "set idle voltage", err)
			}
		}

		// the last interval is truncated to the remaining time so the
		// hold never returns before the requested duration has elapsed
		remaining := time.Until(end)
		if remaining > idleTick {
			time.Sleep(idleTick)
			continue
		}
		if remaining > 0 {
			time.Sleep(remaining)
		}
		break
	}

	if rec != nil {
		return rec.WriteIdle(IdleSummary{
			VFixed: fx.Polarity * lastFix.V,
			IFixed: fx.Polarity * lastFix.I,
			VReg:   rg.Polarity * lastReg.V,
			IReg:   rg.Polarity * lastReg.I})
	}
	return nil
}

// holdFixed is the degenerate, feedback-free hold: both idling channels are
// parked at their fixed idle voltage and current limit for the duration.
// With no regulation roles assigned, the summary is positional: channel 1
// fills the fixed slots and channel 2 the regulated ones; a channel that
// does not idle is not read and its slots stay zero.
func (r *regulator) holdFixed(d time.Duration, rec Recorder) error {
	for _, ch := range r.chans {
		if ch.Idle == nil {
			continue
		}
		if err := ch.Source.SetCurrent(idleCurrentLimit(ch), false); err != nil {
			return acqErr(ch, "set idle current limit", err)
		}
		if err := ch.Source.SetVoltage(ch.Idle.VIdle, false); err != nil {
			return acqErr(ch, "set idle voltage", err)
		}
	}
	time.Sleep(d)
	if rec != nil {
		var sum IdleSummary
		for i, ch := range r.chans {
			if ch.Idle == nil {
				continue
			}
			rd, err := ch.Source.Read(1)
			if err != nil {
				return acqErr(ch, "read", err)
			}
			if i == 0 {
				sum.VFixed = ch.Polarity * rd.V
				sum.IFixed = ch.Polarity * rd.I
			} else {
				sum.VReg = ch.Polarity * rd.V
				sum.IReg = ch.Polarity * rd.I
			}
		}
		return rec.WriteIdle(sum)
	}
	return nil
}
