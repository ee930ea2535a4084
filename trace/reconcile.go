package trace

import (
	"fmt"
	"math"

	"github.jpl.nasa.gov/bdube/ivtrace/mathx"
	"github.jpl.nasa.gov/bdube/ivtrace/util"
)

// Reconcile clamps a channel's requested test and idle parameters to what
// the hardware can actually do and returns a human-readable notice for every
// adjustment made.  Nothing is ever silently dropped; the caller is expected
// to log the notices before testing starts.  Reconcile performs no hardware
// I/O and runs once per channel before the sweep proper.
func Reconcile(ch *Channel) []string {
	var notices []string
	notef := func(format string, args ...interface{}) {
		notices = append(notices, fmt.Sprintf("%s: "+format, append([]interface{}{ch.Label}, args...)...))
	}
	clamp := func(name string, v float64) float64 {
		c := util.Clamp(v, ch.Caps.VMin, ch.Caps.VMax)
		if c != v {
			notef("%s %g outside [%g, %g], clamped to %g", name, v, ch.Caps.VMin, ch.Caps.VMax, c)
		}
		return c
	}

	t := &ch.Test
	t.VStart = clamp("start voltage", t.VStart)
	t.VEnd = clamp("end voltage", t.VEnd)

	if math.Abs(t.VEnd-t.VStart) < ch.Caps.VResSet {
		if t.VEnd != t.VStart || t.VStep != 0 {
			notef("voltage span below set resolution %g, running a fixed-voltage test at %g", ch.Caps.VResSet, t.VStart)
		}
		t.VEnd = t.VStart
		t.VStep = 0
	}

	if t.VStep > 0 {
		span := math.Abs(t.VEnd - t.VStart)
		if t.VStep > span {
			notef("voltage step %g exceeds span %g, reduced to the span", t.VStep, span)
			t.VStep = span
		}
		if t.VStep < ch.Caps.VResSet {
			notef("voltage step %g below set resolution, raised to %g", t.VStep, ch.Caps.VResSet)
			t.VStep = ch.Caps.VResSet
		}
		if r := mathx.Round(t.VStep, ch.Caps.VResSet); r != t.VStep {
			notef("voltage step %g is not a multiple of the set resolution, rounded to %g", t.VStep, r)
			t.VStep = r
		}
	}

	if t.ILimit > ch.Caps.IMax {
		notef("current limit %g above hardware maximum, clamped to %g", t.ILimit, ch.Caps.IMax)
		t.ILimit = ch.Caps.IMax
	}
	if t.PLimit > ch.Caps.PMax {
		notef("power limit %g above hardware maximum, clamped to %g", t.PLimit, ch.Caps.PMax)
		t.PLimit = ch.Caps.PMax
	}

	if ch.Idle != nil {
		id := ch.Idle
		id.VIdle = clamp("idle voltage", id.VIdle)
		id.VIdleMin = clamp("idle voltage minimum", id.VIdleMin)
		id.VIdleMax = clamp("idle voltage maximum", id.VIdleMax)
		if id.VIdleMin > id.VIdleMax {
			notef("idle voltage window inverted after clamping, falling back to fixed idle at %g", id.VIdle)
			id.VIdleMin = id.VIdle
			id.VIdleMax = id.VIdle
		}
		if v := util.Clamp(id.VIdle, id.VIdleMin, id.VIdleMax); v != id.VIdle {
			notef("idle voltage %g outside window [%g, %g], moved to %g", id.VIdle, id.VIdleMin, id.VIdleMax, v)
			id.VIdle = v
		}
		if id.VIdleMin != id.VIdleMax && id.GM == 0 {
			notef("no transconductance estimate, idle regulation disabled, holding %g", id.VIdle)
			id.VIdleMin = id.VIdle
			id.VIdleMax = id.VIdle
		}
		if id.IIdle > ch.Caps.IMax {
			notef("idle current %g above hardware maximum, clamped to %g", id.IIdle, ch.Caps.IMax)
			id.IIdle = ch.Caps.IMax
		}
		if id.VIdle > 0 && id.VIdle*id.IIdle > ch.Caps.PMax {
			reduced := ch.Caps.PMax / id.VIdle
			notef("idle point %g V x %g A exceeds maximum power %g W, idle current reduced to %g", id.VIdle, id.IIdle, ch.Caps.PMax, reduced)
			id.IIdle = reduced
		}
	}

	return notices
}
