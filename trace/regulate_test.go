package trace

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.jpl.nasa.gov/bdube/ivtrace/psu"
)

func fastTick(t *testing.T) {
	t.Helper()
	prev := idleTick
	idleTick = time.Millisecond
	t.Cleanup(func() { idleTick = prev })
}

// newBiasPair builds a fixed/regulated channel pair around a shared small
// signal model: the fixed channel draws gm * Vregulated amps.
func newBiasPair(gm, target, vmin, vmax float64) (*Channel, *Channel, *psu.Sim, *[]float64) {
	history := &[]float64{}
	simReg := psu.NewSim(testCaps(), nil)
	simFix := psu.NewSim(testCaps(), nil)
	simFix.Load = func(v float64) float64 {
		*history = append(*history, simReg.VSet)
		return gm * simReg.VSet
	}
	simReg.TurnOn()
	simFix.TurnOn()

	reg := NewChannel("REG", 1, simReg)
	reg.Test = TestParams{ILimit: 5}
	reg.Idle = &IdleParams{VIdle: 0, VIdleMin: vmin, VIdleMax: vmax, IIdle: 1, GM: gm}

	fix := NewChannel("FIX", 1, simFix)
	fix.Test = TestParams{ILimit: 5}
	fix.Idle = &IdleParams{VIdle: 1, VIdleMin: 1, VIdleMax: 1, IIdle: target}
	return reg, fix, simReg, history
}

func TestRegulatorConvergesMonotonically(t *testing.T) {
	fastTick(t)
	reg, fix, _, history := newBiasPair(0.1, 0.25, 0, 5)
	r, err := idleRoles(reg, fix)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Hold(60*time.Millisecond, nil); err != nil {
		t.Fatal(err)
	}
	want := 0.25 / 0.1 // voltage that zeroes the current error
	if math.Abs(reg.Idle.VIdle-want) > 1e-6 {
		t.Errorf("expected regulated voltage to converge to %g, got %g", want, reg.Idle.VIdle)
	}
	hist := *history
	for i := 1; i < len(hist); i++ {
		if hist[i] < hist[i-1] {
			t.Fatalf("regulated voltage not monotone at tick %d: %g -> %g", i, hist[i-1], hist[i])
		}
	}
	for _, v := range hist {
		if v < 0 || v > 5 {
			t.Fatalf("regulated voltage %g left the idle window", v)
		}
	}
}

func TestRegulatorClampsToWindowMaximum(t *testing.T) {
	fastTick(t)
	// the zero-error voltage (2.5) lies above the window; must pin to the max
	reg, fix, simReg, history := newBiasPair(0.1, 0.25, 0, 2)
	r, err := idleRoles(reg, fix)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Hold(30*time.Millisecond, nil); err != nil {
		t.Fatal(err)
	}
	if reg.Idle.VIdle != 2 {
		t.Errorf("expected regulated voltage pinned at window max 2, got %g", reg.Idle.VIdle)
	}
	if simReg.VSet != 2 {
		t.Errorf("expected hardware commanded to the window max, got %g", simReg.VSet)
	}
	for _, v := range *history {
		if v > 2 {
			t.Fatalf("regulated voltage %g exceeded the window maximum", v)
		}
	}
}

func TestRegulatorHoldHonorsDuration(t *testing.T) {
	fastTick(t)
	reg, fix, _, _ := newBiasPair(0.1, 0.25, 0, 5)
	r, err := idleRoles(reg, fix)
	if err != nil {
		t.Fatal(err)
	}
	// one tick exactly and several ticks; neither may return early
	for _, d := range []time.Duration{idleTick, 5 * idleTick} {
		start := time.Now()
		if err := r.Hold(d, nil); err != nil {
			t.Fatal(err)
		}
		if elapsed := time.Since(start); elapsed < d {
			t.Errorf("hold of %v returned after only %v", d, elapsed)
		}
	}
}

func TestRegulatorEmitsIdleSummary(t *testing.T) {
	fastTick(t)
	reg, fix, _, _ := newBiasPair(0.1, 0.25, 0, 5)
	r, err := idleRoles(reg, fix)
	if err != nil {
		t.Fatal(err)
	}
	rec := &collector{}
	if err := r.Hold(10*time.Millisecond, rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.idles) != 1 {
		t.Fatalf("expected one idle summary, got %d", len(rec.idles))
	}
	if rec.idles[0].VFixed != fix.Idle.VIdle {
		t.Errorf("expected fixed channel held at its idle voltage, summary says %g", rec.idles[0].VFixed)
	}
}

// pinnedSource returns a canned reading regardless of commands; it stands in
// for a supply stuck in compliance off its bias point.
type pinnedSource struct {
	caps    psu.Capabilities
	reading psu.Reading
	vset    float64
	iset    float64
}

func (p *pinnedSource) SetVoltage(v float64, verify bool) error { p.vset = v; return nil }
func (p *pinnedSource) SetCurrent(i float64, verify bool) error { p.iset = i; return nil }
func (p *pinnedSource) Read(nStable int) (psu.Reading, error)   { return p.reading, nil }
func (p *pinnedSource) TurnOn() error                           { return nil }
func (p *pinnedSource) TurnOff() error                          { return nil }
func (p *pinnedSource) Capabilities() psu.Capabilities          { return p.caps }

func TestRegulatorExtrapolatesComplianceReading(t *testing.T) {
	fastTick(t)
	// fixed channel in CC at 0.8 V instead of its 1 V bias point; with a
	// 1 A idle limit the extrapolated current is 1.2 A, error 0.95 A
	fixSrc := &pinnedSource{caps: testCaps(), reading: psu.Reading{V: 0.8, I: 1, Mode: psu.ModeCC}}
	simReg := psu.NewSim(testCaps(), nil)
	simReg.TurnOn()

	fix := NewChannel("FIX", 1, fixSrc)
	fix.Test = TestParams{ILimit: 1}
	fix.Idle = &IdleParams{VIdle: 1, VIdleMin: 1, VIdleMax: 1, IIdle: 0.25}

	reg := NewChannel("REG", 1, simReg)
	reg.Test = TestParams{ILimit: 5}
	reg.Idle = &IdleParams{VIdle: 5, VIdleMin: 0, VIdleMax: 10, IIdle: 1, GM: 1}

	r, err := idleRoles(reg, fix)
	if err != nil {
		t.Fatal(err)
	}
	// one tick only
	if err := r.Hold(time.Millisecond, nil); err != nil {
		t.Fatal(err)
	}
	want := 5 - damping*0.95/1.0
	if math.Abs(reg.Idle.VIdle-want) > 1e-9 {
		t.Errorf("expected one correction of extrapolated error to land at %g, got %g", want, reg.Idle.VIdle)
	}
}

func TestIdleRolesRequireTarget(t *testing.T) {
	reg := NewChannel("REG", 1, psu.NewSim(testCaps(), nil))
	reg.Idle = &IdleParams{VIdle: 1, VIdleMin: 0, VIdleMax: 2, IIdle: 0.1, GM: 0.1}
	other := NewChannel("FIX", 1, psu.NewSim(testCaps(), nil))
	_, err := idleRoles(reg, other)
	if !errors.Is(err, ErrRegulationTarget) {
		t.Errorf("expected ErrRegulationTarget, got %v", err)
	}
}

func TestIdleRolesNilWithoutIdle(t *testing.T) {
	ch1 := NewChannel("PSU1", 1, psu.NewSim(testCaps(), nil))
	ch2 := NewChannel("PSU2", 1, psu.NewSim(testCaps(), nil))
	r, err := idleRoles(ch1, ch2)
	if err != nil {
		t.Fatal(err)
	}
	if r != nil {
		t.Error("expected no regulator when neither channel idles")
	}
	// a nil regulator still honors the hold duration
	start := time.Now()
	if err := r.Hold(5*time.Millisecond, nil); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("expected nil regulator hold to sleep for the duration")
	}
}

func TestFixedHoldSummaryIsPositional(t *testing.T) {
	fastTick(t)
	sim1 := psu.NewSim(testCaps(), nil)
	sim2 := psu.NewSim(testCaps(), nil)
	sim1.TurnOn()
	sim2.TurnOn()
	ch1 := NewChannel("PSU1", 1, sim1)
	ch1.Test = TestParams{ILimit: 2}
	ch1.Idle = &IdleParams{VIdle: 4, VIdleMin: 4, VIdleMax: 4, IIdle: 0.5}
	// channel 2 does not idle; its summary slots must stay zero
	ch2 := NewChannel("PSU2", 1, sim2)
	r, err := idleRoles(ch1, ch2)
	if err != nil {
		t.Fatal(err)
	}
	rec := &collector{}
	if err := r.Hold(2*time.Millisecond, rec); err != nil {
		t.Fatal(err)
	}
	if len(rec.idles) != 1 {
		t.Fatalf("expected one idle summary, got %d", len(rec.idles))
	}
	sum := rec.idles[0]
	if sum.VFixed != 4 {
		t.Errorf("expected channel 1 in the fixed slots, got %g", sum.VFixed)
	}
	if sum.VReg != 0 || sum.IReg != 0 {
		t.Errorf("expected empty regulated slots for a non-idling channel, got %g and %g", sum.VReg, sum.IReg)
	}
}

func TestFixedHoldParksBothChannels(t *testing.T) {
	fastTick(t)
	sim1 := psu.NewSim(testCaps(), nil)
	sim2 := psu.NewSim(testCaps(), nil)
	sim1.TurnOn()
	sim2.TurnOn()
	ch1 := NewChannel("PSU1", 1, sim1)
	ch1.Test = TestParams{ILimit: 2}
	ch1.Idle = &IdleParams{VIdle: 4, VIdleMin: 4, VIdleMax: 4, IIdle: 0.5, PIdleLimit: 4}
	ch2 := NewChannel("PSU2", 1, sim2)
	ch2.Test = TestParams{ILimit: 2}
	ch2.Idle = &IdleParams{VIdle: 1, VIdleMin: 1, VIdleMax: 1, IIdle: 0.5}
	r, err := idleRoles(ch1, ch2)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Hold(2*time.Millisecond, nil); err != nil {
		t.Fatal(err)
	}
	if sim1.VSet != 4 || sim2.VSet != 1 {
		t.Errorf("expected both channels parked at their idle voltages, got %g and %g", sim1.VSet, sim2.VSet)
	}
	// PIdleLimit 4 W at 4 V caps the limit at 1 A, below the 2 A test limit
	if sim1.ISet != 1 {
		t.Errorf("expected idle power budget to cap the current limit at 1, got %g", sim1.ISet)
	}
}
