package psu

// Sim is a simulated supply output driving a model load.  It is used by the
// engine tests and by the "mock" channel type for dry runs without hardware.
//
// The load model is a function from applied voltage to drawn current.  When
// the drawn current exceeds the programmed limit the output reports
// compliance: the current reads as the limit and Mode is ModeCC.
type Sim struct {
	// Caps are the static bounds reported by Capabilities
	Caps Capabilities

	// Load computes the current drawn from this output at an applied
	// voltage.  If nil, the output draws no current.
	Load func(v float64) float64

	// VSet and ISet are the last programmed voltage and current limit
	VSet float64
	ISet float64

	// On tracks the output enable state
	On bool

	// TurnOnCalls and TurnOffCalls count enable/disable operations
	TurnOnCalls  int
	TurnOffCalls int

	// Err, when non-nil, is returned by every operation.  Tests use it to
	// simulate an instrument dropping off the bus.
	Err error
}

// NewSim returns a simulated output with the given bounds and load model
func NewSim(caps Capabilities, load func(float64) float64) *Sim {
	return &Sim{Caps: caps, Load: load}
}

// SetVoltage programs the simulated output voltage
func (s *Sim) SetVoltage(v float64, verify bool) error {
	if s.Err != nil {
		return s.Err
	}
	s.VSet = v
	return nil
}

// SetCurrent programs the simulated current limit
func (s *Sim) SetCurrent(i float64, verify bool) error {
	if s.Err != nil {
		return s.Err
	}
	s.ISet = i
	return nil
}

// Read computes the operating point of the model load
func (s *Sim) Read(nStable int) (Reading, error) {
	if s.Err != nil {
		return Reading{}, s.Err
	}
	if !s.On {
		return Reading{}, nil
	}
	var i float64
	if s.Load != nil {
		i = s.Load(s.VSet)
	}
	if s.ISet > 0 && i > s.ISet {
		// compliance: the supply clamps the current at the limit
		return Reading{V: s.VSet, I: s.ISet, Mode: ModeCC}, nil
	}
	return Reading{V: s.VSet, I: i, Mode: ModeCV}, nil
}

// TurnOn enables the simulated output
func (s *Sim) TurnOn() error {
	if s.Err != nil {
		return s.Err
	}
	s.TurnOnCalls++
	s.On = true
	return nil
}

// TurnOff disables the simulated output.  It succeeds even when Err is set;
// a dead bus must never prevent the engine from attempting shutdown, and
// counting the attempts is the point of the mock.
func (s *Sim) TurnOff() error {
	s.TurnOffCalls++
	s.On = false
	return nil
}

// Capabilities returns the static bounds of the simulated output
func (s *Sim) Capabilities() Capabilities {
	return s.Caps
}
