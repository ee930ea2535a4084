// Package psu defines the abstraction for programmable power supply outputs
// consumed by the tracing engine.  Concrete drivers live in their own
// vendor packages and implement Source.
package psu

// Mode describes what a supply output is regulating at the moment of a reading.
type Mode int

const (
	// ModeNone means the output is not regulating (e.g. disabled)
	ModeNone Mode = iota

	// ModeCV means the output is in constant-voltage operation
	ModeCV

	// ModeCC means the output is limiting current (compliance)
	ModeCC
)

func (m Mode) String() string {
	switch m {
	case ModeCV:
		return "CV"
	case ModeCC:
		return "CC"
	default:
		return "none"
	}
}

// Reading is one acquisition from a supply output
type Reading struct {
	// V is the measured output voltage in volts
	V float64

	// I is the measured output current in amps
	I float64

	// Mode is the regulation mode at the time of the reading
	Mode Mode
}

// Capabilities holds the static bounds and resolutions of a supply output.
// All drivers populate this once at construction; the engine treats it as
// immutable for the life of a run.
type Capabilities struct {
	// VMin and VMax bound the programmable output voltage, volts
	VMin float64 `json:"vmin"`
	VMax float64 `json:"vmax"`

	// IMax is the maximum programmable output current, amps
	IMax float64 `json:"imax"`

	// PMax is the maximum continuous output power, watts
	PMax float64 `json:"pmax"`

	// VResSet and IResSet are the programming resolutions
	VResSet float64 `json:"vresset"`
	IResSet float64 `json:"iresset"`

	// VResRead and IResRead are the readback resolutions
	VResRead float64 `json:"vresread"`
	IResRead float64 `json:"iresread"`
}

// Source is one independently controllable power supply output.
// Implementations are not required to be concurrent safe; the engine
// drives both outputs from a single goroutine.
type Source interface {
	// SetVoltage programs the output voltage.  If verify is true, the
	// setpoint is read back and compared against the set resolution.
	SetVoltage(v float64, verify bool) error

	// SetCurrent programs the output current limit, with optional readback
	SetCurrent(i float64, verify bool) error

	// Read acquires the output voltage, current, and regulation mode.
	// nStable is the number of consecutive readings the driver should
	// average before reporting; 1 yields a single raw acquisition.
	Read(nStable int) (Reading, error)

	// TurnOn enables the output
	TurnOn() error

	// TurnOff disables the output
	TurnOff() error

	// Capabilities returns the static bounds of this output
	Capabilities() Capabilities
}
