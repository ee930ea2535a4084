// Package keysight provides an interface to Keysight bench power supplies in Go
package keysight

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tarm/serial"
	"github.jpl.nasa.gov/bdube/ivtrace/comm"
	"github.jpl.nasa.gov/bdube/ivtrace/mathx"
	"github.jpl.nasa.gov/bdube/ivtrace/psu"
)

// questionable status condition bits, E36xx family.
// voltage questionable means the output fell out of voltage regulation (CC),
// current questionable the reverse.
const (
	condVoltage = 1 << 0
	condCurrent = 1 << 1
)

// makeSerConf makes a new serial.Config with correct parity, baud, etc, set.
func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Minute}
}

// E36 is an interface to E36xx series bench power supplies
type E36 struct {
	comm.RemoteDevice

	caps psu.Capabilities
}

// NewE36 creates a new E36 instance with the communication set up.
// caps should describe the concrete model; see E36312ACaps for an example.
func NewE36(addr string, serial bool, caps psu.Capabilities) *E36 {
	term := &comm.Terminators{Tx: '\n', Rx: '\n'}
	rd := comm.NewRemoteDevice(addr, serial, term, makeSerConf(addr))
	return &E36{RemoteDevice: rd, caps: caps}
}

// E36312ACaps returns the capability bounds of the 6V/5A output of an E36312A
func E36312ACaps() psu.Capabilities {
	return psu.Capabilities{
		VMin: 0, VMax: 6, IMax: 5, PMax: 30,
		VResSet: 0.001, IResSet: 0.001, VResRead: 0.0001, IResRead: 0.0001}
}

func (e *E36) writeOnlyBus(cmds ...string) error {
	err := e.RemoteDevice.Open()
	if err != nil {
		return err
	}
	defer e.RemoteDevice.Close()
	return e.RemoteDevice.Send([]byte(strings.Join(cmds, " ")))
}

func (e *E36) readString(cmds ...string) (string, error) {
	err := e.RemoteDevice.Open()
	if err != nil {
		return "", err
	}
	defer e.RemoteDevice.Close()
	resp, err := e.RemoteDevice.SendRecv([]byte(strings.Join(cmds, " ")))
	if err != nil {
		return "", err
	}
	return string(resp), nil
}

func (e *E36) readFloat(cmds ...string) (float64, error) {
	resp, err := e.readString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(resp), 64)
}

func (e *E36) readInt(cmds ...string) (int, error) {
	resp, err := e.readString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(resp))
}

// SetVoltage programs the output voltage, optionally reading the setpoint
// back and comparing it against the programming resolution
func (e *E36) SetVoltage(v float64, verify bool) error {
	s := strconv.FormatFloat(v, 'G', -1, 64)
	err := e.writeOnlyBus("VOLT", s)
	if err != nil || !verify {
		return err
	}
	rb, err := e.readFloat("VOLT?")
	if err != nil {
		return err
	}
	if math.Abs(rb-v) > e.caps.VResSet {
		return fmt.Errorf("voltage setpoint readback %g does not match %g", rb, v)
	}
	return nil
}

// SetCurrent programs the output current limit with optional readback
func (e *E36) SetCurrent(i float64, verify bool) error {
	s := strconv.FormatFloat(i, 'G', -1, 64)
	err := e.writeOnlyBus("CURR", s)
	if err != nil || !verify {
		return err
	}
	rb, err := e.readFloat("CURR?")
	if err != nil {
		return err
	}
	if math.Abs(rb-i) > e.caps.IResSet {
		return fmt.Errorf("current setpoint readback %g does not match %g", rb, i)
	}
	return nil
}

// Read measures the output voltage and current and queries the regulation
// mode.  nStable readings are averaged; any that report compliance marks
// the whole acquisition as compliance-limited.
func (e *E36) Read(nStable int) (psu.Reading, error) {
	if nStable < 1 {
		nStable = 1
	}
	var (
		vs   = make([]float64, nStable)
		is   = make([]float64, nStable)
		mode = psu.ModeNone
	)
	for idx := 0; idx < nStable; idx++ {
		v, err := e.readFloat("MEAS:VOLT?")
		if err != nil {
			return psu.Reading{}, err
		}
		i, err := e.readFloat("MEAS:CURR?")
		if err != nil {
			return psu.Reading{}, err
		}
		cond, err := e.readInt("STAT:QUES:COND?")
		if err != nil {
			return psu.Reading{}, err
		}
		vs[idx], is[idx] = v, i
		switch {
		case cond&condVoltage != 0:
			mode = psu.ModeCC
		case cond&condCurrent != 0 && mode != psu.ModeCC:
			mode = psu.ModeCV
		}
	}
	return psu.Reading{V: mathx.Mean(vs), I: mathx.Mean(is), Mode: mode}, nil
}

// TurnOn enables the output
func (e *E36) TurnOn() error {
	return e.writeOnlyBus("OUTP ON")
}

// TurnOff disables the output
func (e *E36) TurnOff() error {
	return e.writeOnlyBus("OUTP OFF")
}

// Capabilities returns the static bounds of the supply
func (e *E36) Capabilities() psu.Capabilities {
	return e.caps
}

// Raw sends a command and retrieves the reply if there is a question mark in
// the command, else returns "", err
func (e *E36) Raw(cmd string) (string, error) {
	if strings.Contains(cmd, "?") {
		return e.readString(cmd)
	}
	return "", e.writeOnlyBus(cmd)
}
