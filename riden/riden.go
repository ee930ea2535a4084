// Package riden provides an interface to Riden RD-series programmable
// supplies in Go.  The RD units speak Modbus RTU over their USB serial port;
// values live in fixed-point holding registers.
package riden

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/tarm/serial"
	"github.jpl.nasa.gov/bdube/ivtrace/comm"
	"github.jpl.nasa.gov/bdube/ivtrace/mathx"
	"github.jpl.nasa.gov/bdube/ivtrace/psu"
)

// holding register map, common to the RD60xx family
const (
	regVSet   = 8
	regISet   = 9
	regVOut   = 10
	regIOut   = 11
	regCVCC   = 17
	regOutput = 18
)

// RD represents one RD-series supply
type RD struct {
	comm.RemoteDevice

	station byte

	// vDiv and iDiv convert volts/amps to register counts
	vDiv float64
	iDiv float64

	caps psu.Capabilities
}

// NewRD6006 creates a new RD instance for an RD6006 (60 V, 6 A) at the given
// serial port and modbus station address (1 on factory firmware)
func NewRD6006(addr string, station byte) *RD {
	cfg := &serial.Config{
		Name:        addr,
		Baud:        115200,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 3 * time.Second}
	rd := comm.NewRemoteDevice(addr, true, nil, cfg)
	return &RD{
		RemoteDevice: rd,
		station:      station,
		vDiv:         100,
		iDiv:         1000,
		caps: psu.Capabilities{
			VMin: 0, VMax: 60, IMax: 6, PMax: 360,
			VResSet: 0.01, IResSet: 0.001, VResRead: 0.01, IResRead: 0.0001}}
}

// transact sends a raw frame and reads back exactly respLen bytes.  Modbus
// RTU is binary with no terminator, so this bypasses Send/Recv and works on
// the connection directly.
func (r *RD) transact(req []byte, respLen int) ([]byte, error) {
	err := r.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	_, err = r.Conn.Write(req)
	if err != nil {
		return nil, err
	}
	resp := make([]byte, respLen)
	_, err = io.ReadFull(r.Conn, resp)
	return resp, err
}

func (r *RD) readRegs(reg, count uint16) ([]uint16, error) {
	req := encReadHolding(r.station, reg, count)
	// station + fn + nbytes + payload + crc16
	resp, err := r.transact(req, 5+2*int(count))
	if err != nil {
		return nil, err
	}
	return decReadHolding(resp, r.station)
}

func (r *RD) writeReg(reg, value uint16) error {
	req := encWriteSingle(r.station, reg, value)
	// the write-single response echoes the request
	resp, err := r.transact(req, len(req))
	if err != nil {
		return err
	}
	if _, err := checkCRC(resp); err != nil {
		return err
	}
	return nil
}

// SetVoltage programs the output voltage, optionally reading the register
// back to confirm the panel accepted it
func (r *RD) SetVoltage(v float64, verify bool) error {
	counts := uint16(math.Round(v * r.vDiv))
	err := r.writeReg(regVSet, counts)
	if err != nil || !verify {
		return err
	}
	regs, err := r.readRegs(regVSet, 1)
	if err != nil {
		return err
	}
	if regs[0] != counts {
		return fmt.Errorf("voltage setpoint readback %d counts does not match %d", regs[0], counts)
	}
	return nil
}

// SetCurrent programs the output current limit with optional readback
func (r *RD) SetCurrent(i float64, verify bool) error {
	counts := uint16(math.Round(i * r.iDiv))
	err := r.writeReg(regISet, counts)
	if err != nil || !verify {
		return err
	}
	regs, err := r.readRegs(regISet, 1)
	if err != nil {
		return err
	}
	if regs[0] != counts {
		return fmt.Errorf("current setpoint readback %d counts does not match %d", regs[0], counts)
	}
	return nil
}

// Read measures the output.  nStable samples of the measurement registers
// are averaged; the CV/CC flag is polled with each sample.
func (r *RD) Read(nStable int) (psu.Reading, error) {
	if nStable < 1 {
		nStable = 1
	}
	var (
		vs   = make([]float64, nStable)
		is   = make([]float64, nStable)
		mode = psu.ModeNone
	)
	for idx := 0; idx < nStable; idx++ {
		// one shot covers VOut..Output, the flags ride along for free
		regs, err := r.readRegs(regVOut, regOutput-regVOut+1)
		if err != nil {
			return psu.Reading{}, err
		}
		vs[idx] = float64(regs[0]) / r.vDiv
		is[idx] = float64(regs[1]) / r.iDiv
		on := regs[regOutput-regVOut] != 0
		cc := regs[regCVCC-regVOut] != 0
		switch {
		case !on:
			// leave ModeNone
		case cc:
			mode = psu.ModeCC
		case mode != psu.ModeCC:
			mode = psu.ModeCV
		}
	}
	return psu.Reading{V: mathx.Mean(vs), I: mathx.Mean(is), Mode: mode}, nil
}

// TurnOn enables the output
func (r *RD) TurnOn() error {
	return r.writeReg(regOutput, 1)
}

// TurnOff disables the output
func (r *RD) TurnOff() error {
	return r.writeReg(regOutput, 0)
}

// Capabilities returns the static bounds of the supply
func (r *RD) Capabilities() psu.Capabilities {
	return r.caps
}
