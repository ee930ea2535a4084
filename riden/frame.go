package riden

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/snksoft/crc"
)

// Modbus RTU function codes used by the RD front panel firmware
const (
	fnReadHolding = 0x03
	fnWriteSingle = 0x06
)

var (
	// crcTable implements CRC16/MODBUS; snksoft/crc has no predefined
	// parameter set for it, so spell the polynomial out
	crcTable = crc.NewTable(&crc.Parameters{
		Width:      16,
		Polynomial: 0x8005,
		ReflectIn:  true,
		ReflectOut: true,
		Init:       0xFFFF,
		FinalXor:   0x0000})

	// ErrBadCRC is generated when a response fails its frame check
	ErrBadCRC = errors.New("response CRC mismatch")

	// ErrShortFrame is generated when a response is too small to carry a CRC
	ErrShortFrame = errors.New("response too short to be a modbus frame")
)

// appendCRC appends the CRC16/MODBUS of b to it, low byte first per the wire order
func appendCRC(b []byte) []byte {
	sum := crcTable.CalculateCRC(b)
	return append(b, byte(sum), byte(sum>>8))
}

// checkCRC validates the trailing two bytes of b and returns the frame
// without them
func checkCRC(b []byte) ([]byte, error) {
	if len(b) < 3 {
		return nil, ErrShortFrame
	}
	body := b[:len(b)-2]
	sum := crcTable.CalculateCRC(body)
	if b[len(b)-2] != byte(sum) || b[len(b)-1] != byte(sum>>8) {
		return nil, ErrBadCRC
	}
	return body, nil
}

// encReadHolding encodes a read of count holding registers starting at reg
func encReadHolding(station byte, reg, count uint16) []byte {
	b := make([]byte, 6)
	b[0] = station
	b[1] = fnReadHolding
	binary.BigEndian.PutUint16(b[2:], reg)
	binary.BigEndian.PutUint16(b[4:], count)
	return appendCRC(b)
}

// encWriteSingle encodes a write of value to a single holding register
func encWriteSingle(station byte, reg, value uint16) []byte {
	b := make([]byte, 6)
	b[0] = station
	b[1] = fnWriteSingle
	binary.BigEndian.PutUint16(b[2:], reg)
	binary.BigEndian.PutUint16(b[4:], value)
	return appendCRC(b)
}

// decReadHolding validates a read-holding response from station and unpacks
// the register values
func decReadHolding(resp []byte, station byte) ([]uint16, error) {
	body, err := checkCRC(resp)
	if err != nil {
		return nil, err
	}
	if len(body) < 3 {
		return nil, ErrShortFrame
	}
	if body[0] != station {
		return nil, fmt.Errorf("response from station %d, expected %d", body[0], station)
	}
	if body[1] != fnReadHolding {
		return nil, fmt.Errorf("unexpected function code %#x in response", body[1])
	}
	nbytes := int(body[2])
	data := body[3:]
	if len(data) != nbytes || nbytes%2 != 0 {
		return nil, fmt.Errorf("malformed register payload, header says %d bytes, have %d", nbytes, len(data))
	}
	out := make([]uint16, nbytes/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return out, nil
}
