/*Package comm provides the transport layer for remote lab instruments.

A RemoteDevice wraps a connection to an instrument that is reached over
either TCP or a serial port and speaks a line-oriented protocol.  Typical
usage embeds a RemoteDevice in a driver type and builds the instrument's
command set on top of Send, Recv, and SendRecv:

	type MySupply struct {
		comm.RemoteDevice
	}

	func (s *MySupply) ReadVoltage() (float64, error) {
		err := s.Open()
		if err != nil {
			return 0, err
		}
		defer s.Close()
		resp, err := s.SendRecv([]byte("MEAS:VOLT?"))
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(string(resp), 64)
	}
*/
package comm

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrNoSerialConf is generated when a serial device is created without a serial.Config
	ErrNoSerialConf = errors.New("device is serial but has no serial config")

	// ErrNotConnected is generated when Conn is nil and Send or Recv is called
	ErrNotConnected = errors.New("conn is nil, not connected to remote")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// Terminators holds the Tx and Rx termination bytes for a device
type Terminators struct {
	Tx byte
	Rx byte
}

// RemoteDevice is a connection to an instrument over TCP or serial.
// It is not concurrent safe; the consumer is expected to own it from a
// single goroutine, which is how the test engine drives its supplies.
type RemoteDevice struct {
	// Addr is the network address (host:port) or serial device node
	Addr string

	// IsSerial toggles serial behavior; if true, SerialCfg must be populated
	IsSerial bool

	// Timeout bounds connect, read, and write on TCP connections
	Timeout time.Duration

	// SerialCfg is passed to serial.OpenPort when IsSerial is true
	SerialCfg *serial.Config

	// Conn is the underlying connection, nil when closed
	Conn io.ReadWriteCloser

	terms Terminators
}

// NewRemoteDevice creates a new RemoteDevice.  If terms is nil, both
// terminators default to carriage returns.
func NewRemoteDevice(addr string, isSerial bool, terms *Terminators, serCfg *serial.Config) RemoteDevice {
	if terms == nil {
		terms = &Terminators{Tx: '\r', Rx: '\r'}
	}
	return RemoteDevice{
		Addr:      addr,
		IsSerial:  isSerial,
		Timeout:   3 * time.Second,
		SerialCfg: serCfg,
		terms:     *terms}
}

// TxTerminator returns the transmission termination byte
func (rd *RemoteDevice) TxTerminator() byte {
	return rd.terms.Tx
}

// RxTerminator returns the receipt termination byte
func (rd *RemoteDevice) RxTerminator() byte {
	return rd.terms.Rx
}

// Open establishes the connection, setting the Conn variable.  Connection
// refusal is retried on an exponential backoff; some instruments hold the
// port briefly after a previous session and do not like being thrashed.
func (rd *RemoteDevice) Open() error {
	wasTimeout := false
	op := func() error {
		err := rd.open()
		if err != nil {
			errS := strings.ToLower(err.Error())
			if strings.Contains(errS, "refused") {
				return err
			}
			wasTimeout = true
			return nil
		}
		return nil
	}

	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock})
	if err == nil && !wasTimeout {
		return nil
	}
	if wasTimeout {
		return fmt.Errorf("connection timeout to %s", rd.Addr)
	}
	return err
}

func (rd *RemoteDevice) open() error {
	var (
		conn io.ReadWriteCloser
		err  error
	)
	if rd.IsSerial {
		if rd.SerialCfg == nil {
			return ErrNoSerialConf
		}
		conn, err = serial.OpenPort(rd.SerialCfg)
	} else {
		conn, err = TCPSetup(rd.Addr, rd.Timeout)
	}
	if err != nil {
		return err
	}
	rd.Conn = conn
	return nil
}

// Close the connection, nil-ing the Conn variable
func (rd *RemoteDevice) Close() error {
	if rd.Conn == nil {
		return nil
	}
	err := rd.Conn.Close()
	if err == nil {
		rd.Conn = nil
	}
	return err
}

// Send writes data to the remote with the Tx terminator appended
func (rd *RemoteDevice) Send(b []byte) error {
	if rd.Conn == nil {
		return ErrNotConnected
	}
	b = append(b, rd.TxTerminator())
	_, err := rd.Conn.Write(b)
	return err
}

// Recv receives data from the remote and strips the Rx terminator
func (rd *RemoteDevice) Recv() ([]byte, error) {
	if rd.Conn == nil {
		return nil, ErrNotConnected
	}
	term := rd.RxTerminator()
	buf, err := bufio.NewReader(rd.Conn).ReadBytes(term)
	if err != nil {
		return []byte{}, err
	}
	if bytes.HasSuffix(buf, []byte{term}) {
		return buf[:len(buf)-1], nil
	}
	return buf, ErrTerminatorNotFound
}

// SendRecv sends a buffer after appending the Tx terminator,
// then returns the response with the Rx terminator stripped
func (rd *RemoteDevice) SendRecv(b []byte) ([]byte, error) {
	err := rd.Send(b)
	if err != nil {
		return []byte{}, err
	}
	return rd.Recv()
}

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}
