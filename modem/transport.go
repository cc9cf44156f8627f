package modem

//go:generate go tool mockgen -source=transport.go -destination=mock_transport.go -package=modem

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the factory setting of the SIM800 family.
const DefaultBaudRate = 9600

// Transport represents an established, bidirectional byte stream to a
// cellular modem.
//
// A Transport is assumed to be already connected and ready for use. Typical
// implementations include serial ports, a pty attached to a simulator, or
// in-memory fakes used for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a modem.
//
// Dialer is only used during Session construction. Once a Transport is
// obtained, the Dialer is no longer needed.
type Dialer interface {
	// Dial creates and returns a connected Transport. It may block and should
	// respect cancellation of ctx.
	Dial(ctx context.Context) (Transport, error)
}

// PowerKey drives the modem's PWRKEY line. Driving it low for a couple of
// seconds toggles the modem power.
type PowerKey interface {
	Drive(high bool) error
}

// SerialDialer opens a modem over a serial port using go.bug.st/serial.
type SerialDialer struct {
	// PortName is the OS name of the port, e.g. /dev/ttyS0 or COM3.
	PortName string
	// BaudRate is used when Mode is nil. Zero selects DefaultBaudRate.
	BaudRate int
	// Mode overrides the 8N1 default line settings.
	Mode *serial.Mode
}

// Dial implements Dialer.
func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("modem: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("modem: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		baud := d.BaudRate
		if baud == 0 {
			baud = DefaultBaudRate
		}
		mode = &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
	}

	type result struct {
		port serial.Port
		err  error
	}
	done := make(chan result, 1)
	go func() {
		p, err := serial.Open(d.PortName, mode)
		done <- result{p, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("modem: open %s: %w", d.PortName, r.err)
		}
		return r.port, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.err == nil {
				r.port.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
