package transport

import (
	"context"
	"fmt"

	"go.bug.st/serial"
)

// DefaultBaudRate is used when neither BaudRate nor Mode is set.
const DefaultBaudRate = 115200

// SerialDialer opens a serial port using go.bug.st/serial.
//
// The returned Transport is the serial.Port itself, so writers can call its
// Drain method to wait for output to leave the UART.
type SerialDialer struct {
	PortName string
	// BaudRate is used with 8N1 framing when Mode is nil.
	BaudRate int
	// Mode overrides the line settings entirely.
	Mode *serial.Mode
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if d.PortName == "" {
		return nil, ErrNoPortName
	}
	if ctx == nil {
		return nil, ErrNilContext
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

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", d.PortName, err)
	}
	return port, nil
}
