package esp32

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

//go:generate go tool mockgen -source=transport.go -destination=mock_transport_test.go -package=esp32

// FlowControl selects UART hardware flow control. The values are those of
// the firmware's AT+UART_CUR flow control argument.
type FlowControl int

const (
	FlowNone FlowControl = iota
	FlowRTS
	FlowCTS
	FlowRTSCTS
)

// Transport represents an established, bidirectional byte stream to an
// ESP32 running the AT firmware.
//
// A Transport is assumed to be already connected. Besides raw I/O it must be
// able to follow the baud rate and flow control changes the driver
// negotiates with the firmware after each reset.
type Transport interface {
	io.ReadWriteCloser
	SetBaudRate(baud int) error
	SetFlowControl(fc FlowControl) error
}

// ResetController drives the EN (chip enable) and IO0 (boot strap) lines of
// the ESP32. Transports that can do so implement it next to Transport; the
// driver then resets the chip in hardware before the first AT+RST.
type ResetController interface {
	SetEnable(high bool) error
	SetBoot(high bool) error
}

// Dialer opens a Transport to an ESP32.
//
// Dialer abstracts how the connection is created (for example, via a serial
// port, a TCP bridge, or a test double) and is used during Device
// construction only.
type Dialer interface {
	// Dial creates and returns a connected Transport. It may perform
	// blocking operations and should respect cancellation of ctx.
	Dial(ctx context.Context) (Transport, error)
}

// SerialDialer opens the ESP32 UART through go.bug.st/serial.
type SerialDialer struct {
	PortName string
	// Mode defaults to 115200 8N1.
	Mode *serial.Mode
	// ResetLines wires RTS to EN and DTR to IO0, the usual auto-reset
	// circuit of ESP32 development boards. Both lines are inverted.
	ResetLines bool
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("esp32: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("esp32: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if d.Mode != nil {
		mode = *d.Mode
	}

	port, err := serial.Open(d.PortName, &mode)
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", d.PortName)
	}

	t := &serialTransport{port: port, mode: mode}
	if d.ResetLines {
		return &resetTransport{serialTransport: t}, nil
	}
	return t, nil
}

type serialTransport struct {
	port serial.Port
	mode serial.Mode
	flow FlowControl
}

func (t *serialTransport) Read(p []byte) (int, error) {
	n, err := t.port.Read(p)
	if err != nil {
		return n, errors.Wrap(err, "serial read")
	}
	if n == 0 {
		// go.bug.st/serial reports a closed port as a zero length read
		return 0, io.EOF
	}
	return n, nil
}

func (t *serialTransport) Write(p []byte) (int, error) {
	n, err := t.port.Write(p)
	if err != nil {
		return n, errors.Wrap(err, "serial write")
	}
	return n, nil
}

func (t *serialTransport) Close() error {
	return errors.Wrap(t.port.Close(), "serial close")
}

func (t *serialTransport) SetBaudRate(baud int) error {
	mode := t.mode
	mode.BaudRate = baud
	if err := t.port.SetMode(&mode); err != nil {
		return errors.Wrapf(err, "set baud rate %d", baud)
	}
	t.mode = mode
	return nil
}

// SetFlowControl records the negotiated mode. RTS/CTS handshaking on the
// host side is a property of the tty and is left to its configuration.
func (t *serialTransport) SetFlowControl(fc FlowControl) error {
	t.flow = fc
	return nil
}

type resetTransport struct {
	*serialTransport
}

func (t *resetTransport) SetEnable(high bool) error {
	return errors.Wrap(t.port.SetRTS(!high), "set EN")
}

func (t *resetTransport) SetBoot(high bool) error {
	return errors.Wrap(t.port.SetDTR(!high), "set IO0")
}
