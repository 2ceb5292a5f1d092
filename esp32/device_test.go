package esp32_test

import (
	"context"
	"errors"
	"io"
	"slices"
	"testing"

	"go.uber.org/mock/gomock"

	"i4.energy/across/espat/esp32"
)

// pinTransport is a scripted firmware wired to mocked reset lines.
type pinTransport struct {
	*esp32.TestTransport
	*esp32.MockResetController
}

func TestDeviceNew(t *testing.T) {
	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		_, err := esp32.New(context.Background(), esp32.Config{})

		if err != esp32.ErrNoDialer {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
	})

	t.Run("Dial failure is wrapped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		dialErr := errors.New("port busy")
		mockDialer := esp32.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(nil, dialErr)

		config, err := testConfig().WithDialer(mockDialer).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		d, err := esp32.New(context.Background(), config)

		if !errors.Is(err, dialErr) {
			t.Errorf("expected wrapped dial error, got: %v", err)
		}
		if d != nil {
			t.Error("New() should return nil device on failure")
		}
	})

	t.Run("No traffic before the first operation", func(t *testing.T) {
		_, tt := newDevice(t, testConfig())

		if cmds := tt.Commands(); len(cmds) != 0 {
			t.Errorf("expected no commands, got: %q", cmds)
		}
	})
}

func TestDeviceClose(t *testing.T) {
	t.Run("Second Close returns ErrAlreadyClosed", func(t *testing.T) {
		d, _ := newDevice(t, testConfig())

		if err := d.Close(); err != nil {
			t.Errorf("unexpected error from Close(): %v", err)
		}
		if err := d.Close(); err != esp32.ErrAlreadyClosed {
			t.Errorf("expected ErrAlreadyClosed, got: %v", err)
		}
		if _, err := d.FreeID(); err != esp32.ErrAlreadyClosed {
			t.Errorf("expected ErrAlreadyClosed from FreeID(), got: %v", err)
		}
	})

	t.Run("Transport close error is wrapped", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		done := make(chan struct{})
		closeErr := errors.New("close failed")
		mockTransport := esp32.NewMockTransport(ctrl)
		mockDialer := esp32.NewMockDialer(ctrl)
		mockDialer.EXPECT().Dial(gomock.Any()).Return(mockTransport, nil)
		mockTransport.EXPECT().Read(gomock.Any()).DoAndReturn(func([]byte) (int, error) {
			<-done
			return 0, io.EOF
		}).AnyTimes()
		mockTransport.EXPECT().Close().Return(closeErr)

		config, err := testConfig().WithDialer(mockDialer).Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		d, err := esp32.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}

		err = d.Close()
		close(done)

		if !errors.Is(err, closeErr) {
			t.Errorf("expected wrapped close error, got: %v", err)
		}
	})
}

func TestDeviceBringUp(t *testing.T) {
	t.Run("First operation resets and configures the firmware", func(t *testing.T) {
		d, tt := newDevice(t, testConfig())

		if err := d.Disconnect(); err != nil {
			t.Fatalf("unexpected error from Disconnect(): %v", err)
		}

		expected := []string{
			"AT+RST",
			"AT+UART_CUR=115200,8,1,0,0",
			"AT+GMR",
			"AT+CWMODE=1",
			"AT+CIPMUX=1",
			"AT+CWAUTOCONN=0",
			"AT+CWQAP",
			"AT+CWQAP",
		}
		if cmds := tt.Commands(); !slices.Equal(cmds, expected) {
			t.Errorf("expected commands %q, got: %q", expected, cmds)
		}
	})

	t.Run("Bring-up runs once", func(t *testing.T) {
		d, tt := newDevice(t, testConfig())

		for range 3 {
			if err := d.Disconnect(); err != nil {
				t.Fatalf("unexpected error from Disconnect(): %v", err)
			}
		}

		if n := tt.Count("AT+RST"); n != 1 {
			t.Errorf("expected 1 reset, got: %d", n)
		}
		if n := tt.Count("AT+CWMODE="); n != 1 {
			t.Errorf("expected 1 AT+CWMODE, got: %d", n)
		}
	})

	t.Run("Firmware version", func(t *testing.T) {
		d, _ := newDevice(t, testConfig())

		v, err := d.FirmwareVersion()
		if err != nil {
			t.Fatalf("unexpected error from FirmwareVersion(): %v", err)
		}
		if v.String() != "2.1.0" {
			t.Errorf("expected version 2.1.0, got: %s", v)
		}

		info, err := d.VersionInfo()
		if err != nil {
			t.Fatalf("unexpected error from VersionInfo(): %v", err)
		}
		if len(info) != 2 {
			t.Errorf("expected 2 version lines, got: %q", info)
		}
	})

	t.Run("UART settings follow the firmware", func(t *testing.T) {
		d, tt := newDevice(t, testConfig().
			WithBaudRate(921600).
			WithFlowControl(esp32.FlowRTSCTS))

		if _, err := d.FirmwareVersion(); err != nil {
			t.Fatalf("unexpected error from FirmwareVersion(): %v", err)
		}

		if n := tt.Count("AT+UART_CUR=921600,8,1,0,3"); n != 1 {
			t.Errorf("expected AT+UART_CUR with 921600 baud and RTS/CTS, got: %q", tt.Commands())
		}
		if bauds := tt.BaudRates(); !slices.Equal(bauds, []int{115200, 921600}) {
			t.Errorf("unexpected baud rate sequence: %v", bauds)
		}
		flows := tt.FlowControls()
		if !slices.Equal(flows, []esp32.FlowControl{esp32.FlowNone, esp32.FlowRTSCTS}) {
			t.Errorf("unexpected flow control sequence: %v", flows)
		}
	})

	t.Run("Rejected UART settings keep the default baud rate", func(t *testing.T) {
		d, tt := newDevice(t, testConfig().WithBaudRate(921600))
		tt.Reply("AT+UART_CUR=", "\r\nERROR\r\n")

		if _, err := d.FirmwareVersion(); err != nil {
			t.Fatalf("unexpected error from FirmwareVersion(): %v", err)
		}
		if bauds := tt.BaudRates(); !slices.Equal(bauds, []int{115200}) {
			t.Errorf("unexpected baud rate sequence: %v", bauds)
		}
	})

	t.Run("ErrResetFailed after two failed resets", func(t *testing.T) {
		d, tt := newDevice(t, testConfig())
		tt.Reply("AT+RST", "\r\nERROR\r\n")

		_, err := d.FirmwareVersion()

		if !errors.Is(err, esp32.ErrResetFailed) {
			t.Errorf("expected ErrResetFailed, got: %v", err)
		}
		if n := tt.Count("AT+RST"); n != 2 {
			t.Errorf("expected 2 reset attempts, got: %d", n)
		}
	})

	t.Run("Hardware reset pulses EN with IO0 high", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		tt := esp32.NewTestTransport()
		pins := esp32.NewMockResetController(ctrl)
		gomock.InOrder(
			pins.EXPECT().SetBoot(true).Return(nil),
			pins.EXPECT().SetEnable(false).Return(nil),
			pins.EXPECT().SetEnable(true).DoAndReturn(func(bool) error {
				tt.SendData("\r\nready\r\n")
				return nil
			}),
		)

		config, err := testConfig().
			WithDialer(esp32.TestDialer{Transport: pinTransport{tt, pins}}).
			WithHardReset(true).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}
		d, err := esp32.New(context.Background(), config)
		if err != nil {
			t.Fatalf("unexpected error from New(): %v", err)
		}
		defer d.Close()

		if _, err := d.FirmwareVersion(); err != nil {
			t.Errorf("unexpected error from FirmwareVersion(): %v", err)
		}
		if cmds := tt.Commands(); len(cmds) == 0 || cmds[0] != "AT+RST" {
			t.Errorf("expected AT+RST after the hardware reset, got: %q", cmds)
		}
	})

	t.Run("Hardware reset falls back without reset lines", func(t *testing.T) {
		d, tt := newDevice(t, testConfig().WithHardReset(true))

		if _, err := d.FirmwareVersion(); err != nil {
			t.Errorf("unexpected error from FirmwareVersion(): %v", err)
		}
		if n := tt.Count("AT+RST"); n != 1 {
			t.Errorf("expected 1 reset, got: %d", n)
		}
	})
}

func TestDeviceSetMode(t *testing.T) {
	t.Run("Changing the mode restarts the firmware", func(t *testing.T) {
		d, tt := newDevice(t, testConfig())
		id := openSocket(t, d)

		if err := d.SetMode(esp32.ModeStationSoftAP); err != nil {
			t.Fatalf("unexpected error from SetMode(): %v", err)
		}

		if n := tt.Count("AT+RST"); n != 2 {
			t.Errorf("expected 2 resets, got: %d", n)
		}
		if n := tt.Count("AT+CWMODE=3"); n != 1 {
			t.Errorf("expected AT+CWMODE=3, got: %q", tt.Commands())
		}
		if d.Mode() != esp32.ModeStationSoftAP {
			t.Errorf("unexpected mode: %d", d.Mode())
		}
		if _, err := d.Recv(id, make([]byte, 8), 0); !errors.Is(err, esp32.ErrSocketClosed) {
			t.Errorf("expected ErrSocketClosed after restart, got: %v", err)
		}
	})

	t.Run("Same mode is a no-op", func(t *testing.T) {
		d, tt := newDevice(t, testConfig())

		if err := d.SetMode(esp32.ModeStation); err != nil {
			t.Errorf("unexpected error from SetMode(): %v", err)
		}
		if cmds := tt.Commands(); len(cmds) != 0 {
			t.Errorf("expected no commands, got: %q", cmds)
		}
	})

	t.Run("ErrInvalidMode for unknown modes", func(t *testing.T) {
		d, _ := newDevice(t, testConfig())

		if err := d.SetMode(4); !errors.Is(err, esp32.ErrInvalidMode) {
			t.Errorf("expected ErrInvalidMode, got: %v", err)
		}
	})

	t.Run("Restart before bring-up runs the bring-up", func(t *testing.T) {
		d, tt := newDevice(t, testConfig())

		if err := d.Restart(); err != nil {
			t.Fatalf("unexpected error from Restart(): %v", err)
		}
		if n := tt.Count("AT+RST"); n != 1 {
			t.Errorf("expected 1 reset, got: %d", n)
		}
		if n := tt.Count("AT+CWAUTOCONN=0"); n != 1 {
			t.Errorf("expected full Wi-Fi setup, got: %q", tt.Commands())
		}
	})
}
