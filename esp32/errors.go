package esp32

import "errors"

var (
	// ErrNoDialer is returned when a Device is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the ESP32.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrAlreadyClosed is returned by every operation on a Device that has
	// been closed, including a second Close.
	ErrAlreadyClosed = errors.New("device already closed")

	// ErrResetFailed is returned when the firmware did not acknowledge
	// AT+RST after every attempt.
	ErrResetFailed = errors.New("device reset failed")

	// ErrNoFreeSocket is returned by FreeID when all sockets are allocated
	// or still open.
	ErrNoFreeSocket = errors.New("no free socket")

	// ErrInvalidSocket is returned for socket ids outside [0, SocketCount).
	ErrInvalidSocket = errors.New("invalid socket id")

	// ErrSocketClosed is returned when data is sent to or read from a
	// socket the remote end or the firmware has closed.
	ErrSocketClosed = errors.New("socket closed")

	// ErrWouldBlock is returned by Recv when the socket is open but no data
	// arrived within the timeout.
	//
	// It is not a failure. Callers are expected to retry, typically after
	// the socket's Attach callback fired.
	ErrWouldBlock = errors.New("operation would block")

	// ErrServerActive is returned by CreateServer when a server is already
	// listening.
	ErrServerActive = errors.New("server already active")

	// ErrServerInactive is returned by DeleteServer and Accept when no
	// server is listening.
	ErrServerInactive = errors.New("server not active")

	// ErrFirmwareTooOld is returned by BLE operations when the AT firmware
	// predates the BLE command set this driver speaks.
	ErrFirmwareTooOld = errors.New("firmware too old for BLE")

	// ErrBLEDisabled is returned by BLE operations on a Device configured
	// without BLE.
	ErrBLEDisabled = errors.New("BLE not enabled")

	// ErrInvalidMode is returned for Wi-Fi modes outside 1..3.
	ErrInvalidMode = errors.New("invalid wifi mode")

	// ErrInvalidRole is returned for BLE roles other than client or server.
	ErrInvalidRole = errors.New("invalid BLE role")
)
