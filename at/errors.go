package at

import "errors"

var (
	// ErrTimeout is returned when the device does not produce the expected
	// bytes within the channel timeout.
	ErrTimeout = errors.New("at: timeout")

	// ErrCommandFailed is returned by Recv when the device answers with an
	// error final result (ERROR, FAIL or SEND FAIL) before the expected
	// pattern arrived.
	ErrCommandFailed = errors.New("at: command failed")

	// ErrClosed is returned by blocking channel operations after Close.
	ErrClosed = errors.New("at: channel closed")
)
