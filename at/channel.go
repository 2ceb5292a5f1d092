package at

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTimeout is the channel timeout until SetTimeout is called.
	DefaultTimeout = 2 * time.Second

	// maxLine bounds the line buffer. Longer lines are dropped in pieces.
	maxLine = 512

	readSize = 256
)

// Tracer receives the debug trace of a Channel.
type Tracer interface {
	Debugf(format string, args ...any)
}

// ChannelOption configures a Channel.
type ChannelOption func(*Channel)

// WithReadableHook installs a function invoked by the reader goroutine every
// time new bytes become available. The hook runs concurrently with channel
// users and must not call back into the Channel.
func WithReadableHook(hook func()) ChannelOption {
	return func(c *Channel) {
		c.hook = hook
	}
}

// WithTracer traces every command sent and every line received.
func WithTracer(t Tracer) ChannelOption {
	return func(c *Channel) {
		c.tracer = t
	}
}

// Channel is a command/response channel over a byte stream to an AT device.
//
// A single reader goroutine pumps the stream into an internal queue. All
// other methods are meant to be called by one goroutine at a time, the
// owner of the device lock; only Readable may race with the reader.
//
// Out-of-band notifications are registered with OOB. While Recv, Read or
// ProcessOOB consume the stream, a line whose leading bytes equal a
// registered prefix hands control to that prefix's handler, which continues
// consuming the rest of the notification through the same Channel.
type Channel struct {
	rw io.ReadWriter

	// chunks carries bytes from the reader goroutine. It is closed when the
	// stream fails, after err has been set.
	chunks  chan []byte
	err     error
	pending []byte

	done      chan struct{}
	closeOnce sync.Once

	timeout time.Duration
	oobs    map[string]func()
	inOOB   bool

	hook   func()
	tracer Tracer
}

// NewChannel starts reading from rw and returns the Channel on top of it.
func NewChannel(rw io.ReadWriter, opts ...ChannelOption) *Channel {
	c := &Channel{
		rw:      rw,
		chunks:  make(chan []byte, 64),
		done:    make(chan struct{}),
		timeout: DefaultTimeout,
		oobs:    make(map[string]func()),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.readLoop()
	return c
}

func (c *Channel) readLoop() {
	buf := make([]byte, readSize)
	for {
		n, err := c.rw.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.chunks <- chunk:
			case <-c.done:
				return
			}
			if c.hook != nil {
				c.hook()
			}
		}
		if err != nil {
			c.err = err
			close(c.chunks)
			return
		}
	}
}

// Close stops delivering bytes. It does not close the underlying stream.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// SetTimeout sets the timeout of every subsequent blocking operation.
func (c *Channel) SetTimeout(d time.Duration) {
	c.timeout = d
}

// Timeout returns the current timeout.
func (c *Channel) Timeout() time.Duration {
	return c.timeout
}

// Readable reports whether received bytes are waiting to be consumed.
func (c *Channel) Readable() bool {
	return len(c.pending) > 0 || len(c.chunks) > 0
}

// OOB registers handler for lines starting with prefix.
func (c *Channel) OOB(prefix string, handler func()) {
	c.oobs[prefix] = handler
}

// Send writes a formatted command terminated by CRLF.
func (c *Channel) Send(format string, args ...any) error {
	cmd := fmt.Sprintf(format, args...)
	c.trace("-> %s", cmd)
	if _, err := io.WriteString(c.rw, cmd+CRLF); err != nil {
		return fmt.Errorf("at: write %q: %w", cmd, err)
	}
	return nil
}

// Write writes raw bytes, typically after a prompt.
func (c *Channel) Write(p []byte) (int, error) {
	c.trace("-> %d raw bytes", len(p))
	return c.rw.Write(p)
}

// Read fills p completely with raw bytes from the stream.
func (c *Channel) Read(p []byte) error {
	for n := 0; n < len(p); {
		if len(c.pending) == 0 {
			if err := c.fill(); err != nil {
				return err
			}
		}
		k := copy(p[n:], c.pending)
		c.pending = c.pending[k:]
		n += k
	}
	return nil
}

// Getc reads a single byte.
func (c *Channel) Getc() (byte, error) {
	return c.getc()
}

// Recv consumes the stream until pattern matches and stores the captures
// into args, see Match. Lines that do not match are discarded. A pattern
// ending in a literal matches as soon as the literal arrives, without
// waiting for the end of the line.
func (c *Channel) Recv(format string, args ...any) error {
	p, err := compile(format)
	if err != nil {
		return err
	}

	var line []byte
	for {
		b, err := c.getc()
		if err != nil {
			c.unread(line)
			return fmt.Errorf("recv %q: %w", format, err)
		}
		line = append(line, b)

		if c.dispatch(line) {
			line = line[:0]
			continue
		}

		if p.tail != 0 && b == p.tail {
			if m := p.re.FindSubmatch(line); m != nil {
				c.trace("<- %s", line)
				return p.assign(m, args)
			}
		}

		if b == '\n' {
			text := strings.TrimRight(string(line), CRLF)
			line = line[:0]
			if text == "" {
				continue
			}
			c.traceLine(text)
			if Failed(text) {
				return fmt.Errorf("%w: %s", ErrCommandFailed, text)
			}
			if p.tail == 0 {
				if m := p.re.FindSubmatch([]byte(text)); m != nil {
					return p.assign(m, args)
				}
			}
			continue
		}

		if len(line) >= maxLine {
			line = line[:0]
		}
	}
}

// ProcessOOB consumes buffered bytes looking for a single out-of-band
// notification. It returns false right away when nothing is buffered, and
// false when the buffer drains at a line boundary or the timeout expires
// without a notification. It returns true once a handler has run. A line
// cut short by the timeout stays buffered for the next call.
func (c *Channel) ProcessOOB() bool {
	if !c.Readable() {
		return false
	}
	var line []byte
	for {
		b, err := c.getc()
		if err != nil {
			c.unread(line)
			return false
		}
		line = append(line, b)
		if c.dispatch(line) {
			return true
		}
		if b == '\n' {
			if text := strings.TrimRight(string(line), CRLF); text != "" {
				c.traceLine(text)
			}
			line = line[:0]
			if !c.Readable() {
				return false
			}
			continue
		}
		if len(line) >= maxLine {
			line = line[:0]
		}
	}
}

// dispatch runs the handler registered for line, if any. Handlers are not
// nested: a notification arriving while a handler runs is consumed as
// ordinary input.
func (c *Channel) dispatch(line []byte) bool {
	if c.inOOB {
		return false
	}
	h, ok := c.oobs[string(line)]
	if !ok {
		return false
	}
	c.trace("<- oob %s", line)
	c.inOOB = true
	defer func() { c.inOOB = false }()
	h()
	return true
}

// unread puts a partial line back in front of the buffered bytes.
func (c *Channel) unread(line []byte) {
	if len(line) == 0 {
		return
	}
	c.pending = append(slices.Clip(line), c.pending...)
}

func (c *Channel) getc() (byte, error) {
	if len(c.pending) == 0 {
		if err := c.fill(); err != nil {
			return 0, err
		}
	}
	b := c.pending[0]
	c.pending = c.pending[1:]
	return b, nil
}

// fill waits up to the timeout for the next chunk from the reader.
func (c *Channel) fill() error {
	select {
	case chunk, ok := <-c.chunks:
		return c.accept(chunk, ok)
	case <-c.done:
		return ErrClosed
	default:
	}
	if c.timeout <= 0 {
		return ErrTimeout
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case chunk, ok := <-c.chunks:
		return c.accept(chunk, ok)
	case <-timer.C:
		return ErrTimeout
	case <-c.done:
		return ErrClosed
	}
}

func (c *Channel) accept(chunk []byte, ok bool) error {
	if !ok {
		if c.err != nil {
			return c.err
		}
		return io.EOF
	}
	c.pending = chunk
	return nil
}

// traceLine traces a discarded line. Notifications nobody registered a
// handler for are tagged so they stand out from command output.
func (c *Channel) traceLine(text string) {
	if c.tracer == nil {
		return
	}
	if Classify(text) == TypeURC {
		c.trace("<- unhandled %s", text)
		return
	}
	c.trace("<- %s", text)
}

func (c *Channel) trace(format string, args ...any) {
	if c.tracer != nil {
		c.tracer.Debugf(format, args...)
	}
}
