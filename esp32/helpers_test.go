package esp32_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"i4.energy/across/espat/esp32"
)

// testLogger discards everything but remembers fatal messages. Its Fatalf
// returns instead of exiting.
type testLogger struct {
	mu     sync.Mutex
	fatals []string
}

func (l *testLogger) Debugf(string, ...any) {}
func (l *testLogger) Infof(string, ...any)  {}
func (l *testLogger) Warnf(string, ...any)  {}
func (l *testLogger) Errorf(string, ...any) {}

func (l *testLogger) Fatalf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fatals = append(l.fatals, fmt.Sprintf(format, args...))
}

func (l *testLogger) fatalCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.fatals)
}

func testConfig() *esp32.ConfigBuilder {
	return esp32.NewConfigBuilder().WithLogger(&testLogger{})
}

// newDevice connects a Device to a fresh scripted firmware.
func newDevice(t *testing.T, b *esp32.ConfigBuilder) (*esp32.Device, *esp32.TestTransport) {
	t.Helper()

	tt := esp32.NewTestTransport()
	config, err := b.WithDialer(esp32.TestDialer{Transport: tt}).Build()
	if err != nil {
		t.Fatalf("unexpected error from Build(): %v", err)
	}
	d, err := esp32.New(context.Background(), config)
	if err != nil {
		t.Fatalf("unexpected error from New(): %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d, tt
}

// openSocket allocates a socket and connects it.
func openSocket(t *testing.T, d *esp32.Device) int {
	t.Helper()

	id, err := d.FreeID()
	if err != nil {
		t.Fatalf("unexpected error from FreeID(): %v", err)
	}
	if err := d.Open(esp32.TCP, id, "example.com", 80, 0); err != nil {
		t.Fatalf("unexpected error from Open(): %v", err)
	}
	return id
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// recvWait receives from socket id until data arrives or a second has
// passed, parsing firmware output as it comes in.
func recvWait(t *testing.T, d *esp32.Device, id int, p []byte) (int, error) {
	t.Helper()

	deadline := time.Now().Add(time.Second)
	for {
		n, err := d.Recv(id, p, 100*time.Millisecond)
		if !errors.Is(err, esp32.ErrWouldBlock) || time.Now().After(deadline) {
			return n, err
		}
		time.Sleep(time.Millisecond)
	}
}
