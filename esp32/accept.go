package esp32

import (
	"context"
	"fmt"
	"time"

	"i4.energy/across/espat/at"
)

const (
	acceptPollInterval = 5 * time.Millisecond
	// A close racing the accept gets acceptClosePolls*acceptCloseInterval
	// to land before the id is handed out.
	acceptClosePolls    = 50
	acceptCloseInterval = 10 * time.Millisecond
)

// CreateServer starts listening on port. Incoming links are handed out by
// Accept.
func (d *Device) CreateServer(port int) error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if d.serverActive {
		return ErrServerActive
	}
	if err := d.ensureWifi(); err != nil {
		return err
	}
	if err := d.command(d.config.MiscTimeout, at.CmdServerOpen, port); err != nil {
		return fmt.Errorf("create server on port %d: %w", port, err)
	}
	d.serverActive = true
	return nil
}

// DeleteServer stops listening. Links already accepted stay open.
func (d *Device) DeleteServer() error {
	if err := d.lock(); err != nil {
		return err
	}
	defer d.mu.Unlock()

	if !d.serverActive {
		return ErrServerInactive
	}
	if err := d.ensureWifi(); err != nil {
		return err
	}
	if err := d.command(d.config.MiscTimeout, at.CmdServerClose); err != nil {
		return fmt.Errorf("delete server: %w", err)
	}
	d.serverActive = false
	d.accepts = nil
	return nil
}

// Accept waits for a link opened by a remote peer and returns its socket id.
// It gives up with ErrServerInactive once the server is deleted and with the
// context's error when ctx is done. The lock is released between polls.
func (d *Device) Accept(ctx context.Context) (int, error) {
	id, err := d.waitAccept(ctx)
	if err != nil {
		return -1, err
	}

	// A close may have raced the connect; give it a moment to land.
	for range acceptClosePolls {
		if err := d.lock(); err != nil {
			return -1, err
		}
		closing := d.sockets[id].closing
		d.mu.Unlock()
		if !closing {
			break
		}
		time.Sleep(acceptCloseInterval)
	}
	return id, nil
}

func (d *Device) waitAccept(ctx context.Context) (int, error) {
	ticker := time.NewTicker(acceptPollInterval)
	defer ticker.Stop()

	for {
		id, ok, err := d.pollAccept()
		if err != nil {
			return -1, err
		}
		if ok {
			return id, nil
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (d *Device) pollAccept() (int, bool, error) {
	if err := d.lock(); err != nil {
		return -1, false, err
	}
	defer d.mu.Unlock()

	if !d.serverActive {
		return -1, false, ErrServerInactive
	}
	if err := d.ensureWifi(); err != nil {
		return -1, false, err
	}
	// Drain so that a close already on the wire removes its connect.
	for d.ch.ProcessOOB() {
	}
	if len(d.accepts) == 0 {
		return -1, false, nil
	}

	id := d.accepts[0]
	d.accepts = d.accepts[1:]
	d.sockets[id].notified.Store(false)
	return id, true, nil
}
