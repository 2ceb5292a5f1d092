package esp32

// event is the channel's data-ready hook. It runs on the transport reader
// goroutine and never takes the device lock: it only fires the callbacks
// whose edge is clear, leaving the parsing of whatever arrived to the next
// lock holder.
func (d *Device) event() {
	for i := range d.sockets {
		s := &d.sockets[i]
		cb := s.callback.Load()
		if cb != nil && s.notified.CompareAndSwap(false, true) {
			(*cb)()
		}
	}
	if d.ble != nil {
		d.ble.event()
	}
}
