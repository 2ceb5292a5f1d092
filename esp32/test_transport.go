package esp32

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// TestResponse is the scripted reaction of a TestTransport to one command.
type TestResponse struct {
	// Out is emitted as soon as the command line arrives.
	Out string
	// Raw is the number of payload bytes the command announces.
	Raw int
	// AfterRaw is emitted once the payload arrived.
	AfterRaw string
}

// TestHandler scripts the response to a command line, without its CRLF.
type TestHandler func(cmd string) TestResponse

type testHandler struct {
	prefix string
	fn     TestHandler
}

// TestTransport is a test helper that plays the AT firmware. Reads block
// until the firmware side has something to say, like a real serial port
// would, and every command written to it is answered by the handler
// registered for the longest matching prefix. Unknown commands get ERROR.
type TestTransport struct {
	mu       sync.Mutex
	readChan chan []byte
	closed   bool
	// unread is only touched by the reading goroutine
	unread   []byte

	handlers []testHandler
	input    []byte
	raw      int
	afterRaw string
	payload  []byte

	commands []string
	payloads [][]byte
	bauds    []int
	flows    []FlowControl
}

// NewTestTransport creates a TestTransport answering the bring-up and
// socket commands like a healthy firmware running AT 2.1.0.
func NewTestTransport() *TestTransport {
	t := &TestTransport{
		readChan: make(chan []byte, 256),
	}
	ok := func(string) TestResponse { return TestResponse{Out: "\r\nOK\r\n"} }
	prompt := func(cmd string) TestResponse {
		return TestResponse{Out: "\r\nOK\r\n>", Raw: lastArg(cmd), AfterRaw: "\r\nOK\r\n"}
	}

	t.Handle("AT+RST", func(string) TestResponse {
		return TestResponse{Out: "\r\nOK\r\n\r\nready\r\n"}
	})
	t.Handle("AT+GMR", func(string) TestResponse {
		return TestResponse{Out: "AT version:2.1.0.0(883f7f2 - ESP32 - Jul 28 2020 02:47:21)\r\n" +
			"SDK version:v4.0.1-193-ge7ac221b4\r\n\r\nOK\r\n"}
	})
	for _, prefix := range []string{
		"AT+UART_CUR=", "AT+CWMODE=", "AT+CIPMUX=", "AT+CWAUTOCONN=", "AT+CWQAP",
		"AT+CWJAP=", "AT+CWSAP=", "AT+CWDHCP=", "AT+CIPSTA=", "AT+CIPAP=", "AT+CIPSERVER=",
		"AT+BLEINIT=", "AT+BLENAME=", "AT+BLEGATTSSRV", "AT+BLEADV", "AT+BLESCANRSPDATA=",
		"AT+BLEADDR=", "AT+BLESCAN=", "AT+BLECONN=", "AT+BLEDISCONN=",
	} {
		t.Handle(prefix, ok)
	}
	t.Handle("AT+CIPSTART=", func(cmd string) TestResponse {
		var id int
		fmt.Sscanf(cmd, "AT+CIPSTART=%d", &id)
		return TestResponse{Out: fmt.Sprintf("%d,CONNECT\r\n\r\nOK\r\n", id)}
	})
	t.Handle("AT+CIPCLOSE=", func(cmd string) TestResponse {
		var id int
		fmt.Sscanf(cmd, "AT+CIPCLOSE=%d", &id)
		return TestResponse{Out: fmt.Sprintf("%d,CLOSED\r\n\r\nOK\r\n", id)}
	})
	t.Handle("AT+CIPSEND=", func(cmd string) TestResponse {
		n := lastArg(cmd)
		return TestResponse{
			Out:      "\r\nOK\r\n>",
			Raw:      n,
			AfterRaw: fmt.Sprintf("\r\nRecv %d bytes\r\n\r\nSEND OK\r\n", n),
		}
	})
	t.Handle("AT+BLEGATTSSETATTR=", prompt)
	t.Handle("AT+BLEGATTSNTFY=", prompt)
	t.Handle("AT+BLEGATTCWR=", prompt)
	return t
}

// lastArg returns the numeric last argument of cmd, 0 if there is none.
func lastArg(cmd string) int {
	var n int
	fmt.Sscanf(cmd[strings.LastIndexByte(cmd, ',')+1:], "%d", &n)
	return n
}

// Handle scripts the response to commands starting with prefix, replacing
// any previous handler for the same prefix.
func (t *TestTransport) Handle(prefix string, fn TestHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.handlers {
		if t.handlers[i].prefix == prefix {
			t.handlers[i].fn = fn
			return
		}
	}
	t.handlers = append(t.handlers, testHandler{prefix: prefix, fn: fn})
}

// Reply scripts a fixed response to commands starting with prefix.
func (t *TestTransport) Reply(prefix, out string) {
	t.Handle(prefix, func(string) TestResponse { return TestResponse{Out: out} })
}

func (t *TestTransport) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, io.ErrClosedPipe
	}

	t.input = append(t.input, p...)
	for len(t.input) > 0 {
		if t.raw > 0 {
			k := min(t.raw, len(t.input))
			t.payload = append(t.payload, t.input[:k]...)
			t.input = t.input[k:]
			t.raw -= k
			if t.raw == 0 {
				t.payloads = append(t.payloads, t.payload)
				t.payload = nil
				t.emit(t.afterRaw)
			}
			continue
		}

		i := bytes.Index(t.input, []byte("\r\n"))
		if i < 0 {
			break
		}
		cmd := string(t.input[:i])
		t.input = t.input[i+2:]
		t.commands = append(t.commands, cmd)

		resp := t.respond(cmd)
		t.emit(resp.Out)
		if resp.Raw > 0 {
			t.raw = resp.Raw
			t.afterRaw = resp.AfterRaw
		}
	}
	return len(p), nil
}

func (t *TestTransport) respond(cmd string) TestResponse {
	var best *testHandler
	for i := range t.handlers {
		h := &t.handlers[i]
		if strings.HasPrefix(cmd, h.prefix) && (best == nil || len(h.prefix) > len(best.prefix)) {
			best = h
		}
	}
	if best == nil {
		return TestResponse{Out: "\r\nERROR\r\n"}
	}
	return best.fn(cmd)
}

func (t *TestTransport) emit(s string) {
	if s != "" && !t.closed {
		t.readChan <- []byte(s)
	}
}

func (t *TestTransport) Read(p []byte) (n int, err error) {
	if len(t.unread) == 0 {
		data, ok := <-t.readChan
		if !ok {
			return 0, io.EOF
		}
		t.unread = data
	}
	n = copy(p, t.unread)
	t.unread = t.unread[n:]
	return n, nil
}

func (t *TestTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.readChan)
	return nil
}

func (t *TestTransport) SetBaudRate(baud int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bauds = append(t.bauds, baud)
	return nil
}

func (t *TestTransport) SetFlowControl(fc FlowControl) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.flows = append(t.flows, fc)
	return nil
}

// SendData queues data to be read by the transport.
// This simulates unsolicited output of the firmware.
func (t *TestTransport) SendData(data string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.emit(data)
}

// Commands returns every command line received so far.
func (t *TestTransport) Commands() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.commands...)
}

// Count returns how many commands started with prefix.
func (t *TestTransport) Count(prefix string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, cmd := range t.commands {
		if strings.HasPrefix(cmd, prefix) {
			n++
		}
	}
	return n
}

// Payloads returns the raw payloads written after a prompt.
func (t *TestTransport) Payloads() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.payloads...)
}

// BaudRates returns the baud rates the transport was switched to.
func (t *TestTransport) BaudRates() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]int(nil), t.bauds...)
}

// FlowControls returns the flow control settings applied, in order.
func (t *TestTransport) FlowControls() []FlowControl {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]FlowControl(nil), t.flows...)
}

// TestDialer hands out a fixed transport.
type TestDialer struct {
	Transport Transport
	Err       error
}

func (d TestDialer) Dial(context.Context) (Transport, error) {
	return d.Transport, d.Err
}
