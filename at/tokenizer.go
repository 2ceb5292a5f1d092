package at

import (
	"strconv"
	"strings"
)

var urcPrefixes = []string{
	OobData,
	OobWifi,
	OobBLEConnect,
	OobBLEDisconnect,
	OobBLEWrite,
	OobBLEScan,
	OobBLEPrimSrv,
	OobBLEChar,
}

// Classify identifies the nature of the modem output
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case OK, ERROR, Fail, SendOK, SendFail:
		return TypeFinal
	}

	// Prefix matches
	for _, p := range urcPrefixes {
		if strings.HasPrefix(line, p) {
			return TypeURC
		}
	}
	if isLinkEvent(line) {
		return TypeURC
	}
	return TypeData
}

// Failed reports whether line is a final result code that ends a command
// unsuccessfully.
func Failed(line string) bool {
	switch line {
	case ERROR, Fail, SendFail:
		return true
	}
	return false
}

// isLinkEvent matches "<id>,CONNECT" and "<id>,CLOSED".
func isLinkEvent(line string) bool {
	i := strings.IndexByte(line, ',')
	if i <= 0 {
		return false
	}
	for _, c := range line[:i] {
		if c < '0' || c > '9' {
			return false
		}
	}
	rest := line[i:]
	return strings.HasPrefix(rest, OobConnect) || strings.HasPrefix(rest, OobClosed)
}

// FormatLinkEvent returns the notification prefix of a link event, for
// example "3,CONNECT" for FormatLinkEvent(3, OobConnect).
func FormatLinkEvent(id int, event string) string {
	return strconv.Itoa(id) + event
}
