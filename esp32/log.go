package esp32

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface used by a Device. *logrus.Entry and
// *logrus.Logger satisfy it.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	// Fatalf logs and is expected to terminate the process. The driver calls
	// it for an unsupported firmware and still returns an error should it
	// return.
	Fatalf(format string, args ...any)
}

func buildDefaultLogger(debug bool) Logger {
	l := &logrus.Logger{
		Formatter: &logrus.TextFormatter{DisableTimestamp: true},
		Level:     logrus.InfoLevel,
		Out:       os.Stderr,
		Hooks:     make(logrus.LevelHooks),
		ExitFunc:  os.Exit,
	}
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l.WithField("component", "esp32")
}
