// Package logging builds the process loggers.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New returns a logger tagged with component. LOG_LEVEL (default info) and
// LOG_FORMAT (json or text) are read from the environment.
func New(component string) *logrus.Entry {
	return NewWith(os.Stdout, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")).WithField("component", component)
}

func NewWith(out io.Writer, level, format string) *logrus.Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	if strings.ToLower(format) == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.SetOutput(out)
	return l
}

// Discard is a logger for tests and optional dependencies.
func Discard() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
