// Package logger provides structured logging for snippy.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus logger.
type Logger struct {
	log *logrus.Logger
}

// Entry accumulates fields for a single log line.
type Entry struct {
	entry *logrus.Entry
	level logrus.Level
}

// New creates a logger writing to output (stderr when nil).
// Unknown levels fall back to info. Format "json" selects the JSON formatter;
// anything else selects plain text.
func New(level, format string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stderr
	}

	log := logrus.New()
	log.SetOutput(output)

	logLevel, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: true,
			PadLevelText:     true,
		})
	}

	return &Logger{log: log}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return &Logger{log: log}
}

// Level returns the configured level name.
func (l *Logger) Level() string {
	return l.log.GetLevel().String()
}

// Debug starts a debug entry.
func (l *Logger) Debug() *Entry { return l.at(logrus.DebugLevel) }

// Info starts an info entry.
func (l *Logger) Info() *Entry { return l.at(logrus.InfoLevel) }

// Warn starts a warning entry.
func (l *Logger) Warn() *Entry { return l.at(logrus.WarnLevel) }

// Error starts an error entry.
func (l *Logger) Error() *Entry { return l.at(logrus.ErrorLevel) }

func (l *Logger) at(level logrus.Level) *Entry {
	return &Entry{entry: logrus.NewEntry(l.log), level: level}
}

// Str adds a string field.
func (e *Entry) Str(key, value string) *Entry {
	e.entry = e.entry.WithField(key, value)
	return e
}

// Int adds an int field.
func (e *Entry) Int(key string, value int) *Entry {
	e.entry = e.entry.WithField(key, value)
	return e
}

// Bool adds a bool field.
func (e *Entry) Bool(key string, value bool) *Entry {
	e.entry = e.entry.WithField(key, value)
	return e
}

// Err adds an error field. A nil error is ignored.
func (e *Entry) Err(err error) *Entry {
	if err != nil {
		e.entry = e.entry.WithError(err)
	}
	return e
}

// Dur adds a duration field in milliseconds.
func (e *Entry) Dur(key string, d time.Duration) *Entry {
	e.entry = e.entry.WithField(key, float64(d.Microseconds())/1000.0)
	return e
}

// Msg writes the entry.
func (e *Entry) Msg(msg string) {
	e.entry.Log(e.level, msg)
}
