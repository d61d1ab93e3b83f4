// Package dlog is a thin wrapper around logrus providing a severity-
// filtered sink: eight syslog-named levels, a
// process-wide minimum level, and a swappable output target. Every
// component in this module logs through it.
package dlog

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Level mirrors standard syslog priorities, most to least severe.
type Level int

const (
	Emerg Level = iota
	Alert
	Crit
	Error
	Warning
	Notice
	Info
	Debug
)

func (l Level) String() string {
	switch l {
	case Emerg:
		return "emerg"
	case Alert:
		return "alert"
	case Crit:
		return "crit"
	case Error:
		return "err"
	case Warning:
		return "warning"
	case Notice:
		return "notice"
	case Info:
		return "info"
	case Debug:
		return "debug"
	default:
		return "unknown"
	}
}

func (l Level) logrusLevel() logrus.Level {
	switch l {
	// Emerg maps to FatalLevel, not PanicLevel: logrus panics when an
	// entry is logged at PanicLevel, and the sink must never unwind its
	// caller — severity is carried in the "severity" field regardless.
	case Emerg, Alert, Crit:
		return logrus.FatalLevel
	case Error:
		return logrus.ErrorLevel
	case Warning:
		return logrus.WarnLevel
	case Notice, Info:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

// Fields is a map of logging fields.
type Fields map[string]interface{}

// LogFields implements Fielder for Fields.
func (f Fields) LogFields() Fields { return f }

// Fielder provides Fields for a log call.
type Fielder interface {
	LogFields() Fields
}

type errField struct{ e error }

func (e errField) LogFields() Fields {
	return Fields{"error": e.e.Error(), "type": fmt.Sprintf("%T", e.e)}
}

// Err wraps an error as a Fielder.
func Err(e error) Fielder { return errField{e} }

// Sink is a severity-filtered logging target. The zero value is not
// usable; construct with New.
type Sink struct {
	l        *logrus.Logger
	minLevel Level
}

// New constructs a Sink writing to w, dropping anything more severe-
// numbered than minLevel (i.e. less urgent).
func New(w io.Writer, minLevel Level) *Sink {
	l := logrus.New()
	l.Out = w
	l.Level = logrus.DebugLevel // filtering is done by Sink, not logrus
	return &Sink{l: l, minLevel: minLevel}
}

// SetMinLevel changes the minimum severity that will be emitted.
func (s *Sink) SetMinLevel(l Level) { s.minLevel = l }

// SetOutput redirects the sink's output.
func (s *Sink) SetOutput(w io.Writer) { s.l.Out = w }

// SetFormatter sets the logrus formatter used to render entries.
func (s *Sink) SetFormatter(f logrus.Formatter) { s.l.Formatter = f }

func mergeFielders(fielders ...Fielder) logrus.Fields {
	fields := logrus.Fields{}
	for i, f := range fielders {
		if f == nil {
			continue
		}
		ff := f.LogFields()
		if i == 0 {
			for k, v := range ff {
				fields[k] = v
			}
			continue
		}
		prefix := fmt.Sprint(i, ".")
		for k, v := range ff {
			fields[prefix+k] = v
		}
	}
	return fields
}

// Logf logs a formatted message at level if level is at or above urgency
// of the sink's minimum level (i.e. level <= minLevel numerically).
func (s *Sink) Logf(level Level, format string, args ...interface{}) {
	s.logWithFields(level, fmt.Sprintf(format, args...))
}

// Log logs msg at level, attaching any supplied Fielders as structured
// fields.
func (s *Sink) Log(level Level, msg string, fielders ...Fielder) {
	s.logWithFields(level, msg, fielders...)
}

func (s *Sink) logWithFields(level Level, msg string, fielders ...Fielder) {
	if level > s.minLevel {
		return
	}
	entry := s.l.WithField("severity", level.String())
	if len(fielders) != 0 {
		entry = entry.WithFields(mergeFielders(fielders...))
	}
	entry.Log(level.logrusLevel(), msg)
}

// Emergf, Alertf, ... Debugf are convenience wrappers over Logf at the
// matching severity.
func (s *Sink) Emergf(format string, args ...interface{}) { s.Logf(Emerg, format, args...) }
func (s *Sink) Alertf(format string, args ...interface{}) { s.Logf(Alert, format, args...) }
func (s *Sink) Critf(format string, args ...interface{}) { s.Logf(Crit, format, args...) }
func (s *Sink) Errf(format string, args ...interface{}) { s.Logf(Error, format, args...) }
func (s *Sink) Warningf(format string, args ...interface{}) { s.Logf(Warning, format, args...) }
func (s *Sink) Noticef(format string, args ...interface{}) { s.Logf(Notice, format, args...) }
func (s *Sink) Infof(format string, args ...interface{}) { s.Logf(Info, format, args...) }
func (s *Sink) Debugf(format string, args ...interface{}) { s.Logf(Debug, format, args...) }
