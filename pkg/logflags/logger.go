package logflags

import (
	"github.com/sirupsen/logrus"
)

// Logger is the logging interface used by every memscan package.
type Logger interface {
	// WithField returns a new Logger enriched with the given field.
	WithField(key string, value interface{}) Logger
	// WithFields returns a new Logger enriched with the given fields.
	WithFields(fields Fields) Logger
	// WithError returns a new Logger enriched with the given error.
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

// Fields type wraps many fields for Logger
type Fields map[string]interface{}

type logrusLogger struct {
	*logrus.Entry
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{l.Entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{l.Entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{l.Entry.WithError(err)}
}

var textFormatterInstance = &logrus.TextFormatter{
	DisableColors:   true,
	FullTimestamp:   true,
	TimestampFormat: "2006-01-02T15:04:05Z07:00",
}

// componentLogger returns the logger of a component, debug messages are
// only written when the component was enabled by Setup.
func componentLogger(component string, enabled bool) Logger {
	level := logrus.ErrorLevel
	if enabled {
		level = logrus.DebugLevel
	}
	logger := logrus.New()
	logger.Formatter = textFormatterInstance
	logger.Level = level
	if logOut != nil {
		logger.Out = logOut
	}
	return &logrusLogger{logger.WithField("layer", component)}
}
