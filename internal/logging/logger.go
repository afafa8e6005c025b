// Package logging is helixd's structured logger: zerolog underneath, a
// correlation ID per prune run or reconcile pass, and a logger carried on
// the context so packages below the CLI never configure logging themselves.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Level is zerolog's level; helix only uses the four below.
type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// ParseLevel accepts debug, info, warn and error in any case. Anything else
// is info.
func ParseLevel(s string) Level {
	switch lvl, err := zerolog.ParseLevel(strings.ToLower(s)); {
	case err != nil:
		return LevelInfo
	case lvl < LevelDebug || lvl > LevelError:
		return LevelInfo
	default:
		return lvl
	}
}

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// ParseFormat returns FormatText for "text" and FormatJSON otherwise.
func ParseFormat(s string) Format {
	if strings.EqualFold(s, string(FormatText)) {
		return FormatText
	}
	return FormatJSON
}

const (
	CorrelationIDField = "correlationId"
	ErrorField         = "error"
)

type Config struct {
	Level  Level
	Format Format
	Output io.Writer // os.Stderr when nil

	// AddCaller records file:line of the logging call.
	AddCaller bool
}

// Logger is immutable; With and WithCorrelationID derive new loggers.
type Logger struct {
	zl            zerolog.Logger
	caller        bool
	correlationID string
}

func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == FormatText {
		out = zerolog.ConsoleWriter{Out: out, NoColor: true, TimeFormat: time.RFC3339}
	}
	return &Logger{
		zl:     zerolog.New(out).Level(cfg.Level).With().Timestamp().Logger(),
		caller: cfg.AddCaller,
	}
}

func DefaultLogger() *Logger {
	return New(Config{Level: LevelInfo, Format: FormatJSON})
}

// Nop discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

func (l *Logger) GetLevel() Level { return l.zl.GetLevel() }

func (l *Logger) Zerolog() zerolog.Logger { return l.zl }

func (l *Logger) With(fields map[string]any) *Logger {
	derived := *l
	derived.zl = l.zl.With().Fields(fields).Logger()
	return &derived
}

func (l *Logger) WithCorrelationID(id string) *Logger {
	derived := *l
	derived.zl = l.zl.With().Str(CorrelationIDField, id).Logger()
	derived.correlationID = id
	return &derived
}

func (l *Logger) CorrelationID() string { return l.correlationID }

func (l *Logger) Debug(msg string)                         { l.emit(l.zl.Debug(), msg, nil) }
func (l *Logger) Debugf(msg string, fields map[string]any) { l.emit(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string)                          { l.emit(l.zl.Info(), msg, nil) }
func (l *Logger) Infof(msg string, fields map[string]any)  { l.emit(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string)                          { l.emit(l.zl.Warn(), msg, nil) }
func (l *Logger) Warnf(msg string, fields map[string]any)  { l.emit(l.zl.Warn(), msg, fields) }
func (l *Logger) Error(msg string)                         { l.emit(l.zl.Error(), msg, nil) }
func (l *Logger) Errorf(msg string, fields map[string]any) { l.emit(l.zl.Error(), msg, fields) }

// emit must only be called from the level methods above: the recorded
// caller is two frames up.
func (l *Logger) emit(e *zerolog.Event, msg string, fields map[string]any) {
	if e == nil {
		return
	}
	if l.caller {
		e = e.Caller(2)
	}
	e.Fields(fields).Msg(msg)
}
