package obs

import (
	"log"
)

type Level int

const (
	Debug Level = iota
	Info
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is a minimal logging interface for observability.
type Logger interface {
	Logf(level Level, format string, args ...interface{})
}

// NopLogger discards all logs.
type NopLogger struct{}

func (NopLogger) Logf(level Level, format string, args ...interface{}) {}

// StdLogger adapts the standard library logger.
type StdLogger struct {
	L    *log.Logger
	Min  Level
	Pref string // optional prefix per log line
}

func (s StdLogger) Logf(level Level, format string, args ...interface{}) {
	if s.L == nil || level < s.Min {
		return
	}
	if s.Pref != "" {
		s.L.Printf("%s[%s] "+format, append([]interface{}{s.Pref, level.String()}, args...)...)
	} else {
		s.L.Printf("[%s] "+format, append([]interface{}{level.String()}, args...)...)
	}
}

// With returns a Logger that prepends "key=value " pairs to every line
// written through l. A nil l yields a NopLogger.
func With(l Logger, kv ...string) Logger {
	if l == nil {
		return NopLogger{}
	}
	if len(kv) == 0 {
		return l
	}
	prefix := ""
	for i := 0; i+1 < len(kv); i += 2 {
		prefix += kv[i] + "=" + kv[i+1] + " "
	}
	if p, ok := l.(prefixed); ok {
		return prefixed{l: p.l, prefix: p.prefix + prefix}
	}
	return prefixed{l: l, prefix: prefix}
}

type prefixed struct {
	l      Logger
	prefix string
}

func (p prefixed) Logf(level Level, format string, args ...interface{}) {
	p.l.Logf(level, "%s"+format, append([]interface{}{p.prefix}, args...)...)
}
