// Package log provides the leveled logger facade used across the SDK, backed
// by zerolog. Call sites use the short T/D/I/W/E/F variables rather than
// holding their own logger, so a relay/pool/store file can log without
// plumbing a *zerolog.Logger through every constructor.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's levels, exported so callers configuring the SDK
// don't need to import zerolog themselves.
type Level = zerolog.Level

const (
	TraceLevel = zerolog.TraceLevel
	DebugLevel = zerolog.DebugLevel
	InfoLevel  = zerolog.InfoLevel
	WarnLevel  = zerolog.WarnLevel
	ErrorLevel = zerolog.ErrorLevel
	FatalLevel = zerolog.FatalLevel
)

var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

// Logger is a single leveled sink. T, D, I, W, E and F are the package's six
// standing instances, one per level.
type Logger struct{ level zerolog.Level }

// Ln logs a, space-joined, like fmt.Println without the trailing newline.
func (l Logger) Ln(a ...any) {
	base.WithLevel(l.level).Msg(strings.TrimSuffix(fmt.Sprintln(a...), "\n"))
}

// F logs a printf-style message.
func (l Logger) F(format string, a ...any) {
	base.WithLevel(l.level).Msgf(format, a...)
}

// S logs a message alongside a %s-formatted value, for call sites that
// already have a pre-stringified payload (raw JSON, a hex id, and so on).
func (l Logger) S(a ...any) {
	base.WithLevel(l.level).Msg(fmt.Sprint(a...))
}

// C lazily evaluates a message-producing closure, for logging that would
// otherwise format data nobody reads at a suppressed level.
func (l Logger) C(fn func() string) {
	if base.GetLevel() > l.level {
		return
	}
	base.WithLevel(l.level).Msg(fn())
}

// Err logs err directly, a no-op on a nil error.
func (l Logger) Err(err error) {
	if err == nil {
		return
	}
	base.WithLevel(l.level).Err(err).Msg("")
}

// ToSliceOfBytes logs a binary blob as a hex-ish preview, used for wire
// dumps under trace/debug level.
func (l Logger) ToSliceOfBytes(b []byte) {
	if len(b) > 64 {
		b = b[:64]
	}
	base.WithLevel(l.level).Msgf("% x", b)
}

var (
	T = Logger{TraceLevel}
	D = Logger{DebugLevel}
	I = Logger{InfoLevel}
	W = Logger{WarnLevel}
	E = Logger{ErrorLevel}
	F = Logger{FatalLevel}
)

// SetLogLevel sets the minimum level that reaches the sink.
func SetLogLevel(l Level) { base = base.Level(l) }

// GetLogLevel returns the current minimum log level.
func GetLogLevel() Level { return base.GetLevel() }

// SetOutput redirects log output, used by tests to capture or silence it.
func SetOutput(w io.Writer) { base = base.Output(w) }
