// Package errorf builds formatted errors that carry a caller-friendly
// message, used throughout the SDK in place of bare fmt.Errorf so call
// sites read "errorf.E(...)" next to the chk.E(err) check that follows.
package errorf

import "fmt"

// E formats a new error.
func E(format string, a ...any) error { return fmt.Errorf(format, a...) }

// W formats a new error exactly as E does (a %w verb wraps its operand as
// with fmt.Errorf); the separate name only signals, at the call site, that
// the message describes something discovered while handling another error.
func W(format string, a ...any) error { return fmt.Errorf(format, a...) }

// D is the debug-grade sibling of E, for errors only worth mentioning when
// the caller is already in a debug-logging context.
func D(format string, a ...any) error { return fmt.Errorf(format, a...) }
