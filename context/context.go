// Package context re-exports the standard context API under shorter names
// so call sites across the SDK don't repeat "context.Context" everywhere.
package context

import "context"

type (
	// T is context.Context.
	T = context.Context
	// F is context.CancelFunc.
	F = context.CancelFunc
)

var (
	Bg      = context.Background
	TODO    = context.TODO
	Cancel  = context.WithCancel
	Timeout = context.WithTimeout
	Value   = context.WithValue

	Canceled         = context.Canceled
	DeadlineExceeded = context.DeadlineExceeded
)
