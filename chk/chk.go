// Package chk provides the SDK's check-and-log idiom: chk.E(err) logs err at
// error level and reports whether it was non-nil, so call sites read
//
//	if err = thing(); chk.E(err) {
//		return
//	}
//
// instead of the usual two-line if-err-log-return.
package chk

import "codeberg.org/nostrcore/relaysdk/log"

// E reports err at error level. Returns true if err is non-nil.
func E(err error) bool {
	if err == nil {
		return false
	}
	log.E.Err(err)
	return true
}

// W reports err at warn level. Returns true if err is non-nil.
func W(err error) bool {
	if err == nil {
		return false
	}
	log.W.Err(err)
	return true
}

// T reports err at trace level. Returns true if err is non-nil.
func T(err error) bool {
	if err == nil {
		return false
	}
	log.T.Err(err)
	return true
}

// D reports err at debug level. Returns true if err is non-nil.
func D(err error) bool {
	if err == nil {
		return false
	}
	log.D.Err(err)
	return true
}
