// Package monitoring holds the shared diagnostic logger used by the library
// and engine packages. Warnings that must not abort a job (geometry mismatch
// on library load, absent optional truth products) go through Logf so tests
// can capture or mute them.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Prefixed returns a log function that prepends a bracketed component name,
// e.g. Prefixed("PhotonLibrary") logs as "[PhotonLibrary] ...".
func Prefixed(component string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf("["+component+"] "+format, v...)
	}
}
