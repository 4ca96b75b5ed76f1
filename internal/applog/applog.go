// Package applog is a thin wrapper over the standard log package that
// prefixes every message with a bracketed component tag.
package applog

import "log"

// Tagged returns a logging function that prefixes every message with a
// bracketed component tag, e.g. "[handshake] SYN received".
func Tagged(component string) func(format string, args ...interface{}) {
	prefix := "[" + component + "] "
	return func(format string, args ...interface{}) {
		log.Printf(prefix+format, args...)
	}
}
