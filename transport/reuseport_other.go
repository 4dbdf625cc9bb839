//go:build !linux

package transport

import "syscall"

// reusePortSupported is false outside Linux; the router logs a Warn and
// falls back to a plain listener (SPEC_FULL.md §4.2).
const reusePortSupported = false

func controlReusePort(_, _ string, _ syscall.RawConn) error {
	return nil
}
