package sip

import "errors"

// Protocol error taxonomy from spec §7. All three are recovered locally
// by the caller (drop the datagram, log, never reply) — they never
// unwind across a worker boundary.
var (
	// ErrInvalidSignature is returned when IsSIP rejects the payload
	// before parsing is even attempted.
	ErrInvalidSignature = errors.New("sip: missing SIP signature")

	// ErrMalformedRequest is returned when no recognized method token
	// can be found in the start-line.
	ErrMalformedRequest = errors.New("sip: malformed request line")

	// ErrEmptyMessage is returned for a zero-length payload.
	ErrEmptyMessage = errors.New("sip: empty message")

	// ErrSerialization is returned when a template references a header
	// whose value cannot be rendered.
	ErrSerialization = errors.New("sip: serialization error")
)
