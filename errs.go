package srtcore

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an Error into the taxonomy srt.md's error-handling
// design calls for: the broad category of failure, independent of the
// specific operation that triggered it.
type Kind int

const (
	// KindSetup covers configuration and option validation failures
	// that occur before a connection attempt begins.
	KindSetup Kind = iota
	// KindConnection covers handshake, peer rejection, and mid-session
	// teardown (broken, timed out, reset by peer).
	KindConnection
	// KindSystemResources covers socket/file-descriptor/memory
	// exhaustion at the OS boundary.
	KindSystemResources
	// KindAsyncFail covers failures surfaced asynchronously from a
	// background goroutine (TSBPD worker, GC sweep) rather than from
	// the call that triggered them.
	KindAsyncFail
	// KindNoBuf covers backpressure: the send buffer is full, or the
	// receive buffer has no ready data, under non-blocking mode.
	KindNoBuf
	// KindSecurity covers crypto/KM failures: bad passphrase, key
	// exchange mismatch, undecryptable control data.
	KindSecurity
	// KindNotSupported covers a requested option or extension the
	// local or peer implementation does not implement.
	KindNotSupported
)

func (k Kind) String() string {
	switch k {
	case KindSetup:
		return "setup"
	case KindConnection:
		return "connection"
	case KindSystemResources:
		return "system-resources"
	case KindAsyncFail:
		return "async-fail"
	case KindNoBuf:
		return "no-buffer"
	case KindSecurity:
		return "security"
	case KindNotSupported:
		return "not-supported"
	default:
		return "unknown"
	}
}

// Error is the error type returned across srtcore's public API. Sub
// names the specific condition within Kind (e.g. "cookie-mismatch",
// "send-buf-full") so callers can log or match on it without parsing a
// message string.
type Error struct {
	Kind Kind
	Sub  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("srt: %s: %s: %v", e.Kind, e.Sub, e.Err)
	}
	return fmt.Sprintf("srt: %s: %s", e.Kind, e.Sub)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an Error, wrapping cause with a stack trace via
// github.com/pkg/errors' WithStack whenever cause is non-nil.
func New(kind Kind, sub string, cause error) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Kind: kind, Sub: sub, Err: cause}
}

// Is reports a match for any *Error target with the same Kind, so
// errors.Is(err, &srtcore.Error{Kind: srtcore.KindX}) tests for a Kind
// regardless of Sub and Err.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}
