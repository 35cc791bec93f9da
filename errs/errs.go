// Package errs defines the error taxonomy shared by every component of
// actorbridge. Callers use errors.Is/errors.As against the
// sentinel kinds below; the richer constructors attach diagnostic context
// (host/port, duration, expected/actual version, ...).
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies one bucket of the runtime's error taxonomy.
type Kind int

const (
	KindUnknown Kind = iota
	KindConnectionFailed
	KindConnectionClosed
	KindSerializationFailed
	KindDeserializationFailed
	KindMalformedEnvelope
	KindActorNotFound
	KindRemoteInvocationFailed
	KindTimeout
	KindCancelled
	KindInvalidConfiguration
	KindSystemNotRunning
	KindVersionConflict
	KindMaxRetriesExceeded
	KindNoBaseValue
	KindUnsupportedProtocolVersion
)

func (k Kind) String() string {
	switch k {
	case KindConnectionFailed:
		return "connection-failed"
	case KindConnectionClosed:
		return "connection-closed"
	case KindSerializationFailed:
		return "serialization-failed"
	case KindDeserializationFailed:
		return "deserialization-failed"
	case KindMalformedEnvelope:
		return "malformed-envelope"
	case KindActorNotFound:
		return "actor-not-found"
	case KindRemoteInvocationFailed:
		return "remote-invocation-failed"
	case KindTimeout:
		return "timeout"
	case KindCancelled:
		return "cancelled"
	case KindInvalidConfiguration:
		return "invalid-configuration"
	case KindSystemNotRunning:
		return "system-not-running"
	case KindVersionConflict:
		return "version-conflict"
	case KindMaxRetriesExceeded:
		return "max-retries-exceeded"
	case KindNoBaseValue:
		return "no-base-value"
	case KindUnsupportedProtocolVersion:
		return "unsupported-protocol-version"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carried across every component boundary.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, errs.KindErr(...)) style matching via a sentinel
// wrapper; see KindErr below.
func (e *Error) Is(target error) bool {
	var k *kindSentinel
	if errors.As(target, &k) {
		return e.Kind == k.kind
	}
	return false
}

type kindSentinel struct{ kind Kind }

func (k *kindSentinel) Error() string { return k.kind.String() }

// KindErr returns a sentinel usable with errors.Is to test an *Error's Kind,
// e.g. errors.Is(err, errs.KindErr(errs.KindTimeout)).
func KindErr(k Kind) error { return &kindSentinel{kind: k} }

func New(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

func Wrap(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Cause: cause}
}

func ConnectionFailed(host string, port int, cause error) *Error {
	return Wrap(KindConnectionFailed, fmt.Sprintf("%s:%d", host, port), cause)
}

func ConnectionClosed() *Error { return New(KindConnectionClosed, "connection closed") }

func ActorNotFound(actorID string) *Error {
	return New(KindActorNotFound, actorID)
}

func RemoteInvocationFailed(message string) *Error {
	return New(KindRemoteInvocationFailed, message)
}

func Timeout(d time.Duration) *Error {
	return New(KindTimeout, d.String())
}

func Cancelled() *Error { return New(KindCancelled, "operation cancelled") }

func InvalidConfiguration(msg string) *Error { return New(KindInvalidConfiguration, msg) }

func SystemNotRunning() *Error { return New(KindSystemNotRunning, "system not running") }

func VersionConflict(expected, actual uint64) *Error {
	return New(KindVersionConflict, fmt.Sprintf("expected=%d actual=%d", expected, actual))
}

func MaxRetriesExceeded(attempts int) *Error {
	return New(KindMaxRetriesExceeded, fmt.Sprintf("after %d attempts", attempts))
}

func NoBaseValue() *Error { return New(KindNoBaseValue, "delta received before a full value") }

func UnsupportedProtocolVersion(got, min, max uint32) *Error {
	return New(KindUnsupportedProtocolVersion, fmt.Sprintf("got=%d supported=[%d,%d]", got, min, max))
}

func SerializationFailed(cause error) *Error {
	return Wrap(KindSerializationFailed, "encode failed", cause)
}

func DeserializationFailed(cause error) *Error {
	return Wrap(KindDeserializationFailed, "decode failed", cause)
}

func MalformedEnvelope(cause error) *Error {
	return Wrap(KindMalformedEnvelope, "malformed envelope", cause)
}
