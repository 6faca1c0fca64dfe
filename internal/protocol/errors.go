package protocol

import (
	"errors"
	"fmt"
)

// Wire error classes. Every error produced by the wire packages wraps one of them.
var (
	ErrMalformedData       = errors.New("protocol: malformed wire data")
	ErrProtocolSequence    = errors.New("protocol: sequence violation")
	ErrIO                  = errors.New("protocol: io failure")
	ErrHandlerFailure      = errors.New("protocol: handler failure")
	ErrClosed              = errors.New("protocol: connection closed")
	ErrInvalidArgument     = errors.New("protocol: invalid argument")
	ErrUnsupportedValue    = errors.New("protocol: unsupported value")
	ErrAsyncResponseMisuse = errors.New("protocol: async response on non request/file message")
)

// ErrorKind names the class of a wire error for logs and metric labels.
type ErrorKind string

const (
	KindNone      ErrorKind = "none"
	KindMalformed ErrorKind = "malformed"
	KindSequence  ErrorKind = "sequence"
	KindIO        ErrorKind = "io"
	KindHandler   ErrorKind = "handler"
	KindClosed    ErrorKind = "closed"
	KindUsage     ErrorKind = "usage"
)

// Kind classifies err against the taxonomy. Unclassified errors count as io failures,
// which is what a raw socket error is.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrMalformedData):
		return KindMalformed
	case errors.Is(err, ErrProtocolSequence):
		return KindSequence
	case errors.Is(err, ErrHandlerFailure):
		return KindHandler
	case errors.Is(err, ErrClosed):
		return KindClosed
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrUnsupportedValue), errors.Is(err, ErrAsyncResponseMisuse):
		return KindUsage
	default:
		return KindIO
	}
}

// IsFatal reports whether err must tear down the connection that produced it.
func IsFatal(err error) bool {
	switch Kind(err) {
	case KindNone, KindUsage:
		return false
	default:
		return true
	}
}

// Malformedf wraps ErrMalformedData with detail.
func Malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedData, fmt.Sprintf(format, args...))
}

// Sequencef wraps ErrProtocolSequence with detail.
func Sequencef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolSequence, fmt.Sprintf(format, args...))
}

// IOError wraps a transport error so it classifies as ErrIO while keeping the cause reachable.
func IOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
