package probe

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a probe run failed. A read timeout is not a failure,
// it ends the run in StateTimedOut.
type ErrorKind int

const (
	ConnectFailed   ErrorKind = iota + 1 // dial or handshake failed
	SendFailed                           // command could not be encoded or written
	DecodeFailed                         // a received frame is not a JSON object
	TransportClosed                      // the connection broke while waiting for a frame
	Canceled                             // the caller's context ended the run
)

func (k ErrorKind) String() string {
	switch k {
	case ConnectFailed:
		return "connect_failed"
	case SendFailed:
		return "send_failed"
	case DecodeFailed:
		return "decode_failed"
	case TransportClosed:
		return "transport_closed"
	case Canceled:
		return "canceled"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

// Error is returned by Run for every failed run
type Error struct {
	Kind ErrorKind
	Err  error
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err, if err is (or wraps) a probe Error
func KindOf(err error) (ErrorKind, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind, true
	}
	return 0, false
}
