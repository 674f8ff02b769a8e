package call

import (
	"errors"
	"fmt"
)

var (
	ErrMicUnavailable    = errors.New("microphone unavailable")
	ErrScreenUnavailable = errors.New("screen capture unavailable")
	ErrBadTransition     = errors.New("invalid state transition")
	ErrUnknownPeer       = errors.New("no link for peer")
	ErrStaleSignal       = errors.New("stale signaling message")
	ErrNotInCall         = errors.New("not in a call")
	ErrSignaling         = errors.New("signaling transport error")
)

// Error wraps a failure with the operation and, where relevant, the remote
// peer it concerned.
type Error struct {
	Op      string
	Peer    string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Peer != "" {
		return fmt.Sprintf("%s (peer %s): %v", e.Op, e.Peer, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func NewPeerError(op, peer string, err error) *Error {
	return &Error{Op: op, Peer: peer, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
