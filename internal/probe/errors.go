package probe

import (
	"errors"
	"fmt"

	"github.com/coveloop/lighterprobe/internal/stream"
)

// Kind classifies where a probe failed. Kinds decide whether the session
// continues: a broken listener or command channel poisons every later
// measurement, while a single order failing leaves the next probe valid.
type Kind string

const (
	KindConnect     Kind = "connect"
	KindHandshake   Kind = "handshake"
	KindSigning     Kind = "signing"
	KindSend        Kind = "send"
	KindAckTimeout  Kind = "ack_timeout"
	KindAckRejected Kind = "ack_rejected"
	KindFillTimeout Kind = "fill_timeout"
	KindConnClosed  Kind = "connection_closed"
)

// Error is a classified probe failure. Stage names the operation that
// failed, Side the probe it belonged to (empty during session setup).
type Error struct {
	Kind  Kind
	Stage string
	Side  Side
	Err   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	if e.Side != "" {
		msg = fmt.Sprintf("%s %s", e.Side, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// SessionFatal reports whether the session must stop instead of moving
// on to the next probe.
func (e *Error) SessionFatal() bool {
	switch e.Kind {
	case KindConnect, KindHandshake, KindSend, KindConnClosed:
		return true
	}
	return false
}

func newError(kind Kind, stage string, side Side, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Side: side, Err: err}
}

// classifyReceive maps a transport receive failure onto the kind the
// current stage reports for timeouts.
func classifyReceive(err error, timeoutKind Kind, stage string, side Side) *Error {
	switch {
	case errors.Is(err, stream.ErrTimeout):
		return newError(timeoutKind, stage, side, err)
	case errors.Is(err, stream.ErrConnClosed):
		return newError(KindConnClosed, stage, side, err)
	default:
		return newError(KindConnClosed, stage, side, err)
	}
}

// AsProbeError unwraps err to the classified form, wrapping unclassified
// errors so every failure carries a kind.
func AsProbeError(err error, fallback Kind, stage string, side Side) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}
	return newError(fallback, stage, side, err)
}
