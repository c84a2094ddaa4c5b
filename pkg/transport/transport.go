// Package transport moves encoded frames between the host and the tendon
// controller.
//
// Serial is a request/response link: one frame out, one reply back, one
// exchange at a time. Streamed pushes fixed-size multi-motor records over
// SPI with no reply.
package transport

import (
	"context"
	"errors"
)

// Kind identifies the exchange pattern a Transport supports.
type Kind int

const (
	KindRequestResponse Kind = iota
	KindStreamed
)

func (k Kind) String() string {
	switch k {
	case KindRequestResponse:
		return "request/response"
	case KindStreamed:
		return "streamed"
	default:
		return "unknown"
	}
}

// Transport is a link to the controller. Calls block the caller for the
// duration of the I/O and are serialized per instance.
type Transport interface {
	Kind() Kind

	// Send writes one frame without waiting for a reply.
	Send(ctx context.Context, frame []byte) error

	// SendAndReceive writes one frame and returns the raw reply
	// ({status, params...}).
	SendAndReceive(ctx context.Context, frame []byte) ([]byte, error)

	Close() error
}

var (
	ErrTimeout              = errors.New("timed out waiting for reply")
	ErrTransportClosed      = errors.New("transport closed")
	ErrUnsupportedOperation = errors.New("operation not supported by transport")
)

// IsTimeout reports whether err is a reply timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
