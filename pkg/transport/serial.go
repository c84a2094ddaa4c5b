package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/hipsterbrown/feetech-servo/transports"
	"go.bug.st/serial"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BIST-Research/batbot/internal/logging"
	"github.com/BIST-Research/batbot/internal/metrics"
	"github.com/BIST-Research/batbot/pkg/protocol"
)

const (
	DefaultBaudRate = 115200
	DefaultTimeout  = time.Second
)

// SerialConfig holds configuration for a request/response link.
type SerialConfig struct {
	// Port is the device path, used by OpenSerial only.
	Port     string
	BaudRate int

	// Timeout bounds one exchange, from the end of the write until the
	// reply is complete. Default is 1 second.
	Timeout time.Duration

	// MinCommandGap is the minimum spacing between writes. Zero disables it.
	MinCommandGap time.Duration

	Framing protocol.Framing

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Serial is a request/response transport over a byte stream.
type Serial struct {
	port    feetech.Transport
	framing protocol.Framing
	timeout time.Duration
	limiter *rate.Limiter
	log     *zap.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	closed atomic.Bool
}

var _ Transport = (*Serial)(nil)

// NewSerial wraps an open byte-stream port.
func NewSerial(port feetech.Transport, cfg SerialConfig) *Serial {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	s := &Serial{
		port:    port,
		framing: cfg.Framing,
		timeout: cfg.Timeout,
		log:     logging.OrNop(cfg.Logger).Named("serial"),
		metrics: cfg.Metrics,
	}
	if cfg.MinCommandGap > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.MinCommandGap), 1)
	}
	return s
}

// OpenSerial opens cfg.Port and wraps it.
func OpenSerial(cfg SerialConfig) (*Serial, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	port, err := transports.OpenSerial(transports.SerialConfig{
		Port:     cfg.Port,
		BaudRate: cfg.BaudRate,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Port, err)
	}

	logging.OrNop(cfg.Logger).Info("serial port opened",
		zap.String("port", cfg.Port),
		zap.Int("baud", cfg.BaudRate),
		zap.Stringer("framing", cfg.Framing))
	return NewSerial(port, cfg), nil
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (s *Serial) Kind() Kind { return KindRequestResponse }

// Send writes frame without reading a reply.
func (s *Serial) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.writeLocked(ctx, frame)
	return err
}

// SendAndReceive writes frame and blocks until one reply frame has been read
// or the timeout elapses.
func (s *Serial) SendAndReceive(ctx context.Context, frame []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, err := s.writeLocked(ctx, frame)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(s.timeout)
	var reply []byte
	if s.framing == protocol.FramingChecked {
		reply, err = s.readEnvelopeLocked(ctx, req.MotorID, deadline)
	} else {
		reply, err = s.readRawLocked(ctx, req.Opcode, deadline)
	}
	s.metrics.Reply(replyResult(reply, err))
	if err != nil {
		s.log.Debug("exchange failed",
			zap.Uint8("motor", req.MotorID),
			zap.Stringer("op", req.Opcode),
			zap.Error(err))
		return nil, err
	}

	s.log.Debug("exchange",
		zap.Uint8("motor", req.MotorID),
		zap.Stringer("op", req.Opcode),
		zap.Binary("reply", reply))
	return reply, nil
}

// Close closes the port. An exchange in progress fails with ErrTransportClosed.
func (s *Serial) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.port.Close()
}

func (s *Serial) writeLocked(ctx context.Context, frame []byte) (protocol.Request, error) {
	if s.closed.Load() {
		return protocol.Request{}, ErrTransportClosed
	}

	req, err := protocol.DecodeRequest(frame)
	if err != nil {
		return protocol.Request{}, err
	}

	out := frame
	if s.framing == protocol.FramingChecked {
		if out, err = protocol.WrapRequest(frame); err != nil {
			return protocol.Request{}, err
		}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return protocol.Request{}, err
		}
	}

	// Discard anything left over from an earlier timed-out exchange.
	s.port.Flush()

	n, err := s.port.Write(out)
	if err != nil {
		if s.isClosedErr(err) {
			return protocol.Request{}, fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}
		return protocol.Request{}, fmt.Errorf("write failed: %w", err)
	}
	if n != len(out) {
		return protocol.Request{}, fmt.Errorf("incomplete write: %d of %d bytes", n, len(out))
	}

	s.metrics.FrameSent("serial")
	return req, nil
}

// readFullLocked fills buf or fails once deadline passes. A read that returns
// no bytes with an error means no data yet.
func (s *Serial) readFullLocked(ctx context.Context, buf []byte, deadline time.Time) error {
	total := 0
	for total < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.closed.Load() {
			return ErrTransportClosed
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: read %d of %d expected bytes", ErrTimeout, total, len(buf))
		}

		remaining := max(time.Until(deadline), 10*time.Millisecond)
		s.port.SetReadTimeout(remaining)

		n, err := s.port.Read(buf[total:])
		if err != nil {
			if s.isClosedErr(err) {
				return fmt.Errorf("%w: %v", ErrTransportClosed, err)
			}
			if n == 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			return fmt.Errorf("read error: %w", err)
		}
		total += n
	}
	return nil
}

// readRawLocked reads an unframed reply. A faulted controller sends only the
// status byte, so params are read only after an OK status. Stray param bytes
// after a fault are dropped by the flush before the next write.
func (s *Serial) readRawLocked(ctx context.Context, op protocol.Opcode, deadline time.Time) ([]byte, error) {
	reply := make([]byte, protocol.ReplyLen(op))
	if err := s.readFullLocked(ctx, reply[:1], deadline); err != nil {
		return nil, err
	}
	if !protocol.Status(reply[0]).OK() {
		return reply[:1], nil
	}
	if err := s.readFullLocked(ctx, reply[1:], deadline); err != nil {
		return nil, err
	}
	return reply, nil
}

func (s *Serial) readEnvelopeLocked(ctx context.Context, id byte, deadline time.Time) ([]byte, error) {
	prefix := make([]byte, protocol.EnvPrefixLen)
	if err := s.readFullLocked(ctx, prefix, deadline); err != nil {
		return nil, err
	}
	total, err := protocol.EnvelopeLen(prefix)
	if err != nil {
		return nil, err
	}

	env := make([]byte, total)
	copy(env, prefix)
	if err := s.readFullLocked(ctx, env[len(prefix):], deadline); err != nil {
		return nil, err
	}

	gotID, _, payload, err := protocol.Unwrap(env)
	if err != nil {
		return nil, err
	}
	// The firmware does not echo the request opcode, so only the id correlates.
	if gotID != id {
		return nil, fmt.Errorf("%w: reply from motor %d, expected %d", protocol.ErrMalformedFrame, gotID, id)
	}
	return payload, nil
}

func (s *Serial) isClosedErr(err error) bool {
	if s.closed.Load() {
		return true
	}
	var pe *serial.PortError
	if errors.As(err, &pe) && pe.Code() == serial.PortClosed {
		return true
	}
	return errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

func replyResult(reply []byte, err error) string {
	switch {
	case err == nil && len(reply) > 0 && !protocol.Status(reply[0]).OK():
		return metrics.ResultFault
	case err == nil:
		return metrics.ResultOK
	case errors.Is(err, ErrTimeout):
		return metrics.ResultTimeout
	case errors.Is(err, protocol.ErrMalformedFrame):
		return metrics.ResultMalformed
	default:
		return metrics.ResultError
	}
}
