package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/spi"

	"github.com/BIST-Research/batbot/internal/logging"
	"github.com/BIST-Research/batbot/internal/metrics"
	"github.com/BIST-Research/batbot/pkg/protocol"
)

// StreamedConfig holds configuration for a streamed link.
type StreamedConfig struct {
	MotorCount int

	// Closer releases the underlying port on Close. Optional.
	Closer io.Closer

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Streamed writes whole multi-motor records over SPI. There are no replies;
// the bytes clocked back during a transfer are discarded.
type Streamed struct {
	conn      spi.Conn
	closer    io.Closer
	recordLen int
	motors    int
	log       *zap.Logger
	metrics   *metrics.Metrics

	mu     sync.Mutex
	closed bool
	rx     []byte
}

var _ Transport = (*Streamed)(nil)

// NewStreamed wraps an SPI connection for records of cfg.MotorCount motors.
func NewStreamed(conn spi.Conn, cfg StreamedConfig) (*Streamed, error) {
	if conn == nil {
		return nil, errors.New("spi connection is required")
	}
	if cfg.MotorCount < 1 {
		return nil, fmt.Errorf("motor count must be positive, got %d", cfg.MotorCount)
	}
	n := protocol.RecordLen(cfg.MotorCount)
	return &Streamed{
		conn:      conn,
		closer:    cfg.Closer,
		recordLen: n,
		motors:    cfg.MotorCount,
		log:       logging.OrNop(cfg.Logger).Named("streamed"),
		metrics:   cfg.Metrics,
		rx:        make([]byte, n),
	}, nil
}

func (s *Streamed) Kind() Kind { return KindStreamed }

// RecordLen is the fixed byte length of every record this link accepts.
func (s *Streamed) RecordLen() int { return s.recordLen }

// MotorCount is the number of motors each record addresses.
func (s *Streamed) MotorCount() int { return s.motors }

// Send transfers one record. The transfer is not interruptible; ctx is only
// checked before it starts.
func (s *Streamed) Send(ctx context.Context, record []byte) error {
	if len(record) != s.recordLen {
		return fmt.Errorf("%w: record is %d bytes, want %d", protocol.ErrInvalidParameterLength, len(record), s.recordLen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrTransportClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.conn.Tx(record, s.rx); err != nil {
		return fmt.Errorf("spi transfer: %w", err)
	}
	s.metrics.FrameSent("streamed")
	if ce := s.log.Check(zap.DebugLevel, "record sent"); ce != nil {
		ce.Write(zap.Binary("record", record))
	}
	return nil
}

// SendAndReceive is not supported on a streamed link.
func (s *Streamed) SendAndReceive(context.Context, []byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: streamed link has no replies", ErrUnsupportedOperation)
}

// Close releases the port. Further sends fail with ErrTransportClosed.
func (s *Streamed) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
