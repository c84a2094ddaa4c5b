package transport

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"

	"github.com/BIST-Research/batbot/internal/metrics"
	"github.com/BIST-Research/batbot/pkg/protocol"
)

// fakeConn is an spi.Conn that records every write.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	readLn []int
	err    error
}

func (f *fakeConn) String() string      { return "fake" }
func (f *fakeConn) Halt() error         { return nil }
func (f *fakeConn) Duplex() conn.Duplex { return conn.Full }

func (f *fakeConn) Tx(w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, append([]byte(nil), w...))
	f.readLn = append(f.readLn, len(r))
	return nil
}

func (f *fakeConn) TxPackets(p []spi.Packet) error {
	for _, pkt := range p {
		if err := f.Tx(pkt.W, pkt.R); err != nil {
			return err
		}
	}
	return nil
}

type closeCounter struct{ n int }

func (c *closeCounter) Close() error { c.n++; return nil }

func TestStreamed_Send(t *testing.T) {
	fc := &fakeConn{}
	closer := &closeCounter{}
	s, err := NewStreamed(fc, StreamedConfig{MotorCount: 6, Closer: closer})
	require.NoError(t, err)

	assert.Equal(t, KindStreamed, s.Kind())
	assert.Equal(t, 13, s.RecordLen())
	assert.Equal(t, 6, s.MotorCount())

	rec := protocol.EncodeRecord(protocol.NoZeroTarget, []protocol.Angle{10, 20, 30, 40, 50, 60})
	require.NoError(t, s.Send(context.Background(), rec))

	require.Len(t, fc.writes, 1)
	assert.Equal(t, rec, fc.writes[0])
	assert.Equal(t, 13, fc.readLn[0], "full-duplex read buffer matches record length")

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, closer.n)
}

func TestStreamed_WrongLength(t *testing.T) {
	fc := &fakeConn{}
	s, err := NewStreamed(fc, StreamedConfig{MotorCount: 2})
	require.NoError(t, err)

	err = s.Send(context.Background(), []byte{0, 1, 2})
	assert.ErrorIs(t, err, protocol.ErrInvalidParameterLength)
	assert.Empty(t, fc.writes)
}

func TestStreamed_SendAndReceiveUnsupported(t *testing.T) {
	s, err := NewStreamed(&fakeConn{}, StreamedConfig{MotorCount: 1})
	require.NoError(t, err)

	_, err = s.SendAndReceive(context.Background(), protocol.ReadAngleFrame(0))
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
}

func TestStreamed_Closed(t *testing.T) {
	fc := &fakeConn{}
	s, err := NewStreamed(fc, StreamedConfig{MotorCount: 1})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Send(context.Background(), protocol.EncodeRecord(0, []protocol.Angle{0}))
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.Empty(t, fc.writes)
}

func TestStreamed_TransferError(t *testing.T) {
	boom := errors.New("bus fault")
	s, err := NewStreamed(&fakeConn{err: boom}, StreamedConfig{MotorCount: 1})
	require.NoError(t, err)

	err = s.Send(context.Background(), protocol.EncodeRecord(0, []protocol.Angle{0}))
	assert.ErrorIs(t, err, boom)
}

func TestNewStreamed_Invalid(t *testing.T) {
	_, err := NewStreamed(nil, StreamedConfig{MotorCount: 1})
	assert.Error(t, err)

	_, err = NewStreamed(&fakeConn{}, StreamedConfig{})
	assert.Error(t, err)
}

func TestStreamed_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	s, err := NewStreamed(&fakeConn{}, StreamedConfig{MotorCount: 1, Metrics: m})
	require.NoError(t, err)

	rec := protocol.EncodeRecord(0, []protocol.Angle{5})
	require.NoError(t, s.Send(context.Background(), rec))
	require.NoError(t, s.Send(context.Background(), rec))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesSent.WithLabelValues("streamed")))
}

func TestOpenSPI_DryRun(t *testing.T) {
	s, err := OpenSPI(SPIConfig{MotorCount: 3, DryRun: true})
	require.NoError(t, err)
	defer s.Close()

	rec := protocol.EncodeRecord(2, []protocol.Angle{1, 2, 3})
	require.NoError(t, s.Send(context.Background(), rec))

	dry, ok := s.conn.(*DryRunConn)
	require.True(t, ok)
	assert.Equal(t, 1, dry.Count())
	assert.Equal(t, rec, dry.Last())
}

func TestDryRunConn_TxPackets(t *testing.T) {
	d := NewDryRunConn(nil)
	r := []byte{0xFF, 0xFF}
	require.NoError(t, d.TxPackets([]spi.Packet{{W: []byte{1, 2}, R: r}, {W: []byte{3}}}))

	assert.Equal(t, 2, d.Count())
	assert.Equal(t, []byte{3}, d.Last())
	assert.Equal(t, []byte{0, 0}, r)
	assert.Equal(t, conn.Full, d.Duplex())
}
