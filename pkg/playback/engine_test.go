package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BIST-Research/batbot/internal/metrics"
	"github.com/BIST-Research/batbot/pkg/protocol"
	"github.com/BIST-Research/batbot/pkg/transport"
)

// recordingTransport is a streamed transport that stamps each send with the
// logical clock.
type recordingTransport struct {
	kind  transport.Kind
	clock *logicalClock

	mu     sync.Mutex
	sent   [][]byte
	at     []time.Duration
	failAt int // 1-based send that fails; 0 never
}

func (r *recordingTransport) Kind() transport.Kind { return r.kind }

func (r *recordingTransport) Send(_ context.Context, frame []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failAt > 0 && len(r.sent)+1 == r.failAt {
		return errors.New("spi fault")
	}
	r.sent = append(r.sent, frame)
	if r.clock != nil {
		r.at = append(r.at, r.clock.Now())
	}
	return nil
}

func (r *recordingTransport) SendAndReceive(context.Context, []byte) ([]byte, error) {
	return nil, transport.ErrUnsupportedOperation
}

func (r *recordingTransport) Close() error { return nil }

func (r *recordingTransport) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// logicalClock advances on every sleep. After block sleeps it parks the
// worker until the run is stopped.
type logicalClock struct {
	mu     sync.Mutex
	now    time.Duration
	sleeps int
	block  int
}

func (c *logicalClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *logicalClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sleeps
}

func (c *logicalClock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps++
	n := c.sleeps
	c.mu.Unlock()

	if c.block > 0 && n >= c.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
	return nil
}

func testSequence(t *testing.T, n int) *Sequence {
	t.Helper()
	rows := make([][]protocol.Angle, n)
	for i := range rows {
		rows[i] = []protocol.Angle{protocol.Angle(i * 10), protocol.Angle(-i * 10)}
	}
	seq, err := NewSequence(rows, 2)
	require.NoError(t, err)
	return seq
}

func newTestEngine(tr *recordingTransport, clk *logicalClock, m *metrics.Metrics) *Engine {
	e := NewEngine(tr, Config{Metrics: m})
	e.sleep = clk.sleep
	return e
}

func TestEngine_NSendsBeforeFirstCycle(t *testing.T) {
	for _, n := range []int{1, 3, 7} {
		clk := &logicalClock{block: 2*n + 1}
		tr := &recordingTransport{kind: transport.KindStreamed, clock: clk}
		e := newTestEngine(tr, clk, nil)
		seq := testSequence(t, n)

		require.NoError(t, e.Start(seq, 10))

		ev := <-e.Events()
		assert.Equal(t, 1, ev.Cycle, "n=%d", n)
		assert.Equal(t, n, ev.Sent, "n=%d", n)
		assert.NoError(t, ev.Err)

		ev = <-e.Events()
		assert.Equal(t, 2, ev.Cycle, "n=%d", n)
		assert.Equal(t, 2*n, ev.Sent, "n=%d", n)

		e.Stop()

		for i := range 2 * n {
			assert.Equal(t, seq.Record(i%n), tr.sent[i], "send %d", i)
		}
	}
}

func TestEngine_CycleTimingLogical(t *testing.T) {
	clk := &logicalClock{block: 5}
	tr := &recordingTransport{kind: transport.KindStreamed, clock: clk}
	e := newTestEngine(tr, clk, nil)

	require.NoError(t, e.Start(testSequence(t, 3), 2))
	require.Eventually(t, func() bool { return clk.Sleeps() >= 5 }, time.Second, time.Millisecond)
	e.Stop()

	require.GreaterOrEqual(t, len(tr.at), 4)
	cycle := tr.at[3] - tr.at[0]
	assert.GreaterOrEqual(t, cycle, 1500*time.Millisecond)
	assert.Less(t, cycle, 2500*time.Millisecond)
}

func TestEngine_StopBetweenTicks(t *testing.T) {
	clk := &logicalClock{block: 2}
	tr := &recordingTransport{kind: transport.KindStreamed, clock: clk}
	e := newTestEngine(tr, clk, nil)

	require.NoError(t, e.Start(testSequence(t, 5), 100))
	require.Eventually(t, func() bool { return clk.Sleeps() >= 2 }, time.Second, time.Millisecond)
	assert.Equal(t, StateRunning, e.State())

	e.Stop()
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, 2, tr.count())
	assert.NoError(t, e.Wait())

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 2, tr.count(), "no sends after stop")

	st := e.Status()
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, 2, st.Sent)
	assert.Equal(t, 2, st.Index)
}

func TestEngine_StopWhenIdle(t *testing.T) {
	e := NewEngine(&recordingTransport{kind: transport.KindStreamed}, Config{})
	e.Stop()
	assert.Equal(t, StateIdle, e.State())
	assert.NoError(t, e.Wait())
}

func TestEngine_AlreadyRunning(t *testing.T) {
	clk := &logicalClock{block: 3}
	tr := &recordingTransport{kind: transport.KindStreamed, clock: clk}
	e := newTestEngine(tr, clk, nil)

	require.NoError(t, e.Start(testSequence(t, 2), 5))
	require.Eventually(t, func() bool { return clk.Sleeps() >= 3 }, time.Second, time.Millisecond)
	runID := e.Status().RunID

	err := e.Start(testSequence(t, 4), 5)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, StateRunning, e.State())
	assert.Equal(t, runID, e.Status().RunID)

	e.Stop()
	assert.Equal(t, 3, tr.count())

	// A fresh run after stop gets a new id.
	clk.sleeps = 0
	clk.block = 1
	require.NoError(t, e.Start(testSequence(t, 2), 5))
	require.Eventually(t, func() bool { return clk.Sleeps() >= 1 }, time.Second, time.Millisecond)
	assert.NotEqual(t, runID, e.Status().RunID)
	e.Stop()
}

func TestEngine_InvalidStart(t *testing.T) {
	tr := &recordingTransport{kind: transport.KindStreamed}
	e := NewEngine(tr, Config{})
	seq := testSequence(t, 2)

	for _, hz := range []float64{0, -1} {
		assert.ErrorIs(t, e.Start(seq, hz), ErrInvalidFrequency)
	}
	assert.ErrorIs(t, e.Start(nil, 1), ErrInvalidSequence)

	rr := NewEngine(&recordingTransport{kind: transport.KindRequestResponse}, Config{})
	assert.ErrorIs(t, rr.Start(seq, 1), transport.ErrUnsupportedOperation)

	assert.Equal(t, StateIdle, e.State())
	assert.Zero(t, tr.count())
}

func TestEngine_MotorCountMismatch(t *testing.T) {
	s, err := transport.NewStreamed(transport.NewDryRunConn(nil), transport.StreamedConfig{MotorCount: 6})
	require.NoError(t, err)

	e := NewEngine(s, Config{})
	assert.ErrorIs(t, e.Start(testSequence(t, 2), 1), ErrInvalidSequence)
}

func TestEngine_TransportFailureEndsRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	clk := &logicalClock{}
	tr := &recordingTransport{kind: transport.KindStreamed, clock: clk, failAt: 5}
	e := newTestEngine(tr, clk, m)

	require.NoError(t, e.Start(testSequence(t, 2), 50))

	err := e.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spi fault")
	assert.Equal(t, StateIdle, e.State())
	assert.Equal(t, 4, tr.count())

	var events []Event
	for len(e.Events()) > 0 {
		events = append(events, <-e.Events())
	}
	require.Len(t, events, 3)
	assert.Equal(t, 1, events[0].Cycle)
	assert.Equal(t, 2, events[1].Cycle)
	assert.Error(t, events[2].Err)
	assert.Equal(t, 4, events[2].Sent)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PlaybackFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PlaybackCycles))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PlaybackRecords))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PlaybackRunning))
}

func TestEngine_EventOverflowKeepsLatest(t *testing.T) {
	clk := &logicalClock{}
	tr := &recordingTransport{kind: transport.KindStreamed, clock: clk, failAt: 11}
	e := NewEngine(tr, Config{EventBuffer: 2})
	e.sleep = clk.sleep

	require.NoError(t, e.Start(testSequence(t, 1), 100))
	require.Error(t, e.Wait())

	first := <-e.Events()
	last := <-e.Events()
	assert.Equal(t, 10, first.Cycle)
	assert.Error(t, last.Err)
}

func TestEngine_RealSleep(t *testing.T) {
	tr := &recordingTransport{kind: transport.KindStreamed}
	e := NewEngine(tr, Config{})

	require.NoError(t, e.Start(testSequence(t, 2), 200))
	select {
	case ev := <-e.Events():
		assert.Equal(t, 1, ev.Cycle)
	case <-time.After(time.Second):
		t.Fatal("no cycle event")
	}
	e.Stop()
	assert.Equal(t, StateIdle, e.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "stopping", StateStopping.String())
}
