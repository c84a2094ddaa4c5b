package tendon

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BIST-Research/batbot/internal/logging"
	"github.com/BIST-Research/batbot/pkg/protocol"
	"github.com/BIST-Research/batbot/pkg/transport"
)

// Config holds controller settings.
type Config struct {
	MotorCount int
	Logger     *zap.Logger
}

// Controller issues motor commands over a transport.
//
// On a request/response transport every command waits for the reply and a
// nonzero status becomes a *FaultError. On a streamed transport the
// controller keeps the last commanded angle of every motor and each write
// streams a full record; commands that need a reply are not available.
type Controller struct {
	t      transport.Transport
	motors int
	log    *zap.Logger

	mu      sync.Mutex
	targets []protocol.Angle
}

// New creates a controller for cfg.MotorCount motors on t.
func New(t transport.Transport, cfg Config) (*Controller, error) {
	if cfg.MotorCount < 1 {
		return nil, fmt.Errorf("motor count must be positive, got %d", cfg.MotorCount)
	}
	if sc, ok := t.(interface{ MotorCount() int }); ok && sc.MotorCount() != cfg.MotorCount {
		return nil, fmt.Errorf("transport carries %d motors, controller configured for %d", sc.MotorCount(), cfg.MotorCount)
	}
	return &Controller{
		t:       t,
		motors:  cfg.MotorCount,
		log:     logging.OrNop(cfg.Logger).Named("tendon"),
		targets: make([]protocol.Angle, cfg.MotorCount),
	}, nil
}

// MotorCount returns the number of motors addressed.
func (c *Controller) MotorCount() int { return c.motors }

// Kind returns the kind of the underlying transport.
func (c *Controller) Kind() transport.Kind { return c.t.Kind() }

// Close closes the underlying transport.
func (c *Controller) Close() error { return c.t.Close() }

// WriteAngle moves motor id to an absolute angle.
func (c *Controller) WriteAngle(ctx context.Context, id MotorID, angle protocol.Angle) error {
	if err := c.checkID(id); err != nil {
		return err
	}
	if !protocol.ValidAngle(int(angle)) {
		return fmt.Errorf("%w: angle %d not in [%d, %d]", protocol.ErrOutOfRange, angle, protocol.MinAngle, protocol.MaxAngle)
	}

	if c.streamed() {
		c.mu.Lock()
		defer c.mu.Unlock()
		prev := c.targets[id]
		c.targets[id] = angle
		if err := c.streamLocked(ctx, protocol.NoZeroTarget); err != nil {
			c.targets[id] = prev
			return err
		}
		return nil
	}

	_, err := c.exchange(ctx, id, protocol.OpWriteAngle, protocol.WriteAngleFrame(byte(id), angle))
	return err
}

// WriteAngles moves every motor at once. On a streamed transport this is a
// single record; otherwise one WriteAngle per motor in id order, stopping at
// the first error.
func (c *Controller) WriteAngles(ctx context.Context, angles []protocol.Angle) error {
	if len(angles) != c.motors {
		return fmt.Errorf("%w: %d angles for %d motors", protocol.ErrInvalidParameterLength, len(angles), c.motors)
	}
	for _, a := range angles {
		if !protocol.ValidAngle(int(a)) {
			return fmt.Errorf("%w: angle %d not in [%d, %d]", protocol.ErrOutOfRange, a, protocol.MinAngle, protocol.MaxAngle)
		}
	}

	if c.streamed() {
		c.mu.Lock()
		defer c.mu.Unlock()
		prev := append([]protocol.Angle(nil), c.targets...)
		copy(c.targets, angles)
		if err := c.streamLocked(ctx, protocol.NoZeroTarget); err != nil {
			copy(c.targets, prev)
			return err
		}
		return nil
	}

	for i, a := range angles {
		if err := c.WriteAngle(ctx, MotorID(i), a); err != nil {
			return err
		}
	}
	return nil
}

// ReadAngle returns the angle motor id reports.
func (c *Controller) ReadAngle(ctx context.Context, id MotorID) (protocol.Angle, error) {
	if err := c.checkID(id); err != nil {
		return 0, err
	}
	reply, err := c.exchange(ctx, id, protocol.OpReadAngle, protocol.ReadAngleFrame(byte(id)))
	if err != nil {
		return 0, err
	}
	angle, err := protocol.DecodeAngle(reply.Params)
	if err != nil {
		return 0, fmt.Errorf("%s read angle: %w", id, err)
	}
	return angle, nil
}

// WriteAnglePercentOfMax moves motor id to percent of its configured maximum.
// The controller resolves the angle; SetMaxAngle must have been called.
func (c *Controller) WriteAnglePercentOfMax(ctx context.Context, id MotorID, percent int) error {
	if err := c.checkID(id); err != nil {
		return err
	}
	p, err := protocol.CheckPercent(percent)
	if err != nil {
		return err
	}
	frame, err := protocol.WritePercentFrame(byte(id), p)
	if err != nil {
		return err
	}
	_, err = c.exchange(ctx, id, protocol.OpWriteAngle, frame)
	return err
}

// MoveToMin moves motor id to 0% of its maximum.
func (c *Controller) MoveToMin(ctx context.Context, id MotorID) error {
	return c.WriteAnglePercentOfMax(ctx, id, 0)
}

// MoveToMax moves motor id to 100% of its maximum.
func (c *Controller) MoveToMax(ctx context.Context, id MotorID) error {
	return c.WriteAnglePercentOfMax(ctx, id, protocol.MaxPercent)
}

// SetZero makes the current position of motor id its new zero. This cannot
// be undone except by another SetZero.
func (c *Controller) SetZero(ctx context.Context, id MotorID) error {
	if err := c.checkID(id); err != nil {
		return err
	}

	if c.streamed() {
		c.mu.Lock()
		defer c.mu.Unlock()
		prev := c.targets[id]
		c.targets[id] = 0
		if err := c.streamLocked(ctx, byte(id)+1); err != nil {
			c.targets[id] = prev
			return err
		}
		c.log.Info("zero set", zap.Stringer("motor", id))
		return nil
	}

	if _, err := c.exchange(ctx, id, protocol.OpSetZeroAngle, protocol.SetZeroFrame(byte(id))); err != nil {
		return err
	}
	c.log.Info("zero set", zap.Stringer("motor", id))
	return nil
}

// SetMaxAngle sets the angle that 100% refers to for motor id.
func (c *Controller) SetMaxAngle(ctx context.Context, id MotorID, angle protocol.Angle) error {
	if err := c.checkID(id); err != nil {
		return err
	}
	if !protocol.ValidAngle(int(angle)) {
		return fmt.Errorf("%w: angle %d not in [%d, %d]", protocol.ErrOutOfRange, angle, protocol.MinAngle, protocol.MaxAngle)
	}
	if _, err := c.exchange(ctx, id, protocol.OpSetMaxAngle, protocol.SetMaxAngleFrame(byte(id), angle)); err != nil {
		return err
	}
	c.log.Info("max angle set", zap.Stringer("motor", id), zap.Int16("angle", int16(angle)))
	return nil
}

// Echo checks that motor id answers.
func (c *Controller) Echo(ctx context.Context, id MotorID) error {
	if err := c.checkID(id); err != nil {
		return err
	}
	_, err := c.exchange(ctx, id, protocol.OpEcho, protocol.EchoFrame(byte(id)))
	return err
}

// ReadStatus returns the status word motor id reports.
func (c *Controller) ReadStatus(ctx context.Context, id MotorID) (protocol.Status, error) {
	if err := c.checkID(id); err != nil {
		return 0, err
	}
	reply, err := c.exchange(ctx, id, protocol.OpReadStatus, protocol.ReadStatusFrame(byte(id)))
	if err != nil {
		return 0, err
	}
	if len(reply.Params) < 1 {
		return 0, fmt.Errorf("%s read status: %w: empty reply", id, protocol.ErrMalformedFrame)
	}
	return protocol.Status(reply.Params[0]), nil
}

// WritePID sets the position loop gains of motor id.
func (c *Controller) WritePID(ctx context.Context, id MotorID, p, i, d int16) error {
	if err := c.checkID(id); err != nil {
		return err
	}
	_, err := c.exchange(ctx, id, protocol.OpWritePID, protocol.WritePIDFrame(byte(id), p, i, d))
	return err
}

// Targets returns the last angles streamed per motor. Only meaningful on a
// streamed transport.
func (c *Controller) Targets() []protocol.Angle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Angle(nil), c.targets...)
}

func (c *Controller) streamed() bool {
	return c.t.Kind() == transport.KindStreamed
}

func (c *Controller) checkID(id MotorID) error {
	if int(id) >= c.motors {
		return fmt.Errorf("%w: motor %d, have %d motors", protocol.ErrOutOfRange, id, c.motors)
	}
	return nil
}

// exchange sends frame and checks the reply status. Transport errors are
// returned wrapped but otherwise unchanged.
func (c *Controller) exchange(ctx context.Context, id MotorID, op protocol.Opcode, frame []byte) (protocol.Reply, error) {
	if c.streamed() {
		return protocol.Reply{}, fmt.Errorf("%s %s: %w", id, op, transport.ErrUnsupportedOperation)
	}

	raw, err := c.t.SendAndReceive(ctx, frame)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("%s %s: %w", id, op, err)
	}
	reply, err := protocol.Decode(raw)
	if err != nil {
		return protocol.Reply{}, fmt.Errorf("%s %s: %w", id, op, err)
	}
	if !reply.Status.OK() {
		c.log.Warn("controller fault",
			zap.Stringer("motor", id),
			zap.Stringer("op", op),
			zap.Stringer("status", reply.Status))
		return protocol.Reply{}, &FaultError{Motor: id, Op: op, Status: reply.Status}
	}
	return reply, nil
}

func (c *Controller) streamLocked(ctx context.Context, zeroTarget byte) error {
	rec := protocol.EncodeRecord(zeroTarget, c.targets)
	if err := c.t.Send(ctx, rec); err != nil {
		return fmt.Errorf("stream record: %w", err)
	}
	return nil
}
