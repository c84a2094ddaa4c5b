package calibration

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BIST-Research/batbot/internal/logging"
	"github.com/BIST-Research/batbot/pkg/protocol"
	"github.com/BIST-Research/batbot/pkg/tendon"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrWrongPhase   = errors.New("action not valid in this phase")
)

// DefaultSteps are the selectable increment sizes, in percent.
var DefaultSteps = []int{1, 5, 10}

// Motors is the subset of the motor controller a session drives.
// *tendon.Controller satisfies it.
type Motors interface {
	SetMaxAngle(ctx context.Context, id tendon.MotorID, angle protocol.Angle) error
	WriteAnglePercentOfMax(ctx context.Context, id tendon.MotorID, percent int) error
	SetZero(ctx context.Context, id tendon.MotorID) error
	ReadAngle(ctx context.Context, id tendon.MotorID) (protocol.Angle, error)
}

// Phase is the session state for the current motor.
type Phase int

const (
	PhaseAwaitMaxAngle Phase = iota
	PhaseInteractiveAdjust
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitMaxAngle:
		return "await max angle"
	case PhaseInteractiveAdjust:
		return "adjust"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// Status describes the session for display.
type Status struct {
	Phase    Phase
	Motor    tendon.MotorID
	Index    int // position of Motor in the session, 0-based
	Total    int
	MaxAngle protocol.Angle
	Goal     int // percent of MaxAngle
	Step     int
	Angle    protocol.Angle // read back from the controller in the adjust phase
	Aborted  bool
}

// SessionConfig holds session settings.
type SessionConfig struct {
	Steps  []int
	Logger *zap.Logger
}

// Session calibrates motors one at a time in ascending id order: enter the
// maximum angle, nudge the motor to its rest position, confirm to zero it.
// A Session is not safe for concurrent use.
type Session struct {
	m     Motors
	ids   []tendon.MotorID
	steps []int
	log   *zap.Logger
	now   func() time.Time

	pos      int
	phase    Phase
	maxAngle protocol.Angle
	goal     int
	stepIdx  int
	aborted  bool
	results  Calibration
}

// NewSession starts a session for ids.
func NewSession(m Motors, ids []tendon.MotorID, cfg SessionConfig) (*Session, error) {
	if len(ids) == 0 {
		return nil, errors.New("no motors to calibrate")
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	if len(slices.Compact(slices.Clone(sorted))) != len(sorted) {
		return nil, fmt.Errorf("duplicate motor ids in %v", ids)
	}

	steps := cfg.Steps
	if len(steps) == 0 {
		steps = DefaultSteps
	}
	for _, s := range steps {
		if s <= 0 {
			return nil, fmt.Errorf("step sizes must be positive, got %v", steps)
		}
	}

	return &Session{
		m:       m,
		ids:     sorted,
		steps:   slices.Clone(steps),
		log:     logging.OrNop(cfg.Logger).Named("calibration"),
		now:     time.Now,
		results: make(Calibration),
	}, nil
}

// Phase returns the current phase.
func (s *Session) Phase() Phase { return s.phase }

// Motor returns the motor being calibrated. After the last motor it
// returns the last id.
func (s *Session) Motor() tendon.MotorID {
	return s.ids[min(s.pos, len(s.ids)-1)]
}

// SubmitMaxAngle parses a line of input as the maximum angle for the current
// motor and sends it. Invalid input leaves the session waiting for another
// attempt.
func (s *Session) SubmitMaxAngle(ctx context.Context, input string) error {
	if s.phase != PhaseAwaitMaxAngle {
		return fmt.Errorf("%w: %s", ErrWrongPhase, s.phase)
	}

	v, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return fmt.Errorf("%w: %q is not an integer", ErrInvalidInput, input)
	}
	angle, err := protocol.CheckAngle(v)
	if err != nil {
		return err
	}

	id := s.Motor()
	if err := s.m.SetMaxAngle(ctx, id, angle); err != nil {
		return err
	}

	s.maxAngle = angle
	s.goal = 0
	s.phase = PhaseInteractiveAdjust
	s.log.Info("max angle accepted", zap.Stringer("motor", id), zap.Int16("angle", int16(angle)))
	return nil
}

// Increment raises the goal by the current step, clamped to 100%, and moves
// the motor there.
func (s *Session) Increment(ctx context.Context) error {
	return s.moveBy(ctx, s.steps[s.stepIdx])
}

// Decrement lowers the goal by the current step, clamped to 0%, and moves
// the motor there.
func (s *Session) Decrement(ctx context.Context) error {
	return s.moveBy(ctx, -s.steps[s.stepIdx])
}

func (s *Session) moveBy(ctx context.Context, delta int) error {
	if s.phase != PhaseInteractiveAdjust {
		return fmt.Errorf("%w: %s", ErrWrongPhase, s.phase)
	}
	goal := max(0, min(s.goal+delta, protocol.MaxPercent))
	if err := s.m.WriteAnglePercentOfMax(ctx, s.Motor(), goal); err != nil {
		return err
	}
	s.goal = goal
	return nil
}

// StepUp selects the next larger step size, stopping at the largest.
func (s *Session) StepUp() error {
	if s.phase != PhaseInteractiveAdjust {
		return fmt.Errorf("%w: %s", ErrWrongPhase, s.phase)
	}
	s.stepIdx = min(s.stepIdx+1, len(s.steps)-1)
	return nil
}

// StepDown selects the next smaller step size, stopping at the smallest.
func (s *Session) StepDown() error {
	if s.phase != PhaseInteractiveAdjust {
		return fmt.Errorf("%w: %s", ErrWrongPhase, s.phase)
	}
	s.stepIdx = max(s.stepIdx-1, 0)
	return nil
}

// Confirm zeroes the current motor at its present position and moves on to
// the next one.
func (s *Session) Confirm(ctx context.Context) error {
	if s.phase != PhaseInteractiveAdjust {
		return fmt.Errorf("%w: %s", ErrWrongPhase, s.phase)
	}

	id := s.Motor()
	if err := s.m.SetZero(ctx, id); err != nil {
		return err
	}
	s.results[id] = MotorCalibration{ID: id, MaxAngle: s.maxAngle, ZeroedAt: s.now()}
	s.log.Info("motor calibrated", zap.Stringer("motor", id), zap.Int16("max_angle", int16(s.maxAngle)))

	s.pos++
	s.goal = 0
	s.maxAngle = 0
	if s.pos == len(s.ids) {
		s.phase = PhaseDone
	} else {
		s.phase = PhaseAwaitMaxAngle
	}
	return nil
}

// Abort ends the session. Motors already confirmed keep their settings.
func (s *Session) Abort() {
	if s.phase == PhaseDone {
		return
	}
	s.log.Warn("calibration aborted", zap.Stringer("motor", s.Motor()), zap.Int("calibrated", len(s.results)))
	s.aborted = true
	s.phase = PhaseDone
}

// Status reports the session state. In the adjust phase it also reads the
// motor angle; a read failure is returned alongside the rest of the status.
func (s *Session) Status(ctx context.Context) (Status, error) {
	st := Status{
		Phase:    s.phase,
		Motor:    s.Motor(),
		Index:    min(s.pos, len(s.ids)-1),
		Total:    len(s.ids),
		MaxAngle: s.maxAngle,
		Goal:     s.goal,
		Step:     s.steps[s.stepIdx],
		Aborted:  s.aborted,
	}
	if s.phase != PhaseInteractiveAdjust {
		return st, nil
	}
	angle, err := s.m.ReadAngle(ctx, st.Motor)
	if err != nil {
		return st, err
	}
	st.Angle = angle
	return st, nil
}

// Results returns the motors calibrated so far.
func (s *Session) Results() Calibration {
	return Calibration{}.Merge(s.results)
}
