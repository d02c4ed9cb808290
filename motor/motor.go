// Package motor implements closed-loop, tachometer-feedback motor
// regulation. A RegulatedMotor keeps velocity and position tracking a
// commanded trajectory from its own control goroutine, detects stalls, and
// reports movement transitions to a registered listener.
//
// The basic control methods are Forward, Backward, Stop and Flt; Rotate and
// RotateTo use the tachometer to control the position at which the motor
// stops, usually within a degree or two. Motors hold their position when
// stopped; use Flt instead of Stop if that is not what you want.
package motor

import (
	"math"
	"sync"
	"time"

	"github.com/tachdev/govern/motor/tacho"
)

// RegulatedMotor is the client-facing facade over one Regulator. All
// methods are safe for concurrent use from any goroutine; the regulation
// itself runs on the motor's own control goroutine.
type RegulatedMotor struct {
	name string
	reg  *Regulator

	mu           sync.Mutex
	speed        float64
	acceleration float64
	maxSpeed     float64
	limitAngle   int
}

// New binds a regulated motor to a feedback port. The configured speed,
// acceleration and stall thresholds become the defaults for subsequent
// moves.
func New(name string, port tacho.Port, cfg MotorConfig) (*RegulatedMotor, error) {
	reg, err := NewRegulator(name, port, cfg, nil)
	if err != nil {
		return nil, err
	}
	return &RegulatedMotor{
		name:         name,
		reg:          reg,
		speed:        cfg.Speed,
		acceleration: cfg.Acceleration,
		maxSpeed:     cfg.MaxSpeed,
	}, nil
}

// Name returns the motor identity used in listener notifications.
func (m *RegulatedMotor) Name() string {
	return m.name
}

// Forward runs the motor forward at the configured speed until superseded.
// Returns immediately.
func (m *RegulatedMotor) Forward() error {
	speed, acc := m.profile()
	return m.reg.StartMove(Move{
		TargetVelocity: speed,
		Acceleration:   acc,
		LimitAngle:     NoLimit,
		Hold:           true,
	})
}

// Backward runs the motor backward at the configured speed until
// superseded. Returns immediately.
func (m *RegulatedMotor) Backward() error {
	speed, acc := m.profile()
	return m.reg.StartMove(Move{
		TargetVelocity: speed,
		Acceleration:   acc,
		LimitAngle:     -NoLimit,
		Hold:           true,
	})
}

// Stop brakes the motor in place and keeps holding the position. With
// immediateReturn the call does not wait for the motor to stop.
func (m *RegulatedMotor) Stop(immediateReturn bool) error {
	_, acc := m.profile()
	return m.reg.StartMove(Move{
		Acceleration:      acc,
		LimitAngle:        NoLimit,
		Hold:              true,
		WaitForCompletion: !immediateReturn,
	})
}

// Flt stops driving the motor and lets it coast freely; position is not
// maintained. With immediateReturn the call does not wait.
func (m *RegulatedMotor) Flt(immediateReturn bool) error {
	_, acc := m.profile()
	return m.reg.StartMove(Move{
		Acceleration:      acc,
		LimitAngle:        NoLimit,
		WaitForCompletion: !immediateReturn,
	})
}

// Rotate turns the motor by angle degrees relative to the regulated
// position at the moment of submission.
func (m *RegulatedMotor) Rotate(angle int, immediateReturn bool) error {
	speed, acc := m.profile()
	limit, err := m.reg.StartRelative(Move{
		TargetVelocity:    speed,
		Acceleration:      acc,
		Hold:              true,
		WaitForCompletion: !immediateReturn,
	}, float64(angle))
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.limitAngle = int(math.Round(limit))
	m.mu.Unlock()
	return nil
}

// RotateTo turns the motor to the absolute limit angle and holds it there.
func (m *RegulatedMotor) RotateTo(limitAngle int, immediateReturn bool) error {
	speed, acc := m.profile()

	m.mu.Lock()
	m.limitAngle = limitAngle
	m.mu.Unlock()

	return m.reg.StartMove(Move{
		TargetVelocity:    speed,
		Acceleration:      acc,
		LimitAngle:        float64(limitAngle),
		Hold:              true,
		WaitForCompletion: !immediateReturn,
	})
}

// SetSpeed sets the desired speed in degrees/sec for this and subsequent
// moves. Only the magnitude is used; direction comes from the move calls.
func (m *RegulatedMotor) SetSpeed(speed int) error {
	m.mu.Lock()
	m.speed = math.Abs(float64(speed))
	s := m.speed
	m.mu.Unlock()
	return m.reg.AdjustSpeed(s)
}

// Speed returns the configured speed in degrees/sec.
func (m *RegulatedMotor) Speed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(math.Round(m.speed))
}

// SetAcceleration sets the ramp rate in degrees/sec^2 for this and
// subsequent moves. The default of 6000 is close to instantaneous; smaller
// values smooth speed changes.
func (m *RegulatedMotor) SetAcceleration(acceleration int) error {
	m.mu.Lock()
	m.acceleration = math.Abs(float64(acceleration))
	a := m.acceleration
	m.mu.Unlock()
	return m.reg.AdjustAcceleration(a)
}

// Acceleration returns the configured ramp rate in degrees/sec^2.
func (m *RegulatedMotor) Acceleration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int(math.Round(m.acceleration))
}

// MaxSpeed is the highest reliably sustainable speed for this motor's
// profile, in degrees/sec.
func (m *RegulatedMotor) MaxSpeed() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxSpeed
}

// LimitAngle returns the angle of the last bounded move.
func (m *RegulatedMotor) LimitAngle() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitAngle
}

// TachoCount returns the tachometer position rounded to the nearest degree.
// Reading the position of a suspended motor resumes regulation.
func (m *RegulatedMotor) TachoCount() (int, error) {
	return m.reg.TachoCount()
}

// Position returns the position the regulator is maintaining, rounded to
// the nearest degree. It can differ from TachoCount while the motor stalls
// or is forced out of position. Reading the position of a suspended motor
// resumes regulation.
func (m *RegulatedMotor) Position() (int, error) {
	pos, err := m.reg.Position()
	if err != nil {
		return 0, err
	}
	return int(math.Round(pos)), nil
}

// RotationSpeed returns the measured velocity in degrees/sec.
func (m *RegulatedMotor) RotationSpeed() (int, error) {
	vel, err := m.reg.Velocity()
	if err != nil {
		return 0, err
	}
	return int(math.Round(vel)), nil
}

// IsMoving reports whether a move is in progress. It reflects the
// commanded motion, not the axle: after Flt the axle may still coast while
// IsMoving reports false.
func (m *RegulatedMotor) IsMoving() (bool, error) {
	return m.reg.IsMoving()
}

// IsStalled reports whether the last move failed to track within the stall
// thresholds. The flag clears only on the next move request.
func (m *RegulatedMotor) IsStalled() (bool, error) {
	return m.reg.IsStalled()
}

// State returns the regulation state.
func (m *RegulatedMotor) State() (State, error) {
	return m.reg.State()
}

// WaitComplete blocks until the current move operation is complete,
// including by stalling.
func (m *RegulatedMotor) WaitComplete() error {
	return m.reg.WaitComplete()
}

// SetStallThreshold configures stall detection: the motor is stalled once
// the position error exceeds errDeg for longer than d.
func (m *RegulatedMotor) SetStallThreshold(errDeg int, d time.Duration) error {
	return m.reg.SetStallThreshold(float64(errDeg), d)
}

// AddListener registers the observer for start/stop notifications,
// replacing any previous registration.
func (m *RegulatedMotor) AddListener(l Listener) error {
	return m.reg.AddListener(l)
}

// RemoveListener clears the observer slot and returns the previous
// listener, or nil.
func (m *RegulatedMotor) RemoveListener() (Listener, error) {
	return m.reg.RemoveListener()
}

// ResetTachoCount zeroes the tachometer. Any move in progress is first
// halted with a synchronous stop-and-brake.
func (m *RegulatedMotor) ResetTachoCount() error {
	return m.reg.ResetTacho()
}

// SuspendRegulation removes the motor from regulation: it stops, floats,
// and tracks no target. Any high-level move call, or a position read,
// resumes regulation.
func (m *RegulatedMotor) SuspendRegulation() error {
	return m.reg.Suspend()
}

// Lock brakes and holds the current position.
//
// Deprecated: the regulator always holds position unless the motor is set
// into float mode with Flt; use Stop instead. The power argument is
// ignored.
func (m *RegulatedMotor) Lock(power int) error {
	return m.Stop(false)
}

// Close releases the motor: forces a stop-and-brake, halts the control
// loop and closes the feedback port. Every operation afterwards fails.
func (m *RegulatedMotor) Close() error {
	return m.reg.Close()
}

func (m *RegulatedMotor) profile() (speed, acceleration float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.speed, m.acceleration
}
