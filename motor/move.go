package motor

import "math"

// NoLimit is the limit angle sentinel for an unbounded move. Signed so that
// forward and backward moves carry their direction in the limit, matching
// the bounded case.
const NoLimit = math.MaxInt32

// Move is an immutable description of one commanded motion. A newly
// submitted Move always replaces the active one before the next control
// tick observes it; there is no queue.
type Move struct {
	// TargetVelocity is the cruise velocity in degrees/sec. Its magnitude is
	// what the trajectory ramps toward; direction comes from LimitAngle.
	TargetVelocity float64

	// Acceleration is the ramp rate magnitude in degrees/sec^2.
	Acceleration float64

	// LimitAngle is the absolute target position in degrees, or +/-NoLimit
	// for an unbounded move in that direction.
	LimitAngle float64

	// Hold brakes and actively maintains position at completion; otherwise
	// the motor floats.
	Hold bool

	// WaitForCompletion blocks the submitting caller until the move
	// resolves (complete, superseded, stalled or faulted).
	WaitForCompletion bool
}

// Bounded reports whether the move stops at LimitAngle.
func (m Move) Bounded() bool {
	return m.LimitAngle < NoLimit && m.LimitAngle > -NoLimit
}

// stopRequest reports whether the move asks for zero motion. An unbounded
// limit with zero velocity means stop in place; Hold picks brake or float.
func (m Move) stopRequest() bool {
	return m.TargetVelocity == 0 && !m.Bounded()
}
