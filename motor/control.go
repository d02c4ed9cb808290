package motor

import (
	"github.com/go-gl/mathgl/mgl64"

	"github.com/tachdev/govern/motor/tacho"
)

// ControlLaw turns tracking error into bounded actuation. Implementations
// must be monotonic in the error and its rate of change and must keep the
// returned power within [-tacho.PowerMax, tacho.PowerMax].
type ControlLaw interface {
	// Actuation computes power from the position error (deg), the velocity
	// error (deg/s) and the trajectory velocity (deg/s) of the current tick.
	Actuation(posErr, velErr, targetVel float64) float64

	// Reset clears any internal state when a new move begins.
	Reset()
}

// PDLaw is proportional-plus-derivative control on position error with a
// velocity feed-forward term. This is the law wired by default.
type PDLaw struct {
	KP float64 // power per degree of position error
	KD float64 // power per degree/sec of velocity error
	KV float64 // feed-forward power per degree/sec of trajectory velocity
}

func (l *PDLaw) Actuation(posErr, velErr, targetVel float64) float64 {
	p := l.KP*posErr + l.KD*velErr + l.KV*targetVel
	return mgl64.Clamp(p, -tacho.PowerMax, tacho.PowerMax)
}

func (l *PDLaw) Reset() {}

// PLaw is plain proportional control, kept as a swappable strategy for
// tuning and comparison runs.
type PLaw struct {
	KP float64
}

func (l *PLaw) Actuation(posErr, velErr, targetVel float64) float64 {
	return mgl64.Clamp(l.KP*posErr, -tacho.PowerMax, tacho.PowerMax)
}

func (l *PLaw) Reset() {}
