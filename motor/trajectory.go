package motor

import "math"

// trajectory is the per-move setpoint generator: a bounded-acceleration
// velocity ramp whose integral is the commanded position. The regulator
// advances it once per tick and tracks the resulting setpoints; replacing a
// move re-bases a fresh trajectory from the previous one's current
// setpoints so actuation stays continuous.
type trajectory struct {
	pos float64 // commanded position, degrees
	vel float64 // commanded velocity, degrees/sec

	cruise  float64 // velocity magnitude the ramp works toward
	acc     float64 // ramp rate magnitude
	limit   float64
	bounded bool
	dir     float64 // +1 or -1
	done    bool
}

func newTrajectory(fromPos, fromVel float64, m Move) *trajectory {
	t := &trajectory{
		pos:     fromPos,
		vel:     fromVel,
		cruise:  math.Abs(m.TargetVelocity),
		acc:     math.Abs(m.Acceleration),
		limit:   m.LimitAngle,
		bounded: m.Bounded(),
	}

	switch {
	case t.bounded:
		if m.LimitAngle >= fromPos {
			t.dir = 1
		} else {
			t.dir = -1
		}
	case m.LimitAngle < 0:
		t.dir = -1
	default:
		t.dir = 1
	}

	// A zero-velocity request cannot ramp anywhere: resolve it on the spot
	// so stop/float commands take effect within one tick.
	if t.cruise == 0 {
		t.vel = 0
		t.done = true
	}

	return t
}

// advance moves the setpoints forward by dt seconds.
func (t *trajectory) advance(dt float64) {
	if t.done || dt <= 0 {
		return
	}

	goal := t.cruise * t.dir
	if t.bounded {
		remaining := t.limit - t.pos
		if remaining*t.dir <= 0 {
			t.finishAtLimit()
			return
		}
		// Cap the ramp so the remaining distance is always enough to
		// decelerate to rest at the limit.
		vAllowed := math.Sqrt(2 * t.acc * math.Abs(remaining))
		if math.Abs(goal) > vAllowed {
			goal = vAllowed * t.dir
		}
	}

	v := t.vel
	if dv := goal - v; math.Abs(dv) > t.acc*dt {
		v += math.Copysign(t.acc*dt, dv)
	} else {
		v = goal
	}

	t.pos += (t.vel + v) / 2 * dt
	t.vel = v

	if t.bounded && (t.limit-t.pos)*t.dir <= 0 {
		t.finishAtLimit()
	}
}

func (t *trajectory) finishAtLimit() {
	t.pos = t.limit
	t.vel = 0
	t.done = true
}

// setCruise retunes the velocity magnitude of the move in flight; the next
// advance ramps toward it at the configured acceleration.
func (t *trajectory) setCruise(speed float64) {
	t.cruise = math.Abs(speed)
}

// setAcceleration retunes the ramp rate of the move in flight.
func (t *trajectory) setAcceleration(acc float64) {
	if acc > 0 {
		t.acc = acc
	}
}
