package motor

import (
	"math"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func runTrajectory(t *trajectory, dt float64, maxTicks int) int {
	ticks := 0
	for !t.done && ticks < maxTicks {
		t.advance(dt)
		ticks++
	}
	return ticks
}

func TestTrajectoryRamp(t *testing.T) {
	const dt = 0.004

	Convey("velocity ramps at the commanded acceleration", t, func() {
		tr := newTrajectory(0, 0, Move{
			TargetVelocity: 360,
			Acceleration:   1000,
			LimitAngle:     NoLimit,
		})

		tr.advance(dt)
		So(tr.vel, ShouldAlmostEqual, 4, 0.001)

		for i := 0; i < 200; i++ {
			tr.advance(dt)
		}
		So(tr.vel, ShouldAlmostEqual, 360, 0.001)
		So(tr.done, ShouldBeFalse)
	})

	Convey("a bounded move stops exactly at the limit", t, func() {
		tr := newTrajectory(0, 0, Move{
			TargetVelocity: 720,
			Acceleration:   6000,
			LimitAngle:     360,
			Hold:           true,
		})

		ticks := runTrajectory(tr, dt, 10000)
		So(tr.done, ShouldBeTrue)
		So(tr.pos, ShouldEqual, 360)
		So(tr.vel, ShouldEqual, 0)

		// cruise plus ramps should take roughly 0.6s
		So(float64(ticks)*dt, ShouldBeBetween, 0.3, 1.2)
	})

	Convey("direction comes from the limit, not the velocity sign", t, func() {
		tr := newTrajectory(100, 0, Move{
			TargetVelocity: 360,
			Acceleration:   6000,
			LimitAngle:     -80,
			Hold:           true,
		})

		runTrajectory(tr, dt, 10000)
		So(tr.pos, ShouldEqual, -80)
	})

	Convey("deceleration begins early enough to rest at the limit", t, func() {
		tr := newTrajectory(0, 0, Move{
			TargetVelocity: 720,
			Acceleration:   1000,
			LimitAngle:     90,
			Hold:           true,
		})

		peak := 0.0
		for !tr.done {
			tr.advance(dt)
			peak = math.Max(peak, tr.vel)
		}
		// v^2 = 2*a*d caps the feasible peak well below the cruise speed
		So(peak, ShouldBeLessThan, math.Sqrt(2*1000*90)*1.1)
		So(tr.pos, ShouldEqual, 90)
	})

	Convey("a zero-velocity request resolves immediately", t, func() {
		tr := newTrajectory(42, 180, Move{LimitAngle: NoLimit})
		So(tr.done, ShouldBeTrue)
		So(tr.vel, ShouldEqual, 0)
		So(tr.pos, ShouldEqual, 42)
	})

	Convey("replacement continuity starts from the old setpoints", t, func() {
		first := newTrajectory(0, 0, Move{
			TargetVelocity: 360,
			Acceleration:   6000,
			LimitAngle:     NoLimit,
		})
		for i := 0; i < 50; i++ {
			first.advance(dt)
		}

		second := newTrajectory(first.pos, first.vel, Move{
			TargetVelocity: 360,
			Acceleration:   6000,
			LimitAngle:     -NoLimit,
		})
		So(second.pos, ShouldEqual, first.pos)
		So(second.vel, ShouldEqual, first.vel)

		// the ramp reverses through zero instead of jumping
		second.advance(dt)
		So(second.vel, ShouldBeLessThan, first.vel)
	})

	Convey("speed retuning applies to the move in flight", t, func() {
		tr := newTrajectory(0, 0, Move{
			TargetVelocity: 100,
			Acceleration:   6000,
			LimitAngle:     NoLimit,
		})
		for i := 0; i < 50; i++ {
			tr.advance(dt)
		}
		So(tr.vel, ShouldAlmostEqual, 100, 0.001)

		tr.setCruise(300)
		for i := 0; i < 50; i++ {
			tr.advance(dt)
		}
		So(tr.vel, ShouldAlmostEqual, 300, 0.001)
	})
}
