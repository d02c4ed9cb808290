package motor

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/tachdev/govern/motor/errors"
	"github.com/tachdev/govern/motor/tacho"
)

// State is the regulation state machine. There is no terminal state; the
// regulator runs for the motor's lifetime.
type State uint8

const (
	// Idle means no move is in progress. The regulator may still be
	// actively holding a position.
	Idle State = iota

	// Moving means a move is in progress and being tracked.
	Moving

	// Stalled means the last move failed to track within the stall
	// thresholds. It is cleared only by a new move request.
	Stalled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Moving:
		return "MOVING"
	case Stalled:
		return "STALLED"
	}
	return "UNKNOWN"
}

// Completion of a bounded hold move additionally requires the measured
// position to sit inside settleTolerance for settleTicks consecutive ticks,
// which is what makes rotate() land within a degree or two. The stall
// detector bounds how long a move may chase the tolerance.
const (
	settleTolerance = 1.0
	settleTicks     = 2
)

// Regulator keeps one motor tracking its commanded trajectory. It owns
// exactly one feedback port, the active move, the lock and condition that
// callers synchronize on, and a dedicated control goroutine ticking at a
// fixed period.
type Regulator struct {
	mu   sync.Mutex
	cond *sync.Cond

	name     string
	port     tacho.Port
	law      ControlLaw
	notifier *notifier

	period       time.Duration
	countsPerDeg float64

	// measured state, updated once per tick
	zero int // raw count corresponding to position zero
	pos  float64
	vel  float64

	// commanded state
	active    Move
	traj      *trajectory
	state     State
	suspended bool
	holding   bool
	holdPos   float64
	settled   int

	stallError float64
	stallTime  time.Duration
	stallAcc   time.Duration

	fault  error
	closed bool

	done     chan struct{}
	loopDone chan struct{}
}

// NewRegulator binds a regulator to a feedback port and starts its control
// loop. The tachometer is zeroed at the current position. A nil law gets
// the PD law built from the config gains.
func NewRegulator(name string, port tacho.Port, cfg MotorConfig, law ControlLaw) (*Regulator, error) {
	if port == nil {
		return nil, errors.ConfigurationError{Motor: name, Field: "port", Reason: "must not be nil"}
	}
	if err := cfg.validate(name); err != nil {
		return nil, err
	}
	if law == nil {
		law = &PDLaw{KP: cfg.Law.KP, KD: cfg.Law.KD, KV: cfg.Law.KV}
	}

	raw, err := port.ReadCount()
	if err != nil {
		if raw, err = port.ReadCount(); err != nil {
			return nil, errors.HardwareFault{Motor: name, Op: "open", Cause: err}
		}
	}

	r := &Regulator{
		name:         name,
		port:         port,
		law:          law,
		notifier:     newNotifier(),
		period:       cfg.period(),
		countsPerDeg: cfg.CountsPerDegree,
		zero:         raw,
		stallError:   cfg.Stall.Error,
		stallTime:    cfg.stallTime(),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)

	go r.loop()
	return r, nil
}

// StartMove replaces the active move with m. The trajectory re-bases from
// the current setpoints so a replacement mid-move stays continuous. If
// m.WaitForCompletion is set the call blocks until the move resolves.
func (r *Regulator) StartMove(m Move) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked(m)
}

// StartRelative is StartMove with the limit taken relative to the current
// regulated position. The snapshot and the submission happen under one lock
// acquisition so no tick can slip between them. The resolved absolute limit
// is returned.
func (r *Regulator) StartRelative(m Move, angle float64) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m.LimitAngle = math.Round(r.setpointLocked()) + angle
	return m.LimitAngle, r.startLocked(m)
}

func (r *Regulator) startLocked(m Move) error {
	if r.closed {
		return errors.IllegalStateError{Motor: r.name, Op: "move"}
	}

	wasActive := r.state == Moving
	basePos, baseVel := r.setpointLocked(), 0.0
	if wasActive && r.traj != nil {
		baseVel = r.traj.vel
	}

	r.suspended = false
	r.fault = nil
	r.stallAcc = 0
	r.settled = 0
	r.law.Reset()
	r.active = m

	if m.stopRequest() && !wasActive {
		// Stop while already at rest: resolve in place, no transition.
		// This also clears a stall without a start/stop event pair.
		r.state = Idle
		r.traj = nil
		r.holding = m.Hold
		if m.Hold {
			r.holdPos = basePos
		}
		brake := tacho.Float
		if m.Hold {
			brake = tacho.Hold
		}
		if err := r.actuateLocked(0, brake); err != nil {
			r.failLocked("actuate", err, false)
			return r.takeFaultLocked()
		}
		return nil
	}

	r.traj = newTrajectory(basePos, baseVel, m)
	if !wasActive {
		r.state = Moving
		r.publishLocked(true, false)
	}

	if m.WaitForCompletion {
		return r.waitLocked()
	}
	return nil
}

// WaitComplete blocks the caller until no move is in progress. Spurious
// wakeups re-check the predicate.
func (r *Regulator) WaitComplete() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.IllegalStateError{Motor: r.name, Op: "waitComplete"}
	}
	return r.waitLocked()
}

func (r *Regulator) waitLocked() error {
	for r.state == Moving && !r.closed {
		r.cond.Wait()
	}
	return r.takeFaultLocked()
}

func (r *Regulator) takeFaultLocked() error {
	f := r.fault
	r.fault = nil
	return f
}

// TachoCount returns the sampled position rounded to the nearest degree.
// Reading position resumes a suspended regulator.
func (r *Regulator) TachoCount() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errors.IllegalStateError{Motor: r.name, Op: "getTachoCount"}
	}
	r.resumeLocked()
	return int(math.Round(r.pos)), nil
}

// Position returns the position the regulator is currently maintaining,
// which may differ from the tacho count while stalling or under load.
// Reading position resumes a suspended regulator.
func (r *Regulator) Position() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errors.IllegalStateError{Motor: r.name, Op: "getPosition"}
	}
	r.resumeLocked()
	return r.setpointLocked(), nil
}

// Velocity returns the measured velocity estimate in degrees/sec.
func (r *Regulator) Velocity() (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, errors.IllegalStateError{Motor: r.name, Op: "getRotationSpeed"}
	}
	return r.vel, nil
}

func (r *Regulator) IsMoving() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, errors.IllegalStateError{Motor: r.name, Op: "isMoving"}
	}
	return r.state == Moving, nil
}

func (r *Regulator) IsStalled() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false, errors.IllegalStateError{Motor: r.name, Op: "isStalled"}
	}
	return r.state == Stalled, nil
}

// State returns the current regulation state.
func (r *Regulator) State() (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Idle, errors.IllegalStateError{Motor: r.name, Op: "state"}
	}
	return r.state, nil
}

// SetStallThreshold updates stall detection for subsequent ticks.
func (r *Regulator) SetStallThreshold(errDeg float64, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.IllegalStateError{Motor: r.name, Op: "setStallThreshold"}
	}
	if errDeg <= 0 || d <= 0 {
		return errors.ConfigurationError{Motor: r.name, Field: "stall threshold", Reason: "must be positive"}
	}
	r.stallError = errDeg
	r.stallTime = d
	r.stallAcc = 0
	return nil
}

// AdjustSpeed retunes the velocity magnitude of the move in flight; moves
// submitted later carry their own speed.
func (r *Regulator) AdjustSpeed(speed float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.IllegalStateError{Motor: r.name, Op: "setSpeed"}
	}
	if r.state == Moving && r.traj != nil {
		r.traj.setCruise(speed)
	}
	return nil
}

// AdjustAcceleration retunes the ramp rate of the move in flight.
func (r *Regulator) AdjustAcceleration(acc float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.IllegalStateError{Motor: r.name, Op: "setAcceleration"}
	}
	if r.state == Moving && r.traj != nil {
		r.traj.setAcceleration(acc)
	}
	return nil
}

// Suspend releases the motor from active control: actuation is forced to
// zero and no target is tracked until a position read or a new move resumes
// regulation.
func (r *Regulator) Suspend() error {
	if err := r.StartMove(Move{LimitAngle: NoLimit, WaitForCompletion: true}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.IllegalStateError{Motor: r.name, Op: "suspendRegulation"}
	}
	r.suspended = true
	r.holding = false
	return nil
}

// ResetTacho forces a synchronous stop-and-brake, then zeroes the position.
func (r *Regulator) ResetTacho() error {
	if err := r.StartMove(Move{LimitAngle: NoLimit, Hold: true, WaitForCompletion: true}); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.IllegalStateError{Motor: r.name, Op: "resetTachoCount"}
	}

	raw, err := r.readCountLocked()
	if err != nil {
		r.failLocked("read tachometer", err, false)
		return r.takeFaultLocked()
	}
	r.zero = raw
	r.pos = 0
	r.vel = 0
	r.holdPos = 0
	return nil
}

// AddListener registers the single observer slot; the previous listener,
// if any, is replaced.
func (r *Regulator) AddListener(l Listener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.IllegalStateError{Motor: r.name, Op: "addListener"}
	}
	r.notifier.add(l)
	return nil
}

// RemoveListener clears the observer slot and returns what was registered.
func (r *Regulator) RemoveListener() (Listener, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.IllegalStateError{Motor: r.name, Op: "removeListener"}
	}
	return r.notifier.remove(), nil
}

// Close forces a stop-and-brake, halts the control loop and releases the
// feedback port. Every operation afterwards fails with an illegal state
// error.
func (r *Regulator) Close() error {
	// Best effort: a hardware fault here must not stop the teardown.
	_ = r.StartMove(Move{LimitAngle: NoLimit, Hold: true, WaitForCompletion: true})

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.IllegalStateError{Motor: r.name, Op: "close"}
	}
	r.closed = true
	close(r.done)
	r.cond.Broadcast()
	r.mu.Unlock()

	<-r.loopDone
	err := r.port.Close()
	r.notifier.close()
	return err
}

//---
// Control loop
//---

func (r *Regulator) loop() {
	defer close(r.loopDone)

	tick := time.NewTicker(r.period)
	defer tick.Stop()

	last := time.Now()
	for {
		select {
		case <-r.done:
			return
		case now := <-tick.C:
			dt := now.Sub(last)
			last = now
			r.step(dt)
		}
	}
}

func (r *Regulator) step(dt time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	raw, err := r.readCountLocked()
	if err != nil {
		r.failLocked("read tachometer", err, true)
		return
	}
	meas := float64(raw-r.zero) / r.countsPerDeg
	if sec := dt.Seconds(); sec > 0 {
		r.vel = (meas - r.pos) / sec
	}
	r.pos = meas

	if r.suspended {
		return
	}

	if r.state != Moving {
		r.holdTick()
		return
	}

	r.traj.advance(dt.Seconds())
	posErr := r.traj.pos - r.pos
	velErr := r.traj.vel - r.vel

	if math.Abs(posErr) > r.stallError {
		r.stallAcc += dt
	} else {
		r.stallAcc = 0
	}
	if r.stallAcc >= r.stallTime {
		r.stallLocked()
		return
	}

	if r.traj.done && r.settleLocked(posErr) {
		r.completeLocked()
		return
	}

	power := r.law.Actuation(posErr, velErr, r.traj.vel)
	if err := r.actuateLocked(int(math.Round(power)), tacho.Hold); err != nil {
		r.failLocked("actuate", err, true)
	}
}

// holdTick keeps regulating the completed position while idle with hold.
func (r *Regulator) holdTick() {
	if !r.holding {
		return
	}
	power := r.law.Actuation(r.holdPos-r.pos, -r.vel, 0)
	if err := r.actuateLocked(int(math.Round(power)), tacho.Hold); err != nil {
		r.failLocked("actuate", err, true)
	}
}

// settleLocked gates completion of a bounded hold move on the measured
// position sitting inside the tolerance window.
func (r *Regulator) settleLocked(posErr float64) bool {
	if !(r.active.Hold && r.active.Bounded()) {
		return true
	}
	if math.Abs(posErr) <= settleTolerance {
		r.settled++
	} else {
		r.settled = 0
	}
	return r.settled >= settleTicks
}

func (r *Regulator) completeLocked() {
	r.state = Idle
	r.settled = 0
	r.stallAcc = 0

	if r.active.Hold {
		r.holding = true
		r.holdPos = r.traj.pos
		if err := r.actuateLocked(0, tacho.Hold); err != nil {
			r.failLocked("actuate", err, false)
			return
		}
	} else {
		r.holding = false
		if err := r.actuateLocked(0, tacho.Float); err != nil {
			r.failLocked("actuate", err, false)
			return
		}
	}

	r.publishLocked(false, false)
	r.cond.Broadcast()
}

func (r *Regulator) stallLocked() {
	r.state = Stalled
	r.stallAcc = 0
	r.settled = 0
	r.holding = false

	brake := tacho.Float
	if r.active.Hold {
		brake = tacho.Hold
	}
	if err := r.actuateLocked(0, brake); err != nil {
		r.failLocked("actuate", err, false)
		return
	}

	r.publishLocked(false, true)
	r.cond.Broadcast()
}

// failLocked aborts the active move on a hardware fault: actuation is
// forced to zero best-effort, the fault is parked for whichever caller is
// (or arrives) blocked on the move, and listeners see a stop if a move was
// in flight.
func (r *Regulator) failLocked(op string, cause error, notify bool) {
	fault := errors.HardwareFault{Motor: r.name, Op: op, Cause: cause}
	log.Printf("motor %s: %v", r.name, fault)

	wasMoving := r.state == Moving
	r.fault = fault
	r.state = Idle
	r.traj = nil
	r.holding = false
	r.settled = 0
	r.stallAcc = 0

	_ = r.port.Actuate(0, tacho.Float)

	if notify && wasMoving {
		r.publishLocked(false, false)
	}
	r.cond.Broadcast()
}

//---
// Locked helpers
//---

// setpointLocked is the position the regulator is maintaining right now.
func (r *Regulator) setpointLocked() float64 {
	switch {
	case r.state == Moving && r.traj != nil:
		return r.traj.pos
	case r.holding:
		return r.holdPos
	default:
		return r.pos
	}
}

func (r *Regulator) resumeLocked() {
	if !r.suspended {
		return
	}
	r.suspended = false
	r.holding = true
	r.holdPos = r.pos
}

// readCountLocked retries once to absorb a transient glitch.
func (r *Regulator) readCountLocked() (int, error) {
	raw, err := r.port.ReadCount()
	if err != nil {
		raw, err = r.port.ReadCount()
	}
	return raw, err
}

// actuateLocked retries once to absorb a transient glitch.
func (r *Regulator) actuateLocked(power int, brake tacho.BrakeMode) error {
	err := r.port.Actuate(power, brake)
	if err != nil {
		err = r.port.Actuate(power, brake)
	}
	return err
}

func (r *Regulator) publishLocked(started, stalled bool) {
	r.notifier.publish(motorEvent{
		started:  started,
		motor:    r.name,
		position: int(math.Round(r.pos)),
		stalled:  stalled,
		at:       time.Now(),
	})
}
