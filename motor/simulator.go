package motor

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/tachdev/govern/motor/tacho"
)

// ErrSimClosed is returned by a simulated port after Close.
var ErrSimClosed = errors.New("simulated port is closed")

// SimulatedPort is a noiseless feedback source for development and tests:
// an ideal motor whose velocity follows the commanded power directly and
// whose count integrates it against wall time. Freeze pins the count to
// provoke stalls; FailReads injects read faults.
type SimulatedPort struct {
	mu sync.Mutex

	pos   float64 // degrees
	power int
	brake tacho.BrakeMode
	last  time.Time

	// SpeedPerPower is the velocity in degrees/sec produced by one percent
	// of power.
	speedPerPower float64

	frozen    bool
	failReads int
	closed    bool
}

// NewSimulatedPort returns an idle simulated motor scaled so full power
// runs at 900 degrees/sec.
func NewSimulatedPort() *SimulatedPort {
	return &SimulatedPort{
		speedPerPower: 9.0,
		brake:         tacho.Float,
		last:          time.Now(),
	}
}

// ReadCount implements tacho.Port.
func (s *SimulatedPort) ReadCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSimClosed
	}
	if s.failReads > 0 {
		s.failReads--
		return 0, errors.New("simulated tachometer read error")
	}
	s.advance(time.Now())
	return int(math.Round(s.pos)), nil
}

// Actuate implements tacho.Port.
func (s *SimulatedPort) Actuate(power int, brake tacho.BrakeMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSimClosed
	}
	s.advance(time.Now())
	s.power = power
	s.brake = brake
	return nil
}

// Close implements tacho.Port.
func (s *SimulatedPort) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Freeze pins the reported count at its current value, simulating a blocked
// axle, until called again with false.
func (s *SimulatedPort) Freeze(frozen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(time.Now())
	s.frozen = frozen
}

// FailReads makes the next n ReadCount calls fail.
func (s *SimulatedPort) FailReads(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failReads = n
}

// Power returns the last commanded power, for assertions.
func (s *SimulatedPort) Power() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.power
}

// Degrees returns the simulated axle position.
func (s *SimulatedPort) Degrees() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(time.Now())
	return s.pos
}

func (s *SimulatedPort) advance(now time.Time) {
	dt := now.Sub(s.last).Seconds()
	s.last = now
	if dt <= 0 || s.frozen {
		return
	}
	s.pos += float64(s.power) * s.speedPerPower * dt
}
