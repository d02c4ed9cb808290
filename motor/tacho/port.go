// Package tacho defines the boundary to a tachometer feedback source: a
// device that reports a monotonic rotation count and accepts signed power
// commands. The regulator consumes exactly one Port per motor.
package tacho

// BrakeMode selects what the controller does with the windings when power
// reaches zero.
type BrakeMode uint8

const (
	// Float releases the motor so it coasts freely.
	Float BrakeMode = iota

	// Hold shorts the windings so the motor resists motion.
	Hold
)

func (m BrakeMode) String() string {
	switch m {
	case Float:
		return "FLOAT"
	case Hold:
		return "HOLD"
	}
	return "UNKNOWN"
}

// PowerMax is the actuation bound in percent. Valid power commands are in
// [-PowerMax, PowerMax].
const PowerMax = 100

// Port is a single motor feedback/actuation channel. ReadCount returns the
// raw tachometer count; no resolution is assumed beyond monotonic integer
// ticks corresponding to physical rotation.
type Port interface {
	ReadCount() (int, error)
	Actuate(power int, brake BrakeMode) error
	Close() error
}
