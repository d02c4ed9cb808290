package errors

import "fmt"

// ConfigurationError reports invalid construction parameters. A motor that
// fails construction is never partially usable.
type ConfigurationError struct {
	Motor  string
	Field  string
	Reason string
}

func (err ConfigurationError) Error() string {
	return fmt.Sprintf("motor %s: bad %s: %s", err.Motor, err.Field, err.Reason)
}

// IllegalStateError reports an operation invoked after Close. No state is
// mutated by the rejected operation.
type IllegalStateError struct {
	Motor string
	Op    string
}

func (err IllegalStateError) Error() string {
	return fmt.Sprintf("motor %s: %s called on closed motor", err.Motor, err.Op)
}

// HardwareFault wraps a feedback read or actuation failure. It aborts the
// move that was active during the failing tick; the motor itself remains
// usable once a new command is issued.
type HardwareFault struct {
	Motor string
	Op    string
	Cause error
}

func (err HardwareFault) Error() string {
	return fmt.Sprintf("motor %s: hardware fault during %s: %v", err.Motor, err.Op, err.Cause)
}

func (err HardwareFault) Unwrap() error {
	return err.Cause
}
