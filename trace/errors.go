package trace

import (
	"errors"
	"fmt"
)

var (
	// ErrDualRegulation is generated when both channels request a regulated
	// idle window; only one channel may be regulated at a time
	ErrDualRegulation = errors.New("both channels request regulated idling, at most one may have an open idle voltage window")

	// ErrRegulationTarget is generated when a channel is regulated but the
	// other channel defines no idle target current to hold
	ErrRegulationTarget = errors.New("regulated idling requires the other channel to define an idle current target")
)

// AcquisitionError wraps an instrument read/write failure.  It is fatal to
// the run; the engine disables both outputs before returning one.
type AcquisitionError struct {
	// Channel is the label of the channel whose instrument failed
	Channel string

	// Op is the operation that failed, e.g. "set voltage"
	Op string

	// Err is the underlying failure
	Err error
}

func (e AcquisitionError) Error() string {
	return fmt.Sprintf("channel %s: %s: %v", e.Channel, e.Op, e.Err)
}

func (e AcquisitionError) Unwrap() error {
	return e.Err
}

func acqErr(ch *Channel, op string, err error) error {
	return AcquisitionError{Channel: ch.Label, Op: op, Err: err}
}
