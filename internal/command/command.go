// Package command defines the unit of work the build pipeline dispatches
// against a driver, along with the two control-flow signals a command may
// raise instead of succeeding outright.
package command

import (
	"errors"
	"fmt"

	"github.com/mastercactapus/buildctl/internal/driverapi"
)

// ErrRetry indicates the command could not complete for a transient reason.
// The pipeline re-dispatches the same command on the next iteration without
// consuming a new source line.
var ErrRetry = errors.New("command: retry")

// StopKind classifies why a command is ending the current build segment.
type StopKind int

const (
	// UnconditionalHalt ends the segment unconditionally; informational.
	UnconditionalHalt StopKind = iota
	// ProgramEnd marks a clean end-of-program code (M2/M30-style).
	ProgramEnd
	// OptionalHalt asks the user whether to continue (M1-style).
	OptionalHalt
	// ProgramRewind requests a rewind to the start of the program.
	// Rewind itself is unimplemented upstream; it is treated as a halt.
	ProgramRewind
)

func (k StopKind) String() string {
	switch k {
	case UnconditionalHalt:
		return "unconditional halt"
	case ProgramEnd:
		return "program end"
	case OptionalHalt:
		return "optional halt"
	case ProgramRewind:
		return "program rewind"
	default:
		return "stop"
	}
}

// StopError is returned by a Command to end the current build segment. It is
// not a failure: the pipeline's handling of it is driven entirely by Kind.
type StopError struct {
	Kind    StopKind
	Message string
}

func (e *StopError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// AsStop reports whether err is a *StopError, returning it if so.
func AsStop(err error) (*StopError, bool) {
	var s *StopError
	ok := errors.As(err, &s)
	return s, ok
}

// Command is a unit of work executable against a driver. Run either
// succeeds, returns ErrRetry, or returns a *StopError.
type Command interface {
	Run(d driverapi.Device) error
}

// Func adapts a plain function to the Command interface.
type Func func(d driverapi.Device) error

func (f Func) Run(d driverapi.Device) error { return f(d) }
