package runmode

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArguments  = errors.New("invalid arguments")
	ErrNoFinetuneModules = errors.New("no finetune modules")
	ErrNoBaseRun         = errors.New("no base run directory")
	ErrUnknownMode       = errors.New("unknown mode")

	// ErrEngine marks failures reported by the engine after dispatch.
	ErrEngine = errors.New("engine failed")
)

type validationError struct {
	kind error
	msg  string
}

func (e validationError) Error() string {
	return e.msg
}

func (e validationError) Unwrap() error {
	return e.kind
}

func invalidArguments(format string, args ...any) error {
	return validationError{kind: ErrInvalidArguments, msg: fmt.Sprintf(format, args...)}
}

func unknownMode(m Mode) error {
	return fmt.Errorf("%w %q", ErrUnknownMode, string(m))
}

// engineError keeps the engine's error and message intact while matching
// ErrEngine.
type engineError struct {
	err error
}

func (e engineError) Error() string {
	return e.err.Error()
}

func (e engineError) Unwrap() []error {
	return []error{ErrEngine, e.err}
}

func engineFailed(err error) error {
	if err == nil {
		return nil
	}
	return engineError{err: err}
}
