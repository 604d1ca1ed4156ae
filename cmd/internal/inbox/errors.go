package inbox

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input rejected before any write happens.
	ErrValidation = errors.New("validation failed")
	// ErrStorageUnavailable marks failures of the underlying store.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel errors above; Err is the underlying cause, if any.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e OpError) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return OpError{Op: op, Kind: ErrStorageUnavailable, Err: err}
}

func validationErr(op, msg string) error {
	return OpError{Op: op, Kind: ErrValidation, Msg: msg}
}

// IsValidation reports whether err represents ErrValidation.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsStorageUnavailable reports whether err represents ErrStorageUnavailable.
func IsStorageUnavailable(err error) bool { return errors.Is(err, ErrStorageUnavailable) }
