package tuner

import (
	"errors"
	"fmt"
)

var (
	ErrNoMatch              = errors.New("no injection point matched")
	ErrDuplicateAdapterName = errors.New("duplicate adapter name")
	ErrInjectionFailure     = errors.New("injection failed")
	ErrUnknownAdapterName   = errors.New("unknown adapter name")
	ErrUnmergeableKind      = errors.New("tuner kind cannot be merged")
	ErrIncompatibleHost     = errors.New("host model incompatible with saved adapter")
)

// NoMatchError reports a target that resolved to zero injection points.
type NoMatchError struct {
	Target string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("target %s: %v", e.Target, ErrNoMatch)
}

func (e *NoMatchError) Unwrap() error { return ErrNoMatch }

// DuplicateAdapterNameError reports a name re-registered with a different config.
type DuplicateAdapterNameError struct {
	Name string
}

func (e *DuplicateAdapterNameError) Error() string {
	return fmt.Sprintf("adapter %q: %v with a conflicting config", e.Name, ErrDuplicateAdapterName)
}

func (e *DuplicateAdapterNameError) Unwrap() error { return ErrDuplicateAdapterName }

// InjectionFailureError reports a builder rejecting a resolved point.
type InjectionFailureError struct {
	Adapter string
	Path    string
	Err     error
}

func (e *InjectionFailureError) Error() string {
	return fmt.Sprintf("adapter %q at %s: %v: %v", e.Adapter, e.Path, ErrInjectionFailure, e.Err)
}

func (e *InjectionFailureError) Unwrap() []error { return []error{ErrInjectionFailure, e.Err} }

// UnknownAdapterNameError reports an operation on an unregistered name.
type UnknownAdapterNameError struct {
	Name string
}

func (e *UnknownAdapterNameError) Error() string {
	return fmt.Sprintf("adapter %q: %v", e.Name, ErrUnknownAdapterName)
}

func (e *UnknownAdapterNameError) Unwrap() error { return ErrUnknownAdapterName }

// UnmergeableKindError reports a merge request on a non-foldable kind.
type UnmergeableKindError struct {
	Adapter string
	Kind    Kind
}

func (e *UnmergeableKindError) Error() string {
	return fmt.Sprintf("adapter %q (%s): %v", e.Adapter, e.Kind, ErrUnmergeableKind)
}

func (e *UnmergeableKindError) Unwrap() error { return ErrUnmergeableKind }

// IncompatibleHostError reports a saved adapter that cannot be re-attached to
// the supplied host.
type IncompatibleHostError struct {
	Adapter string
	Err     error
}

func (e *IncompatibleHostError) Error() string {
	return fmt.Sprintf("adapter %q: %v: %v", e.Adapter, ErrIncompatibleHost, e.Err)
}

func (e *IncompatibleHostError) Unwrap() []error { return []error{ErrIncompatibleHost, e.Err} }
