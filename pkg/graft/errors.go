package graft

import "github.com/samcharles93/graft/pkg/tuner"

// Sentinels for errors.Is. Each typed error below unwraps to its sentinel.
var (
	ErrNoMatch              = tuner.ErrNoMatch
	ErrDuplicateAdapterName = tuner.ErrDuplicateAdapterName
	ErrInjectionFailure     = tuner.ErrInjectionFailure
	ErrUnknownAdapterName   = tuner.ErrUnknownAdapterName
	ErrUnmergeableKind      = tuner.ErrUnmergeableKind
	ErrIncompatibleHost     = tuner.ErrIncompatibleHost
)

type (
	NoMatchError              = tuner.NoMatchError
	DuplicateAdapterNameError = tuner.DuplicateAdapterNameError
	InjectionFailureError     = tuner.InjectionFailureError
	UnknownAdapterNameError   = tuner.UnknownAdapterNameError
	UnmergeableKindError      = tuner.UnmergeableKindError
	IncompatibleHostError     = tuner.IncompatibleHostError
)
