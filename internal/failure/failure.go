// Package failure classifies per-job errors so the queue layer can decide
// whether a retry has any chance of succeeding.
package failure

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind int

const (
	KindUnknown Kind = iota
	// KindConfig is an override document that exists but cannot be parsed.
	KindConfig
	// KindWorkspace is a staging path that collides with a non-directory.
	KindWorkspace
	// KindBuild is a stage that could not be instantiated, configured or linked.
	KindBuild
	// KindRuntime is an error reported by the engine while the graph plays.
	KindRuntime
	// KindStaging is an I/O failure copying the input in or the output back.
	KindStaging
	// KindBusy is a workspace root held by another running job.
	KindBusy
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindWorkspace:
		return "workspace"
	case KindBuild:
		return "build"
	case KindRuntime:
		return "runtime"
	case KindStaging:
		return "staging"
	case KindBusy:
		return "busy"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind   Kind
	Op     string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Op)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same job may succeed if run again.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindRuntime, KindStaging, KindBusy:
		return true
	}
	return false
}

func newError(kind Kind, op string, err error, detail string) error {
	if err != nil {
		err = errors.WithStack(err)
	}
	return &Error{Kind: kind, Op: op, Detail: detail, Err: err}
}

func Config(op string, err error) error {
	return newError(KindConfig, op, err, "")
}

func Workspace(op string, err error) error {
	return newError(KindWorkspace, op, err, "")
}

func Build(op string, err error) error {
	return newError(KindBuild, op, err, "")
}

func Runtime(op string, err error, detail string) error {
	return newError(KindRuntime, op, err, detail)
}

func Staging(op string, err error) error {
	return newError(KindStaging, op, err, "")
}

func Busy(op string, err error) error {
	return newError(KindBusy, op, err, "")
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}
