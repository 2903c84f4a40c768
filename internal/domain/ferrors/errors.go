// Package ferrors defines the typed error taxonomy shared by every fleet
// installer component: remote shell, tarball transfer, manifest library,
// log checker, drone, plan, and controller.
package ferrors

import (
	"errors"
	"fmt"
)

// Code identifies one of the well-known failure categories a fleet
// installer run can end in.
type Code string

const (
	// CodeConfig covers invalid metadata, duplicate plugin parameter keys,
	// and values outside a declared option set.
	CodeConfig Code = "config-error"
	// CodeStructure covers a module or resource path missing required
	// local structure.
	CodeStructure Code = "structure-error"
	// CodeTransport covers repeated SSH connect/exec failures after the
	// retry budget is exhausted.
	CodeTransport Code = "transport-error"
	// CodeExec covers a remote command exiting non-zero when the caller
	// demanded success.
	CodeExec Code = "exec-error"
	// CodeNotFound covers a remote path absent during a receive.
	CodeNotFound Code = "not-found"
	// CodeInstall covers exhaustion of every install-command candidate.
	CodeInstall Code = "install-error"
	// CodeLog covers a log checker classifying a manifest application log
	// as failing.
	CodeLog Code = "log-error"
	// CodeTimeout covers a deploy exceeding its poll budget.
	CodeTimeout Code = "timeout-error"
	// CodePlanCycle covers a cyclic prerequisite graph.
	CodePlanCycle Code = "plan-cycle"
)

// Error is the single error type produced by every component in this
// repository. It carries a taxonomy code, a human message, an optional
// wrapped cause, and free-form context for structured logging.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

// New constructs an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an Error that carries cause as its Unwrap target.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is allows errors.Is comparisons keyed on taxonomy code alone.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// WithContext returns a copy of e with additional context merged in.
func (e *Error) WithContext(ctx map[string]interface{}) *Error {
	if e == nil {
		return nil
	}
	merged := make(map[string]interface{}, len(e.Context)+len(ctx))
	for k, v := range e.Context {
		merged[k] = v
	}
	for k, v := range ctx {
		merged[k] = v
	}
	return &Error{Code: e.Code, Message: e.Message, Cause: e.Cause, Context: merged}
}

// Aggregate collects errors recorded under a finish-on-error=true run and
// reports them together, naming every failing marker/host pair.
type Aggregate struct {
	Errors []*Error
}

// Add records err, wrapping it as an *Error with CodeExec if it is not
// already one of ours.
func (a *Aggregate) Add(err error) {
	if err == nil {
		return
	}
	var fe *Error
	if errors.As(err, &fe) {
		a.Errors = append(a.Errors, fe)
		return
	}
	a.Errors = append(a.Errors, Wrap(CodeExec, "deployment task failed", err))
}

// Len reports how many errors have been recorded.
func (a *Aggregate) Len() int {
	if a == nil {
		return 0
	}
	return len(a.Errors)
}

// Error implements the error interface, joining every constituent message.
func (a *Aggregate) Error() string {
	if a == nil || len(a.Errors) == 0 {
		return "<empty aggregate>"
	}
	msg := fmt.Sprintf("%d task(s) failed", len(a.Errors))
	for _, e := range a.Errors {
		msg += "; " + e.Error()
	}
	return msg
}

// ErrOrNil returns nil if the aggregate is empty, else the aggregate itself.
func (a *Aggregate) ErrOrNil() error {
	if a == nil || len(a.Errors) == 0 {
		return nil
	}
	return a
}
