// Package errors provides the typed error taxonomy used across Katalyst.
package errors

import "fmt"

// Kind distinguishes the categories of failure the coordinator and its
// collaborators can raise.
type Kind string

const (
	KindUserBody          Kind = "USER_BODY_ERROR"
	KindCriticalAdapter   Kind = "CRITICAL_ADAPTER_ERROR"
	KindNonCriticalAdapter Kind = "NON_CRITICAL_ADAPTER_ERROR"
	KindEventValidation   Kind = "EVENT_VALIDATION_FAILED"
	KindPublishFailure    Kind = "PUBLISH_FAILURE"
	KindLogWriteFailure   Kind = "LOG_WRITE_FAILURE"
	KindUndoStepFailure   Kind = "UNDO_STEP_FAILURE"
	KindRecoveryError     Kind = "RECOVERY_ERROR"
	KindConfigurationError Kind = "CONFIGURATION_ERROR"
)

// Error is the concrete error type for every Kind above. Callers use
// errors.As against *Error and inspect Kind, or use Is.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func wrapf(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// UserBody wraps the error returned by a transaction body. The original
// error stays reachable through Unwrap, so errors.Is still matches it after
// the coordinator's own bookkeeping runs.
func UserBody(err error) *Error {
	return wrapf(KindUserBody, err, "transaction body returned an error")
}

// CriticalAdapter is raised when an adapter flagged isCritical fails and the
// coordinator must abort the transaction.
func CriticalAdapter(adapterName string, err error) *Error {
	return wrapf(KindCriticalAdapter, err, "critical adapter %q failed", adapterName)
}

// NonCriticalAdapter is logged, never propagated: it records that a
// best-effort adapter failed without aborting the transaction.
func NonCriticalAdapter(adapterName string, err error) *Error {
	return wrapf(KindNonCriticalAdapter, err, "non-critical adapter %q failed", adapterName)
}

// EventValidation is raised when a pending event fails its registered
// validator and therefore cannot be published.
func EventValidation(eventType string, err error) *Error {
	return wrapf(KindEventValidation, err, "event %q failed validation", eventType)
}

// PublishFailure wraps a bus-level publish error surfaced by the events
// transaction adapter.
func PublishFailure(eventID string, err error) *Error {
	return wrapf(KindPublishFailure, err, "failed to publish event %q", eventID)
}

// LogWriteFailure marks a failure to append an operation-log entry. Per the
// data-bag opacity / fire-and-forget design, this is logged and swallowed,
// never returned to the caller of a tracked repository call.
func LogWriteFailure(operationType, resourceType string, err error) *Error {
	return wrapf(KindLogWriteFailure, err, "failed to log operation %s on %s", operationType, resourceType)
}

// UndoStepFailure records one failed step inside a best-effort undo pass; the
// undo engine collects these and continues rather than stopping.
func UndoStepFailure(operationIndex int64, err error) *Error {
	return wrapf(KindUndoStepFailure, err, "undo failed for operation index %d", operationIndex)
}

// RecoveryError wraps a failure encountered while the recovery job scans or
// processes a batch of failed workflows.
func RecoveryError(workflowID string, err error) *Error {
	return wrapf(KindRecoveryError, err, "recovery failed for workflow %s", workflowID)
}

// ConfigurationError reports a problem discovered while loading or
// validating configuration.
func ConfigurationError(field, reason string) *Error {
	return newf(KindConfigurationError, "invalid configuration for %s: %s", field, reason)
}

func Is(err error, kind Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == kind
}
