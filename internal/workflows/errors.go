package workflows

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/fyrsmithlabs/seagent/internal/runtime"
)

// ErrorSeverity grades a WorkflowError.
type ErrorSeverity string

const (
	// ErrorSeverityCritical fails the workflow.
	ErrorSeverityCritical ErrorSeverity = "critical"
	// ErrorSeverityHigh is recorded in the result but the workflow continues.
	ErrorSeverityHigh ErrorSeverity = "high"
	// ErrorSeverityLow is only logged.
	ErrorSeverityLow ErrorSeverity = "low"
)

// WorkflowError represents a structured error in a workflow.
type WorkflowError struct {
	Operation string // e.g. "summarize_files"
	Severity  ErrorSeverity
	Err       error
	Context   string
}

func (e *WorkflowError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s failed: %s (%s)", e.Operation, e.Err.Error(), e.Context)
	}
	return fmt.Sprintf("%s failed: %s", e.Operation, e.Err.Error())
}

// Unwrap allows errors.Is and errors.As to work with WorkflowError.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(operation string, severity ErrorSeverity, err error, context string) *WorkflowError {
	return &WorkflowError{
		Operation: operation,
		Severity:  severity,
		Err:       err,
		Context:   context,
	}
}

// FormatErrorForResult formats an error for OnboardResult.Errors.
func FormatErrorForResult(operation string, err error) string {
	return fmt.Sprintf("%s: %v", operation, err)
}

// nonRetryable are the kinds a retry cannot fix: the same input fails the
// same way until an operator changes configuration or the repository.
var nonRetryable = map[runtime.ErrorKind]bool{
	runtime.KindConfigIncomplete:  true,
	runtime.KindInvalidInput:      true,
	runtime.KindNotFound:          true,
	runtime.KindPathNotFound:      true,
	runtime.KindRepoNotOnboarded:  true,
	runtime.KindInvalidTransition: true,
}

// activityError converts a stage failure into a Temporal application error
// typed by its runtime.ErrorKind.
func activityError(operation string, err error) error {
	if err == nil {
		return nil
	}
	kind := runtime.KindOf(err)
	msg := FormatErrorForResult(operation, err)
	if nonRetryable[kind] {
		return temporal.NewNonRetryableApplicationError(msg, string(kind), err)
	}
	return temporal.NewApplicationErrorWithCause(msg, string(kind), err)
}

// ErrorKind recovers the runtime.ErrorKind of an activity failure as seen by
// the workflow or a client. Errors that never crossed an activity boundary
// are classified directly.
func ErrorKind(err error) runtime.ErrorKind {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return runtime.ErrorKind(appErr.Type())
	}
	return runtime.KindOf(err)
}
