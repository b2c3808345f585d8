// Package errors provides structured error handling for the conversion module.
// It defines error types, sentinel errors, and utility functions shared by the
// pipeline, the executors and the HTTP API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error types for classification
type ErrorType string

const (
	// ErrorTypeValidation indicates a rejected submission or request
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypePipeline indicates queue, running table or limit errors
	ErrorTypePipeline ErrorType = "pipeline"
	// ErrorTypeExecution indicates a collaborator reported a failed conversion
	ErrorTypeExecution ErrorType = "execution"
	// ErrorTypeIO indicates failures touching files or internal structures
	ErrorTypeIO ErrorType = "io"
	// ErrorTypeInternal indicates internal system errors
	ErrorTypeInternal ErrorType = "internal"
)

// Sentinel errors for common scenarios
var (
	// ErrInvalidIdentity indicates a job identity that is not a valid UUID
	ErrInvalidIdentity = errors.New("invalid job identity")

	// ErrJobNotFound indicates the job is neither queued nor running
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJob indicates the identity is already queued or running
	ErrDuplicateJob = errors.New("job already exists")

	// ErrCancelled indicates the job was cancelled before or while executing
	ErrCancelled = errors.New("conversion cancelled")

	// ErrExecutionFailed indicates the executor reported a failure
	ErrExecutionFailed = errors.New("conversion failed")

	// ErrIo indicates a filesystem or structural failure
	ErrIo = errors.New("io error")

	// ErrShuttingDown indicates the dispatcher no longer accepts work
	ErrShuttingDown = errors.New("dispatcher shutting down")

	// ErrInvalidLimit indicates a negative concurrency limit
	ErrInvalidLimit = errors.New("invalid concurrency limit")

	// ErrUnsupportedFormat indicates no codec profile or image encoder for a target format
	ErrUnsupportedFormat = errors.New("unsupported target format")

	// ErrUnsupportedCategory indicates a category other than video, audio or image
	ErrUnsupportedCategory = errors.New("unsupported category")
)

// ConversionError provides structured error information with context
type ConversionError struct {
	Type    ErrorType              // Error classification
	Op      string                 // Operation that failed (e.g., "submit", "execute")
	JobID   string                 // Related job ID if applicable
	Err     error                  // Underlying error
	Details map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *ConversionError) Error() string {
	if e.JobID != "" {
		return fmt.Sprintf("%s error in %s for job %s: %v", e.Type, e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Type, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for sentinel errors
func (e *ConversionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// New creates a new ConversionError
func New(errType ErrorType, op string, err error) *ConversionError {
	return &ConversionError{
		Type:    errType,
		Op:      op,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithJob adds job context to the error
func (e *ConversionError) WithJob(jobID string) *ConversionError {
	e.JobID = jobID
	return e
}

// WithDetail adds a key-value detail to the error
func (e *ConversionError) WithDetail(key string, value interface{}) *ConversionError {
	e.Details[key] = value
	return e
}

// Error creation helpers

// ValidationError creates a validation error
func ValidationError(op string, err error) *ConversionError {
	return New(ErrorTypeValidation, op, err)
}

// PipelineError creates a pipeline error
func PipelineError(op string, err error) *ConversionError {
	return New(ErrorTypePipeline, op, err)
}

// ExecutionError creates an execution error. The detail is kept verbatim so it
// can be forwarded to clients in failure events.
func ExecutionError(op string, detail string) *ConversionError {
	return New(ErrorTypeExecution, op, fmt.Errorf("%w: %s", ErrExecutionFailed, detail)).
		WithDetail("detail", detail)
}

// IoError creates an io error
func IoError(op string, err error) *ConversionError {
	return New(ErrorTypeIO, op, fmt.Errorf("%w: %v", ErrIo, err))
}

// InternalError creates an internal system error
func InternalError(op string, err error) *ConversionError {
	return New(ErrorTypeInternal, op, err)
}

// Wrap wraps an error with operation context if it's not already a ConversionError
func Wrap(err error, errType ErrorType, op string) error {
	if err == nil {
		return nil
	}

	var cErr *ConversionError
	if errors.As(err, &cErr) {
		return err
	}

	return New(errType, op, err)
}

// GetType extracts the error type from an error
func GetType(err error) ErrorType {
	var cErr *ConversionError
	if errors.As(err, &cErr) {
		return cErr.Type
	}
	return ErrorTypeInternal
}

// GetJobID extracts the job ID from an error
func GetJobID(err error) string {
	var cErr *ConversionError
	if errors.As(err, &cErr) {
		return cErr.JobID
	}
	return ""
}

// Detail returns the message clients should see for a failed job. Execution
// errors carry the collaborator detail; anything else falls back to Error().
func Detail(err error) string {
	if err == nil {
		return ""
	}
	var cErr *ConversionError
	if errors.As(err, &cErr) {
		if d, ok := cErr.Details["detail"].(string); ok && d != "" {
			return d
		}
	}
	return err.Error()
}

// IsCancelled reports whether err represents a cancelled conversion
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// HTTPStatus maps an error to the status code the API responds with
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateJob):
		return http.StatusConflict
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	case GetType(err) == ErrorTypeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
