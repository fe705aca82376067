package chatflow

import (
	"errors"
	"fmt"
)

// Engine errors.
var (
	// ErrEmptyPipeline is returned when a pipeline is constructed with no steps.
	ErrEmptyPipeline = errors.New("pipeline has no steps")

	// ErrMissingParam is wrapped when a required parameter is left unset.
	ErrMissingParam = errors.New("missing required parameter")

	// ErrNoRun is returned when a collaborator derived from the run is
	// accessed on a PipelineContext with no run attached.
	ErrNoRun = errors.New("pipeline context has no run attached")

	// ErrNoOutput is returned when a step runner produces neither output
	// contexts nor an error.
	ErrNoOutput = errors.New("step returned no output")
)

// StepError signals a mis-authored step: a parameter validation failure or a
// failed preflight precondition. It is fatal for the run and never retried.
type StepError struct {
	Step string
	Err  error
}

// Error returns the error message with the failing step's name.
func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

// Unwrap returns the underlying error.
func (e *StepError) Unwrap() error {
	return e.Err
}

// TypeMismatchError is raised at pipeline construction when a step's declared
// input type does not match the type flowing out of the preceding steps.
type TypeMismatchError struct {
	Step     string
	Position int
	Want     DataType
	Got      DataType
}

// Error describes the mismatch with the step's name and position.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("step %s (position %d): input type %q does not match chain type %q",
		e.Step, e.Position, e.Got, e.Want)
}

// ParseError is a domain error raised when input content cannot be parsed.
// It carries a snippet of the offending input for diagnosis.
type ParseError struct {
	Message string
	Snippet string
}

// Error returns the message with the input snippet, if any.
func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %q", e.Message, e.Snippet)
}
