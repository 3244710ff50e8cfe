package core

import (
	"errors"
	"fmt"
	"strings"
)

// Domain errors - centralized error definitions
var (
	// Input errors, detected before any computation
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidSpendingFunction = errors.New("invalid spending function")
	ErrUnsupportedCalculator   = errors.New("unsupported calculator")

	// Numerical errors, reported distinctly from a statistical FAIL
	ErrBoundaryConvergence  = errors.New("boundary root-find did not converge")
	ErrCalibrationExecution = errors.New("calibration execution failed")

	// Observed-side errors
	ErrInfrastructure  = errors.New("infrastructure failure")
	ErrSchemaViolation = errors.New("schema violation")

	// Run-level errors that abort before any scenario starts
	ErrConfiguration = errors.New("fatal configuration error")
)

// InvalidInputError names the offending parameter.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidInput, e.Field, e.Reason)
}

func (e *InvalidInputError) Is(target error) bool { return target == ErrInvalidInput }

// NewInvalidInputError builds an InvalidInputError with a formatted reason.
func NewInvalidInputError(field, format string, args ...interface{}) error {
	return &InvalidInputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// SchemaViolationError lists every contract problem found in one response.
type SchemaViolationError struct {
	Endpoint string
	Problems []string
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("%s on %s: %s", ErrSchemaViolation, e.Endpoint, strings.Join(e.Problems, "; "))
}

func (e *SchemaViolationError) Is(target error) bool { return target == ErrSchemaViolation }

// InfrastructureError covers transport failures, timeouts and non-2xx responses.
type InfrastructureError struct {
	Endpoint   string
	StatusCode int
	Field      string
	Cause      error
}

func (e *InfrastructureError) Error() string {
	var b strings.Builder
	b.WriteString(ErrInfrastructure.Error())
	b.WriteString(" calling ")
	b.WriteString(e.Endpoint)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *InfrastructureError) Is(target error) bool { return target == ErrInfrastructure }

func (e *InfrastructureError) Unwrap() error { return e.Cause }

// Error constructors with context
func NewSpendingFunctionError(name string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidSpendingFunction, name, reason)
}

func NewBoundaryConvergenceError(look int, reason string) error {
	return fmt.Errorf("%w at look %d: %s", ErrBoundaryConvergence, look, reason)
}

func NewCalibrationExecutionError(replication int, cause interface{}) error {
	if err, ok := cause.(error); ok {
		return fmt.Errorf("%w in replication %d: %w", ErrCalibrationExecution, replication, err)
	}
	return fmt.Errorf("%w in replication %d: %v", ErrCalibrationExecution, replication, cause)
}

func NewUnsupportedCalculatorError(kind string) error {
	return fmt.Errorf("%w: %s", ErrUnsupportedCalculator, kind)
}

// Error checking helpers
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInvalidSpendingFunction)
}

func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}

// IsImplementationError reports failures that are neither bad input nor a statistical FAIL.
func IsImplementationError(err error) bool {
	return errors.Is(err, ErrBoundaryConvergence) ||
		errors.Is(err, ErrCalibrationExecution) ||
		errors.Is(err, ErrSchemaViolation) ||
		errors.Is(err, ErrUnsupportedCalculator)
}
