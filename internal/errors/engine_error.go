// Package errors provides standardized error types for formula and field
// computation. This package defines EngineError for consistent error handling
// across all public APIs, with an error-kind taxonomy, operation context and
// error wrapping support.
package errors

import (
	"fmt"
)

// Kind classifies engine failures so callers can react per class.
type Kind int

const (
	// KindSyntax indicates a formula that fails to parse.
	KindSyntax Kind = iota
	// KindValidation indicates a formula that parses but uses disallowed
	// constructs or unregistered identifiers.
	KindValidation
	// KindUnknownVariable indicates a name that resolves to neither a column
	// nor a constant at evaluation time.
	KindUnknownVariable
	// KindArity indicates a wrong argument count for an aggregate or spatial
	// operator.
	KindArity
	// KindUnknownFunction indicates a call to an identifier outside every
	// allowed function set.
	KindUnknownFunction
	// KindGeometry indicates scattered input too degenerate to interpolate,
	// even after the nearest-neighbor fallback.
	KindGeometry
	// KindPoolCrashed indicates a catastrophic worker-pool failure, distinct
	// from an individual item failure.
	KindPoolCrashed
	// KindEvaluation indicates a generic runtime failure inside expression
	// evaluation.
	KindEvaluation
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindValidation:
		return "validation"
	case KindUnknownVariable:
		return "unknown variable"
	case KindArity:
		return "arity"
	case KindUnknownFunction:
		return "unknown function"
	case KindGeometry:
		return "geometry"
	case KindPoolCrashed:
		return "pool crashed"
	case KindEvaluation:
		return "evaluation"
	default:
		return "unknown"
	}
}

// EngineError represents standardized errors across all engine operations.
type EngineError struct {
	Kind    Kind   // Error class from the taxonomy above
	Op      string // Operation name (e.g., "Validate", "Interpolate")
	Name    string // Offending identifier, formula or operator if applicable
	Message string // Human-readable error description
	Cause   error  // Underlying error cause
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s failed on %q: %s", e.Op, e.Name, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Message)
}

// Unwrap returns the underlying cause for error wrapping support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is implements error equality checking for errors.Is(). Two EngineErrors
// match when they agree on kind; if the target carries an Op or Name those
// must agree too, so sentinel values with only a Kind set match broadly.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if t.Op != "" && e.Op != t.Op {
		return false
	}
	if t.Name != "" && e.Name != t.Name {
		return false
	}
	return true
}

// Common error constructors for consistent error creation

// NewSyntaxError creates an error for formulas that fail to parse.
func NewSyntaxError(op, formula, message string) *EngineError {
	return &EngineError{Kind: KindSyntax, Op: op, Name: formula, Message: message}
}

// NewValidationError creates an error for formulas using disallowed constructs.
func NewValidationError(op, formula, message string) *EngineError {
	return &EngineError{Kind: KindValidation, Op: op, Name: formula, Message: message}
}

// NewUnknownVariableError creates an error for unresolvable names.
func NewUnknownVariableError(op, name string) *EngineError {
	return &EngineError{
		Kind:    KindUnknownVariable,
		Op:      op,
		Name:    name,
		Message: "name resolves to neither a column nor a constant",
	}
}

// NewArityError creates an error for wrong operator argument counts.
func NewArityError(op, fn string, want, got int) *EngineError {
	return &EngineError{
		Kind:    KindArity,
		Op:      op,
		Name:    fn,
		Message: fmt.Sprintf("expects %d argument(s), got %d", want, got),
	}
}

// NewUnknownFunctionError creates an error for calls outside the allowed sets.
func NewUnknownFunctionError(op, fn string) *EngineError {
	return &EngineError{
		Kind:    KindUnknownFunction,
		Op:      op,
		Name:    fn,
		Message: "function is not in any allowed function set",
	}
}

// NewGeometryError creates an error for degenerate scattered-point input.
func NewGeometryError(op, message string) *EngineError {
	return &EngineError{Kind: KindGeometry, Op: op, Message: message}
}

// NewPoolCrashedError creates an error for catastrophic worker-pool failure.
func NewPoolCrashedError(op, batchID string, cause error) *EngineError {
	return &EngineError{
		Kind:    KindPoolCrashed,
		Op:      op,
		Name:    batchID,
		Message: "worker pool crashed; systemic resource exhaustion likely",
		Cause:   cause,
	}
}

// NewEvaluationError creates an error for runtime evaluation failures.
func NewEvaluationError(op, name, message string) *EngineError {
	return &EngineError{Kind: KindEvaluation, Op: op, Name: name, Message: message}
}

// WrapEvaluation wraps an underlying error as an evaluation failure.
func WrapEvaluation(op, name string, cause error) *EngineError {
	return &EngineError{
		Kind:    KindEvaluation,
		Op:      op,
		Name:    name,
		Message: cause.Error(),
		Cause:   cause,
	}
}

// Predefined error variables for common cases
var (
	// ErrGeometry matches any geometry-degeneracy error via errors.Is.
	ErrGeometry = &EngineError{Kind: KindGeometry}

	// ErrPoolCrashed matches any pool-crash error via errors.Is.
	ErrPoolCrashed = &EngineError{Kind: KindPoolCrashed}

	// ErrUnknownVariable matches any unknown-variable error via errors.Is.
	ErrUnknownVariable = &EngineError{Kind: KindUnknownVariable}
)
