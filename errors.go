package clovec

import "fmt"

// The compile-time error taxonomy is closed. Every failure is detected at
// the AST node where the violation occurs and propagated immediately; there
// is no recovery or multi-error collection.

// UnsupportedOperationError reports an operator symbol the compiler does
// not implement.
type UnsupportedOperationError struct {
	Op string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported operation: %s", e.Op)
}

// InvalidExpressionError reports a structurally malformed expression, such
// as a non-symbol in operator position.
type InvalidExpressionError struct {
	Reason string
}

func (e *InvalidExpressionError) Error() string {
	return fmt.Sprintf("invalid expression: %s", e.Reason)
}

// ArityError reports a call with the wrong number of arguments.
type ArityError struct {
	Op       string
	Expected int
	Actual   int
}

func (e *ArityError) Error() string {
	return fmt.Sprintf("%s expects %d argument(s), got %d", e.Op, e.Expected, e.Actual)
}

// UndefinedVariableError reports a reference to a name with no parameter or
// local binding in scope.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable: %s", e.Name)
}

// DuplicateFunctionError reports a second defn for an already-registered
// function name. Registration is the single authoritative rejection point;
// the inference graph builder stays last-write-wins and does not validate.
type DuplicateFunctionError struct {
	Name string
}

func (e *DuplicateFunctionError) Error() string {
	return fmt.Sprintf("duplicate function: %s", e.Name)
}
