package expr

import (
	"errors"
	"fmt"
)

// UnknownFieldError is returned when a tree references a field that is
// missing from the column map. Unknown names never pass through to the
// generated SQL.
type UnknownFieldError struct {
	Name string
}

// Error returns the error string.
func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("expr: unknown field %q", e.Name)
}

// IsUnknownField returns true if the error reports an unmapped field.
func IsUnknownField(err error) bool {
	var e *UnknownFieldError
	return errors.As(err, &e)
}

// UnsupportedExprError is returned when a tree contains a call,
// operator or node kind outside the translator's closed set. The
// offending construct is named, never guessed at or silently dropped.
type UnsupportedExprError struct {
	Expr string
}

// Error returns the error string.
func (e *UnsupportedExprError) Error() string {
	return fmt.Sprintf("expr: unsupported expression %q", e.Expr)
}

// IsUnsupportedExpr returns true if the error reports an unsupported construct.
func IsUnsupportedExpr(err error) bool {
	var e *UnsupportedExprError
	return errors.As(err, &e)
}

// TypeMismatchError is returned when a constant cannot inhabit the
// column it is compared against or assigned to.
type TypeMismatchError struct {
	Field  string
	Column Type // declared column type.
	Value  Type // type of the offending constant.
}

// Error returns the error string.
func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("expr: type mismatch on %q: cannot use %s value with %s column", e.Field, e.Value, e.Column)
}

// IsTypeMismatch returns true if the error reports a type mismatch.
func IsTypeMismatch(err error) bool {
	var e *TypeMismatchError
	return errors.As(err, &e)
}
