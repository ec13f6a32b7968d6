package core

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a read by key matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrMissingValue is returned when a required, non-key field is unset.
	ErrMissingValue = errors.New("required value is not set")
)

// SchemaDefinitionError reports a record type that cannot be mapped to a
// table: colliding column names, an unsupported field shape or a cyclic
// type reference. It is raised when the schema is built and is never
// recoverable by retrying.
type SchemaDefinitionError struct {
	Type   string
	Reason string
}

func (e *SchemaDefinitionError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("schema definition: %s", e.Reason)
	}
	return fmt.Sprintf("schema definition for %s: %s", e.Type, e.Reason)
}

// MissingKeyValueError reports an explicit key field that could not be
// resolved from an instance.
type MissingKeyValueError struct {
	Table string
	Field string
}

func (e *MissingKeyValueError) Error() string {
	return fmt.Sprintf("missing key value for %s.%s", e.Table, e.Field)
}

// UnknownEnumValueError reports enum text that matches no declared member.
type UnknownEnumValueError struct {
	Enum  string
	Value string
}

func (e *UnknownEnumValueError) Error() string {
	return fmt.Sprintf("unknown value %q for enum %s", e.Value, e.Enum)
}

// StatementExecutionError wraps a failure reported by the statement layer
// together with the SQL text that caused it.
type StatementExecutionError struct {
	SQL string
	Err error
}

func (e *StatementExecutionError) Error() string {
	return fmt.Sprintf("failed to execute %q: %v", e.SQL, e.Err)
}

func (e *StatementExecutionError) Unwrap() error {
	return e.Err
}
