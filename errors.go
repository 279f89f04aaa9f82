package dbal

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedType is returned by the factory for an unknown backend type.
	ErrUnsupportedType = errors.New("unsupported database type")

	// ErrConnectionFailed matches every *ConnectionError.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrNotConnected is returned when an operation runs before Connect.
	ErrNotConnected = errors.New("database not connected")

	// ErrEmptyWhere is returned by Update and Delete when no filter is given.
	ErrEmptyWhere = errors.New("refusing to modify rows without a where clause")

	// ErrInvalidIdentifier is returned when a table or column name has no
	// allowed characters left after sanitizing.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrNoGeneratedID is returned when an insert response carries no id for
	// a table that is expected to have one.
	ErrNoGeneratedID = errors.New("insert returned no generated id")

	// ErrRowLevelSecurity matches every *PolicyError.
	ErrRowLevelSecurity = errors.New("blocked by row-level security")

	// ErrMissingProcedure matches every *MissingProcedureError.
	ErrMissingProcedure = errors.New("remote procedure not provisioned")

	// ErrPlaceholderCount is returned when a raw query's "?" placeholders
	// and parameters disagree.
	ErrPlaceholderCount = errors.New("placeholder and parameter count mismatch")
)

// ConnectionError is returned when initial connectivity or authentication
// fails. The adapter must not be used after it.
type ConnectionError struct {
	Backend string
	Target  string
	Cause   error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s at %s: %v", e.Backend, e.Target, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// Is reports ErrConnectionFailed as a match.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

// StatementError is a rejected or malformed statement. For relational
// backends Cause is the driver's own error; for the REST backend the
// fields are decoded from the error body.
type StatementError struct {
	Backend   string
	Operation string
	Status    int
	Code      string
	Message   string
	Hint      string
	Details   string
	Cause     error
}

// Error implements the error interface.
func (e *StatementError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("HTTP %d: %s", e.Status, msg)
	}
	if e.Hint != "" {
		msg += " (hint: " + e.Hint + ")"
	}
	return fmt.Sprintf("[%s] %s: %s", e.Backend, e.Operation, msg)
}

// Unwrap returns the underlying error.
func (e *StatementError) Unwrap() error {
	return e.Cause
}

// PolicyError is a REST request blocked by a row-level security policy.
type PolicyError struct {
	Table     string
	Operation string
	Message   string
}

// Error implements the error interface.
func (e *PolicyError) Error() string {
	return fmt.Sprintf("%s on %q blocked by row-level security, check your access policies: %s",
		e.Operation, e.Table, e.Message)
}

// Is reports ErrRowLevelSecurity as a match.
func (e *PolicyError) Is(target error) bool {
	return target == ErrRowLevelSecurity
}

// MissingProcedureError is returned when a raw SQL call targets a remote
// procedure that has not been created on the server.
type MissingProcedureError struct {
	Procedure string
	Cause     error
}

// Error implements the error interface.
func (e *MissingProcedureError) Error() string {
	return fmt.Sprintf("remote procedure %q is not provisioned on the server; create it before running raw SQL: %v",
		e.Procedure, e.Cause)
}

// Unwrap returns the underlying error.
func (e *MissingProcedureError) Unwrap() error {
	return e.Cause
}

// Is reports ErrMissingProcedure as a match.
func (e *MissingProcedureError) Is(target error) bool {
	return target == ErrMissingProcedure
}
