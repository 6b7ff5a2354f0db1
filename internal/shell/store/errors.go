// Package store provides persistence for Reflow entities.
package store

import (
	"errors"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when a project or environment state is missing.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicateID is returned when creating an entity with an existing key.
	ErrDuplicateID = errors.New("entity with this key already exists")

	// ErrForeignKey is returned when an environment state names no project.
	ErrForeignKey = errors.New("foreign key constraint violated")

	// ErrConnectionFailed is returned when the database cannot be opened or pinged.
	ErrConnectionFailed = errors.New("database connection failed")

	// ErrMigrationFailed is returned when the embedded schema cannot be applied.
	ErrMigrationFailed = errors.New("database migration failed")

	// ErrTxFailed is returned when a transaction cannot begin, commit or roll back.
	ErrTxFailed = errors.New("transaction failed")
)

// StoreError wraps a failure with the operation and entity it concerns.
type StoreError struct {
	Op      string // Store method, e.g. "SaveEnvironmentState"
	Entity  string // "project", "environment_state" or "event"
	Key     string // Project name, "<project>/<env>" or event ID
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Entity != "" {
		b.WriteString(" " + e.Entity)
	}
	if e.Key != "" {
		b.WriteString(" " + e.Key)
	}
	b.WriteString(": " + e.Message)
	return b.String()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, entity, key, message string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, Key: key, Message: message, Err: err}
}

// IsNotFound reports whether err means the entity does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsDuplicate reports whether err means the entity already exists.
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateID)
}
