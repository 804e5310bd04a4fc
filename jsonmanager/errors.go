package jsonmanager

import (
	"errors"
	"fmt"
)

var (
	// ErrRootNotFound is returned when the batch root is missing or not a directory.
	ErrRootNotFound = errors.New("root directory not found")
	// ErrInvalidConfig is returned when a configuration cannot start a batch.
	ErrInvalidConfig = errors.New("invalid config")

	// ErrPositionAbsent marks a record without a position.
	ErrPositionAbsent = errors.New("position absent")
	// ErrPositionMalformed marks a position that is not a list of numbers.
	ErrPositionMalformed = errors.New("position malformed")
	// ErrArityMismatch marks a position whose length differs from the batch arity.
	ErrArityMismatch = errors.New("position arity mismatch")
)

// LoadError indicates a record file could not be read or decoded.
//
// The original underlying error can be accessed via errors.Unwrap.
type LoadError struct {
	Path  string
	cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Path, e.cause)
}

func (e *LoadError) Unwrap() error { return e.cause }

// InvalidPositionError indicates a record whose position cannot be grouped.
type InvalidPositionError struct {
	Path  string
	Raw   string
	cause error
}

func (e *InvalidPositionError) Error() string {
	if e.Raw == "" {
		return fmt.Sprintf("invalid position in %s: %v", e.Path, e.cause)
	}
	return fmt.Sprintf("invalid position %s in %s: %v", e.Raw, e.Path, e.cause)
}

func (e *InvalidPositionError) Unwrap() error { return e.cause }

// Reason returns the short cause without the path, for reports.
func (e *InvalidPositionError) Reason() string {
	if e.cause == nil {
		return ""
	}
	return e.cause.Error()
}

// PersistError indicates a mutation could not be written back.
type PersistError struct {
	Path  string
	Op    string
	cause error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.cause)
}

func (e *PersistError) Unwrap() error { return e.cause }

func invalidPosition(raw string, cause error) *InvalidPositionError {
	return &InvalidPositionError{Raw: raw, cause: cause}
}
