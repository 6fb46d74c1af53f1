package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no session is stored for a user.
var ErrNotFound = errors.New("session not found")

// ValidationError reports answer fields that are missing or out of range.
// It never accompanies a state change.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing or invalid fields: " + strings.Join(e.Fields, ", ")
}

// LoadError reports a dataset that could not be read. No session is created.
type LoadError struct {
	Dataset string
	Path    string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load dataset %s (%s): %v", e.Dataset, e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Hint returns remediation guidance for the operator.
func (e *LoadError) Hint() string {
	return "check that the data directory contains " + e.Path + " with the exact file name (case-sensitive) and a header row"
}

// PersistenceError reports a store that could not be reached or refused a write.
// The in-memory session stays authoritative until the next save succeeds.
type PersistenceError struct {
	Tier string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s store %s: %v", e.Tier, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
