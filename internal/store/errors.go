package store

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation marks input the store refuses to persist or interpret.
	ErrValidation = errors.New("validation failed")
	// ErrMissingID is returned by ImportEntry when the caller supplies no id.
	ErrMissingID = fmt.Errorf("%w: id is required for import", ErrValidation)
	// ErrDimensionMismatch marks a vector whose length differs from the configured dimensions.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrAccessDenied marks an entry that exists outside the caller's scope filter.
	ErrAccessDenied = errors.New("scope access denied")
	// ErrAmbiguousPrefix marks an id prefix that matches more than one entry.
	ErrAmbiguousPrefix = errors.New("ambiguous id prefix")
)

// ValidationError describes a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// DimensionMismatchError reports the expected and actual vector lengths.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// AccessDeniedError names the entry and the scope that was refused.
type AccessDeniedError struct {
	ID    string
	Scope string
}

func (e *AccessDeniedError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("scope %q is not accessible", e.Scope)
	}
	return fmt.Sprintf("memory %s is in scope %q which is not accessible", e.ID, e.Scope)
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// AmbiguousPrefixError lists the ids a prefix matched.
type AmbiguousPrefixError struct {
	Prefix  string
	Matches []string
}

func (e *AmbiguousPrefixError) Error() string {
	return fmt.Sprintf("id prefix %q matches multiple memories: %s", e.Prefix, strings.Join(e.Matches, ", "))
}

func (e *AmbiguousPrefixError) Unwrap() error { return ErrAmbiguousPrefix }
