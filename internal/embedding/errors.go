package embedding

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput is returned for empty or whitespace-only text.
	ErrEmptyInput = errors.New("embedding input is empty")
	// ErrDimensionMismatch marks a vendor vector of unexpected length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// VendorError is a failed call to an embedding vendor. Status is the HTTP
// status, or 0 when the request never got a response.
type VendorError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *VendorError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s embedding: status %d: %s", e.Provider, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s embedding: status %d", e.Provider, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s embedding: %v", e.Provider, e.Err)
	default:
		return fmt.Sprintf("%s embedding: %s", e.Provider, e.Message)
	}
}

func (e *VendorError) Unwrap() error { return e.Err }

// DimensionMismatchError reports the configured and returned vector lengths.
type DimensionMismatchError struct {
	Expected int
	Got      int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }
