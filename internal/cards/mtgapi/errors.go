package mtgapi

import (
	"errors"
	"fmt"
)

// APIError represents an error response from the card API.
type APIError struct {
	Status  int    `json:"status"`
	Message string `json:"error"`
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("card API error (HTTP %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("card API error (HTTP %d)", e.Status)
}

// NotFoundError represents a 404 error from the API.
type NotFoundError struct {
	URL string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource not found: %s", e.URL)
}

// IsNotFound returns true if err is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
