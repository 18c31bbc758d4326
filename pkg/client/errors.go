package client

import (
	"errors"
	"fmt"
)

// Configuration errors returned by New.
var (
	ErrMissingAPIKey = errors.New("api key is required")
	ErrMissingAuthID = errors.New("integration auth id is required")
)

// GatewayError represents a failed gateway request.
type GatewayError struct {
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s error (status %d): %s: %v",
			e.ErrorClass, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway %s error (status %d): %s",
		e.ErrorClass, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err is a 4xx gateway response, typically a
// bad API key or integration id.
func IsClientError(err error) bool {
	var gwErr *GatewayError
	return errors.As(err, &gwErr) && gwErr.ErrorClass == ErrorClassClient
}
