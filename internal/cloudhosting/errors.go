package cloudhosting

import (
	"errors"
	"fmt"
)

// CodeInstanceNotFound is returned by the provider for unknown instance IDs.
const CodeInstanceNotFound = "InvalidInstanceID.NotFound"

// ProviderError is an error reported by the provider in an
// <Errors><Error><Code> document.
type ProviderError struct {
	Action     string
	Code       string
	Message    string
	InstanceID string
	StatusCode int
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s: provider error %s", e.Action, e.Code)
	if e.InstanceID != "" {
		msg += fmt.Sprintf(" (instance %s)", e.InstanceID)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// NotFound reports whether the provider said the instance does not exist.
func (e *ProviderError) NotFound() bool {
	return e.Code == CodeInstanceNotFound
}

// TransportError is a network or HTTP level failure.
type TransportError struct {
	Action     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected HTTP status %d", e.Action, e.StatusCode)
	}
	return fmt.Sprintf("%s: transport: %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError means the response body did not have the expected XML shape.
type ParseError struct {
	Action string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse response: %v", e.Action, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a provider not-found error.
func IsNotFound(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.NotFound()
}
