// Package apierr defines the error taxonomy shared by every backend
// implementation. Callers classify failures with errors.As rather than by
// inspecting message text.
package apierr

import (
	"errors"
	"fmt"
)

// AuthError reports rejected credentials or a missing/expired token.
type AuthError struct {
	Detail string
}

func (e *AuthError) Error() string {
	if e.Detail == "" {
		return "authentication failed"
	}
	return e.Detail
}

// ValidationError reports input rejected by the backend.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "invalid input"
	}
	return e.Detail
}

// NotFoundError reports an unknown transaction or user.
type NotFoundError struct {
	Detail string
}

func (e *NotFoundError) Error() string {
	if e.Detail == "" {
		return "not found"
	}
	return e.Detail
}

// AlreadyProcessedError reports a confirm attempt on a transaction that is no
// longer pending. It is never retryable; callers surface it as-is.
type AlreadyProcessedError struct {
	TransactionID string
	Detail        string
}

func (e *AlreadyProcessedError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.TransactionID == "" {
		return "transaction already processed"
	}
	return fmt.Sprintf("transaction %s already processed", e.TransactionID)
}

// MissingArgumentError reports a client-side precondition failure raised
// before any lookup or I/O.
type MissingArgumentError struct {
	Argument string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("missing required argument: %s", e.Argument)
}

// NetworkError reports a request that produced no response at all.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	if e.Err == nil {
		return "no response from server"
	}
	return fmt.Sprintf("no response from server: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// IsAuth reports whether err classifies as an authentication failure.
func IsAuth(err error) bool {
	var target *AuthError
	return errors.As(err, &target)
}

// IsAlreadyProcessed reports whether err marks a non-pending confirm attempt.
func IsAlreadyProcessed(err error) bool {
	var target *AlreadyProcessedError
	return errors.As(err, &target)
}

// IsNotFound reports whether err marks an unknown record.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}
