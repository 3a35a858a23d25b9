package bank

import (
	"context"
	"errors"
	"strings"
)

// ErrorType classifies a backend failure. The string values are the
// error_type field of API responses.
type ErrorType string

const (
	ErrorNone               ErrorType = ""
	ErrorInvalidCredentials ErrorType = "invalid_credentials"
	ErrorSessionExpired     ErrorType = "session_expired"
	ErrorTimeout            ErrorType = "timeout"
	ErrorUnavailable        ErrorType = "unavailable"
	ErrorUnknown            ErrorType = "unknown_error"
)

var (
	// ErrInvalidCredentials is returned by clients that can tell a rejected
	// username/password apart at the boundary.
	ErrInvalidCredentials = errors.New("bank: customer is invalid")

	// ErrTimeout is returned when a backend call exceeds its deadline.
	ErrTimeout = errors.New("bank: call timed out")

	// ErrUnavailable is returned when the backend is considered down.
	ErrUnavailable = errors.New("bank: backend unavailable")
)

// invalidCustomerPhrases are the known backend messages for a rejected
// username or password, matched case-insensitively.
var invalidCustomerPhrases = []string{
	"customer is invalid",
	"invalid customer",
}

// Classify translates a backend failure into an ErrorType. It is the only
// place that inspects backend error text.
func Classify(err error) ErrorType {
	switch {
	case err == nil:
		return ErrorNone
	case errors.Is(err, ErrInvalidCredentials):
		return ErrorInvalidCredentials
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorTimeout
	case errors.Is(err, ErrUnavailable):
		return ErrorUnavailable
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range invalidCustomerPhrases {
		if strings.Contains(msg, phrase) {
			return ErrorInvalidCredentials
		}
	}
	return ErrorSessionExpired
}

// IsCredentialFailure reports whether err means the stored banking
// password was rejected. Retrying such a failure is pointless.
func IsCredentialFailure(err error) bool {
	return Classify(err) == ErrorInvalidCredentials
}

// Retryable reports whether a failed operation may be retried once via a
// fresh login. Credential rejections and an open circuit are not.
func Retryable(err error) bool {
	switch Classify(err) {
	case ErrorInvalidCredentials, ErrorUnavailable, ErrorNone:
		return false
	}
	return !errors.Is(err, context.Canceled)
}
