package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrInvalidState  = errors.New("invalid state")
	ErrBusinessRule  = errors.New("business rule violation")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrConflict      = errors.New("concurrent modification")
	ErrTemporary     = errors.New("temporary failure")
	ErrQuotaExceeded = errors.New("provider quota exceeded")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// Fail builds a typed error from a plain message.
func Fail(kind error, operation, message string) error {
	return WrapError(kind, operation, errors.New(message))
}

var quotaMarkers = []string{
	"quota",
	"resource_exhausted",
	"resource has been exhausted",
	"rate limit",
	"too many requests",
	"429",
}

// IsQuotaExhausted reports provider usage-limit failures. Providers rarely
// return a structured code for this, so the message is inspected as well.
func IsQuotaExhausted(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range quotaMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
