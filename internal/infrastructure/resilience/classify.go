package resilience

import (
	"context"
	"errors"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

// ClassifyDomainError is the classifier for calls whose errors already carry
// a domain kind. Quota exhaustion is never retried and never trips the
// breaker: the quota manager owns that provider state and the pipeline moves
// to the next provider instead.
func ClassifyDomainError(err error) ErrorClassification {
	switch {
	case err == nil:
		return ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassification{Retryable: false, RecordFailure: false}
	case domain.IsQuotaExhausted(err):
		return ErrorClassification{Retryable: false, RecordFailure: false}
	case IsCircuitOpen(err):
		return ErrorClassification{Retryable: false, RecordFailure: false}
	case domain.IsKind(err, domain.ErrTemporary):
		return ErrorClassification{Retryable: true, RecordFailure: true}
	case domain.IsKind(err, domain.ErrInvalidInput):
		return ErrorClassification{Retryable: false, RecordFailure: false}
	default:
		return ErrorClassification{Retryable: false, RecordFailure: true}
	}
}
