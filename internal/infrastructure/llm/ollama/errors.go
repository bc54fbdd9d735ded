package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("ollama status %d", e.code)
	}
	return fmt.Sprintf("ollama status %d: %s", e.code, e.body)
}

// classifyOllamaError maps transport and status failures onto domain kinds
// so the executor and the provider chain can act on them.
func classifyOllamaError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var statusErr *statusError
	if errors.As(err, &statusErr) {
		switch statusErr.code {
		case http.StatusTooManyRequests:
			return domain.WrapError(domain.ErrQuotaExceeded, operation, err)
		case http.StatusRequestTimeout, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return domain.WrapError(domain.ErrTemporary, operation, err)
		}
		return fmt.Errorf("%s: %w", operation, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
