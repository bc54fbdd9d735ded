package gemini

import (
	"context"
	"errors"
	"net"
	"net/http"

	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain"
)

// classifyGeminiError maps SDK failures onto domain kinds. Quota and rate
// limit responses become ErrQuotaExceeded so the pipeline falls back.
func classifyGeminiError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return domain.WrapError(domain.ErrQuotaExceeded, operation, err)
		case apiErr.Code >= 500:
			return domain.WrapError(domain.ErrTemporary, operation, err)
		}
	}

	switch status.Code(err) {
	case codes.ResourceExhausted:
		return domain.WrapError(domain.ErrQuotaExceeded, operation, err)
	case codes.Unavailable, codes.Internal, codes.DeadlineExceeded:
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}

	if domain.IsQuotaExhausted(err) {
		return domain.WrapError(domain.ErrQuotaExceeded, operation, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
