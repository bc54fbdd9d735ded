package nats

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/trade-docs-backend/internal/core/domain")

// classifyPublishError marks connection-level failures as temporary. The
// client buffers while reconnecting, so these usually clear on retry.
func classifyPublishError(operation string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrNoServers),
		errors.Is(err, nats.ErrTimeout),
		errors.Is(err, nats.ErrConnectionClosed),
		errors.Is(err, nats.ErrDisconnected),
		errors.Is(err, nats.ErrReconnectBufExceeded):
		return domain.WrapError(domain.ErrTemporary, operation, err)
	default:
		return fmt.Errorf("%s: %w", operation, err)
	}
}
