package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/avatarkit/vrmforge/internal/core/domain"
	"github.com/avatarkit/vrmforge/internal/infrastructure/resilience"
)

// transientNATSErrors are connectivity failures a reconnecting client can
// outlive; everything else from the client is treated as permanent.
var transientNATSErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
}

func classifyNATSError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller gave up; neither retry nor breaker bookkeeping applies.
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err), isTransientNATSError(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

func isTransientNATSError(err error) bool {
	for _, transient := range transientNATSErrors {
		if errors.Is(err, transient) {
			return true
		}
	}
	return false
}

// wrapTemporaryIfNeeded marks still-retryable publish failures as
// domain.ErrTemporary so the HTTP layer answers 503 rather than 500.
func wrapTemporaryIfNeeded(err error) error {
	switch {
	case err == nil || domain.IsKind(err, domain.ErrTemporary):
		return err
	case classifyNATSError(err).Retryable:
		return domain.WrapError(domain.ErrTemporary, "queue publish", err)
	default:
		return err
	}
}
