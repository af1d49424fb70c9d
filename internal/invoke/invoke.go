// Package invoke dispatches a Record to its registered handler or fallback.
package invoke

import (
	"context"
	"log/slog"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/outboxerr"
	"github.com/relaykit/outbox/internal/registry"
)

// Invoker looks a handler up by id and runs it against a payload.
type Invoker struct {
	registry *registry.Registry
}

// New builds an Invoker backed by reg.
func New(reg *registry.Registry) *Invoker {
	return &Invoker{registry: reg}
}

// Invoke runs the handler registered under handlerID against payload. A
// typed handler receives only the payload; a generic handler additionally
// receives meta, since it has no payload-type-specific context of its own.
// A missing handler is reported as an UnknownHandlerError, which the
// processor chain treats as a permanent, non-retryable failure: the record
// was valid at schedule time, but the application has since removed the
// handler it was written against.
func (i *Invoker) Invoke(ctx context.Context, handlerID string, payload any, meta registry.Metadata) error {
	h, ok := i.registry.ByID(handlerID)
	if !ok {
		return outboxerr.NewUnknownHandler(handlerID)
	}
	switch handler := h.(type) {
	case registry.GenericHandler:
		return handler.HandleGeneric(ctx, payload, meta)
	case registry.Handler:
		return handler.Handle(ctx, payload)
	default:
		return outboxerr.NewUnknownHandler(handlerID)
	}
}

// FallbackOutcome distinguishes "no fallback was registered" from "the
// fallback ran and itself failed", so callers don't have to infer intent
// from a bare boolean.
type FallbackOutcome int

const (
	FallbackNotHandled FallbackOutcome = iota
	FallbackSucceeded
	FallbackFailed
)

// InvokeFallback runs the fallback registered for primaryHandlerID, if any,
// passing it fc so it can distinguish retries-exhausted from a
// non-retryable classification. A fallback's own error never propagates:
// it is logged and folded into FallbackFailed so a broken fallback cannot
// wedge the processor chain.
func (i *Invoker) InvokeFallback(ctx context.Context, logger *slog.Logger, primaryHandlerID string, payload any, fc core.FailureContext) FallbackOutcome {
	fb, ok := i.registry.Fallback(primaryHandlerID)
	if !ok {
		return FallbackNotHandled
	}
	if err := fb.HandleFallback(ctx, payload, fc); err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("fallback handler failed",
			"handler_id", primaryHandlerID,
			"fallback_id", fb.ID(),
			"cause", fc.Cause,
			"error", err,
		)
		return FallbackFailed
	}
	return FallbackSucceeded
}
