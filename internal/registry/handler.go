// Package registry implements the handler registry: the indices that map a
// scheduled payload to the set of handlers that must each receive their own
// outbox record.
package registry

import (
	"context"
	"time"

	"github.com/relaykit/outbox/internal/core"
)

// Handler processes one outbox record's payload.
type Handler interface {
	ID() string
	Handle(ctx context.Context, payload any) error
}

// Metadata is passed to a GenericHandler instead of a typed payload field,
// since a generic handler accepts every payload type and needs the record's
// identifying details to make sense of what it received.
type Metadata struct {
	Key       string
	HandlerID string
	CreatedAt time.Time
}

// GenericHandler is registered against every payload type rather than a
// specific one; it receives the record's Metadata alongside the payload.
type GenericHandler interface {
	ID() string
	HandleGeneric(ctx context.Context, payload any, meta Metadata) error
}

// FallbackHandler runs when a primary handler's record has exhausted its
// retries or hit a non-retryable error. It is looked up by the primary
// handler's id, not by payload type, and receives a FailureContext so it
// can distinguish why the primary never completed.
type FallbackHandler interface {
	ID() string
	HandleFallback(ctx context.Context, payload any, fc core.FailureContext) error
}
