// Package chain runs a Record through the Primary, Retry, Fallback and
// PermanentFailure stages as a single flat loop rather than nested
// recursion, so a long retry history never grows the call stack.
package chain

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/invoke"
	"github.com/relaykit/outbox/internal/metrics"
	"github.com/relaykit/outbox/internal/outboxerr"
	"github.com/relaykit/outbox/internal/registry"
	"github.com/relaykit/outbox/internal/repository"
	"github.com/relaykit/outbox/internal/resilience"
)

// Outcome reports how Process disposed of a record, for callers (mainly the
// scheduler) that implement stop_on_first_failure.
type Outcome struct {
	Record    *core.Record
	Succeeded bool
}

// Chain wires together the policy registry, invoker and record repository
// needed to drive a record from NEW to a terminal state.
type Chain struct {
	Invoker    *invoke.Invoker
	Policies   *resilience.PolicyRegistry
	Records    repository.RecordRepository
	Logger     *slog.Logger
	Metrics    *metrics.ChainMetrics
	Now        func() time.Time
}

// Process runs one attempt of record through the chain:
//
//  1. Primary: invoke the handler.
//  2. On success, mark COMPLETED and persist.
//  3. On failure, classify: if the policy says don't retry, or retries are
//     exhausted (failure_count > max_retries after this failure is
//     recorded), move to Fallback, then PermanentFailure.
//  4. Otherwise record the failure, compute the next retry delay and
//     persist the still-NEW record for a later attempt.
//
// Process never recurses: every stage transition is a branch within the
// same call, matching the flat-loop design of the processor chain.
func (c *Chain) Process(ctx context.Context, record *core.Record) Outcome {
	now := c.now()
	logger := c.logger()
	policy := c.Policies.For(record.HandlerID)

	meta := registry.Metadata{Key: record.Key, HandlerID: record.HandlerID, CreatedAt: record.CreatedAt}
	err := c.Invoker.Invoke(ctx, record.HandlerID, record.Payload, meta)
	if err == nil {
		record.MarkCompleted(now)
		c.persist(ctx, record, "primary_success")
		c.Metrics.ObserveOutcome("succeeded")
		return Outcome{Record: record, Succeeded: true}
	}

	record.RecordFailure(err.Error())

	// An unknown handler can never become retryable: the application has
	// removed the code path this record names, so retrying only delays
	// the inevitable permanent failure.
	var unknownHandler *outboxerr.UnknownHandlerError
	isUnknownHandler := errors.As(err, &unknownHandler)

	retryable := !isUnknownHandler && policy.ShouldRetry(err)
	exhausted := isUnknownHandler || record.FailureCount > policy.MaxRetries()

	if retryable && !exhausted {
		delay := policy.NextDelay(record.FailureCount)
		record.Reschedule(now.Add(delay))
		c.persist(ctx, record, "retry_scheduled")
		c.Metrics.ObserveOutcome("retry_scheduled")
		logger.Info("handler failed, retry scheduled",
			"handler_id", record.HandlerID,
			"failure_count", record.FailureCount,
			"next_retry_at", record.NextRetryAt,
		)
		return Outcome{Record: record, Succeeded: false}
	}

	fc := core.FailureContext{
		RecordID:         record.ID,
		Key:              record.Key,
		CreatedAt:        record.CreatedAt,
		FailureCount:     record.FailureCount,
		Cause:            err,
		RetriesExhausted: exhausted && !isUnknownHandler,
		NonRetryable:     !retryable && !isUnknownHandler,
	}
	outcome := c.Invoker.InvokeFallback(ctx, logger, record.HandlerID, record.Payload, fc)
	switch outcome {
	case invoke.FallbackSucceeded:
		record.MarkCompleted(now)
		c.persist(ctx, record, "fallback_success")
		c.Metrics.ObserveOutcome("fallback_succeeded")
		return Outcome{Record: record, Succeeded: true}
	default:
		record.MarkFailed()
		c.persist(ctx, record, "permanent_failure")
		c.Metrics.ObserveOutcome("permanent_failure")
		logger.Warn("record permanently failed",
			"handler_id", record.HandlerID,
			"failure_count", record.FailureCount,
			"fallback_outcome", fallbackOutcomeLabel(outcome),
		)
		return Outcome{Record: record, Succeeded: false}
	}
}

func (c *Chain) persist(ctx context.Context, record *core.Record, reason string) {
	if err := c.Records.UpdateStatus(ctx, record); err != nil {
		c.logger().Error("failed to persist record status",
			"record_id", record.ID,
			"reason", reason,
			"error", err,
		)
	}
}

func (c *Chain) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Chain) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func fallbackOutcomeLabel(o invoke.FallbackOutcome) string {
	switch o {
	case invoke.FallbackNotHandled:
		return "not_handled"
	case invoke.FallbackFailed:
		return "failed"
	default:
		return "unknown"
	}
}
