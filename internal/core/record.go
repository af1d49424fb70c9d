// Package core holds the process-local domain types shared by every outbox
// subsystem: records, instances and partition assignments.
package core

import "time"

// TotalPartitions is the fixed size of the partition space, a constant of
// the system rather than a deployment-time knob.
const TotalPartitions = 256

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// maxFailureReasonLen bounds the truncated failure message persisted on a
// Record.
const maxFailureReasonLen = 2000

// Record is a durable intent to invoke a single handler with a specific
// payload. One Record exists per (schedule call, discovered handler) pair.
type Record struct {
	ID            string
	Key           string
	Payload       any
	PayloadType   string
	Context       map[string]string
	HandlerID     string
	Partition     int
	Status        Status
	CreatedAt     time.Time
	CompletedAt   *time.Time
	FailureCount  int
	FailureReason string
	NextRetryAt   time.Time
}

// Eligible reports whether the record is due for processing: still NEW and
// its retry delay has elapsed.
func (r *Record) Eligible(now time.Time) bool {
	return r.Status == StatusNew && !r.NextRetryAt.After(now)
}

// MarkCompleted transitions the record to COMPLETED, satisfying the
// invariant that status=COMPLETED implies a non-nil CompletedAt. Calling it
// twice is idempotent: the second call leaves CompletedAt untouched.
func (r *Record) MarkCompleted(now time.Time) {
	if r.Status == StatusCompleted {
		return
	}
	r.Status = StatusCompleted
	t := now
	r.CompletedAt = &t
}

// MarkFailed transitions the record to the terminal FAILED state.
func (r *Record) MarkFailed() {
	r.Status = StatusFailed
}

// RecordFailure increments the failure counter and stores a truncated
// failure reason, per the Retry stage's bookkeeping duties.
func (r *Record) RecordFailure(reason string) {
	r.FailureCount++
	if len(reason) > maxFailureReasonLen {
		reason = reason[:maxFailureReasonLen]
	}
	r.FailureReason = reason
}

// Reschedule sets the next eligible instant for this record.
func (r *Record) Reschedule(at time.Time) {
	r.NextRetryAt = at
}

// FailureContext is handed to a fallback so it can distinguish why the
// primary handler's record never completed: retries were exhausted versus
// the error was classified non-retryable outright.
type FailureContext struct {
	RecordID         string
	Key              string
	CreatedAt        time.Time
	FailureCount     int
	Cause            error
	RetriesExhausted bool
	NonRetryable     bool
}
