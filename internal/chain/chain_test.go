package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/invoke"
	"github.com/relaykit/outbox/internal/registry"
	"github.com/relaykit/outbox/internal/repository"
	"github.com/relaykit/outbox/internal/resilience"
)

type fakeHandler struct {
	id   string
	errs []error // one per call, last one repeats once exhausted
	n    int
}

func (f *fakeHandler) ID() string { return f.id }
func (f *fakeHandler) Handle(ctx context.Context, payload any) error {
	if f.n >= len(f.errs) {
		return f.errs[len(f.errs)-1]
	}
	err := f.errs[f.n]
	f.n++
	return err
}

type fakeRecordRepo struct {
	updates []*core.Record
}

func (f *fakeRecordRepo) Insert(ctx context.Context, r *core.Record) error { return nil }
func (f *fakeRecordRepo) UpdateStatus(ctx context.Context, r *core.Record) error {
	f.updates = append(f.updates, r)
	return nil
}
func (f *fakeRecordRepo) FindEligible(ctx context.Context, partitions []int, limit int) ([]*core.Record, error) {
	return nil, nil
}
func (f *fakeRecordRepo) FindOpenByKey(ctx context.Context, key string, olderThan time.Time) ([]*core.Record, error) {
	return nil, nil
}
func (f *fakeRecordRepo) DeleteByStatus(ctx context.Context, status core.Status, olderThan time.Time) (int, error) {
	return 0, nil
}

var _ repository.RecordRepository = (*fakeRecordRepo)(nil)

func newChain(t *testing.T, h *fakeHandler, policy resilience.Policy, repo *fakeRecordRepo) *Chain {
	t.Helper()
	reg := registry.New()
	reg.RegisterForType(struct{}{}, h)
	policies := resilience.NewPolicyRegistry(policy)
	return &Chain{
		Invoker:  invoke.New(reg),
		Policies: policies,
		Records:  repo,
		Now:      func() time.Time { return time.Unix(0, 0) },
	}
}

func TestProcessSuccessMarksCompleted(t *testing.T) {
	h := &fakeHandler{id: "h1", errs: []error{nil}}
	repo := &fakeRecordRepo{}
	c := newChain(t, h, resilience.New(resilience.Config{Kind: resilience.KindFixed, MaxRetries: 3}), repo)

	rec := &core.Record{HandlerID: "h1", Status: core.StatusNew}
	out := c.Process(context.Background(), rec)

	assert.True(t, out.Succeeded)
	assert.Equal(t, core.StatusCompleted, rec.Status)
	require.Len(t, repo.updates, 1)
}

func TestProcessFailureReschedulesWithinRetryBudget(t *testing.T) {
	h := &fakeHandler{id: "h1", errs: []error{errors.New("boom")}}
	repo := &fakeRecordRepo{}
	c := newChain(t, h, resilience.New(resilience.Config{
		Kind: resilience.KindFixed, BaseDelay: time.Second, MaxRetries: 3,
	}), repo)

	rec := &core.Record{HandlerID: "h1", Status: core.StatusNew}
	out := c.Process(context.Background(), rec)

	assert.False(t, out.Succeeded)
	assert.Equal(t, core.StatusNew, rec.Status)
	assert.Equal(t, 1, rec.FailureCount)
	assert.Equal(t, time.Unix(1, 0), rec.NextRetryAt)
}

func TestProcessExhaustedRetriesGoesToFallbackThenPermanentFailure(t *testing.T) {
	h := &fakeHandler{id: "h1", errs: []error{errors.New("boom")}}
	repo := &fakeRecordRepo{}
	c := newChain(t, h, resilience.New(resilience.Config{Kind: resilience.KindFixed, MaxRetries: 0}), repo)

	rec := &core.Record{HandlerID: "h1", Status: core.StatusNew, FailureCount: 0}
	out := c.Process(context.Background(), rec)

	assert.False(t, out.Succeeded)
	assert.Equal(t, core.StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.FailureCount)
}

func TestProcessNonRetryableErrorSkipsStraightToFallback(t *testing.T) {
	h := &fakeHandler{id: "h1", errs: []error{errors.New("fatal")}}
	repo := &fakeRecordRepo{}
	classifier := resilience.FQNClassifier{Exclude: []string{resilience.TypeNameOf(errors.New("fatal"))}}
	c := newChain(t, h, resilience.New(resilience.Config{
		Kind: resilience.KindFixed, MaxRetries: 10, Classifier: classifier,
	}), repo)

	rec := &core.Record{HandlerID: "h1", Status: core.StatusNew}
	out := c.Process(context.Background(), rec)

	assert.False(t, out.Succeeded)
	assert.Equal(t, core.StatusFailed, rec.Status)
}
