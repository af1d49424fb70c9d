package ctxcollect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubProvider struct {
	name string
	vals map[string]string
	err  error
}

func (s stubProvider) Name() string { return s.name }
func (s stubProvider) Collect(ctx context.Context) (map[string]string, error) {
	return s.vals, s.err
}

func TestCollectMergesProviders(t *testing.T) {
	c := New(nil,
		stubProvider{name: "a", vals: map[string]string{"trace_id": "t1"}},
		stubProvider{name: "b", vals: map[string]string{"user_id": "u1"}},
	)
	got := c.Collect(context.Background(), nil)
	assert.Equal(t, map[string]string{"trace_id": "t1", "user_id": "u1"}, got)
}

func TestCollectCallerContextWinsOnConflict(t *testing.T) {
	c := New(nil, stubProvider{name: "a", vals: map[string]string{"trace_id": "from-provider"}})
	got := c.Collect(context.Background(), map[string]string{"trace_id": "from-caller"})
	assert.Equal(t, "from-caller", got["trace_id"])
}

func TestCollectSkipsFailingProviderWithoutAborting(t *testing.T) {
	c := New(nil,
		stubProvider{name: "broken", err: errors.New("boom")},
		stubProvider{name: "ok", vals: map[string]string{"k": "v"}},
	)
	got := c.Collect(context.Background(), nil)
	assert.Equal(t, map[string]string{"k": "v"}, got)
}
