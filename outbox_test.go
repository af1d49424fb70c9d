package outbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/outbox/internal/adapters/memory"
	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/registry"
)

type orderPlaced struct {
	OrderID string
}

type stubHandler struct{ id string }

func (h stubHandler) ID() string                                    { return h.id }
func (h stubHandler) Handle(ctx context.Context, payload any) error { return nil }

func TestScheduleInsertsOneRecordPerHandler(t *testing.T) {
	store := memory.NewStore()
	reg := registry.New()
	reg.RegisterForType(orderPlaced{}, stubHandler{id: "billing"})
	reg.RegisterForType(orderPlaced{}, stubHandler{id: "shipping"})

	ob := New(store.Records(), reg, nil, nil)

	err := ob.Schedule(context.Background(), orderPlaced{OrderID: "o1"}, "order-1", nil)
	require.NoError(t, err)

	records, err := store.Records().FindEligible(context.Background(), allPartitions(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	ids := []string{records[0].HandlerID, records[1].HandlerID}
	assert.ElementsMatch(t, []string{"billing", "shipping"}, ids)
	for _, r := range records {
		assert.Equal(t, "order-1", r.Key)
		assert.Equal(t, "github.com/relaykit/outbox.orderPlaced", r.PayloadType)
	}
}

func TestScheduleIsNoOpWithoutHandlers(t *testing.T) {
	store := memory.NewStore()
	reg := registry.New()
	ob := New(store.Records(), reg, nil, nil)

	err := ob.Schedule(context.Background(), orderPlaced{OrderID: "o1"}, "order-1", nil)
	require.NoError(t, err)

	records, err := store.Records().FindEligible(context.Background(), allPartitions(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestScheduleGeneratesKeyWhenEmpty(t *testing.T) {
	store := memory.NewStore()
	reg := registry.New()
	reg.RegisterForType(orderPlaced{}, stubHandler{id: "billing"})
	ob := New(store.Records(), reg, nil, nil)

	err := ob.Schedule(context.Background(), orderPlaced{OrderID: "o1"}, "", nil)
	require.NoError(t, err)

	records, err := store.Records().FindEligible(context.Background(), allPartitions(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.NotEmpty(t, records[0].Key)
}

func allPartitions() []int {
	out := make([]int, core.TotalPartitions)
	for i := range out {
		out[i] = i
	}
	return out
}
