package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/outbox/internal/core"
)

type stubHandler struct {
	id string
}

func (s stubHandler) ID() string                               { return s.id }
func (s stubHandler) Handle(ctx context.Context, payload any) error { return nil }
func (s stubHandler) HandleGeneric(ctx context.Context, payload any, meta Metadata) error {
	return nil
}

type stubFallback struct{ id string }

func (s stubFallback) ID() string { return s.id }
func (s stubFallback) HandleFallback(ctx context.Context, payload any, fc core.FailureContext) error {
	return nil
}

type Notifiable interface {
	Notify() string
}

type BaseEvent struct{}

func (BaseEvent) Notify() string { return "base" }

type OrderPlaced struct {
	BaseEvent
	OrderID string
}

func TestDiscoverExactTypeMatch(t *testing.T) {
	r := New()
	h := stubHandler{id: "h1"}
	r.RegisterForType(OrderPlaced{}, h)

	got := r.Discover(OrderPlaced{OrderID: "o1"})
	require.Len(t, got, 1)
	assert.Equal(t, "h1", got[0].ID())
}

func TestDiscoverInterfaceSupertype(t *testing.T) {
	r := New()
	h := stubHandler{id: "notify-handler"}
	r.RegisterForInterface((*Notifiable)(nil), h)

	got := r.Discover(OrderPlaced{OrderID: "o1"})
	require.Len(t, got, 1)
	assert.Equal(t, "notify-handler", got[0].ID())
}

func TestDiscoverEmbeddedConcreteSupertype(t *testing.T) {
	r := New()
	h := stubHandler{id: "base-handler"}
	r.RegisterForType(BaseEvent{}, h)

	got := r.Discover(OrderPlaced{OrderID: "o1"})
	require.Len(t, got, 1)
	assert.Equal(t, "base-handler", got[0].ID())
}

func TestDiscoverCombinesExactInterfaceEmbeddedAndGeneric(t *testing.T) {
	r := New()
	exact := stubHandler{id: "exact"}
	iface := stubHandler{id: "iface"}
	embedded := stubHandler{id: "embedded"}
	generic := stubHandler{id: "generic"}

	r.RegisterForType(OrderPlaced{}, exact)
	r.RegisterForInterface((*Notifiable)(nil), iface)
	r.RegisterForType(BaseEvent{}, embedded)
	r.RegisterGeneric(generic)

	got := r.Discover(OrderPlaced{OrderID: "o1"})
	require.Len(t, got, 4)

	ids := make([]string, len(got))
	for i, h := range got {
		ids[i] = h.ID()
	}
	assert.Contains(t, ids, "exact")
	assert.Contains(t, ids, "iface")
	assert.Contains(t, ids, "embedded")
	assert.Contains(t, ids, "generic")
}

func TestDiscoverGenericAlwaysIncluded(t *testing.T) {
	r := New()
	g := stubHandler{id: "generic"}
	r.RegisterGeneric(g)

	got := r.Discover(OrderPlaced{})
	require.Len(t, got, 1)
	assert.Equal(t, "generic", got[0].ID())
}

func TestDiscoverDeduplicatesAcrossTiers(t *testing.T) {
	r := New()
	shared := stubHandler{id: "shared"}
	r.RegisterForType(OrderPlaced{}, shared)
	r.RegisterForInterface((*Notifiable)(nil), shared)
	r.RegisterGeneric(shared)

	got := r.Discover(OrderPlaced{})
	require.Len(t, got, 1)
	assert.Equal(t, "shared", got[0].ID())
}

func TestDiscoverOrderingExactThenSupertypeThenGeneric(t *testing.T) {
	r := New()
	exact := stubHandler{id: "exact"}
	super := stubHandler{id: "super"}
	generic := stubHandler{id: "generic"}
	r.RegisterGeneric(generic)
	r.RegisterForInterface((*Notifiable)(nil), super)
	r.RegisterForType(OrderPlaced{}, exact)

	got := r.Discover(OrderPlaced{})
	require.Len(t, got, 3)
	assert.Equal(t, []string{"exact", "super", "generic"}, []string{got[0].ID(), got[1].ID(), got[2].ID()})
}

func TestFallbackLookup(t *testing.T) {
	r := New()
	fb := stubFallback{id: "primary"}
	r.RegisterFallback("primary", fb)

	got, ok := r.Fallback("primary")
	require.True(t, ok)
	assert.Equal(t, "primary", got.ID())

	_, ok = r.Fallback("missing")
	assert.False(t, ok)
}

func TestDiscoveryCacheInvalidatedOnNewRegistration(t *testing.T) {
	r := New()
	r.RegisterForType(OrderPlaced{}, stubHandler{id: "first"})
	first := r.Discover(OrderPlaced{})
	require.Len(t, first, 1)

	r.RegisterForType(OrderPlaced{}, stubHandler{id: "second"})
	second := r.Discover(OrderPlaced{})
	assert.Len(t, second, 2)
}
