package registry

import (
	"fmt"
	"reflect"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// discoveryCacheSize bounds the memoized BFS results. 4096 concrete payload
// types comfortably covers any real application's message catalog.
const discoveryCacheSize = 4096

// Registered is satisfied by both Handler and GenericHandler. Discover and
// ByID deal in Registered so write-side fan-out only ever needs a handler's
// id; the invoker is the only caller that cares which concrete interface a
// Registered value also implements.
type Registered interface {
	ID() string
}

// Registry holds the by_id, by_payload_type, generic and fallback indices
// described by the handler discovery rules: an exact-type match, then a
// breadth-first walk of the payload's interfaces and embedded supertypes,
// then the generic handlers, each deduplicated by handler id.
type Registry struct {
	mu sync.RWMutex

	byID          map[string]Registered
	byPayloadType map[reflect.Type][]Registered
	bySupertype   map[reflect.Type][]Registered
	generic       []Registered
	fallbacks     map[string]FallbackHandler

	discoveryCache *lru.Cache[reflect.Type, []string]
}

// New builds an empty Registry.
func New() *Registry {
	cache, err := lru.New[reflect.Type, []string](discoveryCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which is a
		// programmer error in the constant above, not a runtime condition.
		panic(fmt.Sprintf("registry: building discovery cache: %v", err))
	}
	return &Registry{
		byID:           make(map[string]Registered),
		byPayloadType:  make(map[reflect.Type][]Registered),
		bySupertype:    make(map[reflect.Type][]Registered),
		fallbacks:      make(map[string]FallbackHandler),
		discoveryCache: cache,
	}
}

// RegisterForType registers handler for the exact concrete type of sample.
func (r *Registry) RegisterForType(sample any, handler Handler) {
	t := reflect.TypeOf(sample)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[handler.ID()] = handler
	r.byPayloadType[t] = append(r.byPayloadType[t], handler)
	r.invalidateDiscoveryLocked()
}

// RegisterForInterface registers handler for any payload implementing the
// interface described by ifacePtr, e.g. (*MyInterface)(nil).
func (r *Registry) RegisterForInterface(ifacePtr any, handler Handler) {
	t := reflect.TypeOf(ifacePtr).Elem()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[handler.ID()] = handler
	r.bySupertype[t] = append(r.bySupertype[t], handler)
	r.invalidateDiscoveryLocked()
}

// RegisterGeneric registers handler against every payload type.
func (r *Registry) RegisterGeneric(handler GenericHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[handler.ID()] = handler
	r.generic = append(r.generic, handler)
	r.invalidateDiscoveryLocked()
}

// RegisterFallback registers handler as the fallback for the handler
// identified by primaryHandlerID.
func (r *Registry) RegisterFallback(primaryHandlerID string, handler FallbackHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks[primaryHandlerID] = handler
}

// Fallback returns the fallback handler registered for primaryHandlerID, if
// any.
func (r *Registry) Fallback(primaryHandlerID string) (FallbackHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.fallbacks[primaryHandlerID]
	return h, ok
}

// ByID returns the handler (typed or generic) registered under id.
func (r *Registry) ByID(id string) (Registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byID[id]
	return h, ok
}

// invalidateDiscoveryLocked drops memoized discovery results. Registration
// happens at startup wiring time, not on the hot path, so a full purge is
// cheap relative to serving stale results.
func (r *Registry) invalidateDiscoveryLocked() {
	r.discoveryCache.Purge()
}

// Discover returns every distinct handler that must process payload,
// deduplicated by handler id, in the order: exact type match, then a
// breadth-first walk of supertypes (interfaces the type implements and
// types embedded within it), then generic handlers.
func (r *Registry) Discover(payload any) []Registered {
	t := reflect.TypeOf(payload)

	r.mu.RLock()
	if ids, ok := r.discoveryCache.Get(t); ok {
		handlers := make([]Registered, 0, len(ids))
		for _, id := range ids {
			if h, ok := r.byID[id]; ok {
				handlers = append(handlers, h)
			}
		}
		r.mu.RUnlock()
		return handlers
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have populated the cache while we waited for
	// the write lock.
	if ids, ok := r.discoveryCache.Get(t); ok {
		handlers := make([]Registered, 0, len(ids))
		for _, id := range ids {
			if h, ok := r.byID[id]; ok {
				handlers = append(handlers, h)
			}
		}
		return handlers
	}

	seen := make(map[string]struct{})
	var ordered []Registered

	add := func(hs []Registered) {
		for _, h := range hs {
			if _, dup := seen[h.ID()]; dup {
				continue
			}
			seen[h.ID()] = struct{}{}
			ordered = append(ordered, h)
		}
	}

	add(r.byPayloadType[t])
	add(r.bfsSupertypesLocked(t))
	add(r.generic)

	ids := make([]string, len(ordered))
	for i, h := range ordered {
		ids[i] = h.ID()
	}
	r.discoveryCache.Add(t, ids)

	return ordered
}

// bfsSupertypesLocked walks the interfaces t implements and the types t
// embeds, breadth-first, visiting each candidate supertype at most once.
// Must be called with r.mu held.
func (r *Registry) bfsSupertypesLocked(t reflect.Type) []Registered {
	if t == nil {
		return nil
	}

	visited := make(map[reflect.Type]struct{})
	queue := []reflect.Type{t}
	visited[t] = struct{}{}

	var handlers []Registered
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for iface, hs := range r.bySupertype {
			if _, ok := visited[iface]; ok {
				continue
			}
			if cur.Implements(iface) {
				handlers = append(handlers, hs...)
				visited[iface] = struct{}{}
			}
		}

		elem := cur
		if elem.Kind() == reflect.Ptr {
			elem = elem.Elem()
		}
		if elem.Kind() != reflect.Struct {
			continue
		}
		for i := 0; i < elem.NumField(); i++ {
			f := elem.Field(i)
			if !f.Anonymous {
				continue
			}
			ft := f.Type
			if _, ok := visited[ft]; ok {
				continue
			}
			visited[ft] = struct{}{}
			handlers = append(handlers, r.byPayloadType[ft]...)
			queue = append(queue, ft)
		}
	}
	return handlers
}
