// Package memory implements the repository interfaces entirely in process
// memory, for unit tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/outboxerr"
)

// Store is a single in-memory backing for all three repositories, so a
// test can share one Store across a RecordRepository, InstanceRepository
// and PartitionRepository the same way a single database would.
type Store struct {
	mu         sync.Mutex
	records    map[string]*core.Record
	instances  map[string]*core.Instance
	partitions map[int]*core.PartitionAssignment
}

// NewStore builds an empty Store.
func NewStore() *Store {
	return &Store{
		records:    make(map[string]*core.Record),
		instances:  make(map[string]*core.Instance),
		partitions: make(map[int]*core.PartitionAssignment),
	}
}

// Records returns a RecordRepository backed by s.
func (s *Store) Records() *RecordRepository { return &RecordRepository{s: s} }

// Instances returns an InstanceRepository backed by s.
func (s *Store) Instances() *InstanceRepository { return &InstanceRepository{s: s} }

// Partitions returns a PartitionRepository backed by s.
func (s *Store) Partitions() *PartitionRepository { return &PartitionRepository{s: s} }

// RecordRepository implements repository.RecordRepository over a Store.
type RecordRepository struct{ s *Store }

func (r *RecordRepository) Insert(ctx context.Context, record *core.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *record
	r.s.records[record.ID] = &cp
	return nil
}

func (r *RecordRepository) UpdateStatus(ctx context.Context, record *core.Record) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.records[record.ID]; !ok {
		return outboxerr.NewRepositoryError("update_status", errNotFound(record.ID))
	}
	cp := *record
	r.s.records[record.ID] = &cp
	return nil
}

func (r *RecordRepository) FindEligible(ctx context.Context, partitions []int, limit int) ([]*core.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	partitionSet := make(map[int]struct{}, len(partitions))
	for _, p := range partitions {
		partitionSet[p] = struct{}{}
	}

	now := time.Now()
	var out []*core.Record
	for _, rec := range r.s.records {
		if _, ok := partitionSet[rec.Partition]; !ok {
			continue
		}
		if !rec.Eligible(now) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *RecordRepository) FindOpenByKey(ctx context.Context, key string, olderThan time.Time) ([]*core.Record, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*core.Record
	for _, rec := range r.s.records {
		if rec.Key != key || rec.Status != core.StatusNew {
			continue
		}
		if rec.CreatedAt.Before(olderThan) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *RecordRepository) DeleteByStatus(ctx context.Context, status core.Status, olderThan time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	n := 0
	for id, rec := range r.s.records {
		if rec.Status == status && rec.CreatedAt.Before(olderThan) {
			delete(r.s.records, id)
			n++
		}
	}
	return n, nil
}

// InstanceRepository implements repository.InstanceRepository over a Store.
type InstanceRepository struct{ s *Store }

func (r *InstanceRepository) Register(ctx context.Context, instance *core.Instance) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *instance
	r.s.instances[instance.InstanceID] = &cp
	return nil
}

func (r *InstanceRepository) Heartbeat(ctx context.Context, instanceID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inst, ok := r.s.instances[instanceID]
	if !ok {
		return outboxerr.NewRepositoryError("heartbeat", outboxerr.ErrInstanceNotFound)
	}
	inst.LastHeartbeat = at
	inst.UpdatedAt = at
	return nil
}

func (r *InstanceRepository) MarkShuttingDown(ctx context.Context, instanceID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inst, ok := r.s.instances[instanceID]
	if !ok {
		return outboxerr.NewRepositoryError("mark_shutting_down", errNotFound(instanceID))
	}
	inst.Status = core.InstanceShuttingDown
	return nil
}

func (r *InstanceRepository) Delete(ctx context.Context, instanceID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.instances, instanceID)
	return nil
}

func (r *InstanceRepository) ListActive(ctx context.Context) ([]*core.Instance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*core.Instance
	for _, inst := range r.s.instances {
		if inst.Status == core.InstanceActive {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (r *InstanceRepository) DeleteStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var removed []string
	for id, inst := range r.s.instances {
		if inst.IsStale(cutoff) {
			delete(r.s.instances, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// PartitionRepository implements repository.PartitionRepository over a
// Store.
type PartitionRepository struct{ s *Store }

func (r *PartitionRepository) Bootstrap(ctx context.Context) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := 0; i < core.TotalPartitions; i++ {
		if _, ok := r.s.partitions[i]; !ok {
			r.s.partitions[i] = &core.PartitionAssignment{PartitionNumber: i, UpdatedAt: time.Now()}
		}
	}
	return nil
}

func (r *PartitionRepository) List(ctx context.Context) ([]*core.PartitionAssignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]*core.PartitionAssignment, 0, len(r.s.partitions))
	for _, p := range r.s.partitions {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r *PartitionRepository) Claim(ctx context.Context, partition int, instanceID string, expectedVersion int64) error {
	return r.casUpdate(partition, instanceID, expectedVersion)
}

func (r *PartitionRepository) Release(ctx context.Context, partition int, expectedVersion int64) error {
	return r.casUpdate(partition, "", expectedVersion)
}

func (r *PartitionRepository) casUpdate(partition int, instanceID string, expectedVersion int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.partitions[partition]
	if !ok || p.Version != expectedVersion {
		return outboxerr.ErrConcurrencyConflict
	}
	p.InstanceID = instanceID
	p.Version++
	p.UpdatedAt = time.Now()
	return nil
}

func (r *PartitionRepository) AssignedTo(ctx context.Context, instanceID string) ([]*core.PartitionAssignment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*core.PartitionAssignment
	for _, p := range r.s.partitions {
		if p.InstanceID == instanceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

type errNotFound string

func (e errNotFound) Error() string { return "memory: not found: " + string(e) }
