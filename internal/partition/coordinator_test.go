package partition

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/outboxerr"
)

type fakePartitionRepo struct {
	rows map[int]*core.PartitionAssignment
}

func newFakePartitionRepo(n int) *fakePartitionRepo {
	rows := make(map[int]*core.PartitionAssignment, n)
	for i := 0; i < n; i++ {
		rows[i] = &core.PartitionAssignment{PartitionNumber: i}
	}
	return &fakePartitionRepo{rows: rows}
}

func (f *fakePartitionRepo) Bootstrap(ctx context.Context) error { return nil }

func (f *fakePartitionRepo) List(ctx context.Context) ([]*core.PartitionAssignment, error) {
	out := make([]*core.PartitionAssignment, 0, len(f.rows))
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakePartitionRepo) Claim(ctx context.Context, partition int, instanceID string, expectedVersion int64) error {
	row := f.rows[partition]
	if row.Version != expectedVersion {
		return outboxerr.ErrConcurrencyConflict
	}
	row.InstanceID = instanceID
	row.Version++
	return nil
}

func (f *fakePartitionRepo) Release(ctx context.Context, partition int, expectedVersion int64) error {
	row := f.rows[partition]
	if row.Version != expectedVersion {
		return outboxerr.ErrConcurrencyConflict
	}
	row.InstanceID = ""
	row.Version++
	return nil
}

func (f *fakePartitionRepo) AssignedTo(ctx context.Context, instanceID string) ([]*core.PartitionAssignment, error) {
	var out []*core.PartitionAssignment
	for _, r := range f.rows {
		if r.InstanceID == instanceID {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeInstanceRepo struct {
	active []*core.Instance
}

func (f *fakeInstanceRepo) Register(ctx context.Context, i *core.Instance) error { return nil }
func (f *fakeInstanceRepo) Heartbeat(ctx context.Context, id string, at time.Time) error {
	return nil
}
func (f *fakeInstanceRepo) MarkShuttingDown(ctx context.Context, id string) error { return nil }
func (f *fakeInstanceRepo) Delete(ctx context.Context, id string) error          { return nil }
func (f *fakeInstanceRepo) ListActive(ctx context.Context) ([]*core.Instance, error) {
	return f.active, nil
}
func (f *fakeInstanceRepo) DeleteStale(ctx context.Context, cutoff time.Time) ([]string, error) {
	return nil, nil
}

func TestCoordinatorClaimsUpToTarget(t *testing.T) {
	partitions := newFakePartitionRepo(core.TotalPartitions)
	instances := &fakeInstanceRepo{active: []*core.Instance{
		{InstanceID: "a"}, {InstanceID: "b"},
	}}
	coord := &Coordinator{Partitions: partitions, Instances: instances, InstanceID: "a"}

	require.NoError(t, coord.Rebalance(context.Background()))

	assigned, err := coord.AssignedPartitions(context.Background())
	require.NoError(t, err)
	assert.Len(t, assigned, 128) // 256 partitions / 2 instances = 128 each
}

func TestCoordinatorReleasesSurplusAfterMembershipGrows(t *testing.T) {
	partitions := newFakePartitionRepo(core.TotalPartitions)
	for i := 0; i < core.TotalPartitions; i++ {
		partitions.rows[i].InstanceID = "a"
	}
	instances := &fakeInstanceRepo{active: []*core.Instance{
		{InstanceID: "a"}, {InstanceID: "b"},
	}}
	coord := &Coordinator{Partitions: partitions, Instances: instances, InstanceID: "a"}

	require.NoError(t, coord.Rebalance(context.Background()))

	assigned, err := coord.AssignedPartitions(context.Background())
	require.NoError(t, err)
	assert.Len(t, assigned, 128)
}

func TestCoordinatorClaimsStalePartitionsInAscendingOrder(t *testing.T) {
	partitions := newFakePartitionRepo(core.TotalPartitions)
	for i := 0; i <= 125; i++ {
		partitions.rows[i].InstanceID = "a"
	}
	// Scattered free partitions above the target boundary, deliberately
	// more than the 2 "a" needs to reach its target of 128. Only the two
	// lowest-numbered ones (130, 140) should be claimed.
	free := map[int]bool{130: true, 140: true, 200: true, 255: true}
	for i := 126; i < core.TotalPartitions; i++ {
		if !free[i] {
			partitions.rows[i].InstanceID = "b"
		}
	}
	instances := &fakeInstanceRepo{active: []*core.Instance{{InstanceID: "a"}, {InstanceID: "b"}}}
	coord := &Coordinator{Partitions: partitions, Instances: instances, InstanceID: "a"}

	require.NoError(t, coord.Rebalance(context.Background()))

	assigned, err := coord.AssignedPartitions(context.Background())
	require.NoError(t, err)
	assert.Len(t, assigned, 128)
	assert.Contains(t, assigned, 130)
	assert.Contains(t, assigned, 140)
	assert.NotContains(t, assigned, 200)
	assert.NotContains(t, assigned, 255)
}

func TestCoordinatorReleasesHighestNumberedPartitionsFirst(t *testing.T) {
	partitions := newFakePartitionRepo(core.TotalPartitions)
	// "a" owns 132 contiguous partitions, 4 more than its 128 target;
	// the 4 highest-numbered ones (128-131) must be released first.
	for i := 0; i <= 131; i++ {
		partitions.rows[i].InstanceID = "a"
	}
	for i := 132; i < core.TotalPartitions; i++ {
		partitions.rows[i].InstanceID = "b"
	}
	instances := &fakeInstanceRepo{active: []*core.Instance{{InstanceID: "a"}, {InstanceID: "b"}}}
	coord := &Coordinator{Partitions: partitions, Instances: instances, InstanceID: "a"}

	require.NoError(t, coord.Rebalance(context.Background()))

	assigned, err := coord.AssignedPartitions(context.Background())
	require.NoError(t, err)
	assert.Len(t, assigned, 128)
	for i := 0; i <= 127; i++ {
		assert.Contains(t, assigned, i)
	}
	for i := 128; i <= 131; i++ {
		assert.NotContains(t, assigned, i)
		assert.Equal(t, "", partitions.rows[i].InstanceID)
	}
}

func TestCoordinatorClaimsOrphanedPartitions(t *testing.T) {
	partitions := newFakePartitionRepo(core.TotalPartitions)
	for i := 0; i < 5; i++ {
		partitions.rows[i].InstanceID = "dead-instance"
	}
	instances := &fakeInstanceRepo{active: []*core.Instance{{InstanceID: "a"}}}
	coord := &Coordinator{Partitions: partitions, Instances: instances, InstanceID: "a"}

	require.NoError(t, coord.Rebalance(context.Background()))

	assigned, err := coord.AssignedPartitions(context.Background())
	require.NoError(t, err)
	assert.Len(t, assigned, core.TotalPartitions)
}
