// Package partition implements the partition coordinator: the rebalance
// cycle that keeps the fixed 256-partition assignment table converged on
// the cluster's current membership.
package partition

import (
	"context"
	"log/slog"
	"sort"

	"github.com/relaykit/outbox/internal/core"
	"github.com/relaykit/outbox/internal/metrics"
	"github.com/relaykit/outbox/internal/outboxerr"
	"github.com/relaykit/outbox/internal/repository"
)

// Coordinator runs the bootstrap -> claim-stale -> release-surplus cycle
// for one instance. Each step is its own short read-modify-write against
// the repository so a crash mid-cycle leaves at most one partition's claim
// in flight, never the whole table.
type Coordinator struct {
	Partitions repository.PartitionRepository
	Instances  repository.InstanceRepository
	InstanceID string
	Logger     *slog.Logger
	Metrics    *metrics.PartitionMetrics
}

func (c *Coordinator) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Bootstrap ensures the 256-row assignment table exists. It is safe to call
// on every process startup; implementations treat it as idempotent.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	return c.Partitions.Bootstrap(ctx)
}

// Rebalance runs one full cycle: claim up to this instance's target share
// of free or orphaned partitions, then release any surplus above target
// back to the pool. It returns only an error; AssignedPartitions reports the
// resulting assignment.
func (c *Coordinator) Rebalance(ctx context.Context) error {
	active, err := c.Instances.ListActive(ctx)
	if err != nil {
		return outboxerr.NewRepositoryError("list_active_instances", err)
	}
	activeIDs := make([]string, len(active))
	activeSet := make(map[string]struct{}, len(active))
	for i, inst := range active {
		activeIDs[i] = inst.InstanceID
		activeSet[inst.InstanceID] = struct{}{}
	}

	target := TargetCount(c.InstanceID, activeIDs)

	all, err := c.Partitions.List(ctx)
	if err != nil {
		return outboxerr.NewRepositoryError("list_partitions", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].PartitionNumber < all[j].PartitionNumber })

	mine := 0
	var claimable []int64
	claimableVersions := make(map[int]int64)
	for _, p := range all {
		if p.InstanceID == c.InstanceID {
			mine++
			continue
		}
		if p.Stale(activeSet) {
			claimable = append(claimable, int64(p.PartitionNumber))
			claimableVersions[p.PartitionNumber] = p.Version
		}
	}

	if err := c.claimStale(ctx, claimable, claimableVersions, target, &mine); err != nil {
		return err
	}

	if err := c.releaseSurplus(ctx, all, target, mine); err != nil {
		return err
	}

	if c.Metrics != nil {
		c.Metrics.RebalanceCycles.Inc()
		c.Metrics.AssignedGauge.Set(float64(mine))
	}
	return nil
}

func (c *Coordinator) claimStale(ctx context.Context, candidates []int64, versions map[int]int64, target int, mine *int) error {
	for _, p := range candidates {
		if *mine >= target {
			return nil
		}
		partition := int(p)
		expected := versions[partition]
		if err := c.Partitions.Claim(ctx, partition, c.InstanceID, expected); err != nil {
			if err == outboxerr.ErrConcurrencyConflict {
				// another instance won the race for this partition this
				// cycle; move on, the next tick will re-evaluate.
				continue
			}
			return outboxerr.NewRepositoryError("claim_partition", err)
		}
		*mine++
		if c.Metrics != nil {
			c.Metrics.Claimed.Inc()
		}
		c.logger().Info("claimed partition", "partition", partition, "instance_id", c.InstanceID)
	}
	return nil
}

// releaseSurplus releases this instance's highest-numbered partitions first:
// all is sorted ascending by partition number, so among this instance's
// owned partitions the surplus to release is the tail of that ascending
// slice, deterministically and independent of repository iteration order.
func (c *Coordinator) releaseSurplus(ctx context.Context, all []*core.PartitionAssignment, target, mine int) error {
	if mine <= target {
		return nil
	}
	toRelease := mine - target

	var owned []*core.PartitionAssignment
	for _, p := range all {
		if p.InstanceID == c.InstanceID {
			owned = append(owned, p)
		}
	}
	if toRelease > len(owned) {
		toRelease = len(owned)
	}
	surplus := owned[len(owned)-toRelease:]

	for _, p := range surplus {
		if err := c.Partitions.Release(ctx, p.PartitionNumber, p.Version); err != nil {
			if err == outboxerr.ErrConcurrencyConflict {
				continue
			}
			return outboxerr.NewRepositoryError("release_partition", err)
		}
		if c.Metrics != nil {
			c.Metrics.Released.Inc()
		}
		c.logger().Info("released partition", "partition", p.PartitionNumber, "instance_id", c.InstanceID)
	}
	return nil
}

// AssignedPartitions returns the partition numbers currently owned by this
// instance, exposed over the debug HTTP surface for operational
// visibility.
func (c *Coordinator) AssignedPartitions(ctx context.Context) ([]int, error) {
	assigned, err := c.Partitions.AssignedTo(ctx, c.InstanceID)
	if err != nil {
		return nil, outboxerr.NewRepositoryError("assigned_to", err)
	}
	nums := make([]int, len(assigned))
	for i, p := range assigned {
		nums[i] = p.PartitionNumber
	}
	return nums, nil
}
