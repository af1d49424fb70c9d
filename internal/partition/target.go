package partition

import (
	"sort"

	"github.com/relaykit/outbox/internal/core"
)

// TargetCount computes how many of the 256 partitions instanceID should
// hold given the full set of active instance ids. Partitions split as
// evenly as floor(256/N) allows; the remainder is handed to the first
// `remainder` instances in sorted-id order, so every instance in the
// cluster can compute the same targets independently without coordination.
func TargetCount(instanceID string, activeInstanceIDs []string) int {
	n := len(activeInstanceIDs)
	if n == 0 {
		return 0
	}
	sorted := append([]string(nil), activeInstanceIDs...)
	sort.Strings(sorted)

	idx := -1
	for i, id := range sorted {
		if id == instanceID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return 0
	}

	base := core.TotalPartitions / n
	remainder := core.TotalPartitions % n
	if idx < remainder {
		return base + 1
	}
	return base
}
