// Package hashing assigns outbox keys to one of the fixed partitions.
package hashing

import (
	"github.com/cespare/xxhash/v2"

	"github.com/relaykit/outbox/internal/core"
)

// PartitionOf deterministically maps key to a partition in
// [0, core.TotalPartitions). The mapping is stable across processes and Go
// versions: it hashes the raw UTF-8 bytes of key with a non-cryptographic
// 64-bit hash and reduces modulo the partition count.
func PartitionOf(key string) int {
	sum := xxhash.Sum64String(key)
	return int(sum % uint64(core.TotalPartitions))
}
