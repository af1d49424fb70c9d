package core

import "time"

// PartitionAssignment is a row of the fixed 256-slot assignment table.
// InstanceID is empty when the partition is free.
type PartitionAssignment struct {
	PartitionNumber int
	InstanceID      string
	Version         int64
	UpdatedAt       time.Time
}

// Free reports whether no instance currently owns this partition.
func (p *PartitionAssignment) Free() bool {
	return p.InstanceID == ""
}

// Stale reports whether the partition's owner is not a member of active,
// which includes the free (unowned) case.
func (p *PartitionAssignment) Stale(active map[string]struct{}) bool {
	if p.Free() {
		return true
	}
	_, ok := active[p.InstanceID]
	return !ok
}
