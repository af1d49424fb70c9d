package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTargetCountEvenSplit(t *testing.T) {
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		assert.Equal(t, 64, TargetCount(id, ids))
	}
}

func TestTargetCountRemainderGoesToFirstSortedInstances(t *testing.T) {
	ids := []string{"c", "a", "b"} // 256 / 3 = 85 remainder 1, sorted: a,b,c
	assert.Equal(t, 86, TargetCount("a", ids))
	assert.Equal(t, 85, TargetCount("b", ids))
	assert.Equal(t, 85, TargetCount("c", ids))
}

func TestTargetCountUnknownInstanceGetsZero(t *testing.T) {
	assert.Equal(t, 0, TargetCount("missing", []string{"a", "b"}))
}

func TestTargetCountNoActiveInstances(t *testing.T) {
	assert.Equal(t, 0, TargetCount("a", nil))
}
