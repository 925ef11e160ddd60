package trajingest

import (
	"testing"

	"github.com/bmizerany/assert"
	"github.com/chararch/trajingest/file"
)

func units(n int) []file.SourceUnit {
	result := make([]file.SourceUnit, n)
	for i := range result {
		result[i] = file.SourceUnit{Index: int64(i)}
	}
	return result
}

func TestPartition(t *testing.T) {
	for _, tc := range []struct {
		units, workers, shards int
	}{
		{10, 3, 3},
		{10, 1, 1},
		{10, 10, 10},
		{3, 16, 3},
		{1000, 16, 16},
		{7, 0, 1},
		{0, 4, 0},
	} {
		shards := Partition(units(tc.units), tc.workers)
		assert.Equal(t, tc.shards, len(shards), tc)

		min, max := tc.units, 0
		var next int64
		for _, shard := range shards {
			assert.NotEqual(t, 0, len(shard))
			if len(shard) < min {
				min = len(shard)
			}
			if len(shard) > max {
				max = len(shard)
			}
			// contiguous and in order
			for _, u := range shard {
				assert.Equal(t, next, u.Index)
				next++
			}
		}
		assert.Equal(t, int64(tc.units), next)
		if len(shards) > 0 {
			assert.T(t, max-min <= 1, tc)
		}
	}
}

func TestPartition_Sizes(t *testing.T) {
	shards := Partition(units(10), 3)
	assert.Equal(t, 4, len(shards[0]))
	assert.Equal(t, 3, len(shards[1]))
	assert.Equal(t, 3, len(shards[2]))

	// appending to a shard must not overwrite its neighbour
	shards[0] = append(shards[0], file.SourceUnit{Index: 99})
	assert.Equal(t, int64(4), shards[1][0].Index)
}

func TestLaneName(t *testing.T) {
	assert.Equal(t, "taxi:0003", laneName("taxi", 3))
}
