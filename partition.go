package trajingest

import (
	"fmt"

	"github.com/chararch/trajingest/file"
)

// Partition splits units into at most n contiguous shards whose sizes differ
// by at most one. Order is kept and empty shards are dropped.
func Partition(units []file.SourceUnit, n int) [][]file.SourceUnit {
	if n < 1 {
		n = 1
	}
	if n > len(units) {
		n = len(units)
	}
	shards := make([][]file.SourceUnit, 0, n)
	if n == 0 {
		return shards
	}
	size, rem := len(units)/n, len(units)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < rem {
			end++
		}
		shards = append(shards, units[start:end:end])
		start = end
	}
	return shards
}

func laneName(pipeline string, lane int) string {
	return fmt.Sprintf("%s:%04d", pipeline, lane)
}
