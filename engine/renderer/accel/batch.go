package accel

import (
	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

// PlanBatches groups structure indices into consecutive batches whose summed
// sizes stay within limit. An index that does not fit in the current batch
// starts a new one, a batch that reaches the limit is closed, and a single
// structure larger than limit gets a batch of its own.
func PlanBatches(sizes []device.DeviceSize, limit device.DeviceSize) [][]int {
	var batches [][]int
	var current []int
	var sum device.DeviceSize

	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
		}
		current = nil
		sum = 0
	}

	for i, size := range sizes {
		if len(current) > 0 && sum+size > limit {
			flush()
		}
		current = append(current, i)
		sum += size
		if sum >= limit {
			flush()
		}
	}
	flush()
	return batches
}

func batchSize(batch []int, sizes []device.DeviceSize) device.DeviceSize {
	var sum device.DeviceSize
	for _, i := range batch {
		sum += sizes[i]
	}
	return sum
}
