package accel

import (
	"fmt"
	"testing"

	"golang.org/x/exp/rand"

	"github.com/spaghettifunk/vulture/engine/renderer/device"
)

const mb device.DeviceSize = 1_000_000

func TestPlanBatches(t *testing.T) {
	tests := []struct {
		name  string
		sizes []device.DeviceSize
		limit device.DeviceSize
		want  [][]int
	}{
		{
			name:  "three structures of 100MB",
			sizes: []device.DeviceSize{100 * mb, 100 * mb, 100 * mb},
			limit: 256 * mb,
			want:  [][]int{{0, 1}, {2}},
		},
		{
			name:  "batch reaching the limit is closed",
			sizes: []device.DeviceSize{128 * mb, 128 * mb, 10 * mb},
			limit: 256 * mb,
			want:  [][]int{{0, 1}, {2}},
		},
		{
			name:  "oversized structure gets its own batch",
			sizes: []device.DeviceSize{10 * mb, 300 * mb, 10 * mb},
			limit: 256 * mb,
			want:  [][]int{{0}, {1}, {2}},
		},
		{
			name:  "everything fits",
			sizes: []device.DeviceSize{1, 2, 3, 4},
			limit: 256 * mb,
			want:  [][]int{{0, 1, 2, 3}},
		},
		{
			name:  "empty",
			sizes: nil,
			limit: 256 * mb,
			want:  nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PlanBatches(tt.sizes, tt.limit)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Fatalf("PlanBatches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPlanBatchesCeilingInvariant(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	const limit = 256 * mb

	for round := 0; round < 200; round++ {
		sizes := make([]device.DeviceSize, 1+r.Intn(40))
		for i := range sizes {
			// mostly small structures, sometimes one over the limit
			sizes[i] = device.DeviceSize(1 + r.Uint64n(uint64(300*mb)))
		}

		batches := PlanBatches(sizes, limit)
		next := 0
		for _, batch := range batches {
			if len(batch) == 0 {
				t.Fatalf("round %d: empty batch in %v", round, batches)
			}
			if sum := batchSize(batch, sizes); sum > limit && len(batch) > 1 {
				t.Fatalf("round %d: batch %v sums to %d over limit %d", round, batch, sum, limit)
			}
			for _, idx := range batch {
				if idx != next {
					t.Fatalf("round %d: index %d out of order, want %d", round, idx, next)
				}
				next++
			}
		}
		if next != len(sizes) {
			t.Fatalf("round %d: %d of %d indices batched", round, next, len(sizes))
		}
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateUnbuilt, StateBuilding, true},
		{StateBuilding, StateAwaitingCompactionQuery, true},
		{StateBuilding, StateReady, true},
		{StateAwaitingCompactionQuery, StateCompacting, true},
		{StateCompacting, StateReady, true},
		{StateUnbuilt, StateReady, false},
		{StateAwaitingCompactionQuery, StateReady, false},
		{StateReady, StateBuilding, false},
		{StateCompacting, StateAwaitingCompactionQuery, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %t, want %t", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIllegalTransitionPanics(t *testing.T) {
	e := &blasEntry{index: 3, state: StateBuilding}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on building -> compacting")
		}
	}()
	e.advance(StateCompacting)
}
