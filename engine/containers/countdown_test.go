package containers

import "testing"

func TestCountdownListReleasesAfterCountdown(t *testing.T) {
	cl := NewCountdownList[string](4)
	cl.Push("a", 0)
	cl.Push("b", 1)
	cl.Push("c", 2)

	var released []string
	record := func(s string) { released = append(released, s) }

	if n := cl.Tick(record); n != 1 {
		t.Fatalf("tick 1 released %d, want 1", n)
	}
	if n := cl.Tick(record); n != 1 {
		t.Fatalf("tick 2 released %d, want 1", n)
	}
	if n := cl.Tick(record); n != 1 {
		t.Fatalf("tick 3 released %d, want 1", n)
	}
	if !cl.IsEmpty() {
		t.Fatalf("list still holds %d entries", cl.Len())
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if released[i] != want[i] {
			t.Errorf("released[%d] = %q, want %q", i, released[i], want[i])
		}
	}
}

func TestCountdownListSwapRemoveVisitsEachOnce(t *testing.T) {
	cl := NewCountdownList[int](8)
	// alternate ready and waiting entries so every removal swaps in a
	// waiting one
	for i := 0; i < 8; i++ {
		cl.Push(i, uint32(i%2))
	}

	seen := map[int]int{}
	cl.Tick(func(v int) { seen[v]++ })

	if len(seen) != 4 {
		t.Fatalf("released %d entries, want 4", len(seen))
	}
	for v, n := range seen {
		if v%2 != 0 {
			t.Errorf("released waiting entry %d", v)
		}
		if n != 1 {
			t.Errorf("entry %d released %d times", v, n)
		}
	}
	for _, c := range cl.Countdowns() {
		if c != 0 {
			t.Errorf("remaining countdown %d, want 0 after one decrement", c)
		}
	}
}

func TestCountdownListReset(t *testing.T) {
	cl := NewCountdownList[int](2)
	cl.Push(1, 3)
	cl.Push(2, 3)
	cl.Reset()
	if cl.Len() != 0 {
		t.Fatalf("Len = %d after Reset", cl.Len())
	}
	if n := cl.Tick(func(int) { t.Fatal("released after Reset") }); n != 0 {
		t.Fatalf("Tick released %d", n)
	}
}
