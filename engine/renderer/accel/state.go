package accel

import (
	"fmt"

	"github.com/spaghettifunk/vulture/engine/core"
)

// State is the lifecycle position of one bottom-level structure during a
// build.
type State uint8

const (
	StateUnbuilt State = iota
	StateBuilding
	StateAwaitingCompactionQuery
	StateCompacting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StateBuilding:
		return "building"
	case StateAwaitingCompactionQuery:
		return "awaiting-compaction-query"
	case StateCompacting:
		return "compacting"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

var transitions = map[State][]State{
	StateUnbuilt:                 {StateBuilding},
	StateBuilding:                {StateAwaitingCompactionQuery, StateReady},
	StateAwaitingCompactionQuery: {StateCompacting},
	StateCompacting:              {StateReady},
}

// CanTransition reports whether a structure may move from one state to
// another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (e *blasEntry) advance(to State) {
	core.Assert(CanTransition(e.state, to), "blas %d: illegal transition %s -> %s", e.index, e.state, to)
	e.state = to
}
