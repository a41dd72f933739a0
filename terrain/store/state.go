package store

import "fmt"

// State is the lifecycle state of a chunk.
type State uint8

const (
	// Unloaded chunks have just been created and hold no data.
	Unloaded State = iota
	// Generating chunks are waiting for, or running, density generation.
	Generating
	// Meshing chunks hold a density grid and wait for, or run, extraction.
	Meshing
	// Ready chunks have a mesh uploaded to the sink.
	Ready
	// Unloading chunks are being torn down and are evicted once no task is
	// in flight for them.
	Unloading
	// Failed chunks could not be generated. They render as a hole.
	Failed
)

// transitions lists, per state, the states it may move to.
var transitions = [...][]State{
	Unloaded:   {Generating, Unloading},
	Generating: {Meshing, Failed, Unloading},
	Meshing:    {Ready, Generating, Failed, Unloading},
	Ready:      {Generating, Meshing, Unloading},
	Unloading:  {},
	Failed:     {Generating, Unloading},
}

// CanTransition reports if a chunk in state s may move to state to.
func (s State) CanTransition(to State) bool {
	if int(s) >= len(transitions) {
		return false
	}
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Unloaded:
		return "unloaded"
	case Generating:
		return "generating"
	case Meshing:
		return "meshing"
	case Ready:
		return "ready"
	case Unloading:
		return "unloading"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}
