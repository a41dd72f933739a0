package stream

import (
	"fmt"

	"github.com/dm-vev/voxelterrain/terrain/mesh"
	"github.com/dm-vev/voxelterrain/terrain/store"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
)

// Kind is the kind of work requested for a chunk.
type Kind uint8

const (
	// KindGenerate requests the density grid of a chunk to be filled at its
	// target level of detail.
	KindGenerate Kind = iota
	// KindMesh requests the mesh of a chunk to be extracted from its grid.
	KindMesh
	// KindUnload requests a chunk to be released.
	KindUnload
	kindCount
)

// String ...
func (k Kind) String() string {
	switch k {
	case KindGenerate:
		return "generate"
	case KindMesh:
		return "mesh"
	case KindUnload:
		return "unload"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Request is a pending unit of work for a chunk. At most one request of every
// kind is pending per chunk.
type Request struct {
	Pos  voxel.ChunkPos
	Kind Kind
}

// Report summarises the work done by a single Tick.
type Report struct {
	Tick uint64
	// Enqueued holds the number of requests newly enqueued, indexed by Kind.
	Enqueued [kindCount]int
	// Dispatched is the number of tasks handed to workers.
	Dispatched int
	// Completed is the number of task results applied and Discarded the
	// number of results dropped because they were stale.
	Completed, Discarded int
	// Deferred is the number of meshing requests that waited for neighbours.
	Deferred int
	// Unloaded is the number of chunks released and Failed the number of
	// chunks that were marked failed.
	Unloaded, Failed int
	// Pending and InFlight are the number of requests waiting and the number
	// of tasks running at the end of the tick.
	Pending, InFlight int
}

// result is sent by workers back to the goroutine ticking the Scheduler.
type result struct {
	ticket store.Ticket
	kind   Kind
	// grid is the grid generated, or the grid that was meshed.
	grid *voxel.Grid
	buf  *mesh.Buffer
	err  error
}
