package store

import (
	"fmt"

	"github.com/dm-vev/voxelterrain/terrain/mesh"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
	"github.com/google/uuid"
)

// Chunk is a chunk as held by the Store. It is only ever accessed while the
// lock of its shard is held, that is, inside a function passed to
// Store.Update. Other code works with View copies.
type Chunk struct {
	Pos voxel.ChunkPos
	// ID identifies this instance of the chunk. A chunk evicted and created
	// again at the same position has a different ID.
	ID uuid.UUID

	// LOD is the level of detail the chunk should be generated at. Grid.LOD
	// lags behind LOD while a regeneration is pending.
	LOD  int
	Grid *voxel.Grid
	Mesh *mesh.Buffer

	// Retries counts consecutive retryable generation failures and Deferrals
	// the number of times meshing waited for neighbours.
	Retries, Deferrals int
	// Collision reports if the chunk lies within the collision radius.
	Collision bool

	state State
	busy  bool
	gen   uint64
}

// State returns the lifecycle state of the chunk.
func (c *Chunk) State() State { return c.state }

// Busy reports if a task is in flight for the chunk.
func (c *Chunk) Busy() bool { return c.busy }

// Transition moves the chunk to the state passed, returning an error wrapping
// ErrInvalidTransition if the state is not reachable.
func (c *Chunk) Transition(to State) error {
	if c.state == to {
		return nil
	}
	if !c.state.CanTransition(to) {
		return fmt.Errorf("%w: chunk %v from %v to %v", ErrInvalidTransition, c.Pos, c.state, to)
	}
	c.state = to
	return nil
}

// Invalidate makes the results of tasks currently in flight for the chunk
// stale.
func (c *Chunk) Invalidate() { c.gen++ }

func (c *Chunk) view() View {
	return View{
		Pos:       c.Pos,
		ID:        c.ID,
		State:     c.state,
		LOD:       c.LOD,
		Grid:      c.Grid,
		Mesh:      c.Mesh,
		Retries:   c.Retries,
		Deferrals: c.Deferrals,
		Collision: c.Collision,
		Busy:      c.busy,
	}
}

// View is a copy of the fields of a Chunk at the time it was taken. The Grid
// and Mesh it points to are immutable.
type View struct {
	Pos                voxel.ChunkPos
	ID                 uuid.UUID
	State              State
	LOD                int
	Grid               *voxel.Grid
	Mesh               *mesh.Buffer
	Retries, Deferrals int
	Collision, Busy    bool
}

// Neighbour is the view of a chunk adjacent to another one. Present is false
// if no chunk exists at the position.
type Neighbour struct {
	View
	Present bool
}

// Ticket is handed out when a task for a chunk starts and must be returned
// to Store.Finish when it completes.
type Ticket struct {
	Pos voxel.ChunkPos
	ID  uuid.UUID
	gen uint64
}
