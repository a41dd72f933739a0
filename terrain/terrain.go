// Package terrain streams and meshes an infinite voxel terrain around a
// moving viewer. A Terrain ties together the chunk store, the density
// generator, the mesher and the streaming scheduler, and delivers meshes to a
// sink.Sink.
package terrain

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/dm-vev/voxelterrain/terrain/density"
	"github.com/dm-vev/voxelterrain/terrain/edit"
	"github.com/dm-vev/voxelterrain/terrain/store"
	"github.com/dm-vev/voxelterrain/terrain/stream"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
	"github.com/go-gl/mathgl/mgl64"
)

// Terrain is an infinite voxel terrain. Apart from Exec, TPS and Close, its
// methods must be called from the goroutine ticking it: either the caller of
// Tick, or from functions passed to Exec while Run is active.
type Terrain struct {
	conf Config
	geom voxel.Geometry

	store *store.Store
	gen   *density.Generator
	edits *edit.Store
	sched *stream.Scheduler

	// maxStride is the sample stride of the coarsest level of detail.
	maxStride int

	viewer mgl64.Vec3
	radius int

	queue  chan func()
	tps    atomic.Uint64
	closed atomic.Bool
}

// Geometry returns the chunk geometry of the terrain.
func (t *Terrain) Geometry() voxel.Geometry {
	return t.geom
}

// Tick moves the viewer to the position passed and runs a single step of
// streaming: finished chunks are handed to the sink, chunks are requested and
// released as needed and pending work is dispatched to workers.
func (t *Terrain) Tick(viewer mgl64.Vec3) stream.Report {
	t.viewer = viewer
	return t.sched.Tick(viewer, t.radius)
}

// Viewer returns the position of the viewer as of the last tick or teleport.
func (t *Terrain) Viewer() mgl64.Vec3 {
	return t.viewer
}

// Teleport moves the viewer without ticking. Chunks around the new position
// are requested on the next tick.
func (t *Terrain) Teleport(pos mgl64.Vec3) {
	t.viewer = pos
}

// SetRadius changes the load radius, in chunks. The unload radius keeps its
// distance to the load radius. A negative radius restores the configured
// radius.
func (t *Terrain) SetRadius(r int) {
	t.radius = r
}

// Radius returns the load radius currently in use.
func (t *Terrain) Radius() int {
	if t.radius < 0 {
		return t.conf.LoadRadius
	}
	return t.radius
}

// SetVoxel overrides the density and material of the voxel sample at c. Every
// loaded chunk whose grid or skirts contain c is generated and meshed again.
func (t *Terrain) SetVoxel(c voxel.Coord, d float32, m voxel.Material) error {
	if err := t.edits.Set(c, edit.Edit{Density: d, Material: m}); err != nil {
		return fmt.Errorf("set voxel %v: %w", c, err)
	}
	t.invalidate(c)
	return nil
}

// ClearVoxel removes the edit at c, if any, reverting the sample to the
// generated terrain. The bool returned is false if there was no edit.
func (t *Terrain) ClearVoxel(c voxel.Coord) (bool, error) {
	ok, err := t.edits.Remove(c)
	if err != nil {
		return false, fmt.Errorf("clear voxel %v: %w", c, err)
	}
	if ok {
		t.invalidate(c)
	}
	return ok, nil
}

// Voxel returns the density and material of the voxel sample at c, with edits
// applied.
func (t *Terrain) Voxel(c voxel.Coord) (float32, voxel.Material, error) {
	return t.gen.Sample(c)
}

func (t *Terrain) invalidate(c voxel.Coord) {
	lo, hi := t.geom.Touching(c, t.maxStride)
	for x := lo[0]; x <= hi[0]; x++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for z := lo[2]; z <= hi[2]; z++ {
				pos := voxel.ChunkPos{x, y, z}
				t.gen.Invalidate(pos)
				t.sched.Invalidate(pos)
			}
		}
	}
}

// Chunk returns a view of the chunk at pos, if it is loaded.
func (t *Terrain) Chunk(pos voxel.ChunkPos) (store.View, bool) {
	return t.store.Lookup(pos)
}

// Counts returns the number of loaded chunks per lifecycle state.
func (t *Terrain) Counts() map[store.State]int {
	return t.store.Count()
}

// Report returns the report of the last tick.
func (t *Terrain) Report() stream.Report {
	return t.sched.LastTick()
}

// Metrics returns the streaming counters accumulated so far.
func (t *Terrain) Metrics() stream.MetricsSnapshot {
	return t.sched.Metrics().Snapshot()
}

// Idle reports if all chunks around the viewer are settled and no work is
// pending or in flight.
func (t *Terrain) Idle() bool {
	return t.sched.Idle()
}

// TPS returns the average number of ticks per second measured by Run.
func (t *Terrain) TPS() float64 {
	return math.Float64frombits(t.tps.Load())
}

// Save writes unsaved voxel edits to the edit provider.
func (t *Terrain) Save() error {
	return t.edits.Save()
}

// Close stops the workers, saves voxel edits and closes the edit provider. It
// must not be called while Run is active.
func (t *Terrain) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.sched.Close()
	if err := t.edits.Close(); err != nil {
		return fmt.Errorf("close edits: %w", err)
	}
	t.conf.Log.Debug("Terrain closed.")
	return nil
}
