// Package sink defines where finished chunk meshes are delivered.
package sink

import (
	"log/slog"
	"sync"

	"github.com/dm-vev/voxelterrain/terrain/mesh"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
)

// Sink receives the meshes of chunks. Its methods are only called from the
// goroutine ticking the terrain.
type Sink interface {
	// Upsert replaces the mesh of the chunk at pos with buf.
	Upsert(pos voxel.ChunkPos, lod int, buf *mesh.Buffer)
	// Remove removes the mesh of the chunk at pos.
	Remove(pos voxel.ChunkPos)
}

// CollisionSink is implemented by sinks that also maintain collision
// geometry. SetCollision is called when a chunk enters or leaves the
// collision radius around the viewer.
type CollisionSink interface {
	Sink
	SetCollision(pos voxel.ChunkPos, enabled bool)
}

// NopSink discards all meshes.
type NopSink struct{}

func (NopSink) Upsert(voxel.ChunkPos, int, *mesh.Buffer) {}
func (NopSink) Remove(voxel.ChunkPos)                    {}

// Recorder is a CollisionSink that keeps the latest mesh of every chunk and
// counts all calls made to it. It is safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	meshes    map[voxel.ChunkPos]*mesh.Buffer
	upserts   map[voxel.ChunkPos]int
	removes   map[voxel.ChunkPos]int
	collision map[voxel.ChunkPos]bool
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		meshes:    make(map[voxel.ChunkPos]*mesh.Buffer),
		upserts:   make(map[voxel.ChunkPos]int),
		removes:   make(map[voxel.ChunkPos]int),
		collision: make(map[voxel.ChunkPos]bool),
	}
}

func (r *Recorder) Upsert(pos voxel.ChunkPos, _ int, buf *mesh.Buffer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meshes[pos] = buf
	r.upserts[pos]++
}

func (r *Recorder) Remove(pos voxel.ChunkPos) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.meshes, pos)
	r.removes[pos]++
}

func (r *Recorder) SetCollision(pos voxel.ChunkPos, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if enabled {
		r.collision[pos] = true
	} else {
		delete(r.collision, pos)
	}
}

// Mesh returns the current mesh of the chunk at pos.
func (r *Recorder) Mesh(pos voxel.ChunkPos) (*mesh.Buffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.meshes[pos]
	return b, ok
}

// Meshes returns the number of chunks that currently have a mesh.
func (r *Recorder) Meshes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.meshes)
}

// Upserts returns how often the mesh of the chunk at pos was upserted.
func (r *Recorder) Upserts(pos voxel.ChunkPos) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upserts[pos]
}

// TotalUpserts returns the number of Upsert calls over all chunks.
func (r *Recorder) TotalUpserts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.upserts {
		n += c
	}
	return n
}

// Removes returns how often the mesh of the chunk at pos was removed.
func (r *Recorder) Removes(pos voxel.ChunkPos) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removes[pos]
}

// Collision reports if collision is enabled for the chunk at pos.
func (r *Recorder) Collision(pos voxel.ChunkPos) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collision[pos]
}

// Log is a Sink writing every call to a logger at debug level and forwarding
// it to Next, if set.
type Log struct {
	Log  *slog.Logger
	Next Sink
}

func (l Log) Upsert(pos voxel.ChunkPos, lod int, buf *mesh.Buffer) {
	l.Log.Debug("Chunk mesh uploaded.", "X", pos[0], "Y", pos[1], "Z", pos[2], "lod", lod, "triangles", buf.Triangles())
	if l.Next != nil {
		l.Next.Upsert(pos, lod, buf)
	}
}

func (l Log) Remove(pos voxel.ChunkPos) {
	l.Log.Debug("Chunk mesh removed.", "X", pos[0], "Y", pos[1], "Z", pos[2])
	if l.Next != nil {
		l.Next.Remove(pos)
	}
}

func (l Log) SetCollision(pos voxel.ChunkPos, enabled bool) {
	l.Log.Debug("Chunk collision changed.", "X", pos[0], "Y", pos[1], "Z", pos[2], "enabled", enabled)
	if c, ok := l.Next.(CollisionSink); ok {
		c.SetCollision(pos, enabled)
	}
}
