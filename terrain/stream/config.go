package stream

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/dm-vev/voxelterrain/terrain/mesh"
	"github.com/dm-vev/voxelterrain/terrain/sink"
	"github.com/dm-vev/voxelterrain/terrain/store"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
)

// Generator produces density grids and oracle sampled skirts. It is
// implemented by *density.Generator and called from worker goroutines.
type Generator interface {
	Generate(pos voxel.ChunkPos, lod int) (*voxel.Grid, error)
	Skirt(pos voxel.ChunkPos, lod int, face voxel.Face) (*voxel.Skirt, error)
}

// Mesher extracts meshes from grids. It is implemented by mesh.Mesher and
// called from worker goroutines.
type Mesher interface {
	Extract(g *voxel.Grid, skirts [6]*voxel.Skirt, neighbourLOD [6]int) (*mesh.Buffer, error)
}

// Config holds the settings of a Scheduler. The zero value of every numeric
// field is replaced by a default.
type Config struct {
	// Log is used for logging. If nil, slog.Default() is used.
	Log *slog.Logger

	Store     *store.Store
	Generator Generator
	Mesher    Mesher
	// Sink receives finished meshes. If it implements sink.CollisionSink it
	// is also told which chunks lie within CollisionRadius. If nil, meshes
	// are discarded.
	Sink     sink.Sink
	Geometry voxel.Geometry

	// LoadRadius is the radius, in chunks, used when Tick is passed a
	// negative radius. UnloadRadius must exceed it: chunks are unloaded once
	// their distance exceeds the radius passed to Tick plus the difference
	// between the two.
	LoadRadius, UnloadRadius int
	// LODThresholds are the chunk distances at which the level of detail
	// increases by one. LODLevels caps the number of levels.
	LODThresholds []int
	LODLevels     int
	// CollisionRadius is the distance up to which chunks have collision.
	// Negative values disable collision.
	CollisionRadius int

	// Workers is the maximum number of Generate and Mesh tasks in flight.
	Workers int
	// DispatchBudget is the maximum number of tasks started per tick and
	// UnloadBudget the maximum number of chunks unloaded per tick.
	DispatchBudget, UnloadBudget int
	// MaxRetries is the number of times generation is retried after the
	// oracle was unavailable before a chunk is marked failed.
	MaxRetries int
	// SkirtTimeout is the number of ticks a chunk waits for neighbours to
	// be generated before their skirts are sampled from the oracle instead.
	SkirtTimeout int
	// FailureLogInterval limits how often failed chunks are logged.
	FailureLogInterval time.Duration
	// StrictTransitions makes invalid state transitions panic instead of
	// being logged.
	StrictTransitions bool

	Metrics *Metrics
}

func (c Config) withDefaults() Config {
	if c.Log == nil {
		c.Log = slog.Default()
	}
	if c.Sink == nil {
		c.Sink = sink.NopSink{}
	}
	if c.Geometry.Resolution <= 0 {
		c.Geometry.Resolution = 16
	}
	if c.Geometry.VoxelSize <= 0 {
		c.Geometry.VoxelSize = 1
	}
	if c.LoadRadius <= 0 {
		c.LoadRadius = 8
	}
	if c.UnloadRadius <= c.LoadRadius {
		c.UnloadRadius = c.LoadRadius + 2
	}
	if c.LODLevels <= 0 {
		c.LODLevels = len(c.LODThresholds) + 1
	}
	if c.CollisionRadius == 0 {
		c.CollisionRadius = 2
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.DispatchBudget <= 0 {
		c.DispatchBudget = 32
	}
	if c.UnloadBudget <= 0 {
		c.UnloadBudget = 150
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.SkirtTimeout <= 0 {
		c.SkirtTimeout = 8
	}
	if c.FailureLogInterval <= 0 {
		c.FailureLogInterval = time.Minute
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics()
	}
	return c
}
