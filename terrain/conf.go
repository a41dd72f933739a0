package terrain

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"time"

	"github.com/dm-vev/voxelterrain/terrain/density"
	"github.com/dm-vev/voxelterrain/terrain/edit"
	"github.com/dm-vev/voxelterrain/terrain/mesh"
	"github.com/dm-vev/voxelterrain/terrain/noise"
	"github.com/dm-vev/voxelterrain/terrain/sink"
	"github.com/dm-vev/voxelterrain/terrain/store"
	"github.com/dm-vev/voxelterrain/terrain/stream"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
)

// ErrInvalidConfig is returned by Config.New if the Config cannot be used.
var ErrInvalidConfig = errors.New("terrain: invalid config")

// Config contains options for creating a Terrain.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set to
	// slog.Default().
	Log *slog.Logger

	// Resolution is the number of voxels along a chunk edge at the finest
	// level of detail. It must be divisible by 2^(LODLevels-1). Defaults to
	// 32.
	Resolution int
	// VoxelSize is the edge length of a voxel in world units. Defaults to 1.
	VoxelSize float64
	// IsoLevel is the density at which the surface lies.
	IsoLevel float32

	// LoadRadius is the radius around the viewer, in chunks, within which
	// chunks are loaded. UnloadRadius is the radius beyond which they are
	// released again and must exceed LoadRadius.
	LoadRadius, UnloadRadius int
	// LODLevels is the number of levels of detail. LODThresholds holds the
	// chunk distances at which each coarser level starts and must be
	// strictly increasing, with one threshold per level after the first.
	LODLevels     int
	LODThresholds []int
	// CollisionRadius is the radius within which chunks are reported to a
	// sink.CollisionSink. Defaults to 2; a negative value disables it.
	CollisionRadius int

	// Workers is the number of goroutines generating and meshing chunks. If
	// 0 or lower, it is derived from the number of CPUs.
	Workers int
	// DispatchBudget and UnloadBudget limit the number of tasks started and
	// chunks released per tick.
	DispatchBudget, UnloadBudget int
	// MaxRetries is the number of times generation is retried when the oracle
	// is unavailable. SkirtTimeout is the number of ticks a chunk waits for
	// its neighbours before sampling their faces from the oracle itself.
	MaxRetries, SkirtTimeout int
	// StrictTransitions makes invalid chunk state transitions panic.
	StrictTransitions bool

	// Oracle is the density field sampled. If nil, noise.Terrain is used.
	Oracle noise.Oracle
	// Noise holds the parameters passed to the Oracle. If zero,
	// noise.DefaultParams() is used.
	Noise noise.Params
	// SeaLevel and SnowLine are world heights used to pick surface materials.
	SeaLevel, SnowLine float64
	// CacheSize is the number of generated grids kept in memory so that
	// chunks changing level of detail or coming back into range need not be
	// sampled again. 0 disables the cache.
	CacheSize int

	// Sink receives the meshes of chunks. If nil, meshes are discarded.
	Sink sink.Sink
	// EditProvider stores voxel edits. If nil, edits are lost on Close.
	EditProvider edit.Provider

	// TickInterval is the interval between ticks in Run. Defaults to 50ms.
	TickInterval time.Duration
	// SaveInterval is the interval at which Run saves voxel edits. Defaults
	// to five minutes.
	SaveInterval time.Duration
}

// New creates a Terrain using fields of conf. An error wrapping
// ErrInvalidConfig is returned if conf is invalid.
func (conf Config) New() (*Terrain, error) {
	conf, err := conf.withDefaults()
	if err != nil {
		return nil, err
	}
	geom := voxel.Geometry{Resolution: conf.Resolution, VoxelSize: conf.VoxelSize}

	var cache density.Cache = density.NopCache{}
	if conf.CacheSize > 0 {
		cache = density.NewMemoryCache(conf.CacheSize)
	}
	edits := edit.NewStore(geom, conf.EditProvider, conf.Log)
	gen := density.Config{
		Log:      conf.Log,
		Geometry: geom,
		Oracle:   conf.Oracle,
		Params:   conf.Noise,
		Iso:      conf.IsoLevel,
		Edits:    edits,
		Cache:    cache,
		SeaLevel: conf.SeaLevel,
		SnowLine: conf.SnowLine,
	}.New()
	chunks := store.New()
	sched := stream.Config{
		Log:               conf.Log,
		Store:             chunks,
		Generator:         gen,
		Mesher:            mesh.Mesher{Geometry: geom, Iso: conf.IsoLevel},
		Sink:              conf.Sink,
		Geometry:          geom,
		LoadRadius:        conf.LoadRadius,
		UnloadRadius:      conf.UnloadRadius,
		LODThresholds:     conf.LODThresholds,
		LODLevels:         conf.LODLevels,
		CollisionRadius:   conf.CollisionRadius,
		Workers:           conf.Workers,
		DispatchBudget:    conf.DispatchBudget,
		UnloadBudget:      conf.UnloadBudget,
		MaxRetries:        conf.MaxRetries,
		SkirtTimeout:      conf.SkirtTimeout,
		StrictTransitions: conf.StrictTransitions,
	}.New()

	t := &Terrain{
		conf:      conf,
		geom:      geom,
		store:     chunks,
		gen:       gen,
		edits:     edits,
		sched:     sched,
		maxStride: 1 << (conf.LODLevels - 1),
		radius:    -1,
		queue:     make(chan func(), 64),
	}
	conf.Log.Debug("Terrain created.", "resolution", conf.Resolution, "load_radius", conf.LoadRadius, "unload_radius", conf.UnloadRadius, "lod_levels", conf.LODLevels, "workers", conf.Workers)
	return t, nil
}

func (conf Config) withDefaults() (Config, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Resolution == 0 {
		conf.Resolution = 32
	}
	if conf.VoxelSize == 0 {
		conf.VoxelSize = 1
	}
	if conf.LoadRadius == 0 {
		conf.LoadRadius = 8
	}
	if conf.UnloadRadius == 0 {
		conf.UnloadRadius = conf.LoadRadius + 2
	}
	if conf.LODLevels == 0 {
		conf.LODLevels = len(conf.LODThresholds) + 1
	}
	if conf.CollisionRadius == 0 {
		conf.CollisionRadius = 2
	}
	if conf.Workers <= 0 {
		conf.Workers = runtime.NumCPU()
	}
	if conf.Noise == (noise.Params{}) {
		conf.Noise = noise.DefaultParams()
	}
	if conf.Sink == nil {
		conf.Sink = sink.NopSink{}
	}
	if conf.TickInterval <= 0 {
		conf.TickInterval = time.Second / 20
	}
	if conf.SaveInterval <= 0 {
		conf.SaveInterval = 5 * time.Minute
	}
	conf.LODThresholds = slices.Clone(conf.LODThresholds)
	return conf, conf.validate()
}

func (conf Config) validate() error {
	switch {
	case conf.Resolution < 2 || conf.VoxelSize <= 0:
		return fmt.Errorf("%w: resolution %d and voxel size %v must be positive", ErrInvalidConfig, conf.Resolution, conf.VoxelSize)
	case conf.LoadRadius < 0:
		return fmt.Errorf("%w: load radius %d is negative", ErrInvalidConfig, conf.LoadRadius)
	case conf.UnloadRadius <= conf.LoadRadius:
		return fmt.Errorf("%w: unload radius %d must exceed load radius %d", ErrInvalidConfig, conf.UnloadRadius, conf.LoadRadius)
	case conf.LODLevels < 1 || conf.LODLevels > 8:
		return fmt.Errorf("%w: lod levels must be between 1 and 8, got %d", ErrInvalidConfig, conf.LODLevels)
	case len(conf.LODThresholds) < conf.LODLevels-1:
		return fmt.Errorf("%w: %d lod levels need %d thresholds, got %d", ErrInvalidConfig, conf.LODLevels, conf.LODLevels-1, len(conf.LODThresholds))
	case conf.Resolution%(1<<(conf.LODLevels-1)) != 0:
		return fmt.Errorf("%w: resolution %d is not divisible by %d", ErrInvalidConfig, conf.Resolution, 1<<(conf.LODLevels-1))
	}
	for i, th := range conf.LODThresholds {
		if th <= 0 || (i > 0 && th <= conf.LODThresholds[i-1]) {
			return fmt.Errorf("%w: lod thresholds %v must be positive and strictly increasing", ErrInvalidConfig, conf.LODThresholds)
		}
	}
	if err := conf.Noise.Validate(); err != nil && conf.Oracle == nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
