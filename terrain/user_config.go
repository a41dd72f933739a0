package terrain

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dm-vev/voxelterrain/terrain/edit/editdb"
	"github.com/dm-vev/voxelterrain/terrain/noise"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/pelletier/go-toml"
)

// UserConfig is the user configuration of a Terrain. It may be serialised
// to TOML and converted to a Config by calling UserConfig.Config().
type UserConfig struct {
	Terrain struct {
		// Resolution is the number of voxels along a chunk edge.
		Resolution int
		// VoxelSize is the edge length of a voxel in world units.
		VoxelSize float64
		// IsoLevel is the density at which the surface lies.
		IsoLevel float64
		// LODLevels is the number of levels of detail and LODThresholds the
		// chunk distances at which each coarser level starts.
		LODLevels     int
		LODThresholds []int
		// CacheSize is the number of generated grids kept in memory.
		CacheSize int
		// SeaLevel and SnowLine are the world heights below which sand and
		// above which snow covers the surface.
		SeaLevel, SnowLine float64
	}
	Streaming struct {
		// LoadRadius and UnloadRadius are the radii, in chunks, within which
		// chunks are loaded and beyond which they are released.
		LoadRadius, UnloadRadius int
		// CollisionRadius is the radius within which chunks get collision.
		CollisionRadius int
		// Workers is the number of goroutines generating and meshing chunks.
		// Set to 0 to derive it from the number of CPUs.
		Workers int
		// DispatchBudget and UnloadBudget limit the work started and the
		// chunks released per tick.
		DispatchBudget, UnloadBudget int
		MaxRetries                   int
		SkirtTimeout                 int
		// TicksPerSecond is the rate at which the terrain is ticked.
		TicksPerSecond int
	}
	Noise struct {
		Seed int64
		// Preset is one of "flat", "forest", "plains", "hills", "mountains"
		// and "blended".
		Preset                                  string
		TerrainScale, BiomeScale                float64
		Amplitude, HeightMultiplier, BaseHeight float64
		CaveScale, CaveThreshold, CaveStrength  float64
		Octaves                                 int
		Persistence, Lacunarity                 float64
	}
	Edits struct {
		// SaveData controls whether voxel edits are saved and loaded. If
		// true, edits are stored in a LevelDB database in Folder.
		SaveData bool
		Folder   string
		// AutosaveSeconds is the interval at which edits are saved.
		AutosaveSeconds int
	}
	Viewer struct {
		// Start is the world position the viewer starts at and Velocity the
		// distance it moves every tick.
		Start, Velocity []float64
	}
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Terrain.Resolution = 32
	c.Terrain.VoxelSize = 1
	c.Terrain.LODLevels = 3
	c.Terrain.LODThresholds = []int{4, 8}
	c.Terrain.CacheSize = 512
	c.Terrain.SeaLevel = 0
	c.Terrain.SnowLine = 48
	c.Streaming.LoadRadius = 8
	c.Streaming.UnloadRadius = 10
	c.Streaming.CollisionRadius = 2
	c.Streaming.DispatchBudget = 32
	c.Streaming.UnloadBudget = 150
	c.Streaming.MaxRetries = 3
	c.Streaming.SkirtTimeout = 8
	c.Streaming.TicksPerSecond = 20

	p := noise.DefaultParams()
	c.Noise.Seed = p.Seed
	c.Noise.Preset = p.Preset.String()
	c.Noise.TerrainScale, c.Noise.BiomeScale = p.TerrainScale, p.BiomeScale
	c.Noise.Amplitude, c.Noise.HeightMultiplier, c.Noise.BaseHeight = p.Amplitude, p.HeightMultiplier, p.BaseHeight
	c.Noise.CaveScale, c.Noise.CaveThreshold, c.Noise.CaveStrength = p.CaveScale, p.CaveThreshold, p.CaveStrength
	c.Noise.Octaves = p.Octaves
	c.Noise.Persistence, c.Noise.Lacunarity = p.Persistence, p.Lacunarity

	c.Edits.SaveData = true
	c.Edits.Folder = "edits"
	c.Edits.AutosaveSeconds = 300
	c.Viewer.Start = []float64{0, 40, 0}
	c.Viewer.Velocity = []float64{0.5, 0, 0.25}
	return c
}

// LoadUserConfig reads the UserConfig stored in the TOML file at path. If
// the file does not exist yet, it is created with the default configuration.
// Fields missing from the file keep their default values.
func LoadUserConfig(path string) (UserConfig, error) {
	if strings.TrimSpace(path) == "" {
		return UserConfig{}, errors.New("config path must not be empty")
	}
	c := DefaultConfig()
	contents, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return c, c.write(path)
	} else if err != nil {
		return c, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(contents, &c); err != nil {
		return c, fmt.Errorf("decode config: %w", err)
	}
	return c, nil
}

func (uc UserConfig) write(path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	encoded, err := toml.Marshal(uc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Params returns the noise parameters of the configuration.
func (uc UserConfig) Params() (noise.Params, error) {
	preset, err := noise.ParsePreset(uc.Noise.Preset)
	if err != nil {
		return noise.Params{}, err
	}
	return noise.Params{
		Seed:             uc.Noise.Seed,
		Preset:           preset,
		TerrainScale:     uc.Noise.TerrainScale,
		BiomeScale:       uc.Noise.BiomeScale,
		Amplitude:        uc.Noise.Amplitude,
		HeightMultiplier: uc.Noise.HeightMultiplier,
		BaseHeight:       uc.Noise.BaseHeight,
		CaveScale:        uc.Noise.CaveScale,
		CaveThreshold:    uc.Noise.CaveThreshold,
		CaveStrength:     uc.Noise.CaveStrength,
		Octaves:          uc.Noise.Octaves,
		Persistence:      uc.Noise.Persistence,
		Lacunarity:       uc.Noise.Lacunarity,
	}, nil
}

// ViewerStart returns the configured start position of the viewer.
func (uc UserConfig) ViewerStart() mgl64.Vec3 { return vec3(uc.Viewer.Start) }

// ViewerVelocity returns the configured per tick movement of the viewer.
func (uc UserConfig) ViewerVelocity() mgl64.Vec3 { return vec3(uc.Viewer.Velocity) }

func vec3(s []float64) (v mgl64.Vec3) {
	copy(v[:], s)
	return v
}

// Config converts a UserConfig to a Config, so that it may be used for
// creating a Terrain. An error is returned if the noise preset is unknown or
// the edit database could not be opened.
func (uc UserConfig) Config(log *slog.Logger) (Config, error) {
	params, err := uc.Params()
	if err != nil {
		return Config{}, fmt.Errorf("noise params: %w", err)
	}
	conf := Config{
		Log:             log,
		Resolution:      uc.Terrain.Resolution,
		VoxelSize:       uc.Terrain.VoxelSize,
		IsoLevel:        float32(uc.Terrain.IsoLevel),
		LODLevels:       uc.Terrain.LODLevels,
		LODThresholds:   uc.Terrain.LODThresholds,
		CacheSize:       uc.Terrain.CacheSize,
		SeaLevel:        uc.Terrain.SeaLevel,
		SnowLine:        uc.Terrain.SnowLine,
		LoadRadius:      uc.Streaming.LoadRadius,
		UnloadRadius:    uc.Streaming.UnloadRadius,
		CollisionRadius: uc.Streaming.CollisionRadius,
		Workers:         uc.Streaming.Workers,
		DispatchBudget:  uc.Streaming.DispatchBudget,
		UnloadBudget:    uc.Streaming.UnloadBudget,
		MaxRetries:      uc.Streaming.MaxRetries,
		SkirtTimeout:    uc.Streaming.SkirtTimeout,
		Noise:           params,
	}
	if uc.Streaming.TicksPerSecond > 0 {
		conf.TickInterval = time.Second / time.Duration(uc.Streaming.TicksPerSecond)
	}
	if uc.Edits.AutosaveSeconds > 0 {
		conf.SaveInterval = time.Duration(uc.Edits.AutosaveSeconds) * time.Second
	}
	if uc.Edits.SaveData {
		// Validate before opening the database.
		if _, err := conf.withDefaults(); err != nil {
			return conf, err
		}
		geom := voxel.Geometry{Resolution: uc.Terrain.Resolution, VoxelSize: uc.Terrain.VoxelSize}
		conf.EditProvider, err = editdb.Config{Log: log, Geometry: geom}.Open(uc.Edits.Folder)
		if err != nil {
			return conf, fmt.Errorf("create edit provider: %w", err)
		}
	}
	return conf, nil
}
