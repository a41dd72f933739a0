// Package density fills chunk grids by sampling a noise.Oracle.
package density

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/dm-vev/voxelterrain/terrain/edit"
	"github.com/dm-vev/voxelterrain/terrain/noise"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
)

// ErrOracleUnavailable is returned when the oracle fails to produce a sample
// or is misconfigured. Generation may be retried later.
var ErrOracleUnavailable = errors.New("density: noise oracle unavailable")

// Edits is the source of edits applied on top of sampled grids. It is
// implemented by *edit.Store.
type Edits interface {
	Within(lo, hi voxel.Coord, f func(c voxel.Coord, e edit.Edit)) error
	// Version changes every time an edit is made.
	Version() uint64
}

// Config holds the settings of a Generator.
type Config struct {
	// Log is used for logging. If nil, slog.Default() is used.
	Log      *slog.Logger
	Geometry voxel.Geometry
	// Oracle is sampled for every grid sample. If nil, noise.Terrain is used.
	Oracle noise.Oracle
	Params noise.Params
	// Iso is the density at which the surface lies. Samples above it are
	// solid and receive a material.
	Iso float32
	// Edits are applied over the sampled field. May be nil.
	Edits Edits
	// Cache holds generated grids. If nil, grids are not cached.
	Cache Cache
	// SeaLevel and SnowLine are world heights used to pick materials.
	SeaLevel, SnowLine float64
}

// Generator fills density grids for chunks. It is safe for concurrent use as
// long as the Oracle is.
type Generator struct {
	conf        Config
	fingerprint uint64
}

// New creates a Generator using the Config.
func (conf Config) New() *Generator {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Oracle == nil {
		conf.Oracle = noise.Terrain{}
	}
	if conf.Cache == nil {
		conf.Cache = NopCache{}
	}
	return &Generator{conf: conf, fingerprint: conf.Params.Fingerprint()}
}

// Generate returns the filled grid of the chunk at pos at the level of detail
// passed, from the cache if possible. The grid returned must not be modified.
func (g *Generator) Generate(pos voxel.ChunkPos, lod int) (*voxel.Grid, error) {
	key := CacheKey{Pos: pos, LOD: lod, Fingerprint: g.fingerprint}
	if grid, ok := g.conf.Cache.Get(key); ok {
		return grid, nil
	}
	var version uint64
	if g.conf.Edits != nil {
		version = g.conf.Edits.Version()
	}
	grid := voxel.NewGrid(g.conf.Geometry, pos, lod)
	if err := g.Fill(grid); err != nil {
		return nil, err
	}
	// A grid filled while an edit was made may miss it and is not cached.
	if g.conf.Edits == nil || g.conf.Edits.Version() == version {
		g.conf.Cache.Put(key, grid)
	}
	return grid, nil
}

// Invalidate drops cached grids of the chunk at pos, for example after an
// edit changed it.
func (g *Generator) Invalidate(pos voxel.ChunkPos) {
	g.conf.Cache.Invalidate(pos)
}

// Fill samples every sample of the grid passed and applies edits. Filling the
// same grid twice with the same parameters and edits produces bit-identical
// results.
func (g *Generator) Fill(grid *voxel.Grid) error {
	s := grid.Size()
	for y := 0; y < s; y++ {
		for z := 0; z < s; z++ {
			for x := 0; x < s; x++ {
				c := grid.Coord(x, y, z)
				d, err := g.sample(c)
				if err != nil {
					return fmt.Errorf("fill chunk %v: %w", grid.Pos, err)
				}
				i := grid.Index(x, y, z)
				grid.Density[i] = d
				grid.Material[i] = g.material(d, c)
			}
		}
	}
	if g.conf.Edits == nil {
		return nil
	}
	lo, hi := grid.Coord(0, 0, 0), grid.Coord(grid.Cells, grid.Cells, grid.Cells)
	err := g.conf.Edits.Within(lo, hi, func(c voxel.Coord, e edit.Edit) {
		if x, y, z, ok := grid.Sample(c); ok {
			i := grid.Index(x, y, z)
			grid.Density[i], grid.Material[i] = e.Density, g.editMaterial(e)
		}
	})
	if err != nil {
		return fmt.Errorf("fill chunk %v: %w", grid.Pos, err)
	}
	return nil
}

// Skirt samples the skirt of the grid of the chunk at pos on face directly
// from the oracle. It is used when no neighbouring grid can provide it.
func (g *Generator) Skirt(pos voxel.ChunkPos, lod int, face voxel.Face) (*voxel.Skirt, error) {
	ref := &voxel.Grid{Pos: pos, LOD: lod, Cells: g.conf.Geometry.Cells(lod), Stride: 1 << lod, Base: g.conf.Geometry.Base(pos)}
	s := voxel.NewSkirt(face, lod, ref.Cells)
	var lo, hi voxel.Coord
	for v := 0; v < s.Size; v++ {
		for u := 0; u < s.Size; u++ {
			c := ref.SkirtCoord(face, u, v)
			d, err := g.sample(c)
			if err != nil {
				return nil, fmt.Errorf("sample %v skirt of chunk %v: %w", face, pos, err)
			}
			s.Set(u, v, d)
			if u == 0 && v == 0 {
				lo = c
			}
			hi = c
		}
	}
	if g.conf.Edits == nil {
		return s, nil
	}
	a := face.Axis()
	ua, va := face.Plane()
	err := g.conf.Edits.Within(lo, hi, func(c voxel.Coord, e edit.Edit) {
		du, dv := c[ua]-lo[ua], c[va]-lo[va]
		if c[a] != lo[a] || du%int64(ref.Stride) != 0 || dv%int64(ref.Stride) != 0 {
			return
		}
		s.Set(int(du)/ref.Stride, int(dv)/ref.Stride, e.Density)
	})
	if err != nil {
		return nil, fmt.Errorf("sample %v skirt of chunk %v: %w", face, pos, err)
	}
	return s, nil
}

// Sample returns the density and material at a single voxel coordinate, with
// edits applied.
func (g *Generator) Sample(c voxel.Coord) (float32, voxel.Material, error) {
	if g.conf.Edits != nil {
		var (
			found bool
			e     edit.Edit
		)
		if err := g.conf.Edits.Within(c, c, func(_ voxel.Coord, ed edit.Edit) { e, found = ed, true }); err != nil {
			return 0, voxel.Air, err
		}
		if found {
			return e.Density, g.editMaterial(e), nil
		}
	}
	d, err := g.sample(c)
	if err != nil {
		return 0, voxel.Air, err
	}
	return d, g.material(d, c), nil
}

func (g *Generator) sample(c voxel.Coord) (float32, error) {
	v, err := g.conf.Oracle.Sample(c.Vec3(g.conf.Geometry.VoxelSize), g.conf.Params)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}
	return float32(v), nil
}

// material picks the material of a sample from its depth below the surface,
// approximated by its density, and its height.
func (g *Generator) material(d float32, c voxel.Coord) voxel.Material {
	if d <= g.conf.Iso {
		return voxel.Air
	}
	depth := float64(d - g.conf.Iso)
	y := float64(c[1]) * g.conf.Geometry.VoxelSize
	switch {
	case depth < 1.5 && y > g.conf.SnowLine:
		return voxel.Snow
	case depth < 1.5 && y < g.conf.SeaLevel+2:
		return voxel.Sand
	case depth < 1.5:
		return voxel.Grass
	case depth < 4:
		return voxel.Dirt
	}
	return voxel.Stone
}

// editMaterial keeps solid edits from turning into air and the other way
// around.
func (g *Generator) editMaterial(e edit.Edit) voxel.Material {
	switch {
	case e.Density <= g.conf.Iso:
		return voxel.Air
	case e.Material == voxel.Air:
		return voxel.Stone
	}
	return e.Material
}
