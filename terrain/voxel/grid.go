package voxel

import (
	"encoding/binary"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Grid is a cube of density samples making up a chunk at a single level of
// detail. A grid with N cells along an edge holds N+1 samples per axis: the
// last sample on a positive face lies on the same plane as the first sample of
// the neighbouring chunk.
//
// A Grid is immutable once filled and may be shared between goroutines.
type Grid struct {
	Pos ChunkPos
	LOD int
	// Cells is the number of cells along an edge. Stride is the distance
	// between two samples in finest voxel units.
	Cells, Stride int
	// Base is the voxel coordinate of sample (0, 0, 0).
	Base Coord

	Density  []float32
	Material []Material
}

// NewGrid allocates an empty grid for the chunk at pos at the level of detail
// passed.
func NewGrid(g Geometry, pos ChunkPos, lod int) *Grid {
	cells := g.Cells(lod)
	n := (cells + 1) * (cells + 1) * (cells + 1)
	return &Grid{
		Pos:      pos,
		LOD:      lod,
		Cells:    cells,
		Stride:   1 << lod,
		Base:     g.Base(pos),
		Density:  make([]float32, n),
		Material: make([]Material, n),
	}
}

// Size returns the number of samples along an edge.
func (g *Grid) Size() int { return g.Cells + 1 }

// Index returns the offset of sample (x, y, z) in Density and Material.
func (g *Grid) Index(x, y, z int) int {
	s := g.Cells + 1
	return x + s*(z+s*y)
}

// At returns the density at sample (x, y, z).
func (g *Grid) At(x, y, z int) float32 {
	return g.Density[g.Index(x, y, z)]
}

// Coord returns the world voxel coordinate of sample (x, y, z). Indices may
// lie outside the grid.
func (g *Grid) Coord(x, y, z int) Coord {
	s := int64(g.Stride)
	return Coord{g.Base[0] + int64(x)*s, g.Base[1] + int64(y)*s, g.Base[2] + int64(z)*s}
}

// Sample returns the sample index of the world coordinate c and whether c
// lies on the lattice of the grid.
func (g *Grid) Sample(c Coord) (x, y, z int, ok bool) {
	var idx [3]int
	s := int64(g.Stride)
	for i := range 3 {
		d := c[i] - g.Base[i]
		if d < 0 || d%s != 0 || d/s > int64(g.Cells) {
			return 0, 0, 0, false
		}
		idx[i] = int(d / s)
	}
	return idx[0], idx[1], idx[2], true
}

// Clone returns a deep copy of the grid.
func (g *Grid) Clone() *Grid {
	c := *g
	c.Density = append([]float32(nil), g.Density...)
	c.Material = append([]Material(nil), g.Material...)
	return &c
}

// Digest returns a hash over the position, level of detail and all samples of
// the grid. Two grids with equal digests are bit-identical in practice.
func (g *Grid) Digest() uint64 {
	h := xxhash.New()
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(g.Pos[0]))
	binary.LittleEndian.PutUint32(buf[4:], uint32(g.Pos[1]))
	binary.LittleEndian.PutUint32(buf[8:], uint32(g.Pos[2]))
	binary.LittleEndian.PutUint32(buf[12:], uint32(g.LOD))
	_, _ = h.Write(buf[:])
	for i, d := range g.Density {
		binary.LittleEndian.PutUint32(buf[0:], math.Float32bits(d))
		buf[4] = byte(g.Material[i])
		_, _ = h.Write(buf[:5])
	}
	return h.Sum64()
}
