package voxel

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Geometry describes how the chunk lattice maps onto world space.
type Geometry struct {
	// Resolution is the number of voxels along each edge of a chunk at the
	// finest level of detail.
	Resolution int
	// VoxelSize is the edge length of a single voxel in world units.
	VoxelSize float64
}

// ChunkAt returns the position of the chunk containing the world position.
func (g Geometry) ChunkAt(pos mgl64.Vec3) ChunkPos {
	size := float64(g.Resolution) * g.VoxelSize
	return ChunkPos{
		int32(math.Floor(pos[0] / size)),
		int32(math.Floor(pos[1] / size)),
		int32(math.Floor(pos[2] / size)),
	}
}

// ChunkOf returns the position of the chunk owning the voxel coordinate.
// Samples on a chunk boundary belong to the chunk on the positive side.
func (g Geometry) ChunkOf(c Coord) ChunkPos {
	r := int64(g.Resolution)
	return ChunkPos{int32(FloorDiv(c[0], r)), int32(FloorDiv(c[1], r)), int32(FloorDiv(c[2], r))}
}

// Base returns the voxel coordinate of the minimum corner of a chunk.
func (g Geometry) Base(pos ChunkPos) Coord {
	r := int64(g.Resolution)
	return Coord{int64(pos[0]) * r, int64(pos[1]) * r, int64(pos[2]) * r}
}

// Origin returns the world position of the minimum corner of a chunk.
func (g Geometry) Origin(pos ChunkPos) mgl64.Vec3 {
	return g.Base(pos).Vec3(g.VoxelSize)
}

// Centre returns the world position of the centre of a chunk.
func (g Geometry) Centre(pos ChunkPos) mgl64.Vec3 {
	half := float64(g.Resolution) * g.VoxelSize / 2
	return g.Origin(pos).Add(mgl64.Vec3{half, half, half})
}

// Cells returns the number of cells along a chunk edge at a level of detail.
func (g Geometry) Cells(lod int) int { return g.Resolution >> lod }

// Touching returns the inclusive range of chunks whose grid or skirts may
// contain a sample at c, given the largest sample stride in use.
func (g Geometry) Touching(c Coord, stride int) (lo, hi ChunkPos) {
	r, s := int64(g.Resolution), int64(stride)
	for i := range 3 {
		lo[i] = int32(CeilDiv(c[i]-r-s, r))
		hi[i] = int32(FloorDiv(c[i]+s, r))
	}
	return lo, hi
}
