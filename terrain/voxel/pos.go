package voxel

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"golang.org/x/exp/constraints"
)

// ChunkPos holds the position of a chunk on the chunk lattice. The type is
// provided as a utility struct for keeping track of a chunk's position. Chunks
// do not themselves keep track of that.
type ChunkPos [3]int32

// X returns the X coordinate of the chunk position.
func (p ChunkPos) X() int32 { return p[0] }

// Y returns the Y coordinate of the chunk position.
func (p ChunkPos) Y() int32 { return p[1] }

// Z returns the Z coordinate of the chunk position.
func (p ChunkPos) Z() int32 { return p[2] }

// String implements fmt.Stringer and returns (x, y, z).
func (p ChunkPos) String() string {
	return fmt.Sprintf("(%v, %v, %v)", p[0], p[1], p[2])
}

// Add returns the chunk position offset by o.
func (p ChunkPos) Add(o ChunkPos) ChunkPos {
	return ChunkPos{p[0] + o[0], p[1] + o[1], p[2] + o[2]}
}

// Side returns the position of the chunk adjacent to p on face f.
func (p ChunkPos) Side(f Face) ChunkPos {
	return p.Add(f.Offset())
}

// Chebyshev returns the Chebyshev distance between two chunk positions, which
// is the largest absolute difference over the three axes.
func (p ChunkPos) Chebyshev(o ChunkPos) int {
	d := 0
	for i := range 3 {
		v := int(p[i]) - int(o[i])
		if v < 0 {
			v = -v
		}
		d = max(d, v)
	}
	return d
}

// Coord is the integer position of a single voxel sample in the world, in
// voxel units at the finest level of detail.
type Coord [3]int64

// String implements fmt.Stringer.
func (c Coord) String() string {
	return fmt.Sprintf("(%v, %v, %v)", c[0], c[1], c[2])
}

// Vec3 converts the coordinate to a world space position using the voxel
// size passed.
func (c Coord) Vec3(size float64) mgl64.Vec3 {
	return mgl64.Vec3{float64(c[0]) * size, float64(c[1]) * size, float64(c[2]) * size}
}

// CoordAt returns the coordinate of the voxel sample closest to the world
// position passed.
func CoordAt(pos mgl64.Vec3, size float64) Coord {
	return Coord{
		int64(math.Round(pos[0] / size)),
		int64(math.Round(pos[1] / size)),
		int64(math.Round(pos[2] / size)),
	}
}

// FloorDiv divides a by b, rounding towards negative infinity. b must be
// positive.
func FloorDiv[T constraints.Signed](a, b T) T {
	q := a / b
	if (a%b != 0) && (a < 0) {
		q--
	}
	return q
}

// CeilDiv divides a by b, rounding towards positive infinity. b must be
// positive.
func CeilDiv[T constraints.Signed](a, b T) T {
	return -FloorDiv(-a, b)
}
