package mesh

import (
	"github.com/dm-vev/voxelterrain/terrain/voxel"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

// Vertex is a single vertex of a chunk mesh. Position is relative to the
// origin of the chunk, in world units.
type Vertex struct {
	Position mgl32.Vec3
	Normal   mgl32.Vec3
	Material voxel.Material
}

// Buffer holds the triangle mesh extracted from one chunk at one level of
// detail. Every three indices form a triangle, wound counter-clockwise when
// seen from outside the terrain.
type Buffer struct {
	Pos voxel.ChunkPos
	LOD int
	// Origin is the world position vertex positions are relative to.
	Origin mgl64.Vec3
	// NeighbourLOD holds, per voxel.Face, the level of detail the face was
	// meshed against. It is never below LOD; a face above LOD was flattened.
	NeighbourLOD [6]int

	Vertices []Vertex
	Indices  []uint32
}

// Empty reports if the buffer holds no triangles, which is the case for
// chunks fully inside or outside the terrain.
func (b *Buffer) Empty() bool { return len(b.Indices) == 0 }

// Triangles returns the number of triangles in the buffer.
func (b *Buffer) Triangles() int { return len(b.Indices) / 3 }

// World returns the world position of vertex i.
func (b *Buffer) World(i int) mgl64.Vec3 {
	p := b.Vertices[i].Position
	return b.Origin.Add(mgl64.Vec3{float64(p[0]), float64(p[1]), float64(p[2])})
}
