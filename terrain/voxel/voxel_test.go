package voxel

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"
)

func fillFunc(g *Grid, f func(c Coord) float32) {
	for y := 0; y < g.Size(); y++ {
		for z := 0; z < g.Size(); z++ {
			for x := 0; x < g.Size(); x++ {
				g.Density[g.Index(x, y, z)] = f(g.Coord(x, y, z))
			}
		}
	}
}

func field(c Coord) float32 {
	return float32(c[0]*7 + c[1]*131 - c[2]*17)
}

func TestFloorDiv(t *testing.T) {
	cases := []struct{ a, b, want int64 }{
		{0, 16, 0}, {15, 16, 0}, {16, 16, 1}, {-1, 16, -1}, {-16, 16, -1}, {-17, 16, -2},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.want {
			t.Fatalf("FloorDiv(%v, %v) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
	if got := CeilDiv(int64(-17), 16); got != -1 {
		t.Fatalf("CeilDiv(-17, 16) = %v, want -1", got)
	}
}

func TestChunkAtNegative(t *testing.T) {
	g := Geometry{Resolution: 16, VoxelSize: 0.5}
	if got := g.ChunkAt(mgl64.Vec3{-0.1, 7.9, 8}); got != (ChunkPos{-1, 0, 1}) {
		t.Fatalf("unexpected chunk %v", got)
	}
	if got := g.ChunkOf(Coord{-1, 15, 16}); got != (ChunkPos{-1, 0, 1}) {
		t.Fatalf("unexpected chunk %v", got)
	}
}

func TestFaces(t *testing.T) {
	for _, f := range Faces() {
		if f.Opposite().Opposite() != f || f.Opposite().Axis() != f.Axis() {
			t.Fatalf("face %v has inconsistent opposite", f)
		}
		off := f.Offset()
		if off.Add(f.Opposite().Offset()) != (ChunkPos{}) {
			t.Fatalf("offsets of %v and its opposite do not cancel", f)
		}
	}
	if (ChunkPos{3, -2, 0}).Chebyshev(ChunkPos{-1, 0, 1}) != 4 {
		t.Fatalf("unexpected Chebyshev distance")
	}
}

func TestSkirtFromNeighbour(t *testing.T) {
	geom := Geometry{Resolution: 16, VoxelSize: 1}
	for _, lods := range [][2]int{{0, 0}, {1, 0}, {2, 1}} {
		g := NewGrid(geom, ChunkPos{0, 0, 0}, lods[0])
		for _, f := range Faces() {
			n := NewGrid(geom, g.Pos.Side(f), lods[1])
			fillFunc(n, field)
			s, ok := g.SkirtFrom(f, n)
			if !ok {
				t.Fatalf("skirt on %v rejected for lods %v", f, lods)
			}
			for v := 0; v < s.Size; v++ {
				for u := 0; u < s.Size; u++ {
					if want := field(g.SkirtCoord(f, u, v)); s.At(u, v) != want {
						t.Fatalf("skirt %v (%v, %v) at lods %v = %v, want %v", f, u, v, lods, s.At(u, v), want)
					}
				}
			}
		}
	}
}

func TestSkirtFromCoarserRejected(t *testing.T) {
	geom := Geometry{Resolution: 16, VoxelSize: 1}
	g := NewGrid(geom, ChunkPos{}, 0)
	n := NewGrid(geom, ChunkPos{1, 0, 0}, 1)
	if _, ok := g.SkirtFrom(FaceEast, n); ok {
		t.Fatalf("expected skirt from coarser neighbour to be rejected")
	}
}

func TestGridSampleAndDigest(t *testing.T) {
	geom := Geometry{Resolution: 16, VoxelSize: 1}
	g := NewGrid(geom, ChunkPos{1, -1, 0}, 1)
	if x, y, z, ok := g.Sample(Coord{20, -8, 16}); !ok || x != 2 || y != 4 || z != 8 {
		t.Fatalf("unexpected sample (%v, %v, %v, %v)", x, y, z, ok)
	}
	if _, _, _, ok := g.Sample(Coord{21, -8, 16}); ok {
		t.Fatalf("odd coordinate should not be on the lattice of a LOD 1 grid")
	}
	fillFunc(g, field)
	c := g.Clone()
	if c.Digest() != g.Digest() {
		t.Fatalf("clone digest differs")
	}
	c.Density[5]++
	if c.Digest() == g.Digest() {
		t.Fatalf("digest did not change after mutation")
	}
}

func TestTouching(t *testing.T) {
	geom := Geometry{Resolution: 16, VoxelSize: 1}
	lo, hi := geom.Touching(Coord{16, 5, 0}, 1)
	if lo != (ChunkPos{0, 0, -1}) || hi != (ChunkPos{1, 0, 0}) {
		t.Fatalf("unexpected range %v..%v", lo, hi)
	}
}
