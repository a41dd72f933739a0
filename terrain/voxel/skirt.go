package voxel

// Skirt is a plane of density samples lying one stride outside of a face of
// a grid. It is used to compute gradients of samples on the face.
type Skirt struct {
	Face Face
	LOD  int
	// Size is the number of samples along each edge of the plane.
	Size    int
	Density []float32
}

// NewSkirt allocates an empty skirt for the face of a grid with the number of
// cells passed.
func NewSkirt(face Face, lod, cells int) *Skirt {
	return &Skirt{Face: face, LOD: lod, Size: cells + 1, Density: make([]float32, (cells+1)*(cells+1))}
}

// At returns the sample at plane position (u, v). The plane axes are those
// returned by Face.Plane.
func (s *Skirt) At(u, v int) float32 {
	return s.Density[u+s.Size*v]
}

// Set sets the sample at plane position (u, v).
func (s *Skirt) Set(u, v int, d float32) {
	s.Density[u+s.Size*v] = d
}

// SkirtCoord returns the world voxel coordinate of skirt sample (u, v) of the
// face of g.
func (g *Grid) SkirtCoord(face Face, u, v int) Coord {
	var idx [3]int
	a := face.Axis()
	ua, va := face.Plane()
	if face.Positive() {
		idx[a] = g.Cells + 1
	} else {
		idx[a] = -1
	}
	idx[ua], idx[va] = u, v
	return g.Coord(idx[0], idx[1], idx[2])
}

// SkirtFrom copies the skirt of g on face out of the grid n of the
// neighbouring chunk on that face. It returns false if n is coarser than g,
// since n then does not hold every sample the skirt needs.
func (g *Grid) SkirtFrom(face Face, n *Grid) (*Skirt, bool) {
	if n == nil || n.Stride > g.Stride || g.Stride%n.Stride != 0 {
		return nil, false
	}
	k := g.Stride / n.Stride
	s := NewSkirt(face, g.LOD, g.Cells)
	a := face.Axis()
	ua, va := face.Plane()

	var idx [3]int
	if face.Positive() {
		idx[a] = k
	} else {
		idx[a] = n.Cells - k
	}
	for v := 0; v < s.Size; v++ {
		for u := 0; u < s.Size; u++ {
			idx[ua], idx[va] = u*k, v*k
			s.Set(u, v, n.At(idx[0], idx[1], idx[2]))
		}
	}
	return s, true
}
