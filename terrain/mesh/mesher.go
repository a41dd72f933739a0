// Package mesh extracts triangle meshes from chunk density grids.
package mesh

import (
	"errors"
	"fmt"
	"slices"

	"github.com/brentp/intintmap"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/go-gl/mathgl/mgl64"
)

// ErrDeferred is returned by Extract when a skirt needed to mesh the chunk is
// not available yet. It is not a failure: the chunk should be meshed again
// once its neighbours are generated.
var ErrDeferred = errors.New("mesh: neighbour skirt not available")

// Mesher extracts iso-surfaces from density grids using marching tetrahedra.
// Every cell is split into the six tetrahedra around its diagonal from the
// minimum to the maximum corner, so that all cells and chunks split their
// shared faces the same way. Samples with a density above Iso are inside the
// terrain; samples equal to Iso count as outside.
//
// A Mesher holds no state and may be used from multiple goroutines.
type Mesher struct {
	Geometry voxel.Geometry
	Iso      float32
}

// Extract builds the mesh of grid g. skirts holds the samples just outside of
// each face of g, indexed by voxel.Face. neighbourLOD holds the level of
// detail of the chunk on each face; faces towards a coarser chunk are
// flattened onto the coarser lattice, so that the finer chunk carries the
// transition and no crack opens between the two. Values at or below g.LOD
// leave a face as is.
//
// Extract returns ErrDeferred if any skirt is nil. g is not modified.
func (m Mesher) Extract(g *voxel.Grid, skirts [6]*voxel.Skirt, neighbourLOD [6]int) (*Buffer, error) {
	for f, s := range skirts {
		if s == nil {
			return nil, fmt.Errorf("%w: %v face of chunk %v", ErrDeferred, voxel.Face(f), g.Pos)
		}
		if s.Size != g.Size() {
			return nil, fmt.Errorf("mesh: %v skirt of chunk %v has %d samples per edge, want %d", voxel.Face(f), g.Pos, s.Size, g.Size())
		}
	}
	e := newExtractor(m, g, skirts)
	e.applyTransitions(neighbourLOD)
	e.run()
	for f, lod := range neighbourLOD {
		e.buf.NeighbourLOD[f] = max(lod, g.LOD)
	}
	return e.buf, nil
}

// kuhn holds the six tetrahedra of a cell as corner indices. Bit 0 of a
// corner index is its X offset, bit 1 its Y offset and bit 2 its Z offset.
var kuhn = [6][4]int{
	{0, 1, 3, 7},
	{0, 1, 5, 7},
	{0, 2, 3, 7},
	{0, 2, 6, 7},
	{0, 4, 5, 7},
	{0, 4, 6, 7},
}

type extractor struct {
	g      *voxel.Grid
	skirts [6]*voxel.Skirt
	iso    float32
	step   float64

	density []float32
	normals []mgl64.Vec3
	hasNorm []bool

	edges *intintmap.Map
	buf   *Buffer
}

func newExtractor(m Mesher, g *voxel.Grid, skirts [6]*voxel.Skirt) *extractor {
	n := len(g.Density)
	return &extractor{
		g:       g,
		skirts:  skirts,
		iso:     m.Iso,
		step:    float64(g.Stride) * m.Geometry.VoxelSize,
		density: slices.Clone(g.Density),
		normals: make([]mgl64.Vec3, n),
		hasNorm: make([]bool, n),
		edges:   intintmap.New(g.Cells*g.Cells*8, 0.6),
		buf: &Buffer{
			Pos:    g.Pos,
			LOD:    g.LOD,
			Origin: m.Geometry.Origin(g.Pos),
		},
	}
}

// applyTransitions replaces the samples on every face towards a coarser
// neighbour with the linear interpolation of the coarser lattice over the
// triangles the coarser chunk splits its face into. The coarsest neighbour is
// applied last, so that it decides the samples on edges shared by two faces.
func (e *extractor) applyTransitions(neighbourLOD [6]int) {
	faces := make([]voxel.Face, 0, 6)
	for _, f := range voxel.Faces() {
		if neighbourLOD[f] > e.g.LOD {
			faces = append(faces, f)
		}
	}
	slices.SortStableFunc(faces, func(a, b voxel.Face) int {
		return neighbourLOD[a] - neighbourLOD[b]
	})
	for _, f := range faces {
		k := 1 << (neighbourLOD[f] - e.g.LOD)
		if k > e.g.Cells || e.g.Cells%k != 0 {
			continue
		}
		e.flattenFace(f, k)
	}
}

func (e *extractor) flattenFace(f voxel.Face, k int) {
	var idx [3]int
	a := f.Axis()
	ua, va := f.Plane()
	if f.Positive() {
		idx[a] = e.g.Cells
	}
	at := func(u, v int) float64 {
		idx[ua], idx[va] = u, v
		return float64(e.density[e.g.Index(idx[0], idx[1], idx[2])])
	}
	cells := e.g.Cells
	out := make([]float32, (cells+1)*(cells+1))
	for v := 0; v <= cells; v++ {
		for u := 0; u <= cells; u++ {
			u0, v0 := min(u/k*k, cells-k), min(v/k*k, cells-k)
			du, dv := float64(u-u0), float64(v-v0)
			c00, c11 := at(u0, v0), at(u0+k, v0+k)
			var d float64
			if du >= dv {
				c10 := at(u0+k, v0)
				d = c00 + (c10-c00)*(du-dv)/float64(k) + (c11-c00)*dv/float64(k)
			} else {
				c01 := at(u0, v0+k)
				d = c00 + (c01-c00)*(dv-du)/float64(k) + (c11-c00)*du/float64(k)
			}
			out[u+(cells+1)*v] = float32(d)
		}
	}
	for v := 0; v <= cells; v++ {
		for u := 0; u <= cells; u++ {
			idx[ua], idx[va] = u, v
			e.density[e.g.Index(idx[0], idx[1], idx[2])] = out[u+(cells+1)*v]
		}
	}
}

func (e *extractor) run() {
	cells := e.g.Cells
	var (
		corner [8][3]int
		tri    [3]int
	)
	for y := 0; y < cells; y++ {
		for z := 0; z < cells; z++ {
			for x := 0; x < cells; x++ {
				for c := range 8 {
					corner[c] = [3]int{x + c&1, y + (c>>1)&1, z + (c>>2)&1}
				}
				for _, tet := range kuhn {
					var in [4]bool
					n := 0
					for i, c := range tet {
						if e.inside(corner[c]) {
							in[i] = true
							n++
						}
					}
					switch n {
					case 1, 3:
						lone := 0
						for i := range 4 {
							if in[i] == (n == 1) {
								lone = i
							}
						}
						j := 0
						for i := range 4 {
							if i != lone {
								tri[j] = e.vertex(corner[tet[lone]], corner[tet[i]])
								j++
							}
						}
						e.emit(tri)
					case 2:
						var inside, outside []int
						for i := range 4 {
							if in[i] {
								inside = append(inside, tet[i])
							} else {
								outside = append(outside, tet[i])
							}
						}
						ac := e.vertex(corner[inside[0]], corner[outside[0]])
						ad := e.vertex(corner[inside[0]], corner[outside[1]])
						bd := e.vertex(corner[inside[1]], corner[outside[1]])
						bc := e.vertex(corner[inside[1]], corner[outside[0]])
						e.emit([3]int{ac, ad, bd})
						e.emit([3]int{ac, bd, bc})
					}
				}
			}
		}
	}
}

func (e *extractor) index(p [3]int) int {
	return e.g.Index(p[0], p[1], p[2])
}

func (e *extractor) inside(p [3]int) bool {
	return e.density[e.index(p)] > e.iso
}

// value returns the density at sample p, which may lie one sample outside of
// the grid along at most one axis.
func (e *extractor) value(p [3]int) float32 {
	for a := range 3 {
		if p[a] < 0 || p[a] > e.g.Cells {
			f := voxel.Face(2 * a)
			if p[a] > e.g.Cells {
				f++
			}
			u, v := f.Plane()
			return e.skirts[f].At(p[u], p[v])
		}
	}
	return e.density[e.index(p)]
}

// normal returns the outward normal at sample p, the normalised negative
// density gradient estimated by central differences.
func (e *extractor) normal(p [3]int) mgl64.Vec3 {
	i := e.index(p)
	if e.hasNorm[i] {
		return e.normals[i]
	}
	var grad mgl64.Vec3
	for a := range 3 {
		lo, hi := p, p
		lo[a]--
		hi[a]++
		grad[a] = float64(e.value(hi)) - float64(e.value(lo))
	}
	n := mgl64.Vec3{0, 1, 0}
	if l := grad.Len(); l > 1e-12 {
		n = grad.Mul(-1 / l)
	}
	e.normals[i], e.hasNorm[i] = n, true
	return n
}

// vertex returns the index of the vertex on the edge between samples p and q,
// creating it if needed. The crossing is always interpolated from the sample
// with the lower index, so that chunks sharing the edge place it identically.
func (e *extractor) vertex(p, q [3]int) int {
	ip, iq := e.index(p), e.index(q)
	if iq < ip {
		p, q, ip, iq = q, p, iq, ip
	}
	key := int64(ip)*int64(len(e.density)) + int64(iq)
	if v, ok := e.edges.Get(key); ok {
		return int(v)
	}

	dp, dq := float64(e.density[ip]), float64(e.density[iq])
	t := (float64(e.iso) - dp) / (dq - dp)

	var pos mgl64.Vec3
	for a := range 3 {
		pos[a] = (float64(p[a]) + t*float64(q[a]-p[a])) * e.step
	}
	n := e.normal(p).Mul(1 - t).Add(e.normal(q).Mul(t))
	if l := n.Len(); l > 1e-12 {
		n = n.Mul(1 / l)
	} else {
		n = e.normal(p)
	}
	mat := e.g.Material[ip]
	if dq > dp {
		mat = e.g.Material[iq]
	}
	if mat == voxel.Air {
		mat = voxel.Stone
	}

	idx := len(e.buf.Vertices)
	e.buf.Vertices = append(e.buf.Vertices, Vertex{
		Position: mgl32.Vec3{float32(pos[0]), float32(pos[1]), float32(pos[2])},
		Normal:   mgl32.Vec3{float32(n[0]), float32(n[1]), float32(n[2])},
		Material: mat,
	})
	e.edges.Put(key, int64(idx))
	return idx
}

// emit appends a triangle, winding it so that its geometric normal agrees
// with the gradient normals of its vertices. Degenerate triangles are
// dropped.
func (e *extractor) emit(tri [3]int) {
	if tri[0] == tri[1] || tri[1] == tri[2] || tri[0] == tri[2] {
		return
	}
	v0, v1, v2 := e.buf.Vertices[tri[0]], e.buf.Vertices[tri[1]], e.buf.Vertices[tri[2]]
	geo := v1.Position.Sub(v0.Position).Cross(v2.Position.Sub(v0.Position))
	if geo.Len() == 0 {
		return
	}
	ref := v0.Normal.Add(v1.Normal).Add(v2.Normal)
	if geo.Dot(ref) < 0 {
		tri[1], tri[2] = tri[2], tri[1]
	}
	e.buf.Indices = append(e.buf.Indices, uint32(tri[0]), uint32(tri[1]), uint32(tri[2]))
}
