package voxel

// Face is one of the six faces of a chunk. Faces are ordered so that
// Face(2*axis) is the negative and Face(2*axis+1) the positive face along an
// axis.
type Face uint8

const (
	// FaceWest is the face towards negative X.
	FaceWest Face = iota
	// FaceEast is the face towards positive X.
	FaceEast
	// FaceDown is the face towards negative Y.
	FaceDown
	// FaceUp is the face towards positive Y.
	FaceUp
	// FaceNorth is the face towards negative Z.
	FaceNorth
	// FaceSouth is the face towards positive Z.
	FaceSouth
)

// Faces returns all six faces in order.
func Faces() [6]Face {
	return [6]Face{FaceWest, FaceEast, FaceDown, FaceUp, FaceNorth, FaceSouth}
}

// Axis returns the axis (0 for X, 1 for Y, 2 for Z) the face is perpendicular
// to.
func (f Face) Axis() int { return int(f) >> 1 }

// Positive reports if the face points towards the positive end of its axis.
func (f Face) Positive() bool { return f&1 == 1 }

// Opposite returns the face on the other side of the chunk.
func (f Face) Opposite() Face { return f ^ 1 }

// Plane returns the two axes spanning the face, in the order used for skirt
// indexing.
func (f Face) Plane() (u, v int) {
	a := f.Axis()
	return (a + 1) % 3, (a + 2) % 3
}

// Offset returns the chunk offset of the neighbour sharing the face.
func (f Face) Offset() ChunkPos {
	var p ChunkPos
	if f.Positive() {
		p[f.Axis()] = 1
	} else {
		p[f.Axis()] = -1
	}
	return p
}

// String implements fmt.Stringer.
func (f Face) String() string {
	switch f {
	case FaceWest:
		return "west"
	case FaceEast:
		return "east"
	case FaceDown:
		return "down"
	case FaceUp:
		return "up"
	case FaceNorth:
		return "north"
	case FaceSouth:
		return "south"
	}
	panic("should never happen")
}
