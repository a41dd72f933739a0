package edit

import (
	"github.com/df-mc/goleveldb/leveldb"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
)

// Provider persists the edits made to the terrain, grouped per chunk.
type Provider interface {
	// LoadEdits loads the edits of the chunk at pos. If no edits were ever
	// stored for the chunk, leveldb.ErrNotFound is returned.
	LoadEdits(pos voxel.ChunkPos) (map[voxel.Coord]Edit, error)
	// StoreEdits stores the edits of the chunk at pos, replacing any edits
	// stored previously. An empty map removes the entry.
	StoreEdits(pos voxel.ChunkPos, edits map[voxel.Coord]Edit) error
	// Close closes the provider, flushing any data it holds.
	Close() error
}

// NopProvider implements a Provider that stores nothing. Edits made with a
// NopProvider only live as long as the Store holding them.
type NopProvider struct{}

// Compile time check to make sure NopProvider implements Provider.
var _ Provider = NopProvider{}

func (NopProvider) LoadEdits(voxel.ChunkPos) (map[voxel.Coord]Edit, error) {
	return nil, leveldb.ErrNotFound
}
func (NopProvider) StoreEdits(voxel.ChunkPos, map[voxel.Coord]Edit) error { return nil }
func (NopProvider) Close() error                                          { return nil }
