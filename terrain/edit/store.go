// Package edit holds sparse modifications made to the generated terrain.
// Edits override the density and material of single voxel samples and are
// applied on top of the noise field whenever a chunk is generated.
package edit

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
)

// Edit replaces the sample at a voxel coordinate.
type Edit struct {
	Density  float32
	Material voxel.Material
}

type bucket struct {
	edits map[voxel.Coord]Edit
	dirty bool
}

// Store holds all edits, grouped per owning chunk and loaded lazily from a
// Provider. Store is safe for concurrent use.
type Store struct {
	geom voxel.Geometry
	prov Provider
	log  *slog.Logger

	mu      sync.Mutex
	buckets map[voxel.ChunkPos]*bucket

	version atomic.Uint64
}

// NewStore returns a Store backed by the Provider passed. If prov is nil,
// a NopProvider is used.
func NewStore(geom voxel.Geometry, prov Provider, log *slog.Logger) *Store {
	if prov == nil {
		prov = NopProvider{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{geom: geom, prov: prov, log: log, buckets: make(map[voxel.ChunkPos]*bucket)}
}

// bucket returns the bucket of the chunk at pos, loading it if needed. s.mu
// must be held.
func (s *Store) bucket(pos voxel.ChunkPos) (*bucket, error) {
	if b, ok := s.buckets[pos]; ok {
		return b, nil
	}
	edits, err := s.prov.LoadEdits(pos)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		edits = make(map[voxel.Coord]Edit)
	case err != nil:
		return nil, fmt.Errorf("load edits of chunk %v: %w", pos, err)
	}
	b := &bucket{edits: edits}
	s.buckets[pos] = b
	return b, nil
}

// Set stores an edit at the coordinate passed.
func (s *Store) Set(c voxel.Coord, e Edit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bucket(s.geom.ChunkOf(c))
	if err != nil {
		return err
	}
	b.edits[c] = e
	b.dirty = true
	s.version.Add(1)
	return nil
}

// Remove removes the edit at the coordinate passed, reverting the sample to
// the generated terrain. The bool returned is false if there was none.
func (s *Store) Remove(c voxel.Coord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bucket(s.geom.ChunkOf(c))
	if err != nil {
		return false, err
	}
	if _, ok := b.edits[c]; !ok {
		return false, nil
	}
	delete(b.edits, c)
	b.dirty = true
	s.version.Add(1)
	return true, nil
}

// Get returns the edit at the coordinate passed, if any.
func (s *Store) Get(c voxel.Coord) (Edit, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := s.bucket(s.geom.ChunkOf(c))
	if err != nil {
		return Edit{}, false, err
	}
	e, ok := b.edits[c]
	return e, ok, nil
}

// Within calls f for every edit inside the inclusive box between lo and hi.
func (s *Store) Within(lo, hi voxel.Coord, f func(c voxel.Coord, e Edit)) error {
	clo, chi := s.geom.ChunkOf(lo), s.geom.ChunkOf(hi)

	s.mu.Lock()
	defer s.mu.Unlock()
	for x := clo[0]; x <= chi[0]; x++ {
		for y := clo[1]; y <= chi[1]; y++ {
			for z := clo[2]; z <= chi[2]; z++ {
				b, err := s.bucket(voxel.ChunkPos{x, y, z})
				if err != nil {
					return err
				}
				for c, e := range b.edits {
					if c[0] >= lo[0] && c[0] <= hi[0] && c[1] >= lo[1] && c[1] <= hi[1] && c[2] >= lo[2] && c[2] <= hi[2] {
						f(c, e)
					}
				}
			}
		}
	}
	return nil
}

// Version returns a counter that changes every time an edit is made.
func (s *Store) Version() uint64 { return s.version.Load() }

// Len returns the number of edits currently loaded.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.buckets {
		n += len(b.edits)
	}
	return n
}

// Save writes all buckets with unsaved edits to the Provider. Buckets without
// edits and without changes are dropped from memory.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	saved := 0
	for pos, b := range s.buckets {
		if b.dirty {
			if err := s.prov.StoreEdits(pos, b.edits); err != nil {
				errs = append(errs, fmt.Errorf("store edits of chunk %v: %w", pos, err))
				continue
			}
			b.dirty = false
			saved++
		}
		if len(b.edits) == 0 {
			delete(s.buckets, pos)
		}
	}
	if saved > 0 {
		s.log.Debug("Saved voxel edits.", "chunks", saved)
	}
	return errors.Join(errs...)
}

// Close saves all edits and closes the Provider.
func (s *Store) Close() error {
	return errors.Join(s.Save(), s.prov.Close())
}
