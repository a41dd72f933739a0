// Package store holds the chunks currently materialised around a viewer and
// enforces their lifecycle.
package store

import (
	"errors"
	"slices"
	"sync"

	"github.com/dm-vev/voxelterrain/terrain/voxel"
	"github.com/google/uuid"
	"github.com/segmentio/fasthash/fnv1a"
)

var (
	// ErrInvalidTransition is returned when a chunk is moved to a state that
	// is not reachable from its current state.
	ErrInvalidTransition = errors.New("store: invalid state transition")
	// ErrNotFound is returned for operations on a position without a chunk.
	ErrNotFound = errors.New("store: chunk not found")
	// ErrBusy is returned by Begin if a task is already in flight for a chunk.
	ErrBusy = errors.New("store: chunk busy")
	// ErrStale is returned by Finish if the result of a task should be
	// discarded, because the chunk was unloaded, replaced or invalidated
	// while the task ran.
	ErrStale = errors.New("store: stale task result")
)

const shardCount = 64

type shard struct {
	mu     sync.Mutex
	chunks map[voxel.ChunkPos]*Chunk
}

// Store is a coordinate keyed collection of chunks. Chunks are spread over
// shards with their own lock, so that operations on chunks in different
// regions do not contend. Store is safe for concurrent use.
type Store struct {
	shards [shardCount]shard
}

// New returns an empty Store.
func New() *Store {
	s := &Store{}
	for i := range s.shards {
		s.shards[i].chunks = make(map[voxel.ChunkPos]*Chunk)
	}
	return s
}

func (s *Store) shard(pos voxel.ChunkPos) *shard {
	h := fnv1a.Init32
	h = fnv1a.AddUint32(h, uint32(pos[0]))
	h = fnv1a.AddUint32(h, uint32(pos[1]))
	h = fnv1a.AddUint32(h, uint32(pos[2]))
	return &s.shards[h%shardCount]
}

// GetOrCreate returns the chunk at pos, creating it in the Unloaded state if
// it does not exist. The bool returned is true if the chunk was created.
func (s *Store) GetOrCreate(pos voxel.ChunkPos) (View, bool) {
	sh := s.shard(pos)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if c, ok := sh.chunks[pos]; ok {
		return c.view(), false
	}
	c := &Chunk{Pos: pos, ID: uuid.New(), state: Unloaded}
	sh.chunks[pos] = c
	return c.view(), true
}

// Lookup returns a view of the chunk at pos.
func (s *Store) Lookup(pos voxel.ChunkPos) (View, bool) {
	sh := s.shard(pos)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if c, ok := sh.chunks[pos]; ok {
		return c.view(), true
	}
	return View{}, false
}

// Update calls f with the chunk at pos while holding its lock. f must not
// retain the chunk or call back into the Store. ErrNotFound is returned if
// no chunk exists at pos; otherwise the error returned by f is returned.
func (s *Store) Update(pos voxel.ChunkPos, f func(c *Chunk) error) error {
	sh := s.shard(pos)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	c, ok := sh.chunks[pos]
	if !ok {
		return ErrNotFound
	}
	return f(c)
}

// Transition moves the chunk at pos to a new state.
func (s *Store) Transition(pos voxel.ChunkPos, to State) error {
	return s.Update(pos, func(c *Chunk) error {
		return c.Transition(to)
	})
}

// Evict removes the chunk at pos. ErrNotFound is returned if there is none,
// which callers are free to treat as a no-op.
func (s *Store) Evict(pos voxel.ChunkPos) error {
	sh := s.shard(pos)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, ok := sh.chunks[pos]; !ok {
		return ErrNotFound
	}
	delete(sh.chunks, pos)
	return nil
}

// SnapshotNeighbours returns views of the six chunks sharing a face with the
// chunk at pos, indexed by voxel.Face.
func (s *Store) SnapshotNeighbours(pos voxel.ChunkPos) [6]Neighbour {
	var n [6]Neighbour
	for _, f := range voxel.Faces() {
		if v, ok := s.Lookup(pos.Side(f)); ok {
			n[f] = Neighbour{View: v, Present: true}
		}
	}
	return n
}

// Begin marks a task as in flight for the chunk at pos. ErrBusy is returned
// if another task is already in flight.
func (s *Store) Begin(pos voxel.ChunkPos) (Ticket, error) {
	var t Ticket
	err := s.Update(pos, func(c *Chunk) error {
		if c.busy {
			return ErrBusy
		}
		c.busy = true
		t = Ticket{Pos: pos, ID: c.ID, gen: c.gen}
		return nil
	})
	return t, err
}

// Finish marks the task of a ticket as completed. ErrStale is returned if the
// chunk was removed, is Unloading, or was invalidated since Begin. The view
// returned reflects the chunk after the task was marked completed, if it
// still exists.
func (s *Store) Finish(t Ticket) (View, error) {
	var v View
	err := s.Update(t.Pos, func(c *Chunk) error {
		if c.ID != t.ID {
			return ErrStale
		}
		c.busy = false
		v = c.view()
		if c.state == Unloading || c.gen != t.gen {
			return ErrStale
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return v, ErrStale
	}
	return v, err
}

// Positions returns the positions of all chunks in the store, sorted.
func (s *Store) Positions() []voxel.ChunkPos {
	var all []voxel.ChunkPos
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for pos := range sh.chunks {
			all = append(all, pos)
		}
		sh.mu.Unlock()
	}
	slices.SortFunc(all, func(a, b voxel.ChunkPos) int {
		for i := range 3 {
			if a[i] != b[i] {
				return int(a[i]) - int(b[i])
			}
		}
		return 0
	})
	return all
}

// Len returns the number of chunks in the store.
func (s *Store) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.chunks)
		sh.mu.Unlock()
	}
	return n
}

// Count returns the number of chunks per state.
func (s *Store) Count() map[State]int {
	m := make(map[State]int)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for _, c := range sh.chunks {
			m[c.state]++
		}
		sh.mu.Unlock()
	}
	return m
}
