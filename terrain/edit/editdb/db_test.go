package editdb

import (
	"errors"
	"testing"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/storage"
	"github.com/dm-vev/voxelterrain/terrain/edit"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
)

func openMem(t *testing.T) *DB {
	t.Helper()
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	return Config{Geometry: voxel.Geometry{Resolution: 16, VoxelSize: 1}}.New(ldb)
}

func TestRoundTrip(t *testing.T) {
	db := openMem(t)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	})

	pos := voxel.ChunkPos{-1, 2, 0}
	if _, err := db.LoadEdits(pos); !errors.Is(err, leveldb.ErrNotFound) {
		t.Fatalf("expected leveldb.ErrNotFound, got %v", err)
	}
	edits := map[voxel.Coord]edit.Edit{
		{-16, 32, 0}:   {Density: 1.5, Material: voxel.Stone},
		{-1, 47, 15}:   {Density: -3, Material: voxel.Air},
		{-10, 40, 300}: {Density: 0.25, Material: voxel.Snow},
	}
	if err := db.StoreEdits(pos, edits); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := db.LoadEdits(pos)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != len(edits) {
		t.Fatalf("loaded %d edits, want %d", len(got), len(edits))
	}
	for c, e := range edits {
		if got[c] != e {
			t.Fatalf("edit at %v = %+v, want %+v", c, got[c], e)
		}
	}

	if err := db.StoreEdits(pos, nil); err != nil {
		t.Fatalf("store empty: %v", err)
	}
	if _, err := db.LoadEdits(pos); !errors.Is(err, leveldb.ErrNotFound) {
		t.Fatalf("expected entry to be removed, got %v", err)
	}
}

func TestDecodeCorrupt(t *testing.T) {
	if _, err := decode(voxel.Coord{}, []byte{3, 1}); !errors.Is(err, errCorrupt) {
		t.Fatalf("expected errCorrupt, got %v", err)
	}
}

func TestStoreWithDB(t *testing.T) {
	geom := voxel.Geometry{Resolution: 16, VoxelSize: 1}
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	db := Config{Geometry: geom}.New(ldb)

	s := edit.NewStore(geom, db, nil)
	c := voxel.Coord{5, -3, 70}
	if err := s.Set(c, edit.Edit{Density: 9, Material: voxel.Dirt}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := edit.NewStore(geom, db, nil)
	e, ok, err := reloaded.Get(c)
	if err != nil || !ok || e.Material != voxel.Dirt || e.Density != 9 {
		t.Fatalf("unexpected reloaded edit %+v, %v, %v", e, ok, err)
	}
	if err := reloaded.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
