// Package editdb implements an edit.Provider storing voxel edits in a LevelDB
// database.
package editdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/dm-vev/voxelterrain/terrain/edit"
	"github.com/dm-vev/voxelterrain/terrain/voxel"
)

// keyEdits prefixes the keys of per chunk edit records.
const keyEdits = 'e'

// Config holds settings for opening a DB.
type Config struct {
	// Log is used for logging. If nil, slog.Default() is used.
	Log *slog.Logger
	// Geometry must match the geometry the edits were made with, since
	// coordinates are stored relative to their chunk.
	Geometry voxel.Geometry
	// LDBOptions are passed to LevelDB when opening the database.
	LDBOptions *opt.Options
}

// DB implements an edit.Provider using a LevelDB database.
type DB struct {
	conf Config
	ldb  *leveldb.DB
}

// Compile time check to make sure DB implements edit.Provider.
var _ edit.Provider = (*DB)(nil)

// Open creates or opens the database in the directory passed.
func (conf Config) Open(dir string) (*DB, error) {
	if conf.LDBOptions == nil {
		conf.LDBOptions = &opt.Options{Compression: opt.FlateCompression, BlockSize: 16 * opt.KiB}
	}
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, fmt.Errorf("create edit folder: %w", err)
	}
	ldb, err := leveldb.OpenFile(dir, conf.LDBOptions)
	if err != nil {
		return nil, fmt.Errorf("open edit db: %w", err)
	}
	return conf.New(ldb), nil
}

// New wraps an already opened LevelDB database.
func (conf Config) New(ldb *leveldb.DB) *DB {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	return &DB{conf: conf, ldb: ldb}
}

// LoadEdits ...
func (db *DB) LoadEdits(pos voxel.ChunkPos) (map[voxel.Coord]edit.Edit, error) {
	data, err := db.ldb.Get(key(pos), nil)
	if err != nil {
		return nil, err
	}
	return decode(db.conf.Geometry.Base(pos), data)
}

// StoreEdits ...
func (db *DB) StoreEdits(pos voxel.ChunkPos, edits map[voxel.Coord]edit.Edit) error {
	if len(edits) == 0 {
		return db.ldb.Delete(key(pos), nil)
	}
	return db.ldb.Put(key(pos), encode(db.conf.Geometry.Base(pos), edits), nil)
}

// Close closes the database.
func (db *DB) Close() error {
	db.conf.Log.Debug("Closing edit database.")
	return db.ldb.Close()
}

func key(pos voxel.ChunkPos) []byte {
	b := make([]byte, 13)
	b[0] = keyEdits
	binary.LittleEndian.PutUint32(b[1:], uint32(pos[0]))
	binary.LittleEndian.PutUint32(b[5:], uint32(pos[1]))
	binary.LittleEndian.PutUint32(b[9:], uint32(pos[2]))
	return b
}

// encode writes the number of edits followed by, per edit, the offset of its
// coordinate from base as three uvarints, the density as float32 bits and
// the material id.
func encode(base voxel.Coord, edits map[voxel.Coord]edit.Edit) []byte {
	b := binary.AppendUvarint(nil, uint64(len(edits)))
	for c, e := range edits {
		for i := range 3 {
			b = binary.AppendUvarint(b, uint64(c[i]-base[i]))
		}
		b = binary.LittleEndian.AppendUint32(b, math.Float32bits(e.Density))
		b = append(b, byte(e.Material))
	}
	return b
}

var errCorrupt = errors.New("editdb: corrupt edit record")

func decode(base voxel.Coord, b []byte) (map[voxel.Coord]edit.Edit, error) {
	n, read := binary.Uvarint(b)
	if read <= 0 || n > uint64(len(b)) {
		return nil, errCorrupt
	}
	b = b[read:]
	edits := make(map[voxel.Coord]edit.Edit, n)
	for range n {
		var c voxel.Coord
		for i := range 3 {
			off, read := binary.Uvarint(b)
			if read <= 0 {
				return nil, errCorrupt
			}
			c[i] = base[i] + int64(off)
			b = b[read:]
		}
		if len(b) < 5 {
			return nil, errCorrupt
		}
		edits[c] = edit.Edit{Density: math.Float32frombits(binary.LittleEndian.Uint32(b)), Material: voxel.Material(b[4])}
		b = b[5:]
	}
	return edits, nil
}
