// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package kernel

import (
	"bytes"
	"encoding/binary"
	"os"
	"sort"

	"github.com/boltdb/bolt"
	"github.com/fxamacker/cbor/v2"
	log "github.com/golang/glog"
	"github.com/golang/snappy"
	"github.com/zeebo/blake3"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

var (
	mode          os.FileMode = 0600
	objectsBucket             = []byte("objects")
	pathsBucket               = []byte("paths")

	// Deterministic encoding so that equal records are equal bytes.
	recordEncMode cbor.EncMode
	recordDecMode cbor.DecMode
)

func init() {
	var err error
	if recordEncMode, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic("kernel: CBOR encoder initialization failed: " + err.Error())
	}
	if recordDecMode, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic("kernel: CBOR decoder initialization failed: " + err.Error())
	}
}

// objectRecord is how one object is stored. Data is snappy compressed;
// Digest is the BLAKE3 hash of the uncompressed data and is checked on every
// load.
type objectRecord struct {
	Path   string `cbor:"1,keyasint"`
	Size   int64  `cbor:"2,keyasint"`
	Digest []byte `cbor:"3,keyasint"`
	Data   []byte `cbor:"4,keyasint"`
}

func (r *objectRecord) setData(data []byte) {
	sum := blake3.Sum256(data)
	r.Size = int64(len(data))
	r.Digest = sum[:]
	r.Data = snappy.Encode(nil, data)
}

func (r *objectRecord) data() ([]byte, core.Error) {
	data, err := snappy.Decode(nil, r.Data)
	if err != nil {
		log.Errorf("object %q: undecodable data: %s", r.Path, err)
		return nil, core.ErrCorruptData
	}
	sum := blake3.Sum256(data)
	if int64(len(data)) != r.Size || !bytes.Equal(sum[:], r.Digest) {
		log.Errorf("object %q: digest mismatch", r.Path)
		return nil, core.ErrCorruptData
	}
	return data, core.NoError
}

// BoltTable is a path-scheme Table whose objects live in a bolt database, so
// they survive the kernel.
//
// Layout: bucket "objects" maps the big endian object id to a CBOR
// objectRecord; bucket "paths" maps a path to the big endian id.
type BoltTable struct {
	db *bolt.DB
}

// OpenBoltTable opens (creating if needed) the database at 'path'.
func OpenBoltTable(path string) (*BoltTable, error) {
	db, err := bolt.Open(path, mode, nil)
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(objectsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(pathsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltTable{db: db}, nil
}

// Close closes the database.
func (t *BoltTable) Close() error {
	return t.db.Close()
}

// Scheme implements Table.
func (t *BoltTable) Scheme() core.Scheme {
	return core.SchemePath
}

func idKey(id core.ID) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func loadRecord(tx *bolt.Tx, id core.ID) (*objectRecord, core.Error) {
	raw := tx.Bucket(objectsBucket).Get(idKey(id))
	if raw == nil {
		return nil, core.ErrNotFound
	}
	var r objectRecord
	if err := recordDecMode.Unmarshal(raw, &r); err != nil {
		log.Errorf("object %d: undecodable record: %s", id, err)
		return nil, core.ErrCorruptData
	}
	return &r, core.NoError
}

func storeRecord(tx *bolt.Tx, id core.ID, r *objectRecord) error {
	raw, err := recordEncMode.Marshal(r)
	if err != nil {
		return err
	}
	return tx.Bucket(objectsBucket).Put(idKey(id), raw)
}

// view runs 'fn' in a read transaction, mapping bolt failures to ErrIO.
func (t *BoltTable) view(fn func(tx *bolt.Tx) core.Error) core.Error {
	result := core.NoError
	if err := t.db.View(func(tx *bolt.Tx) error {
		result = fn(tx)
		return nil
	}); err != nil {
		log.Errorf("bolt view failed: %s", err)
		return core.ErrIO
	}
	return result
}

// update runs 'fn' in a write transaction. The transaction is rolled back if
// 'fn' fails.
func (t *BoltTable) update(fn func(tx *bolt.Tx) core.Error) core.Error {
	result := core.NoError
	err := t.db.Update(func(tx *bolt.Tx) error {
		if result = fn(tx); result != core.NoError {
			return result.Error()
		}
		return nil
	})
	if result != core.NoError {
		return result
	}
	if err != nil {
		log.Errorf("bolt update failed: %s", err)
		return core.ErrIO
	}
	return core.NoError
}

// Open implements Table.
func (t *BoltTable) Open(sel core.Selector) (id core.ID, err core.Error) {
	if sel.Kind != core.SelectorPath || sel.Path == "" {
		return 0, core.ErrInvalidInput
	}
	err = t.view(func(tx *bolt.Tx) core.Error {
		raw := tx.Bucket(pathsBucket).Get([]byte(sel.Path))
		if raw == nil {
			return core.ErrNotFound
		}
		id = core.ID(binary.BigEndian.Uint64(raw))
		return core.NoError
	})
	return
}

// Lookup implements Table.
func (t *BoltTable) Lookup(id core.ID) core.Error {
	return t.view(func(tx *bolt.Tx) core.Error {
		if tx.Bucket(objectsBucket).Get(idKey(id)) == nil {
			return core.ErrNotFound
		}
		return core.NoError
	})
}

// Create implements Table.
func (t *BoltTable) Create(sel core.Selector) (id core.ID, err core.Error) {
	if sel.Kind != core.SelectorPath || sel.Path == "" {
		return 0, core.ErrInvalidInput
	}
	err = t.update(func(tx *bolt.Tx) core.Error {
		paths := tx.Bucket(pathsBucket)
		if paths.Get([]byte(sel.Path)) != nil {
			return core.ErrAlreadyExists
		}
		seq, e := tx.Bucket(objectsBucket).NextSequence()
		if e != nil {
			return core.ErrIO
		}
		id = core.ID(seq)
		r := &objectRecord{Path: sel.Path}
		r.setData(nil)
		if storeRecord(tx, id, r) != nil || paths.Put([]byte(sel.Path), idKey(id)) != nil {
			return core.ErrIO
		}
		return core.NoError
	})
	return
}

// Query implements Table. Objects are returned in path order.
func (t *BoltTable) Query(sel core.Selector) (Cursor, core.Error) {
	if sel.Kind != core.SelectorPath {
		return nil, core.ErrInvalidInput
	}
	var infos []core.ObjectInfo
	err := t.view(func(tx *bolt.Tx) core.Error {
		prefix := []byte(sel.Path)
		c := tx.Bucket(pathsBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if pathMatches(string(k), sel.Path) {
				infos = append(infos, core.ObjectInfo{
					ID:   core.ID(binary.BigEndian.Uint64(v)),
					Name: core.PathSelector(string(k)),
				})
			}
		}
		return core.NoError
	})
	if err != core.NoError {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name.Path < infos[j].Name.Path })
	return &sliceCursor{infos: infos}, core.NoError
}

// ReadAt implements Table.
func (t *BoltTable) ReadAt(id core.ID, p []byte, off int64) (n int, err core.Error) {
	err = t.view(func(tx *bolt.Tx) core.Error {
		r, err := loadRecord(tx, id)
		if err != core.NoError {
			return err
		}
		data, err := r.data()
		if err != core.NoError {
			return err
		}
		if off < int64(len(data)) {
			n = copy(p, data[off:])
		}
		return core.NoError
	})
	return
}

// WriteAt implements Table.
func (t *BoltTable) WriteAt(id core.ID, p []byte, off int64) (int, core.Error) {
	err := t.update(func(tx *bolt.Tx) core.Error {
		r, err := loadRecord(tx, id)
		if err != core.NoError {
			return err
		}
		data, err := r.data()
		if err != core.NoError {
			return err
		}
		if data, err = writeAt(data, p, off); err != core.NoError {
			return err
		}
		r.setData(data)
		if storeRecord(tx, id, r) != nil {
			return core.ErrIO
		}
		return core.NoError
	})
	if err != core.NoError {
		return 0, err
	}
	return len(p), core.NoError
}

// Size implements Table.
func (t *BoltTable) Size(id core.ID) (size int64, err core.Error) {
	err = t.view(func(tx *bolt.Tx) core.Error {
		r, err := loadRecord(tx, id)
		if err != core.NoError {
			return err
		}
		size = r.Size
		return core.NoError
	})
	return
}
