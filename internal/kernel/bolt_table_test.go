// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package kernel

import (
	"path/filepath"
	"testing"

	"github.com/boltdb/bolt"

	"github.com/westerndigitalcorporation/tbl/internal/core"
	test "github.com/westerndigitalcorporation/tbl/pkg/testutil"
)

func openTestBolt(t *testing.T, path string) *BoltTable {
	bt, err := OpenBoltTable(path)
	if err != nil {
		t.Fatalf("OpenBoltTable: %s", err)
	}
	return bt
}

// Objects and their contents survive closing and reopening the database.
func TestBoltTablePersists(t *testing.T) {
	path := filepath.Join(test.TestDir(t), "store.db")
	bt := openTestBolt(t, path)

	id, err := bt.Create(core.PathSelector("etc/motd"))
	if err != core.NoError {
		t.Fatal(err)
	}
	if _, err := bt.Create(core.PathSelector("etc/motd")); err != core.ErrAlreadyExists {
		t.Fatalf("second create: %s", err)
	}
	if _, err := bt.Create(core.PathSelector("")); err != core.ErrInvalidInput {
		t.Fatalf("empty path: %s", err)
	}
	if n, err := bt.WriteAt(id, []byte("hello"), 0); n != 5 || err != core.NoError {
		t.Fatalf("write: %d %s", n, err)
	}
	if _, err := bt.WriteAt(id, []byte("!"), 7); err != core.NoError {
		t.Fatal(err)
	}
	bt.Close()

	bt = openTestBolt(t, path)
	defer bt.Close()
	got, err := bt.Open(core.PathSelector("etc/motd"))
	if err != core.NoError || got != id {
		t.Fatalf("open after reopen: %d %s", got, err)
	}
	if size, _ := bt.Size(id); size != 8 {
		t.Fatalf("size %d", size)
	}
	buf := make([]byte, 16)
	n, err := bt.ReadAt(id, buf, 0)
	if err != core.NoError || string(buf[:n]) != "hello\x00\x00!" {
		t.Fatalf("read %q %s", buf[:n], err)
	}
	if n, _ := bt.ReadAt(id, buf, 100); n != 0 {
		t.Fatalf("read past end returned %d", n)
	}
}

func TestBoltTableQuery(t *testing.T) {
	bt := openTestBolt(t, filepath.Join(test.TestDir(t), "store.db"))
	defer bt.Close()
	for _, p := range []string{"b/x", "a", "a/2", "a/1", "ab"} {
		if _, err := bt.Create(core.PathSelector(p)); err != core.NoError {
			t.Fatal(err)
		}
	}

	paths := func(prefix string) (out []string) {
		c, err := bt.Query(core.PathSelector(prefix))
		if err != core.NoError {
			t.Fatal(err)
		}
		for info, ok := c.Next(); ok; info, ok = c.Next() {
			out = append(out, info.Name.Path)
		}
		return
	}
	if got := paths(""); len(got) != 5 || got[0] != "a" || got[4] != "b/x" {
		t.Fatalf("all: %v", got)
	}
	// "ab" shares the prefix but is not under "a".
	if got := paths("a"); len(got) != 3 || got[1] != "a/1" || got[2] != "a/2" {
		t.Fatalf("under a: %v", got)
	}
	if got := paths("c"); len(got) != 0 {
		t.Fatalf("under c: %v", got)
	}
}

// Data that doesn't match its digest is reported, never returned.
func TestBoltTableDetectsCorruption(t *testing.T) {
	bt := openTestBolt(t, filepath.Join(test.TestDir(t), "store.db"))
	defer bt.Close()
	id, _ := bt.Create(core.PathSelector("f"))
	bt.WriteAt(id, []byte("important"), 0)

	err := bt.db.Update(func(tx *bolt.Tx) error {
		r, _ := loadRecord(tx, id)
		r.Digest[0] ^= 0xff
		return storeRecord(tx, id, r)
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bt.ReadAt(id, make([]byte, 16), 0); err != core.ErrCorruptData {
		t.Fatalf("read of corrupt object: %s", err)
	}
	if _, err := bt.WriteAt(id, []byte("x"), 0); err != core.ErrCorruptData {
		t.Fatalf("write to corrupt object: %s", err)
	}
}
