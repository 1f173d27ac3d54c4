// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package tbl

import (
	"context"
	"testing"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

func TestTableCache(t *testing.T) {
	off := newTableCache(0)
	off.put("a", 1, core.TableInfo{Name: "a"})
	if _, _, ok := off.get("a"); ok || off.len() != 0 {
		t.Fatalf("disabled cache cached")
	}

	tc := newTableCache(2)
	tc.put("a", 1, core.TableInfo{Name: "a"})
	tc.put("b", 2, core.TableInfo{Name: "b"})
	if id, info, ok := tc.get("a"); !ok || id != 1 || info.Name != "a" {
		t.Fatalf("get a: %d %+v %v", id, info, ok)
	}

	// "b" is the least recently used and goes.
	tc.put("c", 3, core.TableInfo{Name: "c"})
	if _, _, ok := tc.get("b"); ok {
		t.Fatalf("b not evicted")
	}
	if tc.invalidateID(2) {
		t.Fatalf("evicted id still known")
	}
	if !tc.invalidateID(3) {
		t.Fatalf("id 3 unknown")
	}
	if _, _, ok := tc.get("c"); ok || tc.len() != 1 {
		t.Fatalf("c not dropped")
	}

	// Re-putting a name under a new id forgets the old id.
	tc.put("a", 4, core.TableInfo{Name: "a"})
	if tc.invalidateID(1) {
		t.Fatalf("old id of a still known")
	}
	tc.invalidate("a")
	if tc.len() != 0 {
		t.Fatalf("%d entries left", tc.len())
	}
}

func TestStaleCachedTableIsResolvedAgain(t *testing.T) {
	k := newTestKernel(t)
	srv := newTestThread(t, k, DefaultOptions)
	opts := DefaultOptions
	opts.TableCacheSize = 4
	th := newTestThread(t, k, opts)

	h, err := srv.CreateTable("svc", core.SchemePath)
	if err != nil {
		t.Fatal(err)
	}
	old, _, err := th.ResolveTable("svc")
	if err != nil {
		t.Fatal(err)
	}
	srv.CloseHandle(h)

	// Same name, new table.
	if h, err = srv.CreateTable("svc", core.SchemePath); err != nil {
		t.Fatal(err)
	}
	mem := NewMemService()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, h, mem.Handle) }()

	f, err := th.OpenFile("svc/x", OpenCreate)
	if err != nil {
		t.Fatalf("create through a stale table id: %s", err)
	}
	f.Close()
	cancel()
	<-done
	srv.CloseHandle(h)

	id, _, ok := th.tables.get("svc")
	if !ok || id == old {
		t.Fatalf("cache holds %d (old %d), %v", id, old, ok)
	}
}
