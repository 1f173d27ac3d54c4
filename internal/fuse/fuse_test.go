// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package fuse

import (
	"sort"
	"syscall"
	"testing"
	"time"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	"golang.org/x/net/context"

	"github.com/westerndigitalcorporation/tbl/client/tbl"
	"github.com/westerndigitalcorporation/tbl/internal/core"
	"github.com/westerndigitalcorporation/tbl/internal/kernel"
	test "github.com/westerndigitalcorporation/tbl/pkg/testutil"
)

func TestMain(m *testing.M) {
	test.TestMain(m)
}

// testFS returns the root of a filesystem over a kernel with a tag table
// "pci" and a path table "files". Nothing is mounted; nodes are called
// directly.
func testFS(t *testing.T) fs.Node {
	k, err := kernel.New(kernel.DefaultTestConfig)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(k.Stop)

	pci := kernel.NewMemTable(core.SchemeTags)
	sel, _ := core.ParseSelector("vendor-id:1234,device-id:1111", core.SchemeTags)
	pci.Add(8, sel, []byte("config space"))
	k.AddTable("pci", pci)

	files := kernel.NewMemTable(core.SchemePath)
	files.Add(1, core.PathSelector("etc/motd"), []byte("hi"))
	files.Add(2, core.PathSelector("etc/hosts"), nil)
	files.Add(3, core.PathSelector("readme"), nil)
	k.AddTable("files", files)

	pool := newThreadPool(k, tbl.DefaultOptions, 2, 2)
	t.Cleanup(pool.close)
	root, _ := (&tblFS{pool: pool}).Root()
	return root
}

func names(t *testing.T, n fs.Node) []string {
	ents, err := n.(fs.HandleReadDirAller).ReadDirAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range ents {
		s := e.Name
		if e.Type == fuse.DT_Dir {
			s += "/"
		}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func lookup(t *testing.T, n fs.Node, name string) fs.Node {
	c, err := n.(fs.NodeStringLookuper).Lookup(context.Background(), name)
	if err != nil {
		t.Fatalf("lookup %q: %s", name, err)
	}
	return c
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTree(t *testing.T) {
	ctx := context.Background()
	root := testFS(t)

	if got := names(t, root); !equal(got, []string{"files/", "pci/"}) {
		t.Fatalf("root: %v", got)
	}
	if _, err := root.(fs.NodeStringLookuper).Lookup(ctx, "isa"); err != fuse.ENOENT {
		t.Fatalf("unknown table: %v", err)
	}

	pci := lookup(t, root, "pci")
	if got := names(t, pci); !equal(got, []string{"8"}) {
		t.Fatalf("pci: %v", got)
	}
	var a fuse.Attr
	if err := lookup(t, pci, "8").Attr(ctx, &a); err != nil || a.Size != 12 {
		t.Fatalf("attr: %+v %v", a, err)
	}

	files := lookup(t, root, "files")
	if got := names(t, files); !equal(got, []string{"etc/", "readme"}) {
		t.Fatalf("files: %v", got)
	}
	etc := lookup(t, files, "etc")
	if _, ok := etc.(*dirNode); !ok {
		t.Fatalf("etc is a %T", etc)
	}
	if got := names(t, etc); !equal(got, []string{"hosts", "motd"}) {
		t.Fatalf("etc: %v", got)
	}
	if _, err := etc.(fs.NodeStringLookuper).Lookup(ctx, "passwd"); err != fuse.ENOENT {
		t.Fatalf("missing file: %v", err)
	}
}

func TestReadWriteCreate(t *testing.T) {
	ctx := context.Background()
	root := testFS(t)
	etc := lookup(t, lookup(t, root, "files"), "etc")

	motd := lookup(t, etc, "motd")
	h, err := motd.(fs.NodeOpener).Open(ctx, &fuse.OpenRequest{}, &fuse.OpenResponse{})
	if err != nil {
		t.Fatal(err)
	}
	wresp := &fuse.WriteResponse{}
	if err := h.(fs.HandleWriter).Write(ctx, &fuse.WriteRequest{Offset: 2, Data: []byte(" there")}, wresp); err != nil || wresp.Size != 6 {
		t.Fatalf("write: %d %v", wresp.Size, err)
	}
	rresp := &fuse.ReadResponse{Data: make([]byte, 0, 64)}
	if err := h.(fs.HandleReader).Read(ctx, &fuse.ReadRequest{Offset: 1, Size: 64}, rresp); err != nil {
		t.Fatal(err)
	}
	if string(rresp.Data) != "i there" {
		t.Fatalf("read %q", rresp.Data)
	}
	h.(fs.HandleReleaser).Release(ctx, &fuse.ReleaseRequest{})

	_, ch, err := etc.(fs.NodeCreater).Create(ctx, &fuse.CreateRequest{Name: "new"}, &fuse.CreateResponse{})
	if err != nil {
		t.Fatal(err)
	}
	ch.(fs.HandleReleaser).Release(ctx, &fuse.ReleaseRequest{})
	if got := names(t, etc); !equal(got, []string{"hosts", "motd", "new"}) {
		t.Fatalf("after create: %v", got)
	}
	if _, _, err := etc.(fs.NodeCreater).Create(ctx, &fuse.CreateRequest{Name: "new"}, &fuse.CreateResponse{}); err != fuse.EEXIST {
		t.Fatalf("second create: %v", err)
	}

	pci := lookup(t, root, "pci")
	if _, _, err := pci.(fs.NodeCreater).Create(ctx, &fuse.CreateRequest{Name: "x"}, &fuse.CreateResponse{}); err != fuse.EPERM {
		t.Fatalf("create in tag table: %v", err)
	}
}

// The pool never holds more Threads, and so kernel queues, than it was sized
// for. Short operations wait for a Thread; opens past the limit fail.
func TestThreadPoolBounded(t *testing.T) {
	k, err := kernel.New(kernel.DefaultTestConfig)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(k.Stop)
	files := kernel.NewMemTable(core.SchemePath)
	files.Add(1, core.PathSelector("a"), nil)
	k.AddTable("files", files)

	p := newThreadPool(k, tbl.DefaultOptions, 2, 1)
	t.Cleanup(p.close)
	a, b := p.get(), p.get()
	for _, th := range []*tbl.Thread{a, b} {
		if ok, err := th.Exists("files/a"); !ok || err != nil {
			t.Fatalf("Exists: %v %v", ok, err)
		}
	}

	got := make(chan *tbl.Thread)
	go func() { got <- p.get() }()
	select {
	case <-got:
		t.Fatalf("got a third Thread from a pool of two")
	case <-time.After(50 * time.Millisecond):
	}
	p.put(a)
	select {
	case th := <-got:
		if th != a {
			t.Fatalf("waiter got a new Thread instead of the returned one")
		}
		p.put(th)
	case <-time.After(5 * time.Second):
		t.Fatalf("put didn't wake the waiter")
	}
	p.put(b)

	f, err := p.getFile()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Exists("files/a"); err != nil {
		t.Fatal(err)
	}
	if _, err := p.getFile(); translateError(err) != fuse.Errno(syscall.EMFILE) {
		t.Fatalf("open past the limit: %v", err)
	}
	if n := k.Status().Queues; n > 3 {
		t.Fatalf("%d queues for a pool of 2+1", n)
	}
	p.putFile(f)
	if f, err = p.getFile(); err != nil {
		t.Fatalf("open after a release: %v", err)
	}
	p.putFile(f)
}
