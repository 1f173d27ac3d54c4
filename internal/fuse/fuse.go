// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT
//
// This package exposes the table namespace as a filesystem using FUSE. The
// root lists tables; a tag table lists its objects by id; a path table lists
// its objects as a directory tree. Reading, writing, and creating objects in
// path tables are supported.
//
// This is not for production use! It's intended for diagnostics only.

package fuse

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"
	log "github.com/golang/glog"
	"golang.org/x/net/context"

	"github.com/westerndigitalcorporation/tbl/client/tbl"
	"github.com/westerndigitalcorporation/tbl/internal/core"
	"github.com/westerndigitalcorporation/tbl/internal/server"
)

// MountState holds information about a current mount.
type MountState struct {
	path   string       // the path we mounted on
	err    atomic.Value // an error value returned from fuse, or nil if no error so far
	exited atomic.Value // nil if the fuse server goroutine is still running, non-nil if not
}

// Mount mounts the table namespace of 'k' on the given path and runs the FUSE
// server in a goroutine. It returns immediately.
func Mount(k tbl.Kernel, opts tbl.Options, path string) *MountState {
	ms := &MountState{path: path}
	go ms.mount(newThreadPool(k, opts, 8, 64))
	return ms
}

// mount is the actual mount process.
func (ms *MountState) mount(pool *threadPool) {
	defer ms.exited.Store("true")
	defer pool.close()

	conn, err := fuse.Mount(
		ms.path,
		fuse.FSName("tbl"),
		fuse.Subtype("tblfs"),
	)
	if err != nil {
		ms.err.Store(err)
		return
	}
	defer conn.Close()

	err = fs.Serve(conn, &tblFS{pool: pool})
	if err != nil {
		ms.err.Store(err)
		return
	}

	// check if the mount process has an error to report
	<-conn.Ready
	if conn.MountError != nil {
		ms.err.Store(conn.MountError)
	}
}

// Unmount tries to unmount an existing FUSE mount.
func (ms *MountState) Unmount() error {
	return fuse.Unmount(ms.path)
}

// String returns a string representation of the state of this mount.
func (ms *MountState) String() string {
	return fmt.Sprintf("on %q, error %v, exited %v",
		ms.path, ms.err.Load(), ms.Exited())
}

// Exited returns true if the FUSE goroutine has exited.
func (ms *MountState) Exited() bool {
	return ms.exited.Load() != nil
}

// threadPool hands out Threads. FUSE requests arrive on many goroutines and a
// Thread can only be used by one at a time. Every Thread owns a kernel queue,
// so their number is bounded: 'ops' Threads for short operations, which wait
// for a free one, and 'files' more for open files, which fail when none is
// left.
type threadPool struct {
	k     tbl.Kernel
	opts  tbl.Options
	ops   server.Semaphore
	files server.Semaphore
	idle  chan *tbl.Thread
}

func newThreadPool(k tbl.Kernel, opts tbl.Options, ops, files int) *threadPool {
	return &threadPool{
		k:     k,
		opts:  opts,
		ops:   server.NewSemaphore(ops),
		files: server.NewSemaphore(files),
		idle:  make(chan *tbl.Thread, ops+files),
	}
}

func (p *threadPool) thread() *tbl.Thread {
	select {
	case th := <-p.idle:
		return th
	default:
		return tbl.NewThread(p.k, p.opts)
	}
}

// get returns a Thread for a short operation, waiting if all are busy.
func (p *threadPool) get() *tbl.Thread {
	p.ops.Acquire()
	return p.thread()
}

func (p *threadPool) put(th *tbl.Thread) {
	// 'idle' has room for every Thread that can exist.
	p.idle <- th
	p.ops.Release()
}

// getFile returns a Thread to keep an object open with, or ErrBusy if too
// many are open.
func (p *threadPool) getFile() (*tbl.Thread, error) {
	if !p.files.TryAcquire() {
		return nil, core.ErrBusy.WithMessage("too many open files")
	}
	return p.thread(), nil
}

func (p *threadPool) putFile(th *tbl.Thread) {
	p.idle <- th
	p.files.Release()
}

// with runs 'fn' on a pooled Thread.
func (p *threadPool) with(fn func(*tbl.Thread) error) error {
	th := p.get()
	defer p.put(th)
	return translateError(fn(th))
}

func (p *threadPool) close() {
	for {
		select {
		case th := <-p.idle:
			th.Close()
		default:
			return
		}
	}
}

type tblFS struct {
	pool *threadPool
}

func (t *tblFS) Root() (fs.Node, error) {
	return &dirNode{fs: t}, nil
}

// dirNode is the root (empty path), a table, or a directory inside a path
// table. 'prefix' is the path below the table.
type dirNode struct {
	fs     *tblFS
	table  string
	info   core.TableInfo
	prefix string
}

func (d *dirNode) path() string {
	if d.prefix == "" {
		return d.table
	}
	return d.table + "/" + d.prefix
}

func (d *dirNode) child(name string) string {
	if d.prefix == "" {
		return d.table + "/" + name
	}
	return d.path() + "/" + name
}

func (d *dirNode) Attr(ctx context.Context, a *fuse.Attr) error {
	if d.table == "" {
		a.Inode = 1
	}
	a.Mode = os.ModeDir | 0555
	if d.info.Scheme == core.SchemePath && d.table != "" {
		a.Mode = os.ModeDir | 0755
	}
	return nil
}

func (d *dirNode) Lookup(ctx context.Context, name string) (fs.Node, error) {
	if d.table == "" {
		var info core.TableInfo
		err := d.fs.pool.with(func(th *tbl.Thread) (err error) {
			_, info, err = th.ResolveTable(name)
			return err
		})
		if err != nil {
			return nil, err
		}
		return &dirNode{fs: d.fs, table: name, info: info}, nil
	}

	if d.info.Scheme == core.SchemeTags {
		// Objects of tag tables are named by id.
		if _, err := core.ParseID(name); err != nil {
			return nil, fuse.ENOENT
		}
		return &objectNode{fs: d.fs, path: d.table + "//" + name}, nil
	}

	p := d.child(name)
	err := d.fs.pool.with(func(th *tbl.Thread) error {
		_, err := th.Stat(p)
		return err
	})
	if err == nil {
		return &objectNode{fs: d.fs, path: p}, nil
	}
	if err != fuse.ENOENT {
		return nil, err
	}

	// Not an object. It's a directory if some object is below it.
	var entries []tbl.DirEntry
	if err := d.fs.pool.with(func(th *tbl.Thread) (err error) {
		entries, err = th.ReadDir(p)
		return err
	}); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fuse.ENOENT
	}
	return &dirNode{fs: d.fs, table: d.table, info: d.info, prefix: strings.TrimPrefix(p, d.table+"/")}, nil
}

func (d *dirNode) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	var entries []tbl.DirEntry
	if err := d.fs.pool.with(func(th *tbl.Thread) (err error) {
		entries, err = th.ReadDir(d.path())
		return err
	}); err != nil {
		return nil, err
	}

	var out []fuse.Dirent
	seen := make(map[string]bool)
	for _, e := range entries {
		switch {
		case e.IsTable:
			out = append(out, fuse.Dirent{Name: e.TableInfo.Name, Type: fuse.DT_Dir})
		case e.TableInfo.Scheme == core.SchemeTags:
			out = append(out, fuse.Dirent{Name: e.FileName(), Type: fuse.DT_File})
		default:
			// Only the first element below this directory.
			rel := e.Name.Path
			if d.prefix != "" {
				rel = strings.TrimPrefix(rel, d.prefix+"/")
			}
			name, typ := rel, fuse.DT_File
			if i := strings.IndexByte(rel, '/'); i >= 0 {
				name, typ = rel[:i], fuse.DT_Dir
			}
			if !seen[name] {
				seen[name] = true
				out = append(out, fuse.Dirent{Name: name, Type: typ})
			}
		}
	}
	return out, nil
}

func (d *dirNode) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fs.Node, fs.Handle, error) {
	if d.table == "" || d.info.Scheme != core.SchemePath {
		return nil, nil, fuse.EPERM
	}
	p := d.child(req.Name)
	th, err := d.fs.pool.getFile()
	if err != nil {
		return nil, nil, translateError(err)
	}
	f, err := th.OpenFile(p, tbl.OpenCreate)
	if err != nil {
		d.fs.pool.putFile(th)
		return nil, nil, translateError(err)
	}
	log.V(1).Infof("fuse: created %s", p)
	return &objectNode{fs: d.fs, path: p}, &fileHandle{fs: d.fs, th: th, f: f}, nil
}

// objectNode is one object.
type objectNode struct {
	fs   *tblFS
	path string
}

func (n *objectNode) Attr(ctx context.Context, a *fuse.Attr) error {
	var fi tbl.FileInfo
	if err := n.fs.pool.with(func(th *tbl.Thread) (err error) {
		fi, err = th.Stat(n.path)
		return err
	}); err != nil {
		return err
	}
	a.Size = uint64(fi.Size)
	a.Mode = 0644
	return nil
}

func (n *objectNode) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fs.Handle, error) {
	th, err := n.fs.pool.getFile()
	if err != nil {
		return nil, translateError(err)
	}
	f, err := th.OpenFile(n.path)
	if err != nil {
		n.fs.pool.putFile(th)
		return nil, translateError(err)
	}
	resp.Flags |= fuse.OpenDirectIO
	return &fileHandle{fs: n.fs, th: th, f: f}, nil
}

// fileHandle keeps one object open, with the Thread that opened it, until
// released.
type fileHandle struct {
	fs *tblFS

	lock sync.Mutex
	th   *tbl.Thread
	f    *tbl.File
}

func (h *fileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, err := h.f.Seek(req.Offset, io.SeekStart); err != nil {
		return translateError(err)
	}
	data := resp.Data[:req.Size] // caller has allocated a buffer with sufficient capacity
	n, err := io.ReadFull(h.f, data)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return translateError(err)
	}
	resp.Data = data[:n]
	return nil
}

func (h *fileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	if _, err := h.f.Seek(req.Offset, io.SeekStart); err != nil {
		return translateError(err)
	}
	n, err := h.f.Write(req.Data)
	resp.Size = n
	return translateError(err)
}

func (h *fileHandle) Release(ctx context.Context, req *fuse.ReleaseRequest) error {
	h.lock.Lock()
	defer h.lock.Unlock()
	h.f.Close()
	h.fs.pool.putFile(h.th)
	return nil
}

func translateError(err error) error {
	// translate some errors specially for FUSE
	c, ok := core.ToError(err)
	if !ok {
		return err
	}
	switch c {
	case core.NoError:
		return nil
	case core.ErrNotFound:
		return fuse.ENOENT
	case core.ErrAlreadyExists:
		return fuse.EEXIST
	case core.ErrUnsupported:
		return fuse.ENOSYS
	case core.ErrBusy:
		return fuse.Errno(syscall.EMFILE)
	}
	return err
}
