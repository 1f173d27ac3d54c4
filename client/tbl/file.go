// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package tbl

import (
	"fmt"
	"io"

	"github.com/westerndigitalcorporation/tbl/internal/core"
)

// File is an open object. It implements io.ReadWriteSeeker and io.Closer.
// A File uses the Thread that opened it, so it belongs to the same goroutine.
type File struct {
	t    *Thread
	h    core.Handle
	name string
}

// Name returns the path the file was opened with.
func (f *File) Name() string {
	return f.name
}

// Handle returns the file's handle, or core.NoHandle once closed.
func (f *File) Handle() core.Handle {
	return f.h
}

// Read implements io.Reader.
func (f *File) Read(p []byte) (int, error) {
	if !f.h.IsValid() {
		return 0, core.ErrBadHandle.Error()
	}
	n, err := f.t.Read(f.h, p)
	if err == nil && n == 0 && len(p) > 0 {
		return 0, core.ErrEOF.Error()
	}
	return n, err
}

// Write implements io.Writer.
func (f *File) Write(p []byte) (int, error) {
	if !f.h.IsValid() {
		return 0, core.ErrBadHandle.Error()
	}
	n, err := f.t.Write(f.h, p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if !f.h.IsValid() {
		return 0, core.ErrBadHandle.Error()
	}
	switch whence {
	case io.SeekStart, io.SeekCurrent, io.SeekEnd:
	default:
		return 0, core.ErrInvalidInput.WithMessage(fmt.Sprintf("bad whence %d", whence))
	}
	return f.t.Seek(f.h, offset, core.Whence(whence))
}

// Duplicate returns a second File for the same object with its own position.
// Both must be closed.
func (f *File) Duplicate() (*File, error) {
	if !f.h.IsValid() {
		return nil, core.ErrBadHandle.Error()
	}
	h, err := f.t.Duplicate(f.h)
	if err != nil {
		return nil, err
	}
	return &File{t: f.t, h: h, name: f.name}, nil
}

// Close releases the file's handle. Closing twice is harmless.
func (f *File) Close() error {
	if f.h.IsValid() {
		f.t.CloseHandle(f.h)
		f.h = core.NoHandle
	}
	return nil
}
