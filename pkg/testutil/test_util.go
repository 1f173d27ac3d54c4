// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT
//
// Helpers shared by package tests. Put this in a file named main_test.go in
// your package so that the per-process temp directory is removed after a
// successful run:
/*

package mypkg

import (
	"testing"

	test "github.com/westerndigitalcorporation/tbl/pkg/testutil"
)

func TestMain(m *testing.M) {
	test.TestMain(m)
}

*/

package testutil

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	log "github.com/golang/glog"
)

var tempDir string

// TempDir returns a directory exclusive to this test process, creating it on
// first use under TMPDIR (or the OS default).
func TempDir() string {
	if tempDir == "" {
		var err error
		tempDir, err = os.MkdirTemp("", filepath.Base(os.Args[0]))
		if err != nil {
			log.Fatalf("couldn't create temp dir: %s", err)
		}
	}
	return tempDir
}

// TestDir returns a fresh directory inside TempDir for the running test.
func TestDir(t *testing.T) string {
	name := strings.Replace(t.Name(), "/", "_", -1)
	dir, err := os.MkdirTemp(TempDir(), name)
	if err != nil {
		t.Fatalf("couldn't create test dir: %s", err)
	}
	return dir
}

// WaitForCondition polls 'cond' until it returns true, failing the test with
// 'what' if that doesn't happen within 'timeout'. Use it to wait for
// something another goroutine does, e.g. a job becoming pending.
func WaitForCondition(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after %s waiting for %s", timeout, what)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestMain should be called from your package TestMain. The temp directory is
// kept when tests fail, for inspection.
func TestMain(m *testing.M) {
	flag.Parse()
	ret := m.Run()
	if ret == 0 && tempDir != "" {
		os.RemoveAll(tempDir)
	}
	os.Exit(ret)
}
