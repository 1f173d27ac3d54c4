// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	test "github.com/westerndigitalcorporation/tbl/pkg/testutil"
)

func TestMain(m *testing.M) {
	test.TestMain(m)
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil || cfg.Kernel.Workers != defaultConfig.Kernel.Workers {
		t.Fatalf("defaults: %+v %v", cfg, err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults don't validate: %s", err)
	}

	dir := test.TempDir()
	path := filepath.Join(dir, "tblcli.json")
	body := `{"Kernel": {"Workers": 2}, "DataDir": "/var/tbl"}`
	if err := ioutil.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Kernel.Workers != 2 || cfg.DataDir != "/var/tbl" {
		t.Fatalf("file not applied: %+v", cfg)
	}
	// Unset fields keep their defaults.
	if cfg.Kernel.MaxQueues != defaultConfig.Kernel.MaxQueues || cfg.Thread.TableCacheSize != 16 {
		t.Fatalf("defaults lost: %+v", cfg)
	}

	cfg.Kernel.Workers = 0
	if cfg.Validate() == nil {
		t.Fatalf("zero workers validated")
	}

	if _, err := loadConfig(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatalf("missing file loaded")
	}
}
