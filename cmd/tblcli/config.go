// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/westerndigitalcorporation/tbl/client/tbl"
	"github.com/westerndigitalcorporation/tbl/internal/kernel"
)

/*

Configuring the demo kernel follows three steps:

  (1) Default parameters are pulled from 'defaultConfig'.

  (2) An optional configuration file (in json format) given with '--config'
      overrides the defaults.

  (3) Global flags such as '--workers' or '--data' override each individual
      parameter set in the previous two steps.

*/

// config is everything tblcli needs to boot its kernel.
type config struct {
	Kernel kernel.Config
	Thread tbl.Options

	// Directory holding the bolt database of the "store" table.
	DataDir string

	// If set, prometheus metrics are served over http on this address.
	MetricsAddr string
}

var defaultConfig = config{
	Kernel:  kernel.DefaultConfig,
	Thread:  cliThreadOptions(),
	DataDir: "",
}

// cliThreadOptions caches table names, which never change under the cli
// except when a table is created.
func cliThreadOptions() tbl.Options {
	o := tbl.DefaultOptions
	o.TableCacheSize = 16
	return o
}

// loadConfig reads 'path' over the defaults. An empty path yields the
// defaults.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig
	if path == "" {
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("couldn't open the provided config file: %s", err)
	}
	defer f.Close()
	if err = json.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode the config file: %s", err)
	}
	return cfg, nil
}

// Validate checks both halves of the configuration.
func (c config) Validate() error {
	if err := c.Kernel.Validate(); err != nil {
		return err
	}
	return c.Thread.Validate()
}
