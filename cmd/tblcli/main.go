// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// We should send our own log output to stderr. The command line belongs
	// to the cli, but glog wants its flags parsed before anything logs.
	flag.Set("logtostderr", "true")
	flag.CommandLine.Parse(nil)

	cli := newTblCli()

	// Catch INT and TERM signals so the service goroutine, the mount and the
	// bolt database are cleaned up when the process is forced to quit.
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		cli.stop()
		os.Exit(1)
	}()

	cli.run(os.Args)
	cli.stop()
}
