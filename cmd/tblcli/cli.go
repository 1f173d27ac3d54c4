// Copyright (c) 2018 Western Digital Corporation or its affiliates. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/codegangsta/cli"
	humanize "github.com/dustin/go-humanize"
	shlex "github.com/flynn-archive/go-shlex"
	log "github.com/golang/glog"
	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/westerndigitalcorporation/tbl/client/tbl"
	"github.com/westerndigitalcorporation/tbl/internal/core"
	"github.com/westerndigitalcorporation/tbl/internal/fuse"
	"github.com/westerndigitalcorporation/tbl/internal/kernel"
	"github.com/westerndigitalcorporation/tbl/pkg/retry"
)

var usage = `
	tblcli boots an in-process kernel and lets you browse and modify its
	tables with the same path syntax programs use:

		""                     all tables
		pci                    all objects of table "pci"
		pci/vendor-id:1234     objects of "pci" carrying that tag
		pci/vendor-id:1234/8   object 8 of "pci"
		store/etc/motd         object "etc/motd" of the path table "store"

	The kernel starts with three tables: "pci", a tag table with a few fake
	devices; "store", a path table kept in a bolt database under --data; and
	"mem", a service table answered by an in-memory service.

	Issue one command:

		tblcli [--config <file>] [--data <dir>] <subcommand> [<flags>...]

	or start a command line interpreter:

		tblcli [--config <file>] [--data <dir>] shell
	`

// tblCli owns the demo kernel and everything served from it.
type tblCli struct {
	// the command line framework we'll use to launch commands.
	app *cli.App

	// Set up on first use by boot.
	cfg     config
	k       *kernel.Kernel
	th      *tbl.Thread
	store   *kernel.BoltTable
	svc     *tbl.Thread
	svcH    core.Handle
	svcStop context.CancelFunc
	svcDone chan error
	metrics *http.Server

	// State for fuse mounts.
	mountState *fuse.MountState
	// True if we are running a shell.
	inShell bool
}

// newTblCli creates a new tblCli object.
func newTblCli() *tblCli {
	b := &tblCli{}
	app := cli.NewApp()
	app.Name = "tblcli"

	app.Usage = usage
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "JSON configuration file for the kernel and the cli's thread",
		},
		cli.StringFlag{
			Name:  "data, d",
			Usage: "directory for the bolt database of the store table (default: a temp dir)",
		},
		cli.IntFlag{
			Name:  "workers",
			Usage: "number of kernel workers (default: from config)",
		},
		cli.StringFlag{
			Name:  "metrics",
			Usage: "address to serve prometheus metrics on, e.g. localhost:9090",
		},
	}

	offsetFlag := cli.IntFlag{
		Name:  "offset, o",
		Usage: "offset within the object to read/write (default: 0)",
	}
	lengthFlag := cli.IntFlag{
		Name:  "length, l",
		Usage: "data length to read (unset or <= 0 means 'all')",
	}
	fileFlag := cli.StringFlag{
		Name:  "file, f",
		Usage: "file to read data from (default: the remaining arguments)",
	}
	createFlag := cli.BoolFlag{
		Name:  "create, c",
		Usage: "create the object first",
	}

	app.Commands = []cli.Command{
		{
			Name:   "tables",
			Usage:  "Lists all tables.",
			Action: b.cmdTables,
		},
		{
			Name:      "ls",
			Usage:     "Lists objects under a path.",
			ArgsUsage: "<path>",
			Action:    b.cmdLs,
		},
		{
			Name:      "stat",
			Aliases:   []string{"s"},
			Usage:     "Stats a table or an object.",
			ArgsUsage: "<path>",
			Action:    b.cmdStat,
		},
		{
			Name:      "cat",
			Aliases:   []string{"read", "r"},
			Usage:     "Prints the contents of an object.",
			ArgsUsage: "<path>",
			Flags:     []cli.Flag{offsetFlag, lengthFlag},
			Action:    b.cmdCat,
		},
		{
			Name:      "write",
			Aliases:   []string{"w"},
			Usage:     "Writes data to an object.",
			ArgsUsage: "<path> [<data>...]",
			Flags:     []cli.Flag{offsetFlag, fileFlag, createFlag},
			Action:    b.cmdWrite,
		},
		{
			Name:      "create",
			Aliases:   []string{"c"},
			Usage:     "Creates an empty object.",
			ArgsUsage: "<path>",
			Action:    b.cmdCreate,
		},
		{
			Name:  "mount",
			Usage: "Mounts the table namespace using FUSE.",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "path",
					Usage: "where to mount",
				},
			},
			Action: b.cmdMount,
		},
		{
			Name:   "umount",
			Usage:  "Unmounts the FUSE mount.",
			Action: b.cmdUmount,
		},
		{
			Name:   "metrics",
			Usage:  "Prints kernel resources and per-opcode figures.",
			Action: b.cmdMetrics,
		},
		{
			Name:   "shell",
			Usage:  "Starts a command line interpreter.",
			Action: b.cmdShell,
		},
	}
	b.app = app

	// By default 'HelpName' will be the parent command name('tblcli' in our
	// case) + command name. Overwrite 'HelpName' to be command name only.
	for i := range b.app.Commands {
		b.app.Commands[i].HelpName = b.app.Commands[i].Name
	}
	return b
}

// run starts a command specified by users.
func (b *tblCli) run(args []string) error {
	return b.app.Run(args)
}

// stop frees up all resources used by the tblCli object.
func (b *tblCli) stop() {
	if b.mountState != nil {
		b.mountState.Unmount()
	}
	if b.svcStop != nil {
		b.svcStop()
		if err := <-b.svcDone; err != context.Canceled {
			log.Errorf("mem service: %s", err)
		}
		b.svc.CloseHandle(b.svcH)
		b.svc.Close()
		b.svcStop = nil
	}
	if b.metrics != nil {
		b.metrics.Close()
		b.metrics = nil
	}
	if b.th != nil {
		b.th.Close()
		b.th = nil
	}
	if b.k != nil {
		b.k.Stop()
		b.k = nil
	}
	if b.store != nil {
		if err := b.store.Close(); err != nil {
			log.Errorf("closing store: %s", err)
		}
		b.store = nil
	}
}

// getThread returns the thread commands run on, booting the kernel the
// first time.
func (b *tblCli) getThread(c *cli.Context) *tbl.Thread {
	if b.th == nil {
		if err := b.boot(c); err != nil {
			log.Errorf("Couldn't start the kernel: %s", err)
			b.stop()
			os.Exit(1)
		}
	}
	return b.th
}

// boot starts the kernel and publishes the demo tables.
func (b *tblCli) boot(c *cli.Context) error {
	cfg, err := loadConfig(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if dir := c.GlobalString("data"); dir != "" {
		cfg.DataDir = dir
	}
	if n := c.GlobalInt("workers"); n != 0 {
		cfg.Kernel.Workers = n
	}
	if addr := c.GlobalString("metrics"); addr != "" {
		cfg.MetricsAddr = addr
	}
	if err = cfg.Validate(); err != nil {
		return err
	}
	b.cfg = cfg

	if b.k, err = kernel.New(cfg.Kernel); err != nil {
		return err
	}

	pci := kernel.NewMemTable(core.SchemeTags)
	for _, d := range []struct {
		id   core.ID
		tags string
		data string
	}{
		{8, "vendor-id:1234,device-id:1111,class:storage", "nvme controller config space"},
		{9, "vendor-id:1234,device-id:2222,class:network", "ethernet controller config space"},
		{16, "vendor-id:8086,device-id:1111,class:bridge", "host bridge config space"},
	} {
		sel, err := core.ParseSelector(d.tags, core.SchemeTags)
		if err != nil {
			return err
		}
		if err := pci.Add(d.id, sel, []byte(d.data)); err != core.NoError {
			return err.Error()
		}
	}
	if _, err := b.k.AddTable("pci", pci); err != core.NoError {
		return err.Error()
	}

	dir := cfg.DataDir
	if dir == "" {
		if dir, err = ioutil.TempDir("", "tblcli"); err != nil {
			return err
		}
		log.Infof("Keeping the store table in %s", dir)
	}
	if b.store, err = kernel.OpenBoltTable(filepath.Join(dir, "store.db")); err != nil {
		return err
	}
	if _, err := b.k.AddTable("store", b.store); err != core.NoError {
		return err.Error()
	}

	if err := b.startService(); err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		b.metrics = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := b.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %s", err)
			}
		}()
	}

	b.th = tbl.NewThread(b.k, cfg.Thread)
	return nil
}

// startService creates the "mem" service table and serves it from its own
// thread until stop.
func (b *tblCli) startService() error {
	b.svc = tbl.NewThread(b.k, b.cfg.Thread)
	h, err := b.svc.CreateTable("mem", core.SchemePath)
	if err != nil {
		b.svc.Close()
		return err
	}
	b.svcH = h
	mem := tbl.NewMemService()
	ctx, cancel := context.WithCancel(context.Background())
	b.svcStop = cancel
	b.svcDone = make(chan error, 1)
	go func() { b.svcDone <- b.svc.Serve(ctx, h, mem.Handle) }()
	return nil
}

// pathArg returns the first argument, which is allowed to be empty for
// commands that take the root.
func pathArg(c *cli.Context) string {
	return strings.TrimPrefix(c.Args().First(), "/")
}

// cmdTables implements the "tables" subcommand.
func (b *tblCli) cmdTables(c *cli.Context) {
	th := b.getThread(c)
	entries, err := th.ReadDir("")
	if err != nil {
		log.Errorf("Couldn't list tables: %s", err)
		return
	}
	for _, e := range entries {
		kind := "driver"
		if e.TableInfo.Service {
			kind = "service"
		}
		fmt.Printf("%-16s %-6s %s\n", e.TableInfo.Name, e.TableInfo.Scheme, kind)
	}
}

// cmdLs implements the "ls" subcommand.
func (b *tblCli) cmdLs(c *cli.Context) {
	th := b.getThread(c)
	entries, err := th.ReadDir(pathArg(c))
	if err != nil {
		log.Errorf("Couldn't list %q: %s", pathArg(c), err)
		return
	}
	for _, e := range entries {
		if e.IsTable {
			fmt.Printf("%s/\n", e.FileName())
			continue
		}
		fmt.Println(e.Path())
	}
}

// cmdStat implements the "stat" subcommand.
func (b *tblCli) cmdStat(c *cli.Context) {
	th := b.getThread(c)
	fi, err := th.Stat(pathArg(c))
	if err != nil {
		log.Errorf("Couldn't stat %q: %s", pathArg(c), err)
		return
	}
	if fi.IsDir {
		fmt.Printf("%q: directory, %s entries\n", fi.Path, humanize.Comma(fi.Size))
		return
	}
	fmt.Printf("%q: object, %s (%d bytes)\n", fi.Path, humanize.Bytes(uint64(fi.Size)), fi.Size)
}

// cmdCat implements the "cat" subcommand.
func (b *tblCli) cmdCat(c *cli.Context) {
	th := b.getThread(c)
	f, err := th.OpenFile(pathArg(c))
	if err != nil {
		log.Errorf("Couldn't open %q: %s", pathArg(c), err)
		return
	}
	defer f.Close()

	if off := c.Int("offset"); off != 0 {
		if _, err := f.Seek(int64(off), io.SeekStart); err != nil {
			log.Errorf("Seek error: %s", err)
			return
		}
	}

	var r io.Reader = f
	if length := c.Int("length"); length > 0 {
		r = io.LimitReader(f, int64(length))
	}
	if _, err := io.Copy(os.Stdout, r); err != nil {
		log.Errorf("Read error: %s", err)
		return
	}
	fmt.Println()
}

// cmdWrite implements the "write" subcommand.
func (b *tblCli) cmdWrite(c *cli.Context) {
	th := b.getThread(c)

	var data []byte
	if filename := c.String("file"); filename != "" {
		var err error
		if data, err = ioutil.ReadFile(filename); err != nil {
			log.Errorf("Couldn't open input file: %s", err)
			return
		}
	} else if c.NArg() > 1 {
		data = []byte(strings.Join(c.Args().Tail(), " "))
	} else {
		log.Errorf("Nothing to write: give data or --file.")
		return
	}

	var f *tbl.File
	var err error
	if c.Bool("create") {
		f, err = th.OpenFile(pathArg(c), tbl.OpenCreate)
	} else {
		f, err = th.OpenFile(pathArg(c))
	}
	if err != nil {
		log.Errorf("Couldn't open %q: %s", pathArg(c), err)
		return
	}
	defer f.Close()

	if off := c.Int("offset"); off != 0 {
		if _, err := f.Seek(int64(off), io.SeekStart); err != nil {
			log.Errorf("Seek error: %s", err)
			return
		}
	}
	n, err := f.Write(data)
	if err != nil {
		log.Errorf("Write error: %s", err)
		return
	}
	log.Infof("Wrote %s to %s", humanize.Bytes(uint64(n)), f.Name())
}

// cmdCreate implements the "create" subcommand.
func (b *tblCli) cmdCreate(c *cli.Context) {
	th := b.getThread(c)
	f, err := th.OpenFile(pathArg(c), tbl.OpenCreate)
	if err != nil {
		log.Errorf("Couldn't create %q: %s", pathArg(c), err)
		return
	}
	log.Infof("Created %s", f.Name())
	f.Close()
}

// cmdMetrics implements the "metrics" subcommand.
func (b *tblCli) cmdMetrics(c *cli.Context) {
	b.getThread(c)
	s := b.k.Status()
	fmt.Printf("tables %d, queues %d, pending jobs %d, run queue %d\n",
		s.Tables, s.Queues, s.PendingJobs, s.RunQueue)

	var kinds []string
	for kind := range s.Handles {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	for _, kind := range kinds {
		fmt.Printf("  %s handles: %d\n", kind, s.Handles[kind])
	}
	for _, line := range b.k.OpSummary() {
		fmt.Printf("  %s\n", line)
	}
}

// checkMountState cleans up mountState and prints a message if the fuse
// goroutine has exited. It returns true if a fuse goroutine is still running.
func (b *tblCli) checkMountState() bool {
	if b.mountState != nil && b.mountState.Exited() {
		log.Infof("Mount exited: %s", b.mountState)
		b.mountState = nil
	}
	return b.mountState != nil
}

func (b *tblCli) cmdMount(c *cli.Context) {
	if b.checkMountState() {
		log.Infof("Already mounted %s", b.mountState)
		return
	}

	path := c.String("path")
	if path == "" {
		log.Errorf("missing path")
		return
	}
	b.getThread(c)
	log.Infof("Mounting on %q...", path)
	b.mountState = fuse.Mount(b.k, b.cfg.Thread, path)

	if !b.inShell {
		for b.checkMountState() {
			time.Sleep(time.Second)
		}
	}
}

func (b *tblCli) cmdUmount(c *cli.Context) {
	if !b.checkMountState() {
		log.Infof("No table fuse system is mounted.")
		return
	}
	err := b.mountState.Unmount()
	if err != nil {
		log.Errorf("Unmount error: %s", err)
		return
	}
	// Wait for the fuse goroutine to exit.
	r := retry.Retrier{
		Backoff:  retry.Backoff{Min: 10 * time.Millisecond, Max: time.Second},
		MaxRetry: 30 * time.Second,
	}
	if ok, _ := r.Do(context.Background(), func(int) bool { return !b.checkMountState() }); !ok {
		log.Errorf("Mount still running after unmount: %s", b.mountState)
	}
}

// cmdShell implements "shell" subcommand.
func (b *tblCli) cmdShell(c *cli.Context) {
	b.inShell = true
	defer func() { b.inShell = false }()

	// Boot before the prompt so a bad config fails right away.
	b.getThread(c)

	// Make cli not exit on errors.
	cli.OsExiter = func(int) {}

	liner := liner.NewLiner()
	liner.SetCtrlCAborts(true)

	// Complete command names.
	liner.SetCompleter(func(line string) (c []string) {
		for _, cmd := range b.app.Commands {
			if strings.HasPrefix(cmd.Name, line) {
				c = append(c, cmd.Name)
			}
		}
		return
	})

	defer liner.Close()

	for {
		input, err := liner.Prompt("(tbl) ")
		if err != nil {
			if err != io.EOF {
				log.Errorf("error: %v", err)
			}
			return
		}

		// We use 'shlex' because we want split input line in to tokens using
		// shell-style rules for quoting and commenting.
		args, err := shlex.Split(input)
		if err != nil {
			log.Errorf("error:%v", err)
			continue
		}

		// Skip empty line.
		if 0 == len(args) {
			continue
		}

		if args[0] == "exit" {
			return
		}
		if args[0] == "shell" {
			log.Errorf("already in a shell")
			continue
		}

		if b.runCommand(args...) == nil {
			// Adds succeeded command to command history.
			liner.AppendHistory(input)
		}
	}
}

// runCommand runs a command after the cli gets started already. The kernel
// is up by then, so global flags are not passed again.
func (b *tblCli) runCommand(args ...string) error {
	return b.run(append([]string{"tblcli"}, args...))
}
