// LeakDumper demo - opens a batch of files, forgets to close some of them
// and lets the detector report the leftovers.
//
// Usage:
//
//	INITIAL_GRACE=0 MIN_LIFE=3000 leakdemo --files 5 --leak 2 --hold 8s
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"
	"time"

	"github.com/agilira/leakdumper"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	base, err := leakdumper.LoadConfigFromEnv()
	if err != nil {
		return err
	}

	fs := leakdumper.NewFlagSet("leakdemo", base)
	fs.SetDescription("Opens files through the leak detector and leaves some of them open")
	fs.SetVersion("1.0.0")
	fs.Int("files", 5, "Number of files to open")
	fs.Int("leak", 1, "How many of them to leave open")
	fs.Duration("hold", 12*time.Second, "How long to keep running after opening")
	fs.String("dir", "", "Directory for the demo files (default: a temporary directory)")

	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			fs.PrintHelp()
			return nil
		}
	}
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("failed to parse command-line flags: %w", err)
	}

	config := leakdumper.ConfigFromFlagSet(fs, base)
	files, leak := fs.GetInt("files"), fs.GetInt("leak")
	if files < 0 || leak < 0 {
		return fmt.Errorf("--files and --leak must not be negative")
	}
	if leak > files {
		leak = files
	}

	dir := fs.GetString("dir")
	if dir == "" {
		if dir, err = os.MkdirTemp("", "leakdemo-"); err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(dir) }()
	}

	dumper, err := leakdumper.New(*config)
	if err != nil {
		return err
	}
	defer func() { _ = dumper.Close() }()

	if wait := config.InitialGrace - dumper.Uptime(); wait > 0 {
		fmt.Printf("waiting %v for the initial grace period\n", wait.Round(time.Millisecond))
		time.Sleep(wait)
	}

	opened := make([]*leakdumper.File, 0, files)
	for i := 0; i < files; i++ {
		path := fmt.Sprintf("%s/demo-%02d.dat", dir, i)
		if err := os.WriteFile(path, []byte("leakdumper demo\n"), 0600); err != nil {
			return err
		}
		f, err := dumper.Open(path)
		if err != nil {
			return err
		}
		opened = append(opened, f)
	}

	for _, f := range opened[leak:] {
		_ = f.Close()
	}
	fmt.Printf("opened %d file(s), left %d open, holding for %v\n", files, leak, fs.GetDuration("hold"))

	time.Sleep(fs.GetDuration("hold"))

	stats := dumper.Stats()
	fmt.Printf("tracked=%d suppressed=%d cancelled=%d reported=%d\n",
		stats.Started, stats.Suppressed, stats.Cancelled, stats.Reported)
	return nil
}
