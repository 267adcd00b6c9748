// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <file|dir>...",
		Short: "Re-check diagrams whenever they change",
		Long: `watch checks the given files, and the diagram files in the given
directories, then re-checks each one after it is written. It runs until
interrupted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd.Context(), args, debounce)
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 100*time.Millisecond, "quiet period before re-checking a changed file")
	return cmd
}

// watch checks args once, then re-checks changed files until ctx is done.
//
// Description:
//
//	Files are watched through their directory so that editors that
//	replace a file on save are followed. Events are collected for the
//	debounce period and the changed files checked together.
func (a *app) watch(ctx context.Context, args []string, debounce time.Duration) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	targets := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return err
		}
		fi, err := os.Stat(abs)
		if err != nil {
			return err
		}
		dir := abs
		if fi.IsDir() {
			dirs[abs] = true
		} else {
			targets[abs] = true
			dir = filepath.Dir(abs)
		}
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}
	relevant := func(path string) bool {
		return targets[path] || (dirs[filepath.Dir(path)] && isDiagramFile(path))
	}

	files, err := expandInputs(args)
	if err != nil {
		return err
	}
	a.printer.Title(fmt.Sprintf("Watching %d path(s)", len(targets)+len(dirs)))
	for _, r := range a.checkFiles(ctx, files) {
		a.printResult(r)
	}

	pending := make(map[string]bool)
	timer := time.NewTimer(debounce)
	timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			path := filepath.Clean(ev.Name)
			if !relevant(path) {
				continue
			}
			if ev.Has(fsnotify.Remove | fsnotify.Rename) {
				delete(pending, path)
				a.printer.Warning(path + ": removed")
				continue
			}
			if ev.Has(fsnotify.Write | fsnotify.Create) {
				pending[path] = true
				timer.Reset(debounce)
			}

		case <-timer.C:
			changed := make([]string, 0, len(pending))
			for path := range pending {
				changed = append(changed, path)
			}
			clear(pending)
			sort.Strings(changed)
			for _, r := range a.checkFiles(ctx, changed) {
				a.printResult(r)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}
