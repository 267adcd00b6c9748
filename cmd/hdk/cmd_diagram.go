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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/homotopy-kernel/services/kernel"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/contraction"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
)

// =============================================================================
// check
// =============================================================================

// checkResult is the outcome of checking one file.
type checkResult struct {
	Path  string
	Info  kernel.Info
	Class kernel.Classification
	Err   error
}

func newCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file|dir>...",
		Short: "Decode and check diagrams, reporting every malformation",
		Long: `check decodes each file with its own kernel, in parallel, and reports
every structural malformation found. Directories are searched for .hdk and
.json files. The command fails if any file fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := expandInputs(args)
			if err != nil {
				return err
			}
			results := a.checkFiles(cmd.Context(), files)

			a.printer.Title(fmt.Sprintf("Checked %d file(s)", len(results)))
			failed := 0
			for _, r := range results {
				if a.printResult(r) {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
			}
			return nil
		},
	}
}

// expandInputs replaces directories by the diagram files directly in them.
func expandInputs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		fi, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !fi.IsDir() {
			files = append(files, arg)
			continue
		}
		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && isDiagramFile(e.Name()) {
				files = append(files, filepath.Join(arg, e.Name()))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// checkFiles checks every file on its own kernel. Kernels share nothing,
// so the files are checked in parallel.
func (a *app) checkFiles(ctx context.Context, files []string) []checkResult {
	results := make([]checkResult, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, path := range files {
		i, path := i, path
		g.Go(func() error {
			results[i] = a.checkFile(gctx, path)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (a *app) checkFile(ctx context.Context, path string) checkResult {
	res := checkResult{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		res.Err = err
		res.Class = kernel.Classification{Code: kernel.CodeInvalidArgument}
		return res
	}
	k := a.newKernel()
	d, err := k.Decode(ctx, data)
	if err == nil {
		res.Info, err = k.Info(ctx, d)
	}
	res.Err = err
	res.Class = kernel.Classify(err)
	return res
}

// printResult prints r and reports whether it failed.
func (a *app) printResult(r checkResult) bool {
	if r.Err == nil {
		a.printer.Success(fmt.Sprintf("%s: %s", r.Path, r.Info.Description))
		return false
	}
	if r.Class.Code == kernel.CodeMalformed {
		a.printer.Error(fmt.Sprintf("%s: %d malformation(s)", r.Path, len(r.Class.Malformations)))
		for _, m := range r.Class.Malformations {
			a.printer.Item(fmt.Sprintf("%s [%s] %s", m.Path, m.Kind, m.Message))
		}
		return true
	}
	a.printer.Error(fmt.Sprintf("%s: %s: %v", r.Path, r.Class.Code, r.Err))
	return true
}

// =============================================================================
// info
// =============================================================================

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Print the dimension, size and Merkle key of a diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := a.newKernel()
			d, err := a.loadDiagram(cmd, k, args[0])
			if err != nil {
				return err
			}
			info, err := k.Info(cmd.Context(), d)
			if err != nil {
				return err
			}
			a.printer.Title(args[0])
			printInfo(a.printer, info)
			return nil
		},
	}
}

// =============================================================================
// normalize
// =============================================================================

func newNormalizeCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "normalize <file>",
		Short: "Write the normal form of a diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := a.newKernel()
			d, err := a.loadDiagram(cmd, k, args[0])
			if err != nil {
				return err
			}
			res, err := k.Normalize(cmd.Context(), d)
			if err != nil {
				return err
			}
			return a.emit(cmd, k, res.Diagram, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

// emit writes d and, when it went to a file, prints its summary.
func (a *app) emit(cmd *cobra.Command, k *kernel.Kernel, d diagram.Diagram, out string) error {
	wrote, err := a.writeDiagram(cmd, k, d, out)
	if err != nil || !wrote {
		return err
	}
	return a.reportDiagram(cmd, k, d, out)
}

// =============================================================================
// contract / expand
// =============================================================================

func newContractCmd(a *app) *cobra.Command {
	var (
		out       string
		height    int
		direction string
		bias      string
	)
	cmd := &cobra.Command{
		Use:   "contract <file>",
		Short: "Merge the level at --height with its neighbour",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := diagram.ParseDirection(direction)
			if err != nil {
				return err
			}
			b, err := contraction.ParseBias(bias)
			if err != nil {
				return err
			}
			k := a.newKernel()
			d, err := a.loadDiagram(cmd, k, args[0])
			if err != nil {
				return err
			}
			res, err := k.Contract(cmd.Context(), d, height, dir, b)
			if err != nil {
				return fmt.Errorf("%s: %w", kernel.Classify(err).Code, err)
			}
			return a.emit(cmd, k, res.Diagram, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().IntVar(&height, "height", 0, "level to merge")
	cmd.Flags().StringVar(&direction, "direction", "forward", "forward merges height and height+1, backward height-1 and height")
	cmd.Flags().StringVar(&bias, "bias", "none", "tie-break between independent parts: none, lower, higher")
	return cmd
}

func newExpandCmd(a *app) *cobra.Command {
	var (
		out       string
		path      []int
		direction string
	)
	cmd := &cobra.Command{
		Use:   "expand <file>",
		Short: "Split the singular part addressed by --path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(path) == 0 {
				return errors.New("--path is required")
			}
			dir, err := diagram.ParseDirection(direction)
			if err != nil {
				return err
			}
			k := a.newKernel()
			d, err := a.loadDiagram(cmd, k, args[0])
			if err != nil {
				return err
			}
			res, err := k.Expand(cmd.Context(), d, path, dir)
			if err != nil {
				return fmt.Errorf("%s: %w", kernel.Classify(err).Code, err)
			}
			return a.emit(cmd, k, res.Diagram, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().IntSliceVar(&path, "path", nil, "singular height per dimension, outermost first (e.g. 0,1)")
	cmd.Flags().StringVar(&direction, "direction", "forward", "forward or backward")
	return cmd
}

// =============================================================================
// convert
// =============================================================================

func newConvertCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "convert <file>",
		Short: "Re-encode a diagram in the format given by --format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := a.newKernel()
			d, err := a.loadDiagram(cmd, k, args[0])
			if err != nil {
				return err
			}
			return a.emit(cmd, k, d, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}
