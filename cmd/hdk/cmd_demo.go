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
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/codec"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/fixtures"
)

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo <dir>",
		Short: "Write a set of example diagrams to a directory",
		Long: `demo writes small well-formed diagrams (arrows, a 2-cell, scalars side by
side, identity levels, a bubble) as .hdk (binary) or .json (text) files, to
try the other commands on.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			if err := os.MkdirAll(dir, 0750); err != nil {
				return err
			}

			k := a.newKernel()
			var all map[string]diagram.Diagram
			err := k.Do(cmd.Context(), func(st *diagram.Store) error {
				w, err := fixtures.Build(st)
				if err != nil {
					return err
				}
				all, err = w.All()
				return err
			})
			if err != nil {
				return err
			}

			format := a.cfg.Format()
			ext := ".hdk"
			if format == codec.FormatText {
				ext = ".json"
			}
			names := make([]string, 0, len(all))
			for name := range all {
				names = append(names, name)
			}
			sort.Strings(names)

			a.printer.Title(fmt.Sprintf("Writing %d diagrams to %s", len(names), dir))
			for _, name := range names {
				data, err := k.Encode(cmd.Context(), all[name], format)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				path := filepath.Join(dir, name+ext)
				if err := os.WriteFile(path, data, 0644); err != nil {
					return err
				}
				a.printer.Success(path)
			}
			return nil
		},
	}
}
