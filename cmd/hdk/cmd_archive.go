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
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/archive"
)

func newArchiveCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Store and retrieve diagrams by Merkle key",
	}
	cmd.PersistentFlags().StringVar(&dir, "dir", "", "archive directory (default archive.dir)")

	open := func() (*archive.Archive, error) {
		path := a.cfg.Archive.Dir
		if dir != "" {
			path = dir
		}
		cfg := archive.DefaultConfig(expandHome(path))
		cfg.Logger = a.logger.Slog().With("component", "archive")
		return archive.Open(cfg)
	}

	cmd.AddCommand(
		newArchivePutCmd(a, open),
		newArchiveGetCmd(a, open),
		newArchiveListCmd(a, open),
		newArchiveDeleteCmd(a, open),
	)
	return cmd
}

type openArchive func() (*archive.Archive, error)

func newArchivePutCmd(a *app, open openArchive) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Check a diagram and archive its canonical encoding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			k := a.newKernel()
			d, err := a.loadDiagram(cmd, k, args[0])
			if err != nil {
				return err
			}
			format := a.cfg.Format()
			data, err := k.Encode(ctx, d, format)
			if err != nil {
				return err
			}
			info, err := k.Info(ctx, d)
			if err != nil {
				return err
			}
			key, err := archive.ParseKey(info.Key)
			if err != nil {
				return err
			}

			ar, err := open()
			if err != nil {
				return err
			}
			defer ar.Close()
			err = ar.Put(ctx, archive.Record{
				Key:    key,
				Name:   name,
				Format: format.String(),
				Dim:    info.Dim,
				Size:   info.Size,
				Data:   data,
			})
			if err != nil {
				return err
			}
			a.printer.Success("archived " + info.Key)
			if name != "" {
				a.printer.Field("name", name)
			}
			printInfo(a.printer, info)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name to point at the diagram")
	return cmd
}

func newArchiveGetCmd(a *app, open openArchive) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <name|key>",
		Short: "Write an archived diagram, checked and in the configured format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ar, err := open()
			if err != nil {
				return err
			}
			defer ar.Close()
			key, err := ar.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			rec, err := ar.Get(ctx, key)
			if err != nil {
				return err
			}

			k := a.newKernel()
			d, err := k.Decode(ctx, rec.Data)
			if err != nil {
				return fmt.Errorf("archived %s: %w", key, err)
			}
			return a.emit(cmd, k, d, out)
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newArchiveListCmd(a *app, open openArchive) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archived diagrams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ar, err := open()
			if err != nil {
				return err
			}
			defer ar.Close()
			records, err := ar.List(cmd.Context())
			if err != nil {
				return err
			}
			a.printer.Title(fmt.Sprintf("%d archived diagram(s)", len(records)))
			for _, r := range records {
				name := r.Name
				if name == "" {
					name = "-"
				}
				a.printer.Item(fmt.Sprintf("%s %s dim=%d size=%d bytes=%d format=%s stored=%s",
					r.Key, name, r.Dim, r.Size, r.Bytes, r.Format, r.Stored.Format(time.RFC3339)))
			}
			return nil
		},
	}
}

func newArchiveDeleteCmd(a *app, open openArchive) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name|key>",
		Short: "Remove an archived diagram",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ar, err := open()
			if err != nil {
				return err
			}
			defer ar.Close()
			key, err := ar.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			if err := ar.Delete(ctx, key); err != nil {
				return err
			}
			a.printer.Success("deleted " + key.String())
			return nil
		},
	}
}
