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
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/homotopy-kernel/pkg/logging"
	"github.com/AleutianAI/homotopy-kernel/pkg/ux"
	"github.com/AleutianAI/homotopy-kernel/services/kernel"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/codec"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/config"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/telemetry"
)

const version = "0.3.0"

// app carries what every command needs once the root pre-run has loaded
// the configuration.
type app struct {
	// Flags
	configPath  string
	logLevel    string
	personality string
	format      string

	cfg      config.Config
	logger   *logging.Logger
	printer  *ux.Printer
	metrics  *telemetry.Metrics
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "hdk",
		Short: "Check, transform and serve higher-dimensional diagrams",
		Long: `hdk works on encoded diagrams of the homotopy kernel: it checks them,
contracts and expands levels, computes normal forms, converts between the
binary and text encodings, keeps an archive, and serves the kernel over HTTP.`,
		Version:           version,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $HDK_CONFIG or ~/.hdk/hdk.yaml)")
	flags.StringVar(&a.logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")
	flags.StringVar(&a.personality, "output", "", "output style: standard, minimal, machine (default from terminal)")
	flags.StringVar(&a.format, "format", "", "encoding written: binary or text (default codec.format)")

	root.AddCommand(
		newCheckCmd(a),
		newInfoCmd(a),
		newNormalizeCmd(a),
		newContractCmd(a),
		newExpandCmd(a),
		newConvertCmd(a),
		newDemoCmd(a),
		newWatchCmd(a),
		newServeCmd(a),
		newArchiveCmd(a),
	)
	return root
}

// setup loads configuration, logging and telemetry.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(config.Locate(a.configPath))
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		if _, err := logging.ParseLevel(a.logLevel); err != nil {
			return err
		}
		cfg.Logging.Level = a.logLevel
	}
	if a.format != "" {
		f, err := codec.ParseFormat(a.format)
		if err != nil {
			return err
		}
		cfg.Codec.Format = f.String()
	}
	// Only the server is scraped; one-shot commands have no use for a
	// Prometheus registry.
	if cmd.Name() != "serve" && cfg.Telemetry.MetricExporter == telemetry.ExporterPrometheus {
		cfg.Telemetry.MetricExporter = telemetry.ExporterNone
	}
	a.cfg = cfg

	if a.personality != "" {
		ux.SetPersonalityLevel(ux.ParsePersonalityLevel(a.personality))
	} else {
		ux.InitPersonality()
	}
	a.printer = ux.NewPrinter(cmd.OutOrStdout(), ux.GetPersonalityLevel())

	a.logger = logging.New(cfg.LoggingConfig("hdk"))

	shutdown, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		return err
	}
	a.shutdown = shutdown
	a.metrics, err = telemetry.NewMetrics(otel.Meter(telemetry.MeterName))
	if err != nil {
		return err
	}
	a.logger.Debug("configuration loaded", "command", cmd.CommandPath(), "format", cfg.Codec.Format)
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	var errs []error
	if a.shutdown != nil {
		errs = append(errs, a.shutdown(context.WithoutCancel(ctx)))
		a.shutdown = nil
	}
	if a.logger != nil {
		errs = append(errs, a.logger.Close())
	}
	return errors.Join(errs...)
}

// newKernel creates a kernel with its own store.
func (a *app) newKernel() *kernel.Kernel {
	return kernel.New(
		kernel.WithConfig(a.cfg.KernelConfig()),
		kernel.WithLogger(a.logger.Slog()),
		kernel.WithMetrics(a.metrics),
	)
}

// readInput reads path, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// loadDiagram reads and decodes the diagram at path.
func (a *app) loadDiagram(cmd *cobra.Command, k *kernel.Kernel, path string) (diagram.Diagram, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return diagram.Diagram{}, err
	}
	d, err := k.Decode(cmd.Context(), data)
	if err != nil {
		return diagram.Diagram{}, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// writeDiagram encodes d in the configured format to path, or to stdout
// when path is empty or "-". It reports whether a file was written.
func (a *app) writeDiagram(cmd *cobra.Command, k *kernel.Kernel, d diagram.Diagram, path string) (bool, error) {
	data, err := k.Encode(cmd.Context(), d, a.cfg.Format())
	if err != nil {
		return false, err
	}
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return false, err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return false, err
	}
	return true, nil
}

// reportDiagram prints the summary of d after it was written to path.
func (a *app) reportDiagram(cmd *cobra.Command, k *kernel.Kernel, d diagram.Diagram, path string) error {
	info, err := k.Info(cmd.Context(), d)
	if err != nil {
		return err
	}
	a.printer.Success(fmt.Sprintf("wrote %s", path))
	printInfo(a.printer, info)
	return nil
}

func printInfo(p *ux.Printer, info kernel.Info) {
	p.Field("dim", info.Dim)
	p.Field("size", info.Size)
	p.Field("key", info.Key)
	p.Field("describe", info.Description)
}

// diagramExtensions are the file extensions picked up from directories.
var diagramExtensions = []string{".hdk", ".json"}

func isDiagramFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range diagramExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
