// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/homotopy-kernel/pkg/logging"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/codec"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	assert.NoError(t, DefaultConfig().Validate())
}

func TestParse_OverlaysDefaults(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg, err := Parse(strings.NewReader(`
kernel:
  max_heights: 64
codec:
  format: text
  compress: true
server:
  collect_interval: 5s
logging:
  level: debug
`))
	require.NoError(t, err)
	assert.Equal(t, 64, cfg.Kernel.MaxHeights)
	assert.Equal(t, DefaultConfig().Kernel.MaxCandidates, cfg.Kernel.MaxCandidates)
	assert.Equal(t, codec.FormatText, cfg.Format())
	assert.True(t, cfg.CodecConfig().Compress)
	assert.Equal(t, 5*time.Second, cfg.Server.CollectInterval)
	assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
	assert.Equal(t, logging.LevelDebug, cfg.LoggingConfig("hdk").Level)

	kc := cfg.KernelConfig()
	assert.Equal(t, 64, kc.Contraction.MaxHeights)
	assert.True(t, kc.Codec.Compress)
}

func TestParse_Empty(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestParse_Invalid(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "unknown key", yaml: "kernel:\n  max_height: 3\n", want: "max_height"},
		{name: "zero heights", yaml: "kernel:\n  max_heights: 0\n", want: "MaxHeights"},
		{name: "bad format", yaml: "codec:\n  format: xml\n", want: "Format"},
		{name: "bad level", yaml: "logging:\n  level: loud\n", want: "Level"},
		{name: "bad addr", yaml: "server:\n  addr: nowhere\n", want: "Addr"},
		{name: "bad exporter", yaml: "telemetry:\n  trace_exporter: zipkin\n", want: "TraceExporter"},
		{name: "bad ratio", yaml: "telemetry:\n  sample_ratio: 2\n", want: "SampleRatio"},
		{name: "not yaml", yaml: "kernel: [", want: "parsing config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestWriteLoad_RoundTrip(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	path := filepath.Join(t.TempDir(), "nested", "hdk.yaml")
	want := DefaultConfig()
	want.Kernel.MaxCandidates = 17
	want.Server.ShutdownTimeout = 3 * time.Second
	require.NoError(t, Write(path, want))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLocate(t *testing.T) {
	t.Setenv(EnvPath, "/etc/hdk.yaml")
	assert.Equal(t, "flag.yaml", Locate("flag.yaml"))
	assert.Equal(t, "/etc/hdk.yaml", Locate(""))

	t.Setenv(EnvPath, "")
	t.Setenv("HOME", t.TempDir())
	assert.Equal(t, "", Locate(""))
}
