// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{in: "debug", want: LevelDebug},
		{in: "INFO", want: LevelInfo},
		{in: "", want: LevelInfo},
		{in: " warning ", want: LevelWarn},
		{in: "error", want: LevelError},
		{in: "loud", want: LevelInfo, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLevel_SlogRoundTrip(t *testing.T) {
	for _, l := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
		assert.Equal(t, l, fromSlogLevel(l.toSlogLevel()), l.String())
	}
	assert.Equal(t, slog.LevelInfo, Level(42).toSlogLevel())
}

func TestNew_QuietFallsBackToStderr(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()
	require.NotNil(t, logger.Slog())
	assert.True(t, logger.Slog().Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, logger.Slog().Enabled(context.Background(), slog.LevelDebug))
}

func TestNew_WritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "hdk-test", Quiet: true, Level: LevelDebug})
	logger.Debug("contracted", "height", 3)
	require.NoError(t, logger.Close())

	name := "hdk-test_" + time.Now().Format("2006-01-02") + ".log"
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record))
	assert.Equal(t, "contracted", record["msg"])
	assert.Equal(t, "hdk-test", record["service"])
	assert.EqualValues(t, 3, record["height"])
}

func TestNew_DefaultFileName(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})
	logger.Info("hello")
	require.NoError(t, logger.Close())

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasPrefix(files[0].Name(), "hdk_"))
}

func TestNew_ExporterReceivesSlogRecords(t *testing.T) {
	exporter := NewBufferedExporter()
	logger := New(Config{Quiet: true, Service: "svc", Exporter: exporter, Level: LevelInfo})

	logger.Slog().With("op", "normalize").Info("done", slog.Int("levels", 2))
	logger.Debug("filtered")

	require.Eventually(t, func() bool { return len(exporter.Entries()) == 1 }, time.Second, 5*time.Millisecond)
	entry := exporter.Entries()[0]
	assert.Equal(t, "done", entry.Message)
	assert.Equal(t, LevelInfo, entry.Level)
	assert.Equal(t, "svc", entry.Service)
	assert.Equal(t, "normalize", entry.Attrs["op"])
	assert.EqualValues(t, 2, entry.Attrs["levels"])
	assert.NoError(t, logger.Close())
}

func TestLogger_WithSharesResources(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})
	child := logger.With("request_id", "r1")
	assert.Same(t, logger.file, child.file)
	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "rel/path", expandPath("rel/path"))
}
