// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the YAML configuration shared by the hdk command
// and the kernel HTTP service.
//
// A file only needs the keys it changes; everything else keeps the value
// from DefaultConfig. Unknown keys are an error so that typos do not pass
// silently.
//
//	kernel:
//	  max_heights: 4096
//	codec:
//	  format: text
//	server:
//	  addr: 127.0.0.1:8470
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/homotopy-kernel/pkg/logging"
	"github.com/AleutianAI/homotopy-kernel/services/kernel"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/codec"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/contraction"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/expansion"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/telemetry"
)

// EnvPath names the environment variable consulted by Locate.
const EnvPath = "HDK_CONFIG"

// Config is the whole configuration file.
type Config struct {
	Kernel    KernelConfig     `yaml:"kernel"`
	Codec     CodecConfig      `yaml:"codec"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
	Server    ServerConfig     `yaml:"server"`
	Archive   ArchiveConfig    `yaml:"archive"`
}

// KernelConfig bounds the searches of the kernel.
type KernelConfig struct {
	// MaxHeights bounds the heights one colimit may lay out.
	MaxHeights int `yaml:"max_heights" validate:"gte=1"`

	// MaxCandidates bounds the factorization candidates of one expansion.
	MaxCandidates int `yaml:"max_candidates" validate:"gte=1"`
}

// CodecConfig selects the default encoding and bounds decoding.
type CodecConfig struct {
	Format               string `yaml:"format" validate:"oneof=binary text"`
	Compress             bool   `yaml:"compress"`
	MaxEntries           int    `yaml:"max_entries" validate:"gte=1"`
	MaxDecompressedBytes uint64 `yaml:"max_decompressed_bytes" validate:"gte=1024"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,hostname_port"`

	// RateLimit is the sustained requests per second; Burst the bucket size.
	RateLimit float64 `yaml:"rate_limit" validate:"gt=0"`
	Burst     int     `yaml:"burst" validate:"gte=1"`

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gte=1024"`

	// CollectInterval is how often the server checks its store, and
	// CollectThreshold the live entry count above which it collects.
	CollectInterval  time.Duration `yaml:"collect_interval" validate:"gte=0"`
	CollectThreshold int           `yaml:"collect_threshold" validate:"gte=0"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// ArchiveConfig locates the archive of encoded diagrams.
type ArchiveConfig struct {
	Dir string `yaml:"dir" validate:"required"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	cc := codec.DefaultConfig()
	return Config{
		Kernel: KernelConfig{
			MaxHeights:    contraction.DefaultMaxHeights,
			MaxCandidates: expansion.DefaultMaxCandidates,
		},
		Codec: CodecConfig{
			Format:               "binary",
			MaxEntries:           cc.MaxEntries,
			MaxDecompressedBytes: cc.MaxDecompressedBytes,
		},
		Logging:   LoggingConfig{Level: "info"},
		Telemetry: telemetry.DefaultConfig(),
		Server: ServerConfig{
			Addr:             "127.0.0.1:8470",
			RateLimit:        50,
			Burst:            100,
			MaxBodyBytes:     16 << 20,
			CollectInterval:  30 * time.Second,
			CollectThreshold: 1 << 20,
			ShutdownTimeout:  10 * time.Second,
		},
		Archive: ArchiveConfig{Dir: "~/.hdk/archive"},
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every field against its constraints and reports all
// violations at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validating config: %w", err)
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Parse reads YAML from r on top of DefaultConfig and validates the result.
func Parse(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads the file at path. An empty path yields DefaultConfig.
func Load(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Locate returns the config path to use: flag if set, then $HDK_CONFIG,
// then ~/.hdk/hdk.yaml if it exists, else "".
func Locate(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvPath); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	path := filepath.Join(home, ".hdk", "hdk.yaml")
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	return path
}

// Write stores cfg at path as YAML, creating the directory.
func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0640)
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

// KernelConfig returns the facade configuration.
func (c Config) KernelConfig() kernel.Config {
	return kernel.Config{
		Contraction: contraction.Config{MaxHeights: c.Kernel.MaxHeights},
		Expansion:   expansion.Config{MaxCandidates: c.Kernel.MaxCandidates},
		Codec:       c.CodecConfig(),
	}
}

// CodecConfig returns the codec configuration.
func (c Config) CodecConfig() codec.Config {
	return codec.Config{
		Compress:             c.Codec.Compress,
		MaxEntries:           c.Codec.MaxEntries,
		MaxDecompressedBytes: c.Codec.MaxDecompressedBytes,
	}
}

// Format returns the default encoding.
func (c Config) Format() codec.Format {
	if c.Codec.Format == "text" {
		return codec.FormatText
	}
	return codec.FormatBinary
}

// LoggingConfig returns the logger configuration for service.
func (c Config) LoggingConfig(service string) logging.Config {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		level = logging.LevelInfo
	}
	return logging.Config{
		Level:   level,
		LogDir:  c.Logging.Dir,
		Service: service,
		JSON:    c.Logging.JSON,
		Quiet:   c.Logging.Quiet,
	}
}
