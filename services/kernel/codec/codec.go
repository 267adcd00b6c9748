// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package codec serializes the handle graph of a diagram.
//
// Handles are process-local, so the encoding names every diagram, rewrite
// and cone by a Merkle key computed from its content. Entries are written
// children first, ordered by their height in the graph and then by key,
// which makes the output a pure function of the diagram: the same diagram
// encodes to the same bytes on every machine and in every process.
//
// Two formats share that graph. The binary format is compact, little
// endian and optionally zstd compressed; the text format is JSON meant for
// humans and diffs. Decode accepts both.
package codec

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
)

// Format selects an encoding.
type Format int

const (
	FormatBinary Format = iota
	FormatText
)

func (f Format) String() string {
	if f == FormatText {
		return "text"
	}
	return "binary"
}

// ParseFormat parses "binary" or "text".
func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "binary", "bin":
		return FormatBinary, nil
	case "text", "json":
		return FormatText, nil
	}
	return FormatBinary, fmt.Errorf("unknown format %q", s)
}

// Config configures a Codec.
type Config struct {
	// Compress zstd-compresses the body of binary encodings.
	Compress bool

	// MaxEntries bounds the entries accepted by Decode.
	MaxEntries int

	// MaxDecompressedBytes bounds a compressed body after decompression.
	MaxDecompressedBytes uint64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:           1 << 22,
		MaxDecompressedBytes: 256 << 20,
	}
}

// Option configures a Codec.
type Option func(*Codec)

// WithConfig replaces the configuration.
func WithConfig(c Config) Option {
	return func(x *Codec) {
		x.config = c
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(x *Codec) {
		if l != nil {
			x.logger = l
		}
	}
}

// Codec encodes and decodes diagrams of one store.
//
// Thread Safety:
//
//	Not safe for concurrent use; owned by the same owner as the store.
type Codec struct {
	st     *diagram.Store
	config Config
	logger *slog.Logger
}

// New creates a codec for st.
func New(st *diagram.Store, opts ...Option) *Codec {
	c := &Codec{st: st, config: DefaultConfig(), logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Encode serializes d in the given format.
func (c *Codec) Encode(d diagram.Diagram, format Format) ([]byte, error) {
	g := c.graph(d)
	if format == FormatText {
		return encodeText(g)
	}
	return encodeBinary(g, c.config.Compress)
}

// RootKey returns the Merkle key of d, the key under which it is
// content-addressed.
func (c *Codec) RootKey(d diagram.Diagram) Key {
	return c.graph(d).root
}

// Decode rebuilds a diagram from either format.
//
// Description:
//
//	The format is detected from the first bytes. Entries are parsed with
//	every count bounded by the remaining input, keys are recomputed and
//	compared, and the graph is rebuilt from the root with an explicit
//	stack. The result is not checked for well-formedness; callers must
//	run the checker before trusting it.
//
// Outputs:
//
//	diagram.Diagram - The decoded diagram.
//	error - *CodecError wrapping ErrMalformed or ErrVersionMismatch.
func (c *Codec) Decode(data []byte) (diagram.Diagram, error) {
	format, err := Detect(data)
	if err != nil {
		return diagram.Diagram{}, err
	}
	var g *graph
	if format == FormatText {
		g, err = decodeText(data, c.config)
	} else {
		g, err = decodeBinary(data, c.config)
	}
	if err != nil {
		return diagram.Diagram{}, err
	}
	d, err := c.build(g)
	if err != nil {
		return diagram.Diagram{}, err
	}
	c.logger.Debug("decoded",
		slog.String("format", format.String()),
		slog.Int("entries", len(g.entries)),
		slog.String("root", g.root.String()))
	return d, nil
}

// Detect reports the format of an encoding.
func Detect(data []byte) (Format, error) {
	if bytes.HasPrefix(data, magic[:]) {
		return FormatBinary, nil
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatText, nil
	}
	if len(data) < len(magic) {
		return FormatBinary, malformed(0, "input of %d bytes is too short", len(data))
	}
	return FormatBinary, malformed(0, "unrecognized format")
}
