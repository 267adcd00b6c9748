// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
)

// Binary layout, all integers little endian:
//
//	header:  "HDKC" | version uint16 | flags uint16
//	body:    root uint64 | count uint32 | count × entry
//	entry:   kind uint8 | key uint64 | payload
//
// With flagZstd the body is a single zstd frame.
var magic = [4]byte{'H', 'D', 'K', 'C'}

const (
	// BinaryVersion is the binary format version written by Encode.
	BinaryVersion uint16 = 1

	flagZstd uint16 = 1 << 0

	headerSize = 8
	// minEntrySize is kind, key and the smallest payload (identity).
	minEntrySize = 1 + 8 + 4
)

func encodeBinary(g *graph, compress bool) ([]byte, error) {
	le := binary.LittleEndian
	body := make([]byte, 0, 12+len(g.entries)*32)
	body = le.AppendUint64(body, uint64(g.root))
	body = le.AppendUint32(body, uint32(len(g.entries)))
	for _, e := range g.entries {
		body = append(body, byte(e.kind))
		body = le.AppendUint64(body, uint64(e.key))
		body = appendPayload(body, e)
	}

	var flags uint16
	if compress {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderConcurrency(1),
			zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		body = enc.EncodeAll(body, nil)
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("closing zstd encoder: %w", err)
		}
		flags |= flagZstd
	}

	out := make([]byte, 0, headerSize+len(body))
	out = append(out, magic[:]...)
	out = le.AppendUint16(out, BinaryVersion)
	out = le.AppendUint16(out, flags)
	return append(out, body...), nil
}

// reader consumes fixed-width integers and remembers the first failure.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.remaining() < n {
		r.err = malformed(r.off, "truncated: need %d bytes, have %d", n, r.remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if b := r.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) key() Key { return Key(r.u64()) }

// count reads a length prefix and rejects it if the remaining input could
// not hold that many items of the given size.
func (r *reader) count(itemSize int) int {
	n := r.u32()
	if r.err != nil {
		return 0
	}
	if uint64(n)*uint64(itemSize) > uint64(r.remaining()) {
		r.err = malformed(r.off, "count %d exceeds the remaining %d bytes", n, r.remaining())
		return 0
	}
	return int(n)
}

func (r *reader) generator() diagram.Generator {
	id := r.u32()
	return diagram.Generator{ID: id, Dim: r.u32()}
}

func (r *reader) pairs() []keyPair {
	n := r.count(16)
	if n == 0 {
		return nil
	}
	out := make([]keyPair, n)
	for i := range out {
		out[i] = keyPair{r.key(), r.key()}
	}
	return out
}

func decodeBinary(data []byte, config Config) (*graph, error) {
	if len(data) < headerSize {
		return nil, malformed(0, "truncated header")
	}
	le := binary.LittleEndian
	version := le.Uint16(data[4:6])
	flags := le.Uint16(data[6:8])
	if version != BinaryVersion {
		return nil, versionMismatch("binary version %d, supported %d", version, BinaryVersion)
	}
	if flags&^flagZstd != 0 {
		return nil, malformed(6, "unknown flags %#04x", flags)
	}

	body := data[headerSize:]
	if flags&flagZstd != 0 {
		limit := config.MaxDecompressedBytes
		if limit == 0 {
			limit = DefaultConfig().MaxDecompressedBytes
		}
		dec, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(limit))
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		body, err = dec.DecodeAll(body, nil)
		dec.Close()
		if err != nil {
			return nil, malformed(headerSize, "compressed body: %v", err)
		}
	}

	r := &reader{buf: body}
	g := &graph{root: r.key()}
	n := r.count(minEntrySize)
	if r.err != nil {
		return nil, r.err
	}
	if config.MaxEntries > 0 && n > config.MaxEntries {
		return nil, malformed(8, "%d entries exceed the limit of %d", n, config.MaxEntries)
	}

	g.entries = make([]*entry, 0, n)
	var scratch []byte
	for i := 0; i < n; i++ {
		start := r.off
		e := &entry{kind: entryKind(r.u8()), key: r.key()}
		switch e.kind {
		case kindPoint:
			e.gen = r.generator()
		case kindDiagram:
			e.dim = r.u32()
			e.source = r.key()
			e.cospans = r.pairs()
		case kindIdentity:
			e.dim = r.u32()
		case kindAtom:
			e.gen = r.generator()
			e.tgt = r.generator()
		case kindRewrite:
			e.dim = r.u32()
			if m := r.count(12); m > 0 {
				e.cones = make([]coneRef, m)
				for j := range e.cones {
					e.cones[j] = coneRef{index: r.u32(), cone: r.key()}
				}
			}
		case kindCone:
			e.cospans = r.pairs()
			e.target = keyPair{r.key(), r.key()}
			if m := r.count(8); m > 0 {
				e.slices = make([]Key, m)
				for j := range e.slices {
					e.slices[j] = r.key()
				}
			}
		default:
			if r.err == nil {
				return nil, malformed(start, "unknown entry kind %d", uint8(e.kind))
			}
		}
		if r.err != nil {
			return nil, r.err
		}

		var want Key
		want, scratch = merkleKey(e, scratch)
		if want != e.key {
			return nil, malformed(start, "entry %d: key %s does not match content %s", i, e.key, want)
		}
		g.entries = append(g.entries, e)
	}
	if r.remaining() != 0 {
		return nil, malformed(r.off, "%d trailing bytes", r.remaining())
	}
	return g, nil
}
