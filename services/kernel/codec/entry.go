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

	"github.com/cespare/xxhash/v2"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
)

// Key identifies an entry by the xxhash64 of its kind and payload. Child
// entries enter the payload through their keys, so a key covers the whole
// sub-graph below it.
type Key uint64

func (k Key) String() string {
	return fmt.Sprintf("%016x", uint64(k))
}

type entryKind uint8

const (
	kindPoint entryKind = iota + 1
	kindDiagram
	kindIdentity
	kindAtom
	kindRewrite
	kindCone
)

var kindNames = map[entryKind]string{
	kindPoint:    "point",
	kindDiagram:  "diagram",
	kindIdentity: "identity",
	kindAtom:     "atom",
	kindRewrite:  "rewrite",
	kindCone:     "cone",
}

func (k entryKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k entryKind) isDiagram() bool { return k == kindPoint || k == kindDiagram }

func (k entryKind) isRewrite() bool {
	return k == kindIdentity || k == kindAtom || k == kindRewrite
}

type keyPair [2]Key

// entry is one node of the encoded graph.
//
// Field use by kind:
//
//	point:    gen
//	diagram:  dim, source, cospans
//	identity: dim
//	atom:     gen (source), tgt
//	rewrite:  dim, cones
//	cone:     cospans (source), target, slices
type entry struct {
	kind    entryKind
	key     Key
	dim     uint32
	gen     diagram.Generator
	tgt     diagram.Generator
	source  Key
	cospans []keyPair
	cones   []coneRef
	target  keyPair
	slices  []Key
	height  int
}

type coneRef struct {
	index uint32
	cone  Key
}

// children lists every key the entry refers to.
func (e *entry) children() []Key {
	var out []Key
	switch e.kind {
	case kindDiagram:
		out = append(out, e.source)
		for _, p := range e.cospans {
			out = append(out, p[0], p[1])
		}
	case kindRewrite:
		for _, c := range e.cones {
			out = append(out, c.cone)
		}
	case kindCone:
		for _, p := range e.cospans {
			out = append(out, p[0], p[1])
		}
		out = append(out, e.target[0], e.target[1])
		out = append(out, e.slices...)
	}
	return out
}

// appendPayload writes the fixed-width little-endian payload of e.
func appendPayload(dst []byte, e *entry) []byte {
	le := binary.LittleEndian
	switch e.kind {
	case kindPoint:
		dst = le.AppendUint32(dst, e.gen.ID)
		dst = le.AppendUint32(dst, e.gen.Dim)
	case kindDiagram:
		dst = le.AppendUint32(dst, e.dim)
		dst = le.AppendUint64(dst, uint64(e.source))
		dst = appendPairs(dst, e.cospans)
	case kindIdentity:
		dst = le.AppendUint32(dst, e.dim)
	case kindAtom:
		dst = le.AppendUint32(dst, e.gen.ID)
		dst = le.AppendUint32(dst, e.gen.Dim)
		dst = le.AppendUint32(dst, e.tgt.ID)
		dst = le.AppendUint32(dst, e.tgt.Dim)
	case kindRewrite:
		dst = le.AppendUint32(dst, e.dim)
		dst = le.AppendUint32(dst, uint32(len(e.cones)))
		for _, c := range e.cones {
			dst = le.AppendUint32(dst, c.index)
			dst = le.AppendUint64(dst, uint64(c.cone))
		}
	case kindCone:
		dst = appendPairs(dst, e.cospans)
		dst = le.AppendUint64(dst, uint64(e.target[0]))
		dst = le.AppendUint64(dst, uint64(e.target[1]))
		dst = le.AppendUint32(dst, uint32(len(e.slices)))
		for _, s := range e.slices {
			dst = le.AppendUint64(dst, uint64(s))
		}
	}
	return dst
}

func appendPairs(dst []byte, pairs []keyPair) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(pairs)))
	for _, p := range pairs {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(p[0]))
		dst = binary.LittleEndian.AppendUint64(dst, uint64(p[1]))
	}
	return dst
}

// merkleKey hashes kind and payload.
func merkleKey(e *entry, scratch []byte) (Key, []byte) {
	scratch = append(scratch[:0], byte(e.kind))
	scratch = appendPayload(scratch, e)
	return Key(xxhash.Sum64(scratch)), scratch
}
