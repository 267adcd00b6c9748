// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package archive is a content-addressed store of encoded diagrams.
//
// Encodings are filed under the Merkle key of their root, so storing the
// same diagram twice keeps one copy. An optional name points at a key and
// can be moved. The archive never decodes what it stores; callers decode
// through a kernel, which re-checks the diagram.
//
// Layout inside badger:
//
//	blob/<key>  encoded bytes
//	meta/<key>  JSON Record without the bytes
//	name/<name> key
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/codec"
)

var (
	// ErrNotFound is returned for a key or name the archive does not hold.
	ErrNotFound = errors.New("not found in archive")

	// ErrInvalidName is returned for names that could be mistaken for keys
	// or contain separators.
	ErrInvalidName = errors.New("invalid archive name")
)

const (
	blobPrefix = "blob/"
	metaPrefix = "meta/"
	namePrefix = "name/"
)

// Record describes one archived encoding.
type Record struct {
	Key    codec.Key `json:"-"`
	Name   string    `json:"name,omitempty"`
	Format string    `json:"format"`
	Dim    int       `json:"dim"`
	Size   int       `json:"size"`
	Bytes  int       `json:"bytes"`
	Stored time.Time `json:"stored"`

	// Data is the encoding. List leaves it empty.
	Data []byte `json:"-"`
}

// Archive stores encodings in badger.
//
// Thread Safety: Safe for concurrent use.
type Archive struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
}

// Open opens or creates the archive described by cfg.
func Open(cfg Config) (*Archive, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	a := &Archive{db: db, logger: cfg.Logger}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		if a.gc, err = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("start archive GC: %w", err)
		}
	}
	return a, nil
}

// Close stops garbage collection and closes the database.
func (a *Archive) Close() error {
	if a.gc != nil {
		a.gc.stop()
		a.gc = nil
	}
	return a.db.Close()
}

func validName(name string) error {
	if name == "" {
		return nil
	}
	if strings.ContainsAny(name, "/\x00") || len(name) > 200 {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if _, err := ParseKey(name); err == nil {
		return fmt.Errorf("%w: %q looks like a key", ErrInvalidName, name)
	}
	return nil
}

// ParseKey parses the 16 hex digits of a key as printed by codec.Key.
func ParseKey(s string) (codec.Key, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("key %q is not 16 hex digits", s)
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return codec.Key(v), nil
}

// Put stores rec.Data under rec.Key and points rec.Name at it.
//
// Description:
//
//	An existing blob under the same key is kept as is; only its metadata
//	and name are updated. Stored is set to the current time when zero.
//
// Inputs:
//
//	ctx - Checked before the transaction starts.
//	rec - Key, Data and Format are required.
//
// Outputs:
//
//	error - ErrInvalidName, or a badger error.
func (a *Archive) Put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(rec.Data) == 0 {
		return errors.New("archive: empty encoding")
	}
	if err := validName(rec.Name); err != nil {
		return err
	}
	if rec.Stored.IsZero() {
		rec.Stored = time.Now().UTC()
	}
	rec.Bytes = len(rec.Data)
	meta, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding archive record: %w", err)
	}

	key := rec.Key.String()
	err = a.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(blobPrefix+key), rec.Data); err != nil {
			return err
		}
		if err := txn.Set([]byte(metaPrefix+key), meta); err != nil {
			return err
		}
		if rec.Name != "" {
			return txn.Set([]byte(namePrefix+rec.Name), []byte(key))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("archive put %s: %w", key, err)
	}
	a.logger.Debug("archived", slog.String("key", key), slog.String("name", rec.Name), slog.Int("bytes", rec.Bytes))
	return nil
}

// Resolve turns a name or a 16-digit key into a key held by the archive.
func (a *Archive) Resolve(ctx context.Context, ref string) (codec.Key, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var out codec.Key
	err := a.db.View(func(txn *badger.Txn) error {
		if k, err := ParseKey(ref); err == nil {
			if _, err := txn.Get([]byte(metaPrefix + ref)); err == nil {
				out = k
				return nil
			}
		}
		item, err := txn.Get([]byte(namePrefix + ref))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			k, err := ParseKey(string(v))
			out = k
			return err
		})
	})
	return out, err
}

// Get returns the record and encoding stored under key.
func (a *Archive) Get(ctx context.Context, key codec.Key) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	var rec Record
	err := a.db.View(func(txn *badger.Txn) error {
		if err := readMeta(txn, key, &rec); err != nil {
			return err
		}
		item, err := txn.Get([]byte(blobPrefix + key.String()))
		if err != nil {
			return err
		}
		rec.Data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return rec, err
}

func readMeta(txn *badger.Txn, key codec.Key, rec *Record) error {
	item, err := txn.Get([]byte(metaPrefix + key.String()))
	if err != nil {
		return err
	}
	if err := item.Value(func(v []byte) error { return json.Unmarshal(v, rec) }); err != nil {
		return fmt.Errorf("decoding archive record %s: %w", key, err)
	}
	rec.Key = key
	return nil
}

// List returns every record without its encoding, ordered by key.
func (a *Archive) List(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key, err := ParseKey(strings.TrimPrefix(string(item.Key()), metaPrefix))
			if err != nil {
				return fmt.Errorf("archive entry %q: %w", item.Key(), err)
			}
			var rec Record
			if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return fmt.Errorf("decoding archive record %s: %w", key, err)
			}
			rec.Key = key
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Delete removes the record under key and any name pointing at it.
func (a *Archive) Delete(ctx context.Context, key codec.Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hex := key.String()
	return a.db.Update(func(txn *badger.Txn) error {
		var rec Record
		if err := readMeta(txn, key, &rec); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", ErrNotFound, hex)
			}
			return err
		}
		if rec.Name != "" {
			item, err := txn.Get([]byte(namePrefix + rec.Name))
			if err == nil {
				var target []byte
				if target, err = item.ValueCopy(nil); err == nil && string(target) == hex {
					if err := txn.Delete([]byte(namePrefix + rec.Name)); err != nil {
						return err
					}
				}
			}
		}
		if err := txn.Delete([]byte(blobPrefix + hex)); err != nil {
			return err
		}
		return txn.Delete([]byte(metaPrefix + hex))
	})
}
