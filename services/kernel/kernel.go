// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kernel is the single-owner facade over one diagram store.
//
// A Kernel owns a store together with the checker, the contraction and
// expansion engines, the normalization cache and the codec built on it.
// Every call takes the kernel's lock, opens a span, and re-checks what it
// produces, so a caller only ever receives well-formed diagrams.
//
// Handles returned by a Kernel stay valid until the next Collect unless
// they are retained.
package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/homotopy-kernel/services/kernel/check"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/codec"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/contraction"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/expansion"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/normalize"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/telemetry"
)

// Config configures the engines of a Kernel.
type Config struct {
	Contraction contraction.Config
	Expansion   expansion.Config
	Codec       codec.Config
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		Contraction: contraction.DefaultConfig(),
		Expansion:   expansion.DefaultConfig(),
		Codec:       codec.DefaultConfig(),
	}
}

// Option configures a Kernel.
type Option func(*Kernel)

// WithConfig replaces the engine configuration.
func WithConfig(c Config) Option {
	return func(k *Kernel) {
		k.config = c
	}
}

// WithLogger sets the logger handed to every engine.
func WithLogger(l *slog.Logger) Option {
	return func(k *Kernel) {
		if l != nil {
			k.logger = l
		}
	}
}

// WithMetrics enables OpenTelemetry cache and search counters.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(k *Kernel) {
		k.metrics = m
	}
}

// Stats aggregates the counters of the store and every engine.
type Stats struct {
	Store       diagram.StoreStats `json:"store"`
	Check       check.Stats        `json:"check"`
	Normalize   normalize.Stats    `json:"normalize"`
	Contraction contraction.Stats  `json:"contraction"`
	Expansion   expansion.Stats    `json:"expansion"`
}

// Info summarizes one diagram.
type Info struct {
	Dim         int    `json:"dim"`
	Size        int    `json:"size"`
	Key         string `json:"key"`
	Description string `json:"description"`
}

// reported remembers the counters already pushed to metrics.
type reported struct {
	checkHits, checkMisses uint64
	normHits, normMisses   uint64
	colimits, candidates   uint64
}

// Kernel is the facade over one store.
//
// Thread Safety:
//
//	Safe for concurrent use. Calls are serialized by one mutex; run
//	independent kernels to use more cores.
type Kernel struct {
	mu sync.Mutex

	st         *diagram.Store
	checker    *check.Checker
	contractor *contraction.Engine
	expander   *expansion.Engine
	normalizer *normalize.Normalizer
	codec      *codec.Codec

	config  Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	seen    reported
}

// New creates a kernel with an empty store.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		st:     diagram.NewStore(),
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	k.checker = check.New(k.st)
	k.contractor = contraction.New(k.st,
		contraction.WithConfig(k.config.Contraction),
		contraction.WithLogger(k.logger),
		contraction.WithChecker(k.checker))
	k.expander = expansion.New(k.st,
		expansion.WithConfig(k.config.Expansion),
		expansion.WithLogger(k.logger),
		expansion.WithChecker(k.checker))
	k.normalizer = normalize.New(k.st, normalize.WithChecker(k.checker), normalize.WithLogger(k.logger))
	k.codec = codec.New(k.st,
		codec.WithConfig(k.config.Codec),
		codec.WithLogger(k.logger))
	return k
}

// run executes fn under the lock inside a span and records metrics.
func (k *Kernel) run(ctx context.Context, op string, attrs []attribute.KeyValue, fn func() error) error {
	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerName, "Kernel."+op, trace.WithAttributes(attrs...))
	defer span.End()

	opID := uuid.NewString()
	logger := telemetry.LoggerWithTrace(ctx, k.logger).With(slog.String("op", op), slog.String("op_id", opID))
	start := time.Now()

	err := func() error {
		k.mu.Lock()
		defer k.mu.Unlock()
		defer k.report(ctx)
		return fn()
	}()

	elapsed := time.Since(start)
	code := Classify(err).Code
	operationsTotal.WithLabelValues(op, string(code)).Inc()
	operationDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	span.SetAttributes(attribute.String("hdk.op_id", opID), attribute.String("hdk.code", string(code)))

	if err != nil {
		telemetry.RecordError(span, err)
		logger.Debug("operation failed", slog.String("code", string(code)), slog.String("error", err.Error()))
		return err
	}
	telemetry.SetSpanOK(span)
	logger.Debug("operation done", slog.Duration("elapsed", elapsed))
	return nil
}

// report pushes counter deltas to the OpenTelemetry instruments. Called
// with the lock held.
func (k *Kernel) report(ctx context.Context) {
	if k.metrics == nil {
		return
	}
	cs, ns := k.checker.Stats(), k.normalizer.Stats()
	colimits, candidates := k.contractor.Stats().Colimits, k.expander.Stats().Candidates

	k.metrics.RecordCache(ctx, "check", int64(cs.Hits-k.seen.checkHits), int64(cs.Misses-k.seen.checkMisses))
	k.metrics.RecordCache(ctx, "normalize", int64(ns.Hits-k.seen.normHits), int64(ns.Misses-k.seen.normMisses))
	k.metrics.RecordCandidates(ctx, "colimit", int64(colimits-k.seen.colimits))
	k.metrics.RecordCandidates(ctx, "factorize", int64(candidates-k.seen.candidates))

	k.seen = reported{
		checkHits: cs.Hits, checkMisses: cs.Misses,
		normHits: ns.Hits, normMisses: ns.Misses,
		colimits: colimits, candidates: candidates,
	}
}

// live rejects handles that were collected or never issued by this store.
func (k *Kernel) live(ds ...diagram.Diagram) error {
	for i, d := range ds {
		if !k.st.ValidDiagram(d) {
			return fmt.Errorf("%w: diagram argument %d is not a live handle", ErrInvalidArgument, i)
		}
	}
	return nil
}

func (k *Kernel) liveRewrites(rs ...diagram.Rewrite) error {
	for i, r := range rs {
		if !k.st.ValidRewrite(r) {
			return fmt.Errorf("%w: rewrite argument %d is not a live handle", ErrInvalidArgument, i)
		}
	}
	return nil
}

// checked returns d if it is well-formed.
func (k *Kernel) checked(d diagram.Diagram, err error) (diagram.Diagram, error) {
	if err != nil {
		return diagram.Diagram{}, err
	}
	if err := k.checker.Diagram(d); err != nil {
		return diagram.Diagram{}, err
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// Do runs fn with exclusive access to the store, for building diagrams
// the facade has no call for. Diagrams built in fn are not checked.
func (k *Kernel) Do(ctx context.Context, fn func(st *diagram.Store) error) error {
	return k.run(ctx, "do", nil, func() error {
		return fn(k.st)
	})
}

// FromGenerator returns the diagram of g between source and target. For a
// 0-dimensional generator the boundaries are ignored.
func (k *Kernel) FromGenerator(ctx context.Context, g diagram.Generator, source, target diagram.Diagram) (diagram.Diagram, error) {
	var out diagram.Diagram
	err := k.run(ctx, "from_generator", []attribute.KeyValue{
		attribute.Int("hdk.generator", int(g.ID)),
		attribute.Int("hdk.dim", int(g.Dim)),
	}, func() error {
		if g.Dim == 0 {
			out = k.st.Point(g)
			return nil
		}
		if err := k.live(source, target); err != nil {
			return err
		}
		var err error
		out, err = k.checked(k.st.FromGenerator(g, source, target))
		return err
	})
	return out, err
}

// Compose stacks b on top of a.
func (k *Kernel) Compose(ctx context.Context, a, b diagram.Diagram) (diagram.Diagram, error) {
	var out diagram.Diagram
	err := k.run(ctx, "compose", nil, func() error {
		if err := k.live(a, b); err != nil {
			return err
		}
		var err error
		out, err = k.checked(k.st.ComposeDiagrams(a, b))
		return err
	})
	return out, err
}

// Attach stacks generator diagram g on top of d, whiskered so that its
// source starts at offset in d's target.
func (k *Kernel) Attach(ctx context.Context, d, g diagram.Diagram, offset int) (diagram.Diagram, error) {
	var out diagram.Diagram
	err := k.run(ctx, "attach", []attribute.KeyValue{attribute.Int("hdk.offset", offset)}, func() error {
		if err := k.live(d, g); err != nil {
			return err
		}
		var err error
		out, err = k.checked(k.st.Attach(d, g, offset))
		return err
	})
	return out, err
}

// Identity returns the diagram of one dimension higher with no levels.
func (k *Kernel) Identity(ctx context.Context, d diagram.Diagram) (diagram.Diagram, error) {
	var out diagram.Diagram
	err := k.run(ctx, "identity", nil, func() error {
		if err := k.live(d); err != nil {
			return err
		}
		var err error
		out, err = k.checked(k.st.Identity(d), nil)
		return err
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Algorithms
// ---------------------------------------------------------------------------

// Contract merges the level at height with its neighbour in direction dir.
//
// Description:
//
//	Forward merges levels height and height+1, Backward merges height-1
//	and height. Ties between independent parts are broken by bias; with
//	contraction.BiasNone they fail.
//
// Outputs:
//
//	contraction.Result - The contracted diagram and the rewrite onto it.
//	error - *contraction.ContractionError, or *check.StructuralError.
func (k *Kernel) Contract(ctx context.Context, d diagram.Diagram, height int, dir diagram.Direction, bias contraction.Bias) (contraction.Result, error) {
	var out contraction.Result
	err := k.run(ctx, "contract", []attribute.KeyValue{
		attribute.Int("hdk.height", height),
		attribute.String("hdk.direction", dir.String()),
		attribute.String("hdk.bias", bias.String()),
	}, func() error {
		if err := k.live(d); err != nil {
			return err
		}
		if err := k.checker.Diagram(d); err != nil {
			return err
		}
		var err error
		out, err = k.contractor.ContractWithRewrite(d, height, dir, bias)
		return err
	})
	return out, err
}

// Expand splits the singular part addressed by path. See expansion.Engine.
func (k *Kernel) Expand(ctx context.Context, d diagram.Diagram, path []int, dir diagram.Direction) (expansion.Result, error) {
	var out expansion.Result
	err := k.run(ctx, "expand", []attribute.KeyValue{
		attribute.IntSlice("hdk.path", path),
		attribute.String("hdk.direction", dir.String()),
	}, func() error {
		if err := k.live(d); err != nil {
			return err
		}
		if err := k.checker.Diagram(d); err != nil {
			return err
		}
		var err error
		out, err = k.expander.ExpandWithRewrite(d, path, dir)
		return err
	})
	return out, err
}

// Normalize returns the normal form of d with its degeneracy.
func (k *Kernel) Normalize(ctx context.Context, d diagram.Diagram) (normalize.Result, error) {
	return k.NormalizeWithSink(ctx, d, nil)
}

// NormalizeWithSink normalizes d relative to rewrites out of d. Levels a
// sink rewrite observes on their own are kept.
func (k *Kernel) NormalizeWithSink(ctx context.Context, d diagram.Diagram, sink []diagram.Rewrite) (normalize.Result, error) {
	var out normalize.Result
	err := k.run(ctx, "normalize", []attribute.KeyValue{attribute.Int("hdk.sink", len(sink))}, func() error {
		if err := k.live(d); err != nil {
			return err
		}
		if err := k.liveRewrites(sink...); err != nil {
			return err
		}
		if err := k.checker.Diagram(d); err != nil {
			return err
		}
		for _, r := range sink {
			if err := k.checker.Rewrite(r); err != nil {
				return err
			}
		}
		res := k.normalizer.NormalizeWithSink(d, sink)
		if err := k.checker.Diagram(res.Diagram); err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// Smooth removes one removable level and returns the smaller diagram with
// the rewrite from it back into d.
func (k *Kernel) Smooth(ctx context.Context, d diagram.Diagram, level int) (diagram.Diagram, diagram.Rewrite, error) {
	var (
		out diagram.Diagram
		deg diagram.Rewrite
	)
	err := k.run(ctx, "smooth", []attribute.KeyValue{attribute.Int("hdk.level", level)}, func() error {
		if err := k.live(d); err != nil {
			return err
		}
		if err := k.checker.Diagram(d); err != nil {
			return err
		}
		s, r, err := k.normalizer.Smooth(d, level)
		if err != nil {
			return err
		}
		if out, err = k.checked(s, nil); err != nil {
			return err
		}
		deg = r
		return nil
	})
	return out, deg, err
}

// Equivalent reports whether a and b have the same normal form.
func (k *Kernel) Equivalent(ctx context.Context, a, b diagram.Diagram) (bool, error) {
	var eq bool
	err := k.run(ctx, "equivalent", nil, func() error {
		if err := k.live(a, b); err != nil {
			return err
		}
		eq = k.normalizer.Equivalent(a, b)
		return nil
	})
	return eq, err
}

// Check returns nil or a *check.StructuralError listing every malformation.
func (k *Kernel) Check(ctx context.Context, d diagram.Diagram) error {
	return k.run(ctx, "check", nil, func() error {
		if err := k.live(d); err != nil {
			return err
		}
		return k.checker.Diagram(d)
	})
}

// Info summarizes d.
func (k *Kernel) Info(ctx context.Context, d diagram.Diagram) (Info, error) {
	var out Info
	err := k.run(ctx, "info", nil, func() error {
		if err := k.live(d); err != nil {
			return err
		}
		out = Info{
			Dim:         k.st.Dim(d),
			Key:         k.codec.RootKey(d).String(),
			Description: k.st.Describe(d),
		}
		if out.Dim > 0 {
			out.Size = k.st.Size(d)
		}
		return nil
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

// Encode serializes d. The output depends only on d's content.
func (k *Kernel) Encode(ctx context.Context, d diagram.Diagram, format codec.Format) ([]byte, error) {
	var out []byte
	err := k.run(ctx, "encode", []attribute.KeyValue{attribute.String("hdk.format", format.String())}, func() error {
		if err := k.live(d); err != nil {
			return err
		}
		var err error
		out, err = k.codec.Encode(d, format)
		return err
	})
	return out, err
}

// Decode imports an encoding of either format and checks it.
//
// Outputs:
//
//	diagram.Diagram - The imported diagram, well-formed.
//	error - *codec.CodecError, or *check.StructuralError with every
//	        malformation of the imported diagram.
func (k *Kernel) Decode(ctx context.Context, data []byte) (diagram.Diagram, error) {
	var out diagram.Diagram
	err := k.run(ctx, "decode", []attribute.KeyValue{attribute.Int("hdk.bytes", len(data))}, func() error {
		d, err := k.codec.Decode(data)
		if err != nil {
			return err
		}
		out, err = k.checked(d, nil)
		return err
	})
	return out, err
}

// ---------------------------------------------------------------------------
// Lifetime
// ---------------------------------------------------------------------------

// Retain keeps d and everything it references alive across Collect.
func (k *Kernel) Retain(d diagram.Diagram) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.st.RetainDiagram(d)
}

// Release drops one reference taken by Retain.
func (k *Kernel) Release(d diagram.Diagram) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.st.ReleaseDiagram(d)
}

// Collect purges the check and normalization caches and reclaims every
// entry not reachable from a retained handle. Returns the number of
// entries reclaimed. Unretained handles are invalid afterwards.
func (k *Kernel) Collect(ctx context.Context) (int, error) {
	var freed int
	err := k.run(ctx, "collect", nil, func() error {
		k.checker.Purge()
		k.normalizer.Purge()
		freed = k.st.Collect()

		s := k.st.Stats()
		storeLiveEntries.WithLabelValues("diagrams").Set(float64(s.Diagrams.Live))
		storeLiveEntries.WithLabelValues("rewrites").Set(float64(s.Rewrites.Live))
		storeLiveEntries.WithLabelValues("cones").Set(float64(s.Cones.Live))
		k.metrics.RecordCollection(ctx, int64(freed), int64(s.Diagrams.Live+s.Rewrites.Live+s.Cones.Live))
		return nil
	})
	return freed, err
}

// LiveEntries returns the number of live interned entries.
func (k *Kernel) LiveEntries() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	s := k.st.Stats()
	return s.Diagrams.Live + s.Rewrites.Live + s.Cones.Live
}

// Stats returns a snapshot of every counter.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return Stats{
		Store:       k.st.Stats(),
		Check:       k.checker.Stats(),
		Normalize:   k.normalizer.Stats(),
		Contraction: k.contractor.Stats(),
		Expansion:   k.expander.Stats(),
	}
}
