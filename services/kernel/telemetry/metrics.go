// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of kernel metrics.
const MeterName = "hdk.kernel"

// Metrics holds the OpenTelemetry instruments of the kernel. All names use
// the "hdk_" prefix.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// CacheLookups counts check and normalization cache lookups by
	// cache and result (hit or miss).
	CacheLookups metric.Int64Counter

	// SearchCandidates counts colimit and factorization candidates tried.
	SearchCandidates metric.Int64Counter

	// LiveEntries records the live diagram and rewrite entries of a store
	// after each collection.
	LiveEntries metric.Int64Gauge

	// Collected counts entries reclaimed by collection.
	Collected metric.Int64Counter
}

// NewMetrics registers the kernel instruments with meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CacheLookups, err = meter.Int64Counter(
		"hdk_cache_lookups_total",
		metric.WithDescription("Check and normalization cache lookups"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_lookups_total: %w", err)
	}

	m.SearchCandidates, err = meter.Int64Counter(
		"hdk_search_candidates_total",
		metric.WithDescription("Candidates examined by contraction and expansion searches"),
		metric.WithUnit("{candidate}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create search_candidates_total: %w", err)
	}

	m.LiveEntries, err = meter.Int64Gauge(
		"hdk_store_live_entries",
		metric.WithDescription("Live interned entries after collection"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create store_live_entries: %w", err)
	}

	m.Collected, err = meter.Int64Counter(
		"hdk_store_collected_total",
		metric.WithDescription("Interned entries reclaimed by collection"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create store_collected_total: %w", err)
	}

	return m, nil
}

// RecordCache adds hits and misses for the named cache.
func (m *Metrics) RecordCache(ctx context.Context, cache string, hits, misses int64) {
	if m == nil {
		return
	}
	if hits > 0 {
		m.CacheLookups.Add(ctx, hits, metric.WithAttributes(
			attribute.String("cache", cache), attribute.String("result", "hit")))
	}
	if misses > 0 {
		m.CacheLookups.Add(ctx, misses, metric.WithAttributes(
			attribute.String("cache", cache), attribute.String("result", "miss")))
	}
}

// RecordCandidates adds n candidates examined by the named search.
func (m *Metrics) RecordCandidates(ctx context.Context, search string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SearchCandidates.Add(ctx, n, metric.WithAttributes(attribute.String("search", search)))
}

// RecordCollection records a collection that reclaimed freed entries and
// left live entries.
func (m *Metrics) RecordCollection(ctx context.Context, freed, live int64) {
	if m == nil {
		return
	}
	if freed > 0 {
		m.Collected.Add(ctx, freed)
	}
	m.LiveEntries.Record(ctx, live)
}
