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
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("OTEL_METRICS_EXPORTER", "")
	cfg := DefaultConfig()
	assert.Equal(t, "hdk", cfg.ServiceName)
	assert.Equal(t, ExporterNone, cfg.TraceExporter)
	assert.Equal(t, ExporterPrometheus, cfg.MetricExporter)
	assert.Equal(t, 1.0, cfg.SampleRatio)
}

func TestDefaultConfig_EnvironmentOverrides(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("HDK_ENV", "ci")
	cfg := DefaultConfig()
	assert.Equal(t, ExporterStdout, cfg.TraceExporter)
	assert.Equal(t, "ci", cfg.Environment)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // nil context is the case under test
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_None(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = ExporterNone
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_Stdout(t *testing.T) {
	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterStdout
	cfg.MetricExporter = ExporterStdout
	cfg.Output = &out

	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), TracerName, "Kernel.Check")
	span.End()
	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, out.String(), "Kernel.Check")
}

func TestInit_UnknownExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TraceExporter = "zipkin"
	_, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg.TraceExporter = ExporterNone
	cfg.MetricExporter = "graphite"
	_, err = Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		edit func(c *Config)
		want error
	}{
		{name: "defaults", edit: func(*Config) {}},
		{name: "empty exporters", edit: func(c *Config) { c.TraceExporter, c.MetricExporter = "", "" }},
		{name: "otlp with endpoint", edit: func(c *Config) { c.TraceExporter = ExporterOTLP }},
		{name: "otlp without endpoint", edit: func(c *Config) {
			c.TraceExporter = ExporterOTLP
			c.OTLPEndpoint = ""
		}, want: ErrNoEndpoint},
		{name: "unknown trace exporter", edit: func(c *Config) { c.TraceExporter = "jaeger" }, want: ErrUnknownExporter},
		{name: "prometheus as trace exporter", edit: func(c *Config) { c.TraceExporter = ExporterPrometheus }, want: ErrUnknownExporter},
		{name: "otlp as metric exporter", edit: func(c *Config) { c.MetricExporter = ExporterOTLP }, want: ErrUnknownExporter},
		{name: "negative ratio", edit: func(c *Config) { c.SampleRatio = -0.5 }, want: ErrSampleRatio},
		{name: "ratio above one", edit: func(c *Config) { c.SampleRatio = 2 }, want: ErrSampleRatio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TraceExporter = ExporterNone
			cfg.MetricExporter = ExporterNone
			cfg.OTLPEndpoint = "localhost:4317"
			tt.edit(&cfg)
			err := cfg.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// A bad metric exporter is rejected before the tracer starts writing.
func TestInit_RejectsBeforeStarting(t *testing.T) {
	var out bytes.Buffer
	cfg := DefaultConfig()
	cfg.TraceExporter = ExporterStdout
	cfg.MetricExporter = "graphite"
	cfg.Output = &out

	shutdown, err := Init(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
	assert.Nil(t, shutdown)
	assert.Empty(t, out.String())
}

func TestRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer(TracerName).Start(context.Background(), "Kernel.Expand")

	assert.NotEmpty(t, TraceID(ctx))
	assert.NotEmpty(t, SpanID(ctx))
	RecordError(span, errors.New("no valid expansion"))
	RecordError(span, nil)
	RecordError(nil, errors.New("ignored"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "no valid expansion", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
}

func TestSetSpanOK(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, span := tp.Tracer(TracerName).Start(context.Background(), "Kernel.Normalize")
	SetSpanOK(span)
	SetSpanOK(nil)
	span.End()
	assert.Equal(t, codes.Ok, recorder.Ended()[0].Status().Code)
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&buf, nil))

	assert.Same(t, base, LoggerWithTrace(context.Background(), base))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer(TracerName).Start(context.Background(), "op")
	defer span.End()
	LoggerWithTrace(ctx, base).Info("traced")
	assert.Contains(t, buf.String(), "trace_id="+TraceID(ctx))
	assert.Contains(t, buf.String(), "span_id="+SpanID(ctx))
}

func TestMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m, err := NewMetrics(mp.Meter(MeterName))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordCache(ctx, "check", 3, 1)
	m.RecordCandidates(ctx, "factorize", 7)
	m.RecordCandidates(ctx, "factorize", 0)
	m.RecordCollection(ctx, 5, 40)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	byName := make(map[string]metricdata.Aggregation)
	for _, md := range rm.ScopeMetrics[0].Metrics {
		byName[md.Name] = md.Data
	}

	lookups, ok := byName["hdk_cache_lookups_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range lookups.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(4), total)
	assert.Len(t, lookups.DataPoints, 2)

	candidates, ok := byName["hdk_search_candidates_total"].(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(7), candidates.DataPoints[0].Value)

	live, ok := byName["hdk_store_live_entries"].(metricdata.Gauge[int64])
	require.True(t, ok)
	assert.Equal(t, int64(40), live.DataPoints[0].Value)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCache(context.Background(), "check", 1, 1)
		m.RecordCandidates(context.Background(), "colimit", 1)
		m.RecordCollection(context.Background(), 1, 1)
	})
}
