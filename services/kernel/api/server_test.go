// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/homotopy-kernel/services/kernel"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/check"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/codec"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/config"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/fixtures"
)

func init() {
	// Set Gin to test mode to reduce noise
	gin.SetMode(gin.TestMode)
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig() config.ServerConfig {
	cfg := config.DefaultConfig().Server
	cfg.CollectInterval = 0
	cfg.RateLimit = 10000
	cfg.Burst = 10000
	return cfg
}

func newTestServer(t *testing.T, cfg config.ServerConfig) *Server {
	t.Helper()
	k := kernel.New(kernel.WithLogger(quiet))
	return New(k, cfg, WithLogger(quiet))
}

// encodeFixture builds a diagram in a fresh store and encodes it.
func encodeFixture(t *testing.T, format codec.Format, pick func(w *fixtures.World) (diagram.Diagram, error)) []byte {
	t.Helper()
	w := fixtures.New(t)
	d, err := pick(w)
	require.NoError(t, err)
	data, err := codec.New(w.Store).Encode(d, format)
	require.NoError(t, err)
	return data
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestServer_Health(t *testing.T) {
	s := newTestServer(t, testConfig())
	w := do(t, s, http.MethodGet, "/v1/kernel/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestServer_RequestIDIsEchoed(t *testing.T) {
	s := newTestServer(t, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/v1/kernel/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))
}

func TestServer_CheckValid(t *testing.T) {
	s := newTestServer(t, testConfig())
	data := encodeFixture(t, codec.FormatBinary, func(w *fixtures.World) (diagram.Diagram, error) {
		return w.SigmaD, nil
	})

	w := do(t, s, http.MethodPost, "/v1/kernel/check", DiagramRequest{Diagram: data})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[CheckResponse](t, w)
	assert.True(t, resp.Valid)
	require.NotNil(t, resp.Info)
	assert.Equal(t, 2, resp.Info.Dim)
	assert.Len(t, resp.Info.Key, 16)
}

func TestServer_CheckReportsMalformations(t *testing.T) {
	s := newTestServer(t, testConfig())
	data := encodeFixture(t, codec.FormatText, func(w *fixtures.World) (diagram.Diagram, error) {
		return w.Store.NewDiagram(w.Empty, []diagram.Cospan{w.Store.Cospan(w.SigmaD, 0)}), nil
	})

	w := do(t, s, http.MethodPost, "/v1/kernel/check", DiagramRequest{Diagram: data})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[CheckResponse](t, w)
	assert.False(t, resp.Valid)
	require.NotEmpty(t, resp.Malformations)
	assert.Equal(t, check.KindBoundary, resp.Malformations[0].Kind)

	// Other operations reject the same diagram with the full list.
	w = do(t, s, http.MethodPost, "/v1/kernel/normalize", DiagramRequest{Diagram: data})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	errResp := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, string(kernel.CodeMalformed), errResp.Code)
	assert.NotEmpty(t, errResp.Malformations)
}

func TestServer_CheckGarbage(t *testing.T) {
	s := newTestServer(t, testConfig())
	w := do(t, s, http.MethodPost, "/v1/kernel/check", DiagramRequest{Diagram: []byte("GARBAGE!")})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(kernel.CodeEncodingMalformed), decodeBody[ErrorResponse](t, w).Code)
}

func TestServer_Normalize(t *testing.T) {
	s := newTestServer(t, testConfig())
	data := encodeFixture(t, codec.FormatBinary, func(w *fixtures.World) (diagram.Diagram, error) {
		return w.IdentityLevels(4), nil
	})

	w := do(t, s, http.MethodPost, "/v1/kernel/normalize", DiagramRequest{Diagram: data})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[NormalizeResponse](t, w)
	assert.Equal(t, "binary", resp.Format)
	assert.Equal(t, 4, resp.Removed)
	assert.Equal(t, 0, resp.Info.Size)

	// The reply is the normal form computed in an independent store.
	want := encodeFixture(t, codec.FormatBinary, func(w *fixtures.World) (diagram.Diagram, error) {
		return w.Empty, nil
	})
	assert.Equal(t, want, resp.Diagram)
}

func TestServer_ContractAndExpand(t *testing.T) {
	s := newTestServer(t, testConfig())
	pair := encodeFixture(t, codec.FormatBinary, func(w *fixtures.World) (diagram.Diagram, error) {
		return w.ScalarPair()
	})

	w := do(t, s, http.MethodPost, "/v1/kernel/contract", ContractRequest{
		DiagramRequest: DiagramRequest{Diagram: pair},
		Height:         0,
		Bias:           "lower",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	merged := decodeBody[DiagramResponse](t, w)
	assert.Equal(t, 1, merged.Info.Size)

	w = do(t, s, http.MethodPost, "/v1/kernel/expand", ExpandRequest{
		DiagramRequest: DiagramRequest{Diagram: merged.Diagram, Format: "text"},
		Path:           []int{0, 0},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	split := decodeBody[DiagramResponse](t, w)
	assert.Equal(t, 2, split.Info.Size)
	assert.Equal(t, "text", split.Format)
	f, err := codec.Detect(split.Diagram)
	require.NoError(t, err)
	assert.Equal(t, codec.FormatText, f)
}

func TestServer_OperationErrors(t *testing.T) {
	s := newTestServer(t, testConfig())
	pair := encodeFixture(t, codec.FormatBinary, func(w *fixtures.World) (diagram.Diagram, error) {
		return w.ScalarPair()
	})
	sigma := encodeFixture(t, codec.FormatBinary, func(w *fixtures.World) (diagram.Diagram, error) {
		return w.SigmaD, nil
	})

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		code   string
	}{
		{
			name:   "contraction without bias",
			path:   "/v1/kernel/contract",
			body:   ContractRequest{DiagramRequest: DiagramRequest{Diagram: pair}},
			status: http.StatusUnprocessableEntity,
			code:   string(kernel.CodeContractionFailed),
		},
		{
			name:   "height out of bounds",
			path:   "/v1/kernel/contract",
			body:   ContractRequest{DiagramRequest: DiagramRequest{Diagram: pair}, Height: 5, Bias: "lower"},
			status: http.StatusBadRequest,
			code:   string(kernel.CodeOutOfBounds),
		},
		{
			name:   "expansion at the boundary",
			path:   "/v1/kernel/expand",
			body:   ExpandRequest{DiagramRequest: DiagramRequest{Diagram: sigma}, Path: []int{0, 2}},
			status: http.StatusUnprocessableEntity,
			code:   string(kernel.CodeNoValidExpansion),
		},
		{
			name:   "missing diagram",
			path:   "/v1/kernel/normalize",
			body:   map[string]any{"format": "binary"},
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "unknown direction",
			path:   "/v1/kernel/contract",
			body:   map[string]any{"diagram": pair, "direction": "sideways"},
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "unknown format",
			path:   "/v1/kernel/convert",
			body:   map[string]any{"diagram": pair, "format": "xml"},
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
		{
			name:   "empty path",
			path:   "/v1/kernel/expand",
			body:   map[string]any{"diagram": sigma, "path": []int{}},
			status: http.StatusBadRequest,
			code:   "INVALID_REQUEST",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, decodeBody[ErrorResponse](t, w).Code)
		})
	}
}

func TestServer_Convert(t *testing.T) {
	s := newTestServer(t, testConfig())
	binary := encodeFixture(t, codec.FormatBinary, func(w *fixtures.World) (diagram.Diagram, error) {
		return w.SideBySide()
	})
	text := encodeFixture(t, codec.FormatText, func(w *fixtures.World) (diagram.Diagram, error) {
		return w.SideBySide()
	})

	w := do(t, s, http.MethodPost, "/v1/kernel/convert", DiagramRequest{Diagram: binary})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeBody[DiagramResponse](t, w)
	assert.Equal(t, "text", resp.Format)
	assert.Equal(t, text, resp.Diagram)

	w = do(t, s, http.MethodPost, "/v1/kernel/convert", DiagramRequest{Diagram: text})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, binary, decodeBody[DiagramResponse](t, w).Diagram)

	w = do(t, s, http.MethodPost, "/v1/kernel/convert", DiagramRequest{Diagram: text, Format: "json"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, text, decodeBody[DiagramResponse](t, w).Diagram)
}

func TestServer_BodyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBodyBytes = 1024
	s := newTestServer(t, cfg)

	w := do(t, s, http.MethodPost, "/v1/kernel/check", DiagramRequest{Diagram: bytes.Repeat([]byte{1}, 4096)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, "BODY_TOO_LARGE", decodeBody[ErrorResponse](t, w).Code)
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 0.01
	cfg.Burst = 2
	s := newTestServer(t, cfg)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/v1/kernel/health", nil).Code)
	}
	w := do(t, s, http.MethodGet, "/v1/kernel/health", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", decodeBody[ErrorResponse](t, w).Code)

	// /metrics is outside the limited group.
	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/metrics", nil).Code)
}

func TestServer_StatsAndMetrics(t *testing.T) {
	s := newTestServer(t, testConfig())
	data := encodeFixture(t, codec.FormatBinary, func(w *fixtures.World) (diagram.Diagram, error) {
		return w.IdentityLevels(2), nil
	})
	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/kernel/normalize", DiagramRequest{Diagram: data}).Code)
	}

	w := do(t, s, http.MethodGet, "/v1/kernel/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody[kernel.Stats](t, w)
	assert.Equal(t, uint64(1), stats.Normalize.Misses)
	assert.Equal(t, uint64(1), stats.Normalize.Hits)

	w = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "hdk_kernel_operations_total"))
}

func TestServer_CollectIfNeeded(t *testing.T) {
	cfg := testConfig()
	cfg.CollectThreshold = 0
	s := newTestServer(t, cfg)
	data := encodeFixture(t, codec.FormatBinary, func(w *fixtures.World) (diagram.Diagram, error) {
		return w.SideBySide()
	})
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/kernel/check", DiagramRequest{Diagram: data}).Code)

	before := s.kernel.LiveEntries()
	require.Positive(t, before)
	freed, err := s.CollectIfNeeded(context.Background())
	require.NoError(t, err)
	assert.Positive(t, freed)
	assert.Less(t, s.kernel.LiveEntries(), before)

	// Requests after a collection decode afresh.
	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/v1/kernel/check", DiagramRequest{Diagram: data}).Code)

	cfg.CollectThreshold = 1 << 30
	idle := newTestServer(t, cfg)
	freed, err = idle.CollectIfNeeded(context.Background())
	require.NoError(t, err)
	assert.Zero(t, freed)
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.CollectInterval = 10 * time.Millisecond
	cfg.ShutdownTimeout = time.Second
	s := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		code kernel.Code
		want int
	}{
		{kernel.CodeOK, http.StatusOK},
		{kernel.CodeEncodingMalformed, http.StatusBadRequest},
		{kernel.CodeVersionMismatch, http.StatusUnsupportedMediaType},
		{kernel.CodeMalformed, http.StatusUnprocessableEntity},
		{kernel.CodeNotRemovable, http.StatusUnprocessableEntity},
		{kernel.CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.code))
		})
	}
}
