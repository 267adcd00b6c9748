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
	"github.com/AleutianAI/homotopy-kernel/services/kernel"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/check"
)

// =============================================================================
// Requests
// =============================================================================

// DiagramRequest carries one encoded diagram. Diagram is base64 in JSON
// and may use either encoding; Format selects the encoding of the reply.
type DiagramRequest struct {
	Diagram []byte `json:"diagram" binding:"required"`
	Format  string `json:"format,omitempty" binding:"omitempty,oneof=binary text json"`
}

// ContractRequest is the body of POST /v1/kernel/contract.
type ContractRequest struct {
	DiagramRequest

	// Height is the level merged with its neighbour.
	Height int `json:"height" binding:"gte=0"`

	Direction string `json:"direction,omitempty" binding:"omitempty,oneof=forward backward"`
	Bias      string `json:"bias,omitempty" binding:"omitempty,oneof=none lower higher"`
}

// ExpandRequest is the body of POST /v1/kernel/expand.
type ExpandRequest struct {
	DiagramRequest

	// Path addresses a singular height in every dimension, outermost
	// first.
	Path []int `json:"path" binding:"required,min=1,dive,gte=-1"`

	Direction string `json:"direction,omitempty" binding:"omitempty,oneof=forward backward"`
}

// =============================================================================
// Responses
// =============================================================================

// DiagramResponse returns one encoded diagram with its summary.
type DiagramResponse struct {
	Diagram []byte      `json:"diagram"`
	Format  string      `json:"format"`
	Info    kernel.Info `json:"info"`
}

// NormalizeResponse is the reply of POST /v1/kernel/normalize.
type NormalizeResponse struct {
	DiagramResponse

	// Removed is the number of levels dropped from the input.
	Removed int `json:"removed"`
}

// CheckResponse is the reply of POST /v1/kernel/check. A malformed diagram
// is a successful check with Valid false.
type CheckResponse struct {
	Valid         bool                 `json:"valid"`
	Info          *kernel.Info         `json:"info,omitempty"`
	Malformations []check.Malformation `json:"malformations,omitempty"`
}

// HealthResponse is the reply of GET /v1/kernel/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	LiveEntries int    `json:"live_entries"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the kernel classification, or a transport code such as
	// "INVALID_REQUEST".
	Code string `json:"code"`

	// Malformations lists every problem of a malformed diagram.
	Malformations []check.Malformation `json:"malformations,omitempty"`
}
