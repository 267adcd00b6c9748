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
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/homotopy-kernel/services/kernel"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/codec"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/contraction"
	"github.com/AleutianAI/homotopy-kernel/services/kernel/diagram"
)

// RegisterRoutes registers the kernel endpoints.
//
// Endpoints:
//
//	POST /v1/kernel/check     - Decode and check; reports every malformation
//	POST /v1/kernel/normalize - Normal form of a diagram
//	POST /v1/kernel/contract  - Merge two levels
//	POST /v1/kernel/expand    - Split a singular height
//	POST /v1/kernel/convert   - Re-encode in another format
//	GET  /v1/kernel/health    - Health check
//	GET  /v1/kernel/stats     - Store, cache and search counters
func RegisterRoutes(rg *gin.RouterGroup, s *Server) {
	k := rg.Group("/kernel")
	{
		k.POST("/check", s.HandleCheck)
		k.POST("/normalize", s.HandleNormalize)
		k.POST("/contract", s.HandleContract)
		k.POST("/expand", s.HandleExpand)
		k.POST("/convert", s.HandleConvert)

		k.GET("/health", s.HandleHealth)
		k.GET("/stats", s.HandleStats)
	}
}

// statusFor maps a kernel classification to an HTTP status.
func statusFor(code kernel.Code) int {
	switch code {
	case kernel.CodeOK:
		return http.StatusOK
	case kernel.CodeEncodingMalformed, kernel.CodeInvalidArgument, kernel.CodeOutOfBounds:
		return http.StatusBadRequest
	case kernel.CodeVersionMismatch:
		return http.StatusUnsupportedMediaType
	case kernel.CodeMalformed, kernel.CodeContractionFailed, kernel.CodeNoValidExpansion,
		kernel.CodeNotRemovable, kernel.CodeIncompatible, kernel.CodeDimensionMismatch,
		kernel.CodeNotGlobular:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handlerLogger(c *gin.Context, handler string) *slog.Logger {
	return s.logger.With(slog.String("request_id", requestID(c)), slog.String("handler", handler))
}

// bind decodes the JSON body into req and writes the error reply if that
// fails. Gin validates the binding tags with validator/v10.
func bind(c *gin.Context, logger *slog.Logger, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	logger.Warn("invalid request body", slog.String("error", err.Error()))

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error: "request body too large",
			Code:  "BODY_TOO_LARGE",
		})
		return false
	}
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error: err.Error(),
		Code:  "INVALID_REQUEST",
	})
	return false
}

// fail writes the reply for a kernel error.
func fail(c *gin.Context, logger *slog.Logger, err error) {
	class := kernel.Classify(err)
	status := statusFor(class.Code)
	if status >= http.StatusInternalServerError {
		logger.Error("kernel operation failed", slog.String("error", err.Error()))
	} else {
		logger.Info("kernel operation rejected", slog.String("code", string(class.Code)), slog.String("error", err.Error()))
	}
	c.JSON(status, ErrorResponse{
		Error:         err.Error(),
		Code:          string(class.Code),
		Malformations: class.Malformations,
	})
}

// replyFormat resolves the requested output format. Empty means the
// format of the input, or the other one when convert is set.
func replyFormat(requested string, input []byte, convert bool) (codec.Format, error) {
	if requested != "" {
		return codec.ParseFormat(requested)
	}
	f, err := codec.Detect(input)
	if err != nil {
		return codec.FormatBinary, err
	}
	if convert {
		if f == codec.FormatBinary {
			return codec.FormatText, nil
		}
		return codec.FormatBinary, nil
	}
	return f, nil
}

// encodeReply encodes d in format and summarizes it.
func (s *Server) encodeReply(ctx context.Context, d diagram.Diagram, format codec.Format) (DiagramResponse, error) {
	data, err := s.kernel.Encode(ctx, d, format)
	if err != nil {
		return DiagramResponse{}, err
	}
	info, err := s.kernel.Info(ctx, d)
	if err != nil {
		return DiagramResponse{}, err
	}
	return DiagramResponse{Diagram: data, Format: format.String(), Info: info}, nil
}

// decode imports req.Diagram and resolves the reply format.
func (s *Server) decode(ctx context.Context, req DiagramRequest, convert bool) (diagram.Diagram, codec.Format, error) {
	format, err := replyFormat(req.Format, req.Diagram, convert)
	if err != nil {
		return diagram.Diagram{}, format, err
	}
	d, err := s.kernel.Decode(ctx, req.Diagram)
	return d, format, err
}

// HandleCheck handles POST /v1/kernel/check.
//
// Description:
//
//	Decodes the diagram and checks it. A structurally malformed diagram
//	is a successful check: the reply is 200 with valid=false and every
//	malformation. Undecodable input is an error.
//
// Response:
//
//	200 OK: CheckResponse
//	400 Bad Request: Invalid body or malformed encoding
//	415 Unsupported Media Type: Unsupported encoding version
func (s *Server) HandleCheck(c *gin.Context) {
	logger := s.handlerLogger(c, "HandleCheck")
	var req DiagramRequest
	if !bind(c, logger, &req) {
		return
	}
	ctx := c.Request.Context()

	d, err := s.kernel.Decode(ctx, req.Diagram)
	if err != nil {
		class := kernel.Classify(err)
		if class.Code == kernel.CodeMalformed {
			c.JSON(http.StatusOK, CheckResponse{Valid: false, Malformations: class.Malformations})
			return
		}
		fail(c, logger, err)
		return
	}
	info, err := s.kernel.Info(ctx, d)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, CheckResponse{Valid: true, Info: &info})
}

// HandleNormalize handles POST /v1/kernel/normalize.
//
// Response:
//
//	200 OK: NormalizeResponse
//	4xx: ErrorResponse with the kernel code
func (s *Server) HandleNormalize(c *gin.Context) {
	logger := s.handlerLogger(c, "HandleNormalize")
	var req DiagramRequest
	if !bind(c, logger, &req) {
		return
	}
	ctx := c.Request.Context()

	d, format, err := s.decode(ctx, req, false)
	if err != nil {
		fail(c, logger, err)
		return
	}
	res, err := s.kernel.Normalize(ctx, d)
	if err != nil {
		fail(c, logger, err)
		return
	}
	before, err := s.kernel.Info(ctx, d)
	if err != nil {
		fail(c, logger, err)
		return
	}
	out, err := s.encodeReply(ctx, res.Diagram, format)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, NormalizeResponse{DiagramResponse: out, Removed: before.Size - out.Info.Size})
}

// HandleContract handles POST /v1/kernel/contract.
//
// Response:
//
//	200 OK: DiagramResponse with one level less
//	400 Bad Request: Invalid body, or height out of bounds
//	422 Unprocessable Entity: contraction_failed or malformed
func (s *Server) HandleContract(c *gin.Context) {
	logger := s.handlerLogger(c, "HandleContract")
	var req ContractRequest
	if !bind(c, logger, &req) {
		return
	}
	dir, err := diagram.ParseDirection(req.Direction)
	if err != nil {
		fail(c, logger, errors.Join(kernel.ErrInvalidArgument, err))
		return
	}
	bias, err := contraction.ParseBias(req.Bias)
	if err != nil {
		fail(c, logger, errors.Join(kernel.ErrInvalidArgument, err))
		return
	}
	ctx := c.Request.Context()

	d, format, err := s.decode(ctx, req.DiagramRequest, false)
	if err != nil {
		fail(c, logger, err)
		return
	}
	res, err := s.kernel.Contract(ctx, d, req.Height, dir, bias)
	if err != nil {
		fail(c, logger, err)
		return
	}
	out, err := s.encodeReply(ctx, res.Diagram, format)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// HandleExpand handles POST /v1/kernel/expand.
//
// Response:
//
//	200 OK: DiagramResponse with one level more
//	422 Unprocessable Entity: no_valid_expansion or malformed
func (s *Server) HandleExpand(c *gin.Context) {
	logger := s.handlerLogger(c, "HandleExpand")
	var req ExpandRequest
	if !bind(c, logger, &req) {
		return
	}
	dir, err := diagram.ParseDirection(req.Direction)
	if err != nil {
		fail(c, logger, errors.Join(kernel.ErrInvalidArgument, err))
		return
	}
	ctx := c.Request.Context()

	d, format, err := s.decode(ctx, req.DiagramRequest, false)
	if err != nil {
		fail(c, logger, err)
		return
	}
	res, err := s.kernel.Expand(ctx, d, req.Path, dir)
	if err != nil {
		fail(c, logger, err)
		return
	}
	out, err := s.encodeReply(ctx, res.Diagram, format)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// HandleConvert handles POST /v1/kernel/convert. Without a format the
// diagram is converted to the other encoding.
func (s *Server) HandleConvert(c *gin.Context) {
	logger := s.handlerLogger(c, "HandleConvert")
	var req DiagramRequest
	if !bind(c, logger, &req) {
		return
	}
	ctx := c.Request.Context()

	d, format, err := s.decode(ctx, req, true)
	if err != nil {
		fail(c, logger, err)
		return
	}
	out, err := s.encodeReply(ctx, d, format)
	if err != nil {
		fail(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// HandleHealth handles GET /v1/kernel/health.
func (s *Server) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:      "healthy",
		Version:     ServiceVersion,
		LiveEntries: s.kernel.LiveEntries(),
	})
}

// HandleStats handles GET /v1/kernel/stats.
func (s *Server) HandleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.kernel.Stats())
}
