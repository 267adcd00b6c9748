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
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// requestIDKey is the gin context key of the request id.
const requestIDKey = "hdk_request_id"

// RequestID takes X-Request-ID from the request or creates one, echoes it
// in the response and stores it for handlers.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Set(requestIDKey, id)
		c.Next()
	}
}

func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// RateLimit rejects requests beyond a token bucket of limit requests per
// second and the given burst, shared by every client.
//
// Description:
//
//	A rejected request gets 429 with a Retry-After header derived from
//	the time until the next token.
//
// Inputs:
//
//	limit - Sustained requests per second. rate.Inf disables limiting.
//	burst - Bucket size.
func RateLimit(limit rate.Limit, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(limit, burst)
	return func(c *gin.Context) {
		r := limiter.Reserve()
		if !r.OK() || r.Delay() > 0 {
			retry := 1
			if r.OK() {
				retry = int(r.Delay().Seconds()) + 1
				r.Cancel()
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Error: "rate limit exceeded",
				Code:  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// BodyLimit caps request bodies at n bytes. Reads beyond it fail with
// *http.MaxBytesError, which handlers turn into 413.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// guard holds the server's collection lock for reading while a request
// runs, so that handles decoded by the request survive until it replies.
func (s *Server) guard() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		c.Next()
	}
}
