// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
)

// abortError terminates the request with the taxonomy mapping. Rate and
// budget rejections carry a Retry-After header in whole seconds, rounded up.
func abortError(c *gin.Context, e *datatypes.Error) {
	if e.RetryAfter > 0 {
		secs := int64(e.RetryAfter.Seconds())
		if e.RetryAfter%1e9 != 0 {
			secs++
		}
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
	}
	c.AbortWithStatusJSON(e.HTTPStatus(), e.Body())
}

// peekBodySize bounds how much of a request body admission stages inspect.
const peekBodySize = 1 << 20

// peekMessage reads the chat message out of the JSON body without consuming
// it; the body is restored for the handler. Unparsable bodies peek as empty
// and fall through to schema validation.
func peekMessage(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, peekBodySize))
	c.Request.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return ""
	}
	var probe struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &probe) != nil {
		return ""
	}
	return probe.Message
}
