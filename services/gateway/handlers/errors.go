// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the gateway's HTTP endpoints. Handlers bind
// and validate request bodies, delegate to the session manager, the chat
// orchestrator, and the stores, and map typed failures through the error
// taxonomy. No handler formats an error body by hand.
package handlers

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
)

var handlerTracer = otel.Tracer("gatewatch.gateway.handlers")

// RespondError terminates the request with the taxonomy mapping. Internal
// causes are logged with the request path and never sent to the client.
func RespondError(c *gin.Context, err error) {
	e := datatypes.AsError(err)

	switch e.Kind {
	case datatypes.KindInternal, datatypes.KindUpstreamUnavailable:
		slog.Error("request failed",
			"path", c.FullPath(),
			"kind", e.Kind,
			"error", e.Error(),
		)
	}

	if e.RetryAfter > 0 {
		secs := int64(e.RetryAfter.Seconds())
		if e.RetryAfter%1e9 != 0 {
			secs++
		}
		c.Header("Retry-After", strconv.FormatInt(secs, 10))
	}
	c.AbortWithStatusJSON(e.HTTPStatus(), e.Body())
}
