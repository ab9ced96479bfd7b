// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Pinger reports liveness of a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealth is GET /health. Reports degraded (still 200) when a backing
// store is unreachable and the service is running on its fallback paths.
func HandleHealth(db, kv Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		status := "ok"
		checks := gin.H{"postgres": "ok", "redis": "ok"}
		if err := db.Ping(ctx); err != nil {
			status = "degraded"
			checks["postgres"] = "unreachable"
		}
		if err := kv.Ping(ctx); err != nil {
			status = "degraded"
			checks["redis"] = "unreachable"
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "checks": checks})
	}
}
