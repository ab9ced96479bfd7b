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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/gateway/middleware"
	"github.com/AleutianAI/gatewatch/services/gateway/session"
)

// HandleRegister is POST /api/auth/register. Success opens a session and
// sets the cookie alongside the 201.
func HandleRegister(mgr *session.Manager, development bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleRegister")
		defer span.End()

		var req datatypes.RegisterRequest
		if err := c.BindJSON(&req); err != nil {
			RespondError(c, datatypes.NewValidationError(datatypes.FieldError{
				Field: "body", Message: "request body must be valid JSON",
			}))
			return
		}
		req.Normalize()
		if err := req.Validate(); err != nil {
			RespondError(c, datatypes.NewValidationError(datatypes.FieldError{
				Field: "body", Message: "email and password are required",
			}))
			return
		}

		user, token, err := mgr.Register(ctx, req.Email, req.Password)
		if err != nil {
			RespondError(c, err)
			return
		}

		session.SetCookie(c, token, int(mgr.TTL().Seconds()), development)
		c.JSON(http.StatusCreated, datatypes.AuthResponse{User: user.Info()})
	}
}

// HandleLogin is POST /api/auth/login.
func HandleLogin(mgr *session.Manager, development bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleLogin")
		defer span.End()

		var req datatypes.LoginRequest
		if err := c.BindJSON(&req); err != nil {
			RespondError(c, datatypes.NewValidationError(datatypes.FieldError{
				Field: "body", Message: "request body must be valid JSON",
			}))
			return
		}
		req.Normalize()
		if err := req.Validate(); err != nil {
			// Shape failures at login get the credentials error, not field
			// details, to keep the endpoint a poor enumeration oracle.
			RespondError(c, datatypes.NewInvalidCredentials())
			return
		}

		user, token, err := mgr.Login(ctx, req.Email, req.Password)
		if err != nil {
			RespondError(c, err)
			return
		}

		session.SetCookie(c, token, int(mgr.TTL().Seconds()), development)
		c.JSON(http.StatusOK, datatypes.AuthResponse{User: user.Info()})
	}
}

// HandleLogout is POST /api/auth/logout. Idempotent: logging out without a
// session still clears the cookie and returns 200.
func HandleLogout(mgr *session.Manager, development bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleLogout")
		defer span.End()

		if err := mgr.Logout(ctx, middleware.GetSessionToken(c)); err != nil {
			RespondError(c, err)
			return
		}
		session.ClearCookie(c, development)
		c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
	}
}

// HandleMe is GET /api/auth/me, gated by RequireSession.
func HandleMe(users session.UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleMe")
		defer span.End()

		p := middleware.GetPrincipal(c)
		user, err := users.GetUserByID(ctx, p.UserID)
		if err != nil {
			RespondError(c, datatypes.NewInternal(err))
			return
		}
		c.JSON(http.StatusOK, datatypes.AuthResponse{User: user.Info()})
	}
}
