// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// authValidate is the validator instance for auth datatypes.
var authValidate *validator.Validate

func init() {
	authValidate = validator.New()
}

// =============================================================================
// Principal
// =============================================================================

// Principal is the resolved identity attached to a request after session
// resolution. It is the only identity object handlers see.
type Principal struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
	Tier   Tier      `json:"tier"`
}

// =============================================================================
// User Row
// =============================================================================

// User mirrors the users row. PasswordHash never leaves the service.
type User struct {
	ID            uuid.UUID
	Email         string
	PasswordHash  string
	Tier          Tier
	EmailVerified bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// Principal projects the row into a request identity.
func (u *User) Principal() *Principal {
	return &Principal{UserID: u.ID, Email: u.Email, Tier: u.Tier}
}

// UserInfo is the public projection returned by auth endpoints.
type UserInfo struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	Tier          Tier      `json:"tier"`
	EmailVerified bool      `json:"emailVerified"`
}

// Info builds the public projection.
func (u *User) Info() UserInfo {
	return UserInfo{ID: u.ID, Email: u.Email, Tier: u.Tier, EmailVerified: u.EmailVerified}
}

// =============================================================================
// Auth Request Types
// =============================================================================

// RegisterRequest is the body of POST /api/auth/register. Email shape and
// password strength get their authoritative checks in the credential vault;
// the validator tags here only bound the payload.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

// Normalize lowercases and trims the email the way the vault expects it.
func (r *RegisterRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

func (r *RegisterRequest) Validate() error {
	return authValidate.Struct(r)
}

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

func (r *LoginRequest) Normalize() {
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
}

func (r *LoginRequest) Validate() error {
	return authValidate.Struct(r)
}

// AuthResponse is the success body for register/login/me.
type AuthResponse struct {
	User UserInfo `json:"user"`
}
