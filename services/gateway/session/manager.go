// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package session implements opaque bearer sessions over the KV store:
// registration, login, logout, and per-request resolution. Tokens are
// random, keyed into the store through an HMAC so a KV dump alone cannot
// impersonate anyone.
package session

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/gatewatch/services/gateway/datatypes"
	"github.com/AleutianAI/gatewatch/services/gateway/store"
	"github.com/AleutianAI/gatewatch/services/gateway/vault"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// CookieName carries the raw session token.
	CookieName = "gw_session"

	// DefaultTTL is the rolling session lifetime.
	DefaultTTL = 7 * 24 * time.Hour

	// tokenBytes is the entropy of a raw token before hex encoding.
	tokenBytes = 32
)

// dummyPassword feeds the decoy verification that keeps login timing flat
// for unknown emails.
const dummyPassword = "gatewatch-decoy-credential"

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// UserStore is the slice of the row store the manager needs.
type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (*datatypes.User, error)
	GetUserByEmail(ctx context.Context, email string) (*datatypes.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*datatypes.User, error)
}

// TokenStore is the slice of the KV store the manager needs.
type TokenStore interface {
	PutSession(ctx context.Context, key string, blob any, ttl time.Duration) error
	GetSession(ctx context.Context, key string, dest any, ttl time.Duration) (bool, error)
	DeleteSession(ctx context.Context, key string) error
}

// =============================================================================
// Manager
// =============================================================================

// blob is what a session key resolves to. Only the user id is trusted; the
// user row is re-read on every resolution so tier changes and deletions
// take effect immediately.
type blob struct {
	UserID    uuid.UUID `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

// Config tunes the manager.
type Config struct {
	// Secret keys the token HMAC. Must be at least 32 bytes.
	Secret []byte

	// TTL is the rolling session lifetime. Zero means DefaultTTL.
	TTL time.Duration
}

// Manager owns the session lifecycle. Safe for concurrent use.
type Manager struct {
	users  UserStore
	tokens TokenStore
	vault  *vault.Vault
	secret []byte
	ttl    time.Duration

	// dummyDigest is verified against when login hits an unknown email, so
	// both failure paths cost one KDF pass.
	dummyDigest string
}

// NewManager builds a Manager and precomputes the decoy digest.
func NewManager(cfg Config, users UserStore, tokens TokenStore, v *vault.Vault) (*Manager, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("session secret must be at least 32 bytes")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	dummy, err := v.Hash(context.Background(), dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("precomputing decoy digest: %w", err)
	}
	return &Manager{
		users:       users,
		tokens:      tokens,
		vault:       v,
		secret:      cfg.Secret,
		ttl:         ttl,
		dummyDigest: dummy,
	}, nil
}

// TTL returns the rolling session lifetime for cookie max-age.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// key derives the KV key for a raw token.
func (m *Manager) key(token string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(token))
	return store.KeySession + hex.EncodeToString(mac.Sum(nil))
}

func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// =============================================================================
// Lifecycle
// =============================================================================

// Register creates a free-tier user and opens their first session. Email
// shape, password strength, and email uniqueness failures all surface as
// validation errors.
func (m *Manager) Register(ctx context.Context, email, password string) (*datatypes.User, string, error) {
	if !m.vault.ValidateEmail(email) {
		return nil, "", datatypes.NewValidationError(datatypes.FieldError{
			Field: "email", Message: "email address is not valid",
		})
	}
	if problems := m.vault.ValidateStrength(password); len(problems) > 0 {
		details := make([]datatypes.FieldError, 0, len(problems))
		for _, p := range problems {
			details = append(details, datatypes.FieldError{Field: "password", Message: p})
		}
		return nil, "", datatypes.NewValidationError(details...)
	}

	digest, err := m.vault.Hash(ctx, password)
	if err != nil {
		return nil, "", datatypes.NewInternal(err)
	}
	user, err := m.users.CreateUser(ctx, email, digest)
	if errors.Is(err, store.ErrEmailTaken) {
		return nil, "", datatypes.NewValidationError(datatypes.FieldError{
			Field: "email", Message: "email already registered",
		})
	}
	if err != nil {
		return nil, "", datatypes.NewInternal(err)
	}

	token, err := m.open(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	slog.Info("user registered", "user_id", user.ID, "tier", user.Tier)
	return user, token, nil
}

// Login verifies credentials and opens a session. Unknown email and wrong
// password return the identical error after identical work.
func (m *Manager) Login(ctx context.Context, email, password string) (*datatypes.User, string, error) {
	user, err := m.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		m.vault.Verify(ctx, password, m.dummyDigest)
		return nil, "", datatypes.NewInvalidCredentials()
	}
	if err != nil {
		return nil, "", datatypes.NewInternal(err)
	}
	if !m.vault.Verify(ctx, password, user.PasswordHash) {
		return nil, "", datatypes.NewInvalidCredentials()
	}

	token, err := m.open(ctx, user.ID)
	if err != nil {
		return nil, "", err
	}
	slog.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// Logout destroys the session. Unknown tokens are a no-op success.
func (m *Manager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.tokens.DeleteSession(ctx, m.key(token)); err != nil {
		return datatypes.NewInternal(err)
	}
	return nil
}

// Resolve maps a raw token to a Principal, refreshing the rolling TTL.
// A missing or expired session resolves to (nil, nil); the caller decides
// whether anonymous is acceptable. A session whose user is gone is
// destroyed on sight.
func (m *Manager) Resolve(ctx context.Context, token string) (*datatypes.Principal, error) {
	if token == "" {
		return nil, nil
	}
	key := m.key(token)

	var b blob
	found, err := m.tokens.GetSession(ctx, key, &b, m.ttl)
	if err != nil {
		return nil, datatypes.NewInternal(err)
	}
	if !found {
		return nil, nil
	}

	user, err := m.users.GetUserByID(ctx, b.UserID)
	if errors.Is(err, store.ErrNotFound) {
		if derr := m.tokens.DeleteSession(ctx, key); derr != nil {
			slog.Warn("orphan session cleanup failed", "error", derr)
		}
		return nil, nil
	}
	if err != nil {
		return nil, datatypes.NewInternal(err)
	}
	return user.Principal(), nil
}

// open mints a token and stores its session blob.
func (m *Manager) open(ctx context.Context, userID uuid.UUID) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", datatypes.NewInternal(err)
	}
	b := blob{UserID: userID, CreatedAt: time.Now().UTC()}
	if err := m.tokens.PutSession(ctx, m.key(token), b, m.ttl); err != nil {
		return "", datatypes.NewInternal(err)
	}
	return token, nil
}
