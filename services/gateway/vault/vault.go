// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vault provides credential custody for the gateway: the password
// KDF, the strength policy, and the email shape check.
//
// # Description
//
// Hashing uses Argon2id with OWASP-recommended parameters encoded into the
// digest, so parameter upgrades verify old digests transparently. The memory
// cost is configurable with a hard floor; on production hardware a single
// verification should take at least 50 ms.
//
// Concurrent hashing is capped by a weighted semaphore so a burst of
// registrations cannot starve request workers of CPU.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package vault

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"runtime"
	"strings"
	"unicode"

	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"
)

// =============================================================================
// Parameters
// =============================================================================

// Argon2id parameters (OWASP recommendations).
const (
	defaultMemoryKiB = 64 * 1024 // 64MB
	minMemoryKiB     = 19 * 1024 // hard floor, never configurable below
	defaultTime      = 3         // iterations
	minTime          = 2
	argon2Threads    = 4
	argon2KeyLen     = 32
	argon2SaltLen    = 16
)

// Password strength bounds.
const (
	MinPasswordLen = 12
	MaxPasswordLen = 128
)

// MaxEmailLen bounds the stored email column.
const MaxEmailLen = 255

// blockedPasswords are substring-matched against the candidate, lowercased.
// Small on purpose: this is a tripwire for the worst offenders, not a
// breach-corpus check.
var blockedPasswords = []string{
	"password", "12345678", "qwerty", "letmein", "welcome",
	"admin123", "iloveyou", "monkey", "dragon", "baseball",
	"football", "abc12345", "trustno1", "sunshine", "master",
	"shadow", "superman", "batman", "passw0rd", "starwars",
}

// Config tunes the KDF. Zero values take defaults; values below the floor
// are raised to it.
type Config struct {
	MemoryKiB   uint32
	Time        uint32
	Parallelism int64 // max concurrent KDF invocations, default NumCPU
}

// =============================================================================
// Vault
// =============================================================================

// Vault hashes and verifies passwords and validates credential shapes.
type Vault struct {
	memoryKiB uint32
	time      uint32
	sem       *semaphore.Weighted
}

// New builds a Vault, clamping parameters to their floors.
func New(cfg Config) *Vault {
	mem := cfg.MemoryKiB
	if mem < minMemoryKiB {
		mem = defaultMemoryKiB
	}
	t := cfg.Time
	if t < minTime {
		t = defaultTime
	}
	par := cfg.Parallelism
	if par <= 0 {
		par = int64(runtime.NumCPU())
	}
	return &Vault{
		memoryKiB: mem,
		time:      t,
		sem:       semaphore.NewWeighted(par),
	}
}

// Hash derives an encoded Argon2id digest:
// $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func (v *Vault) Hash(ctx context.Context, password string) (string, error) {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquiring KDF slot: %w", err)
	}
	defer v.sem.Release(1)

	salt := make([]byte, argon2SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, v.time, v.memoryKiB, argon2Threads, argon2KeyLen)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		v.memoryKiB,
		v.time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	)
	return encoded, nil
}

// Verify recomputes the digest with the parameters stored in it and compares
// in constant time. A malformed digest verifies false, never errors: login
// must not leak digest state.
func (v *Vault) Verify(ctx context.Context, password, encoded string) bool {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer v.sem.Release(1)

	params, salt, hash, err := parseDigest(encoded)
	if err != nil {
		return false
	}
	computed := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, params.keyLen)
	return subtle.ConstantTimeCompare(hash, computed) == 1
}

// =============================================================================
// Strength and Shape Policy
// =============================================================================

// ValidateStrength returns every policy failure as a human-readable string.
// An empty slice means the password is acceptable. The messages never reveal
// whether an account exists.
func (v *Vault) ValidateStrength(password string) []string {
	var errs []string

	n := len([]rune(password))
	if n < MinPasswordLen {
		errs = append(errs, fmt.Sprintf("password must be at least %d characters", MinPasswordLen))
	}
	if n > MaxPasswordLen {
		errs = append(errs, fmt.Sprintf("password must be at most %d characters", MaxPasswordLen))
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSymbol = true
		}
	}
	if !hasLower {
		errs = append(errs, "password must contain a lowercase letter")
	}
	if !hasUpper {
		errs = append(errs, "password must contain an uppercase letter")
	}
	if !hasDigit {
		errs = append(errs, "password must contain a digit")
	}
	if !hasSymbol {
		errs = append(errs, "password must contain a symbol")
	}

	lowered := strings.ToLower(password)
	for _, blocked := range blockedPasswords {
		if strings.Contains(lowered, blocked) {
			errs = append(errs, "password contains a commonly used sequence")
			break
		}
	}
	return errs
}

// ValidateEmail checks the stored-email contract: lowercase, at most 255
// characters, a single @ between a nonempty local part and a dotted domain.
func (v *Vault) ValidateEmail(email string) bool {
	if email == "" || len(email) > MaxEmailLen {
		return false
	}
	if email != strings.ToLower(email) {
		return false
	}
	at := strings.Count(email, "@")
	if at != 1 {
		return false
	}
	parts := strings.SplitN(email, "@", 2)
	local, domain := parts[0], parts[1]
	if local == "" || domain == "" {
		return false
	}
	if strings.ContainsAny(local, " \t") || strings.ContainsAny(domain, " \t") {
		return false
	}
	// Domain needs at least one dot with nonempty labels around it.
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if l == "" {
			return false
		}
	}
	return true
}

// =============================================================================
// Digest Parsing
// =============================================================================

type digestParams struct {
	memory  uint32
	time    uint32
	threads uint8
	keyLen  uint32
}

// parseDigest parses an Argon2id encoded digest string.
func parseDigest(encoded string) (*digestParams, []byte, []byte, error) {
	// Format: $argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, nil, nil, fmt.Errorf("invalid digest format: expected 6 parts, got %d", len(parts))
	}
	if parts[1] != "argon2id" {
		return nil, nil, nil, fmt.Errorf("unsupported algorithm: %s", parts[1])
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid version: %s", parts[2])
	}
	if version != argon2.Version {
		return nil, nil, nil, fmt.Errorf("unsupported version: %d", version)
	}

	params := &digestParams{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return nil, nil, nil, fmt.Errorf("invalid parameters: %s", parts[3])
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid salt encoding: %w", err)
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid hash encoding: %w", err)
	}
	params.keyLen = uint32(len(hash))

	return params, salt, hash, nil
}
