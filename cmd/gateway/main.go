// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command gateway starts the Gatewatch HTTP server.
//
// This is the main entry point for the containerized gateway service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - GATEWAY_PORT: HTTP server port (default: 8090)
//   - LOG_LEVEL: minimum log level, debug|info|warn|error (default: info)
//   - DATABASE_URL: Postgres connection string (required)
//   - REDIS_URL: Redis connection URL (required)
//   - SESSION_SECRET: session token HMAC key, at least 32 characters (required)
//   - OPENAI_API_KEY: upstream API key (required unless a keyless proxy is used)
//   - OPENAI_BASE_URL: upstream endpoint override (optional)
//   - GATEWAY_MODEL: upstream model (default: gpt-4o-mini)
//   - GLOBAL_DAILY_BUDGET_MILLICENTS: daily spend ceiling (default: 1000000, $10)
//   - COST_ALERT_THRESHOLDS: budget alert percentages, CSV (default: 50,75,90)
//   - CONV_MAX_TOKENS: per-thread token cap (default: 150000)
//   - KDF_MEMORY_KIB: Argon2id memory cost in KiB (default: 65536)
//   - KDF_TIME: Argon2id time cost (default: 3)
//   - TIER_TABLE_PATH: YAML tier-limit override file (optional)
//   - CORS_ORIGIN: single allowed browser origin (optional)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: gatewatch-otel-collector:4317)
//   - GATEWAY_METRICS: expose Prometheus metrics when "true" (default: true)
//   - GATEWAY_INIT_SCHEMA: create tables at startup when "true"
//   - GATEWAY_DEV: development mode, loosens cookie security when "true"
//
// # Usage
//
//	# Build
//	go build -o gateway ./cmd/gateway
//
//	# Run
//	./gateway
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/AleutianAI/gatewatch/pkg/logging"
	"github.com/AleutianAI/gatewatch/services/gateway"
)

func main() {
	// Setup structured logging
	logging.SetDefault(logging.Config{
		Service: "gateway",
		Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
	})

	// Local development convenience; absent .env is fine
	if err := godotenv.Load(); err == nil {
		slog.Info("Loaded configuration from .env")
	}

	secret := os.Getenv("SESSION_SECRET")
	if len(secret) < 32 {
		log.Fatal("SESSION_SECRET must be set and at least 32 characters")
	}

	cfg := gateway.Config{
		Port:                        getEnvInt("GATEWAY_PORT", 8090),
		DatabaseDSN:                 os.Getenv("DATABASE_URL"),
		RedisDSN:                    os.Getenv("REDIS_URL"),
		UpstreamAPIKey:              os.Getenv("OPENAI_API_KEY"),
		UpstreamBaseURL:             os.Getenv("OPENAI_BASE_URL"),
		Model:                       getEnvString("GATEWAY_MODEL", "gpt-4o-mini"),
		SessionSecret:               []byte(secret),
		GlobalDailyBudgetMillicents: int64(getEnvInt("GLOBAL_DAILY_BUDGET_MILLICENTS", 1_000_000)),
		AlertThresholds:             getEnvInts("COST_ALERT_THRESHOLDS"),
		ConvMaxTokens:               int64(getEnvInt("CONV_MAX_TOKENS", 150_000)),
		KDFMemoryKiB:                uint32(getEnvInt("KDF_MEMORY_KIB", 0)),
		KDFTime:                     uint32(getEnvInt("KDF_TIME", 0)),
		TierTablePath:               os.Getenv("TIER_TABLE_PATH"),
		CORSOrigin:                  os.Getenv("CORS_ORIGIN"),
		OTelEndpoint:                getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "gatewatch-otel-collector:4317"),
		EnableMetrics:               getEnvBool("GATEWAY_METRICS", true),
		GinMode:                     os.Getenv("GIN_MODE"),
		Development:                 getEnvBool("GATEWAY_DEV", false),
		InitSchema:                  getEnvBool("GATEWAY_INIT_SCHEMA", false),
	}

	slog.Info("Starting gateway",
		"port", cfg.Port,
		"model", cfg.Model,
		"daily_budget_millicents", cfg.GlobalDailyBudgetMillicents,
	)

	svc, err := gateway.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInts parses a comma-separated list of ints, nil when unset or
// malformed so the caller's defaults apply.
func getEnvInts(key string) []int {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []int
	for _, part := range strings.Split(value, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil
		}
		out = append(out, n)
	}
	return out
}

// getEnvBool returns the environment variable as bool or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
