// Copyright (c) 2024 Bryan Frimin <bryan@frimin.fr>.
//
// Permission to use, copy, modify, and/or distribute this software
// for any purpose with or without fee is hereby granted, provided
// that the above copyright notice and this permission notice appear
// in all copies.
//
// THE SOFTWARE IS PROVIDED "AS IS" AND THE AUTHOR DISCLAIMS ALL
// WARRANTIES WITH REGARD TO THIS SOFTWARE INCLUDING ALL IMPLIED
// WARRANTIES OF MERCHANTABILITY AND FITNESS. IN NO EVENT SHALL THE
// AUTHOR BE LIABLE FOR ANY SPECIAL, DIRECT, INDIRECT, OR
// CONSEQUENTIAL DAMAGES OR ANY DAMAGES WHATSOEVER RESULTING FROM LOSS
// OF USE, DATA OR PROFITS, WHETHER IN AN ACTION OF CONTRACT,
// NEGLIGENCE OR OTHER TORTIOUS ACTION, ARISING OUT OF OR IN
// CONNECTION WITH THE USE OR PERFORMANCE OF THIS SOFTWARE.

// Package config loads process configuration from environment
// variables (and an optional .env file). Missing required variables
// abort the process with a diagnostic rather than falling back to a
// silent default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every environment-sourced setting the process needs
// at startup.
type Config struct {
	// HTTP surface.
	ListenAddr string

	// User store (Postgres/Supabase).
	SupabaseURL            string
	SupabaseServiceRoleKey string

	// Counter store (Redis).
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Supplemented feature: optional fire-and-forget notification on
	// override writes. Empty disables it.
	OverrideWebhookURL string
}

// Load reads Config from the environment, first loading a ".env" file
// if one is present in the working directory. It returns an error
// naming every missing required variable; callers should treat this
// as a fatal startup condition.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var missing []string

	supabaseURL, ok := lookupEnv("SUPABASE_URL")
	if !ok {
		missing = append(missing, "SUPABASE_URL")
	}

	supabaseKey, ok := lookupEnv("SUPABASE_SERVICE_ROLE_KEY")
	if !ok {
		missing = append(missing, "SUPABASE_SERVICE_ROLE_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}

	redisPort, err := getEnvInt("REDIS_PORT", 6379)
	if err != nil {
		return nil, err
	}
	if redisPort < 1 || redisPort > 65535 {
		return nil, fmt.Errorf("REDIS_PORT must be in 1..65535, got %d", redisPort)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}

	return &Config{
		ListenAddr: getEnv("GATEWAY_ADDR", ":3000"),

		SupabaseURL:            supabaseURL,
		SupabaseServiceRoleKey: supabaseKey,

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     redisPort,
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		OverrideWebhookURL: getEnv("RATE_LIMIT_OVERRIDE_WEBHOOK_URL", ""),
	}, nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func getEnv(key, fallback string) string {
	if v, ok := lookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v, ok := lookupEnv(key)
	if !ok {
		return fallback, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}

	return n, nil
}
