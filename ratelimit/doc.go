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

// Package ratelimit is the tier-based rate limit decision engine: it
// resolves the effective (limit, window) for a user, atomically
// increments that user's windowed counter in the shared counter
// store, and classifies the outcome as Allowed or RateLimited with a
// correct Retry-After.
//
// # Algorithm
//
// The engine uses a fixed window counter keyed by
// "rate_limit:<userId>:<windowStartSeconds>", where windowStartSeconds
// is windowSeconds-aligned to the epoch. The counter store increments
// and sets the bucket's TTL atomically on first creation, so no
// concurrent caller can observe a bucket without an expiry.
//
// # Limit resolution
//
// A user's limit and window come from either their subscription tier
// (looked up in a read-only tierconfig.Registry) or a per-user
// Override that supersedes the tier while Expiry is in the future.
// Partial overrides are translated away at the userstore boundary:
// internally Override is always all-or-nothing.
//
// # Usage
//
//	engine := ratelimit.NewEngine(counterStore, registry,
//	    ratelimit.WithClock(clock.System),
//	    ratelimit.WithLogger(logger),
//	    ratelimit.WithTracerProvider(tp),
//	    ratelimit.WithRegisterer(reg),
//	)
//
//	decision, err := engine.Check(ctx, user)
//	if err != nil {
//	    // ConfigError or StoreError, see errors.go
//	}
//
//	switch d := decision.(type) {
//	case ratelimit.Allowed:
//	    // 200
//	case ratelimit.RateLimited:
//	    // 429, Retry-After: d.RetryAfterSeconds
//	}
//
// # Metrics
//
//   - ratelimit_requests_total{allowed}: counter of rate limit checks
//   - ratelimit_check_duration_seconds{allowed}: histogram of check durations
//   - ratelimit_override_active_total: counter of checks resolved against
//     an active per-user override rather than the tier default
//
// # Tracing
//
// OpenTelemetry spans are created for Check and Stats with attributes
// describing the rate limit key, limit, window, and outcome.
package ratelimit
