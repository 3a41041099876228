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

package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type (
	// User is the subset of a user record the decision engine needs to
	// resolve a rate limit: its identity, its subscription tier, and
	// an optional override that supersedes the tier.
	User struct {
		ID       uuid.UUID
		Tier     string
		Override *Override
	}

	// Override is a per-user limit that supersedes the tier default
	// while Expiry is in the future. It is all-or-nothing: there is no
	// representation of a partially set override once it reaches the
	// engine, see userstore for the translation from the three
	// nullable database columns.
	Override struct {
		Limit         int
		WindowSeconds int
		Expiry        time.Time
	}

	// Resolved is the effective (limit, window) for a user at a given
	// instant, along with whether it came from an override.
	Resolved struct {
		Limit          int
		WindowSeconds  int
		OverrideActive bool
	}

	// Decision is the outcome of a rate limit check. It is a closed
	// sum type: Allowed or RateLimited, never an error. Callers switch
	// on the concrete type.
	Decision interface {
		isDecision()
	}

	// Allowed means the request is permitted; the counter has already
	// been incremented.
	Allowed struct {
		Limit         int
		Remaining     int
		WindowSeconds int
	}

	// RateLimited means the request must be rejected. RetryAfterSeconds
	// is the number of whole seconds until the current window resets
	// (non-negative; 0 when less than a second remains), or
	// WindowSeconds when the TTL read returns a negative sentinel.
	RateLimited struct {
		Limit             int
		WindowSeconds     int
		RetryAfterSeconds int
	}

	// Stats is the point-in-time view returned by the stats projector.
	// It never mutates the counter.
	Stats struct {
		UserID            uuid.UUID
		Tier              string
		Limit             int
		WindowSeconds     int
		CurrentCount      int
		SecondsUntilReset int
		OverrideActive    bool
	}

	// CounterStore is the capability the decision engine needs from the
	// shared counter backend. Implementations must make IncrAndExpire
	// atomic: the increment and the expiry assignment on first creation
	// happen as one operation, so no caller ever observes a bucket
	// without a TTL.
	CounterStore interface {
		// IncrAndExpire increments the counter for key by 1 and, only
		// if this increment created the key, sets its TTL to
		// windowSeconds. It returns the post-increment count.
		IncrAndExpire(ctx context.Context, key string, windowSeconds int) (int, error)

		// TTL returns the remaining time to live for key. -1s means
		// the key has no expiry (should not happen given
		// IncrAndExpire's contract) and -2s means the key does not
		// exist.
		TTL(ctx context.Context, key string) (time.Duration, error)

		// Get returns the current counter value for key, or 0 if the
		// key does not exist.
		Get(ctx context.Context, key string) (int, error)
	}
)

func (Allowed) isDecision()     {}
func (RateLimited) isDecision() {}
