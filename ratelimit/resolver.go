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
	"time"

	"go.gearno.de/ratelimitd/tierconfig"
)

// resolve computes the effective (limit, window) for user at instant
// now. An override takes precedence over the tier default as long as
// its Expiry is strictly after now; once expired it is treated as
// absent, even if the row has not been cleaned up yet.
func resolve(user User, registry *tierconfig.Registry, now time.Time) (Resolved, error) {
	if user.Override != nil && user.Override.Expiry.After(now) {
		if user.Override.WindowSeconds <= 0 {
			return Resolved{}, ConfigErrorf(
				"user %s: override windowSeconds must be positive, got %d",
				user.ID, user.Override.WindowSeconds,
			)
		}

		return Resolved{
			Limit:          user.Override.Limit,
			WindowSeconds:  user.Override.WindowSeconds,
			OverrideActive: true,
		}, nil
	}

	plan, ok := registry.Lookup(user.Tier)
	if !ok {
		return Resolved{}, ConfigErrorf("user %s: unknown tier %q", user.ID, user.Tier)
	}

	if plan.WindowSeconds <= 0 {
		return Resolved{}, ConfigErrorf(
			"user %s: tier %q windowSeconds must be positive, got %d",
			user.ID, user.Tier, plan.WindowSeconds,
		)
	}

	return Resolved{
		Limit:         plan.Requests,
		WindowSeconds: plan.WindowSeconds,
	}, nil
}
