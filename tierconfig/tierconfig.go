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

// Package tierconfig holds the read-only tier -> (limit, window)
// mapping consulted by the rate limit resolver whenever a user has no
// active override. The registry is immutable for the lifetime of a
// process; replacing it requires a restart.
package tierconfig

import "fmt"

type (
	// Plan is the default rate budget granted to a subscription tier.
	Plan struct {
		Requests      int
		WindowSeconds int
	}

	// Registry is a read-only tier -> Plan lookup table.
	Registry struct {
		plans map[string]Plan
	}
)

// New builds a Registry from a tier -> Plan map. The map is copied so
// the caller's map can be mutated afterwards without affecting the
// registry.
func New(plans map[string]Plan) *Registry {
	copied := make(map[string]Plan, len(plans))
	for tier, plan := range plans {
		copied[tier] = plan
	}

	return &Registry{plans: copied}
}

// Lookup returns the Plan configured for tier. The second return value
// is false when the tier is unknown; the tier literal is matched
// byte-for-byte, no case or whitespace normalization is performed.
func (r *Registry) Lookup(tier string) (Plan, bool) {
	plan, ok := r.plans[tier]
	return plan, ok
}

// Validate checks that every configured plan has positive values. It
// is meant to be called once at startup; the resolver itself also
// re-checks windowSeconds per spec, since a future registry
// implementation could otherwise violate the invariant silently.
func (r *Registry) Validate() error {
	for tier, plan := range r.plans {
		if plan.Requests <= 0 {
			return fmt.Errorf("tier %q: requests must be positive, got %d", tier, plan.Requests)
		}
		if plan.WindowSeconds <= 0 {
			return fmt.Errorf("tier %q: windowSeconds must be positive, got %d", tier, plan.WindowSeconds)
		}
	}

	return nil
}
