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

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Stats reads the current count and remaining TTL for user's bucket
// without mutating it. Unlike Check, the raw TTL sentinels (-1 no
// expiry, -2 absent) are forwarded verbatim in SecondsUntilReset
// rather than being folded into the windowSeconds fallback.
func (e *Engine) Stats(ctx context.Context, user User) (Stats, error) {
	var (
		rootSpan = trace.SpanFromContext(ctx)
		span     trace.Span
	)

	if rootSpan.IsRecording() {
		ctx, span = e.tracer.Start(
			ctx,
			"ratelimit.Stats",
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(
				attribute.String("ratelimit.user_id", user.ID.String()),
				attribute.String("ratelimit.tier", user.Tier),
			),
		)
		defer span.End()
	}

	now := e.clock.Now()

	resolved, err := resolve(user, e.registry, now)
	if err != nil {
		if rootSpan.IsRecording() {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return Stats{}, err
	}

	key := BucketKey(user.ID, now, resolved.WindowSeconds)

	count, err := e.store.Get(ctx, key)
	if err != nil {
		wrapped := StoreErrorf(err, "cannot read counter for key %q", key)
		if rootSpan.IsRecording() {
			span.RecordError(wrapped)
			span.SetStatus(codes.Error, wrapped.Error())
		}
		return Stats{}, wrapped
	}

	ttl, err := e.store.TTL(ctx, key)
	if err != nil {
		wrapped := StoreErrorf(err, "cannot read ttl for key %q", key)
		if rootSpan.IsRecording() {
			span.RecordError(wrapped)
			span.SetStatus(codes.Error, wrapped.Error())
		}
		return Stats{}, wrapped
	}

	secondsUntilReset := int(ttl / time.Second)

	if rootSpan.IsRecording() {
		span.SetAttributes(
			attribute.Int("ratelimit.limit", resolved.Limit),
			attribute.Int("ratelimit.window_seconds", resolved.WindowSeconds),
			attribute.Bool("ratelimit.override_active", resolved.OverrideActive),
			attribute.Int("ratelimit.current_count", count),
			attribute.String("ratelimit.key", key),
		)
	}

	return Stats{
		UserID:            user.ID,
		Tier:              user.Tier,
		Limit:             resolved.Limit,
		WindowSeconds:     resolved.WindowSeconds,
		CurrentCount:      count,
		SecondsUntilReset: secondsUntilReset,
		OverrideActive:    resolved.OverrideActive,
	}, nil
}
