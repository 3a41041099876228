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

package userstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.gearno.de/ratelimitd/pg"
	"go.gearno.de/ratelimitd/ratelimit"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OverridePatch is a partial update to a user's override trio. A nil
// field leaves the corresponding column untouched. Supplying none of
// the three fields is rejected by the caller (api), not here.
type OverridePatch struct {
	Limit         *int
	WindowSeconds *int
	Expiry        *time.Time
}

// WriteOverride patches the override trio on a user row in a single
// UPDATE statement that also bumps updated_at, and returns the
// post-update values. Supplied numeric fields must be positive;
// callers are responsible for that validation (see api), this method
// trusts its input. A partial patch that leaves the trio inactive is
// legal and has the well-defined meaning of "no override" downstream.
func (s *Store) WriteOverride(ctx context.Context, id uuid.UUID, patch OverridePatch) (*ratelimit.Override, error) {
	var (
		rootSpan = trace.SpanFromContext(ctx)
		span     trace.Span
	)

	if rootSpan.IsRecording() {
		ctx, span = s.tracer.Start(
			ctx,
			"userstore.WriteOverride",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("userstore.user_id", id.String())),
		)
		defer span.End()
	}

	var (
		overrideLimit         *int
		overrideWindowSeconds *int
		overrideExpiry        *time.Time
	)

	err := s.pg.WithConn(ctx, func(conn pg.Conn) error {
		row := conn.QueryRow(
			ctx,
			`UPDATE users
			    SET override_limit          = COALESCE($2, override_limit),
			        override_window_seconds  = COALESCE($3, override_window_seconds),
			        override_expiry          = COALESCE($4, override_expiry),
			        updated_at               = now()
			  WHERE id = $1
			  RETURNING override_limit, override_window_seconds, override_expiry`,
			id, patch.Limit, patch.WindowSeconds, patch.Expiry,
		)

		return row.Scan(&overrideLimit, &overrideWindowSeconds, &overrideExpiry)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.queriesTotal.WithLabelValues("write_override", "not_found").Inc()
			finishSpan(rootSpan, span, nil)
			return nil, ratelimit.NotFoundf("User %s not found", id)
		}

		s.queriesTotal.WithLabelValues("write_override", "error").Inc()
		wrapped := ratelimit.UserStoreErrorf(err, "cannot write override for user %s", id)
		finishSpan(rootSpan, span, wrapped)
		return nil, wrapped
	}

	s.queriesTotal.WithLabelValues("write_override", "ok").Inc()
	finishSpan(rootSpan, span, nil)

	result := collapseOverride(overrideLimit, overrideWindowSeconds, overrideExpiry)

	if s.notifier != nil {
		go func() {
			notifyCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
			defer cancel()
			s.notifier.NotifyOverrideWritten(notifyCtx, id, result)
		}()
	}

	return result, nil
}

// notifyTimeout bounds how long a detached override notification may
// run. It is independent of the request context, which may already be
// gone by the time this goroutine runs: the HTTP response must never
// wait on it.
const notifyTimeout = 5 * time.Second
