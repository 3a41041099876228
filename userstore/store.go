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

// Package userstore is the Postgres-backed reader and writer for user
// records: tier, and the three nullable override columns translated
// at this boundary into a single optional ratelimit.Override.
package userstore

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.gearno.de/ratelimitd/internal/version"
	"go.gearno.de/ratelimitd/log"
	"go.gearno.de/ratelimitd/pg"
	"go.gearno.de/ratelimitd/ratelimit"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Option configures a Store during initialization.
	Option func(s *Store)

	// pgClient is the subset of *pg.Client the store depends on. It
	// exists so tests can substitute a fake Conn without a real
	// connection pool.
	pgClient interface {
		WithConn(ctx context.Context, exec pg.ExecFunc) error
	}

	// Store reads and writes user records against Postgres.
	Store struct {
		pg pgClient

		notifier OverrideNotifier

		maxRetries int

		logger *log.Logger
		tracer trace.Tracer

		queriesTotal *prometheus.CounterVec
	}

	// OverrideNotifier is notified, best-effort, after an override
	// write commits. A nil notifier disables the feature entirely.
	OverrideNotifier interface {
		NotifyOverrideWritten(ctx context.Context, userID uuid.UUID, override *ratelimit.Override)
	}
)

const tracerName = "go.gearno.de/ratelimitd/userstore"

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) {
		s.logger = l.Named("userstore.store")
	}
}

// WithTracerProvider configures OpenTelemetry tracing with the
// provided tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Store) {
		s.tracer = tp.Tracer(
			tracerName,
			trace.WithInstrumentationVersion(
				version.New(0).Alpha(1),
			),
		)
	}
}

// WithRegisterer sets a custom Prometheus registerer for metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *Store) {
		s.registerMetrics(r)
	}
}

// WithOverrideNotifier attaches a best-effort notifier invoked after
// every successful override write.
func WithOverrideNotifier(n OverrideNotifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// WithMaxRetries bounds the number of client-side retries applied to
// the idempotent read GetByID. WriteOverride is never retried: a
// retried UPDATE would re-apply the same patch, which is harmless for
// the override trio itself but would fire a second notification.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		s.maxRetries = n
	}
}

// NewStore builds a Store around an already-configured pg.Client.
func NewStore(client pgClient, options ...Option) *Store {
	s := &Store{
		pg:         client,
		maxRetries: 3,
		logger:     log.NewLogger(log.WithOutput(io.Discard)),
		tracer:     otel.GetTracerProvider().Tracer(tracerName),
	}

	s.registerMetrics(prometheus.DefaultRegisterer)

	for _, o := range options {
		o(s)
	}

	return s
}

func (s *Store) registerMetrics(r prometheus.Registerer) {
	s.queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "userstore",
			Name:      "queries_total",
			Help:      "Total number of user store queries, by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	if err := r.Register(s.queriesTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			s.queriesTotal = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
}

// GetByID fetches a user's tier and override fields by primary key.
// The three nullable override columns are collapsed into a single
// optional ratelimit.Override; a partially-set override trio (e.g.
// only overrideLimit present) is treated as no override at all.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (ratelimit.User, error) {
	var (
		rootSpan = trace.SpanFromContext(ctx)
		span     trace.Span
	)

	if rootSpan.IsRecording() {
		ctx, span = s.tracer.Start(
			ctx,
			"userstore.GetByID",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("userstore.user_id", id.String())),
		)
		defer span.End()
	}

	var (
		tier                  string
		overrideLimit         *int
		overrideWindowSeconds *int
		overrideExpiry        *time.Time
	)

	var (
		err     error
		attempt int
	)
	for {
		err = s.pg.WithConn(ctx, func(conn pg.Conn) error {
			row := conn.QueryRow(
				ctx,
				`SELECT tier, override_limit, override_window_seconds, override_expiry
				   FROM users
				  WHERE id = $1`,
				id,
			)

			return row.Scan(&tier, &overrideLimit, &overrideWindowSeconds, &overrideExpiry)
		})

		if err == nil || errors.Is(err, pgx.ErrNoRows) {
			break
		}

		attempt++
		if attempt > s.maxRetries || !isRetryable(err) {
			break
		}
	}

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			s.queriesTotal.WithLabelValues("get_by_id", "not_found").Inc()
			finishSpan(rootSpan, span, nil)
			return ratelimit.User{}, ratelimit.NotFoundf("User %s not found", id)
		}

		s.queriesTotal.WithLabelValues("get_by_id", "error").Inc()
		wrapped := ratelimit.UserStoreErrorf(err, "cannot fetch user %s", id)
		finishSpan(rootSpan, span, wrapped)
		return ratelimit.User{}, wrapped
	}

	s.queriesTotal.WithLabelValues("get_by_id", "ok").Inc()
	finishSpan(rootSpan, span, nil)

	return ratelimit.User{
		ID:       id,
		Tier:     tier,
		Override: collapseOverride(overrideLimit, overrideWindowSeconds, overrideExpiry),
	}, nil
}

// collapseOverride implements the boundary translation described in
// the package doc: the override is present only when all three
// columns are non-null. A partial trio is silently treated as no
// override, per the resolver's own contract.
func collapseOverride(limit, windowSeconds *int, expiry *time.Time) *ratelimit.Override {
	if limit == nil || windowSeconds == nil || expiry == nil {
		return nil
	}

	return &ratelimit.Override{
		Limit:         *limit,
		WindowSeconds: *windowSeconds,
		Expiry:        *expiry,
	}
}

// isRetryable reports whether a failed query is worth retrying. A
// context cancellation or deadline is never retried since the caller
// has already given up.
func isRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func finishSpan(rootSpan, span trace.Span, err error) {
	if !rootSpan.IsRecording() {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
