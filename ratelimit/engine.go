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
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.gearno.de/ratelimitd/clock"
	"go.gearno.de/ratelimitd/internal/version"
	"go.gearno.de/ratelimitd/log"
	"go.gearno.de/ratelimitd/tierconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Option configures an Engine during initialization.
	Option func(e *Engine)

	// Engine is the rate limit decision engine. It orchestrates the
	// limit resolver and a CounterStore to produce a Decision for a
	// user, and the read-only sibling projection used by Stats.
	Engine struct {
		store    CounterStore
		registry *tierconfig.Registry
		clock    clock.Clock

		logger *log.Logger
		tracer trace.Tracer

		requestsTotal  *prometheus.CounterVec
		checkDuration  *prometheus.HistogramVec
		overrideActive prometheus.Counter
	}
)

const tracerName = "go.gearno.de/ratelimitd/ratelimit"

// WithLogger sets a custom logger for the engine.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		e.logger = l.Named("ratelimit")
	}
}

// WithTracerProvider configures OpenTelemetry tracing with the
// provided tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		e.tracer = tp.Tracer(
			tracerName,
			trace.WithInstrumentationVersion(
				version.New(0).Alpha(1),
			),
		)
	}
}

// WithRegisterer sets a custom Prometheus registerer for metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerMetrics(r)
	}
}

// WithClock overrides the wall clock used to derive bucket boundaries
// and to evaluate override expiry. Tests use this to pin or advance
// time deterministically.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// NewEngine builds a decision engine around store and registry.
func NewEngine(store CounterStore, registry *tierconfig.Registry, options ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		clock:    clock.System,
		logger:   log.NewLogger(log.WithOutput(io.Discard)),
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
	}

	e.registerMetrics(prometheus.DefaultRegisterer)

	for _, o := range options {
		o(e)
	}

	return e
}

func (e *Engine) registerMetrics(r prometheus.Registerer) {
	e.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "ratelimit",
			Name:      "requests_total",
			Help:      "Total number of rate limit checks.",
		},
		[]string{"allowed"},
	)
	if err := r.Register(e.requestsTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			e.requestsTotal = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	e.checkDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Subsystem: "ratelimit",
			Name:      "check_duration_seconds",
			Help:      "Duration of rate limit checks in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"allowed"},
	)
	if err := r.Register(e.checkDuration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			e.checkDuration = are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}

	e.overrideActive = prometheus.NewCounter(
		prometheus.CounterOpts{
			Subsystem: "ratelimit",
			Name:      "override_active_total",
			Help:      "Total number of checks resolved against an active per-user override.",
		},
	)
	if err := r.Register(e.overrideActive); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			e.overrideActive = are.ExistingCollector.(prometheus.Counter)
		}
	}
}

// BucketKey derives the counter store key for user at the bucket
// containing now, per the windowSeconds-aligned boundary.
func BucketKey(userID fmt.Stringer, now time.Time, windowSeconds int) string {
	windowStart := (now.Unix() / int64(windowSeconds)) * int64(windowSeconds)
	return fmt.Sprintf("rate_limit:%s:%d", userID, windowStart)
}

// Check resolves user's effective limit, atomically increments its
// current bucket, and returns Allowed or RateLimited.
func (e *Engine) Check(ctx context.Context, user User) (Decision, error) {
	start := time.Now()

	var (
		rootSpan = trace.SpanFromContext(ctx)
		span     trace.Span
	)

	if rootSpan.IsRecording() {
		ctx, span = e.tracer.Start(
			ctx,
			"ratelimit.Check",
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
		return nil, err
	}

	if resolved.OverrideActive {
		e.overrideActive.Inc()
	}

	key := BucketKey(user.ID, now, resolved.WindowSeconds)

	count, err := e.store.IncrAndExpire(ctx, key, resolved.WindowSeconds)
	if err != nil {
		wrapped := StoreErrorf(err, "cannot increment counter for key %q", key)
		if rootSpan.IsRecording() {
			span.RecordError(wrapped)
			span.SetStatus(codes.Error, wrapped.Error())
		}
		return nil, wrapped
	}

	var decision Decision

	if count <= resolved.Limit {
		decision = Allowed{
			Limit:         resolved.Limit,
			Remaining:     resolved.Limit - count,
			WindowSeconds: resolved.WindowSeconds,
		}
	} else {
		ttl, err := e.store.TTL(ctx, key)
		if err != nil {
			wrapped := StoreErrorf(err, "cannot read ttl for key %q", key)
			if rootSpan.IsRecording() {
				span.RecordError(wrapped)
				span.SetStatus(codes.Error, wrapped.Error())
			}
			return nil, wrapped
		}

		retryAfterSeconds := resolved.WindowSeconds
		if ttl >= 0 {
			retryAfterSeconds = int(ttl / time.Second)
		}

		decision = RateLimited{
			Limit:             resolved.Limit,
			WindowSeconds:     resolved.WindowSeconds,
			RetryAfterSeconds: retryAfterSeconds,
		}
	}

	allowed := "false"
	if _, ok := decision.(Allowed); ok {
		allowed = "true"
	}

	e.requestsTotal.WithLabelValues(allowed).Inc()
	e.checkDuration.WithLabelValues(allowed).Observe(time.Since(start).Seconds())

	if rootSpan.IsRecording() {
		span.SetAttributes(
			attribute.Bool("ratelimit.allowed", allowed == "true"),
			attribute.Int("ratelimit.limit", resolved.Limit),
			attribute.Int("ratelimit.window_seconds", resolved.WindowSeconds),
			attribute.Bool("ratelimit.override_active", resolved.OverrideActive),
			attribute.String("ratelimit.key", key),
		)
	}

	return decision, nil
}
