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

// Package counterstore is the Redis-backed implementation of the
// ratelimit.CounterStore capability: it owns the "rate_limit:*"
// keyspace and exposes the atomic increment-and-expire primitive the
// decision engine depends on.
package counterstore

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.gearno.de/ratelimitd/internal/version"
	"go.gearno.de/ratelimitd/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// incrAndExpireScript increments KEYS[1] and, only on the increment
// that creates the key, sets its TTL to ARGV[1] milliseconds. The
// increment and the TTL assignment happen as one atomic server-side
// operation so no caller ever observes a key without an expiry.
const incrAndExpireScript = `
local current = redis.call("INCR", KEYS[1])
if tonumber(current) == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`

type (
	// Option configures a Client during initialization.
	Option func(c *Client)

	// Cmdable is the subset of the go-redis client used by Client. It
	// is satisfied by both *redis.Client and *redis.ClusterClient.
	Cmdable interface {
		redis.Scripter
		TTL(ctx context.Context, key string) *redis.DurationCmd
		Get(ctx context.Context, key string) *redis.StringCmd
		Ping(ctx context.Context) *redis.StatusCmd
	}

	// Client implements ratelimit.CounterStore against a Redis
	// server, with logging, tracing, and Prometheus metrics.
	Client struct {
		rdb Cmdable

		addr     string
		password string
		db       int

		maxRetries int

		script *redis.Script

		tracerProvider trace.TracerProvider
		tracer         trace.Tracer
		logger         *log.Logger
		registerer     prometheus.Registerer

		commandsTotal *prometheus.CounterVec
	}
)

const tracerName = "go.gearno.de/ratelimitd/counterstore"

// WithAddr sets the Redis address in "host:port" form. Defaults to
// "127.0.0.1:6379".
func WithAddr(addr string) Option {
	return func(c *Client) {
		c.addr = addr
	}
}

// WithPassword sets the Redis AUTH password.
func WithPassword(password string) Option {
	return func(c *Client) {
		c.password = password
	}
}

// WithDB selects the Redis logical database index.
func WithDB(db int) Option {
	return func(c *Client) {
		c.db = db
	}
}

// WithMaxRetries bounds the number of client-side retries applied to
// idempotent reads (TTL, Get). Increment is never retried: a retried
// increment would double-count a request.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		c.logger = l.Named("counterstore.client")
	}
}

// WithTracerProvider configures OpenTelemetry tracing with the
// provided tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		c.tracerProvider = tp
	}
}

// WithRegisterer sets a custom Prometheus registerer for metrics.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = r
	}
}

// NewClient builds a Client connected lazily to the configured Redis
// server; no network I/O happens until the first command or a call to
// Ready.
func NewClient(options ...Option) *Client {
	c := &Client{
		addr:           "127.0.0.1:6379",
		db:             0,
		maxRetries:     3,
		logger:         log.NewLogger(log.WithOutput(io.Discard)),
		tracerProvider: otel.GetTracerProvider(),
		registerer:     prometheus.DefaultRegisterer,
		script:         redis.NewScript(incrAndExpireScript),
	}

	for _, o := range options {
		o(c)
	}

	c.tracer = c.tracerProvider.Tracer(
		tracerName,
		trace.WithInstrumentationVersion(
			version.New(0).Alpha(1),
		),
	)

	c.rdb = redis.NewClient(&redis.Options{
		Addr:     c.addr,
		Password: c.password,
		DB:       c.db,
	})

	c.registerMetrics()

	return c
}

// NewClientFromCmdable wraps an already-constructed Cmdable, such as a
// *redis.Client pointed at a miniredis instance in tests.
func NewClientFromCmdable(rdb Cmdable, options ...Option) *Client {
	c := NewClient(options...)
	c.rdb = rdb
	return c
}

func (c *Client) registerMetrics() {
	c.commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Subsystem: "counterstore",
			Name:      "commands_total",
			Help:      "Total number of counter store commands issued, by command and outcome.",
		},
		[]string{"command", "outcome"},
	)
	if err := c.registerer.Register(c.commandsTotal); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			c.commandsTotal = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}
}

// Ready performs an explicit readiness check against the Redis
// server. It is meant to be called once at process start, after lazy
// connection, before the process begins serving traffic.
func (c *Client) Ready(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cannot ping counter store: %w", err)
	}
	return nil
}

func (c *Client) startSpan(ctx context.Context, op string, key string) (context.Context, trace.Span) {
	if !trace.SpanFromContext(ctx).IsRecording() {
		return ctx, nil
	}

	ctx, span := c.tracer.Start(
		ctx,
		"counterstore."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("counterstore.key", key)),
	)
	return ctx, span
}

func finishSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
