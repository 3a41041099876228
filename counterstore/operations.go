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

package counterstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IncrAndExpire implements ratelimit.CounterStore. It is never
// retried: a client-side retry of a successful increment would
// double-count a request, which is the one failure mode bounded retry
// must not introduce.
func (c *Client) IncrAndExpire(ctx context.Context, key string, windowSeconds int) (int, error) {
	ctx, span := c.startSpan(ctx, "IncrAndExpire", key)

	ttlMillis := int64(windowSeconds) * 1000

	res, err := c.script.Run(ctx, c.rdb, []string{key}, ttlMillis).Result()
	if err != nil {
		c.commandsTotal.WithLabelValues("incr_and_expire", "error").Inc()
		finishSpan(span, err)
		return 0, fmt.Errorf("cannot run incr-and-expire script: %w", err)
	}

	count, ok := res.(int64)
	if !ok {
		err := fmt.Errorf("non-numeric result from incr-and-expire script: %T", res)
		c.commandsTotal.WithLabelValues("incr_and_expire", "error").Inc()
		finishSpan(span, err)
		return 0, err
	}

	c.commandsTotal.WithLabelValues("incr_and_expire", "ok").Inc()
	finishSpan(span, nil)

	return int(count), nil
}

// TTL implements ratelimit.CounterStore. The sentinel durations -1s
// (key exists without expiry) and -2s (key absent) are forwarded
// verbatim, matching the Redis TTL command's own sentinel semantics.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, span := c.startSpan(ctx, "TTL", key)

	var attempt int
	for {
		d, err := c.rdb.TTL(ctx, key).Result()
		if err == nil {
			// go-redis reports the -1/-2 sentinels as raw durations of
			// -1ns/-2ns; scale them to seconds like every other TTL.
			if d == -1 || d == -2 {
				d *= time.Second
			}
			c.commandsTotal.WithLabelValues("ttl", "ok").Inc()
			finishSpan(span, nil)
			return d, nil
		}

		attempt++
		if attempt > c.maxRetries || !isRetryable(err) {
			c.commandsTotal.WithLabelValues("ttl", "error").Inc()
			wrapped := fmt.Errorf("cannot read ttl for key %q: %w", key, err)
			finishSpan(span, wrapped)
			return 0, wrapped
		}
	}
}

// Get implements ratelimit.CounterStore. A missing key is reported as
// 0, matching the semantics of a bucket that has not seen a request
// yet.
func (c *Client) Get(ctx context.Context, key string) (int, error) {
	ctx, span := c.startSpan(ctx, "Get", key)

	var attempt int
	for {
		n, err := c.rdb.Get(ctx, key).Int()
		if err == nil {
			c.commandsTotal.WithLabelValues("get", "ok").Inc()
			finishSpan(span, nil)
			return n, nil
		}

		if errors.Is(err, redis.Nil) {
			c.commandsTotal.WithLabelValues("get", "ok").Inc()
			finishSpan(span, nil)
			return 0, nil
		}

		attempt++
		if attempt > c.maxRetries || !isRetryable(err) {
			c.commandsTotal.WithLabelValues("get", "error").Inc()
			wrapped := fmt.Errorf("cannot read counter for key %q: %w", key, err)
			finishSpan(span, wrapped)
			return 0, wrapped
		}
	}
}

// isRetryable reports whether a failed command is worth retrying. A
// context cancellation or deadline is never retried since the caller
// has already given up.
func isRetryable(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
