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

// Package clock provides the wall-clock capability injected into the
// rate limit decision engine so that resolver and bucket-key tests can
// control time deterministically.
package clock

import "time"

type (
	// Clock returns the current wall-clock instant.
	Clock interface {
		Now() time.Time
	}

	systemClock struct{}
)

// System is the Clock backed by time.Now.
var System Clock = systemClock{}

func (systemClock) Now() time.Time { return time.Now() }

// Fixed returns a Clock that always reports t, useful for scenario
// tests that need to assert decisions at an exact instant.
func Fixed(t time.Time) Clock {
	return fixedClock{t}
}

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

// Offset returns a Clock whose Now() is base advanced by d. Useful to
// step through a scenario (S3, S4 in the spec) without rebuilding a
// fixed clock for every tick.
func Offset(base time.Time, d time.Duration) Clock {
	return fixedClock{base.Add(d)}
}
