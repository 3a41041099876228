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

// Package version formats instrumentation-library version strings for
// OpenTelemetry tracers created by the kit packages.
package version

import "fmt"

// V is a package major version, rendered as an OTel instrumentation
// version string.
type V struct {
	major int
}

// New returns a V for the given major version.
func New(major int) V {
	return V{major: major}
}

// Alpha formats the version as a pre-1.0 alpha release, e.g.
// "0.0.0-alpha.1".
func (v V) Alpha(n int) string {
	return fmt.Sprintf("%d.0.0-alpha.%d", v.major, n)
}

// String formats the version as a stable release, e.g. "1.0.0".
func (v V) String() string {
	return fmt.Sprintf("%d.0.0", v.major)
}
