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

import "fmt"

// Kind classifies an Error for the purpose of mapping it to an
// external HTTP response. Each Kind maps to exactly one status code
// at the api boundary.
type Kind int

const (
	// KindNotFound means the referenced user does not exist.
	KindNotFound Kind = iota

	// KindUserStoreError means the user store (Postgres) failed in a
	// way unrelated to the user's existence.
	KindUserStoreError

	// KindStoreError means the counter store (Redis) failed.
	KindStoreError

	// KindConfigError means the tier configuration is missing a tier
	// referenced by a user, or a plan's windowSeconds is not positive.
	KindConfigError

	// KindBadRequest means the caller-supplied input was invalid, e.g.
	// a malformed user id or a non-positive override field.
	KindBadRequest
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUserStoreError:
		return "user_store_error"
	case KindStoreError:
		return "store_error"
	case KindConfigError:
		return "config_error"
	case KindBadRequest:
		return "bad_request"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by every exported operation
// in this package. Callers switch on Kind rather than doing string
// matching or sentinel comparisons.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

// NotFoundf builds a KindNotFound error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// UserStoreErrorf builds a KindUserStoreError error wrapping err.
func UserStoreErrorf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUserStoreError, Message: fmt.Sprintf(format, args...), err: err}
}

// StoreErrorf builds a KindStoreError error wrapping err.
func StoreErrorf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStoreError, Message: fmt.Sprintf(format, args...), err: err}
}

// ConfigErrorf builds a KindConfigError error.
func ConfigErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindConfigError, Message: fmt.Sprintf(format, args...)}
}

// BadRequestf builds a KindBadRequest error.
func BadRequestf(format string, args ...any) *Error {
	return &Error{Kind: KindBadRequest, Message: fmt.Sprintf(format, args...)}
}
