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

// Package api is the HTTP surface: it routes requests, validates
// input at the edge, and marshals ratelimit decisions into HTTP
// responses. It holds no business logic of its own.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"go.gearno.de/ratelimitd/httpserver"
	"go.gearno.de/ratelimitd/ratelimit"
	"go.gearno.de/ratelimitd/userstore"
)

type (
	// UserReader is the capability needed to look up a user record.
	UserReader interface {
		GetByID(ctx context.Context, id uuid.UUID) (ratelimit.User, error)
	}

	// DecisionEngine is the capability needed to check and project a
	// user's rate limit.
	DecisionEngine interface {
		Check(ctx context.Context, user ratelimit.User) (ratelimit.Decision, error)
		Stats(ctx context.Context, user ratelimit.User) (ratelimit.Stats, error)
	}

	// OverrideWriter is the capability needed to mutate a user's
	// override fields.
	OverrideWriter interface {
		WriteOverride(ctx context.Context, id uuid.UUID, patch userstore.OverridePatch) (*ratelimit.Override, error)
	}

	// Handler implements the HTTP surface described in the spec: GET
	// /api/check, GET /rate-limit-stats, PUT /users/:userId/rate-limits.
	Handler struct {
		users     UserReader
		engine    DecisionEngine
		overrides OverrideWriter
	}
)

// NewHandler builds a Handler over the given capabilities.
func NewHandler(users UserReader, engine DecisionEngine, overrides OverrideWriter) *Handler {
	return &Handler{users: users, engine: engine, overrides: overrides}
}

// Routes mounts the handler's endpoints on a fresh chi router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/check", h.handleCheck)
	r.Get("/rate-limit-stats", h.handleStats)
	r.Put("/users/{userId}/rate-limits", h.handleWriteOverride)
	return r
}

// renderError writes the spec's error body shape: {"error": "<message>"}.
func renderError(w http.ResponseWriter, statusCode int, message string) {
	httpserver.RenderJSON(w, statusCode, map[string]string{"error": message})
}

// statusForKind maps a ratelimit.Kind to its external HTTP status and
// message, per the error taxonomy.
func statusForKind(kind ratelimit.Kind) (int, string) {
	switch kind {
	case ratelimit.KindNotFound:
		return http.StatusNotFound, ""
	case ratelimit.KindBadRequest:
		return http.StatusBadRequest, ""
	case ratelimit.KindUserStoreError:
		return http.StatusInternalServerError, "Database error"
	case ratelimit.KindStoreError:
		return http.StatusInternalServerError, "Cache error"
	case ratelimit.KindConfigError:
		return http.StatusInternalServerError, "Config error"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

// writeEngineError renders err according to the error taxonomy. A
// non-*ratelimit.Error is treated as an opaque internal error.
func writeEngineError(w http.ResponseWriter, err error) {
	rlErr, ok := err.(*ratelimit.Error)
	if !ok {
		renderError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	status, message := statusForKind(rlErr.Kind)
	if message == "" {
		message = rlErr.Error()
	}

	renderError(w, status, message)
}

// parseUserID validates the userId query or path parameter as a UUID.
func parseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, ratelimit.BadRequestf("invalid userId %q", raw)
	}
	return id, nil
}
