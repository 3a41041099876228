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

package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"go.gearno.de/ratelimitd/httpserver"
	"go.gearno.de/ratelimitd/ratelimit"
	"go.gearno.de/ratelimitd/userstore"
)

// handleCheck implements GET /api/check?userId=<uuid>.
func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := parseUserID(r.URL.Query().Get("userId"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	user, err := h.users.GetByID(ctx, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	decision, err := h.engine.Check(ctx, user)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	switch d := decision.(type) {
	case ratelimit.Allowed:
		httpserver.RenderJSON(w, http.StatusOK, map[string]any{
			"statusCode": http.StatusOK,
			"status":     "ALLOWED",
		})
	case ratelimit.RateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
		httpserver.RenderJSON(w, http.StatusTooManyRequests, map[string]any{
			"statusCode": http.StatusTooManyRequests,
			"status":     "NOT ALLOWED",
			"RetryAfter": strconv.Itoa(d.RetryAfterSeconds),
		})
	}
}

// rateLimitStats is the wire shape of GET /rate-limit-stats, per §3 and
// §4.4: secondsUntilReset forwards the raw TTL sentinel, it is not
// folded into windowSeconds the way the decision engine's
// RetryAfterSeconds is.
type rateLimitStats struct {
	UserID            string `json:"userId"`
	Tier              string `json:"tier"`
	Limit             int    `json:"limit"`
	WindowSeconds     int    `json:"windowSeconds"`
	CurrentCount      int    `json:"currentCount"`
	SecondsUntilReset int    `json:"secondsUntilReset"`
	OverrideActive    bool   `json:"overrideActive"`
}

// handleStats implements GET /rate-limit-stats?userId=<uuid>.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := parseUserID(r.URL.Query().Get("userId"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	user, err := h.users.GetByID(ctx, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	stats, err := h.engine.Stats(ctx, user)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	httpserver.RenderJSON(w, http.StatusOK, rateLimitStats{
		UserID:            stats.UserID.String(),
		Tier:              stats.Tier,
		Limit:             stats.Limit,
		WindowSeconds:     stats.WindowSeconds,
		CurrentCount:      stats.CurrentCount,
		SecondsUntilReset: stats.SecondsUntilReset,
		OverrideActive:    stats.OverrideActive,
	})
}

// writeOverrideRequest is the request body of PUT
// /users/:userId/rate-limits. All three fields are independently
// nullable; omitting all three is rejected.
type writeOverrideRequest struct {
	OverrideLimit         *int       `json:"overrideLimit"`
	OverrideWindowSeconds *int       `json:"overrideWindowSeconds"`
	OverrideExpiry        *time.Time `json:"overrideExpiry"`
}

// handleWriteOverride implements PUT /users/:userId/rate-limits.
func (h *Handler) handleWriteOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := parseUserID(chi.URLParam(r, "userId"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var req writeOverrideRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeEngineError(w, ratelimit.BadRequestf("malformed request body: %v", err))
		return
	}

	if req.OverrideLimit == nil && req.OverrideWindowSeconds == nil && req.OverrideExpiry == nil {
		writeEngineError(w, ratelimit.BadRequestf("at least one of overrideLimit, overrideWindowSeconds, overrideExpiry must be set"))
		return
	}

	if req.OverrideLimit != nil && *req.OverrideLimit <= 0 {
		writeEngineError(w, ratelimit.BadRequestf("overrideLimit must be positive"))
		return
	}

	if req.OverrideWindowSeconds != nil && *req.OverrideWindowSeconds <= 0 {
		writeEngineError(w, ratelimit.BadRequestf("overrideWindowSeconds must be positive"))
		return
	}

	patch := userstore.OverridePatch{
		Limit:         req.OverrideLimit,
		WindowSeconds: req.OverrideWindowSeconds,
		Expiry:        req.OverrideExpiry,
	}

	override, err := h.overrides.WriteOverride(ctx, id, patch)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	updated := map[string]any{}
	if override != nil {
		updated["overrideLimit"] = override.Limit
		updated["overrideWindowSeconds"] = override.WindowSeconds
		updated["overrideExpiry"] = override.Expiry
	}

	httpserver.RenderJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"userId":  id.String(),
		"updated": updated,
	})
}
