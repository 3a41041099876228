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
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.gearno.de/ratelimitd/httpclient"
	"go.gearno.de/ratelimitd/log"
	"go.gearno.de/ratelimitd/ratelimit"
)

// WebhookNotifier posts a fire-and-forget notification to an external
// URL whenever an override write commits. Delivery failures are
// logged, not surfaced: a webhook subscriber being down must never
// fail the write it is being told about.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *log.Logger
}

// NewWebhookNotifier builds a WebhookNotifier posting to url using an
// instrumented, connection-pooled client.
func NewWebhookNotifier(url string, logger *log.Logger, options ...httpclient.Option) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: httpclient.DefaultPooledClient(options...),
		logger: logger.Named("userstore.webhook"),
	}
}

type overrideWrittenPayload struct {
	UserID        uuid.UUID  `json:"userId"`
	Active        bool       `json:"active"`
	Limit         int        `json:"limit,omitempty"`
	WindowSeconds int        `json:"windowSeconds,omitempty"`
	Expiry        *time.Time `json:"expiry,omitempty"`
}

// NotifyOverrideWritten implements OverrideNotifier.
func (n *WebhookNotifier) NotifyOverrideWritten(ctx context.Context, userID uuid.UUID, override *ratelimit.Override) {
	payload := overrideWrittenPayload{UserID: userID}
	if override != nil {
		payload.Active = true
		payload.Limit = override.Limit
		payload.WindowSeconds = override.WindowSeconds
		expiry := override.Expiry
		payload.Expiry = &expiry
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.ErrorCtx(ctx, "cannot marshal webhook payload", log.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.ErrorCtx(ctx, "cannot build webhook request", log.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.ErrorCtx(ctx, "cannot deliver override webhook", log.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.ErrorCtx(ctx, "override webhook rejected", log.Int("status_code", resp.StatusCode))
	}
}
