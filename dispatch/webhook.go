// Copyright 2025 Fleetbridge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// WebhookPath is where application servers receive command batches.
const WebhookPath = "/api/webhook/schedule"

// DefaultWebhookTimeout bounds one delivery attempt. The application server
// only has to accept the batch, not run it, so this stays short.
const DefaultWebhookTimeout = 30 * time.Second

// WebhookPayload is the body posted to an application server. TenantID is
// the tenant's id on that server, not the directory's row id.
type WebhookPayload struct {
	ExecutionID string    `json:"execution_id"`
	TenantID    int64     `json:"tenant_id"`
	Commands    []Command `json:"commands"`
	IsChain     bool      `json:"is_chain"`
	CallbackURL string    `json:"callback_url"`
}

// Client posts signed webhook payloads to application servers.
type Client struct {
	http   *http.Client
	signer *Signer
	logger *log.Logger
}

// NewClient creates a webhook client signing with the given signer.
func NewClient(signer *Signer) *Client {
	return &Client{
		http:   &http.Client{Timeout: DefaultWebhookTimeout},
		signer: signer,
		logger: log.New(os.Stdout, "[WEBHOOK] ", log.LstdFlags),
	}
}

// Ack is the application server's acceptance response. PID is the worker
// process it spawned for the batch, when it reports one.
type Ack struct {
	PID int `json:"pid"`
}

// Deliver posts one payload to appURL's webhook endpoint. Any non-2xx
// response is an error; the response body is included truncated for
// diagnosis. A 2xx body that is not valid JSON is treated as an empty
// acknowledgement, not a failure.
func (c *Client) Deliver(ctx context.Context, appURL string, payload WebhookPayload) (Ack, error) {
	var ack Ack

	endpoint, err := webhookEndpoint(appURL)
	if err != nil {
		return ack, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ack, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ack, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, c.signer.Sign(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return ack, fmt.Errorf("webhook delivery to %s failed: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := raw
		if len(snippet) > 512 {
			snippet = snippet[:512]
		}
		return ack, fmt.Errorf("webhook delivery to %s returned %d: %s",
			endpoint, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &ack)
	}
	c.logger.Printf("Delivered execution %s to %s", payload.ExecutionID, endpoint)
	return ack, nil
}

func webhookEndpoint(appURL string) (string, error) {
	u, err := url.Parse(appURL)
	if err != nil {
		return "", fmt.Errorf("invalid application URL %q: %w", appURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid application URL %q: scheme must be http or https", appURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid application URL %q: missing host", appURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + WebhookPath
	return u.String(), nil
}
