package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tinyland-inc/bridgeclaw/pkg/logger"
)

const maxRateLimitRetries = 2

// StatusError is a non-2xx REST response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("discord api: status %d: %s", e.Code, e.Body)
}

// RestClient issues authenticated calls against the HTTP API. It is safe
// for concurrent use.
type RestClient struct {
	token   string
	apiBase string
	client  *http.Client
}

// RestOption configures a RestClient.
type RestOption func(*RestClient)

// WithAPIBase overrides the API base URL. Tests point this at a local
// fake server.
func WithAPIBase(base string) RestOption {
	return func(r *RestClient) { r.apiBase = base }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) RestOption {
	return func(r *RestClient) { r.client = c }
}

func NewRestClient(token string, opts ...RestOption) *RestClient {
	r := &RestClient{
		token:   token,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateMessage posts content to a channel and returns the created message.
func (r *RestClient) CreateMessage(ctx context.Context, channelID, content string) (*Message, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, err
	}
	resp, err := r.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/messages", channelID), body)
	if err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(resp, &msg); err != nil {
		return nil, fmt.Errorf("decode message response: %w", err)
	}
	return &msg, nil
}

// TriggerTyping shows the typing indicator in a channel. The indicator
// lasts about ten seconds server-side; callers refresh it while working.
func (r *RestClient) TriggerTyping(ctx context.Context, channelID string) error {
	_, err := r.do(ctx, http.MethodPost, fmt.Sprintf("/channels/%s/typing", channelID), nil)
	return err
}

// CreateDMChannel opens (or reuses) the DM channel with a user and
// returns its id.
func (r *RestClient) CreateDMChannel(ctx context.Context, userID string) (string, error) {
	body, err := json.Marshal(map[string]string{"recipient_id": userID})
	if err != nil {
		return "", err
	}
	resp, err := r.do(ctx, http.MethodPost, "/users/@me/channels", body)
	if err != nil {
		return "", err
	}
	var ch struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &ch); err != nil {
		return "", fmt.Errorf("decode dm channel response: %w", err)
	}
	return ch.ID, nil
}

// do issues one request, retrying 429 responses per the server-provided
// retry_after up to maxRateLimitRetries times. Other non-2xx statuses
// surface as StatusError without retry.
func (r *RestClient) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, r.apiBase+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bot "+r.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRateLimitRetries {
			var rl struct {
				RetryAfter float64 `json:"retry_after"`
			}
			json.Unmarshal(data, &rl)
			wait := time.Duration(rl.RetryAfter * float64(time.Second))
			logger.WarnCF("discord", "rate limited", map[string]any{
				"path": path, "retry_after": rl.RetryAfter,
			})
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
		}
		return data, nil
	}
}
