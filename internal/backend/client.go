// Package backend provides the HTTP client for the theater backend API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apperrors "github.com/stagefront/poscore/internal/errors"
	"github.com/stagefront/poscore/internal/models"
)

// Client talks to the backend orders API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the given API base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Health checks backend reachability with a HEAD request to the health
// endpoint. Any 2xx response counts as reachable.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// submitResponse is the backend's order submission envelope.
type submitResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SubmitOrder uploads one queued order. The queue metadata (queueId,
// queuedAt) rides along in the body so the backend can dedupe retried
// uploads on the queue ID.
func (c *Client) SubmitOrder(ctx context.Context, token string, order models.QueuedOrder) error {
	body := map[string]interface{}{
		"order":    json.RawMessage(order.Payload),
		"queueId":  order.QueueID,
		"queuedAt": order.QueuedAt,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to encode order", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/theater-orders", bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNoConnection, "order upload failed", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNoConnection, "reading upload response failed", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.New(apperrors.ErrUploadRejected,
			fmt.Sprintf("server returned HTTP %d", resp.StatusCode))
	}

	var parsed submitResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return apperrors.Wrap(apperrors.ErrParseFailed, "invalid upload response", err)
	}
	if !parsed.Success {
		msg := parsed.Message
		if msg == "" {
			msg = "server rejected order"
		}
		return apperrors.New(apperrors.ErrUploadRejected, msg)
	}
	return nil
}
