package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/phrazzld/topicq/internal/domain"
)

// maxErrorBody bounds how much of a failed response is copied into the error.
const maxErrorBody = 1024

// webhookRequest is the JSON body posted for every dispatched message.
type webhookRequest struct {
	MessageID        int64           `json:"message_id"`
	TopicID          string          `json:"topic_id"`
	OrganizationCode string          `json:"organization_code"`
	UserID           string          `json:"user_id,omitempty"`
	ProjectID        string          `json:"project_id,omitempty"`
	Type             string          `json:"type"`
	Data             json.RawMessage `json:"data,omitempty"`
	Attempt          int             `json:"attempt"`
}

// Webhook delivers messages to an HTTP endpoint. Receivers should treat the
// Idempotency-Key header as the deduplication key: the same message may be
// delivered again after a lost acknowledgement.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook posting to url. A zero timeout falls back to
// 30 seconds; the sweep's execution timeout still bounds every call.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Execute implements Executor. 2xx is success; 4xx other than 408 and 429 is
// permanent; everything else is retryable.
func (w *Webhook) Execute(ctx context.Context, msg *domain.QueuedMessage) error {
	body, err := json.Marshal(webhookRequest{
		MessageID:        msg.ID,
		TopicID:          msg.TopicID,
		OrganizationCode: msg.OrganizationCode,
		UserID:           msg.UserID,
		ProjectID:        msg.ProjectID,
		Type:             msg.Payload.Type,
		Data:             msg.Payload.Data,
		Attempt:          msg.RetryCount + 1,
	})
	if err != nil {
		return Permanent(fmt.Errorf("failed to encode webhook body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Permanent(fmt.Errorf("failed to build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", strconv.FormatInt(msg.ID, 10))
	req.Header.Set("X-Topic-ID", msg.TopicID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	statusErr := fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))

	switch {
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests:
		return statusErr
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return Permanent(statusErr)
	default:
		return statusErr
	}
}
