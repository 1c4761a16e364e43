package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// WebhookPublisher POSTs events as JSON to a fixed URL, retrying with
// exponential backoff.
type WebhookPublisher struct {
	url         string
	client      *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

func NewWebhookPublisher(url string, timeout time.Duration, maxRetries int) *WebhookPublisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxRetries < 0 {
		maxRetries = 3
	}
	return &WebhookPublisher{
		url:         url,
		client:      &http.Client{Timeout: timeout},
		maxRetries:  maxRetries,
		baseBackoff: 500 * time.Millisecond,
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		req.Header.Set("x-surveyd-event", event.Type)

		resp, err := p.client.Do(req)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if err == nil {
			lastErr = errors.New(resp.Status)
		} else {
			lastErr = err
		}

		if attempt == p.maxRetries {
			break
		}
		// exponential backoff with jitter
		backoff := p.baseBackoff * (1 << attempt)
		select {
		case <-time.After(backoff + time.Duration(attempt*50)*time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("webhook delivery failed: %w", lastErr)
}
