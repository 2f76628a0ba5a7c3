// Package webhook delivers terminal job payloads to operator-supplied
// callback URLs with bounded retries. Delivery is best-effort: exhausting
// the retry ceiling is logged and swallowed, never surfaced to the job.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/clipstack/transcoder/internal/config"
	"github.com/clipstack/transcoder/internal/model"
)

// RetryDelay returns the backoff before the next attempt: attempt times the
// base delay, capped at max. Attempts are 1-based.
func RetryDelay(attempt int, base, max time.Duration) time.Duration {
	d := time.Duration(attempt) * base
	if d > max {
		return max
	}
	return d
}

// Notifier posts JSON payloads to a callback URL.
type Notifier struct {
	client     *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewNotifier(cfg *config.WebhookConfig) *Notifier {
	return &Notifier{
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		maxRetries: cfg.MaxRetries,
		baseDelay:  time.Duration(cfg.BaseDelay) * time.Second,
		maxDelay:   time.Duration(cfg.MaxDelay) * time.Second,
	}
}

// Notify delivers the payload to url. A no-op when url is empty. Any non-2xx
// status or transport error counts as a failed attempt; after the initial
// attempt the notifier retries up to the configured ceiling.
func (n *Notifier) Notify(ctx context.Context, url string, payload *model.WebhookPayload) {
	if url == "" {
		return
	}

	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Webhook payload marshal failed for job %s: %v", payload.JobID, err)
		return
	}

	for attempt := 1; attempt <= n.maxRetries+1; attempt++ {
		err = n.send(ctx, url, body)
		if err == nil {
			return
		}

		if attempt > n.maxRetries {
			break
		}

		delay := RetryDelay(attempt, n.baseDelay, n.maxDelay)
		select {
		case <-ctx.Done():
			log.Printf("Webhook delivery for job %s abandoned: %v", payload.JobID, ctx.Err())
			return
		case <-time.After(delay):
		}
	}

	log.Printf("Webhook delivery for job %s failed after %d attempts: %v", payload.JobID, n.maxRetries+1, err)
}

func (n *Notifier) send(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
