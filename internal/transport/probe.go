package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/k-ranasinghe/voice-agent/internal/reliability"
)

// Probe checks the agent's HTTP health endpoint before the first dial,
// so an unreachable or unhealthy agent fails fast instead of burning
// the reconnect schedule.
type Probe struct {
	URL      string
	Timeout  time.Duration
	Attempts int
	Client   *http.Client
}

type healthResponse struct {
	Status string `json:"status"`
}

// Run returns nil once the agent reports healthy or degraded. Transient
// statuses and transport errors are retried with capped exponential
// spacing up to Attempts times.
func (p Probe) Run(ctx context.Context) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: p.Timeout}
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := reliability.ExponentialBackoff(attempt-1, 200*time.Millisecond, 2*time.Second)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
		if err != nil {
			return fmt.Errorf("build health request: %w", err)
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			var health healthResponse
			if err := json.Unmarshal(body, &health); err == nil && health.Status == "degraded" {
				log.Printf("transport: agent reports degraded health, continuing")
			}
			return nil
		}

		lastErr = fmt.Errorf("health endpoint returned %d", resp.StatusCode)
		if !reliability.IsRetryableHTTPStatus(resp.StatusCode) {
			return lastErr
		}
	}
	return fmt.Errorf("agent unreachable after %d attempts: %w", attempts, lastErr)
}
