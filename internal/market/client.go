package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout = 10 * time.Second
	maxRetries     = 2
	retryBackoff   = 500 * time.Millisecond
)

// RateLimiter is the slice of the limiter the clients need.
type RateLimiter interface {
	Acquire(ctx context.Context, source string) error
}

// getJSON performs a GET with bounded retries and decodes the response into
// out. Transient failures (network errors, 5xx) are retried up to maxRetries
// times with a fixed backoff; a 429 is reported as ErrRateLimited without
// retrying, since the limiter already paces subsequent calls.
func getJSON(ctx context.Context, client *http.Client, logger zerolog.Logger, url string, out any) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(retryBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-timer.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			logger.Debug().Err(err).Int("attempt", attempt).Msg("request failed, will retry")
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			logger.Warn().Int("status", resp.StatusCode).Msg("provider rate limit violation")
			return ErrRateLimited
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, trimBody(body))
			logger.Debug().Int("status", resp.StatusCode).Int("attempt", attempt).Msg("server error, will retry")
			continue
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, trimBody(body))
		}

		if readErr != nil {
			lastErr = readErr
			continue
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
		}
		return nil
	}

	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}
