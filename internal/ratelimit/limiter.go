package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultWindow is the span over which per-source request counts are measured.
const DefaultWindow = time.Minute

// Limiter throttles outbound requests per source over a sliding window.
// Each source keeps its own (window_start, count) pair; a caller that finds
// the window full is suspended until the window rolls over. Callers for the
// same source are served in arrival order.
type Limiter struct {
	window time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	sources map[string]*sourceWindow
}

type sourceWindow struct {
	// gate serialises acquirers for one source so that suspended callers
	// drain in arrival order; it also guards start/count.
	gate  sync.Mutex
	limit int
	start time.Time
	count int
}

// New constructs a limiter. limits maps source name to the maximum number of
// requests allowed per window; sources absent from the map are not throttled.
func New(window time.Duration, limits map[string]int, logger zerolog.Logger) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}

	sources := make(map[string]*sourceWindow, len(limits))
	for name, limit := range limits {
		if limit <= 0 {
			continue
		}
		sources[name] = &sourceWindow{limit: limit}
	}

	return &Limiter{
		window:  window,
		logger:  logger.With().Str("component", "ratelimit").Logger(),
		sources: sources,
	}
}

// Acquire blocks until a request slot for source is available, then consumes
// it. The wait is bounded by one window length and honours ctx cancellation.
func (l *Limiter) Acquire(ctx context.Context, source string) error {
	l.mu.Lock()
	w, ok := l.sources[source]
	l.mu.Unlock()
	if !ok {
		return ctx.Err()
	}

	w.gate.Lock()
	defer w.gate.Unlock()

	now := time.Now()
	if now.Sub(w.start) >= l.window {
		w.start = now
		w.count = 0
	}

	if w.count < w.limit {
		w.count++
		return nil
	}

	wait := l.window - now.Sub(w.start)
	l.logger.Debug().
		Str("source", source).
		Dur("wait", wait).
		Msg("rate limit window full, suspending caller")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	w.start = time.Now()
	w.count = 1
	return nil
}

// Window reports the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}
