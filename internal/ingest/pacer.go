package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/markwbennett/PDRbot/internal/telemetry"
)

// Pacer enforces the polite per-source request interval with one token
// bucket per source. The first request on a source passes immediately;
// later requests wait out the configured interval.
type Pacer struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	interval time.Duration
}

// NewPacer builds a pacer with the given minimum interval between requests
// to the same source. A non-positive interval disables pacing.
func NewPacer(interval time.Duration) *Pacer {
	return &Pacer{
		limiters: make(map[string]*rate.Limiter),
		interval: interval,
	}
}

// Wait blocks until a request to the source is allowed, respecting the
// context.
func (p *Pacer) Wait(ctx context.Context, sourceID string) error {
	if p.interval <= 0 {
		return ctx.Err()
	}
	p.mu.Lock()
	limiter, ok := p.limiters[sourceID]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.interval), 1)
		p.limiters[sourceID] = limiter
	}
	p.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait: %w", err)
	}
	telemetry.ObservePacingDelay(sourceID, time.Since(start))
	return nil
}
