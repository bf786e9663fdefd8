// Package notify publishes run-completion events for downstream consumers.
package notify

import (
	"context"

	"github.com/markwbennett/PDRbot/internal/pipeline"
)

// Event is the run-completion payload.
type Event struct {
	ID         string           `json:"id"`
	RunID      string           `json:"run_id"`
	Mode       pipeline.Mode    `json:"mode"`
	Outcome    pipeline.Outcome `json:"outcome"`
	Discovered int              `json:"opinions_discovered"`
	Downloaded int              `json:"opinions_downloaded"`
	Analyzed   int              `json:"analyses_completed"`
	Failed     int              `json:"opinions_failed"`
}

// Notifier delivers run events.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Noop discards events. The default when no notifier is configured.
type Noop struct{}

// Publish implements Notifier.
func (Noop) Publish(ctx context.Context, ev Event) error { return nil }

// Close implements Notifier.
func (Noop) Close() error { return nil }
