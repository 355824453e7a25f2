package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a telemetry event.
type Kind string

const (
	KindNavigation Kind = "navigation"
	KindPreload    Kind = "preload"
	KindFailure    Kind = "failure"
)

// Event is one recorded navigation-layer event.
type Event struct {
	ID         string    `json:"id"`
	RecordedAt time.Time `json:"recorded_at"`
	Kind       Kind      `json:"kind"`
	Path       string    `json:"path"`
	Source     string    `json:"source,omitempty"`
	DurationMS int64     `json:"duration_ms,omitempty"`
	Size       int       `json:"size,omitempty"`
	Error      string    `json:"error,omitempty"`
	Session    string    `json:"session,omitempty"`
}

// Validate checks the fields every event needs.
func (e Event) Validate() error {
	switch e.Kind {
	case KindNavigation, KindPreload, KindFailure:
	default:
		return fmt.Errorf("invalid kind %q", e.Kind)
	}
	if e.Path == "" {
		return fmt.Errorf("path is required")
	}
	return nil
}

// withDefaults fills in a missing ID and timestamp.
func (e Event) withDefaults(now time.Time) Event {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = now
	}
	e.RecordedAt = e.RecordedAt.UTC()
	return e
}

// Sink receives recorded events. Store writes them locally; Client posts
// them to a panel server.
type Sink interface {
	Record(ctx context.Context, e Event) error
}
