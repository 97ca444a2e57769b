// Package publisher defines the run-event publishing boundary.
package publisher

import (
	"context"
	"time"
)

// Publisher delivers run events to an external channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunEvent is the payload published after each stage or reconcile run.
type RunEvent struct {
	RunID         string    `json:"run_id"`
	Command       string    `json:"command"`
	Mode          string    `json:"mode,omitempty"`
	StartedAtUTC  time.Time `json:"started_at_utc"`
	FinishedAtUTC time.Time `json:"finished_at_utc"`
	Succeeded     bool      `json:"succeeded"`
	Error         string    `json:"error,omitempty"`
	Detail        any       `json:"detail,omitempty"`
}
