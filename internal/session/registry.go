package session

import (
	"context"
	"errors"

	"basegraph.app/council/internal/model"
)

var (
	ErrNotFound = errors.New("session not found")
	// ErrTerminal is returned when a write would replace a COMPLETE or
	// FAILED snapshot. Finished sessions are never resurrected.
	ErrTerminal = errors.New("session already finished")
)

// Registry holds the latest caller-visible snapshot per session. It never
// stores working state such as responses or the label mapping.
type Registry interface {
	Put(ctx context.Context, snap model.StatusSnapshot) error
	Get(ctx context.Context, sessionID int64) (model.StatusSnapshot, error)
}
