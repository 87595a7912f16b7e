// Package sessions stores in-flight authorization flows between redirect and callback.
package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jrsteele09/go-smart-auth/internal/config"
)

var (
	// ErrNotFound is returned when no live flow exists for a session ID.
	ErrNotFound = errors.New("flow state not found")

	ErrInvalidFlowState = errors.New("invalid flow state")
)

// Repo stores flow state keyed by session ID.
type Repo interface {
	// Upsert stores or replaces the flow for flow.SessionID.
	Upsert(ctx context.Context, flow *FlowState) error

	// Consume returns and deletes the flow in one step. Expired flows are reported as ErrNotFound.
	Consume(ctx context.Context, sessionID string) (*FlowState, error)

	// DeleteExpired removes expired flows and returns how many were removed.
	DeleteExpired(ctx context.Context) (int, error)
}

func validate(flow *FlowState) error {
	if flow == nil {
		return fmt.Errorf("%w: flow cannot be nil", ErrInvalidFlowState)
	}
	if flow.SessionID == "" {
		return fmt.Errorf("%w: session ID cannot be empty", ErrInvalidFlowState)
	}
	return nil
}

// NewRepo returns a Redis-backed repo when REDIS_URL is configured, otherwise an in-memory one.
func NewRepo(ctx context.Context, cfg config.StorageConfig) (Repo, error) {
	if cfg.GetRedisURL() == "" {
		return NewInMemoryRepo(), nil
	}
	return NewRedisRepo(ctx, cfg.GetRedisURL(), DefaultKeyPrefix)
}
