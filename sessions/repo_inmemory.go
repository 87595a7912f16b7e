package sessions

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepo is a thread-safe in-memory implementation of the Repo interface
type InMemoryRepo struct {
	mu      sync.Mutex
	flows   map[string]*FlowState
	nowFunc func() time.Time
}

type InMemoryOption func(*InMemoryRepo)

// WithNowTime overrides the clock used for expiry checks.
func WithNowTime(now func() time.Time) InMemoryOption {
	return func(r *InMemoryRepo) {
		r.nowFunc = now
	}
}

// NewInMemoryRepo creates a new in-memory flow state repository
func NewInMemoryRepo(opts ...InMemoryOption) *InMemoryRepo {
	r := &InMemoryRepo{
		flows:   make(map[string]*FlowState),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Upsert stores or updates a flow state
func (r *InMemoryRepo) Upsert(_ context.Context, flow *FlowState) error {
	if err := validate(flow); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Store a copy to prevent external modifications
	r.flows[flow.SessionID] = flow.clone()
	return nil
}

// Consume retrieves and removes a flow state under a single lock
func (r *InMemoryRepo) Consume(_ context.Context, sessionID string) (*FlowState, error) {
	if sessionID == "" {
		return nil, ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	flow, exists := r.flows[sessionID]
	if !exists {
		return nil, ErrNotFound
	}
	delete(r.flows, sessionID)

	if flow.Expired(r.nowFunc()) {
		return nil, ErrNotFound
	}
	return flow.clone(), nil
}

func (r *InMemoryRepo) DeleteExpired(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	removed := 0
	for id, flow := range r.flows {
		if flow.Expired(now) {
			delete(r.flows, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored flows, expired or not.
func (r *InMemoryRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}
