package refreshrepo

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepo is the default single-process token store.
type InMemoryRepo struct {
	mu      sync.RWMutex
	tokens  map[string]*StoredToken
	nowTime func() time.Time
}

// InMemoryOption modifies an InMemoryRepo instance.
type InMemoryOption func(*InMemoryRepo)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) InMemoryOption {
	return func(r *InMemoryRepo) {
		r.nowTime = nowFunc
	}
}

// NewInMemoryRepo returns an empty in-memory repo.
func NewInMemoryRepo(options ...InMemoryOption) *InMemoryRepo {
	r := &InMemoryRepo{
		tokens:  make(map[string]*StoredToken),
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

var _ Repo = (*InMemoryRepo)(nil)

// Upsert implements Repo.
func (r *InMemoryRepo) Upsert(_ context.Context, token *StoredToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *token
	r.tokens[token.Token] = &copied
	return nil
}

// Get implements Repo. Expired tokens are dropped and reported as absent.
func (r *InMemoryRepo) Get(_ context.Context, token string) (*StoredToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tokens[token]
	if !ok {
		return nil, nil
	}
	if stored.Expired(r.nowTime()) {
		delete(r.tokens, token)
		return nil, nil
	}
	copied := *stored
	return &copied, nil
}

// Delete implements Repo.
func (r *InMemoryRepo) Delete(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, token)
	return nil
}
