// Package storefakes provides an in-memory session.Store for testing.
package storefakes

import (
	"sync"

	"github.com/villagestay/go-auth-client/session"
)

// FakeStore is an in-memory implementation of session.Store.
type FakeStore struct {
	mu    sync.Mutex
	creds session.Credentials
	has   bool

	// SaveErr, LoadErr and ClearErr, when set, are returned by the
	// corresponding method without touching stored state.
	SaveErr  error
	LoadErr  error
	ClearErr error

	// SaveCalls counts Save invocations, including rejected ones.
	SaveCalls int
}

// NewFakeStore returns an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

// Save implements session.Store.
func (f *FakeStore) Save(creds session.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SaveCalls++
	if f.SaveErr != nil {
		return f.SaveErr
	}
	if err := creds.Validate(); err != nil {
		return err
	}
	f.creds = creds
	f.has = true
	return nil
}

// Load implements session.Store.
func (f *FakeStore) Load() (session.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.LoadErr != nil {
		return session.Credentials{}, f.LoadErr
	}
	if !f.has {
		return session.Credentials{}, nil
	}
	return f.creds, nil
}

// Clear implements session.Store.
func (f *FakeStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ClearErr != nil {
		return f.ClearErr
	}
	f.creds = session.Credentials{}
	f.has = false
	return nil
}

// Seed stores credentials directly, bypassing validation. Test setup only.
func (f *FakeStore) Seed(creds session.Credentials) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = creds
	f.has = true
}

// Stored returns the currently persisted credentials.
func (f *FakeStore) Stored() (session.Credentials, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creds, f.has
}
