package session

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Known values for Snapshot.AuthSource.
const (
	SourceStorage = "storage"
	SourceLogin   = "login"
	SourceRefresh = "refresh"
	SourceGuest   = "guest"
)

// Manager is the in-memory mirror of the Store and the single source of
// truth for the current process lifetime. All mutation goes through its
// methods; token fields are never mutated from outside.
//
// A Manager is safe for concurrent use. Token values are never logged.
type Manager struct {
	mu         sync.RWMutex
	store      Store
	log        zerolog.Logger
	mode       Mode
	access     string
	refresh    string
	profile    *Profile
	guestID    string
	authSource string
}

// ManagerOption modifies a Manager instance.
type ManagerOption func(*Manager)

// WithLogger sets the logger used for inconsistency and persistence warnings.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager initializes a Manager backed by the given store. The session
// starts unauthenticated; call Restore to reconcile with persisted state.
func NewManager(store Store, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}

	m := &Manager{
		store: store,
		log:   zerolog.Nop(),
		mode:  ModeUnauthenticated,
	}

	for _, opt := range options {
		opt(m)
	}

	return m, nil
}

// Restore reads the store and reconciles the in-memory session with it.
//
// Precedence: user mode with both tokens wins; partially persisted tokens
// are an inconsistency and are purged rather than trusted; a guest marker
// yields a guest session; anything else is unauthenticated. Calling Restore
// twice without intervening writes yields identical snapshots.
func (m *Manager) Restore() (Snapshot, error) {
	creds, err := m.store.Load()
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "[Restore] store.Load")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case creds.Mode == ModeUser && creds.AccessToken != "" && creds.RefreshToken != "":
		m.mode = ModeUser
		m.access = creds.AccessToken
		m.refresh = creds.RefreshToken
		m.profile = creds.Profile
		m.guestID = ""
		m.authSource = SourceStorage

	case creds.AccessToken != "" || creds.RefreshToken != "" || creds.Mode == ModeUser:
		// Mode and tokens disagree. Persisted state cannot be trusted, so
		// wipe it instead of guessing.
		m.log.Warn().
			Str("mode", string(creds.Mode)).
			Bool("has_access_token", creds.AccessToken != "").
			Bool("has_refresh_token", creds.RefreshToken != "").
			Msg("inconsistent persisted auth state, clearing")
		if err := m.store.Clear(); err != nil {
			m.log.Error().Err(err).Msg("failed to clear inconsistent auth state")
		}
		m.resetLocked()

	case creds.Mode == ModeGuest:
		// Keep the ephemeral guest ID stable across repeated restores
		// within the same process.
		guestID := m.guestID
		if m.mode != ModeGuest || guestID == "" {
			guestID = uuid.New().String()
		}
		m.resetLocked()
		m.mode = ModeGuest
		m.guestID = guestID
		m.authSource = SourceStorage

	default:
		m.resetLocked()
	}

	return m.snapshotLocked(), nil
}

// SetUser commits a freshly issued token pair and profile, persisting
// before mutating memory. A rejected save leaves the session unchanged.
func (m *Manager) SetUser(creds Credentials, profile *Profile) error {
	creds.Mode = ModeUser
	creds.Profile = profile
	if err := creds.Validate(); err != nil {
		return errors.Wrap(err, "[SetUser]")
	}

	if err := m.store.Save(creds); err != nil {
		return errors.Wrap(err, "[SetUser] store.Save")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.mode = ModeUser
	m.access = creds.AccessToken
	m.refresh = creds.RefreshToken
	m.profile = profile
	m.guestID = ""
	m.authSource = SourceLogin
	return nil
}

// SetGuest moves the session to guest mode, clearing any stale tokens from
// storage. The guest identifier is ephemeral and regenerated per process.
func (m *Manager) SetGuest() (string, error) {
	if err := m.store.Save(Credentials{Mode: ModeGuest}); err != nil {
		return "", errors.Wrap(err, "[SetGuest] store.Save")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.mode = ModeGuest
	m.guestID = uuid.New().String()
	m.authSource = SourceGuest
	return m.guestID, nil
}

// Logout clears the session and persisted storage.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()

	if err := m.store.Clear(); err != nil {
		return errors.Wrap(err, "[Logout] store.Clear")
	}
	return nil
}

// ReplaceAccessToken installs a refreshed access token, and the rotated
// refresh token when the backend issued one (empty keeps the current one).
// Memory is updated first so waiting callers are never blocked on storage;
// a persistence failure is logged and surfaced but does not undo the swap.
func (m *Manager) ReplaceAccessToken(accessToken, rotatedRefreshToken string) error {
	if accessToken == "" {
		return errors.New("[ReplaceAccessToken] empty access token")
	}

	m.mu.Lock()
	if m.mode != ModeUser {
		m.mu.Unlock()
		return errors.New("[ReplaceAccessToken] no user session")
	}
	m.access = accessToken
	if rotatedRefreshToken != "" {
		m.refresh = rotatedRefreshToken
	}
	m.authSource = SourceRefresh
	creds := Credentials{
		AccessToken:  m.access,
		RefreshToken: m.refresh,
		Mode:         ModeUser,
		Profile:      m.profile,
	}
	m.mu.Unlock()

	if err := m.store.Save(creds); err != nil {
		m.log.Error().Err(err).Msg("failed to persist refreshed tokens")
		return errors.Wrap(err, "[ReplaceAccessToken] store.Save")
	}
	return nil
}

// Current returns the live session snapshot. O(1), no I/O.
func (m *Manager) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) resetLocked() {
	m.mode = ModeUnauthenticated
	m.access = ""
	m.refresh = ""
	m.profile = nil
	m.guestID = ""
	m.authSource = ""
}

func (m *Manager) snapshotLocked() Snapshot {
	var profile *Profile
	if m.profile != nil {
		p := *m.profile
		profile = &p
	}
	return Snapshot{
		Mode:         m.mode,
		AccessToken:  m.access,
		RefreshToken: m.refresh,
		Profile:      profile,
		GuestID:      m.guestID,
		AuthSource:   m.authSource,
	}
}
