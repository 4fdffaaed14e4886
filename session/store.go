package session

// Credentials is the canonical persisted representation of the session.
// Legacy key spellings found in older installs are normalized into this
// shape by the store implementation on read; only canonical keys are ever
// written back.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	Mode         Mode
	Profile      *Profile
}

// Validate enforces the persistence invariant: a user-mode session always
// carries both tokens.
func (c Credentials) Validate() error {
	if c.Mode == ModeUser && (c.AccessToken == "" || c.RefreshToken == "") {
		return ErrInvalidTokenPair
	}
	return nil
}

// Empty reports whether the credentials carry no state worth keeping.
func (c Credentials) Empty() bool {
	return c.AccessToken == "" && c.RefreshToken == "" && (c.Mode == "" || c.Mode == ModeUnauthenticated)
}

// Store persists credentials across restarts. Implementations perform
// durable storage I/O only; no network calls.
//
// Save must be all-or-nothing: a rejected save (ErrInvalidTokenPair) leaves
// previously persisted credentials untouched.
type Store interface {
	Save(creds Credentials) error
	Load() (Credentials, error)
	Clear() error
}
