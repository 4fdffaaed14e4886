package session

import "errors"

var (
	// ErrInvalidTokenPair rejects persisting a user-mode session that is
	// missing either token. Nothing is written when this is returned.
	ErrInvalidTokenPair = errors.New("invalid token pair")

	// ErrInvalidLoginResponse means the backend login response was missing
	// required fields. The session is left untouched.
	ErrInvalidLoginResponse = errors.New("invalid login response")

	// ErrAuthenticationFailed means the backend explicitly rejected the
	// login credentials. Surfaced to the caller, never retried.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrSessionExpired means the refresh token itself was rejected, or a
	// request still failed authentication after a successful refresh. The
	// session has been forced to unauthenticated and storage cleared.
	ErrSessionExpired = errors.New("session expired")
)
