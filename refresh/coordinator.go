// Package refresh coordinates access-token refreshes so that any number of
// concurrent authentication failures produce at most one network exchange.
package refresh

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/villagestay/go-auth-client/backend"
	"github.com/villagestay/go-auth-client/session"
)

// refreshKey is the single-flight key; one session, one slot.
const refreshKey = "refresh"

// ExchangeFunc performs the network exchange of a refresh token for a new
// access token (and, if the backend rotates, a new refresh token).
type ExchangeFunc func(ctx context.Context, refreshToken string) (backend.RefreshData, error)

// Coordinator serializes token refreshes. The first caller that observes an
// expired access token performs the exchange; callers arriving while it is
// in flight attach to the same result instead of issuing their own call.
//
// A failed exchange clears the session: the refresh token is the last
// credential the client holds, and once it is rejected (or the call times
// out) only an explicit re-login can recover.
type Coordinator struct {
	sessions *session.Manager
	exchange ExchangeFunc
	log      zerolog.Logger
	group    singleflight.Group
}

// CoordinatorOption modifies a Coordinator instance.
type CoordinatorOption func(*Coordinator)

// WithLogger sets the coordinator's logger.
func WithLogger(log zerolog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.log = log
	}
}

// NewCoordinator initializes a Coordinator.
func NewCoordinator(sessions *session.Manager, exchange ExchangeFunc, options ...CoordinatorOption) (*Coordinator, error) {
	if sessions == nil {
		return nil, errors.New("[NewCoordinator] sessions is required")
	}
	if exchange == nil {
		return nil, errors.New("[NewCoordinator] exchange is required")
	}

	c := &Coordinator{
		sessions: sessions,
		exchange: exchange,
		log:      zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Refresh obtains a fresh access token, joining an in-flight refresh when
// one exists. On success every waiter receives the same new token. On
// failure the session is cleared and every waiter receives
// session.ErrSessionExpired.
func (c *Coordinator) Refresh(ctx context.Context) (string, error) {
	// The exchange must outlive the triggering caller: other waiters may
	// depend on its result even if this caller navigates away.
	detached := context.WithoutCancel(ctx)

	v, err, shared := c.group.Do(refreshKey, func() (interface{}, error) {
		return c.doRefresh(detached)
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.log.Debug().Msg("joined in-flight token refresh")
	}
	return v.(string), nil
}

func (c *Coordinator) doRefresh(ctx context.Context) (string, error) {
	snap := c.sessions.Current()

	if snap.Mode != session.ModeUser {
		// Guests and logged-out callers have nothing to refresh. Leave
		// their session alone.
		return "", errors.Wrap(session.ErrSessionExpired, "[Refresh] no user session")
	}
	if snap.RefreshToken == "" {
		// Mode says user but the credential is gone. Purge rather than
		// trust the partial state.
		c.expireSession()
		return "", errors.Wrap(session.ErrSessionExpired, "[Refresh] missing refresh token")
	}

	data, err := c.exchange(ctx, snap.RefreshToken)
	if err != nil {
		// Network errors and timeouts fold into session expiry: retry is
		// left to explicit user action.
		c.log.Warn().Err(err).Msg("token refresh failed, clearing session")
		c.expireSession()
		return "", errors.Wrap(session.ErrSessionExpired, "[Refresh] exchange")
	}

	if err := data.Validate(); err != nil {
		c.log.Warn().Err(err).Msg("malformed refresh response, clearing session")
		c.expireSession()
		return "", errors.Wrap(session.ErrSessionExpired, "[Refresh] validate")
	}

	if err := c.sessions.ReplaceAccessToken(data.AccessToken, data.RefreshToken); err != nil {
		// The new token is installed in memory even when persistence
		// fails; waiters can proceed with it.
		c.log.Error().Err(err).Msg("refreshed token not persisted")
	}

	c.log.Info().
		Bool("rotated_refresh_token", data.RefreshToken != "").
		Msg("access token refreshed")

	return data.AccessToken, nil
}

func (c *Coordinator) expireSession() {
	if err := c.sessions.Logout(); err != nil {
		c.log.Error().Err(err).Msg("failed to clear expired session")
	}
}
