package apiclient

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"github.com/villagestay/go-auth-client/backend"
	"github.com/villagestay/go-auth-client/session"
)

// Login exchanges a one-time platform code (plus optional user-consented
// profile fields) for a token pair and commits the result. On any failure
// the session is left exactly as it was; a login never partially commits.
func (c *Client) Login(ctx context.Context, code string, userInfo *backend.UserInfo) (*session.Profile, error) {
	payload, err := json.Marshal(backend.LoginRequest{Code: code, UserInfo: userInfo})
	if err != nil {
		return nil, errors.Wrap(err, "[Login] marshal")
	}

	// No bearer header and no refresh-retry: this is the call that creates
	// the credentials everything else decorates with.
	env, httpStatus, err := c.send(ctx, http.MethodPost, loginPath, payload, "")
	if err != nil {
		return nil, err
	}

	if unauthorized(env, httpStatus) {
		return nil, errors.Wrap(session.ErrAuthenticationFailed, "[Login]")
	}
	if env.Code != backend.CodeOK {
		return nil, &backend.Error{Code: env.Code, Message: env.Message}
	}

	var data backend.LoginData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, errors.Wrap(session.ErrInvalidLoginResponse, "[Login] parse data")
	}
	if err := data.Validate(); err != nil {
		c.log.Warn().Err(err).Msg("backend login response missing required fields")
		return nil, errors.Wrap(session.ErrInvalidLoginResponse, "[Login]")
	}

	profile := profileFromUserInfo(data.UserInfo)
	creds := session.Credentials{
		AccessToken:  data.AccessToken,
		RefreshToken: data.RefreshToken,
	}
	if err := c.sessions.SetUser(creds, profile); err != nil {
		return nil, errors.Wrap(err, "[Login] commit session")
	}

	c.log.Info().Str("user_id", profile.ID).Msg("logged in")
	return profile, nil
}

// LoginAsGuest enters guest mode without touching the backend. No tokens
// are issued or expected; the returned identifier is ephemeral.
func (c *Client) LoginAsGuest() (string, error) {
	guestID, err := c.sessions.SetGuest()
	if err != nil {
		return "", errors.Wrap(err, "[LoginAsGuest]")
	}
	c.log.Info().Msg("entered guest mode")
	return guestID, nil
}

// Logout tells the backend to drop the session, then clears local state.
// The backend call is best effort: local credentials are wiped even when
// the network is down.
func (c *Client) Logout(ctx context.Context) error {
	snap := c.sessions.Current()
	if snap.Mode == session.ModeUser {
		payload, err := json.Marshal(backend.RefreshRequest{RefreshToken: snap.RefreshToken})
		if err != nil {
			return errors.Wrap(err, "[Logout] marshal")
		}
		if _, _, err := c.send(ctx, http.MethodPost, logoutPath, payload, snap.AccessToken); err != nil {
			c.log.Warn().Err(err).Msg("backend logout failed, clearing local session anyway")
		}
	}
	if err := c.sessions.Logout(); err != nil {
		return errors.Wrap(err, "[Logout]")
	}
	return nil
}

func profileFromUserInfo(info *backend.UserInfo) *session.Profile {
	if info == nil {
		return nil
	}
	return &session.Profile{
		ID:        info.ID.String(),
		NickName:  info.NickName,
		AvatarURL: info.AvatarURL,
		Locale:    info.Locale,
		Role:      info.Role,
	}
}
