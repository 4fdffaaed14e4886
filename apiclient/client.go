// Package apiclient is the HTTP client for the auth backend. It decorates
// outbound calls with the current access token and transparently refreshes
// it, retrying the original request exactly once, when the backend reports
// an authentication failure.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/villagestay/go-auth-client/backend"
	"github.com/villagestay/go-auth-client/refresh"
	"github.com/villagestay/go-auth-client/session"
)

// Backend endpoint paths.
const (
	loginPath   = "/api/auth/login"
	refreshPath = "/api/auth/refresh"
	logoutPath  = "/api/auth/logout"
)

const defaultHTTPTimeout = 10 * time.Second

// Client calls the backend on behalf of the current session.
//
// A successful call may mutate the session as a side channel: when an
// expired access token is silently refreshed, Current() afterwards reflects
// the new token.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sessions   *session.Manager
	refresher  *refresh.Coordinator
	log        zerolog.Logger
}

// ClientOption modifies a Client instance.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its Timeout bounds
// every call, including refresh exchanges.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the client's logger.
func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) {
		c.log = log
	}
}

// New initializes a Client for the backend at baseURL.
func New(baseURL string, sessions *session.Manager, options ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("[apiclient.New] baseURL is required")
	}
	if sessions == nil {
		return nil, errors.New("[apiclient.New] sessions is required")
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		sessions:   sessions,
		log:        zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}

	refresher, err := refresh.NewCoordinator(sessions, c.exchangeRefreshToken, refresh.WithLogger(c.log))
	if err != nil {
		return nil, errors.Wrap(err, "[apiclient.New]")
	}
	c.refresher = refresher

	return c, nil
}

// Sessions exposes the session manager driving this client.
func (c *Client) Sessions() *session.Manager {
	return c.sessions
}

// Get performs an authenticated GET and decodes the envelope data into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodGet, path, nil, out)
}

// Post performs an authenticated POST and decodes the envelope data into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, body, out)
}

// Do performs an authenticated request. The access token is attached only
// for user-mode sessions; guests and unauthenticated callers send no
// Authorization header.
//
// An authentication failure triggers one refresh and one retry of the
// original request with the new token. A second failure yields
// session.ErrSessionExpired without further retries. Any other error is
// propagated as-is.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	payload, err := marshalBody(body)
	if err != nil {
		return errors.Wrap(err, "[Do] marshal body")
	}

	token := c.sessions.Current().AccessToken
	env, httpStatus, err := c.send(ctx, method, path, payload, token)
	if err != nil {
		return err
	}

	if unauthorized(env, httpStatus) {
		c.log.Debug().Str("path", path).Msg("access token rejected, refreshing")

		newToken, refreshErr := c.refresher.Refresh(ctx)
		if refreshErr != nil {
			return refreshErr
		}

		env, httpStatus, err = c.send(ctx, method, path, payload, newToken)
		if err != nil {
			return err
		}
		if unauthorized(env, httpStatus) {
			// Still rejected with a token the backend just issued. Give
			// up rather than loop.
			if logoutErr := c.sessions.Logout(); logoutErr != nil {
				c.log.Error().Err(logoutErr).Msg("failed to clear session")
			}
			return errors.Wrap(session.ErrSessionExpired, "[Do] retry still unauthorized")
		}
	}

	return decodeEnvelope(env, httpStatus, out)
}

// send issues one HTTP round trip and parses the envelope. No retries here.
func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (backend.Envelope, int, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return backend.Envelope{}, 0, errors.Wrap(err, "[send] new request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return backend.Envelope{}, 0, errors.Wrap(err, "[send] request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return backend.Envelope{}, 0, errors.Wrap(err, "[send] read response")
	}

	var env backend.Envelope
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &env); err != nil {
			// Not an envelope; synthesize one from the HTTP status so the
			// caller sees a uniform error shape.
			env = backend.Envelope{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
			if resp.StatusCode == http.StatusOK {
				return backend.Envelope{}, resp.StatusCode, errors.Wrap(err, "[send] parse response")
			}
		}
	} else {
		env = backend.Envelope{Code: resp.StatusCode}
		if resp.StatusCode == http.StatusOK {
			env.Code = backend.CodeOK
		}
	}

	return env, resp.StatusCode, nil
}

// exchangeRefreshToken is the Coordinator's network call. It deliberately
// bypasses Do: a refresh must never recurse into the refresh path, and it
// carries the refresh token in the body rather than a bearer header.
func (c *Client) exchangeRefreshToken(ctx context.Context, refreshToken string) (backend.RefreshData, error) {
	payload, err := json.Marshal(backend.RefreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return backend.RefreshData{}, errors.Wrap(err, "[exchangeRefreshToken] marshal")
	}

	env, httpStatus, err := c.send(ctx, http.MethodPost, refreshPath, payload, "")
	if err != nil {
		return backend.RefreshData{}, err
	}
	if unauthorized(env, httpStatus) {
		return backend.RefreshData{}, errors.New("[exchangeRefreshToken] refresh token rejected")
	}
	if env.Code != backend.CodeOK {
		return backend.RefreshData{}, &backend.Error{Code: env.Code, Message: env.Message}
	}

	var data backend.RefreshData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return backend.RefreshData{}, errors.Wrap(err, "[exchangeRefreshToken] parse data")
	}
	return data, nil
}

func unauthorized(env backend.Envelope, httpStatus int) bool {
	return httpStatus == http.StatusUnauthorized || env.Unauthorized()
}

func decodeEnvelope(env backend.Envelope, httpStatus int, out any) error {
	if env.Code != backend.CodeOK {
		return &backend.Error{Code: env.Code, Message: env.Message}
	}
	if httpStatus != http.StatusOK {
		return &backend.Error{Code: httpStatus, Message: http.StatusText(httpStatus)}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errors.Wrap(err, "decode envelope data")
	}
	return nil
}

func marshalBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	return json.Marshal(body)
}
