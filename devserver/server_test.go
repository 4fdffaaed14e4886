package devserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/villagestay/go-auth-client/apiclient"
	"github.com/villagestay/go-auth-client/backend"
	"github.com/villagestay/go-auth-client/devserver"
	"github.com/villagestay/go-auth-client/devserver/refreshrepo"
	"github.com/villagestay/go-auth-client/session"
	"github.com/villagestay/go-auth-client/session/storefakes"
)

var testSecret = []byte("unit-test-secret")

func setupServer(t *testing.T, issuerOpts ...devserver.IssuerOption) *httptest.Server {
	t.Helper()
	issuer, err := devserver.NewTokenIssuer(testSecret, "devserver-test", issuerOpts...)
	require.NoError(t, err)
	srv, err := devserver.NewServer(issuer, refreshrepo.NewInMemoryRepo())
	require.NoError(t, err)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) (backend.Envelope, int) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", strings.NewReader(string(raw)))
	require.NoError(t, err)
	defer resp.Body.Close()

	var env backend.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env, resp.StatusCode
}

func login(t *testing.T, ts *httptest.Server, code string) backend.LoginData {
	t.Helper()
	env, status := postJSON(t, ts.URL+"/api/auth/login", backend.LoginRequest{
		Code:     code,
		UserInfo: &backend.UserInfo{NickName: "A", Role: "buyer"},
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, backend.CodeOK, env.Code)

	var data backend.LoginData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	require.NoError(t, data.Validate())
	return data
}

func TestLoginIssuesTokenPair(t *testing.T) {
	ts := setupServer(t)

	data := login(t, ts, "abc123")
	require.NotEmpty(t, data.AccessToken)
	require.NotEmpty(t, data.RefreshToken)
	require.Equal(t, "A", data.UserInfo.NickName)
	require.Equal(t, "buyer", data.UserInfo.Role)
	require.NotEmpty(t, data.UserInfo.ID)
}

func TestLoginRejectsExpiredCode(t *testing.T) {
	ts := setupServer(t)

	for _, code := range []string{"", "expired"} {
		env, status := postJSON(t, ts.URL+"/api/auth/login", backend.LoginRequest{Code: code})
		require.Equal(t, http.StatusUnauthorized, status)
		require.True(t, env.Unauthorized())
	}
}

func TestRefreshRotatesAndInvalidatesOldToken(t *testing.T) {
	ts := setupServer(t)
	data := login(t, ts, "abc123")

	env, status := postJSON(t, ts.URL+"/api/auth/refresh", backend.RefreshRequest{RefreshToken: data.RefreshToken})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, backend.CodeOK, env.Code)

	var refreshed backend.RefreshData
	require.NoError(t, json.Unmarshal(env.Data, &refreshed))
	require.NoError(t, refreshed.Validate())
	require.NotEmpty(t, refreshed.RefreshToken)
	require.NotEqual(t, data.RefreshToken, refreshed.RefreshToken, "refresh token must rotate")

	// The old token is burned.
	env, status = postJSON(t, ts.URL+"/api/auth/refresh", backend.RefreshRequest{RefreshToken: data.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, status)
	require.True(t, env.Unauthorized())

	// The rotated token still works.
	env, status = postJSON(t, ts.URL+"/api/auth/refresh", backend.RefreshRequest{RefreshToken: refreshed.RefreshToken})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, backend.CodeOK, env.Code)
}

func TestRefreshRejectsUnknownToken(t *testing.T) {
	ts := setupServer(t)

	env, status := postJSON(t, ts.URL+"/api/auth/refresh", backend.RefreshRequest{RefreshToken: "never-issued"})
	require.Equal(t, http.StatusUnauthorized, status)
	require.True(t, env.Unauthorized())
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	ts := setupServer(t)
	data := login(t, ts, "abc123")

	env, status := postJSON(t, ts.URL+"/api/auth/logout", backend.RefreshRequest{RefreshToken: data.RefreshToken})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, backend.CodeOK, env.Code)

	env, status = postJSON(t, ts.URL+"/api/auth/refresh", backend.RefreshRequest{RefreshToken: data.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, status)
	require.True(t, env.Unauthorized())
}

func TestProfileRequiresBearerToken(t *testing.T) {
	ts := setupServer(t)
	data := login(t, ts, "abc123")

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/profile", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+data.AccessToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var env backend.Envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	var info backend.UserInfo
	require.NoError(t, json.Unmarshal(env.Data, &info))
	require.Equal(t, "A", info.NickName)
	require.Equal(t, data.UserInfo.ID, info.ID)
}

func TestProfileRejectsMissingOrGarbageToken(t *testing.T) {
	ts := setupServer(t)

	for name, header := range map[string]string{
		"missing": "",
		"garbage": "Bearer not-a-jwt",
		"format":  "Token abc",
	} {
		t.Run(name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/profile", nil)
			require.NoError(t, err)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

// TestClientAgainstDevServer exercises the whole flow end to end: login,
// a silent refresh triggered by an expired access token, and logout.
func TestClientAgainstDevServer(t *testing.T) {
	// Access tokens live 100ms so the silent-refresh path fires naturally.
	ts := setupServer(t, devserver.WithAccessTTL(100*time.Millisecond))

	store := storefakes.NewFakeStore()
	sessions, err := session.NewManager(store)
	require.NoError(t, err)
	client, err := apiclient.New(ts.URL, sessions)
	require.NoError(t, err)

	profile, err := client.Login(context.Background(), "abc123", &backend.UserInfo{NickName: "A"})
	require.NoError(t, err)
	require.Equal(t, "A", profile.NickName)

	var info backend.UserInfo
	require.NoError(t, client.Get(context.Background(), "/api/profile", &info))
	require.Equal(t, "A", info.NickName)

	firstAccess := sessions.Current().AccessToken
	firstRefresh := sessions.Current().RefreshToken
	time.Sleep(150 * time.Millisecond) // let the access token expire

	require.NoError(t, client.Get(context.Background(), "/api/profile", &info))
	require.Equal(t, "A", info.NickName)

	snap := sessions.Current()
	require.NotEqual(t, firstAccess, snap.AccessToken, "expired access token was silently replaced")
	require.NotEqual(t, firstRefresh, snap.RefreshToken, "rotation is picked up by the client")

	require.NoError(t, client.Logout(context.Background()))
	require.Equal(t, session.ModeUnauthenticated, sessions.Current().Mode)

	// The revoked refresh token is useless afterwards.
	env, status := postJSON(t, ts.URL+"/api/auth/refresh", backend.RefreshRequest{RefreshToken: snap.RefreshToken})
	require.Equal(t, http.StatusUnauthorized, status)
	require.True(t, env.Unauthorized())
}
