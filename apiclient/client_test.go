package apiclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/villagestay/go-auth-client/apiclient"
	"github.com/villagestay/go-auth-client/backend"
	"github.com/villagestay/go-auth-client/session"
	"github.com/villagestay/go-auth-client/session/storefakes"
)

// fakeBackend is an httptest auth backend with counted endpoints. The
// resource endpoint accepts exactly one access token; the refresh endpoint
// exchanges a known refresh token for it.
type fakeBackend struct {
	t *testing.T

	mu             sync.Mutex
	validAccess    string
	validRefresh   string
	rotateTo       string // when set, refresh responses rotate the refresh token
	rejectResource bool   // when set, the resource endpoint 401s every token

	resourceCalls atomic.Int32
	refreshCalls  atomic.Int32

	server *httptest.Server
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{t: t, validAccess: "T1", validRefresh: "R1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/refresh", fb.handleRefresh)
	mux.HandleFunc("/api/resource", fb.handleResource)
	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) handleRefresh(w http.ResponseWriter, r *http.Request) {
	fb.refreshCalls.Add(1)

	// Hold the exchange open briefly so concurrent 401 handlers overlap
	// with the in-flight refresh instead of racing past it.
	time.Sleep(50 * time.Millisecond)

	var req backend.RefreshRequest
	require.NoError(fb.t, json.NewDecoder(r.Body).Decode(&req))

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if req.RefreshToken != fb.validRefresh {
		writeEnvelope(w, http.StatusUnauthorized, backend.Envelope{Code: backend.CodeUnauthorized})
		return
	}

	fb.validAccess = "T2"
	data := backend.RefreshData{AccessToken: fb.validAccess}
	if fb.rotateTo != "" {
		fb.validRefresh = fb.rotateTo
		data.RefreshToken = fb.rotateTo
	}
	writeData(fb.t, w, data)
}

func (fb *fakeBackend) handleResource(w http.ResponseWriter, r *http.Request) {
	fb.resourceCalls.Add(1)

	fb.mu.Lock()
	valid := "Bearer " + fb.validAccess
	reject := fb.rejectResource
	fb.mu.Unlock()

	if reject || r.Header.Get("Authorization") != valid {
		writeEnvelope(w, http.StatusUnauthorized, backend.Envelope{Code: backend.CodeUnauthorized})
		return
	}
	writeData(fb.t, w, map[string]string{"status": "ok"})
}

func writeData(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	writeEnvelope(w, http.StatusOK, backend.Envelope{Code: backend.CodeOK, Data: raw})
}

func writeEnvelope(w http.ResponseWriter, httpStatus int, env backend.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(env)
}

func setupClient(t *testing.T, baseURL string) (*apiclient.Client, *session.Manager, *storefakes.FakeStore) {
	t.Helper()
	store := storefakes.NewFakeStore()
	sessions, err := session.NewManager(store)
	require.NoError(t, err)
	client, err := apiclient.New(baseURL, sessions)
	require.NoError(t, err)
	return client, sessions, store
}

func loginWith(t *testing.T, sessions *session.Manager, access, refreshToken string) {
	t.Helper()
	require.NoError(t, sessions.SetUser(session.Credentials{
		AccessToken:  access,
		RefreshToken: refreshToken,
	}, &session.Profile{ID: "1", NickName: "A"}))
}

func TestDoAttachesBearerToken(t *testing.T) {
	fb := newFakeBackend(t)
	client, sessions, _ := setupClient(t, fb.server.URL)
	loginWith(t, sessions, "T1", "R1")

	var out map[string]string
	require.NoError(t, client.Get(context.Background(), "/api/resource", &out))
	require.Equal(t, "ok", out["status"])
	require.Equal(t, int32(1), fb.resourceCalls.Load())
	require.Equal(t, int32(0), fb.refreshCalls.Load())
}

func TestDoRefreshesAndRetriesOnceOn401(t *testing.T) {
	fb := newFakeBackend(t)
	client, sessions, _ := setupClient(t, fb.server.URL)
	loginWith(t, sessions, "stale-access", "R1")

	var out map[string]string
	require.NoError(t, client.Get(context.Background(), "/api/resource", &out))
	require.Equal(t, "ok", out["status"])

	require.Equal(t, int32(2), fb.resourceCalls.Load(), "original call plus one retry")
	require.Equal(t, int32(1), fb.refreshCalls.Load())
	require.Equal(t, "T2", sessions.Current().AccessToken)
}

func TestDoPersistsRotatedRefreshToken(t *testing.T) {
	fb := newFakeBackend(t)
	fb.rotateTo = "R2"
	client, sessions, store := setupClient(t, fb.server.URL)
	loginWith(t, sessions, "stale-access", "R1")

	require.NoError(t, client.Get(context.Background(), "/api/resource", nil))

	require.Equal(t, "R2", sessions.Current().RefreshToken)
	stored, _ := store.Stored()
	require.Equal(t, "R2", stored.RefreshToken)
}

func TestDoRetryBoundIsOne(t *testing.T) {
	fb := newFakeBackend(t)
	client, sessions, store := setupClient(t, fb.server.URL)
	loginWith(t, sessions, "stale-access", "R1")

	// The backend refuses the resource call even with the fresh token.
	fb.mu.Lock()
	fb.rejectResource = true
	fb.mu.Unlock()

	err := client.Get(context.Background(), "/api/resource", nil)
	require.ErrorIs(t, err, session.ErrSessionExpired)

	require.Equal(t, int32(2), fb.resourceCalls.Load(), "exactly one retry, never a loop")
	require.Equal(t, int32(1), fb.refreshCalls.Load())
	require.Equal(t, session.ModeUnauthenticated, sessions.Current().Mode)
	_, has := store.Stored()
	require.False(t, has)
}

func TestDoRefreshFailureYieldsSessionExpired(t *testing.T) {
	fb := newFakeBackend(t)
	client, sessions, store := setupClient(t, fb.server.URL)
	loginWith(t, sessions, "stale-access", "rejected-refresh")

	err := client.Get(context.Background(), "/api/resource", nil)
	require.ErrorIs(t, err, session.ErrSessionExpired)

	require.Equal(t, int32(1), fb.resourceCalls.Load(), "no retry without a new token")
	require.Equal(t, session.ModeUnauthenticated, sessions.Current().Mode)
	_, has := store.Stored()
	require.False(t, has)
}

func TestDoGuestSendsNoAuthorizationHeader(t *testing.T) {
	var sawAuth atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			sawAuth.Store(true)
		}
		writeEnvelope(w, http.StatusOK, backend.Envelope{Code: backend.CodeOK})
	}))
	defer server.Close()

	client, sessions, _ := setupClient(t, server.URL)
	_, err := sessions.SetGuest()
	require.NoError(t, err)

	require.NoError(t, client.Get(context.Background(), "/api/listings", nil))
	require.False(t, sawAuth.Load(), "guest calls carry no Authorization header")
	require.Empty(t, sessions.Current().AccessToken)
}

func TestDoPropagatesOtherErrorsWithoutRetry(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEnvelope(w, http.StatusInternalServerError, backend.Envelope{Code: 500, Message: "boom"})
	}))
	defer server.Close()

	client, sessions, _ := setupClient(t, server.URL)
	loginWith(t, sessions, "T1", "R1")

	err := client.Get(context.Background(), "/api/resource", nil)

	var backendErr *backend.Error
	require.ErrorAs(t, err, &backendErr)
	require.Equal(t, 500, backendErr.Code)
	require.Equal(t, int32(1), calls.Load(), "non-auth errors are never retried")
	require.Equal(t, session.ModeUser, sessions.Current().Mode, "session untouched")
}

func TestConcurrent401sShareOneRefresh(t *testing.T) {
	fb := newFakeBackend(t)
	client, sessions, _ := setupClient(t, fb.server.URL)
	loginWith(t, sessions, "stale-access", "R1")

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)

	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = client.Get(context.Background(), "/api/resource", nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
	}
	require.Equal(t, int32(1), fb.refreshCalls.Load(), "one refresh for all concurrent 401s")
	require.Equal(t, "T2", sessions.Current().AccessToken)
}
