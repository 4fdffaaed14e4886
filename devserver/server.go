// Package devserver is a local stand-in for the production auth backend.
// It speaks the same envelope protocol the SDK consumes: short-lived JWT
// access tokens, opaque rotated refresh tokens, and {code,data} responses.
package devserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/villagestay/go-auth-client/backend"
	"github.com/villagestay/go-auth-client/devserver/refreshrepo"
)

const defaultRefreshTTL = 30 * 24 * time.Hour

// expiredLoginCode is a magic one-time code the dev server always rejects,
// so clients can exercise their login failure path.
const expiredLoginCode = "expired"

// Server handles the auth endpoints.
type Server struct {
	issuer     *TokenIssuer
	repo       refreshrepo.Repo
	log        zerolog.Logger
	refreshTTL time.Duration
	nowTime    func() time.Time
	router     *mux.Router
}

// ServerOption modifies a Server instance.
type ServerOption func(*Server)

// WithServerLogger sets the server's logger.
func WithServerLogger(log zerolog.Logger) ServerOption {
	return func(s *Server) {
		s.log = log
	}
}

// WithRefreshTTL sets the refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServerOption {
	return func(s *Server) {
		s.refreshTTL = ttl
	}
}

// WithServerNowTime sets the now time function (primarily for testing).
func WithServerNowTime(nowFunc func() time.Time) ServerOption {
	return func(s *Server) {
		s.nowTime = nowFunc
	}
}

// NewServer initializes a Server.
func NewServer(issuer *TokenIssuer, repo refreshrepo.Repo, options ...ServerOption) (*Server, error) {
	if issuer == nil {
		return nil, errors.New("[NewServer] issuer is required")
	}
	if repo == nil {
		return nil, errors.New("[NewServer] repo is required")
	}

	s := &Server{
		issuer:     issuer,
		repo:       repo,
		log:        zerolog.Nop(),
		refreshTTL: defaultRefreshTTL,
		nowTime:    time.Now,
	}
	for _, opt := range options {
		opt(s)
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/api/profile", s.handleProfile).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router = r

	return s, nil
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleLogin exchanges a one-time platform code for a token pair. The dev
// server accepts any non-empty code except the magic expired one.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req backend.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeEnvelope(w, http.StatusBadRequest, backend.Envelope{Code: http.StatusBadRequest, Message: "invalid request body"})
		return
	}

	if req.Code == "" || req.Code == expiredLoginCode {
		s.log.Info().Msg("rejecting login code")
		s.writeEnvelope(w, http.StatusUnauthorized, backend.Envelope{Code: backend.CodeUnauthorized, Message: "code validation failed"})
		return
	}

	userID := uuid.New().String()
	nickName := "Villager"
	role := ""
	if req.UserInfo != nil {
		if req.UserInfo.NickName != "" {
			nickName = req.UserInfo.NickName
		}
		role = req.UserInfo.Role
	}

	accessToken, refreshToken, err := s.issuePair(r, userID, nickName, role)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to issue token pair")
		s.writeEnvelope(w, http.StatusInternalServerError, backend.Envelope{Code: http.StatusInternalServerError, Message: "token issuance failed"})
		return
	}

	userInfo := backend.UserInfo{ID: backend.UserID(userID), NickName: nickName, Role: role}
	if req.UserInfo != nil {
		userInfo.AvatarURL = req.UserInfo.AvatarURL
		userInfo.Locale = req.UserInfo.Locale
	}

	s.log.Info().Str("user_id", userID).Msg("login code exchanged")
	s.writeData(w, backend.LoginData{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UserInfo:     &userInfo,
	})
}

// handleRefresh rotates the refresh token and issues a new access token.
// The old refresh token is invalidated.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req backend.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeEnvelope(w, http.StatusBadRequest, backend.Envelope{Code: http.StatusBadRequest, Message: "invalid request body"})
		return
	}

	stored, err := s.repo.Get(r.Context(), req.RefreshToken)
	if err != nil {
		s.log.Error().Err(err).Msg("refresh token lookup failed")
		s.writeEnvelope(w, http.StatusInternalServerError, backend.Envelope{Code: http.StatusInternalServerError, Message: "token lookup failed"})
		return
	}
	if stored == nil {
		s.writeEnvelope(w, http.StatusUnauthorized, backend.Envelope{Code: backend.CodeUnauthorized, Message: "refresh token invalid or expired"})
		return
	}

	if err := s.repo.Delete(r.Context(), stored.Token); err != nil {
		s.log.Error().Err(err).Msg("failed to invalidate rotated refresh token")
	}

	accessToken, refreshToken, err := s.issuePair(r, stored.UserID, stored.NickName, stored.Role)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to issue token pair")
		s.writeEnvelope(w, http.StatusInternalServerError, backend.Envelope{Code: http.StatusInternalServerError, Message: "token issuance failed"})
		return
	}

	s.log.Info().Str("user_id", stored.UserID).Msg("access token refreshed")
	s.writeData(w, backend.RefreshData{AccessToken: accessToken, RefreshToken: refreshToken})
}

// handleLogout revokes the presented refresh token. Best effort by design:
// clients clear local state regardless of the outcome.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req backend.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.RefreshToken != "" {
		if err := s.repo.Delete(r.Context(), req.RefreshToken); err != nil {
			s.log.Error().Err(err).Msg("failed to revoke refresh token")
		}
	}
	s.writeEnvelope(w, http.StatusOK, backend.Envelope{Code: backend.CodeOK})
}

// handleProfile is the authenticated resource endpoint.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	claims, err := s.authenticate(r)
	if err != nil {
		s.writeEnvelope(w, http.StatusUnauthorized, backend.Envelope{Code: backend.CodeUnauthorized, Message: "invalid or expired access token"})
		return
	}
	s.writeData(w, backend.UserInfo{
		ID:       backend.UserID(claims.Subject),
		NickName: claims.NickName,
		Role:     claims.Role,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeEnvelope(w, http.StatusOK, backend.Envelope{Code: backend.CodeOK})
}

// issuePair creates an access token and a stored refresh token for a user.
func (s *Server) issuePair(r *http.Request, userID, nickName, role string) (string, string, error) {
	accessToken, err := s.issuer.IssueAccessToken(userID, nickName, role)
	if err != nil {
		return "", "", errors.Wrap(err, "[issuePair] access token")
	}

	refreshToken, err := NewRefreshToken()
	if err != nil {
		return "", "", errors.Wrap(err, "[issuePair] refresh token")
	}

	now := s.nowTime()
	if err := s.repo.Upsert(r.Context(), &refreshrepo.StoredToken{
		Token:     refreshToken,
		UserID:    userID,
		NickName:  nickName,
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}); err != nil {
		return "", "", errors.Wrap(err, "[issuePair] store refresh token")
	}

	return accessToken, refreshToken, nil
}

// authenticate extracts and verifies the bearer access token.
func (s *Server) authenticate(r *http.Request) (*AccessClaims, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, errors.New("[authenticate] missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, errors.New("[authenticate] invalid Authorization header format")
	}
	return s.issuer.ParseAccessToken(parts[1])
}

func (s *Server) writeData(w http.ResponseWriter, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to marshal response data")
		s.writeEnvelope(w, http.StatusInternalServerError, backend.Envelope{Code: http.StatusInternalServerError, Message: "encoding failed"})
		return
	}
	s.writeEnvelope(w, http.StatusOK, backend.Envelope{Code: backend.CodeOK, Data: raw})
}

func (s *Server) writeEnvelope(w http.ResponseWriter, httpStatus int, env backend.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	if err := json.NewEncoder(w).Encode(env); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}
