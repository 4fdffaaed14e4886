package devserver

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const refreshTokenLength = 32 // bytes of entropy, hex encoded

// AccessClaims are the claims carried by a dev access token.
type AccessClaims struct {
	NickName string `json:"nickName,omitempty"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 access tokens and generates opaque
// refresh tokens.
type TokenIssuer struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	nowTime   func() time.Time
}

// IssuerOption modifies a TokenIssuer instance.
type IssuerOption func(*TokenIssuer)

// WithAccessTTL sets the access token lifetime.
func WithAccessTTL(ttl time.Duration) IssuerOption {
	return func(ti *TokenIssuer) {
		ti.accessTTL = ttl
	}
}

// WithIssuerNowTime sets the now time function (primarily for testing).
func WithIssuerNowTime(nowFunc func() time.Time) IssuerOption {
	return func(ti *TokenIssuer) {
		ti.nowTime = nowFunc
	}
}

// NewTokenIssuer initializes a TokenIssuer.
func NewTokenIssuer(secret []byte, issuer string, options ...IssuerOption) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("[NewTokenIssuer] secret is required")
	}
	if issuer == "" {
		return nil, errors.New("[NewTokenIssuer] issuer is required")
	}

	ti := &TokenIssuer{
		secret:    secret,
		issuer:    issuer,
		accessTTL: time.Hour,
		nowTime:   time.Now,
	}
	for _, opt := range options {
		opt(ti)
	}
	return ti, nil
}

// IssueAccessToken signs a short-lived access token for the user.
func (ti *TokenIssuer) IssueAccessToken(userID, nickName, role string) (string, error) {
	now := ti.nowTime()
	claims := AccessClaims{
		NickName: nickName,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    ti.issuer,
			Audience:  jwt.ClaimStrings{ti.issuer},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.accessTTL)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", errors.Wrap(err, "[IssueAccessToken] sign")
	}
	return signed, nil
}

// ParseAccessToken verifies the signature, method, issuer and expiry of an
// access token and returns its claims.
func (ti *TokenIssuer) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ti.secret, nil
	},
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(ti.issuer),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(ti.nowTime),
	)
	if err != nil {
		return nil, errors.Wrap(err, "[ParseAccessToken]")
	}
	if !token.Valid {
		return nil, errors.New("[ParseAccessToken] invalid token")
	}
	return claims, nil
}

// NewRefreshToken generates an opaque random refresh token string.
func NewRefreshToken() (string, error) {
	tokenBytes := make([]byte, refreshTokenLength)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", errors.Wrap(err, "[NewRefreshToken] rand.Read")
	}
	return hex.EncodeToString(tokenBytes), nil
}
