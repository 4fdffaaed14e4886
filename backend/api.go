// Package backend defines the wire types of the auth backend's JSON
// envelope protocol and validation of its payloads.
package backend

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// Envelope codes used by the backend. Anything else is treated as a plain
// application error.
const (
	CodeOK           = 0
	CodeUnauthorized = 401
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Envelope is the uniform response wrapper: {"code":0,"data":{...}}.
type Envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Unauthorized reports whether the envelope signals an authentication
// failure.
func (e Envelope) Unauthorized() bool {
	return e.Code == CodeUnauthorized
}

// Error is a non-zero envelope code surfaced to callers as-is.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error %d", e.Code)
	}
	return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
}

// UserID is the opaque user identifier. Older backend variants serialize it
// as a JSON number, newer ones as a string; both are accepted.
type UserID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *UserID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrap(err, "user id is neither string nor number")
	}
	*id = UserID(n.String())
	return nil
}

// MarshalJSON implements json.Marshaler; IDs are always written as strings.
func (id UserID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(id))
}

// String returns the canonical string form.
func (id UserID) String() string { return string(id) }

// FromInt builds a UserID from a numeric identifier.
func FromInt(n int64) UserID { return UserID(strconv.FormatInt(n, 10)) }

// UserInfo is the profile payload exchanged with the backend.
type UserInfo struct {
	ID        UserID `json:"id,omitempty"`
	NickName  string `json:"nickName"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Locale    string `json:"locale,omitempty"`
	Role      string `json:"role,omitempty"`
}

// LoginRequest is the body of POST /api/auth/login: a one-time platform
// code plus optional user-consented profile fields.
type LoginRequest struct {
	Code     string    `json:"code"`
	UserInfo *UserInfo `json:"userInfo,omitempty"`
}

// LoginData is the success payload of POST /api/auth/login.
type LoginData struct {
	AccessToken  string    `json:"accessToken" validate:"required"`
	RefreshToken string    `json:"refreshToken" validate:"required"`
	UserInfo     *UserInfo `json:"userInfo" validate:"required"`
}

// Validate checks that the backend returned every field a committed login
// needs.
func (d LoginData) Validate() error {
	if err := validate.Struct(d); err != nil {
		return errors.Wrap(err, "login response")
	}
	return nil
}

// RefreshRequest is the body of POST /api/auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// RefreshData is the success payload of POST /api/auth/refresh.
// RefreshToken is only present when the backend rotates it.
type RefreshData struct {
	AccessToken  string `json:"accessToken" validate:"required"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// Validate checks the refresh payload.
func (d RefreshData) Validate() error {
	if err := validate.Struct(d); err != nil {
		return errors.Wrap(err, "refresh response")
	}
	return nil
}
