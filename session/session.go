package session

// Mode describes the authentication state of the running client. Exactly one
// mode holds at any time.
type Mode string

const (
	ModeUnauthenticated Mode = "unauthenticated"
	ModeGuest           Mode = "guest"
	ModeUser            Mode = "user"
)

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeUnauthenticated, ModeGuest, ModeUser:
		return true
	}
	return false
}

// Profile is the cached user profile attached to a user-mode session.
type Profile struct {
	ID        string `json:"id"`
	NickName  string `json:"nickName"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Locale    string `json:"locale,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Snapshot is a point-in-time copy of the session handed to callers.
// AuthSource is diagnostic only and records which path last confirmed the
// session; it is never used for authorization decisions.
type Snapshot struct {
	Mode         Mode
	AccessToken  string
	RefreshToken string
	Profile      *Profile
	GuestID      string
	AuthSource   string
}

// LoggedIn reports whether the snapshot represents a full user session.
func (s Snapshot) LoggedIn() bool {
	return s.Mode == ModeUser
}
