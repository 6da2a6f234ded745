package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the profile record. Username and Email are stored lower-cased.
type User struct {
	ID           uuid.UUID `json:"id"`
	DisplayName  string    `json:"display_name"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	PhotoURL     string    `json:"photo_url"`
	IsPrivate    bool      `json:"is_private"`
	MatchCounters
	Friends   []uuid.UUID `json:"friends,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// HasPassword is false for accounts created through a sign-in provider.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

type CreateUserParams struct {
	Username     string
	Email        string
	PasswordHash string
	DisplayName  string
}

// UpdateProfileParams carries optional edits; nil fields are left untouched.
type UpdateProfileParams struct {
	DisplayName *string `json:"display_name,omitempty"`
	Username    *string `json:"username,omitempty"`
	IsPrivate   *bool   `json:"is_private,omitempty"`
	PhotoURL    *string `json:"photo_url,omitempty"`
}

// PublicProfile is what other users see. Stats is nil when the profile is
// private and the viewer is not a friend.
type PublicProfile struct {
	ID          uuid.UUID      `json:"id"`
	DisplayName string         `json:"display_name"`
	Username    string         `json:"username"`
	PhotoURL    string         `json:"photo_url"`
	IsPrivate   bool           `json:"is_private"`
	IsFriend    bool           `json:"is_friend"`
	Stats       *MatchCounters `json:"stats,omitempty"`
}

// PublicView projects u for viewer. Counters of a private profile are only
// shown to the owner and to friends.
func (u *User) PublicView(viewerID uuid.UUID, isFriend bool) PublicProfile {
	p := PublicProfile{
		ID:          u.ID,
		DisplayName: u.DisplayName,
		Username:    u.Username,
		PhotoURL:    u.PhotoURL,
		IsPrivate:   u.IsPrivate,
		IsFriend:    isFriend,
	}
	if !u.IsPrivate || isFriend || viewerID == u.ID {
		stats := u.MatchCounters
		p.Stats = &stats
	}
	return p
}
