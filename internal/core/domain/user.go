package domain

import "time"

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleArtist Role = "ARTIST"
	RoleUser   Role = "USER"
	RoleGuest  Role = "GUEST"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleArtist, RoleUser:
		return true
	}
	return false
}

type User struct {
	ID           int64
	Name         string
	Email        string
	Role         Role
	PasswordHash string
	// RefreshTokenVersion is bumped on every login and refresh. Refresh
	// tokens carrying an older version are rejected.
	RefreshTokenVersion int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
