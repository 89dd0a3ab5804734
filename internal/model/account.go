// internal/model/account.go
package model

import (
	"time"
)

// Role is the authorization level of an account.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole reports whether s names a known role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleUser, RoleAdmin:
		return Role(s), true
	}
	return "", false
}

// Account represents a registered user or administrator.
// This corresponds to the accounts table in storage.
type Account struct {
	ID           int64     `json:"id"`               // Auto-increment identifier
	Username     string    `json:"username"`         // Unique, 3-50 word characters
	Email        string    `json:"email"`            // Unique, lowercased
	PasswordHash string    `json:"-"`                // bcrypt hash, never serialized
	Role         Role      `json:"role"`             // user or admin
	AvatarURL    string    `json:"avatar,omitempty"` // Public URL of the avatar image
	CreatedAt    time.Time `json:"createdAt"`        // When the account was registered
	UpdatedAt    time.Time `json:"updatedAt"`        // Last profile change
}

// Summary projects the account to the public creator/commenter view.
func (a Account) Summary() *AccountSummary {
	return &AccountSummary{ID: a.ID, Username: a.Username, AvatarURL: a.AvatarURL}
}

// IsAdmin reports whether the account holds the admin role.
func (a Account) IsAdmin() bool { return a.Role == RoleAdmin }

// AccountPatch carries the fields of a partial account update.
type AccountPatch struct {
	Username  *string
	Email     *string
	Role      *Role
	AvatarURL *string
}

// AccountStats aggregates an account's engagement for profile pages.
type AccountStats struct {
	FavoritesCount int64 `json:"favoritesCount"`
	CommentsCount  int64 `json:"commentsCount"`
	UploadsCount   int64 `json:"uploadsCount"`
	TotalViews     int64 `json:"totalViews"` // Sum of views across the account's uploads
}

// AccountQuery filters the admin account listing.
type AccountQuery struct {
	Search string // Substring of username or email
	Role   Role   // Empty means any role
	Page   Page
}
