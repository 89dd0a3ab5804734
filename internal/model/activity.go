// internal/model/activity.go
package model

import "time"

// ActivityType enumerates the audit events the service records.
type ActivityType string

const (
	ActivityUserRegistered  ActivityType = "user_registered"
	ActivityWorkUploaded    ActivityType = "work_uploaded"
	ActivityCommentAdded    ActivityType = "comment_added"
	ActivityFavoriteChanged ActivityType = "favorite_changed"
	ActivityUserLogin       ActivityType = "user_login"
)

// Activity is an append-only audit record of a user-triggered event.
// Entries are never mutated; deleting the account clears AccountID.
type Activity struct {
	ID          int64                  `json:"id"`
	Type        ActivityType           `json:"type"`
	Description string                 `json:"description"`
	AccountID   *int64                 `json:"userId"`
	Account     *AccountSummary        `json:"user,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
}

// Overview holds the catalog-wide counters shown on the admin dashboard.
type Overview struct {
	TotalUsers      int64 `json:"totalUsers"`
	TotalWorks      int64 `json:"totalWorks"`
	TotalVideos     int64 `json:"totalVideos"`
	TotalNovels     int64 `json:"totalNovels"`
	TotalViews      int64 `json:"totalViews"`
	NewUsersLast30d int64 `json:"newUsersLast30Days"`
}

// Stats is the admin dashboard payload.
type Stats struct {
	Overview       Overview   `json:"overview"`
	RecentActivity []Activity `json:"recentActivity"`
	TopWorks       []Work     `json:"topWorks"`
}
