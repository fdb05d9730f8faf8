package domain

import "time"

// Deploy status values. A deploy is created pending and moves to exactly one
// terminal status per upload attempt.
const (
	DeployStatusPending = "pending"
	DeployStatusSuccess = "success"
	DeployStatusFailed  = "failed"
)

// Deploy captures a single deployment attempt.
type Deploy struct {
	ID        string
	TenantID  string
	ProjectID string
	UserID    string
	URL       string
	Status    string
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DeployStatusUpdate carries the single pending-to-terminal transition.
type DeployStatusUpdate struct {
	DeployID string
	Status   string
	Error    string
}
