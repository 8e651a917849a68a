package rbac

import "time"

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64
	Name        string
	Description string
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission represents an atomic capability, named after the tool it
// grants access to.
type Permission struct {
	ID       int64
	Name     string
	Resource string
	Action   string
	Tier     string
}

// Assignment ties a permission to a role.
type Assignment struct {
	RoleID       int64
	PermissionID int64
	CreatedAt    time.Time
}

// Decision is the answer to "can user U invoke tool T".
type Decision struct {
	Allowed bool
	Reason  string
}
