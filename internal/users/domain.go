package users

import "time"

// User represents a provisioned caller identity. Users are never deleted,
// only deactivated.
type User struct {
	ID        int64
	Identity  string
	Name      string
	RoleID    int64
	RoleName  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
