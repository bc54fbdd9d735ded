package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleExporter  Role = "exporter"
	RoleCA        Role = "ca"
	RoleForwarder Role = "forwarder"
	RoleImporter  Role = "importer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleExporter, RoleCA, RoleForwarder, RoleImporter:
		return true
	default:
		return false
	}
}

type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusInactive  UserStatus = "inactive"
	UserStatusSuspended UserStatus = "suspended"
)

type User struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	Designation string     `json:"designation,omitempty"`
	Status      UserStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (u *User) IsActive() bool {
	return u != nil && u.Status == UserStatusActive
}

// IsAdminForwarder reports whether the user is a forwarder who distributes
// stages to other forwarders. The marker is the word "admin" in the
// designation or the email address.
func (u *User) IsAdminForwarder() bool {
	if u == nil || u.Role != RoleForwarder {
		return false
	}
	return strings.Contains(strings.ToLower(u.Designation), "admin") ||
		strings.Contains(strings.ToLower(u.Email), "admin")
}

// DisplayName falls back to the email when no name is stored.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if name := strings.TrimSpace(u.Name); name != "" {
		return name
	}
	return u.Email
}
