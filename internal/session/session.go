package session

import (
	"errors"
	"time"

	"github.com/bankrail/bankrail/internal/rbac"
)

// Domain errors
var (
	ErrNotFound = errors.New("session not found")
	ErrExpired  = errors.New("session expired")
)

// Branch is a tenant-owned operational unit. Branches are referenced, never
// owned, by a session.
type Branch struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Code         string `json:"code"`
	Address      string `json:"address,omitempty"`
	Phone        string `json:"phone,omitempty"`
	BusinessDate string `json:"business_date,omitempty"`
	DateLocked   bool   `json:"date_locked,omitempty"`
	Currency     string `json:"currency,omitempty"`
	DailyLimit   int64  `json:"daily_limit,omitempty"`
}

// User is the authenticated principal.
type User struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	FirstName      string    `json:"first_name,omitempty"`
	LastName       string    `json:"last_name,omitempty"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone,omitempty"`
	Role           rbac.Role `json:"role"`
	IsSuperAdmin   bool      `json:"is_super_admin,omitempty"`
	BranchIDs      []string  `json:"branch_ids,omitempty"`
	ActiveBranchID string    `json:"active_branch_id,omitempty"`
}

// Session is the authenticated state for one portal visitor.
//
// Invariants: IsAuthenticated is true iff User and Token are both present;
// CurrentBranch, when non-nil, is a member of Branches.
type Session struct {
	ID              string            `json:"-"`
	User            *User             `json:"user"`
	Token           string            `json:"token"`
	RefreshToken    string            `json:"refreshToken,omitempty"`
	IsAuthenticated bool              `json:"isAuthenticated"`
	Permissions     []rbac.Permission `json:"permissions"`
	Branches        []Branch          `json:"branches"`
	CurrentBranch   *Branch           `json:"currentBranch"`

	CreatedAt time.Time `json:"-"`
	ExpiresAt time.Time `json:"-"`
}

// IsExpired reports whether the session has outlived its lifetime.
func (s *Session) IsExpired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// HasPermission checks membership in the session's cached permission list.
// The list is granted by the server at login and may be a superset or subset
// of the role's static mapping, so it is never re-derived from the role here.
func (s *Session) HasPermission(p rbac.Permission) bool {
	return rbac.Contains(s.Permissions, p)
}

// HasAnyPermission reports whether the session holds at least one of perms.
func (s *Session) HasAnyPermission(perms ...rbac.Permission) bool {
	return rbac.ContainsAny(s.Permissions, perms)
}

// HasAllPermissions reports whether the session holds every one of perms.
func (s *Session) HasAllPermissions(perms ...rbac.Permission) bool {
	return rbac.ContainsAll(s.Permissions, perms)
}

// IsSuperAdmin reports whether the session belongs to the platform operator.
func (s *Session) IsSuperAdmin() bool {
	if s.User == nil {
		return false
	}
	return s.User.IsSuperAdmin || s.User.Role == rbac.RoleSuperAdmin
}

// IsBranchAdmin reports whether the session belongs to a branch administrator.
func (s *Session) IsBranchAdmin() bool {
	return s.User != nil && s.User.Role == rbac.RoleBranchAdmin
}

// Role returns the principal's role, or the zero Role when unauthenticated.
func (s *Session) Role() rbac.Role {
	if s.User == nil {
		return ""
	}
	return s.User.Role
}

// BranchByID returns the session branch with the given id, or nil.
func (s *Session) BranchByID(id string) *Branch {
	for i := range s.Branches {
		if s.Branches[i].ID == id {
			return &s.Branches[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can hand snapshots to concurrent
// readers without exposing the stored value to mutation.
func (s *Session) Clone() *Session {
	out := *s
	if s.User != nil {
		user := *s.User
		user.BranchIDs = append([]string(nil), s.User.BranchIDs...)
		out.User = &user
	}
	out.Permissions = append([]rbac.Permission(nil), s.Permissions...)
	out.Branches = append([]Branch(nil), s.Branches...)
	if s.CurrentBranch != nil {
		branch := *s.CurrentBranch
		out.CurrentBranch = &branch
	}
	return &out
}
