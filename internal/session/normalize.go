package session

import (
	"strings"
	"time"

	"github.com/bankrail/bankrail/internal/rbac"
)

// LoginResponse is the upstream login payload the session is built from.
type LoginResponse struct {
	User         *User             `json:"user"`
	Token        string            `json:"token"`
	RefreshToken string            `json:"refreshToken"`
	Branches     []Branch          `json:"branches"`
	Permissions  []rbac.Permission `json:"permissions"`
}

// Build normalizes a login payload into a complete Session in one step, so a
// partially applied login is never observable:
//
//   - a missing role is decoded from the access token's claims, falling back
//     to the default low-privilege role when decoding fails;
//   - missing name parts are derived by splitting the combined name field;
//   - the active branch is the principal's preferred branch when it appears in
//     the branch list, otherwise the first branch, otherwise none;
//   - a missing permission list is filled from the role's static mapping.
func Build(id string, resp LoginResponse, lifetime time.Duration) *Session {
	now := time.Now()
	sess := &Session{
		ID:           id,
		Token:        resp.Token,
		RefreshToken: resp.RefreshToken,
		Branches:     append([]Branch(nil), resp.Branches...),
		CreatedAt:    now,
	}
	if lifetime > 0 {
		sess.ExpiresAt = now.Add(lifetime)
	}

	if resp.User != nil {
		user := *resp.User
		user.BranchIDs = append([]string(nil), resp.User.BranchIDs...)

		if user.Role == "" {
			user.Role = roleFromToken(resp.Token)
		}
		if user.FirstName == "" && user.Name != "" {
			user.FirstName, user.LastName = splitName(user.Name)
		}
		if user.Name == "" {
			user.Name = strings.TrimSpace(user.FirstName + " " + user.LastName)
		}
		sess.User = &user
	}

	sess.IsAuthenticated = sess.User != nil && sess.Token != ""

	if len(resp.Permissions) > 0 {
		sess.Permissions = append([]rbac.Permission(nil), resp.Permissions...)
	} else if sess.User != nil {
		sess.Permissions = rbac.PermissionsFor(sess.User.Role)
	}

	sess.CurrentBranch = chooseActiveBranch(sess)
	if sess.CurrentBranch != nil && sess.User != nil {
		sess.User.ActiveBranchID = sess.CurrentBranch.ID
	}
	return sess
}

// roleFromToken reads the role claim out of the access token. Decoding failure
// is non-fatal; the caller gets the default low-privilege role.
func roleFromToken(token string) rbac.Role {
	claims, err := DecodeClaims(token)
	if err != nil || !rbac.IsValid(claims.Role) {
		return rbac.DefaultRole
	}
	return claims.Role
}

func splitName(full string) (first, last string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return "", ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func chooseActiveBranch(s *Session) *Branch {
	if len(s.Branches) == 0 {
		return nil
	}
	if s.User != nil && s.User.ActiveBranchID != "" {
		if b := s.BranchByID(s.User.ActiveBranchID); b != nil {
			return b
		}
	}
	return &s.Branches[0]
}
