package session

import (
	"errors"
	"fmt"

	"github.com/bankrail/bankrail/internal/rbac"
	"github.com/golang-jwt/jwt/v5"
)

// ErrMalformedToken is returned when an access token cannot be decoded.
var ErrMalformedToken = errors.New("malformed access token")

// Claims is the structured payload embedded in an access token. The token is
// issued and verified upstream; the portal only reads it as a fallback source
// of role information, so the parse here is deliberately unverified.
type Claims struct {
	Subject  string
	Role     rbac.Role
	TenantID string
	BranchID string
}

// DecodeClaims decodes the claims segment of a three-part access token.
// Callers choose the fallback role explicitly on error; decoding never
// silently substitutes one.
func DecodeClaims(token string) (*Claims, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedToken, err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformedToken
	}

	claims := &Claims{}
	if sub, err := mapClaims.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if role, ok := mapClaims["role"].(string); ok {
		claims.Role = rbac.Role(role)
	}
	if tid, ok := mapClaims["tenant_id"].(string); ok {
		claims.TenantID = tid
	}
	if bid, ok := mapClaims["branch_id"].(string); ok {
		claims.BranchID = bid
	}
	return claims, nil
}
