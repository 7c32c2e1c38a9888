package tenant

import (
	"context"
	"errors"
)

// Domain errors. ErrNotFound and ErrInactive are deliberately distinct so the
// portal can message "check the address" versus "contact support".
var (
	ErrNotFound         = errors.New("tenant not found")
	ErrInactive         = errors.New("tenant is deactivated")
	ErrSnapshotNotFound = errors.New("tenant snapshot not found")
)

// Context is the resolved identity of the bank associated with the current
// browsing origin. It identifies which bank's portal is being viewed,
// independent of whether anyone is logged in; Branch records are the
// operational sub-units a logged-in user acts within.
type Context struct {
	Name      string `json:"name"`
	LogoURL   string `json:"logo_url,omitempty"`
	Subdomain string `json:"subdomain"`
}

// Bank is the directory record a subdomain resolves to.
type Bank struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Subdomain string `json:"subdomain"`
	LogoURL   string `json:"logo_url,omitempty"`
	Active    bool   `json:"active"`
}

// Directory looks a tenant key up in the platform's bank registry. Lookups run
// on the unauthenticated pipeline path since resolution can precede login.
type Directory interface {
	// LookupBank returns ErrNotFound when no bank matches the subdomain.
	// Deactivated banks are returned as-is; the resolver surfaces them as
	// ErrInactive.
	LookupBank(ctx context.Context, subdomain string) (*Bank, error)
}

// Snapshot is the persisted tenant blob. It survives restarts so a refresh
// does not force a re-resolution flash; the resolution flags are re-derived
// at startup against a freshly computed key.
type Snapshot struct {
	Tenant         *Context `json:"tenant"`
	Subdomain      string   `json:"subdomain"`
	IsAdminPortal  bool     `json:"isAdminPortal"`
	IsBranchPortal bool     `json:"isBranchPortal"`
	IsResolved     bool     `json:"isResolved"`
}

// SnapshotRepository persists the tenant snapshot across restarts.
type SnapshotRepository interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns ErrSnapshotNotFound when nothing was persisted.
	Load(ctx context.Context) (*Snapshot, error)
}
