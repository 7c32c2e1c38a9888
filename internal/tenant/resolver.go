package tenant

import (
	"context"
	"errors"

	"github.com/bankrail/bankrail/internal/audit"
)

// Resolver derives tenant identity from a browsing origin and resolves it to
// bank metadata through the directory collaborator. Successful resolution is
// idempotent and memoized: once the store is resolved for a key, repeated
// calls are no-ops until the key changes.
type Resolver struct {
	store       *Store
	directory   Directory
	auditLogger audit.Logger
}

// NewResolver creates a tenant resolver.
func NewResolver(store *Store, directory Directory, auditLogger audit.Logger) *Resolver {
	return &Resolver{
		store:       store,
		directory:   directory,
		auditLogger: auditLogger,
	}
}

// Resolve installs key as the current tenant key and, for branch-portal
// origins, resolves it against the directory. Admin-portal keys are a no-op
// success: there is no tenant to resolve.
//
// Each lookup is stamped with the store generation it started under; a lookup
// whose generation no longer matches at completion time is discarded, so a key
// change mid-flight can never clobber the new key's state.
func (r *Resolver) Resolve(ctx context.Context, key Key) error {
	r.store.SetKey(key)

	if key.IsAdminPortal {
		return nil
	}

	gen, ok := r.store.beginResolution()
	if !ok {
		// Already resolved, or a lookup for this key is in flight.
		return nil
	}

	bank, err := r.directory.LookupBank(ctx, key.Subdomain)
	switch {
	case errors.Is(err, ErrNotFound):
		r.store.commitError(gen, ErrNotFound.Error())
		r.auditResolveFailed(ctx, key.Subdomain, "not_found")
		return ErrNotFound
	case err != nil:
		r.store.commitError(gen, err.Error())
		return err
	case !bank.Active:
		r.store.commitError(gen, ErrInactive.Error())
		r.auditResolveFailed(ctx, key.Subdomain, "inactive")
		return ErrInactive
	}

	r.store.commitTenant(ctx, gen, &Context{
		Name:      bank.Name,
		LogoURL:   bank.LogoURL,
		Subdomain: key.Subdomain,
	})
	return nil
}

func (r *Resolver) auditResolveFailed(ctx context.Context, subdomain, reason string) {
	if r.auditLogger == nil {
		return
	}
	r.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantResolveFailed,
		TenantID: subdomain,
		Resource: "tenant",
		Metadata: map[string]any{"reason": reason},
	})
}
