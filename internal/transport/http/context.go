package http

import (
	"context"

	"github.com/bankrail/bankrail/internal/tenant"
)

type contextKey string

const (
	tenantKeyKey   contextKey = "tenant_key"
	tenantStateKey contextKey = "tenant_state"
)

// TenantKeyFromContext retrieves the derived tenant key for the request.
func TenantKeyFromContext(ctx context.Context) tenant.Key {
	if val, ok := ctx.Value(tenantKeyKey).(tenant.Key); ok {
		return val
	}
	return tenant.Key{}
}

// TenantStateFromContext retrieves the resolved tenant state for the request.
func TenantStateFromContext(ctx context.Context) tenant.State {
	if val, ok := ctx.Value(tenantStateKey).(tenant.State); ok {
		return val
	}
	return tenant.State{}
}
