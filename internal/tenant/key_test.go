package tenant_test

import (
	"net/url"
	"testing"

	"github.com/bankrail/bankrail/internal/tenant"
	"github.com/stretchr/testify/assert"
)

func TestDeriveKey(t *testing.T) {
	tests := []struct {
		name   string
		origin tenant.Origin
		want   tenant.Key
	}{
		{
			name:   "branch portal from leftmost label",
			origin: tenant.Origin{Host: "mybank.platform.example", Path: "/dashboard"},
			want:   tenant.Key{Subdomain: "mybank", IsBranchPortal: true},
		},
		{
			name:   "port is ignored",
			origin: tenant.Origin{Host: "mybank.platform.example:8443", Path: "/"},
			want:   tenant.Key{Subdomain: "mybank", IsBranchPortal: true},
		},
		{
			name:   "admin subdomain is the admin portal",
			origin: tenant.Origin{Host: "admin.platform.example", Path: "/"},
			want:   tenant.Key{IsAdminPortal: true},
		},
		{
			name:   "www is reserved",
			origin: tenant.Origin{Host: "www.platform.example", Path: "/"},
			want:   tenant.Key{IsAdminPortal: true},
		},
		{
			name:   "bare platform domain is the admin portal",
			origin: tenant.Origin{Host: "platform.example", Path: "/dashboard"},
			want:   tenant.Key{IsAdminPortal: true},
		},
		{
			name:   "admin path wins over a tenant subdomain",
			origin: tenant.Origin{Host: "mybank.platform.example", Path: "/super-admin/banks"},
			want:   tenant.Key{IsAdminPortal: true},
		},
		{
			name: "loopback takes the key from the query parameter",
			origin: tenant.Origin{
				Host:  "localhost:3000",
				Path:  "/dashboard",
				Query: url.Values{"branch": []string{"mybank"}},
			},
			want: tenant.Key{Subdomain: "mybank", IsBranchPortal: true, IsLocal: true},
		},
		{
			name: "loopback falls back to the persisted override",
			origin: tenant.Origin{
				Host:        "127.0.0.1",
				Path:        "/dashboard",
				DevOverride: "overridden",
			},
			want: tenant.Key{Subdomain: "overridden", IsBranchPortal: true, IsLocal: true},
		},
		{
			name:   "loopback defaults to the placeholder key",
			origin: tenant.Origin{Host: "localhost", Path: "/dashboard"},
			want:   tenant.Key{Subdomain: tenant.DefaultDevSubdomain, IsBranchPortal: true, IsLocal: true},
		},
		{
			name:   "loopback classifies admin by path prefix",
			origin: tenant.Origin{Host: "localhost", Path: "/auth/super-admin/login"},
			want:   tenant.Key{Subdomain: tenant.DefaultDevSubdomain, IsAdminPortal: true, IsLocal: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tenant.DeriveKey(tt.origin)
			assert.Equal(t, tt.want, got)

			// Derivation is pure: the same origin yields the same key.
			assert.Equal(t, got, tenant.DeriveKey(tt.origin))

			// Exactly one classification holds.
			assert.True(t, got.IsAdminPortal != got.IsBranchPortal,
				"admin XOR branch must hold")
		})
	}
}

func TestIsAdminPath(t *testing.T) {
	assert.True(t, tenant.IsAdminPath("/admin"))
	assert.True(t, tenant.IsAdminPath("/admin/banks"))
	assert.True(t, tenant.IsAdminPath("/auth/super-admin/login"))
	assert.False(t, tenant.IsAdminPath("/administrators"))
	assert.False(t, tenant.IsAdminPath("/dashboard"))
}
