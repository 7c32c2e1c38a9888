package tenant

import (
	"net"
	"net/url"
	"strings"
)

// DefaultDevSubdomain is the placeholder tenant key used on loopback hosts
// when neither the query parameter nor a persisted override names one.
const DefaultDevSubdomain = "demo"

// DevSubdomainParam is the query parameter that selects a tenant key on
// loopback hosts.
const DevSubdomainParam = "branch"

// adminPathPrefixes classify a request path as belonging to the admin portal.
var adminPathPrefixes = []string{"/auth/super-admin", "/super-admin", "/admin"}

// reservedSubdomains never identify a bank tenant.
var reservedSubdomains = map[string]bool{
	"admin": true,
	"www":   true,
}

// Key classifies a browsing origin. Exactly one of IsAdminPortal and
// IsBranchPortal is true; never both, never neither.
type Key struct {
	Subdomain      string
	IsAdminPortal  bool
	IsBranchPortal bool
	IsLocal        bool
}

// Origin carries the request-derived inputs for key derivation. DevOverride is
// the persisted development override; it only participates on loopback hosts.
type Origin struct {
	Host        string
	Path        string
	Query       url.Values
	DevOverride string
}

// IsAdminPath reports whether path falls under an admin-portal path prefix.
func IsAdminPath(path string) bool {
	for _, prefix := range adminPathPrefixes {
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
	}
	return false
}

// DeriveKey computes the tenant key for an origin. It is a pure function of
// its inputs: the same origin always yields the same key.
func DeriveKey(o Origin) Key {
	host := o.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	adminPath := IsAdminPath(o.Path)

	if isLoopback(host) {
		sub := o.Query.Get(DevSubdomainParam)
		if sub == "" {
			sub = o.DevOverride
		}
		if sub == "" {
			sub = DefaultDevSubdomain
		}
		return Key{
			Subdomain:      sub,
			IsAdminPortal:  adminPath,
			IsBranchPortal: !adminPath,
			IsLocal:        true,
		}
	}

	labels := strings.Split(host, ".")
	if len(labels) <= 2 {
		// No subdomain: the bare platform domain is the admin portal.
		return Key{IsAdminPortal: true}
	}

	sub := labels[0]
	if reservedSubdomains[sub] || adminPath {
		return Key{Subdomain: "", IsAdminPortal: true}
	}
	return Key{Subdomain: sub, IsBranchPortal: true}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
