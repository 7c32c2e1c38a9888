package guard

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/bankrail/bankrail/internal/observability/logger"
	"github.com/bankrail/bankrail/internal/rbac"
	"github.com/bankrail/bankrail/internal/session"
	"github.com/bankrail/bankrail/internal/tenant"
)

// Navigation targets for guard decisions.
const (
	SuperAdminLoginPath = "/auth/super-admin/login"
	LoginPath           = "/auth/login"
	DashboardPath       = "/dashboard"
)

// FromQueryParam carries the originally requested path through a login
// redirect so the client can return after authenticating.
const FromQueryParam = "from"

type ctxKey int

const sessionKey ctxKey = iota

// SessionLoader rehydrates a session by ID.
type SessionLoader interface {
	Get(ctx context.Context, id string) (*session.Session, error)
}

// Guard enforces the three-state access decision on protected routes:
// not ready yet (hold), unauthenticated (redirect to the matching login) or
// authenticated (admit, with optional role and permission checks layered on
// top). It never renders protected content in the first two states.
type Guard struct {
	sessions   SessionLoader
	cookieName string

	// ready reports whether session state has been rehydrated. Until then
	// requests are held rather than misclassified as unauthenticated.
	ready func() bool
}

// New creates a guard reading the session ID from the named cookie.
func New(sessions SessionLoader, cookieName string, ready func() bool) *Guard {
	return &Guard{sessions: sessions, cookieName: cookieName, ready: ready}
}

// RequireAuth admits only authenticated requests. The session is placed in the
// request context for downstream handlers.
func (g *Guard) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.ready != nil && !g.ready() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "session state loading", http.StatusServiceUnavailable)
			return
		}

		sess := g.load(r)
		if sess == nil || !sess.IsAuthenticated {
			RedirectToLogin(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}

// RequireRoles admits only sessions holding one of the given roles. Everyone
// else is sent to the dashboard, not to login: they are authenticated, just
// in the wrong place. Must be nested inside RequireAuth.
func (g *Guard) RequireRoles(roles ...rbac.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := FromContext(r.Context())
			if !ok {
				RedirectToLogin(w, r)
				return
			}
			for _, role := range roles {
				if sess.Role() == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			slog.InfoContext(r.Context(), "role check rejected request",
				logger.Path(r.URL.Path),
				logger.Role(string(sess.Role())))
			http.Redirect(w, r, DashboardPath, http.StatusFound)
		})
	}
}

// RequireAnyPermission admits only sessions granted at least one of the given
// permissions. Must be nested inside RequireAuth.
func (g *Guard) RequireAnyPermission(perms ...rbac.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := FromContext(r.Context())
			if !ok {
				RedirectToLogin(w, r)
				return
			}
			if !sess.HasAnyPermission(perms...) {
				slog.InfoContext(r.Context(), "permission check rejected request",
					logger.Path(r.URL.Path),
					logger.Role(string(sess.Role())))
				http.Redirect(w, r, DashboardPath, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// load resolves the request's session, or nil when there is none.
func (g *Guard) load(r *http.Request) *session.Session {
	cookie, err := r.Cookie(g.cookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	sess, err := g.sessions.Get(r.Context(), cookie.Value)
	if err != nil {
		return nil
	}
	return sess
}

// RedirectToLogin sends the request to the login page matching its path: admin
// paths go to the super-admin login, everything else to the branch login. The
// original path rides along so the client can come back.
func RedirectToLogin(w http.ResponseWriter, r *http.Request) {
	target := LoginPath
	if tenant.IsAdminPath(r.URL.Path) {
		target = SuperAdminLoginPath
	}
	q := url.Values{FromQueryParam: []string{r.URL.Path}}
	http.Redirect(w, r, target+"?"+q.Encode(), http.StatusFound)
}

func withSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// FromContext returns the authenticated session stored by RequireAuth.
func FromContext(ctx context.Context) (*session.Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*session.Session)
	return sess, ok
}
