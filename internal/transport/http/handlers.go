package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bankrail/bankrail/internal/audit"
	"github.com/bankrail/bankrail/internal/guard"
	"github.com/bankrail/bankrail/internal/observability/logger"
	"github.com/bankrail/bankrail/internal/rbac"
	"github.com/bankrail/bankrail/internal/session"
	"github.com/bankrail/bankrail/internal/tenant"
	"github.com/bankrail/bankrail/internal/upstream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxRelayBody = 4 << 20

// Handler holds HTTP handlers and dependencies
type Handler struct {
	sessions    *session.Service
	upstream    *upstream.Client
	tenants     *tenant.Resolver
	tenantStore *tenant.Store
	auditLogger audit.Logger
	validate    *validator.Validate

	sessionConfig SessionConfig
	devOverride   string
	development   bool
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
	CookieMaxAge   int
}

// PortalConfig carries handler-level portal settings.
type PortalConfig struct {
	Session     SessionConfig
	DevOverride string
	Development bool
}

// NewHandler creates a new HTTP handler
func NewHandler(
	sessions *session.Service,
	upstreamClient *upstream.Client,
	tenants *tenant.Resolver,
	tenantStore *tenant.Store,
	auditLogger audit.Logger,
	cfg PortalConfig,
) *Handler {
	return &Handler{
		sessions:      sessions,
		upstream:      upstreamClient,
		tenants:       tenants,
		tenantStore:   tenantStore,
		auditLogger:   auditLogger,
		validate:      validator.New(),
		sessionConfig: cfg.Session,
		devOverride:   cfg.DevOverride,
		development:   cfg.Development,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter, g *guard.Guard) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(SecureMiddleware(h.development))

	r.Get("/health", h.HealthCheck)

	r.Group(func(r chi.Router) {
		r.Use(h.TenantMiddleware)

		r.Post("/auth/login", h.Login)
		r.Post("/auth/super-admin/login", h.SuperAdminLogin)
		r.Post("/auth/logout", h.Logout)
		r.Get("/portal/context", h.PortalContext)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(g.RequireAuth)

			r.Get("/auth/me", h.Me)
			r.Post("/auth/switch-branch", h.SwitchBranch)
			r.Put("/user/profile", h.UpdateProfile)

			// Everything under /api is relayed to the core banking API with
			// credential, tenant and branch stamping applied.
			r.HandleFunc("/api/*", h.Relay)

			r.Group(func(r chi.Router) {
				r.Use(g.RequireRoles(rbac.RoleSuperAdmin))
				r.Post("/super-admin/banks/{bankID}/branches", h.ProvisionBranch)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "bankrail",
	})
}

// sessionView is the client-facing session shape. Tokens never leave the
// portal.
type sessionView struct {
	User            *session.User     `json:"user"`
	IsAuthenticated bool              `json:"isAuthenticated"`
	Permissions     []rbac.Permission `json:"permissions"`
	Branches        []session.Branch  `json:"branches"`
	CurrentBranch   *session.Branch   `json:"currentBranch"`
	ExpiresAt       time.Time         `json:"expiresAt"`
}

func viewOf(sess *session.Session) sessionView {
	return sessionView{
		User:            sess.User,
		IsAuthenticated: sess.IsAuthenticated,
		Permissions:     sess.Permissions,
		Branches:        sess.Branches,
		CurrentBranch:   sess.CurrentBranch,
		ExpiresAt:       sess.ExpiresAt,
	}
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login authenticates against the branch-portal login endpoint.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, "/auth/login")
}

// SuperAdminLogin authenticates against the platform login endpoint.
func (h *Handler) SuperAdminLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, "/auth/super-admin/login")
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, upstreamPath string) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	key := TenantKeyFromContext(r.Context())

	var resp session.LoginResponse
	err := h.upstream.Do(r.Context(), nil, key, upstream.Call{
		Method: http.MethodPost,
		Path:   upstreamPath,
		Body:   req,
	}, &resp)
	if err != nil {
		var upErr *upstream.Error
		if errors.As(err, &upErr) && upErr.Status == http.StatusUnauthorized {
			if h.auditLogger != nil {
				h.auditLogger.Log(r.Context(), audit.Event{
					Type:      audit.TypeLoginFailed,
					TenantID:  key.Subdomain,
					Resource:  req.Email,
					IPAddress: getIPAddress(r),
					UserAgent: r.UserAgent(),
					Metadata:  map[string]any{"reason": "invalid_credentials"},
				})
			}
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		h.respondUpstreamError(w, r, err)
		return
	}

	sess, err := h.sessions.Login(r.Context(), resp, getIPAddress(r), r.UserAgent())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create session", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookie(w, sess.ID)
	respondJSON(w, http.StatusOK, viewOf(sess))
}

// Logout destroys the current session. Safe to call without one.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if id := h.getSessionFromCookie(r); id != "" {
		if err := h.sessions.Logout(r.Context(), id); err != nil {
			slog.ErrorContext(r.Context(), "failed to destroy session", logger.Error(err))
		}
	}
	h.clearSessionCookie(w)

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// Me returns the current session state.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := guard.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	respondJSON(w, http.StatusOK, viewOf(sess))
}

// SwitchBranchRequest selects a new active branch.
type SwitchBranchRequest struct {
	BranchID string `json:"branchId" validate:"required"`
}

// SwitchBranch changes the session's active branch. An ID outside the
// session's branch list leaves the state untouched.
func (h *Handler) SwitchBranch(w http.ResponseWriter, r *http.Request) {
	sess, ok := guard.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req SwitchBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "branchId is required")
		return
	}

	updated, err := h.sessions.SwitchBranch(r.Context(), sess.ID, req.BranchID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.clearSessionCookie(w)
			respondError(w, http.StatusUnauthorized, "session expired")
			return
		}
		slog.ErrorContext(r.Context(), "failed to switch branch", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to switch branch")
		return
	}

	respondJSON(w, http.StatusOK, viewOf(updated))
}

// UpdateProfile pushes a partial profile update upstream and merges it into
// the session on success.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	sess, ok := guard.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var update session.UserUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	key := TenantKeyFromContext(r.Context())
	err := h.upstream.Do(r.Context(), sess, key, upstream.Call{
		Method: http.MethodPut,
		Path:   "/users/me",
		Body:   update,
	}, nil)
	if err != nil {
		h.respondUpstreamError(w, r, err)
		return
	}

	updated, err := h.sessions.UpdateUser(r.Context(), sess.ID, update)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			h.clearSessionCookie(w)
			respondError(w, http.StatusUnauthorized, "session expired")
			return
		}
		slog.ErrorContext(r.Context(), "failed to update profile", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to update profile")
		return
	}

	if h.auditLogger != nil && updated.User != nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:     audit.TypeProfileUpdated,
			ActorID:  updated.User.ID,
			Resource: "user",
		})
	}

	respondJSON(w, http.StatusOK, viewOf(updated))
}

// PortalContext returns the resolved tenant branding for the request origin.
func (h *Handler) PortalContext(w http.ResponseWriter, r *http.Request) {
	key := TenantKeyFromContext(r.Context())
	state := TenantStateFromContext(r.Context())

	respondJSON(w, http.StatusOK, map[string]any{
		"tenant":         state.Tenant,
		"subdomain":      key.Subdomain,
		"isAdminPortal":  key.IsAdminPortal,
		"isBranchPortal": key.IsBranchPortal,
		"isResolved":     state.IsResolved,
		"error":          state.Err,
	})
}

// ProvisionBranchRequest creates a branch under a bank.
type ProvisionBranchRequest struct {
	Name     string `json:"name" validate:"required"`
	Code     string `json:"code" validate:"required"`
	Address  string `json:"address"`
	Phone    string `json:"phone"`
	Currency string `json:"currency"`
}

// ProvisionBranch relays branch creation upstream. Super admin only; the
// router enforces the role.
func (h *Handler) ProvisionBranch(w http.ResponseWriter, r *http.Request) {
	sess, ok := guard.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req ProvisionBranchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "name and code are required")
		return
	}

	bankID := chi.URLParam(r, "bankID")
	key := TenantKeyFromContext(r.Context())

	var branch session.Branch
	err := h.upstream.Do(r.Context(), sess, key, upstream.Call{
		Method: http.MethodPost,
		Path:   "/banks/" + bankID + "/branches",
		Body:   req,
	}, &branch)
	if err != nil {
		h.respondUpstreamError(w, r, err)
		return
	}

	if h.auditLogger != nil && sess.User != nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:     audit.TypeBranchProvisioned,
			ActorID:  sess.User.ID,
			Resource: "branch",
			Metadata: map[string]any{"bank_id": bankID, "code": req.Code},
		})
	}

	respondJSON(w, http.StatusCreated, branch)
}

// Relay forwards a request to the core banking API through the authenticated
// pipeline. The /api prefix is stripped; method, query and body pass through
// unchanged.
func (h *Handler) Relay(w http.ResponseWriter, r *http.Request) {
	sess, ok := guard.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	key := TenantKeyFromContext(r.Context())
	path := strings.TrimPrefix(r.URL.Path, "/api")

	call := upstream.Call{
		Method: r.Method,
		Path:   path,
		Query:  r.URL.Query(),
	}
	if r.Body != nil {
		buf, err := io.ReadAll(io.LimitReader(r.Body, maxRelayBody))
		if err != nil {
			respondError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if len(buf) > 0 {
			call.Body = json.RawMessage(buf)
		}
	}

	var out json.RawMessage
	if err := h.upstream.Do(r.Context(), sess, key, call, &out); err != nil {
		h.respondUpstreamError(w, r, err)
		return
	}

	if len(out) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// respondUpstreamError maps pipeline failures onto portal responses. Terminal
// credential failures clear the cookie and tell the client where to log in
// again; a per-call denial stays a plain 403.
func (h *Handler) respondUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var upErr *upstream.Error

	switch {
	case errors.Is(err, upstream.ErrCredentialExpired), errors.Is(err, upstream.ErrStaleAccount):
		h.clearSessionCookie(w)
		target := guard.LoginPath
		if tenant.IsAdminPath(r.URL.Path) {
			target = guard.SuperAdminLoginPath
		}
		respondJSON(w, http.StatusUnauthorized, map[string]string{
			"error":    "session expired",
			"redirect": target,
		})
	case errors.Is(err, upstream.ErrAuthorizationDenied):
		msg := "forbidden"
		if errors.As(err, &upErr) && upErr.Message != "" {
			msg = upErr.Message
		}
		respondError(w, http.StatusForbidden, msg)
	case errors.Is(err, upstream.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, upstream.ErrUnreachable):
		slog.ErrorContext(r.Context(), "upstream unreachable", logger.Error(err))
		respondError(w, http.StatusBadGateway, "upstream unavailable")
	case errors.As(err, &upErr):
		msg := upErr.Message
		if msg == "" {
			msg = "request failed"
		}
		respondError(w, upErr.Status, msg)
	default:
		slog.ErrorContext(r.Context(), "unexpected upstream failure", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    sessionID,
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: h.sessionConfig.CookieSameSite,
		MaxAge:   h.sessionConfig.CookieMaxAge,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.sessionConfig.CookieName,
		Value:  "",
		Path:   h.sessionConfig.CookiePath,
		Domain: h.sessionConfig.CookieDomain,
		MaxAge: -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
