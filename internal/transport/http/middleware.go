package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bankrail/bankrail/internal/observability/logger"
	"github.com/bankrail/bankrail/internal/tenant"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/unrolled/secure"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// SecureMiddleware applies browser security headers to every response.
func SecureMiddleware(isDevelopment bool) func(http.Handler) http.Handler {
	sec := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "frame-ancestors 'none'",
		IsDevelopment:         isDevelopment,
	})
	return sec.Handler
}

// TenantMiddleware derives the tenant key from the request origin and resolves
// it before any handler runs. Admin-portal requests pass through without a
// lookup. A branch-portal request against an unknown or deactivated bank never
// reaches a handler.
func (h *Handler) TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := tenant.DeriveKey(tenant.Origin{
			Host:        r.Host,
			Path:        r.URL.Path,
			Query:       r.URL.Query(),
			DevOverride: h.devOverride,
		})

		if err := h.tenants.Resolve(r.Context(), key); err != nil {
			switch {
			case errors.Is(err, tenant.ErrNotFound):
				respondError(w, http.StatusNotFound, "bank not found")
			case errors.Is(err, tenant.ErrInactive):
				respondError(w, http.StatusForbidden, "bank is inactive")
			default:
				slog.ErrorContext(r.Context(), "tenant resolution failed",
					logger.Subdomain(key.Subdomain),
					logger.Error(err))
				respondError(w, http.StatusBadGateway, "tenant resolution failed")
			}
			return
		}

		state := h.tenantStore.State()
		if key.IsBranchPortal && !state.IsResolved {
			// A lookup started by a concurrent request has not finished yet.
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusServiceUnavailable, "tenant resolution in progress")
			return
		}

		ctx := context.WithValue(r.Context(), tenantKeyKey, key)
		ctx = context.WithValue(ctx, tenantStateKey, state)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
