package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bankrail/bankrail/internal/audit"
	"github.com/bankrail/bankrail/internal/observability/logger"
	"github.com/bankrail/bankrail/internal/observability/metrics"
	"github.com/bankrail/bankrail/internal/session"
	"github.com/bankrail/bankrail/internal/tenant"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// Request headers stamped onto every outbound call.
const (
	HeaderTenant = "X-Tenant-Id"
	HeaderBranch = "X-Branch-Id"
)

const maxResponseBody = 4 << 20

// staleAccountMarkers are the upstream error messages that mean the
// authenticated account no longer exists or has been deactivated. Matching is
// case-insensitive substring.
var staleAccountMarkers = []string{
	"account no longer exists",
	"account is inactive",
	"account has been deactivated",
	"user not found",
}

// Call describes one upstream request. Header entries set here are explicit
// and always win over the client's automatic stamping.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
	Header http.Header
}

// Client is the single chokepoint between the portal and the core banking
// API. It stamps credentials and scoping headers, unwraps response envelopes
// and owns the silent token refresh. Handlers never talk to the upstream
// directly.
type Client struct {
	base        *url.URL
	httpClient  *http.Client
	sessions    *session.Service
	auditLogger audit.Logger

	// refreshGroup coalesces concurrent refresh attempts per session, so a
	// burst of 401s spends the refresh token exactly once.
	refreshGroup singleflight.Group

	latency   metric.Float64Histogram
	refreshes metric.Int64Counter
}

// New creates an upstream client for the given base URL.
func New(baseURL string, timeout time.Duration, sessions *session.Service, auditLogger audit.Logger, meter *metrics.Meter) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream base URL: %w", err)
	}

	if meter == nil {
		meter = metrics.New(metrics.Config{}, "bankrail")
	}
	latency, err := meter.CreateHistogram("upstream.request.duration",
		"Upstream request duration in seconds", "s")
	if err != nil {
		return nil, err
	}
	refreshes, err := meter.CreateCounter("upstream.token.refreshes",
		"Silent token refresh attempts")
	if err != nil {
		return nil, err
	}

	return &Client{
		base: base,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		sessions:    sessions,
		auditLogger: auditLogger,
		latency:     latency,
		refreshes:   refreshes,
	}, nil
}

// Do performs one authenticated upstream call and decodes the (unwrapped)
// response payload into out. A nil session makes an unauthenticated call.
//
// A 401 on an authenticated call triggers exactly one silent refresh and
// replay. Every terminal credential failure tears the session down before
// returning, so callers only need to map the sentinel to a redirect.
func (c *Client) Do(ctx context.Context, sess *session.Session, key tenant.Key, call Call, out any) error {
	return c.do(ctx, sess, key, call, out, 1)
}

func (c *Client) do(ctx context.Context, sess *session.Session, key tenant.Key, call Call, out any, retryBudget int) error {
	req, err := c.newRequest(ctx, sess, key, call)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.WarnContext(ctx, "upstream request failed",
			logger.Method(call.Method),
			logger.Upstream(call.Path),
			logger.Error(err))
		return fmt.Errorf("%w: %s %s: %v", ErrUnreachable, call.Method, call.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnreachable, err)
	}

	c.latency.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("method", call.Method),
			attribute.String("path", call.Path),
			attribute.Int("status", resp.StatusCode),
		))

	if resp.StatusCode == http.StatusUnauthorized && sess != nil {
		if retryBudget > 0 {
			token, rerr := c.refreshToken(ctx, sess)
			if rerr == nil {
				sess.Token = token
				return c.do(ctx, sess, key, call, out, retryBudget-1)
			}
		}
		// Refresh failed or the replayed call was rejected again.
		c.forceLogout(ctx, sess, "credential expired")
		return newError(resp.StatusCode, errorMessage(body), ErrCredentialExpired)
	}

	msg := errorMessage(body)
	if resp.StatusCode >= http.StatusBadRequest && isStaleAccount(msg) {
		if sess != nil {
			c.forceLogout(ctx, sess, msg)
		}
		return newError(resp.StatusCode, msg, ErrStaleAccount)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return newError(resp.StatusCode, msg, ErrCredentialExpired)
	case resp.StatusCode == http.StatusForbidden:
		slog.WarnContext(ctx, "upstream denied request",
			logger.Method(call.Method),
			logger.Upstream(call.Path))
		return newError(resp.StatusCode, msg, ErrAuthorizationDenied)
	case resp.StatusCode == http.StatusNotFound:
		return newError(resp.StatusCode, msg, ErrNotFound)
	case resp.StatusCode >= http.StatusBadRequest:
		return newError(resp.StatusCode, msg, nil)
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrapEnvelope(body), out); err != nil {
		return fmt.Errorf("failed to decode upstream response: %w", err)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, sess *session.Session, key tenant.Key, call Call) (*http.Request, error) {
	u := c.base.JoinPath(call.Path)
	if len(call.Query) > 0 {
		u.RawQuery = call.Query.Encode()
	}

	var reqBody io.Reader
	if call.Body != nil {
		buf, err := json.Marshal(call.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	for k, vs := range call.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if sess != nil && sess.Token != "" {
		req.Header.Set("Authorization", "Bearer "+sess.Token)
	}

	// The tenant header only rides along on branch-portal traffic; the admin
	// portal is tenant-free.
	if key.IsBranchPortal && key.Subdomain != "" && req.Header.Get(HeaderTenant) == "" {
		req.Header.Set(HeaderTenant, key.Subdomain)
	}

	// Branch scoping defaults to the session's active branch, but never for
	// super admins and never over an explicit per-call value.
	if sess != nil && !sess.IsSuperAdmin() && sess.CurrentBranch != nil &&
		req.Header.Get(HeaderBranch) == "" {
		req.Header.Set(HeaderBranch, sess.CurrentBranch.ID)
	}

	return req, nil
}

// refreshToken trades the session's refresh token for a fresh access token
// and persists it. Concurrent callers for the same session share one flight.
func (c *Client) refreshToken(ctx context.Context, sess *session.Session) (string, error) {
	v, err, _ := c.refreshGroup.Do(sess.ID, func() (any, error) {
		c.refreshes.Add(ctx, 1)

		if sess.RefreshToken == "" {
			return nil, errors.New("no refresh token")
		}

		var out struct {
			Token string `json:"token"`
		}
		call := Call{
			Method: http.MethodPost,
			Path:   "/auth/refresh",
			Body:   map[string]string{"refreshToken": sess.RefreshToken},
		}
		// No session and no retry budget: a failing refresh must not recurse.
		if err := c.do(ctx, nil, tenant.Key{}, call, &out, 0); err != nil {
			return nil, err
		}
		if out.Token == "" {
			return nil, errors.New("refresh response carried no token")
		}

		if err := c.sessions.ReplaceToken(ctx, sess.ID, out.Token); err != nil {
			return nil, err
		}
		return out.Token, nil
	})
	if err != nil {
		slog.WarnContext(ctx, "token refresh failed",
			logger.SessionID(sess.ID),
			logger.Error(err))
		if c.auditLogger != nil && sess.User != nil {
			c.auditLogger.Log(ctx, audit.Event{
				Type:     audit.TypeRefreshFailed,
				ActorID:  sess.User.ID,
				Resource: "session",
			})
		}
		return "", err
	}

	if c.auditLogger != nil && sess.User != nil {
		c.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeTokenRefreshed,
			ActorID:  sess.User.ID,
			Resource: "session",
		})
	}
	return v.(string), nil
}

// forceLogout tears the session down after a terminal credential failure.
func (c *Client) forceLogout(ctx context.Context, sess *session.Session, reason string) {
	if err := c.sessions.Logout(ctx, sess.ID); err != nil {
		slog.ErrorContext(ctx, "failed to clear session",
			logger.SessionID(sess.ID),
			logger.Error(err))
	}
	if c.auditLogger != nil && sess.User != nil {
		c.auditLogger.Log(ctx, audit.Event{
			Type:     audit.TypeForcedLogout,
			ActorID:  sess.User.ID,
			Resource: "session",
			Metadata: map[string]any{"reason": reason},
		})
	}
}

// LookupBank resolves a tenant subdomain against the upstream directory.
// Implements tenant.Directory.
func (c *Client) LookupBank(ctx context.Context, subdomain string) (*tenant.Bank, error) {
	call := Call{
		Method: http.MethodGet,
		Path:   "/tenants/lookup",
		Header: http.Header{HeaderTenant: []string{subdomain}},
	}

	var bank tenant.Bank
	err := c.Do(ctx, nil, tenant.Key{}, call, &bank)
	if errors.Is(err, ErrNotFound) {
		return nil, tenant.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &bank, nil
}

// unwrapEnvelope strips the {"success": ..., "data": ...} wrapper when
// present; bare payloads pass through untouched.
func unwrapEnvelope(body []byte) []byte {
	var env struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Success != nil && env.Data != nil {
		return env.Data
	}
	return body
}

// errorMessage extracts a human-readable message from an error payload.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}

func isStaleAccount(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range staleAccountMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
