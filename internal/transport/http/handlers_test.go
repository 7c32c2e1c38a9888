package http_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bankrail/bankrail/internal/audit"
	"github.com/bankrail/bankrail/internal/guard"
	"github.com/bankrail/bankrail/internal/session"
	"github.com/bankrail/bankrail/internal/tenant"
	transport "github.com/bankrail/bankrail/internal/transport/http"
	"github.com/bankrail/bankrail/internal/upstream"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cookieName = "bankrail_session"

type env struct {
	router   *chi.Mux
	sessions *session.Service

	lookups    atomic.Int32
	lastHeader atomic.Pointer[http.Header]
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{}

	mux := http.NewServeMux()
	mux.HandleFunc("/tenants/lookup", func(w http.ResponseWriter, r *http.Request) {
		e.lookups.Add(1)
		switch r.Header.Get(upstream.HeaderTenant) {
		case "mybank":
			w.Write([]byte(`{"success":true,"data":{"id":"bank-1","name":"My Bank","subdomain":"mybank","logo_url":"https://cdn.example/mybank.png","active":true}}`))
		case "deadbank":
			w.Write([]byte(`{"success":true,"data":{"id":"bank-2","name":"Dead Bank","subdomain":"deadbank","active":false}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"success":false,"message":"bank not found"}`))
		}
	})
	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var creds struct{ Email, Password string }
		json.NewDecoder(r.Body).Decode(&creds)
		if creds.Email != "asha@mybank.example" || creds.Password != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"success":false,"message":"invalid credentials"}`))
			return
		}
		w.Write([]byte(`{"success":true,"data":{
			"user":{"id":"user-1","name":"Asha Verma","email":"asha@mybank.example","role":"manager"},
			"token":"access-token","refreshToken":"refresh-token",
			"branches":[{"id":"br-1","name":"Head Office","code":"HO"},{"id":"br-2","name":"North Branch","code":"NB"}]}}`))
	})
	mux.HandleFunc("/auth/super-admin/login", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":{
			"user":{"id":"root-1","name":"Platform Root","role":"super_admin","is_super_admin":true},
			"token":"root-token","refreshToken":"root-refresh"}}`))
	})
	mux.HandleFunc("/customers", func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Clone()
		e.lastHeader.Store(&h)
		w.Write([]byte(`{"success":true,"data":[{"id":"cust-1","name":"Dev Sharma"}]}`))
	})
	mux.HandleFunc("/customers/stale", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success":false,"message":"Account is inactive"}`))
	})
	mux.HandleFunc("/users/me", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	})
	mux.HandleFunc("/banks/bank-1/branches", func(w http.ResponseWriter, r *http.Request) {
		h := r.Header.Clone()
		e.lastHeader.Store(&h)
		w.Write([]byte(`{"success":true,"data":{"id":"br-9","name":"East Branch","code":"EB"}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	e.sessions = session.NewService(session.NewMemoryRepository(), time.Hour, nil)
	client, err := upstream.New(srv.URL, 5*time.Second, e.sessions, nil, nil)
	require.NoError(t, err)

	store := tenant.NewStore(tenant.NewMemorySnapshotRepository())
	resolver := tenant.NewResolver(store, client, nil)

	h := transport.NewHandler(e.sessions, client, resolver, store, audit.NewSlogLogger(),
		transport.PortalConfig{
			Session: transport.SessionConfig{
				CookieName:     cookieName,
				CookiePath:     "/",
				CookieHTTPOnly: true,
				CookieSameSite: http.SameSiteLaxMode,
				CookieMaxAge:   86400,
			},
			Development: true,
		})
	g := guard.New(e.sessions, cookieName, nil)
	e.router = transport.NewRouter(h, transport.NewRateLimiter(100, 200), g)
	return e
}

func (e *env) do(method, url, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func login(t *testing.T, e *env) *http.Cookie {
	t.Helper()
	rec := e.do(http.MethodPost, "http://mybank.bankrail.test/auth/login",
		`{"email":"asha@mybank.example","password":"s3cret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return sessionCookie(t, rec)
}

func TestLoginSetsSessionCookie(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "http://mybank.bankrail.test/auth/login",
		`{"email":"asha@mybank.example","password":"s3cret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)

	var view struct {
		IsAuthenticated bool             `json:"isAuthenticated"`
		CurrentBranch   *session.Branch  `json:"currentBranch"`
		Branches        []session.Branch `json:"branches"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.True(t, view.IsAuthenticated)
	require.NotNil(t, view.CurrentBranch)
	assert.Equal(t, "br-1", view.CurrentBranch.ID)

	// Tokens never appear in client-facing payloads.
	assert.NotContains(t, rec.Body.String(), "access-token")
	assert.NotContains(t, rec.Body.String(), "refresh-token")
}

func TestLoginInvalidCredentials(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "http://mybank.bankrail.test/auth/login",
		`{"email":"asha@mybank.example","password":"wrong"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginValidation(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodPost, "http://mybank.bankrail.test/auth/login",
		`{"email":"not-an-email","password":"s3cret"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownBankIsNotFound(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "http://ghost.bankrail.test/portal/context", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInactiveBankIsForbidden(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "http://deadbank.bankrail.test/portal/context", "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAdminPortalSkipsTenantLookup(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "http://bankrail.test/portal/context", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(0), e.lookups.Load())

	var ctx struct {
		IsAdminPortal bool `json:"isAdminPortal"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ctx))
	assert.True(t, ctx.IsAdminPortal)
}

func TestPortalContextCarriesBranding(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "http://mybank.bankrail.test/portal/context", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ctx struct {
		Tenant     *tenant.Context `json:"tenant"`
		IsResolved bool            `json:"isResolved"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ctx))
	assert.True(t, ctx.IsResolved)
	require.NotNil(t, ctx.Tenant)
	assert.Equal(t, "My Bank", ctx.Tenant.Name)
}

func TestResolutionIsMemoizedPerKey(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 3; i++ {
		rec := e.do(http.MethodGet, "http://mybank.bankrail.test/portal/context", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, int32(1), e.lookups.Load())
}

func TestDevQueryParamSelectsTenant(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "http://localhost:3000/portal/context?branch=mybank", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var ctx struct {
		Subdomain  string `json:"subdomain"`
		IsResolved bool   `json:"isResolved"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ctx))
	assert.Equal(t, "mybank", ctx.Subdomain)
	assert.True(t, ctx.IsResolved)
}

func TestMeRequiresSession(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "http://mybank.bankrail.test/auth/me", "", nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), guard.LoginPath)
}

func TestMeReturnsSessionState(t *testing.T) {
	e := newEnv(t)
	cookie := login(t, e)

	rec := e.do(http.MethodGet, "http://mybank.bankrail.test/auth/me", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		User *session.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotNil(t, view.User)
	assert.Equal(t, "user-1", view.User.ID)
}

func TestRelayStampsPipelineHeaders(t *testing.T) {
	e := newEnv(t)
	cookie := login(t, e)

	rec := e.do(http.MethodGet, "http://mybank.bankrail.test/api/customers", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":"cust-1","name":"Dev Sharma"}]`, rec.Body.String(),
		"relay strips the upstream envelope")

	got := e.lastHeader.Load()
	require.NotNil(t, got)
	assert.Equal(t, "Bearer access-token", got.Get("Authorization"))
	assert.Equal(t, "mybank", got.Get(upstream.HeaderTenant))
	assert.Equal(t, "br-1", got.Get(upstream.HeaderBranch))
}

func TestRelayStaleAccountForcesLogout(t *testing.T) {
	e := newEnv(t)
	cookie := login(t, e)

	rec := e.do(http.MethodGet, "http://mybank.bankrail.test/api/customers/stale", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), guard.LoginPath)

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName && c.Value == "" && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "session cookie must be cleared")

	// The session is gone server-side too.
	rec = e.do(http.MethodGet, "http://mybank.bankrail.test/auth/me", "", cookie)
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestSwitchBranchEndpoint(t *testing.T) {
	e := newEnv(t)
	cookie := login(t, e)

	rec := e.do(http.MethodPost, "http://mybank.bankrail.test/auth/switch-branch",
		`{"branchId":"br-2"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		CurrentBranch *session.Branch `json:"currentBranch"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotNil(t, view.CurrentBranch)
	assert.Equal(t, "br-2", view.CurrentBranch.ID)

	rec = e.do(http.MethodPost, "http://mybank.bankrail.test/auth/switch-branch", `{}`, cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProfileEndpoint(t *testing.T) {
	e := newEnv(t)
	cookie := login(t, e)

	rec := e.do(http.MethodPut, "http://mybank.bankrail.test/user/profile",
		`{"phone":"+91-98765-43210"}`, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		User *session.User `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotNil(t, view.User)
	assert.Equal(t, "+91-98765-43210", view.User.Phone)
	assert.Equal(t, "Asha Verma", view.User.Name)
}

func TestProvisionBranchRequiresSuperAdmin(t *testing.T) {
	e := newEnv(t)
	cookie := login(t, e)

	rec := e.do(http.MethodPost, "http://bankrail.test/super-admin/banks/bank-1/branches",
		`{"name":"East Branch","code":"EB"}`, cookie)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, guard.DashboardPath, rec.Header().Get("Location"))
}

func TestProvisionBranchAsSuperAdmin(t *testing.T) {
	e := newEnv(t)

	rec := e.do(http.MethodPost, "http://bankrail.test/auth/super-admin/login",
		`{"email":"root@bankrail.example","password":"s3cret"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cookie := sessionCookie(t, rec)

	rec = e.do(http.MethodPost, "http://bankrail.test/super-admin/banks/bank-1/branches",
		`{"name":"East Branch","code":"EB"}`, cookie)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var branch session.Branch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &branch))
	assert.Equal(t, "br-9", branch.ID)

	// Super admin calls carry no default branch scoping.
	got := e.lastHeader.Load()
	require.NotNil(t, got)
	assert.Empty(t, got.Get(upstream.HeaderBranch))
}

func TestLogoutClearsCookie(t *testing.T) {
	e := newEnv(t)
	cookie := login(t, e)

	rec := e.do(http.MethodPost, "http://mybank.bankrail.test/auth/logout", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(http.MethodGet, "http://mybank.bankrail.test/auth/me", "", cookie)
	assert.Equal(t, http.StatusFound, rec.Code)

	// Logout without a session is fine.
	rec = e.do(http.MethodPost, "http://mybank.bankrail.test/auth/logout", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	e := newEnv(t)
	rec := e.do(http.MethodGet, "http://bankrail.test/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
