package api_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeilh/rakh-auth/auth"
	"github.com/adeilh/rakh-auth/cache/memory"
	"github.com/adeilh/rakh-auth/httpx"
	"github.com/adeilh/rakh-auth/internal/api"
	"github.com/adeilh/rakh-auth/internal/metrics"
)

const (
	alice         = "alice@example.com"
	alicePassword = "Al1ce-Secret"
	admin         = "admin@example.com"
	adminPassword = "Adm1n-Secret"
)

type testEnv struct {
	client  *httpx.Client
	manager *auth.Manager
	probe   error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m, err := auth.NewManager(auth.ManagerConfig{
		Secret:         []byte("api-test-secret"),
		UserRepository: auth.NewMemoryUserRepository(),
		PasswordHasher: auth.NewBcryptHasher(4),
		Revocations:    memory.New(),
		Logger:         logger,
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.Users().CreateUser(ctx, alice, []byte(alicePassword), nil)
	require.NoError(t, err)
	_, err = m.Users().CreateUser(ctx, admin, []byte(adminPassword), []auth.Role{auth.RoleAdmin})
	require.NoError(t, err)

	env := &testEnv{manager: m}
	h, err := api.New(api.Config{
		Manager: m,
		Metrics: metrics.New(),
		Logger:  logger,
		Probes: map[string]api.Probe{
			"users": func(context.Context) error { return env.probe },
		},
	})
	require.NoError(t, err)

	srv := httpx.NewServer(httpx.WithLogger(logger))
	srv.RegisterRoutes(h.Register)
	ts := httpx.NewServerTestServer(srv)
	t.Cleanup(ts.Close)

	env.client = ts.Client(httpx.WithCookieJar(nil))
	return env
}

func (e *testEnv) login(t *testing.T, user, password string, cookies ...*http.Cookie) (*resty.Response, auth.Outcome, error) {
	t.Helper()
	var out auth.Outcome
	resp, err := e.client.Post(context.Background(), "/login",
		auth.Credentials{Username: user, Password: password}, &out, httpx.WithCookies(cookies...))
	return resp, out, err
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestLoginIssuesBothCookies(t *testing.T) {
	env := newTestEnv(t)

	resp, out, err := env.login(t, alice, alicePassword)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())
	assert.Equal(t, auth.Outcome{Status: auth.StatusSuccess, Message: "Auth successful. Tokens are created in cookie."}, out)

	headers := resp.Header().Values("Set-Cookie")
	require.Len(t, headers, 2)
	for _, h := range headers {
		assert.Contains(t, h, "HttpOnly")
		assert.Contains(t, h, "Path=/")
		assert.NotContains(t, h, "Max-Age")
	}
	assert.NotNil(t, findCookie(resp.Cookies(), auth.AccessTokenCookie))
	assert.NotNil(t, findCookie(resp.Cookies(), auth.RefreshTokenCookie))
	assert.NotContains(t, resp.String(), "Cookies")
}

func TestLoginWithValidRefreshOnlyIssuesAccess(t *testing.T) {
	env := newTestEnv(t)
	first, _, err := env.login(t, alice, alicePassword)
	require.NoError(t, err)

	refresh := findCookie(first.Cookies(), auth.RefreshTokenCookie)
	resp, _, err := env.login(t, alice, alicePassword, refresh)
	require.NoError(t, err)
	require.Len(t, resp.Cookies(), 1)
	assert.Equal(t, auth.AccessTokenCookie, resp.Cookies()[0].Name)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	for _, creds := range [][2]string{{alice, "Wr0ng-password"}, {"nobody@example.com", alicePassword}, {"", ""}} {
		resp, out, err := env.login(t, creds[0], creds[1])
		require.Error(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
		assert.Empty(t, resp.Header().Values("Set-Cookie"))
		assert.Empty(t, out.Status)
		assert.Contains(t, resp.String(), api.MessageBadCredentials)
	}
}

func TestLoginRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	resp, err := env.client.Post(context.Background(), "/login", "{not json", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode())
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)
	login, _, err := env.login(t, alice, alicePassword)
	require.NoError(t, err)

	var out auth.Outcome
	resp, err := env.client.Post(context.Background(), "/refresh", nil, &out,
		httpx.WithCookies(findCookie(login.Cookies(), auth.RefreshTokenCookie)))
	require.NoError(t, err)
	assert.Equal(t, auth.StatusSuccess, out.Status)
	require.Len(t, resp.Cookies(), 1)
	assert.Equal(t, auth.AccessTokenCookie, resp.Cookies()[0].Name)
}

func TestRefreshFailureIsStill200(t *testing.T) {
	env := newTestEnv(t)
	login, _, err := env.login(t, alice, alicePassword)
	require.NoError(t, err)
	access := findCookie(login.Cookies(), auth.AccessTokenCookie)

	cases := map[string][]*http.Cookie{
		"no cookie":         nil,
		"garbage":           {{Name: auth.RefreshTokenCookie, Value: "garbage"}},
		"access as refresh": {{Name: auth.RefreshTokenCookie, Value: access.Value}},
	}
	for name, cookies := range cases {
		t.Run(name, func(t *testing.T) {
			var out auth.Outcome
			resp, err := env.client.Post(context.Background(), "/refresh", nil, &out, httpx.WithCookies(cookies...))
			require.NoError(t, err)
			assert.Equal(t, http.StatusOK, resp.StatusCode())
			assert.Equal(t, auth.Outcome{Status: auth.StatusFailure, Message: "Invalid refresh token!"}, out)
			assert.Empty(t, resp.Header().Values("Set-Cookie"))
		})
	}
}

func TestLogoutEchoesEveryCookie(t *testing.T) {
	env := newTestEnv(t)
	login, _, err := env.login(t, alice, alicePassword)
	require.NoError(t, err)

	cookies := append(login.Cookies(), &http.Cookie{Name: "theme", Value: "dark"})
	var out auth.Outcome
	resp, err := env.client.Post(context.Background(), "/logout", nil, &out, httpx.WithCookies(cookies...))
	require.NoError(t, err)
	assert.Equal(t, auth.Outcome{Status: auth.StatusSuccess, Message: "logout successfully"}, out)

	headers := resp.Header().Values("Set-Cookie")
	require.Len(t, headers, 3)
	for _, h := range headers {
		assert.Contains(t, h, "Max-Age=0")
	}
	for _, c := range cookies {
		got := findCookie(resp.Cookies(), c.Name)
		require.NotNil(t, got, c.Name)
		assert.Empty(t, got.Value)
	}

	// The presented tokens are now revoked.
	var refreshed auth.Outcome
	_, err = env.client.Post(context.Background(), "/refresh", nil, &refreshed,
		httpx.WithCookies(findCookie(login.Cookies(), auth.RefreshTokenCookie)))
	require.NoError(t, err)
	assert.Equal(t, auth.StatusFailure, refreshed.Status)

	me, err := env.client.Get(context.Background(), "/me", nil,
		httpx.WithCookies(findCookie(login.Cookies(), auth.AccessTokenCookie)))
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, me.StatusCode())
}

func TestLogoutWithoutCookies(t *testing.T) {
	env := newTestEnv(t)
	var out auth.Outcome
	resp, err := env.client.Post(context.Background(), "/logout", nil, &out)
	require.NoError(t, err)
	assert.Equal(t, auth.StatusSuccess, out.Status)
	assert.Empty(t, resp.Header().Values("Set-Cookie"))
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	login, _, err := env.login(t, alice, alicePassword)
	require.NoError(t, err)

	var body struct {
		Subject string   `json:"subject"`
		Roles   []string `json:"roles"`
	}
	_, err = env.client.Get(context.Background(), "/me", &body,
		httpx.WithCookies(findCookie(login.Cookies(), auth.AccessTokenCookie)))
	require.NoError(t, err)
	assert.Equal(t, alice, body.Subject)
	assert.Equal(t, []string{"USER"}, body.Roles)

	resp, err := env.client.Get(context.Background(), "/me", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())
}

func TestAdminRoutes(t *testing.T) {
	env := newTestEnv(t)
	userLogin, _, err := env.login(t, alice, alicePassword)
	require.NoError(t, err)
	adminLogin, _, err := env.login(t, admin, adminPassword)
	require.NoError(t, err)
	userAccess := findCookie(userLogin.Cookies(), auth.AccessTokenCookie)
	adminAccess := findCookie(adminLogin.Cookies(), auth.AccessTokenCookie)

	resp, err := env.client.Get(context.Background(), "/admin/users/"+alice, nil, httpx.WithCookies(userAccess))
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode())

	var user struct {
		Email   string `json:"email"`
		Enabled bool   `json:"enabled"`
	}
	_, err = env.client.Get(context.Background(), "/admin/users/"+alice, &user, httpx.WithCookies(adminAccess))
	require.NoError(t, err)
	assert.Equal(t, alice, user.Email)
	assert.True(t, user.Enabled)

	resp, err = env.client.Get(context.Background(), "/admin/users/ghost@example.com", nil, httpx.WithCookies(adminAccess))
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode())

	_, err = env.client.Post(context.Background(), "/admin/users/"+alice+"/disable", nil, &user, httpx.WithCookies(adminAccess))
	require.NoError(t, err)
	assert.False(t, user.Enabled)

	// A disabled account can no longer refresh or log in.
	var out auth.Outcome
	_, err = env.client.Post(context.Background(), "/refresh", nil, &out,
		httpx.WithCookies(findCookie(userLogin.Cookies(), auth.RefreshTokenCookie)))
	require.NoError(t, err)
	assert.Equal(t, auth.StatusFailure, out.Status)
	resp, _, _ = env.login(t, alice, alicePassword)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode())

	_, err = env.client.Post(context.Background(), "/admin/users/"+alice+"/enable", nil, &user, httpx.WithCookies(adminAccess))
	require.NoError(t, err)
	assert.True(t, user.Enabled)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	var body map[string]any
	resp, err := env.client.Get(context.Background(), "/healthz", &body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode())

	env.probe = errors.New("db unreachable")
	resp, err = env.client.Get(context.Background(), "/healthz", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode())
	assert.Contains(t, resp.String(), "db unreachable")
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	_, _, err := env.login(t, alice, alicePassword)
	require.NoError(t, err)
	_, _, _ = env.login(t, alice, "Wr0ng-password")

	resp, err := env.client.Get(context.Background(), "/metrics", nil)
	require.NoError(t, err)
	body := resp.String()
	assert.True(t, strings.Contains(body, `rakh_auth_login_total{outcome="success"} 1`), body)
	assert.True(t, strings.Contains(body, `rakh_auth_login_total{outcome="unauthorized"} 1`), body)
	assert.True(t, strings.Contains(body, `rakh_auth_cookies_issued_total{name="RefreshToken"} 1`), body)
}

func TestNewRequiresManager(t *testing.T) {
	_, err := api.New(api.Config{})
	require.Error(t, err)
}
