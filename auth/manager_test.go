package auth_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeilh/rakh-auth/auth"
	"github.com/adeilh/rakh-auth/cache/memory"
)

func newTestManager(t *testing.T, now *time.Time, pub auth.EventPublisher) *auth.Manager {
	t.Helper()
	m, err := auth.NewManager(auth.ManagerConfig{
		Secret:         testSecret,
		KeyDigest:      auth.DigestSHA256,
		UserRepository: auth.NewMemoryUserRepository(),
		PasswordHasher: auth.NewBcryptHasher(4),
		Revocations:    memory.New(),
		Events:         pub,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:            func() time.Time { return *now },
	})
	require.NoError(t, err)
	_, err = m.Users().CreateUser(context.Background(), alice, []byte(alicePassword), nil)
	require.NoError(t, err)
	return m
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestNewManagerValidation(t *testing.T) {
	_, err := auth.NewManager(auth.ManagerConfig{Secret: testSecret})
	require.Error(t, err)

	_, err = auth.NewManager(auth.ManagerConfig{
		Secret:         testSecret,
		KeyDigest:      "CRC32",
		UserRepository: auth.NewMemoryUserRepository(),
		PasswordHasher: auth.NewBcryptHasher(4),
	})
	require.ErrorIs(t, err, auth.ErrUnknownDigest)

	_, err = auth.NewManager(auth.ManagerConfig{
		Secret:           testSecret,
		SigningAlgorithm: "RS256",
		UserRepository:   auth.NewMemoryUserRepository(),
		PasswordHasher:   auth.NewBcryptHasher(4),
	})
	require.ErrorIs(t, err, auth.ErrJWTUnsupportedAlgo)
}

func TestManagerLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now, nil)

	login, err := m.Login(ctx, auth.Credentials{Username: alice, Password: alicePassword}, "", "")
	require.NoError(t, err)
	require.Len(t, login.Cookies, 2)
	access := cookieByName(login.Cookies, auth.AccessTokenCookie)
	refresh := cookieByName(login.Cookies, auth.RefreshTokenCookie)
	require.NotNil(t, access)
	require.NotNil(t, refresh)

	p, err := m.Authenticator().Authenticate(ctx, access.Value)
	require.NoError(t, err)
	assert.Equal(t, alice, p.Subject)

	// Access token expires, refresh token is still good.
	now = now.Add(auth.DefaultAccessTokenTTL)
	_, err = m.Authenticator().Authenticate(ctx, access.Value)
	require.ErrorIs(t, err, auth.ErrTokenExpired)

	renewed := m.Refresh(ctx, refresh.Value)
	require.Equal(t, auth.StatusSuccess, renewed.Status)
	require.Len(t, renewed.Cookies, 1)
	newAccess := renewed.Cookies[0]

	// Logging in again with a valid refresh but stale access keeps the refresh.
	relogin, err := m.Login(ctx, auth.Credentials{Username: alice, Password: alicePassword}, access.Value, refresh.Value)
	require.NoError(t, err)
	assert.Len(t, relogin.Cookies, 1)

	out := m.Logout(ctx, []*http.Cookie{newAccess, refresh})
	assert.Equal(t, auth.StatusSuccess, out.Status)
	assert.Len(t, out.Cookies, 2)

	_, err = m.Authenticator().Authenticate(ctx, newAccess.Value)
	require.ErrorIs(t, err, auth.ErrTokenRevoked)
	assert.Equal(t, auth.StatusFailure, m.Refresh(ctx, refresh.Value).Status)
}

func TestManagerRefreshAfterDisable(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := newTestManager(t, &now, nil)

	login, err := m.Login(ctx, auth.Credentials{Username: alice, Password: alicePassword}, "", "")
	require.NoError(t, err)
	_, err = m.Users().DisableUser(ctx, alice)
	require.NoError(t, err)

	out := m.Refresh(ctx, cookieByName(login.Cookies, auth.RefreshTokenCookie).Value)
	assert.Equal(t, auth.Outcome{Status: auth.StatusFailure, Message: auth.MessageInvalidRefresh}, out)

	_, err = m.Login(ctx, auth.Credentials{Username: alice, Password: alicePassword}, "", "")
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestManagerMiddleware(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := newTestManager(t, &now, nil)

	mw, err := m.Middleware()
	require.NoError(t, err)
	mux := http.NewServeMux()
	mux.Handle("/me", mw.Handler(mw.RequirePermission(auth.PermProfileRead)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, _ := auth.PrincipalFromContext(r.Context())
		_, _ = io.WriteString(w, p.Subject)
	}))))
	mux.Handle("/admin", mw.Handler(mw.RequireRoles(auth.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))))

	login, err := m.Login(ctx, auth.Credentials{Username: alice, Password: alicePassword}, "", "")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.AddCookie(cookieByName(login.Cookies, auth.AccessTokenCookie))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.AddCookie(cookieByName(login.Cookies, auth.AccessTokenCookie))
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestManagerPublishesToGoChannel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubsub.Close()
	messages, err := pubsub.Subscribe(ctx, auth.EventsTopic)
	require.NoError(t, err)

	now := time.Now()
	m := newTestManager(t, &now, pubsub)
	_, err = m.Login(ctx, auth.Credentials{Username: alice, Password: alicePassword}, "", "")
	require.NoError(t, err)

	select {
	case msg := <-messages:
		msg.Ack()
		evt, err := auth.DecodeEvent(msg)
		require.NoError(t, err)
		assert.Equal(t, auth.EventLoginSucceeded, evt.Type)
		assert.Equal(t, alice, evt.Subject)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
