// Package api mounts the auth lifecycle endpoints and a few protected routes
// on an httpx server.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/adeilh/rakh-auth/auth"
	"github.com/adeilh/rakh-auth/httpx"
	"github.com/adeilh/rakh-auth/internal/logctx"
	"github.com/adeilh/rakh-auth/internal/metrics"
)

const MessageBadCredentials = "Bad credentials"

const loginBodyLimit = "16K"

// Probe reports whether a dependency is usable.
type Probe func(context.Context) error

type Config struct {
	Manager *auth.Manager
	Metrics *metrics.Metrics
	Probes  map[string]Probe
	Logger  *slog.Logger
}

type Handler struct {
	manager *auth.Manager
	mw      *auth.Middleware
	metrics *metrics.Metrics
	probes  map[string]Probe
	logger  *slog.Logger
}

func New(cfg Config) (*Handler, error) {
	if cfg.Manager == nil {
		return nil, errors.New("api: manager is required")
	}
	mw, err := cfg.Manager.Middleware()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		manager: cfg.Manager,
		mw:      mw,
		metrics: cfg.Metrics,
		probes:  cfg.Probes,
		logger:  logger,
	}, nil
}

// Register mounts every route on e.
func (h *Handler) Register(e *httpx.Echo) {
	limit := httpx.BodyLimitMiddleware(loginBodyLimit)
	authed := httpx.AuthMiddleware(h.mw)

	httpx.RegisterRoutes(e,
		httpx.Route{Method: http.MethodPost, Path: "/login", Handler: h.login, Middleware: []httpx.MiddlewareFunc{limit}},
		httpx.Route{Method: http.MethodPost, Path: "/refresh", Handler: h.refresh, Middleware: []httpx.MiddlewareFunc{limit}},
		httpx.Route{Method: http.MethodPost, Path: "/logout", Handler: h.logout, Middleware: []httpx.MiddlewareFunc{limit}},
		httpx.Route{Method: http.MethodGet, Path: "/me", Handler: h.me, Middleware: []httpx.MiddlewareFunc{
			authed, httpx.RequirePermission(h.mw, auth.PermProfileRead),
		}},
		httpx.Route{Method: http.MethodGet, Path: "/healthz", Handler: h.healthz},
		httpx.Route{Method: http.MethodGet, Path: "/metrics", Handler: echo.WrapHandler(h.metrics.Handler())},
	)

	httpx.NewRouter(e, "/admin", authed, httpx.RequireRoles(h.mw, auth.RoleAdmin)).
		GET("/users/:email", h.getUser, httpx.RequirePermission(h.mw, auth.PermUserRead)).
		POST("/users/:email/disable", h.setEnabled(false), httpx.RequirePermission(h.mw, auth.PermUserManage)).
		POST("/users/:email/enable", h.setEnabled(true), httpx.RequirePermission(h.mw, auth.PermUserManage))
}

func (h *Handler) login(c httpx.Context) error {
	ctx := c.Request().Context()
	var creds auth.Credentials
	if err := c.Bind(&creds); err != nil {
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid login body")
	}

	out, err := h.manager.Login(ctx, creds, cookieValue(c, auth.AccessTokenCookie), cookieValue(c, auth.RefreshTokenCookie))
	switch {
	case errors.Is(err, auth.ErrUnauthorized):
		h.metrics.ObserveLogin(metrics.LoginUnauthorized, out)
		return c.JSON(httpx.StatusUnauthorized, auth.Outcome{Status: auth.StatusFailure, Message: MessageBadCredentials})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.metrics.ObserveLogin(metrics.LoginError, out)
		return httpx.HTTPError(httpx.StatusGatewayTimeout, "login timed out")
	case err != nil:
		h.metrics.ObserveLogin(metrics.LoginError, out)
		logctx.FromOr(ctx, h.logger).ErrorContext(ctx, "login failed", slog.Any("err", err))
		return httpx.HTTPError(httpx.StatusInternalError, http.StatusText(httpx.StatusInternalError))
	}

	h.metrics.ObserveLogin(metrics.LoginSuccess, out)
	return writeOutcome(c, out)
}

// refresh answers 200 even when the token is rejected; the body carries the
// verdict.
func (h *Handler) refresh(c httpx.Context) error {
	out := h.manager.Refresh(c.Request().Context(), cookieValue(c, auth.RefreshTokenCookie))
	h.metrics.ObserveRefresh(out)
	return writeOutcome(c, out)
}

func (h *Handler) logout(c httpx.Context) error {
	out := h.manager.Logout(c.Request().Context(), c.Cookies())
	h.metrics.ObserveLogout()
	return writeOutcome(c, out)
}

type meResponse struct {
	Subject   string    `json:"subject"`
	Roles     []string  `json:"roles"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *Handler) me(c httpx.Context) error {
	p, ok := auth.PrincipalFromContext(c.Request().Context())
	if !ok {
		return httpx.HTTPError(httpx.StatusUnauthorized, http.StatusText(httpx.StatusUnauthorized))
	}
	return c.JSON(httpx.StatusOK, meResponse{Subject: p.Subject, Roles: auth.RoleStrings(p.Roles), ExpiresAt: p.ExpiresAt})
}

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Roles     []string  `json:"roles"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Roles:     auth.RoleStrings(u.Roles),
		Enabled:   u.Enabled,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (h *Handler) getUser(c httpx.Context) error {
	user, err := h.manager.Users().GetUser(c.Request().Context(), c.Param("email"))
	if err != nil {
		return userError(err)
	}
	return c.JSON(httpx.StatusOK, toUserResponse(user))
}

func (h *Handler) setEnabled(enabled bool) httpx.HandlerFunc {
	return func(c httpx.Context) error {
		ctx := c.Request().Context()
		users := h.manager.Users()
		var (
			user auth.User
			err  error
		)
		if enabled {
			user, err = users.EnableUser(ctx, c.Param("email"))
		} else {
			user, err = users.DisableUser(ctx, c.Param("email"))
		}
		if err != nil {
			return userError(err)
		}
		p, _ := auth.PrincipalFromContext(ctx)
		logctx.FromOr(ctx, h.logger).InfoContext(ctx, "account state changed",
			slog.String("email", user.Email), slog.Bool("enabled", user.Enabled), slog.String("by", p.Subject))
		return c.JSON(httpx.StatusOK, toUserResponse(user))
	}
}

func userError(err error) error {
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		return httpx.HTTPError(httpx.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrUserInvalidInput):
		return httpx.HTTPError(httpx.StatusBadRequest, "invalid email")
	default:
		return err
	}
}

func (h *Handler) healthz(c httpx.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.probes))
	status := httpx.StatusOK
	for name, probe := range h.probes {
		if probe == nil {
			continue
		}
		if err := probe(ctx); err != nil {
			checks[name] = err.Error()
			status = httpx.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	return c.JSON(status, map[string]any{"status": http.StatusText(status), "checks": checks})
}

func writeOutcome(c httpx.Context, out auth.Outcome) error {
	for _, ck := range out.Cookies {
		c.SetCookie(ck)
	}
	return c.JSON(httpx.StatusOK, out)
}

func cookieValue(c httpx.Context, name string) string {
	ck, err := c.Cookie(name)
	if err != nil {
		return ""
	}
	return ck.Value
}
