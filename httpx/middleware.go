package httpx

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/adeilh/rakh-auth/auth"
	"github.com/adeilh/rakh-auth/internal/logctx"
)

// AuthMiddleware runs the auth middleware in front of echo handlers. The
// resolved principal is available through auth.PrincipalFromContext.
func AuthMiddleware(mw *auth.Middleware) MiddlewareFunc {
	if mw == nil {
		return func(next HandlerFunc) HandlerFunc {
			return func(c Context) error {
				return HTTPError(StatusUnauthorized, "auth middleware missing")
			}
		}
	}
	return echo.WrapMiddleware(mw.Handler)
}

// RequireRoles must be installed after AuthMiddleware.
func RequireRoles(mw *auth.Middleware, roles ...auth.Role) MiddlewareFunc {
	if mw == nil {
		return AuthMiddleware(nil)
	}
	return echo.WrapMiddleware(mw.RequireRoles(roles...))
}

// RequirePermission must be installed after AuthMiddleware.
func RequirePermission(mw *auth.Middleware, perm auth.Permission) MiddlewareFunc {
	if mw == nil {
		return AuthMiddleware(nil)
	}
	return echo.WrapMiddleware(mw.RequirePermission(perm))
}

// SlogRequestLogger puts a logger tagged with the request id into the request
// context and logs one line per request once the handler returns. It expects
// RequestIDMiddleware to run first.
func SlogRequestLogger(logger *slog.Logger) MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	logRequest := middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ctx := c.Request().Context()
			level := slog.LevelInfo
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.Any("err", v.Error))
			}
			if v.Status >= StatusInternalError {
				level = slog.LevelError
			}
			logctx.FromOr(ctx, logger).LogAttrs(ctx, level, "request", attrs...)
			return nil
		},
	})

	return func(next HandlerFunc) HandlerFunc {
		inner := logRequest(next)
		return func(c Context) error {
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			if id == "" {
				id = c.Request().Header.Get(echo.HeaderXRequestID)
			}
			l := logger
			ctx := c.Request().Context()
			if id != "" {
				l = logger.With(slog.String("request_id", id))
				ctx = logctx.WithRequestID(ctx, id)
			}
			c.SetRequest(c.Request().WithContext(logctx.Into(ctx, l)))
			return inner(c)
		}
	}
}
