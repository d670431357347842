package auth

import (
	"context"
	"fmt"
	"net/http"
)

type Middleware struct {
	authenticator TokenAuthenticator
	extractor     TokenExtractor
	skipper       MiddlewareSkipper
	errorHandler  MiddlewareErrorHandler
}

type principalContextKey struct{}

func NewMiddleware(authn TokenAuthenticator, opts ...MiddlewareOption) (*Middleware, error) {
	cfg, err := newMiddlewareConfig(authn, opts...)
	if err != nil {
		return nil, err
	}
	return &Middleware{
		authenticator: cfg.authenticator,
		extractor:     cfg.extractor,
		skipper:       cfg.skipper,
		errorHandler:  cfg.errorHandler,
	}, nil
}

// Handler rejects requests without a valid access credential and stores the
// Principal in the request context otherwise.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	if m == nil {
		panic("auth: middleware is nil")
	}
	if next == nil {
		next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipper(r) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := m.extractor(r)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}

		principal, err := m.authenticator.Authenticate(r.Context(), raw)
		if err != nil {
			m.errorHandler(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// RequireRoles admits principals holding at least one of roles. It must run
// after Handler.
func (m *Middleware) RequireRoles(roles ...Role) func(http.Handler) http.Handler {
	return m.require(func(p Principal) error {
		if p.HasRole(roles...) {
			return nil
		}
		return fmt.Errorf("%w: requires one of %v", ErrForbidden, roles)
	})
}

// RequirePermission admits principals whose roles grant perm.
func (m *Middleware) RequirePermission(perm Permission) func(http.Handler) http.Handler {
	return m.require(func(p Principal) error {
		if p.Can(perm) {
			return nil
		}
		return fmt.Errorf("%w: missing %s", ErrForbidden, perm)
	})
}

func (m *Middleware) require(allow func(Principal) error) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				m.errorHandler(w, r, ErrTokenNotFound)
				return
			}
			if err := allow(p); err != nil {
				m.errorHandler(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
