package auth

import (
	"net/http"
	"strings"
)

const (
	AccessTokenCookie  = "AccessToken"
	RefreshTokenCookie = "RefreshToken"
)

// CookieOptions are the attributes stamped on every cookie the jar emits.
type CookieOptions struct {
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// CookieJar builds Set-Cookie values for issued and cleared tokens. Issued
// cookies carry no Max-Age, so they end with the browser session.
type CookieJar struct {
	opts CookieOptions
}

func NewCookieJar(opts CookieOptions) CookieJar {
	if strings.TrimSpace(opts.Path) == "" {
		opts.Path = "/"
	}
	return CookieJar{opts: opts}
}

// Issue returns an HttpOnly session cookie holding value.
func (j CookieJar) Issue(name, value string) *http.Cookie {
	return j.cookie(name, value, 0)
}

// Expire returns a cookie that instructs the client to drop name.
func (j CookieJar) Expire(name string) *http.Cookie {
	return j.cookie(name, "", -1)
}

// ExpireAll clears every inbound cookie, one Set-Cookie per input in order.
func (j CookieJar) ExpireAll(inbound []*http.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(inbound))
	for _, c := range inbound {
		if c == nil || c.Name == "" {
			continue
		}
		out = append(out, j.Expire(c.Name))
	}
	return out
}

func (j CookieJar) cookie(name, value string, maxAge int) *http.Cookie {
	path := j.opts.Path
	if path == "" {
		path = "/"
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   j.opts.Domain,
		MaxAge:   maxAge,
		Secure:   j.opts.Secure,
		HttpOnly: true,
		SameSite: j.opts.SameSite,
	}
}

// ParseSameSite maps "lax", "strict" and "none" onto http.SameSite. Anything
// else yields the browser default.
func ParseSameSite(s string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}

// cookieValue returns the value of the first cookie called name.
func cookieValue(cookies []*http.Cookie, name string) string {
	for _, c := range cookies {
		if c != nil && c.Name == name {
			return c.Value
		}
	}
	return ""
}
