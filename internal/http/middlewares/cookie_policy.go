package middlewares

import (
	"net/http"
)

// CookiePolicy son los mínimos que se imponen a toda cookie emitida por la app.
type CookiePolicy struct {
	// MinimumSameSite se aplica a cookies sin SameSite o con uno más laxo.
	MinimumSameSite http.SameSite
	// AlwaysSecure marca Secure aunque el request no sea HTTPS.
	AlwaysSecure bool
	// HTTPOnly fuerza HttpOnly.
	HTTPOnly bool
}

// WithCookiePolicy reescribe los Set-Cookie antes de que salgan los headers.
// Con SameSite=None la cookie siempre se marca Secure (los browsers la rechazan si no).
func WithCookiePolicy(p CookiePolicy) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cw := &cookieWriter{ResponseWriter: w, policy: p, secure: p.AlwaysSecure || isHTTPS(r)}
			next.ServeHTTP(cw, r)
		})
	}
}

type cookieWriter struct {
	http.ResponseWriter
	policy  CookiePolicy
	secure  bool
	applied bool
}

func (c *cookieWriter) WriteHeader(code int) {
	c.apply()
	c.ResponseWriter.WriteHeader(code)
}

func (c *cookieWriter) Write(b []byte) (int, error) {
	c.apply()
	return c.ResponseWriter.Write(b)
}

func (c *cookieWriter) Unwrap() http.ResponseWriter { return c.ResponseWriter }

func (c *cookieWriter) apply() {
	if c.applied {
		return
	}
	c.applied = true
	h := c.Header()
	raw := h.Values("Set-Cookie")
	if len(raw) == 0 {
		return
	}
	h.Del("Set-Cookie")
	for _, line := range raw {
		ck, err := http.ParseSetCookie(line)
		if err != nil {
			// no la entendemos: sale como vino
			h.Add("Set-Cookie", line)
			continue
		}
		c.enforce(ck)
		if v := ck.String(); v != "" {
			h.Add("Set-Cookie", v)
		}
	}
}

func (c *cookieWriter) enforce(ck *http.Cookie) {
	if c.policy.HTTPOnly {
		ck.HttpOnly = true
	}
	if sameSiteRank(ck.SameSite) < sameSiteRank(c.policy.MinimumSameSite) {
		ck.SameSite = c.policy.MinimumSameSite
	}
	if c.secure || ck.SameSite == http.SameSiteNoneMode {
		ck.Secure = true
	}
}

// None < Lax < Strict. Sin atributo cuenta como el más laxo.
func sameSiteRank(s http.SameSite) int {
	switch s {
	case http.SameSiteStrictMode:
		return 3
	case http.SameSiteLaxMode:
		return 2
	case http.SameSiteNoneMode:
		return 1
	default:
		return 0
	}
}
