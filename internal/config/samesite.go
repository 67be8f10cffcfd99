package config

import (
	"net/http"
	"strings"
)

// ParseSameSite traduce Lax | Strict | None (case-insensitive).
func ParseSameSite(v string) (http.SameSite, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lax":
		return http.SameSiteLaxMode, true
	case "strict":
		return http.SameSiteStrictMode, true
	case "none":
		return http.SameSiteNoneMode, true
	}
	return http.SameSiteDefaultMode, false
}
