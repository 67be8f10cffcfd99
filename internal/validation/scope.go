package validation

import "strings"

// ValidScope reporta si s es un scope-token OAuth 2.0 (RFC 6749 §3.3):
// 1..256 chars imprimibles ASCII, sin espacios, comillas dobles ni backslash.
// Acepta tanto "User.Read" como "https://graph.microsoft.com/.default".
func ValidScope(s string) bool {
	if s == "" || len(s) > 256 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x21 || c > 0x7e || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}

// InvalidScopes devuelve los scopes que no pasan ValidScope.
func InvalidScopes(scopes []string) []string {
	var bad []string
	for _, s := range scopes {
		if !ValidScope(strings.TrimSpace(s)) {
			bad = append(bad, s)
		}
	}
	return bad
}
