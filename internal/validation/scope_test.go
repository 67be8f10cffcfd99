package validation

import "testing"

func TestValidScope(t *testing.T) {
	valid := []string{"User.Read", "openid", "offline_access", "https://graph.microsoft.com/.default", "api://x/read:all"}
	invalid := []string{"", "bad space", `quo"te`, `back\slash`, "tab\t", "ñ"}

	for _, s := range valid {
		if !ValidScope(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	for _, s := range invalid {
		if ValidScope(s) {
			t.Errorf("expected %q to be invalid", s)
		}
	}
	if bad := InvalidScopes([]string{"User.Read", "a b"}); len(bad) != 1 || bad[0] != "a b" {
		t.Errorf("InvalidScopes = %v", bad)
	}
}
