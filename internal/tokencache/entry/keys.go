package entry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

const keySep = "-"

// Key de cada tipo de entrada. Siguen el esquema de claves de MSAL: los componentes
// se pasan a minúsculas, se escapa el separador y se unen con "-".

func (a Account) Key() string {
	return joinKey(a.HomeAccountID, a.Environment, a.Realm)
}

// Key de un access token: (owner, authority, client, scope set exacto).
func (t AccessToken) Key() string {
	return joinKey(t.HomeAccountID, t.Environment, "accesstoken", t.ClientID, t.Realm, NormalizeTarget(t.Target))
}

// Key de un refresh token: (owner, environment, client). Sin scopes ni realm.
func (t RefreshToken) Key() string {
	return joinKey(t.HomeAccountID, t.Environment, "refreshtoken", t.ClientID)
}

func (t IDToken) Key() string {
	return joinKey(t.HomeAccountID, t.Environment, "idtoken", t.ClientID, t.Realm)
}

func (m AppMetadata) Key() string {
	return joinKey("appmetadata", m.Environment, m.ClientID)
}

// keyEscaper escapa el separador dentro de cada componente: sin esto
// ("a-b","c") y ("a","b-c") producirían la misma clave.
var keyEscaper = strings.NewReplacer("%", "%25", keySep, "%2d")

func joinKey(parts ...string) string {
	esc := make([]string, len(parts))
	for i, p := range parts {
		esc[i] = keyEscaper.Replace(strings.ToLower(p))
	}
	return strings.Join(esc, keySep)
}

// NormalizeScopes pasa a minúsculas, elimina vacíos y duplicados, y ordena.
func NormalizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		for _, f := range strings.Fields(s) {
			f = strings.ToLower(f)
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

// NormalizeTarget normaliza un target "a b c" al formato canónico.
func NormalizeTarget(target string) string {
	return strings.Join(NormalizeScopes([]string{target}), " ")
}

// Target arma el target canónico a partir de una lista de scopes.
func Target(scopes []string) string {
	return strings.Join(NormalizeScopes(scopes), " ")
}

func splitTarget(target string) []string {
	return NormalizeScopes([]string{target})
}

// ─────────────────────────────────────────────────────────────
// Authority
// ─────────────────────────────────────────────────────────────

// Authority identifica al identity provider y tenant que emiten un token.
type Authority struct {
	// Environment es el host (ej. login.microsoftonline.com).
	Environment string
	// Realm es el tenant (primer segmento del path).
	Realm string
	// URL es la authority original sin barra final.
	URL string
}

// String devuelve "environment/realm", la forma usada en las partition keys.
func (a Authority) String() string {
	return strings.ToLower(a.Environment + "/" + a.Realm)
}

var ErrInvalidAuthority = errors.New("invalid authority")

// ParseAuthority interpreta URLs del estilo https://host/<tenant>[/v2.0].
func ParseAuthority(raw string) (Authority, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Authority{}, fmt.Errorf("%w: %v", ErrInvalidAuthority, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return Authority{}, fmt.Errorf("%w: scheme %q", ErrInvalidAuthority, u.Scheme)
	}
	if u.Host == "" {
		return Authority{}, fmt.Errorf("%w: missing host", ErrInvalidAuthority)
	}
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) == 0 || segs[0] == "" {
		return Authority{}, fmt.Errorf("%w: missing tenant segment", ErrInvalidAuthority)
	}
	return Authority{
		Environment: strings.ToLower(u.Host),
		Realm:       strings.ToLower(segs[0]),
		URL:         strings.TrimRight(u.String(), "/"),
	}, nil
}

// ─────────────────────────────────────────────────────────────
// Partition keys
// ─────────────────────────────────────────────────────────────

// AppPartitionKey: una partición por (app, authority).
func AppPartitionKey(clientID string, a Authority) string {
	return "app:" + strings.ToLower(clientID) + "@" + a.String()
}

// UserPartitionKey: una partición por (usuario, authority).
func UserPartitionKey(homeAccountID string, a Authority) string {
	return "user:" + strings.ToLower(homeAccountID) + "@" + a.String()
}
