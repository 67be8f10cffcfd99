// Package entry define el modelo lógico de una partición del token cache:
// cuentas, access tokens, refresh tokens, id tokens y app metadata.
//
// Una partición se serializa completa como un único documento JSON con una sección
// por tipo de entrada. Cada sección es un mapa clave -> entrada, donde la clave se
// deriva de los campos de la entrada (ver keys.go). Esa clave es la regla de unicidad:
// dos entradas con la misma clave son "la misma" y la más nueva reemplaza a la vieja.
package entry

import "time"

// Account representa un usuario autenticado bajo una authority.
type Account struct {
	HomeAccountID  string `json:"home_account_id"`
	Environment    string `json:"environment"`
	Realm          string `json:"realm"`
	LocalAccountID string `json:"local_account_id,omitempty"`
	Username       string `json:"username,omitempty"`
	Name           string `json:"name,omitempty"`
	AuthorityType  string `json:"authority_type,omitempty"`
}

// AccessToken es un access token emitido para un set exacto de scopes.
// HomeAccountID vacío indica un token app-only.
type AccessToken struct {
	HomeAccountID string `json:"home_account_id"`
	Environment   string `json:"environment"`
	Realm         string `json:"realm"`
	ClientID      string `json:"client_id"`
	Target        string `json:"target"` // scopes normalizados, separados por espacio
	Secret        string `json:"secret"`
	TokenType     string `json:"token_type,omitempty"`
	CachedAt      int64  `json:"cached_at"`
	ExpiresOn     int64  `json:"expires_on"`
}

// ExpiresAt devuelve la expiración como time.Time.
func (t AccessToken) ExpiresAt() time.Time { return time.Unix(t.ExpiresOn, 0) }

// Scopes devuelve el set de scopes del token.
func (t AccessToken) Scopes() []string { return splitTarget(t.Target) }

// Expired reporta si el token vence antes de now+skew.
func (t AccessToken) Expired(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(t.ExpiresAt())
}

// RefreshToken no tiene expiración propia: vale hasta que el provider lo rechace.
type RefreshToken struct {
	HomeAccountID string `json:"home_account_id"`
	Environment   string `json:"environment"`
	ClientID      string `json:"client_id"`
	Secret        string `json:"secret"`
	FamilyID      string `json:"family_id,omitempty"`
}

// IDToken guarda el id_token crudo emitido para la cuenta.
type IDToken struct {
	HomeAccountID string `json:"home_account_id"`
	Environment   string `json:"environment"`
	Realm         string `json:"realm"`
	ClientID      string `json:"client_id"`
	Secret        string `json:"secret"`
}

// AppMetadata registra qué aplicación escribió en la partición.
type AppMetadata struct {
	Environment string `json:"environment"`
	ClientID    string `json:"client_id"`
	FamilyID    string `json:"family_id,omitempty"`
}
