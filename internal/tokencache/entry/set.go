package entry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCorruptCacheData indica que un blob descifrado no respeta el esquema esperado.
var ErrCorruptCacheData = errors.New("corrupt cache data")

// Set es el contenido decodificado de una partición.
// No es seguro para uso concurrente: lo posee una sola operación a la vez.
type Set struct {
	Accounts      map[string]Account
	AccessTokens  map[string]AccessToken
	RefreshTokens map[string]RefreshToken
	IDTokens      map[string]IDToken
	AppMetadata   map[string]AppMetadata
}

// NewSet crea un Set vacío.
func NewSet() *Set {
	return &Set{
		Accounts:      map[string]Account{},
		AccessTokens:  map[string]AccessToken{},
		RefreshTokens: map[string]RefreshToken{},
		IDTokens:      map[string]IDToken{},
		AppMetadata:   map[string]AppMetadata{},
	}
}

func (s *Set) PutAccount(a Account)           { s.Accounts[a.Key()] = a }
func (s *Set) PutRefreshToken(t RefreshToken) { s.RefreshTokens[t.Key()] = t }
func (s *Set) PutIDToken(t IDToken)           { s.IDTokens[t.Key()] = t }
func (s *Set) PutAppMetadata(m AppMetadata)   { s.AppMetadata[m.Key()] = m }

// PutAccessToken guarda el token con su target normalizado.
func (s *Set) PutAccessToken(t AccessToken) {
	t.Target = NormalizeTarget(t.Target)
	s.AccessTokens[t.Key()] = t
}

// Len devuelve la cantidad total de entradas.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Accounts) + len(s.AccessTokens) + len(s.RefreshTokens) + len(s.IDTokens) + len(s.AppMetadata)
}

// IsEmpty reporta si el set no tiene entradas.
func (s *Set) IsEmpty() bool { return s.Len() == 0 }

// Clone devuelve una copia independiente.
func (s *Set) Clone() *Set {
	out := NewSet()
	if s == nil {
		return out
	}
	for k, v := range s.Accounts {
		out.Accounts[k] = v
	}
	for k, v := range s.AccessTokens {
		out.AccessTokens[k] = v
	}
	for k, v := range s.RefreshTokens {
		out.RefreshTokens[k] = v
	}
	for k, v := range s.IDTokens {
		out.IDTokens[k] = v
	}
	for k, v := range s.AppMetadata {
		out.AppMetadata[k] = v
	}
	return out
}

// =================================================================================
// SERIALIZACIÓN
// =================================================================================

// document es el formato en disco (antes de cifrar).
type document struct {
	Account      map[string]Account      `json:"Account,omitempty"`
	AccessToken  map[string]AccessToken  `json:"AccessToken,omitempty"`
	RefreshToken map[string]RefreshToken `json:"RefreshToken,omitempty"`
	IDToken      map[string]IDToken      `json:"IdToken,omitempty"`
	AppMetadata  map[string]AppMetadata  `json:"AppMetadata,omitempty"`
}

// Decode parsea un blob en claro. Un blob vacío es un cache miss, no un error;
// cualquier otra cosa que no sea un objeto JSON (incluido "null") es ErrCorruptCacheData.
// Las entradas se re-indexan por su clave calculada, no por la clave guardada.
func Decode(b []byte) (*Set, error) {
	s := NewSet()
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return s, nil
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: top level is not an object", ErrCorruptCacheData)
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptCacheData, err)
	}
	for _, v := range doc.Account {
		s.PutAccount(v)
	}
	for _, v := range doc.AccessToken {
		s.PutAccessToken(v)
	}
	for _, v := range doc.RefreshToken {
		s.PutRefreshToken(v)
	}
	for _, v := range doc.IDToken {
		s.PutIDToken(v)
	}
	for _, v := range doc.AppMetadata {
		s.PutAppMetadata(v)
	}
	return s, nil
}

// Encode serializa el set. Los mapas se emiten con claves ordenadas, así que la
// salida es determinística para un mismo contenido.
func (s *Set) Encode() []byte {
	if s == nil {
		s = NewSet()
	}
	b, err := json.Marshal(document{
		Account:      s.Accounts,
		AccessToken:  s.AccessTokens,
		RefreshToken: s.RefreshTokens,
		IDToken:      s.IDTokens,
		AppMetadata:  s.AppMetadata,
	})
	if err != nil {
		// unreachable: el documento solo contiene strings e ints
		panic("entry: encode: " + err.Error())
	}
	return b
}

// =================================================================================
// MERGE
// =================================================================================

// Merge combina existing con incoming: last-writer-wins por entrada.
// Las entradas de incoming reemplazan a las de igual clave; las que solo están en
// existing se conservan. No modifica ninguno de los dos argumentos.
func Merge(existing, incoming *Set) *Set {
	out := existing.Clone()
	if incoming == nil {
		return out
	}
	for _, v := range incoming.Accounts {
		out.PutAccount(v)
	}
	for _, v := range incoming.AccessTokens {
		out.PutAccessToken(v)
	}
	for _, v := range incoming.RefreshTokens {
		out.PutRefreshToken(v)
	}
	for _, v := range incoming.IDTokens {
		out.PutIDToken(v)
	}
	for _, v := range incoming.AppMetadata {
		out.PutAppMetadata(v)
	}
	return out
}

// =================================================================================
// LOOKUP
// =================================================================================

// FindAccessToken busca un token vigente del owner (home account id, "" para app)
// cuyo set de scopes contenga todos los pedidos. Si hay varios, prefiere el de
// scopes exactos y luego el de expiración más lejana.
func (s *Set) FindAccessToken(owner string, a Authority, clientID string, scopes []string, now time.Time, skew time.Duration) (AccessToken, bool) {
	if s == nil {
		return AccessToken{}, false
	}
	want := NormalizeScopes(scopes)
	wantTarget := strings.Join(want, " ")

	var (
		best  AccessToken
		found bool
	)
	for _, t := range s.AccessTokens {
		if !strings.EqualFold(t.HomeAccountID, owner) ||
			!strings.EqualFold(t.Environment, a.Environment) ||
			!strings.EqualFold(t.Realm, a.Realm) ||
			!strings.EqualFold(t.ClientID, clientID) {
			continue
		}
		if t.Expired(now, skew) || !containsAll(t.Scopes(), want) {
			continue
		}
		if !found || better(t, best, wantTarget) {
			best, found = t, true
		}
	}
	return best, found
}

func better(cand, cur AccessToken, wantTarget string) bool {
	candExact := cand.Target == wantTarget
	curExact := cur.Target == wantTarget
	if candExact != curExact {
		return candExact
	}
	if cand.ExpiresOn != cur.ExpiresOn {
		return cand.ExpiresOn > cur.ExpiresOn
	}
	return cand.Key() < cur.Key()
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// FindRefreshToken devuelve el refresh token del owner para el client.
func (s *Set) FindRefreshToken(owner string, a Authority, clientID string) (RefreshToken, bool) {
	if s == nil {
		return RefreshToken{}, false
	}
	t, ok := s.RefreshTokens[RefreshToken{HomeAccountID: owner, Environment: a.Environment, ClientID: clientID}.Key()]
	return t, ok
}

// FindAccount devuelve la cuenta del usuario bajo la authority.
func (s *Set) FindAccount(homeAccountID string, a Authority) (Account, bool) {
	if s == nil {
		return Account{}, false
	}
	acc, ok := s.Accounts[Account{HomeAccountID: homeAccountID, Environment: a.Environment, Realm: a.Realm}.Key()]
	return acc, ok
}
