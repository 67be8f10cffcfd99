package identity

import (
	"errors"
	"fmt"
	"strings"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// ErrInvalidIDToken: el id_token no se pudo parsear o le faltan claims de identidad.
var ErrInvalidIDToken = errors.New("invalid id_token")

// Claims son las claims de identidad que usa el cache.
type Claims struct {
	ObjectID          string // oid
	TenantID          string // tid
	Subject           string // sub
	PreferredUsername string // preferred_username
	Name              string // name
	Email             string // email
}

// HomeAccountID devuelve "<oid>.<tid>"; sin oid usa sub. Sin tid devuelve solo el id.
func (c Claims) HomeAccountID() string {
	id := c.ObjectID
	if id == "" {
		id = c.Subject
	}
	if c.TenantID == "" {
		return strings.ToLower(id)
	}
	return strings.ToLower(id + "." + c.TenantID)
}

// Username prefiere preferred_username y cae a email.
func (c Claims) Username() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return c.Email
}

// ParseClaims lee las claims SIN verificar la firma. Solo usar sobre tokens que
// ya pasaron por el verifier (o que vinieron directo del token endpoint por TLS).
func ParseClaims(raw string) (Claims, error) {
	mc := jwtv5.MapClaims{}
	if _, _, err := jwtv5.NewParser().ParseUnverified(raw, mc); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	str := func(k string) string {
		s, _ := mc[k].(string)
		return s
	}
	c := Claims{
		ObjectID:          str("oid"),
		TenantID:          str("tid"),
		Subject:           str("sub"),
		PreferredUsername: str("preferred_username"),
		Name:              str("name"),
		Email:             str("email"),
	}
	if c.ObjectID == "" && c.Subject == "" {
		return Claims{}, fmt.Errorf("%w: missing oid and sub", ErrInvalidIDToken)
	}
	return c, nil
}
