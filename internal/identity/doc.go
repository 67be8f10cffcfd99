// Package identity es el adaptador fino hacia el identity provider (OIDC).
//
// No implementa el protocolo: discovery y verificación de id_token los hace
// go-oidc, los grants los hace golang.org/x/oauth2. Acá solo se traducen las
// respuestas a TokenResponse y los errores del provider a sentinels propios.
package identity
