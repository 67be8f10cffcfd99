// Package secretbox cifra los blobs del token cache en reposo con AES-256-GCM.
//
// La clave maestra no se guarda junto a los datos: llega por configuración
// (SECRETBOX_MASTER_KEY) o desde un KMS externo. De la clave maestra se deriva
// una clave de datos con HKDF-SHA256, así la misma clave maestra puede servir a
// otros propósitos sin reutilizar material.
//
// Formato del ciphertext: version(1) | nonce(12) | ciphertext+tag.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	EnvMasterKey      = "SECRETBOX_MASTER_KEY"
	nonceSizeGCM      = 12 // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32 // 32 bytes => AES-256
	formatV1          = byte(1)
	hkdfInfo          = "tokencache/partition-blob/v1"
)

var (
	// ErrDecryptionFailure: clave incorrecta, blob truncado o adulterado.
	ErrDecryptionFailure = errors.New("decryption failure")
	// ErrInvalidKey: la clave maestra no decodifica a 32 bytes.
	ErrInvalidKey = errors.New("invalid master key")
)

// Codec sella y abre blobs. Es inmutable y seguro para uso concurrente.
type Codec struct {
	current  cipher.AEAD
	previous []cipher.AEAD
}

// New crea un Codec con la clave maestra actual y, opcionalmente, claves previas
// que solo se usan para abrir (rotación de clave).
func New(master []byte, previous ...[]byte) (*Codec, error) {
	cur, err := newAEAD(master)
	if err != nil {
		return nil, err
	}
	c := &Codec{current: cur}
	for i, p := range previous {
		a, err := newAEAD(p)
		if err != nil {
			return nil, fmt.Errorf("previous key %d: %w", i, err)
		}
		c.previous = append(c.previous, a)
	}
	return c, nil
}

// NewFromStrings acepta las claves en base64, hex o raw (ver ParseKey).
func NewFromStrings(master string, previous ...string) (*Codec, error) {
	mk, err := ParseKey(master)
	if err != nil {
		return nil, err
	}
	prev := make([][]byte, 0, len(previous))
	for _, p := range previous {
		if strings.TrimSpace(p) == "" {
			continue
		}
		k, err := ParseKey(p)
		if err != nil {
			return nil, fmt.Errorf("previous key: %w", err)
		}
		prev = append(prev, k)
	}
	return New(mk, prev...)
}

// FromEnv lee la clave maestra de SECRETBOX_MASTER_KEY.
func FromEnv() (*Codec, error) {
	v := strings.TrimSpace(os.Getenv(EnvMasterKey))
	if v == "" {
		return nil, fmt.Errorf("%w: %s no seteada; genere una con: tokencache keygen", ErrInvalidKey, EnvMasterKey)
	}
	return NewFromStrings(v)
}

func newAEAD(master []byte) (cipher.AEAD, error) {
	if len(master) != requiredKeyLength {
		return nil, fmt.Errorf("%w: %d bytes (requiere %d)", ErrInvalidKey, len(master), requiredKeyLength)
	}
	dataKey := make([]byte, requiredKeyLength)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(hkdfInfo)), dataKey); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}

// Seal cifra plaintext. aad (ej. la partition key) queda autenticado pero no cifrado:
// el blob solo abre con el mismo aad.
func (c *Codec) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("nonce random: %w", err)
	}
	out := make([]byte, 0, 1+nonceSizeGCM+len(plaintext)+c.current.Overhead())
	out = append(out, formatV1)
	out = append(out, nonce...)
	return c.current.Seal(out, nonce, plaintext, aad), nil
}

// Open descifra un blob producido por Seal. Prueba la clave actual y luego las previas.
func (c *Codec) Open(ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < 1+nonceSizeGCM+c.current.Overhead() {
		return nil, fmt.Errorf("%w: blob truncado (%d bytes)", ErrDecryptionFailure, len(ciphertext))
	}
	if ciphertext[0] != formatV1 {
		return nil, fmt.Errorf("%w: versión de formato %d desconocida", ErrDecryptionFailure, ciphertext[0])
	}
	nonce := ciphertext[1 : 1+nonceSizeGCM]
	body := ciphertext[1+nonceSizeGCM:]

	pt, err := c.current.Open(nil, nonce, body, aad)
	if err == nil {
		return pt, nil
	}
	for _, p := range c.previous {
		if pt, perr := p.Open(nil, nonce, body, aad); perr == nil {
			return pt, nil
		}
	}
	return nil, fmt.Errorf("%w: gcm auth/decrypt: %v", ErrDecryptionFailure, err)
}

// ParseKey decodifica una clave en base64 (std o raw), hex (64 chars) o raw (32 bytes).
func ParseKey(key string) ([]byte, error) {
	key = strings.TrimSpace(key)
	if b, err := base64.StdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	if b, err := base64.RawStdEncoding.DecodeString(key); err == nil && len(b) == requiredKeyLength {
		return b, nil
	}
	if len(key) == 2*requiredKeyLength {
		if h, err := hex.DecodeString(key); err == nil {
			return h, nil
		}
	}
	if len(key) == requiredKeyLength {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("%w: no decodifica a %d bytes", ErrInvalidKey, requiredKeyLength)
}

// GenerateKey devuelve una clave maestra nueva en base64.
func GenerateKey() (string, error) {
	k := make([]byte, requiredKeyLength)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return "", fmt.Errorf("key random: %w", err)
	}
	return base64.StdEncoding.EncodeToString(k), nil
}
