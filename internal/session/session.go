// Package session mapea un session id opaco (cookie) al principal autenticado.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/tokencache/internal/cache"
)

// ErrNoSession: el id no existe o expiró.
var ErrNoSession = errors.New("session not found")

const keyPrefix = "session:"

// Principal es el usuario de la sesión web.
type Principal struct {
	// UserID es el home account id (clave de la partición del usuario).
	UserID   string    `json:"uid"`
	Username string    `json:"username,omitempty"`
	Name     string    `json:"name,omitempty"`
	IssuedAt time.Time `json:"iat"`
}

// PendingSignIn guarda state y PKCE verifier entre /signin y /signin-oidc.
type PendingSignIn struct {
	Verifier  string `json:"verifier"`
	ReturnURL string `json:"return_url,omitempty"`
}

type Manager struct {
	c   cache.Client
	ttl time.Duration
}

func NewManager(c cache.Client, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 8 * time.Hour
	}
	return &Manager{c: c, ttl: ttl}
}

// TTL de las sesiones.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Create guarda el principal y devuelve un id nuevo.
func (m *Manager) Create(ctx context.Context, p Principal) (string, error) {
	if p.IssuedAt.IsZero() {
		p.IssuedAt = time.Now().UTC()
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("session: encode: %w", err)
	}
	id := uuid.NewString()
	if err := m.c.Set(ctx, keyPrefix+id, string(b), m.ttl); err != nil {
		return "", fmt.Errorf("session: save: %w", err)
	}
	return id, nil
}

// Get devuelve el principal de la sesión.
func (m *Manager) Get(ctx context.Context, id string) (*Principal, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNoSession
	}
	raw, err := m.c.Get(ctx, keyPrefix+id)
	if cache.IsNotFound(err) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	var p Principal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		// sesión ilegible: se trata como inexistente
		_ = m.c.Delete(ctx, keyPrefix+id)
		return nil, ErrNoSession
	}
	return &p, nil
}

// Destroy elimina la sesión. Idempotente.
func (m *Manager) Destroy(ctx context.Context, id string) error {
	return m.c.Delete(ctx, keyPrefix+id)
}

const pendingPrefix = "signin:"

// pendingTTL: tiempo máximo entre el redirect al provider y el callback.
const pendingTTL = 10 * time.Minute

// SavePending guarda el verifier PKCE bajo state.
func (m *Manager) SavePending(ctx context.Context, state string, p PendingSignIn) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("session: encode pending: %w", err)
	}
	return m.c.Set(ctx, pendingPrefix+state, string(b), pendingTTL)
}

// TakePending devuelve y consume el sign-in pendiente de state (un solo uso).
func (m *Manager) TakePending(ctx context.Context, state string) (*PendingSignIn, error) {
	raw, err := m.c.Get(ctx, pendingPrefix+state)
	if cache.IsNotFound(err) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("session: load pending: %w", err)
	}
	_ = m.c.Delete(ctx, pendingPrefix+state)

	var p PendingSignIn
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, ErrNoSession
	}
	return &p, nil
}
