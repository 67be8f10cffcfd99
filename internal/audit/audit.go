// Package audit registra eventos de seguridad sobre el token cache
// (sign-in, sign-out, evicciones administrativas) con logger "audit".
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencache/internal/observability/logger"
)

const (
	EventSignIn     = "sign_in"
	EventSignOut    = "sign_out"
	EventAdminEvict = "admin_evict"
)

// Log escribe un evento de auditoría usando el logger del contexto.
func Log(ctx context.Context, event string, fields ...zap.Field) {
	logger.From(ctx).Named("audit").Info("audit", append([]zap.Field{logger.Event(event)}, fields...)...)
}
