package logger

import (
	"strings"
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - TOKEN CACHE
// =================================================================================

// PartitionKey identifica la partición del cache (app o usuario).
func PartitionKey(v string) zap.Field { return zap.String("partition_key", v) }

// IdentityKind es "app" o "user".
func IdentityKind(v string) zap.Field { return zap.String("identity_kind", v) }

// UserID es el home account id del usuario.
func UserID(v string) zap.Field { return zap.String("user_id", v) }

func ClientID(v string) zap.Field { return zap.String("client_id", v) }

func Authority(v string) zap.Field { return zap.String("authority", v) }

// Scopes loguea el set de scopes como un string separado por espacios.
func Scopes(v []string) zap.Field { return zap.String("scopes", strings.Join(v, " ")) }

// Event nombra un evento de integridad/diagnóstico (ej. corrupt_cache_data).
func Event(v string) zap.Field { return zap.String("event", v) }

// Grant es el tipo de grant usado contra el identity provider.
func Grant(v string) zap.Field { return zap.String("grant", v) }

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

func Component(v string) zap.Field { return zap.String("component", v) }

func Op(v string) zap.Field { return zap.String("op", v) }

func Err(err error) zap.Field { return zap.Error(err) }

func Count(v int) zap.Field { return zap.Int("count", v) }

func Any(key string, v any) zap.Field { return zap.Any(key, v) }

func String(key, v string) zap.Field { return zap.String(key, v) }

// Bytes escritos en la respuesta.
func Bytes(v int) zap.Field { return zap.Int("bytes", v) }

func DurationMs(v int64) zap.Field { return zap.Int64("duration_ms", v) }
