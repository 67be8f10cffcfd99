// Package logger provee un logger Zap singleton con scoping por contexto.
//
// # Design Decisions
//
//   - Singleton: una sola instancia global inicializada con Init().
//   - Context Scoping: cada request (o cada operación de cache) puede llevar su propio
//     logger con campos adicionales (request_id, partition_key, ...) sin crear un nuevo core.
//   - Environments: "dev" usa consola con colores, "prod" usa JSON.
//
// # Usage
//
//	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level})
//	defer logger.Sync()
//
//	log := logger.From(ctx)
//	log.Info("token served from cache", logger.PartitionKey(key), logger.Scopes(scopes))
package logger
