package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/tokencache/internal/config"
	"github.com/dropDatabas3/tokencache/internal/observability/logger"
)

var version = "dev"

func main() {
	// .env es opcional; las variables del sistema tienen prioridad
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{configPath: os.Getenv("TOKENCACHE_CONFIG")}

	root := &cobra.Command{
		Use:           "tokencache",
		Short:         "Token cache persistente, cifrado y multi-identidad",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", opts.configPath, "Ruta al config.yaml (env TOKENCACHE_CONFIG)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newEvictCmd(opts),
		newInspectCmd(opts),
		newKeygenCmd(),
	)
	return root
}

// load lee la config e inicializa el logger singleton.
func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: cfg.App.Name,
		Version:     version,
	})
	return cfg, nil
}
