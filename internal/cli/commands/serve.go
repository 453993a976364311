package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/datasource/internal/app"
	"github.com/conduit-lang/datasource/internal/web/profiling"
	"github.com/conduit-lang/datasource/internal/web/server"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var (
		addr            string
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured resources over HTTP",
		Long: `Connect to the configured database and serve every resource.

Examples:
  datasource serve
  datasource serve --addr :8080
  DATASOURCE_DATABASE_URL=postgres://localhost/shop datasource serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("addr") {
				addr = cfg.Server.Addr()
			}

			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			a, err := app.Open(cfg, logger)
			if err != nil {
				return err
			}

			serverConfig := server.DefaultConfig(a.Handler())
			serverConfig.Address = addr
			serverConfig.Database = server.DefaultDatabaseConfig(a.DB(), cfg.Database.MaxOpenConns)
			srv, err := server.New(serverConfig)
			if err != nil {
				a.Close()
				return err
			}

			shutdown := server.DefaultShutdownConfig()
			shutdown.Timeout = shutdownTimeout
			shutdown.Logger = logger
			gs := server.NewGracefulShutdown(srv, shutdown)
			gs.RegisterHook(func(ctx context.Context) error {
				return a.Close()
			})

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if cfg.Server.ProfilingAddr != "" {
				prof, err := profiling.Listen(cfg.Server.ProfilingAddr, logger)
				if err != nil {
					a.Close()
					return fmt.Errorf("failed to start profiling: %w", err)
				}
				go func() {
					if err := prof.Run(ctx); err != nil {
						logger.Warn("profiling server stopped", zap.Error(err))
					}
				}()
			}

			color.New(color.FgGreen, color.Bold).Fprintf(cmd.OutOrStdout(), "Serving %d resources on %s\n", len(cfg.Resources), addr)
			logger.Info("serving", zap.String("addr", addr), zap.String("driver", cfg.Database.Driver))
			return gs.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.host:server.port)")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "Time allowed for in-flight requests on shutdown")

	return cmd
}
