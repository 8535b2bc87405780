package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/roundtable/infrastructure/logging"
	api "github.com/felixgeelhaar/roundtable/interfaces/api"
	server "github.com/felixgeelhaar/roundtable/interfaces/http"
)

// newServeCmd creates the serve command.
func (a *App) newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine over HTTP",
		Long: `Start the HTTP server. Executions stream their events as server-sent
events (or NDJSON with Accept: application/x-ndjson) from POST /v1/agent/execute.

Examples:
  roundtable serve -c roundtable.yaml
  roundtable serve --addr :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context(), addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.address)")

	return cmd
}

func (a *App) serve(ctx context.Context, addr string) error {
	cfg, err := a.loadConfig(false)
	if err != nil {
		return err
	}
	initLogging(cfg)

	rt, err := api.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.WithoutCancel(ctx)); err != nil {
			logging.Warn().Add(logging.ErrorField(err)).Msg("runtime close failed")
		}
	}()

	if err := server.New(rt, server.WithAddress(addr)).Run(ctx); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
