package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	api "github.com/felixgeelhaar/roundtable/interfaces/api"
)

// newReplayCmd creates the replay command.
func (a *App) newReplayCmd() *cobra.Command {
	var rawEvents bool

	cmd := &cobra.Command{
		Use:   "replay <run-id>",
		Short: "Reconstruct a past run from the event journal",
		Long: `Load a run's journaled events and print its summary as JSON, or the raw
events as NDJSON with --events. Requires a persistent journal (badger or nats).

Examples:
  roundtable replay -c roundtable.yaml 6f1c...
  roundtable replay -c roundtable.yaml --events 6f1c...`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.replay(cmd.Context(), args[0], rawEvents)
		},
	}

	cmd.Flags().BoolVar(&rawEvents, "events", false, "Print the raw events instead of a summary")

	return cmd
}

func (a *App) replay(ctx context.Context, runID string, rawEvents bool) error {
	cfg, err := a.loadConfig(false)
	if err != nil {
		return err
	}
	initLogging(cfg)

	rt, err := api.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

	replay, err := rt.Engine.Replay()
	if err != nil {
		return err
	}

	if rawEvents {
		events, err := replay.Events(ctx, runID)
		if err != nil {
			return err
		}
		for _, e := range events {
			line, err := e.MarshalLine()
			if err != nil {
				return fmt.Errorf("failed to encode event: %w", err)
			}
			if _, err := a.stdout.Write(line); err != nil {
				return err
			}
		}
		return nil
	}

	summary, err := replay.ReconstructRun(ctx, runID)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
