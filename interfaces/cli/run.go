package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/roundtable/application"
	"github.com/felixgeelhaar/roundtable/domain/event"
	api "github.com/felixgeelhaar/roundtable/interfaces/api"
)

// runOptions holds options for the run command.
type runOptions struct {
	userID    string
	script    string
	dryRun    bool
	maxIters  int
	summarize bool
}

// newRunCmd creates the run command.
func (a *App) newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run one task and stream its events as NDJSON",
		Long: `Run a task through the round table and print every stage event to stdout
as one JSON object per line. The last line is the terminal result or error.

Examples:
  # Run against the configured provider
  roundtable run -c roundtable.yaml --user alice "list files in /tmp"

  # Read the task from stdin
  echo "summarize the logs" | roundtable run --user alice

  # Replay canned replies without executing anything
  roundtable run --script replies.yaml --dry-run "say hello"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := ""
			if len(args) > 0 {
				task = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read task: %w", err)
				}
				task = strings.TrimSpace(string(data))
			}
			if task == "" {
				return fmt.Errorf("no task specified (use an argument or stdin)")
			}
			return a.runTask(cmd.Context(), task, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.userID, "user", "u", defaultUser(), "User the task runs for ($ROUNDTABLE_USER)")
	cmd.Flags().StringVar(&opts.script, "script", "", "Use the scripted provider with this reply file")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Plan and audit without executing (noop sandbox)")
	cmd.Flags().IntVar(&opts.maxIters, "max-iterations", 0, "Maximum plan attempts (overrides config)")
	cmd.Flags().BoolVar(&opts.summarize, "summary", false, "Print a run summary to stderr when done")

	return cmd
}

func defaultUser() string {
	if u := os.Getenv("ROUNDTABLE_USER"); u != "" {
		return u
	}
	return "local"
}

// runTask executes one invocation and writes its events as NDJSON.
func (a *App) runTask(ctx context.Context, task string, opts *runOptions) error {
	cfg, err := a.loadRunConfig(opts)
	if err != nil {
		return err
	}
	initLogging(cfg)

	rt, err := api.Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close(context.WithoutCancel(ctx)) }()

	inv, err := rt.Engine.NewInvocation(task, opts.userID)
	if err != nil {
		return err
	}
	sub := inv.Subscribe()
	defer sub.Cancel()

	resultCh := make(chan application.Result, 1)
	go func() { resultCh <- inv.Run(ctx) }()

	var events []event.Event
	for e := range sub.Events() {
		events = append(events, e)
		line, err := e.MarshalLine()
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		if _, err := a.stdout.Write(line); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
		if e.IsTerminal() {
			break
		}
	}
	result := <-resultCh

	if opts.summarize {
		s := application.Summarize(result.RunID, events)
		fmt.Fprintf(a.stderr, "run %s: %s in %s (%d plan attempts, %d rejections)\n",
			s.RunID, outcome(result), s.Duration, s.Iterations, s.Rejections)
	}
	return result.Err()
}

// loadRunConfig applies the run command's overrides to the configuration.
func (a *App) loadRunConfig(opts *runOptions) (*api.EngineConfig, error) {
	cfg, err := a.readConfig(false)
	if err != nil {
		return nil, err
	}
	if opts.script != "" {
		cfg.Gateway.Provider = "scripted"
		cfg.Gateway.Script = opts.script
	}
	if opts.dryRun {
		cfg.Execution.Provider = "noop"
		cfg.Execution.DeterministicScript = true
	}
	if opts.maxIters > 0 {
		cfg.Loop.MaxIterations = opts.maxIters
	}
	return checkConfig(cfg)
}

func outcome(r application.Result) string {
	if r.Succeeded() {
		return "succeeded"
	}
	return string(r.Code)
}
