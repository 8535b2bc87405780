// Package cli provides a command-line interface for the round-table engine.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/roundtable"
)

// Set with -ldflags "-X" at build time.
var (
	Version   = roundtable.Version
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// App is the roundtable command tree.
type App struct {
	root   *cobra.Command
	stdout io.Writer
	stderr io.Writer

	configPath string
	envFiles   []string
	logLevel   string
}

// New builds the command tree writing to the process stdout and stderr.
func New() *App {
	app := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	app.root = &cobra.Command{
		Use:   "roundtable",
		Short: "Round-table orchestration engine",
		Long: `roundtable turns a natural-language objective into an executed result by
passing it through a fixed round table of specialists: a librarian gathers user
context, an architect plans, a critic audits, and an approved plan runs in an
isolated sandbox. Every step streams as an event.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.loadEnv()
		},
	}

	flags := app.root.PersistentFlags()
	flags.StringVarP(&app.configPath, "config", "c", "", "Path to configuration file (default: built-in in-memory setup)")
	flags.StringSliceVar(&app.envFiles, "env-file", []string{".env"}, "Environment files to load before reading configuration")
	flags.StringVar(&app.logLevel, "log-level", "", "Override the configured log level")

	app.root.AddCommand(
		app.newVersionCmd(),
		app.newValidateCmd(),
		app.newRunCmd(),
		app.newServeCmd(),
		app.newReplayCmd(),
	)

	return app
}

// WithOutput redirects command output.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the command selected by os.Args. SIGINT and SIGTERM cancel ctx,
// which aborts an in-flight run with a CANCELLED result.
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.root.ExecuteContext(ctx)
}

func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

// loadEnv loads the configured env files. Missing files are skipped and
// variables already set in the environment win.
func (a *App) loadEnv() error {
	for _, path := range a.envFiles {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.stdout, "roundtable version %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}
