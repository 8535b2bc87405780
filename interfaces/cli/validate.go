package cli

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	api "github.com/felixgeelhaar/roundtable/interfaces/api"
)

type validateOptions struct {
	strict     bool
	showSchema bool
	schemaOut  string
}

func (a *App) newValidateCmd() *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Long: `Validate an engine configuration file for correctness.

This command checks:
  - File format (YAML or JSON)
  - Provider, sandbox and store selections
  - Loop settings and the blocked-plan policy
  - Environment variable references (in strict mode)

Examples:
  # Validate a configuration file
  roundtable validate -c roundtable.yaml

  # Strict validation (fail on missing env vars)
  roundtable validate -c roundtable.yaml --strict

  # Print the configuration JSON schema, or write it to a file
  roundtable validate --schema
  roundtable validate --schema -o schema.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.showSchema {
				return a.showConfigSchema(opts.schemaOut)
			}
			return a.validateConfig(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.strict, "strict", false, "Enable strict validation (fail on missing env vars)")
	cmd.Flags().BoolVar(&opts.showSchema, "schema", false, "Show JSON schema for configuration")
	cmd.Flags().StringVarP(&opts.schemaOut, "output", "o", "", "Write the schema to a file instead of stdout")

	return cmd
}

func (a *App) validateConfig(opts *validateOptions) error {
	if a.configPath == "" {
		return errors.New("a configuration file is required (-c)")
	}

	cfg, err := a.loadConfig(opts.strict)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Fprintf(a.stdout, "%s is valid (%s v%s)\n\n", a.configPath, cfg.Name, cfg.Version)

	w := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Provider:\t%s\n", cfg.Gateway.Provider)
	fmt.Fprintf(w, "Max iterations:\t%d (blocked plans: %s)\n", cfg.Loop.MaxIterations, orDefault(cfg.Loop.BlockedPolicy, "fail"))
	fmt.Fprintf(w, "Sandbox:\t%s (timeout %s, max %d concurrent)\n",
		cfg.Execution.Provider, cfg.Execution.Timeout.Duration(), cfg.Execution.MaxConcurrent)
	fmt.Fprintf(w, "Stores:\trelationship: %s, semantic: %s, secrets: %s, journal: %s\n",
		cfg.Stores.Relationship.Type, cfg.Stores.Semantic.Type, cfg.Stores.Secrets.Type, orDefault(cfg.Stores.Journal.Type, "none"))
	fmt.Fprintf(w, "Webhooks:\t%d\n", len(cfg.Notifications.Webhooks))
	if cfg.Specialists.File != "" {
		fmt.Fprintf(w, "Specialists:\t%s (watch: %t)\n", cfg.Specialists.File, cfg.Specialists.Watch)
	}
	return w.Flush()
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// showConfigSchema prints the schema, or writes it to path when set.
func (a *App) showConfigSchema(path string) error {
	schema, err := api.ConfigSchemaJSON()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	if path == "" {
		_, err = fmt.Fprintln(a.stdout, schema)
		return err
	}
	if err := os.WriteFile(path, []byte(schema+"\n"), 0o600); err != nil {
		return err
	}
	fmt.Fprintf(a.stdout, "wrote %s\n", path)
	return nil
}
