package cmd

import (
	"fmt"
	"os"

	"github.com/arisu-i18n/arisu/internal/config"
	"github.com/spf13/cobra"
)

// globalOptions are the persistent flags shared by every subcommand.
type globalOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

// loadConfig reads the config file and environment, then applies flag
// overrides.
func (o *globalOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	return cfg, nil
}

// NewRootCommand builds the full command tree. Running it without a
// subcommand starts the server.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	serve := newServeCommand(opts)

	root := &cobra.Command{
		Use:   "server",
		Short: "Arisu server - translation platform backend",
		Long: `Arisu server is the backend for the Arisu translation platform.

It serves:
- User accounts, public profiles, and owned projects and organisations
- Cookie-backed sessions (memory, PostgreSQL, or Redis)
- Per-user API tokens signed with the server salt`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve.RunE(cmd, args)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "YAML config file applied before environment variables")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (json, console) (default: json)")

	root.AddCommand(serve)
	root.AddCommand(newMigrateCommand(opts))
	root.AddCommand(newVersionCommand())
	root.AddCommand(newHealthcheckCommand())
	return root
}

// Execute runs the root command. It is called by main.main.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
