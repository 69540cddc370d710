// Package cli implements the huntlens command line.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/glaciergh0st/HuntLens/internal/bootstrap"
	"github.com/glaciergh0st/HuntLens/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "auto" | "json" | "pretty"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"auto", "json", "pretty"}

// NewRootCommand creates the root command for the huntlens CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "huntlens",
		Short: "HuntLens - evidence-grounded incident response playbooks",
		Long: `Classify SOC artifacts, retrieve ranked evidence from the threat corpus
and generate NIST incident response playbooks grounded in that evidence.`,
		SilenceUsage:  true,
		SilenceErrors: true, // main prints the error once
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("CONFIG_PATH"), "config file (yaml or toml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "auto", "output format (auto|json|pretty)")

	cmd.AddCommand(NewClassifyCommand(opts))
	cmd.AddCommand(NewDetectCommand(opts))
	cmd.AddCommand(NewRetrieveCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))

	return cmd
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	return config.Load(o.ConfigPath)
}

// logger writes diagnostics to stderr so stdout stays parseable. Without
// --verbose only warnings and errors are shown.
func (o *RootOptions) logger(cfg *config.Config, w io.Writer) *slog.Logger {
	lc := cfg.Log
	if o.Verbose {
		lc.Level = "debug"
	} else if lc.Level == "debug" || lc.Level == "info" {
		lc.Level = "warn"
	}
	lc.Format = "text"
	return bootstrap.NewLogger(lc, w)
}
