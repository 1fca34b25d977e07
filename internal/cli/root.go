package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// ConfigPath is a CUE config file. Empty means schema defaults.
	ConfigPath string

	// Flag overrides for config fields. Applied only when set on the command line.
	Backend       string
	Path          string
	ApplicationID string
	NodeID        string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the sessionstate CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "sessionstate",
		Short: "Distributed session state store",
		Long: `Session state storage with exclusive per-request locks and differential writes.

Sessions live in a SQLite, Pebble or in-memory store. Each request locks the
session, changes some attributes, and writes back only what changed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	flags.StringVarP(&opts.ConfigPath, "config", "c", "", "path to CUE config file")
	flags.StringVar(&opts.Backend, "backend", "", "store backend (sqlite|pebble|memory)")
	flags.StringVar(&opts.Path, "db", "", "database file or directory")
	flags.StringVar(&opts.ApplicationID, "app", "", "application id used to namespace keys")
	flags.StringVar(&opts.NodeID, "node", "", "lock owner node id (UUID)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewLockCommand(opts))
	cmd.AddCommand(NewReleaseCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewPurgeCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
