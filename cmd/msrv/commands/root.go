package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath string
	verbose    bool
	jsonOutput bool

	// version is the build version reported in traces.
	version string
}

// ExitError ends the process with Code. The command has already reported why.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{version: version}

	rootCmd := &cobra.Command{
		Use:   "msrv",
		Short: "Find the minimum supported toolchain version of a project",
		Long: `msrv determines the oldest toolchain release that still passes a project's
compatibility check (by default "cargo build --all").

Each probe installs a toolchain and runs the check command, so msrv keeps the number
of probes small:
  - bisect (default) binary-searches the release catalog
  - linear walks the catalog in either direction without assuming monotonicity
  - exhaustive checks every release on a bounded worker pool

Outcomes can be persisted to a SQLite ledger and reused with --resume.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (default: msrv.yaml, msrv.yml or msrv.cue in the project)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newFindCommand(opts))
	rootCmd.AddCommand(newVerifyCommand(opts))
	rootCmd.AddCommand(newListCommand(opts))
	rootCmd.AddCommand(newHistoryCommand(opts))
	rootCmd.AddCommand(newInitCommand(opts))

	return rootCmd
}

func stdout(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
