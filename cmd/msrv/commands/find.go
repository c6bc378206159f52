package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/msrv/pkg/config"
	"github.com/openfroyo/msrv/pkg/stores"
)

// exitNotFound is the exit status of a search that did not produce a usable minimum.
const exitNotFound = 2

func newFindCommand(g *globalOptions) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "find [project] [-- check command...]",
		Short: "Search for the minimum supported toolchain version",
		Long: `Search the release catalog for the oldest toolchain that passes the check command.

Every probe installs the toolchain (unless it is already present) and runs the check
command in the project directory. The exit status is 0 when a minimum was found and 2
when no release passed or the outcomes contradicted each other.`,
		Example: `  # Bisect the catalog with the default "cargo build --all"
  msrv find

  # Walk the catalog from the newest release down, checking only the library
  msrv find ./crates/core --strategy linear --direction descending -- cargo check --lib

  # Build a complete compatibility map with 8 workers and keep the ledger
  msrv find --strategy exhaustive --workers 8 --state msrv.db

  # Continue an interrupted search
  msrv find --state msrv.db --resume`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args, g, func(c *config.RunConfig) { flags.apply(cmd, c) })
			if err != nil {
				return err
			}
			opts, err := cfg.RunOptions()
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context(), cfg, g)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.execute(cmd.Context(), stores.RunModeFind, opts, s.engine.Find)
			if err != nil {
				return err
			}

			if err := printReport(stdout(cmd), report, g.jsonOutput); err != nil {
				return err
			}
			if !report.Result.Found() {
				return &ExitError{Code: exitNotFound}
			}
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}
