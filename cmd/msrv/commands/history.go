package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/openfroyo/msrv/pkg/config"
	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/stores"
)

func newHistoryCommand(g *globalOptions) *cobra.Command {
	var (
		statePath string
		limit     int
		runID     string
		all       bool
	)

	cmd := &cobra.Command{
		Use:   "history [project] [-- check command...]",
		Short: "Show recorded runs and their ledgers",
		Long: `List the runs recorded in the ledger database, newest first. By default only runs
with the same project, check command and target as the current configuration are shown.`,
		Example: `  # Recent runs of this project
  msrv history --state msrv.db

  # Every recorded run
  msrv history --state msrv.db --all

  # One run with its ledger
  msrv history --state msrv.db --run 3f2c9a4e-...`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args, g, func(c *config.RunConfig) {
				if cmd.Flags().Changed("state") {
					c.State.Path = statePath
				}
			})
			if err != nil {
				return err
			}
			if cfg.State.Path == "" {
				return errors.New("no ledger database configured: pass --state or set state.path")
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, cfg.State.Path)
			if err != nil {
				return err
			}
			defer store.Close()

			if runID != "" {
				run, err := store.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				entries, err := store.ListEntries(ctx, runID)
				if err != nil {
					return err
				}
				return printRun(stdout(cmd), run, entries, g.jsonOutput)
			}

			opts := stores.ListRunsOptions{Limit: limit}
			if !all {
				opts.Fingerprint = engine.Fingerprint(cfg.Project, cfg.Check.Command, cfg.Target)
			}
			runs, err := store.ListRuns(ctx, opts)
			if err != nil {
				return err
			}
			return printRuns(stdout(cmd), runs, g.jsonOutput)
		},
	}

	cmd.Flags().StringVar(&statePath, "state", "", "SQLite ledger database")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to show (0 shows all)")
	cmd.Flags().StringVar(&runID, "run", "", "show a single run and its ledger")
	cmd.Flags().BoolVar(&all, "all", false, "show runs of every project")

	return cmd
}
