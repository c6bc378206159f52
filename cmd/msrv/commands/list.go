package commands

import (
	"github.com/spf13/cobra"

	"github.com/openfroyo/msrv/pkg/config"
)

func newListCommand(g *globalOptions) *cobra.Command {
	var flags catalogFlags

	cmd := &cobra.Command{
		Use:   "list [project]",
		Short: "Print the candidate versions a search would consider",
		Long: `Fetch the release catalog, apply the configured narrowing and print the
remaining candidates in ascending order. Nothing is installed or checked.`,
		Example: `  # Latest patch of every minor release since 1.56
  msrv list --min 1.56

  # Every release in a local file, pre-releases included
  msrv list --catalog releases.txt --all-patches --prereleases`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args, g, func(c *config.RunConfig) { flags.apply(cmd, c) })
			if err != nil {
				return err
			}
			narrowing, err := cfg.Narrowing()
			if err != nil {
				return err
			}

			// Listing records nothing.
			cfg.State.Path = ""

			s, err := openSession(cmd.Context(), cfg, g)
			if err != nil {
				return err
			}
			defer s.Close()

			candidates, err := s.engine.Candidates(cmd.Context(), narrowing)
			if err != nil {
				return err
			}
			return printCandidates(stdout(cmd), candidates.Versions(), g.jsonOutput)
		},
	}

	flags.bind(cmd)
	return cmd
}
