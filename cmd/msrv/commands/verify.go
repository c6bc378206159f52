package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/openfroyo/msrv/pkg/config"
	"github.com/openfroyo/msrv/pkg/engine"
	"github.com/openfroyo/msrv/pkg/stores"
)

func newVerifyCommand(g *globalOptions) *cobra.Command {
	var (
		flags    runFlags
		declared string
	)

	cmd := &cobra.Command{
		Use:   "verify [project] [--version V] [-- check command...]",
		Short: "Check that a declared minimum version still works",
		Long: `Check a single toolchain version. The version is taken from --version, then
the declared_version of the configuration file, then package.rust-version (or
package.metadata.msrv) in the project's Cargo.toml. The exit status is 1 when the
check fails.`,
		Example: `  # Verify the version declared in Cargo.toml or msrv.yaml
  msrv verify

  # Verify an explicit version
  msrv verify --version 1.60`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args, g, func(c *config.RunConfig) {
				flags.apply(cmd, c)
				if cmd.Flags().Changed("version") {
					c.DeclaredVersion = declared
				}
			})
			if err != nil {
				return err
			}

			v, err := cfg.Declared()
			if err != nil {
				return err
			}
			if v == nil {
				return errors.New("no version to verify: pass --version, set declared_version or declare rust-version in Cargo.toml")
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

			report, err := s.execute(cmd.Context(), stores.RunModeVerify, opts,
				func(ctx context.Context, opts engine.RunOptions) (*engine.Report, error) {
					return s.engine.Verify(ctx, opts, *v)
				})
			if err != nil {
				return err
			}

			if err := printReport(stdout(cmd), report, g.jsonOutput); err != nil {
				return err
			}
			if report.Result.Kind != engine.ResultVerified {
				return &ExitError{Code: 1}
			}
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVar(&declared, "version", "", "version to verify (overrides declared_version)")
	return cmd
}
