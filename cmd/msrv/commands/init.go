package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/msrv/pkg/config"
)

func newInitCommand(g *globalOptions) *cobra.Command {
	var (
		format string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Write a default configuration file",
		Long: `Write msrv.yaml (or msrv.cue with --format cue) containing the default settings,
ready to be edited.`,
		Example: `  # Create msrv.yaml in the current directory
  msrv init

  # Create a CUE configuration, replacing an existing one
  msrv init --format cue --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}

			f := config.Format(format)
			var name string
			switch f {
			case config.FormatYAML:
				name = "msrv.yaml"
			case config.FormatCUE:
				name = "msrv.cue"
			default:
				return fmt.Errorf("unsupported format %q (must be yaml or cue)", format)
			}

			path := g.configPath
			if path == "" {
				path = filepath.Join(dir, name)
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			data, err := config.Marshal(config.DefaultRunConfig(), f)
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", path, err)
			}

			log.Info().Str("path", path).Str("format", format).Msg("Wrote configuration")
			fmt.Fprintf(stdout(cmd), "Created %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", string(config.FormatYAML), "configuration format: yaml or cue")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	return cmd
}
