package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apexsports/apexfeed/infrastructure/config"
)

// newValidateCmd creates the validate command.
func (a *App) newValidateCmd() *cobra.Command {
	var strictEnv bool

	cmd := &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := config.NewLoader(config.WithStrictEnv(strictEnv))
			cfg, err := loader.LoadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := cfg.Registry(); err != nil {
				return err
			}

			fmt.Fprintf(a.stdout, "%s: valid (%d providers)\n", args[0], len(cfg.Providers))
			return nil
		},
	}

	cmd.Flags().BoolVar(&strictEnv, "strict-env", false, "fail on unset environment variables")
	return cmd
}
