package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRemoveCmd() *cobra.Command {
	var version string

	cmd := &cobra.Command{
		Use:   "remove <library>",
		Short: "Remove an indexed version and its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cleanup := setupLogging(cfg, flagVerbose)
			defer cleanup()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, false)
			if err != nil {
				return err
			}
			defer a.close()

			library := args[0]
			if err := a.store.RemoveVersion(ctx, library, version); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", libraryLabel(library, version))
			return nil
		},
	}

	cmd.Flags().StringVar(&version, "version", "", "Version to remove (empty for unversioned)")
	return cmd
}
