// File: cmd/apis.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/sinks"
)

// newAPIsCmd creates and configures the `apis` command.
func newAPIsCmd() *cobra.Command {
	var manifestPath, mode string

	apisCmd := &cobra.Command{
		Use:   "apis",
		Short: "Print the sensitive APIs considered for an extension",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if mode == sinks.ModePermissions && manifestPath == "" {
				return fmt.Errorf("--manifest is required with --apis %s", sinks.ModePermissions)
			}
			catalog, err := sinks.Resolve(mode, manifestPath)
			if err != nil {
				return err
			}
			data, err := catalog.JSON()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}

	apisCmd.Flags().StringVar(&manifestPath, "manifest", "", "path of manifest.json")
	apisCmd.Flags().StringVar(&mode, "apis", sinks.ModePermissions, "'permissions', 'all' or a catalog file")
	return apisCmd
}
