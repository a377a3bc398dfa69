// File: cmd/unpack.go
package cmd

import (
	"fmt"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/unpack"
	"github.com/xkilldash9x/doublex/internal/observability"
)

// newUnpackCmd creates and configures the `unpack` command.
func newUnpackCmd() *cobra.Command {
	var source, dest string

	unpackCmd := &cobra.Command{
		Use:   "unpack",
		Short: "Extract the manifest and the component scripts of a packaged extension",
		Long: `Reads a .crx or .zip extension and writes manifest.json, content_scripts.js,
background.js and wars.js to <dest>/<extension id>/.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := homedir.Expand(source)
			if err != nil {
				return err
			}
			dst, err := homedir.Expand(dest)
			if err != nil {
				return err
			}
			c, dir, err := unpack.New(observability.GetLogger()).Unpack(cmd.Context(), src, dst)
			if err != nil {
				return fmt.Errorf("failed to unpack %s: %w", source, err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\tmanifest v%d\t%s\n", c.ID, c.Manifest.ManifestVersion, dir)
			return err
		},
	}

	unpackCmd.Flags().StringVarP(&source, "source", "s", "", "path or URL of the packaged extension (required)")
	_ = unpackCmd.MarkFlagRequired("source")
	unpackCmd.Flags().StringVarP(&dest, "dest", "d", ".", "directory receiving the unpacked extension")
	return unpackCmd
}
