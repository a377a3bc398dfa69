// File: cmd/batch.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/analysis/core"
	"github.com/xkilldash9x/doublex/internal/analysis/extension"
	"github.com/xkilldash9x/doublex/internal/config"
	"github.com/xkilldash9x/doublex/internal/observability"
)

// newBatchCmd creates and configures the `batch` command.
func newBatchCmd(provider storeProvider) *cobra.Command {
	var notChrome bool
	var apis string
	var concurrency int

	batchCmd := &cobra.Command{
		Use:   "batch <dir>...",
		Short: "Analyze unpacked extension directories concurrently",
		Long: `Analyzes every directory written by 'doublex unpack': the content scripts
with the background page and, when present, with the web accessible resources.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("not-chrome") {
				cfg.SetAnalysisChrome(!notChrome)
			}
			if cmd.Flags().Changed("apis") {
				cfg.SetAnalysisAPIs(apis)
			}
			if cmd.Flags().Changed("concurrency") {
				cfg.SetBatchConcurrency(concurrency)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runBatch(ctx, observability.GetLogger(), cfg, args, cmd.OutOrStdout(), provider)
		},
	}

	batchCmd.Flags().BoolVar(&notChrome, "not-chrome", false, "use the browser.* API naming instead of chrome.*")
	batchCmd.Flags().StringVar(&apis, "apis", "", "sensitive APIs: 'permissions', 'all' or a catalog file (overrides config)")
	batchCmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "number of concurrent analyses (overrides config)")
	return batchCmd
}

// runBatch contains the testable logic of the batch command.
func runBatch(ctx context.Context, logger *zap.Logger, cfg *config.Config, dirs []string, out io.Writer, provider storeProvider) error {
	st, cleanup, err := openStore(ctx, cfg, provider)
	if err != nil {
		return err
	}
	defer cleanup()

	global := &core.GlobalContext{Config: cfg, Logger: logger}
	if st != nil {
		global.Store = st
	}
	analyzer := extension.NewAnalyzer(logger, cfg.Analysis())
	targets, err := extension.TargetsFromDirs(ctx, analyzer, dirs, cfg.Analysis().Chrome, cfg.Analysis().APIs)
	if err != nil {
		return err
	}

	items, err := extension.RunBatch(ctx, analyzer, global, targets, cfg.Batch().Concurrency, publish(cfg))
	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
			fmt.Fprintf(out, "%s\trun %s\tfailed: %v\n", it.Target.Extension(), it.RunID, it.Err)
			continue
		}
		if it.Result == nil {
			continue
		}
		if perr := printSummary(out, &core.AnalysisContext{RunID: it.Result.RunID, Target: it.Target, Result: it.Result}); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d analyses failed", failed, len(items))
	}
	return nil
}
