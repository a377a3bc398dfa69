// File: cmd/analyze.go
package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/analysis/core"
	"github.com/xkilldash9x/doublex/internal/analysis/extension"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/unpack"
	"github.com/xkilldash9x/doublex/internal/config"
	"github.com/xkilldash9x/doublex/internal/observability"
	"github.com/xkilldash9x/doublex/internal/reporting"
)

type analyzeOptions struct {
	cs, bp, manifest, analysis, apis, format string
	war, notChrome                          bool
}

// newAnalyzeCmd creates and configures the `analyze` command.
func newAnalyzeCmd(provider storeProvider) *cobra.Command {
	var opts analyzeOptions

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze one extension: its content script with its background page or a web accessible resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			// Flags override config/env.
			if cmd.Flags().Changed("not-chrome") {
				cfg.SetAnalysisChrome(!opts.notChrome)
			}
			if cmd.Flags().Changed("apis") {
				cfg.SetAnalysisAPIs(opts.apis)
			}
			if cmd.Flags().Changed("format") {
				cfg.SetOutputFormat(opts.format)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runAnalyze(ctx, observability.GetLogger(), cfg, opts, cmd.OutOrStdout(), provider)
		},
	}

	analyzeCmd.Flags().StringVar(&opts.cs, "cs", "", "path of the content script (required)")
	_ = analyzeCmd.MarkFlagRequired("cs")
	analyzeCmd.Flags().StringVar(&opts.bp, "bp", "", "path of the background page, or of the WAR with --war (default: background.js or wars.js next to the content script)")
	analyzeCmd.Flags().BoolVar(&opts.war, "war", false, "the second script is a web accessible resource")
	analyzeCmd.Flags().BoolVar(&opts.notChrome, "not-chrome", false, "use the browser.* API naming instead of chrome.*")
	analyzeCmd.Flags().StringVar(&opts.manifest, "manifest", "", "path of manifest.json (default: next to the content script)")
	analyzeCmd.Flags().StringVar(&opts.analysis, "analysis", "", "path of analysis.json (default: next to the content script)")
	analyzeCmd.Flags().StringVar(&opts.apis, "apis", "", "sensitive APIs: 'permissions', 'all' or a catalog file (overrides config)")
	analyzeCmd.Flags().StringVarP(&opts.format, "format", "f", "", "output format: 'json', 'sarif' or 'both' (overrides config)")
	return analyzeCmd
}

// runAnalyze contains the testable logic of the analyze command.
func runAnalyze(ctx context.Context, logger *zap.Logger, cfg *config.Config, opts analyzeOptions, out io.Writer, provider storeProvider) error {
	target := core.Target{
		ContentScript: opts.cs,
		Background:    opts.bp,
		WAR:           opts.war,
		Manifest:      opts.manifest,
		Output:        opts.analysis,
		Chrome:        cfg.Analysis().Chrome,
		APIs:          cfg.Analysis().APIs,
	}
	if target.Background == "" {
		name := unpack.BackgroundFile
		if target.WAR {
			name = unpack.WARsFile
		}
		target.Background = filepath.Join(filepath.Dir(opts.cs), name)
	}
	if target.WAR && opts.analysis == "" {
		target.Output = filepath.Join(filepath.Dir(opts.cs), "analysis_war.json")
	}

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
	ac := core.NewAnalysisContext(global, target)
	if err := analyzer.Analyze(ctx, ac); err != nil {
		return fmt.Errorf("analysis of %s failed: %w", target.Extension(), err)
	}
	if err := publish(cfg)(ctx, ac); err != nil {
		return err
	}
	return printSummary(out, ac)
}

// publish writes the reports of a finished run and persists it when a store
// is configured.
func publish(cfg config.Interface) extension.Publish {
	return func(ctx context.Context, ac *core.AnalysisContext) error {
		rep, err := reporting.ForResult(cfg.Output().Format, ac.Target.OutputPath(), Version, cfg.Output().Pretty)
		if err != nil {
			return err
		}
		if err := rep.Write(ac.Result); err != nil {
			_ = rep.Close()
			return err
		}
		if err := rep.Close(); err != nil {
			return err
		}
		if ac.Global != nil && ac.Global.Store != nil {
			if err := ac.Global.Store.PersistRun(ctx, ac.Result); err != nil {
				return fmt.Errorf("failed to persist run %s: %w", ac.RunID, err)
			}
		}
		return nil
	}
}

func printSummary(out io.Writer, ac *core.AnalysisContext) error {
	findings := ac.Result.Findings()
	suspicious := 0
	for _, f := range findings {
		if f.Suspicious() {
			suspicious++
		}
	}
	_, err := fmt.Fprintf(out, "%s\trun %s\t%d sink calls\t%d suspicious\t%d crashes\t%s\n",
		ac.Result.Extension, ac.RunID, len(findings), suspicious, len(ac.Result.Crashes), ac.Target.OutputPath())
	return err
}
