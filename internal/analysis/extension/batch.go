// File: internal/analysis/extension/batch.go
package extension

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/doublex/internal/analysis/core"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/unpack"
)

// BatchItem is the outcome of one target of a batch.
type BatchItem struct {
	Target core.Target
	RunID  string
	Result *core.Result
	Err    error
}

// Publish hands a finished run to reporters or the store.
type Publish func(ctx context.Context, ac *core.AnalysisContext) error

// TargetsFromDirs turns unpacked extension directories (as written by
// unpack) into targets: content scripts with the background page, plus
// content scripts with the web accessible resources when the directory has
// any.
func TargetsFromDirs(ctx context.Context, a *Analyzer, dirs []string, chrome bool, apis string) ([]core.Target, error) {
	var out []core.Target
	for _, dir := range dirs {
		cs := filepath.Join(dir, unpack.ContentScriptsFile)
		ok, err := a.fs.Exists(ctx, absolute(cs))
		if err != nil {
			return nil, fmt.Errorf("failed to inspect %s: %w", dir, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s is not an unpacked extension: %s is missing", dir, unpack.ContentScriptsFile)
		}
		base := core.Target{
			ContentScript: cs,
			Background:    filepath.Join(dir, unpack.BackgroundFile),
			Manifest:      filepath.Join(dir, unpack.ManifestFile),
			Chrome:        chrome,
			APIs:          apis,
		}
		out = append(out, base)

		wars := filepath.Join(dir, unpack.WARsFile)
		if content, err := a.read(ctx, wars); err == nil && len(content) > 0 {
			war := base
			war.Background = wars
			war.WAR = true
			war.Output = filepath.Join(dir, "analysis_war.json")
			out = append(out, war)
		}
	}
	return out, nil
}

// RunBatch analyzes targets with at most concurrency analyses in flight. A
// failing target is recorded in its item and does not stop the others; the
// returned error is only set when ctx ends the batch. Items keep the order
// of targets.
func RunBatch(ctx context.Context, a *Analyzer, global *core.GlobalContext, targets []core.Target, concurrency int, publish Publish) ([]BatchItem, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	items := make([]BatchItem, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, target := range targets {
		g.Go(func() error {
			ac := core.NewAnalysisContext(global, target)
			err := a.Analyze(gctx, ac)
			if err == nil && publish != nil {
				err = publish(gctx, ac)
			}
			items[i] = BatchItem{Target: target, RunID: ac.RunID.String(), Result: ac.Result, Err: err}
			if err != nil {
				a.Logger.Warn("Extension analysis failed",
					zap.String("cs", target.ContentScript),
					zap.String("run_id", ac.RunID.String()),
					zap.Error(err))
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return items, err
	}
	failed := 0
	for _, it := range items {
		if it.Err != nil {
			failed++
		}
	}
	a.Logger.Info("Batch finished", zap.Int("targets", len(targets)), zap.Int("failed", failed))
	return items, nil
}

func absolute(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
