// internal/analysis/core/context.go
package core

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/config"
)

// GlobalContext holds the services shared by every analysis of a process.
type GlobalContext struct {
	Config config.Interface
	Logger *zap.Logger
	// Store is nil when persistence is disabled.
	Store RunStore
}

// RunStore persists finished runs.
type RunStore interface {
	PersistRun(ctx context.Context, result *Result) error
}

// Target names the files of one extension to analyze.
type Target struct {
	// ContentScript is the path of the (concatenated) content script.
	ContentScript string
	// Background is the path of the background script, or of the web
	// accessible resource when WAR is set.
	Background string
	WAR        bool
	// Manifest defaults to manifest.json next to the content script.
	Manifest string
	// Output is where analysis.json is written; it defaults to the content
	// script's directory.
	Output string
	// Chrome selects the chrome.* API naming.
	Chrome bool
	// APIs is "permissions", "all" or the path of a sink catalog file.
	APIs string
}

// ManifestPath returns the manifest path, defaulting next to the content script.
func (t Target) ManifestPath() string {
	if t.Manifest != "" {
		return t.Manifest
	}
	return filepath.Join(filepath.Dir(t.ContentScript), "manifest.json")
}

// OutputPath returns the analysis.json path, defaulting next to the content script.
func (t Target) OutputPath() string {
	if t.Output != "" {
		return t.Output
	}
	return filepath.Join(filepath.Dir(t.ContentScript), "analysis.json")
}

// Extension names the extension after the directory of its content script.
func (t Target) Extension() string {
	return filepath.Base(filepath.Dir(t.ContentScript))
}

// AnalysisContext is the state of one analysis run.
type AnalysisContext struct {
	Global *GlobalContext
	RunID  uuid.UUID
	Target Target
	Logger *zap.Logger
	// Result is populated by the analyzer.
	Result *Result
}

// NewAnalysisContext starts a run for target with a fresh run id.
func NewAnalysisContext(global *GlobalContext, target Target) *AnalysisContext {
	logger := zap.NewNop()
	if global != nil && global.Logger != nil {
		logger = global.Logger
	}
	id := uuid.New()
	return &AnalysisContext{
		Global: global,
		RunID:  id,
		Target: target,
		Logger: logger.With(zap.String("run_id", id.String()), zap.String("extension", target.Extension())),
		Result: NewResult(id, target, time.Now().UTC()),
	}
}
