// File: internal/analysis/core/analyzer.go
// Package core defines the contract shared by analyzers and the run context
// and result types they exchange with the CLI, reporters and the store.
package core

import (
	"context"

	"go.uber.org/zap"
)

// AnalyzerType tells how an analyzer reaches its target.
type AnalyzerType string

const (
	// TypeStatic analyzers inspect source code without executing it.
	TypeStatic AnalyzerType = "STATIC"
)

// Analyzer is implemented by every analysis module.
type Analyzer interface {
	Name() string
	Description() string
	Type() AnalyzerType
	Analyze(ctx context.Context, analysisCtx *AnalysisContext) error
}

// BaseAnalyzer carries the identity fields of an Analyzer and a logger named
// after it. It is embedded by concrete analyzers.
type BaseAnalyzer struct {
	name         string
	description  string
	analyzerType AnalyzerType
	Logger       *zap.Logger
}

// NewBaseAnalyzer creates a BaseAnalyzer whose Logger is named after the analyzer.
func NewBaseAnalyzer(name, description string, analyzerType AnalyzerType, logger *zap.Logger) *BaseAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseAnalyzer{
		name:         name,
		description:  description,
		analyzerType: analyzerType,
		Logger:       logger.Named(name),
	}
}

// Name returns the analyzer's name.
func (b *BaseAnalyzer) Name() string {
	return b.name
}

// Description returns the analyzer's description.
func (b *BaseAnalyzer) Description() string {
	return b.description
}

// Type returns the analyzer's type.
func (b *BaseAnalyzer) Type() AnalyzerType {
	return b.analyzerType
}
