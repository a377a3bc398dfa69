// Filename: javascript/builder.go
// Package javascript builds the dependence graph of a browser-extension
// script: it parses with tree-sitter, lowers the tree to ESTree-shaped nodes
// and links definitions, uses, call arguments and value provenance.
package javascript

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/highwayhash"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/pdg"
)

// DefaultMaxDepth is the nesting ceiling applied when none is configured.
const DefaultMaxDepth = 2000

// digestKey keys the per-file content digest. The digest identifies a script
// across runs; it is not a security boundary.
var digestKey = []byte("doublex-pdg-content-digest-key-0")

// Options tunes graph construction.
type Options struct {
	// MaxDepth bounds syntax nesting; deeper scripts fail with ErrMaxDepth.
	MaxDepth int
	// FoldTimeout bounds each constant-folding evaluation.
	FoldTimeout time.Duration
}

// Builder turns JavaScript source into dependence graphs. A Builder is safe
// for concurrent use; each Build call uses its own parser.
type Builder struct {
	logger    *zap.Logger
	opts      Options
	evaluator *Evaluator
}

// NewBuilder creates a graph builder.
func NewBuilder(logger *zap.Logger, opts Options) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.FoldTimeout <= 0 {
		opts.FoldTimeout = DefaultFoldTimeout
	}
	return &Builder{
		logger:    logger.Named("js_pdg"),
		opts:      opts,
		evaluator: NewEvaluator(logger, opts.FoldTimeout),
	}
}

// Build parses content and returns the root Program node of its graph.
func (b *Builder) Build(ctx context.Context, filename, content string) (*pdg.Node, error) {
	b.logger.Debug("Building dependence graph", zap.String("filename", filename), zap.Int("size_bytes", len(content)))

	prog := pdg.NewProgram(filename)
	prog.Folder = b.evaluator
	source := []byte(content)
	if digest, err := highwayhash.New64(digestKey); err == nil {
		_, _ = digest.Write(source)
		prog.Digest = digest.Sum64()
	}

	if content == "" {
		return pdg.New(prog, pdg.KindProgram, ""), nil
	}

	// 1. Parsing Phase
	parser := sitter.NewParser()
	parser.SetLanguage(javascript.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter failed to parse %s: %w", filename, err)
	}
	defer tree.Close()

	rootNode := tree.RootNode()
	if rootNode.HasError() {
		b.logger.Warn("Tree-sitter detected syntax errors; graph may be incomplete", zap.String("file", filename))
	}

	// 2. Lowering to ESTree-shaped nodes.
	conv := &converter{source: source, prog: prog, maxDepth: b.opts.MaxDepth}
	root, err := conv.program(rootNode)
	if err != nil {
		return nil, fmt.Errorf("lowering %s: %w", filename, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 3. Scope resolution and edge construction.
	l := &linker{maxDepth: b.opts.MaxDepth}
	if err := l.link(root); err != nil {
		return nil, fmt.Errorf("linking %s: %w", filename, err)
	}

	b.logger.Debug("Dependence graph built", zap.String("filename", filename), zap.Int("nodes", countNodes(root)))
	return root, nil
}

func countNodes(root *pdg.Node) int {
	count := 0
	pdg.Walk(root, func(*pdg.Node) bool {
		count++
		return true
	})
	return count
}
