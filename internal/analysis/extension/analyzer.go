// File: internal/analysis/extension/analyzer.go
// Package extension runs the cross-context analysis of a browser extension:
// it builds the graph of each component, links them through their messages,
// finds what they exchange with the web application and reports the
// sensitive APIs they reach.
package extension

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/viant/afs"
	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/analysis/core"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/catalog"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/danger"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/linker"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/manifest"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/messaging"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/sinks"
	"github.com/xkilldash9x/doublex/internal/analysis/static/javascript"
	"github.com/xkilldash9x/doublex/internal/config"
	"github.com/xkilldash9x/doublex/internal/pdg"
)

// CrashLinkingTimeout marks a run whose message linking ran out of time.
const CrashLinkingTimeout = "linking-messages-timeout"

// Benchmark phase names.
const (
	BenchCollected = "collected messages"
	BenchLinked    = "linked messages"
	BenchDetection = "detection"
)

// DefaultBuildTimeout bounds the graph construction of one script when no
// timeout is configured.
const DefaultBuildTimeout = 120 * time.Second

// warChannel replaces the WA_CS channel key of a web accessible resource's
// messages so they do not collide with the content script's.
const warChannel = "WA_WAR"

// Analyzer analyzes one extension per Analyze call. It holds no per-run
// state and may run several analyses concurrently.
type Analyzer struct {
	*core.BaseAnalyzer
	cfg      config.AnalysisConfig
	builder  *javascript.Builder
	linker   *linker.Linker
	detector *danger.Detector
	fs       afs.Service
}

var _ core.Analyzer = (*Analyzer)(nil)

// NewAnalyzer creates an extension analyzer.
func NewAnalyzer(logger *zap.Logger, cfg config.AnalysisConfig) *Analyzer {
	if cfg.BuildTimeout <= 0 {
		cfg.BuildTimeout = DefaultBuildTimeout
	}
	base := core.NewBaseAnalyzer("extension", "Suspicious data flows between browser extension contexts and the web", core.TypeStatic, logger)
	return &Analyzer{
		BaseAnalyzer: base,
		cfg:          cfg,
		builder:      javascript.NewBuilder(base.Logger, javascript.Options{MaxDepth: cfg.MaxDepth, FoldTimeout: cfg.FoldTimeout}),
		linker:       linker.New(base.Logger, linker.Options{LinkTimeout: cfg.LinkTimeout, ProvenanceTimeout: cfg.ProvenanceTimeout}),
		detector:     danger.NewDetector(base.Logger),
		fs:           afs.New(),
	}
}

// Analyze runs the analysis of ac.Target and fills ac.Result. Failures of a
// single phase are recorded as crash markers and the run goes on; only
// cancellation of ctx aborts it.
func (a *Analyzer) Analyze(ctx context.Context, ac *core.AnalysisContext) error {
	t, res := ac.Target, ac.Result
	logger := a.Logger.With(zap.String("run_id", ac.RunID.String()), zap.String("extension", t.Extension()))
	family := catalog.Other
	if t.Chrome {
		family = catalog.Chrome
	}
	second := core.ComponentBackground
	if t.WAR {
		second = core.ComponentWAR
	}
	logger.Info("Analyzing extension",
		zap.String("cs", t.ContentScript),
		zap.String(second, t.Background),
		zap.String("browser", family.String()))

	cs := a.build(ctx, logger, res, core.ComponentContentScript, t.ContentScript)
	bp := a.build(ctx, logger, res, second, t.Background)
	if err := ctx.Err(); err != nil {
		return err
	}

	apis, err := sinks.Resolve(t.APIs, t.ManifestPath())
	if err != nil {
		logger.Warn("No sink catalog; sensitive APIs will not be reported", zap.String("apis", t.APIs), zap.Error(err))
		if !errors.Is(err, manifest.ErrNotFound) {
			res.AddCrash("apis: " + err.Error())
		}
	}

	if !t.WAR {
		lres, err := a.linker.LinkContexts(ctx, cs, bp, catalog.CS2BP, catalog.BP2CS, family)
		if lres != nil {
			res.Benchmark(BenchCollected, lres.Collected)
			res.Benchmark(BenchLinked, lres.Linked)
			res.Messages.Merge(lres.Messages.Dump())
		}
		switch {
		case errors.Is(err, linker.ErrLinkingTimeout):
			logger.Error("Linking messages timed out", zap.Error(err))
			res.AddCrash(CrashLinkingTimeout)
		case err != nil:
			return fmt.Errorf("linking %s and %s: %w", t.ContentScript, t.Background, err)
		}
	}

	waCS, err := a.webApp(ctx, res, cs, catalog.ActorContent, family, "")
	if err != nil {
		return err
	}
	var waBP *messaging.WebApp
	if t.WAR {
		// A web accessible resource runs in a page of the extension origin
		// and talks to the web application the way a content script does.
		waBP, err = a.webApp(ctx, res, bp, catalog.ActorContent, family, warChannel)
	} else {
		waBP, err = a.webApp(ctx, res, bp, catalog.ActorBackground, family, "")
	}
	if err != nil {
		return err
	}

	if family == catalog.Chrome {
		res.DeprecatedAPIs = append(res.DeprecatedAPIs, messaging.DeprecatedAPIs(cs)...)
		res.DeprecatedAPIs = append(res.DeprecatedAPIs, messaging.DeprecatedAPIs(bp)...)
	}

	start := time.Now()
	targets := []danger.Target{
		{Name: core.ComponentContentScript, Root: cs, Sinks: apis.CS, FromWebApp: waCS.ReceivedNodes(), ToWebApp: waCS.SentNodes()},
		{Name: second, Root: bp, Sinks: apis.BP, FromWebApp: waBP.ReceivedNodes(), ToWebApp: waBP.SentNodes()},
	}
	for _, dt := range targets {
		d, err := a.detector.Detect(ctx, dt)
		res.Dangers[dt.Name] = d
		if err != nil {
			res.Benchmark(BenchDetection, time.Since(start))
			return err
		}
	}
	res.Benchmark(BenchDetection, time.Since(start))
	res.FinishedAt = time.Now().UTC()

	findings := res.Findings()
	suspicious := 0
	for _, f := range findings {
		if f.Suspicious() {
			suspicious++
		}
	}
	logger.Info("Extension analyzed",
		zap.Int("sink_calls", len(findings)),
		zap.Int("suspicious", suspicious),
		zap.Strings("crashes", res.Crashes),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)))
	return nil
}

// build reads and parses one component. Any failure leaves the component
// with an empty program and a "<component>: <error>" crash marker.
func (a *Analyzer) build(ctx context.Context, logger *zap.Logger, res *core.Result, component, path string) *pdg.Node {
	start := time.Now()
	defer func() { res.Benchmark(component+": PDG", time.Since(start)) }()

	content, err := a.read(ctx, path)
	var root *pdg.Node
	if err == nil {
		buildCtx, cancel := context.WithTimeout(ctx, a.cfg.BuildTimeout)
		root, err = a.builder.Build(buildCtx, path, content)
		cancel()
	}
	if err != nil {
		logger.Error("Could not build the dependence graph; using an empty program",
			zap.String("component", component), zap.String("file", path), zap.Error(err))
		res.AddCrash(component + ": " + err.Error())
		return pdg.NewRoot(path)
	}
	res.Digests[component] = fmt.Sprintf("%016x", root.Program().Digest)
	return root
}

// read loads a script from any location afs supports. An empty path is an
// empty script.
func (a *Analyzer) read(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	location := path
	if !strings.Contains(path, "://") {
		if abs, err := filepath.Abs(path); err == nil {
			location = abs
		}
	}
	data, err := a.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(data), nil
}

// webApp collects what root exchanges with the web application and adds it
// to the messages dump, under channel when it is set.
func (a *Analyzer) webApp(ctx context.Context, res *core.Result, root *pdg.Node, actor catalog.Actor, family catalog.Family, channel string) (*messaging.WebApp, error) {
	coll := messaging.NewCollection(a.Logger)
	wa, err := messaging.WebAppCommunication(ctx, root, actor, family, coll)
	if err != nil {
		return nil, err
	}
	dump := coll.Dump()
	if channel != "" {
		if v, ok := dump[string(catalog.ChannelWaAndCs)]; ok {
			delete(dump, string(catalog.ChannelWaAndCs))
			dump[channel] = v
		}
	}
	res.Messages.Merge(dump)
	return wa, nil
}
