// internal/reporting/sarif_reporter.go
package reporting

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/owenrumney/go-sarif/v2/sarif"
	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/analysis/core"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/sinks"
	"github.com/xkilldash9x/doublex/internal/observability"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName    = "DoubleX"
	ToolInfoURI = "https://github.com/xkilldash9x/doublex"
)

// ruleIDSanitizer replaces characters not typically safe or allowed in SARIF Rule IDs.
var ruleIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_.]+`)

var kindDescriptions = map[sinks.Kind]string{
	sinks.Direct:       "Sensitive API executing attacker-provided code or requests",
	sinks.Indirect:     "Sensitive API whose result may be sent back to the web page",
	sinks.Exfiltration: "Sensitive API exposing user data",
}

// SARIFReporter collects the sink calls of every written result into one
// SARIF 2.1.0 run and writes the log on Close. It is thread safe.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	// mu protects report and run.
	mu     sync.Mutex
	report *sarif.Report
	run    *sarif.Run
}

// NewSARIFReporter takes ownership of writer.
func NewSARIFReporter(writer io.WriteCloser, toolVersion string) (*SARIFReporter, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("failed to create SARIF report: %w", err)
	}
	run := sarif.NewRunWithInformationURI(ToolName, ToolInfoURI)
	if toolVersion != "" {
		run.Tool.Driver.Version = &toolVersion
	}
	report.AddRun(run)

	return &SARIFReporter{
		writer: writer,
		logger: observability.GetLogger().Named("sarif_reporter"),
		report: report,
		run:    run,
	}, nil
}

// Write adds one SARIF result per sink call of result.
func (r *SARIFReporter) Write(result *core.Result) error {
	return r.WriteFindings(result.RunID.String(), result.Extension, result.Findings())
}

// WriteFindings adds one SARIF result per finding. It serves runs loaded
// back from the store, whose graphs are gone.
func (r *SARIFReporter) WriteFindings(runID, extension string, findings []core.Finding) error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range findings {
		level := LevelFor(f)
		rule := r.run.AddRule(RuleID(f)).
			WithDescription(kindDescriptions[sinks.Kind(f.Kind)]).
			WithDefaultConfiguration(&sarif.ReportingConfiguration{Level: level})

		res := sarif.NewRuleResult(rule.ID).
			WithMessage(sarif.NewTextMessage(message(f))).
			WithLevel(level).
			WithLocations([]*sarif.Location{location(f)})
		res.PropertyBag = *sarif.NewPropertyBag()
		res.Add("run_id", runID)
		res.Add("extension", extension)
		res.Add("component", f.Component)
		res.Add("dataflow", f.Dataflow)
		res.Add("sent_back", f.SentBack)
		if len(f.Params) > 0 {
			res.Add("params", f.Params)
		}
		r.run.AddResult(res)
	}

	if len(findings) > 0 {
		r.logger.Debug("Wrote findings to SARIF buffer",
			zap.Int("findings_count", len(findings)),
			zap.Duration("duration_ms", time.Since(startTime)),
		)
	}
	return nil
}

// Close writes the SARIF log and closes the output writer.
func (r *SARIFReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("Finalizing SARIF report",
		zap.Int("total_results", len(r.run.Results)),
		zap.Int("total_rules", len(r.run.Tool.Driver.Rules)),
	)

	encodeErr := r.report.PrettyWrite(r.writer)
	// Always attempt to close the writer, regardless of encoding success.
	closeErr := r.writer.Close()

	if encodeErr != nil {
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	return nil
}

// RuleID names the rule of a sink call: DOUBLEX-<KIND>-<SINK>.
func RuleID(f core.Finding) string {
	kind := strings.TrimSuffix(f.Kind, "_dangers")
	sink := strings.Trim(ruleIDSanitizer.ReplaceAllString(f.Sink, "-"), "-")
	if sink == "" {
		sink = "UNKNOWN-SINK"
	}
	return strings.ToUpper("DOUBLEX-" + kind + "-" + sink)
}

// LevelFor maps a sink call to a SARIF level. Calls reached by web page data,
// or whose result goes back to the web page, are errors.
func LevelFor(f core.Finding) string {
	if f.Suspicious() {
		return "error"
	}
	return "note"
}

func message(f core.Finding) string {
	switch {
	case f.Dataflow && f.SentBack:
		return fmt.Sprintf("Data from the web page reaches %s and its result is sent back: %s", f.Sink, f.Value)
	case f.Dataflow:
		return fmt.Sprintf("Data from the web page reaches %s: %s", f.Sink, f.Value)
	case f.SentBack:
		return fmt.Sprintf("The result of %s is sent back to the web page: %s", f.Sink, f.Value)
	default:
		return fmt.Sprintf("Call to %s: %s", f.Sink, f.Value)
	}
}

func location(f core.Finding) *sarif.Location {
	region := sarif.NewRegion().WithStartLine(max(f.StartLine, 1))
	if f.EndLine >= f.StartLine && f.EndLine > 0 {
		region = region.WithEndLine(f.EndLine)
	}
	return sarif.NewLocation().WithPhysicalLocation(
		sarif.NewPhysicalLocation().
			WithArtifactLocation(sarif.NewArtifactLocation().WithUri(f.File)).
			WithRegion(region),
	)
}
