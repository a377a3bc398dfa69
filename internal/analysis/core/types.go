package core

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/danger"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/messaging"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/sinks"
	"github.com/xkilldash9x/doublex/internal/pdg"
)

// Component names used as keys of Result.Dangers.
const (
	ComponentContentScript = "cs"
	ComponentBackground    = "bp"
	ComponentWAR           = "war"
)

// Result is everything one analysis run produced. It is the content of
// analysis.json.
type Result struct {
	RunID         uuid.UUID `json:"run_id"`
	Extension     string    `json:"extension"`
	ContentScript string    `json:"content_script"`
	Background    string    `json:"background"`
	WAR           bool      `json:"war"`
	Chrome        bool      `json:"chrome"`
	APIs          string    `json:"apis"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	// Digests fingerprints each analyzed script.
	Digests map[string]string `json:"digests"`
	// Benchmarks holds phase durations in seconds ("cs: PDG", "linked messages").
	Benchmarks map[string]float64 `json:"benchmarks"`
	// Crashes lists phases that failed or timed out.
	Crashes        []string       `json:"crashes"`
	DeprecatedAPIs []string       `json:"deprecated_apis"`
	Messages       messaging.Dump `json:"messages"`
	// Dangers maps a component (cs, bp or war) to its sink calls.
	Dangers map[string]*danger.Danger `json:"dangers"`
}

// NewResult returns an empty result for target.
func NewResult(id uuid.UUID, target Target, started time.Time) *Result {
	return &Result{
		RunID:          id,
		Extension:      target.Extension(),
		ContentScript:  target.ContentScript,
		Background:     target.Background,
		WAR:            target.WAR,
		Chrome:         target.Chrome,
		APIs:           target.APIs,
		StartedAt:      started,
		Digests:        map[string]string{},
		Benchmarks:     map[string]float64{},
		Crashes:        []string{},
		DeprecatedAPIs: []string{},
		Messages:       messaging.Dump{},
		Dangers:        map[string]*danger.Danger{},
	}
}

// Benchmark records the duration of a phase.
func (r *Result) Benchmark(phase string, d time.Duration) {
	r.Benchmarks[phase] = d.Seconds()
}

// AddCrash records a crash marker once.
func (r *Result) AddCrash(marker string) {
	for _, c := range r.Crashes {
		if c == marker {
			return
		}
	}
	r.Crashes = append(r.Crashes, marker)
}

// Param is a rendered attacker-relevant argument.
type Param struct {
	Value string `json:"value"`
	Line  string `json:"line"`
}

// Finding is one sink call in a flat, serializable shape. It is what the
// store persists and what SARIF reports are built from.
type Finding struct {
	Component string  `json:"component"`
	Kind      string  `json:"kind"`
	Sink      string  `json:"sink"`
	Value     string  `json:"value"`
	Line      string  `json:"line"`
	StartLine int     `json:"start_line"`
	EndLine   int     `json:"end_line"`
	File      string  `json:"file"`
	Params    []Param `json:"params"`
	Dataflow  bool    `json:"dataflow"`
	SentBack  bool    `json:"sent_back"`
}

// Suspicious reports whether attacker data reaches the sink or the sink's
// result reaches the attacker.
func (f Finding) Suspicious() bool { return f.Dataflow || f.SentBack }

// Findings flattens the dangers, ordered by component then kind then source
// order.
func (r *Result) Findings() []Finding {
	components := make([]string, 0, len(r.Dangers))
	for c := range r.Dangers {
		components = append(components, c)
	}
	sort.Strings(components)

	var out []Finding
	for _, c := range components {
		d := r.Dangers[c]
		if d == nil {
			continue
		}
		for _, k := range sinks.Kinds {
			for _, info := range d.Kind(k) {
				out = append(out, newFinding(c, k, info))
			}
		}
	}
	return out
}

func newFinding(component string, k sinks.Kind, info danger.APIInfo) Finding {
	f := Finding{
		Component: component,
		Kind:      string(k),
		Sink:      info.Sink,
		Value:     info.Value,
		Params:    make([]Param, 0, len(info.Params)),
		Dataflow:  info.Dataflow,
		SentBack:  info.SentBack,
	}
	if info.Node != nil {
		f.Line = info.Node.Line()
		f.StartLine = info.Node.Attrs.Loc.Start.Line
		f.EndLine = info.Node.Attrs.Loc.End.Line
		f.File = info.Node.File()
	}
	for _, p := range info.Params {
		f.Params = append(f.Params, Param{Value: pdg.ComputeString(p), Line: p.Line()})
	}
	return f
}

// Reporter publishes the result of a run.
type Reporter interface {
	Write(result *Result) error
}
