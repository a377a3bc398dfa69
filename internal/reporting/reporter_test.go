// internal/reporting/reporter_test.go
package reporting_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/doublex/internal/analysis/core"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/danger"
	"github.com/xkilldash9x/doublex/internal/pdg"
	"github.com/xkilldash9x/doublex/internal/reporting"
)

const testToolVersion = "v1.0.0-test"

// newTestResult builds a result with one suspicious eval call in bp.js and
// one plain storage call in cs.js.
func newTestResult(t *testing.T) *core.Result {
	t.Helper()
	root := pdg.NewRoot("bp.js")
	call := root.NewChild(pdg.KindCallExpression, pdg.RoleBody)
	call.Attrs.Loc = pdg.Location{Start: pdg.Position{Line: 3}, End: pdg.Position{Line: 4}}
	arg := call.NewChild(pdg.KindLiteral, pdg.RoleArguments)
	arg.Value().Set("alert(1)")

	csRoot := pdg.NewRoot("cs.js")
	store := csRoot.NewChild(pdg.KindCallExpression, pdg.RoleBody)
	store.Attrs.Loc = pdg.Location{Start: pdg.Position{Line: 7}, End: pdg.Position{Line: 7}}

	r := core.NewResult(uuid.New(), core.Target{ContentScript: "ext/cs.js", Background: "ext/bp.js", Chrome: true, APIs: "all"}, time.Now())
	bp := danger.New()
	bp.Direct = append(bp.Direct, danger.APIInfo{Sink: "eval", Node: call, Value: `eval("alert(1)")`, Params: []*pdg.Node{arg}, Dataflow: true})
	cs := danger.New()
	cs.Exfiltration = append(cs.Exfiltration, danger.APIInfo{Sink: "storage.local.get", Node: store, Value: "chrome.storage.local.get()"})
	r.Dangers[core.ComponentBackground] = bp
	r.Dangers[core.ComponentContentScript] = cs
	return r
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestNew_Stdout(t *testing.T) {
	for _, format := range []string{reporting.FormatJSON, reporting.FormatSARIF} {
		r, err := reporting.New(format, "stdout", testToolVersion, false)
		require.NoError(t, err)
		// Close is a no-op for the stdout wrapper.
		assert.NoError(t, r.Close())
	}
}

func TestNew_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.txt")
	r, err := reporting.New("text", path, testToolVersion, false)
	assert.Nil(t, r)
	assert.EqualError(t, err, "unsupported output format: text")
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no file is created for an unknown format")

	_, err = reporting.ForResult("xml", path, testToolVersion, false)
	assert.Error(t, err)
}

func TestNew_UnwritablePath(t *testing.T) {
	_, err := reporting.New(reporting.FormatJSON, filepath.Join(t.TempDir(), "missing", "a.json"), testToolVersion, false)
	assert.ErrorContains(t, err, "failed to create output file")
}

func TestJSONReporter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analysis.json")
	result := newTestResult(t)

	r, err := reporting.New(reporting.FormatJSON, path, testToolVersion, true)
	require.NoError(t, err)
	require.NoError(t, r.Write(result))
	require.NoError(t, r.Close())

	doc := readJSON(t, path)
	assert.Equal(t, result.RunID.String(), doc["run_id"])
	assert.Equal(t, "ext", doc["extension"])

	dangers := doc["dangers"].(map[string]any)
	direct := dangers["bp"].(map[string]any)["direct_dangers"].([]any)
	require.Len(t, direct, 1)
	eval := direct[0].(map[string]any)
	assert.Equal(t, "eval", eval["sink"])
	assert.Equal(t, "3 - 4", eval["line"])
	assert.Equal(t, true, eval["dataflow"])
}

func TestMarshal_Compact(t *testing.T) {
	data, err := reporting.Marshal(newTestResult(t), false)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\n  ")
}

func TestForResult_Both(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "analysis.json")
	result := newTestResult(t)

	r, err := reporting.ForResult(reporting.FormatBoth, jsonPath, testToolVersion, false)
	require.NoError(t, err)
	require.NoError(t, r.Write(result))
	require.NoError(t, r.Close())

	assert.Equal(t, result.RunID.String(), readJSON(t, jsonPath)["run_id"])

	log := readJSON(t, filepath.Join(dir, "analysis.sarif"))
	assert.Equal(t, "2.1.0", log["version"])
	runs := log["runs"].([]any)
	require.Len(t, runs, 1)
	run := runs[0].(map[string]any)

	driver := run["tool"].(map[string]any)["driver"].(map[string]any)
	assert.Equal(t, reporting.ToolName, driver["name"])
	assert.Equal(t, testToolVersion, driver["version"])
	assert.Len(t, driver["rules"], 2)

	results := run["results"].([]any)
	require.Len(t, results, 2)

	// Findings are ordered by component: bp before cs.
	eval := results[0].(map[string]any)
	assert.Equal(t, "DOUBLEX-DIRECT-EVAL", eval["ruleId"])
	assert.Equal(t, "error", eval["level"])
	loc := eval["locations"].([]any)[0].(map[string]any)["physicalLocation"].(map[string]any)
	assert.Equal(t, "bp.js", loc["artifactLocation"].(map[string]any)["uri"])
	region := loc["region"].(map[string]any)
	assert.EqualValues(t, 3, region["startLine"])
	assert.EqualValues(t, 4, region["endLine"])
	props := eval["properties"].(map[string]any)
	assert.Equal(t, "bp", props["component"])
	assert.Equal(t, true, props["dataflow"])

	storage := results[1].(map[string]any)
	assert.Equal(t, "DOUBLEX-EXFILTRATION-STORAGE.LOCAL.GET", storage["ruleId"])
	assert.Equal(t, "note", storage["level"])
}

func TestSARIFReporter_AccumulatesRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.sarif")
	r, err := reporting.New(reporting.FormatSARIF, path, testToolVersion, false)
	require.NoError(t, err)
	require.NoError(t, r.Write(newTestResult(t)))
	require.NoError(t, r.Write(newTestResult(t)))
	require.NoError(t, r.Close())

	run := readJSON(t, path)["runs"].([]any)[0].(map[string]any)
	assert.Len(t, run["results"], 4)
	assert.Len(t, run["tool"].(map[string]any)["driver"].(map[string]any)["rules"], 2, "rules are shared across results")
}

func TestRuleID(t *testing.T) {
	tests := []struct {
		kind, sink, want string
	}{
		{"direct_dangers", "eval", "DOUBLEX-DIRECT-EVAL"},
		{"indirect_dangers", "fetch", "DOUBLEX-INDIRECT-FETCH"},
		{"exfiltration_dangers", "cookies.getAll", "DOUBLEX-EXFILTRATION-COOKIES.GETALL"},
		{"direct_dangers", "tabs executeScript()", "DOUBLEX-DIRECT-TABS-EXECUTESCRIPT"},
		{"direct_dangers", "()", "DOUBLEX-DIRECT-UNKNOWN-SINK"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, reporting.RuleID(core.Finding{Kind: tt.kind, Sink: tt.sink}))
		})
	}
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, "error", reporting.LevelFor(core.Finding{Dataflow: true}))
	assert.Equal(t, "error", reporting.LevelFor(core.Finding{SentBack: true}))
	assert.Equal(t, "note", reporting.LevelFor(core.Finding{}))
}

func TestSARIFPath(t *testing.T) {
	assert.Equal(t, "/x/analysis.sarif", reporting.SARIFPath("/x/analysis.json"))
	assert.Equal(t, "/x/out.sarif", reporting.SARIFPath("/x/out"))
	assert.Equal(t, "stdout", reporting.SARIFPath("stdout"))
	assert.Equal(t, "", reporting.SARIFPath(""))
}
