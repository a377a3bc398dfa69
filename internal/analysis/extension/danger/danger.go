// File: internal/analysis/extension/danger/danger.go
package danger

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/sinks"
	"github.com/xkilldash9x/doublex/internal/pdg"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// APIInfo is one call of a sensitive API.
type APIInfo struct {
	// Sink is the normalized sink name ("eval", "ajax", "XMLHttpRequest.open").
	Sink string
	// Node is the call.
	Node *pdg.Node
	// Value is the rendered text of the call.
	Value string
	// Params are the arguments relevant to an attacker. Empty for
	// exfiltration sinks.
	Params []*pdg.Node
	// Dataflow is set when a relevant argument depends on data received from
	// the web application or through a message.
	Dataflow bool
	// SentBack is set when the call, or the parameter of its callback, flows
	// into a message sent to the web application.
	SentBack bool
}

// Line is the source line span of the call.
func (a APIInfo) Line() string { return a.Node.Line() }

type paramView struct {
	Value string `json:"value"`
	Line  string `json:"line"`
}

type apiView struct {
	Sink     string      `json:"sink"`
	Value    string      `json:"value"`
	Line     string      `json:"line"`
	Params   []paramView `json:"params"`
	Dataflow bool        `json:"dataflow"`
	SentBack bool        `json:"sent_back"`
}

// MarshalJSON renders the call and its parameters by value and line.
func (a APIInfo) MarshalJSON() ([]byte, error) {
	v := apiView{
		Sink:     a.Sink,
		Value:    a.Value,
		Line:     a.Line(),
		Params:   make([]paramView, 0, len(a.Params)),
		Dataflow: a.Dataflow,
		SentBack: a.SentBack,
	}
	for _, p := range a.Params {
		v.Params = append(v.Params, paramView{Value: pdg.ComputeString(p), Line: p.Line()})
	}
	return json.Marshal(v)
}

// Danger groups the sink calls of one extension component by kind.
type Danger struct {
	Direct       []APIInfo `json:"direct_dangers"`
	Indirect     []APIInfo `json:"indirect_dangers"`
	Exfiltration []APIInfo `json:"exfiltration_dangers"`
}

// New returns an empty Danger whose lists encode as [] rather than null.
func New() *Danger {
	return &Danger{Direct: []APIInfo{}, Indirect: []APIInfo{}, Exfiltration: []APIInfo{}}
}

// Kind returns the calls recorded under k.
func (d *Danger) Kind(k sinks.Kind) []APIInfo {
	switch k {
	case sinks.Direct:
		return d.Direct
	case sinks.Indirect:
		return d.Indirect
	case sinks.Exfiltration:
		return d.Exfiltration
	}
	return nil
}

// Len is the number of recorded calls.
func (d *Danger) Len() int { return len(d.Direct) + len(d.Indirect) + len(d.Exfiltration) }

func (d *Danger) add(k sinks.Kind, info APIInfo) {
	switch k {
	case sinks.Direct:
		d.Direct = append(d.Direct, info)
	case sinks.Indirect:
		d.Indirect = append(d.Indirect, info)
	case sinks.Exfiltration:
		d.Exfiltration = append(d.Exfiltration, info)
	}
}
