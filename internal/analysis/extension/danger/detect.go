// File: internal/analysis/extension/danger/detect.go
package danger

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/sinks"
	"github.com/xkilldash9x/doublex/internal/pdg"
)

// Target is one extension component to inspect.
type Target struct {
	// Name identifies the component in logs ("cs", "bp").
	Name string
	Root *pdg.Node
	// Sinks is the component's part of the sink catalog.
	Sinks sinks.Component
	// FromWebApp are the nodes receiving data from the web application.
	FromWebApp []*pdg.Node
	// ToWebApp are the nodes sent to the web application.
	ToWebApp []*pdg.Node
}

// Detector walks linked graphs and records the calls of catalogued sinks.
type Detector struct {
	logger *zap.Logger
}

// NewDetector creates a detector.
func NewDetector(logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{logger: logger.Named("danger")}
}

// Detect classifies every call of the target against its sinks. Each kind is
// checked on its own, with the callee text first and the whole call text as
// the XHR fallback. Cancellation stops the walk and returns what was found
// with the context error.
func (d *Detector) Detect(ctx context.Context, t Target) (*Danger, error) {
	out := New()
	if t.Root == nil || t.Sinks.IsEmpty() {
		return out, nil
	}
	logger := d.logger.With(zap.String("component", t.Name), zap.String("file", t.Root.File()))

	received := make(map[*pdg.Node]struct{}, len(t.FromWebApp))
	for _, n := range t.FromWebApp {
		received[n] = struct{}{}
	}

	var err error
	pdg.Walk(t.Root, func(n *pdg.Node) bool {
		if err != nil {
			return false
		}
		if err = ctx.Err(); err != nil {
			return false
		}
		callee := n.Callee()
		if callee == nil {
			return true
		}
		calleeText := pdg.ComputeString(callee)
		callText := ""
		for _, k := range sinks.Kinds {
			cats := t.Sinks.Kind(k)
			if len(cats) == 0 {
				continue
			}
			name, ok := ClassifySink(calleeText, cats)
			if !ok {
				if callText == "" {
					callText = pdg.ComputeString(n)
				}
				name, ok = MatchAsyncXHR(callText, cats)
			}
			if !ok {
				continue
			}
			if callText == "" {
				callText = pdg.ComputeString(n)
			}
			info := APIInfo{Sink: name, Node: n, Value: callText}
			if k != sinks.Exfiltration {
				info.Params = ExtractRelevantParameters(n, name)
				info.Dataflow = attackerControlled(info.Params, received)
			}
			if k != sinks.Direct {
				info.SentBack = sentBack(n, t.ToWebApp)
			}
			out.add(k, info)
			logger.Debug("Dangerous sink called",
				zap.String("kind", string(k)),
				zap.String("sink", name),
				zap.Int("node_id", n.ID),
				zap.String("line", n.Line()),
				zap.Bool("dataflow", info.Dataflow),
				zap.Bool("sent_back", info.SentBack))
		}
		return true
	})

	logger.Info("Detection finished",
		zap.Int("direct", len(out.Direct)),
		zap.Int("indirect", len(out.Indirect)),
		zap.Int("exfiltration", len(out.Exfiltration)))
	return out, err
}

// attackerControlled reports whether a value in one of params was received
// from the web application or through a message flow, directly or through
// its provenance. Function arguments are not entered.
func attackerControlled(params []*pdg.Node, received map[*pdg.Node]struct{}) bool {
	tainted := func(n *pdg.Node) bool {
		if _, ok := received[n]; ok {
			return true
		}
		return len(n.FlowParents) > 0
	}
	found := false
	for _, p := range params {
		pdg.Walk(p, func(n *pdg.Node) bool {
			if found || n.Kind.IsFunction() {
				return false
			}
			if tainted(n) {
				found = true
				return false
			}
			if n.IsValue() {
				for _, pp := range n.Value().ProvenanceParents() {
					if tainted(pp) {
						found = true
						return false
					}
				}
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

// sentBack reports whether the result of call reaches one of the nodes sent
// to the web application. The result is observed through the binding the call
// initializes and through the parameters of its callbacks, including a
// chained .then.
func sentBack(call *pdg.Node, sent []*pdg.Node) bool {
	if len(sent) == 0 {
		return false
	}
	results := resultNodes(call)
	reaches := func(n *pdg.Node) bool {
		if _, ok := results[n]; ok {
			return true
		}
		if n.IsValue() {
			for _, p := range n.Value().ProvenanceParents() {
				if _, ok := results[p]; ok {
					return true
				}
			}
		}
		return false
	}
	for _, s := range sent {
		found := false
		pdg.Walk(s, func(n *pdg.Node) bool {
			if found || n.Kind.IsFunction() {
				return false
			}
			if reaches(n) {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

// resultNodes collects the nodes holding the result of call.
func resultNodes(call *pdg.Node) map[*pdg.Node]struct{} {
	out := map[*pdg.Node]struct{}{call: {}}
	addCallbackParams := func(c *pdg.Node) {
		for _, arg := range c.Arguments() {
			fn := arg
			if arg.Kind == pdg.KindIdentifier && arg.Fun != nil {
				fn = arg.Fun
			}
			if !fn.Kind.IsFunction() {
				continue
			}
			for _, p := range fn.Params {
				out[p] = struct{}{}
			}
		}
	}
	addCallbackParams(call)

	// Climb await and .then chains up to the binding of the result.
	cur := call
	for cur.Parent != nil {
		parent := cur.Parent
		switch {
		case parent.Kind == pdg.KindAwaitExpression:
			out[parent] = struct{}{}
			cur = parent
			continue
		case parent.Kind == pdg.KindMemberExpression && cur.Role == pdg.RoleObject:
			prop := parent.ChildByRole(pdg.RoleProperty)
			outer := parent.Parent
			if prop != nil && prop.Name() == "then" && outer != nil && outer.Callee() == parent {
				addCallbackParams(outer)
				out[outer] = struct{}{}
				cur = outer
				continue
			}
		case parent.Kind == pdg.KindVariableDeclarator && cur.Role == pdg.RoleInit:
			if id := parent.ChildByRole(pdg.RoleID); id != nil {
				out[id] = struct{}{}
			}
		case parent.Kind == pdg.KindAssignmentExpression && cur.Role == pdg.RoleRight:
			if left := parent.ChildByRole(pdg.RoleLeft); left != nil {
				out[left] = struct{}{}
			}
		}
		break
	}
	return out
}
