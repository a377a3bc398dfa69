// File: internal/analysis/extension/danger/params.go
package danger

import (
	"github.com/xkilldash9x/doublex/internal/pdg"
)

// paramRule locates the argument of a sink an attacker wants to control.
// Index is 1-based. Rules with inspect set need a shape check on top.
type paramRule struct {
	index   int
	inspect bool
}

// relevantParams covers the direct and indirect sinks. Exfiltration sinks
// are reported for their result, not their arguments.
var relevantParams = map[string]paramRule{
	"ajax":                  {1, false},
	"downloads.download":    {1, true},
	"eval":                  {1, false},
	"get":                   {1, false},
	"fetch":                 {1, false},
	"management.setEnabled": {1, false},
	"post":                  {1, false},
	"setInterval":           {1, true},
	"setTimeout":            {1, true},
	"storage.local.get":     {1, false},
	"storage.local.set":     {1, false},
	"storage.sync.get":      {1, false},
	"storage.sync.set":      {1, false},
	"tabs.executeScript":    {2, true},
	"XMLHttpRequest.open":   {2, false},
}

// ExtractRelevantParameters returns the arguments of call that matter to an
// attacker for the sink api. Unknown sinks, and calls with fewer arguments
// than the rule expects, return every argument. The result may be empty when
// the call cannot be abused (a function passed to setTimeout, a script file
// passed to tabs.executeScript).
func ExtractRelevantParameters(call *pdg.Node, api string) []*pdg.Node {
	params := call.Arguments()
	rule, known := relevantParams[api]
	if !known {
		return params
	}

	var param *pdg.Node
	switch {
	case rule.index <= len(params):
		param = params[rule.index-1]
	case api == "tabs.executeScript" && len(params) == 1:
		// The tab id is optional.
		param = params[0]
	default:
		return params
	}
	if !rule.inspect {
		return []*pdg.Node{param}
	}

	switch api {
	case "setInterval", "setTimeout":
		switch param.Kind {
		case pdg.KindLiteral, pdg.KindBinaryExpression, pdg.KindCallExpression, pdg.KindTaggedTemplateExpression:
			return []*pdg.Node{param}
		}

	case "downloads.download":
		if url, _ := ExtractObjectProperty(param, "url", ""); url != nil {
			return []*pdg.Node{url}
		}

	case "tabs.executeScript":
		details := param
		code, file := ExtractObjectProperty(details, "code", "file")
		if file {
			return nil
		}
		if code != nil {
			return []*pdg.Node{code}
		}
		first := params[0]
		if first == details {
			return []*pdg.Node{details}
		}
		code, file = ExtractObjectProperty(first, "code", "file")
		if file {
			return nil
		}
		if code != nil {
			return []*pdg.Node{code}
		}
		// The details object may be an alias we cannot see through.
		return []*pdg.Node{first, details}
	}
	return nil
}

// ExtractObjectProperty returns the value of the property named key of the
// object literal obj. When avoid is not empty and a property with that name
// comes first, it stops and reports avoided. Properties without exactly a
// key and a value child are skipped.
func ExtractObjectProperty(obj *pdg.Node, key, avoid string) (value *pdg.Node, avoided bool) {
	if obj == nil || obj.Kind != pdg.KindObjectExpression {
		return nil, false
	}
	for _, prop := range obj.Children {
		if len(prop.Children) != 2 {
			continue
		}
		k, v := prop.Children[0], prop.Children[1]
		if k.Role != pdg.RoleKey || v.Role != pdg.RoleValue {
			continue
		}
		if k.Kind != pdg.KindIdentifier && k.Kind != pdg.KindLiteral {
			continue
		}
		name := propertyName(prop, k)
		if name == key {
			return v, false
		}
		if avoid != "" && name == avoid {
			return nil, true
		}
	}
	return nil, false
}

func propertyName(prop, key *pdg.Node) string {
	if key.Kind == pdg.KindIdentifier && !prop.Attrs.Computed {
		return key.Name()
	}
	return pdg.ComputeString(key)
}
