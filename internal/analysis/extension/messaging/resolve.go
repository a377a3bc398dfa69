// File: internal/analysis/extension/messaging/resolve.go
package messaging

import (
	"strings"

	"github.com/xkilldash9x/doublex/internal/pdg"
)

// ResolveDefinition finds the index-th formal parameter of the callback an
// argument stands for. The argument may be the function itself, an object
// literal wrapping it, an identifier bound to it (possibly through function
// parameters), or an expression whose value is the function. A function with
// fewer parameters yields (nil, fn); an unresolvable argument yields
// (nil, nil).
func ResolveDefinition(arg *pdg.Node, index int) (param, fn *pdg.Node) {
	return resolveDefinition(arg, index, make(map[*pdg.Node]struct{}))
}

func resolveDefinition(arg *pdg.Node, index int, visited map[*pdg.Node]struct{}) (*pdg.Node, *pdg.Node) {
	if arg == nil {
		return nil, nil
	}
	if _, seen := visited[arg]; seen {
		return nil, nil
	}
	visited[arg] = struct{}{}

	switch {
	case arg.Kind.IsFunction():
		return paramAt(arg, index), arg

	case arg.Kind == pdg.KindObjectExpression:
		// Observed as sendMessage({handler: function(response) {...}}).
		prop := arg.Child(0)
		if prop == nil {
			return nil, nil
		}
		return resolveDefinition(prop.ChildByRole(pdg.RoleValue), index, visited)

	case arg.Kind == pdg.KindIdentifier:
		if len(arg.DataDepParents) == 0 {
			if arg.Fun != nil {
				return paramAt(arg.Fun, index), arg.Fun
			}
			return nil, nil
		}
		def := pdg.FirstDataDepRoot(arg)
		fn := def.Fun
		if fn == nil && len(def.FunParamChildren) > 0 {
			// def is a parameter: the callback is whatever the callers pass.
			for _, actual := range def.FunParamChildren {
				if actual == arg {
					continue
				}
				return resolveDefinition(actual, index, visited)
			}
		}
		if fn == nil {
			return nil, nil
		}
		return paramAt(fn, index), fn
	}

	// Callbacks stored in containers, e.g. handlers["onResponse"].
	if v, ok := pdg.ComputeValue(arg).(*pdg.Node); ok {
		return resolveDefinition(v, index, visited)
	}
	return nil, nil
}

func paramAt(fn *pdg.Node, index int) *pdg.Node {
	if index < 0 || index >= len(fn.Params) {
		return nil
	}
	return fn.Params[index]
}

// ResolveInvocation follows a callback parameter to the places where it is
// invoked and returns the first argument of each invocation. Aliases (the
// callback stored in another variable or passed to another function) are
// followed. visited guards against cyclic aliasing and is updated in place.
// A nil result means the callback is never used.
func ResolveInvocation(param *pdg.Node, visited map[*pdg.Node]struct{}) []*pdg.Node {
	if param == nil {
		return nil
	}
	if _, seen := visited[param]; seen {
		return nil
	}
	visited[param] = struct{}{}

	if param.Kind.IsFunction() {
		if p := paramAt(param, 0); p != nil {
			return []*pdg.Node{p}
		}
		return nil
	}
	if param.Kind != pdg.KindIdentifier || len(param.DataDepChildren) == 0 {
		return nil
	}

	out := []*pdg.Node{}
	for _, use := range param.DataDepChildren {
		if len(use.FunParamParents) > 0 {
			// Passed on to another function: follow its formal parameter.
			for _, formal := range use.FunParamParents {
				if formal != param {
					out = append(out, ResolveInvocation(formal, visited)...)
				}
			}
			continue
		}

		parent := use.Parent
		if parent == nil {
			continue
		}
		switch {
		case parent.Kind.IsCall():
			// sendResponse() without an argument answers nothing.
			if use.Role == pdg.RoleCallee || use.Role == pdg.RoleTag {
				if arg := parent.Child(1); arg != nil {
					out = append(out, arg)
				}
			}
		case parent.Kind == pdg.KindVariableDeclarator && use.Role == pdg.RoleInit:
			// var respond = sendResponse;
			if id := parent.ChildByRole(pdg.RoleID); id != nil {
				out = append(out, ResolveInvocation(id, visited)...)
			}
		case parent.Kind == pdg.KindAssignmentExpression && use.Role == pdg.RoleRight:
			if left := parent.ChildByRole(pdg.RoleLeft); left != nil {
				out = append(out, ResolveInvocation(left, visited)...)
			}
		}
	}
	return out
}

// FindPromiseResolve returns the first Promise.resolve(...) call found in a
// depth-first search of n, or nil.
func FindPromiseResolve(n *pdg.Node) *pdg.Node {
	return pdg.Find(n, func(cur *pdg.Node) bool {
		callee := cur.Callee()
		if callee == nil {
			return false
		}
		s, ok := pdg.ComputeValue(callee).(string)
		return ok && strings.Contains(s, "Promise.resolve")
	})
}
