// Filename: javascript/scope.go
// Resolves identifiers to their definitions and adds the data-dependency,
// function-parameter and provenance edges of the graph.
package javascript

import (
	"fmt"

	"github.com/xkilldash9x/doublex/internal/pdg"
)

// scope maps names to the identifier node of their latest definition.
type scope struct {
	parent *scope
	// function scopes receive var declarations; block scopes only let/const.
	function bool
	vars     map[string]*pdg.Node
}

func newScope(parent *scope, function bool) *scope {
	return &scope{parent: parent, function: function, vars: make(map[string]*pdg.Node)}
}

func (s *scope) lookup(name string) (*pdg.Node, *scope) {
	for cur := s; cur != nil; cur = cur.parent {
		if def, ok := cur.vars[name]; ok {
			return def, cur
		}
	}
	return nil, nil
}

func (s *scope) functionScope() *scope {
	cur := s
	for !cur.function && cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

func (s *scope) global() *scope {
	cur := s
	for cur.parent != nil {
		cur = cur.parent
	}
	return cur
}

// linker walks the lowered tree once, in evaluation order.
type linker struct {
	maxDepth int
	depth    int
}

func (l *linker) enter() error {
	l.depth++
	if l.depth > l.maxDepth {
		return fmt.Errorf("%w (%d)", ErrMaxDepth, l.maxDepth)
	}
	return nil
}

func (l *linker) leave() { l.depth-- }

// link resolves the whole program.
func (l *linker) link(program *pdg.Node) error {
	s := newScope(nil, true)
	l.hoist(program, s)
	return l.visitChildren(program, s)
}

// hoist binds the function declarations found directly in body (outside
// nested functions) so calls that precede the declaration still resolve.
func (l *linker) hoist(body *pdg.Node, s *scope) {
	pdg.Walk(body, func(n *pdg.Node) bool {
		if n == body {
			return true
		}
		if n.Kind == pdg.KindFunctionDeclaration {
			if id := n.ChildByRole(pdg.RoleID); id != nil {
				id.Fun = n
				s.vars[id.Name()] = id
			}
			return false
		}
		return !n.Kind.IsFunction() && n.Kind != pdg.KindBlockStatement
	})
}

func (l *linker) visitChildren(n *pdg.Node, s *scope) error {
	for _, c := range n.Children {
		if err := l.visit(c, s); err != nil {
			return err
		}
	}
	return nil
}

func (l *linker) visit(n *pdg.Node, s *scope) error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.leave()

	switch n.Kind {
	case pdg.KindIdentifier:
		l.use(n, s)
		return nil

	case pdg.KindFunctionDeclaration, pdg.KindFunctionExpression, pdg.KindArrowFunctionExpression:
		return l.function(n, s)

	case pdg.KindBlockStatement:
		inner := newScope(s, false)
		l.hoist(n, inner)
		return l.visitChildren(n, inner)

	case pdg.KindVariableDeclaration:
		target := s
		if n.Attrs.DeclKind == "var" {
			target = s.functionScope()
		}
		for _, d := range n.Children {
			if err := l.declarator(d, s, target); err != nil {
				return err
			}
		}
		return nil

	case pdg.KindAssignmentExpression:
		return l.assignment(n, s)

	case pdg.KindMemberExpression:
		if obj := n.ChildByRole(pdg.RoleObject); obj != nil {
			if err := l.visit(obj, s); err != nil {
				return err
			}
		}
		if n.Attrs.Computed {
			if prop := n.ChildByRole(pdg.RoleProperty); prop != nil {
				return l.visit(prop, s)
			}
		}
		return nil

	case pdg.KindProperty, "MethodDefinition":
		for _, c := range n.Children {
			if c.Role == pdg.RoleKey && !n.Attrs.Computed {
				continue
			}
			if err := l.visit(c, s); err != nil {
				return err
			}
		}
		return nil

	case pdg.KindCallExpression, pdg.KindNewExpression, pdg.KindTaggedTemplateExpression:
		if err := l.visitChildren(n, s); err != nil {
			return err
		}
		l.bindArguments(n)
		return nil

	case pdg.KindReturnStatement:
		if err := l.visitChildren(n, s); err != nil {
			return err
		}
		if arg := n.Child(0); arg != nil {
			if v := pdg.ComputeValue(arg); v != nil {
				if _, isFn := v.(*pdg.Node); !isFn {
					n.Value().Set(v)
				}
			}
			provenanceFrom(n, arg)
		}
		return nil
	}

	if n.Kind == "LabeledStatement" || n.Kind == "BreakStatement" || n.Kind == "ContinueStatement" {
		return nil
	}
	return l.visitChildren(n, s)
}

// use links an identifier read to its definition.
func (l *linker) use(n *pdg.Node, s *scope) {
	def, _ := s.lookup(n.Name())
	if def == nil || def == n {
		return
	}
	def.AddDataDep(n)
	if def.Fun != nil {
		n.Fun = def.Fun
	}
}

// define makes id the current definition of its name in target.
func (l *linker) define(id *pdg.Node, target *scope) {
	target.vars[id.Name()] = id
}

// function opens a scope for params and body.
func (l *linker) function(fn *pdg.Node, s *scope) error {
	inner := newScope(s, true)
	if fn.Kind == pdg.KindFunctionExpression {
		if id := fn.ChildByRole(pdg.RoleID); id != nil {
			id.Fun = fn
			l.define(id, inner)
		}
	}
	for _, p := range fn.Params {
		if err := l.bindPattern(p, inner, nil); err != nil {
			return err
		}
	}
	body := fn.ChildByRole(pdg.RoleBody)
	if body == nil {
		return nil
	}
	if body.Kind == pdg.KindBlockStatement {
		l.hoist(body, inner)
		return l.visitChildren(body, inner)
	}
	return l.visit(body, inner)
}

// bindPattern defines every identifier a binding pattern introduces. When
// value is a known object, destructured names receive the matching member.
func (l *linker) bindPattern(p *pdg.Node, target *scope, value any) error {
	switch p.Kind {
	case pdg.KindIdentifier:
		if value != nil {
			if fn, ok := value.(*pdg.Node); ok {
				p.Fun = fn
			} else {
				p.Value().Set(value)
			}
		}
		l.define(p, target)

	case pdg.KindAssignmentPattern:
		if right := p.ChildByRole(pdg.RoleRight); right != nil {
			if err := l.visit(right, target); err != nil {
				return err
			}
			if value == nil {
				value = pdg.ComputeValue(right)
			}
		}
		if left := p.ChildByRole(pdg.RoleLeft); left != nil {
			return l.bindPattern(left, target, value)
		}

	case pdg.KindObjectPattern:
		obj, _ := value.(map[string]any)
		for _, prop := range p.Children {
			switch prop.Kind {
			case pdg.KindProperty:
				key, val := prop.ChildByRole(pdg.RoleKey), prop.ChildByRole(pdg.RoleValue)
				if val == nil {
					continue
				}
				var member any
				if obj != nil && key != nil {
					member = obj[key.Name()]
				}
				if err := l.bindPattern(val, target, member); err != nil {
					return err
				}
			case pdg.KindRestElement:
				if err := l.bindPattern(prop, target, nil); err != nil {
					return err
				}
			}
		}

	case pdg.KindArrayPattern:
		arr, _ := value.([]any)
		for i, el := range p.Children {
			var member any
			if i < len(arr) {
				member = arr[i]
			}
			if err := l.bindPattern(el, target, member); err != nil {
				return err
			}
		}

	case pdg.KindRestElement:
		if arg := p.Child(0); arg != nil {
			return l.bindPattern(arg, target, nil)
		}

	case pdg.KindMemberExpression:
		return l.visit(p, target)
	}
	return nil
}

func (l *linker) declarator(d *pdg.Node, s, target *scope) error {
	id, init := d.ChildByRole(pdg.RoleID), d.ChildByRole(pdg.RoleInit)
	if init != nil {
		if err := l.visit(init, s); err != nil {
			return err
		}
	}
	if id == nil {
		return nil
	}
	var value any
	if init != nil {
		value = initialValue(init)
	}
	if err := l.bindPattern(id, target, value); err != nil {
		return err
	}
	if init != nil {
		for _, leaf := range patternIdentifiers(id) {
			provenanceFrom(leaf, init)
		}
	}
	return nil
}

func (l *linker) assignment(n *pdg.Node, s *scope) error {
	left, right := n.ChildByRole(pdg.RoleLeft), n.ChildByRole(pdg.RoleRight)
	if right != nil {
		if err := l.visit(right, s); err != nil {
			return err
		}
	}
	if left == nil {
		return nil
	}
	if left.Kind != pdg.KindIdentifier {
		if left.Kind == pdg.KindObjectPattern || left.Kind == pdg.KindArrayPattern {
			var value any
			if right != nil {
				value = initialValue(right)
			}
			return l.bindPattern(left, s, value)
		}
		return l.visit(left, s)
	}

	// Compound assignments read the previous definition first.
	if n.Attrs.Operator != "=" {
		l.use(left, s)
	}
	target := s.global()
	if _, owner := s.lookup(left.Name()); owner != nil {
		target = owner
	}
	if right != nil && n.Attrs.Operator == "=" {
		switch v := initialValue(right).(type) {
		case nil:
		case *pdg.Node:
			left.Fun = v
		default:
			left.Value().Set(v)
		}
		provenanceFrom(left, right)
	}
	l.define(left, target)
	return nil
}

// bindArguments connects call-site arguments to the formal parameters of a
// resolvable callee: a named function, an alias of one, or an IIFE.
func (l *linker) bindArguments(call *pdg.Node) {
	callee := call.Callee()
	if callee == nil {
		return
	}
	var fn *pdg.Node
	switch {
	case callee.Kind.IsFunction():
		fn = callee
	case callee.Kind == pdg.KindIdentifier && callee.Fun != nil:
		fn = callee.Fun
	}
	if fn == nil {
		return
	}
	args := call.Arguments()
	for i, param := range fn.Params {
		if i >= len(args) {
			break
		}
		arg := args[i]
		if param.Kind != pdg.KindIdentifier {
			continue
		}
		arg.AddFunParam(param)
		switch v := initialValue(arg).(type) {
		case nil:
		case *pdg.Node:
			if param.Fun == nil {
				param.Fun = v
			}
		default:
			if param.Value().Get() == nil {
				param.Value().Set(v)
			}
		}
	}
}

// initialValue is the value a binding receives from expr: the function node
// for function literals and aliases, the computed value otherwise.
func initialValue(expr *pdg.Node) any {
	if expr.Kind.IsFunction() {
		return expr
	}
	if expr.Kind == pdg.KindIdentifier && expr.Fun != nil {
		return expr.Fun
	}
	return pdg.ComputeValue(expr)
}

// provenanceFrom records the resolved identifiers read by expr as
// contributors of target. Unresolved globals contribute nothing.
func provenanceFrom(target, expr *pdg.Node) {
	if !target.IsValue() {
		return
	}
	pdg.Walk(expr, func(n *pdg.Node) bool {
		if n.Kind.IsFunction() {
			return false
		}
		if n.Kind == pdg.KindIdentifier && len(n.DataDepParents) > 0 {
			pdg.SetProvenance(target, n)
		}
		return true
	})
}

// patternIdentifiers lists the identifiers bound by a declaration target.
func patternIdentifiers(p *pdg.Node) []*pdg.Node {
	if p.Kind == pdg.KindIdentifier {
		return []*pdg.Node{p}
	}
	var out []*pdg.Node
	pdg.Walk(p, func(n *pdg.Node) bool {
		// Defaults are expressions, not bindings.
		if n.Role == pdg.RoleRight && n.Parent != nil && n.Parent.Kind == pdg.KindAssignmentPattern {
			return false
		}
		if n.Kind == pdg.KindIdentifier && n.Role != pdg.RoleKey {
			out = append(out, n)
		}
		return true
	})
	return out
}
