// Filename: javascript/convert.go
// Lowers the tree-sitter concrete syntax tree to the ESTree-shaped dependence
// graph nodes the extension analysis works on.
package javascript

import (
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/xkilldash9x/doublex/internal/pdg"
)

// ErrMaxDepth is returned when a script nests deeper than the configured
// recursion ceiling. The analysis of that script is abandoned.
var ErrMaxDepth = errors.New("javascript: maximum nesting depth exceeded")

var unaryKinds = map[string]pdg.Kind{
	"await_expression": pdg.KindAwaitExpression,
	"spread_element":   pdg.KindSpreadElement,
	"rest_pattern":     pdg.KindRestElement,
	"yield_expression": "YieldExpression",
}

// converter holds the per-file state of the lowering pass.
type converter struct {
	source   []byte
	prog     *pdg.Program
	maxDepth int
	depth    int
}

func (c *converter) enter() error {
	c.depth++
	if c.depth > c.maxDepth {
		return fmt.Errorf("%w (%d)", ErrMaxDepth, c.maxDepth)
	}
	return nil
}

func (c *converter) leave() { c.depth-- }

func (c *converter) text(n *sitter.Node) string { return NodeContent(n, c.source) }

func (c *converter) newNode(cst *sitter.Node, kind pdg.Kind, role pdg.Role, parent *pdg.Node) *pdg.Node {
	n := pdg.New(c.prog, kind, role)
	n.Attrs.Loc = locationOf(cst)
	if parent != nil {
		parent.Append(n)
	}
	return n
}

// namedChildren returns the named children of n, comments excluded.
func namedChildren(n *sitter.Node) []*sitter.Node {
	count := int(n.NamedChildCount())
	out := make([]*sitter.Node, 0, count)
	for i := 0; i < count; i++ {
		child := n.NamedChild(i)
		if child == nil || isTrivia(child.Type()) {
			continue
		}
		out = append(out, child)
	}
	return out
}

func isTrivia(t string) bool {
	return t == "comment" || t == "hash_bang_line" || t == "html_comment"
}

// program lowers the root of a parsed file.
func (c *converter) program(root *sitter.Node) (*pdg.Node, error) {
	n := pdg.New(c.prog, pdg.KindProgram, "")
	n.Attrs.Loc = locationOf(root)
	for _, stmt := range namedChildren(root) {
		if err := c.convert(stmt, n, pdg.RoleBody); err != nil {
			return n, err
		}
	}
	return n, nil
}

// convert lowers cst and appends the result to parent in role.
func (c *converter) convert(cst *sitter.Node, parent *pdg.Node, role pdg.Role) error {
	if cst == nil || cst.IsNull() || isTrivia(cst.Type()) {
		return nil
	}
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()

	switch cst.Type() {
	case "parenthesized_expression":
		if inner := namedChildren(cst); len(inner) > 0 {
			return c.convert(inner[0], parent, role)
		}
		return nil

	case "identifier", "property_identifier", "shorthand_property_identifier",
		"shorthand_property_identifier_pattern", "private_property_identifier", "undefined", "super":
		n := c.newNode(cst, pdg.KindIdentifier, role, parent)
		n.Attrs.Name = c.text(cst)
		return nil

	case "this":
		c.newNode(cst, pdg.KindThis, role, parent)
		return nil

	case "string":
		n := c.newNode(cst, pdg.KindLiteral, role, parent)
		n.Attrs.Raw = c.text(cst)
		n.Value().Set(decodeStringLiteral(n.Attrs.Raw))
		return nil

	case "number":
		n := c.newNode(cst, pdg.KindLiteral, role, parent)
		n.Attrs.Raw = c.text(cst)
		if f, ok := parseNumberLiteral(n.Attrs.Raw); ok {
			n.Value().Set(f)
		}
		return nil

	case "true", "false":
		n := c.newNode(cst, pdg.KindLiteral, role, parent)
		n.Attrs.Raw = cst.Type()
		n.Value().Set(cst.Type() == "true")
		return nil

	case "null":
		n := c.newNode(cst, pdg.KindLiteral, role, parent)
		n.Attrs.Raw = "null"
		return nil

	case "regex":
		n := c.newNode(cst, pdg.KindLiteral, role, parent)
		n.Attrs.Raw = c.text(cst)
		n.Value().Set(n.Attrs.Raw)
		return nil

	case "template_string":
		return c.template(cst, parent, role)

	case "member_expression":
		n := c.newNode(cst, pdg.KindMemberExpression, role, parent)
		if err := c.convert(cst.ChildByFieldName("object"), n, pdg.RoleObject); err != nil {
			return err
		}
		return c.convert(cst.ChildByFieldName("property"), n, pdg.RoleProperty)

	case "subscript_expression":
		n := c.newNode(cst, pdg.KindMemberExpression, role, parent)
		n.Attrs.Computed = true
		if err := c.convert(cst.ChildByFieldName("object"), n, pdg.RoleObject); err != nil {
			return err
		}
		return c.convert(cst.ChildByFieldName("index"), n, pdg.RoleProperty)

	case "call_expression":
		return c.call(cst, parent, role)

	case "new_expression":
		n := c.newNode(cst, pdg.KindNewExpression, role, parent)
		if err := c.convert(cst.ChildByFieldName("constructor"), n, pdg.RoleCallee); err != nil {
			return err
		}
		return c.arguments(cst.ChildByFieldName("arguments"), n)

	case "assignment_expression", "augmented_assignment_expression":
		n := c.newNode(cst, pdg.KindAssignmentExpression, role, parent)
		n.Attrs.Operator = "="
		if op := cst.ChildByFieldName("operator"); op != nil {
			n.Attrs.Operator = c.text(op)
		}
		if err := c.convert(cst.ChildByFieldName("left"), n, pdg.RoleLeft); err != nil {
			return err
		}
		return c.convert(cst.ChildByFieldName("right"), n, pdg.RoleRight)

	case "binary_expression":
		op := c.text(cst.ChildByFieldName("operator"))
		kind := pdg.KindBinaryExpression
		if op == "&&" || op == "||" || op == "??" {
			kind = pdg.KindLogicalExpression
		}
		n := c.newNode(cst, kind, role, parent)
		n.Attrs.Operator = op
		if err := c.convert(cst.ChildByFieldName("left"), n, pdg.RoleLeft); err != nil {
			return err
		}
		return c.convert(cst.ChildByFieldName("right"), n, pdg.RoleRight)

	case "unary_expression", "update_expression":
		kind := pdg.KindUnaryExpression
		if cst.Type() == "update_expression" {
			kind = pdg.KindUpdateExpression
		}
		n := c.newNode(cst, kind, role, parent)
		n.Attrs.Operator = c.text(cst.ChildByFieldName("operator"))
		return c.convert(cst.ChildByFieldName("argument"), n, pdg.RoleArgument)

	case "ternary_expression":
		n := c.newNode(cst, pdg.KindConditionalExpression, role, parent)
		if err := c.convert(cst.ChildByFieldName("condition"), n, pdg.RoleTest); err != nil {
			return err
		}
		if err := c.convert(cst.ChildByFieldName("consequence"), n, pdg.RoleConsequent); err != nil {
			return err
		}
		return c.convert(cst.ChildByFieldName("alternative"), n, pdg.RoleAlternate)

	case "sequence_expression":
		n := c.newNode(cst, pdg.KindSequenceExpression, role, parent)
		for _, e := range flattenSequence(cst) {
			if err := c.convert(e, n, pdg.RoleExpressions); err != nil {
				return err
			}
		}
		return nil

	case "await_expression", "spread_element", "rest_pattern", "yield_expression":
		n := c.newNode(cst, unaryKinds[cst.Type()], role, parent)
		for _, e := range namedChildren(cst) {
			if err := c.convert(e, n, pdg.RoleArgument); err != nil {
				return err
			}
		}
		return nil

	case "object", "object_pattern":
		return c.object(cst, parent, role)

	case "array", "array_pattern":
		kind := pdg.KindArrayExpression
		if cst.Type() == "array_pattern" {
			kind = pdg.KindArrayPattern
		}
		n := c.newNode(cst, kind, role, parent)
		for _, e := range namedChildren(cst) {
			if err := c.convert(e, n, pdg.RoleElements); err != nil {
				return err
			}
		}
		return nil

	case "assignment_pattern", "object_assignment_pattern":
		n := c.newNode(cst, pdg.KindAssignmentPattern, role, parent)
		if err := c.convert(cst.ChildByFieldName("left"), n, pdg.RoleLeft); err != nil {
			return err
		}
		return c.convert(cst.ChildByFieldName("right"), n, pdg.RoleRight)

	case "variable_declaration", "lexical_declaration":
		n := c.newNode(cst, pdg.KindVariableDeclaration, role, parent)
		n.Attrs.DeclKind = "var"
		if kind := cst.ChildByFieldName("kind"); kind != nil {
			n.Attrs.DeclKind = c.text(kind)
		} else if first := cst.Child(0); first != nil {
			n.Attrs.DeclKind = c.text(first)
		}
		for _, d := range namedChildren(cst) {
			if d.Type() != "variable_declarator" {
				continue
			}
			if err := c.declarator(d, n); err != nil {
				return err
			}
		}
		return nil

	case "function_declaration", "generator_function_declaration":
		return c.function(cst, pdg.KindFunctionDeclaration, parent, role)

	case "function", "function_expression", "generator_function":
		return c.function(cst, pdg.KindFunctionExpression, parent, role)

	case "arrow_function":
		return c.function(cst, pdg.KindArrowFunctionExpression, parent, role)

	case "method_definition":
		n := c.newNode(cst, "MethodDefinition", role, parent)
		if err := c.convert(cst.ChildByFieldName("name"), n, pdg.RoleKey); err != nil {
			return err
		}
		return c.function(cst, pdg.KindFunctionExpression, n, pdg.RoleValue)

	case "statement_block", "class_body":
		kind := pdg.KindBlockStatement
		if cst.Type() == "class_body" {
			kind = "ClassBody"
		}
		n := c.newNode(cst, kind, role, parent)
		for _, s := range namedChildren(cst) {
			if err := c.convert(s, n, pdg.RoleBody); err != nil {
				return err
			}
		}
		return nil

	case "expression_statement":
		n := c.newNode(cst, pdg.KindExpressionStatement, role, parent)
		for _, e := range namedChildren(cst) {
			if err := c.convert(e, n, pdg.RoleExpression); err != nil {
				return err
			}
		}
		return nil

	case "return_statement":
		n := c.newNode(cst, pdg.KindReturnStatement, role, parent)
		for _, e := range namedChildren(cst) {
			if err := c.convert(e, n, pdg.RoleArgument); err != nil {
				return err
			}
		}
		return nil
	}

	// Structural fallback: keep the node and its named children so the
	// graph still covers statements the analysis has no special rule for.
	n := c.newNode(cst, camelize(cst.Type()), role, parent)
	for _, child := range namedChildren(cst) {
		if err := c.convert(child, n, pdg.RoleBody); err != nil {
			return err
		}
	}
	return nil
}

// flattenSequence handles both the nested left/right and the flat
// representation of comma expressions.
func flattenSequence(cst *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for _, child := range namedChildren(cst) {
		if child.Type() == "sequence_expression" {
			out = append(out, flattenSequence(child)...)
			continue
		}
		out = append(out, child)
	}
	return out
}

func (c *converter) call(cst *sitter.Node, parent *pdg.Node, role pdg.Role) error {
	fn := cst.ChildByFieldName("function")
	args := cst.ChildByFieldName("arguments")
	if args != nil && args.Type() == "template_string" {
		n := c.newNode(cst, pdg.KindTaggedTemplateExpression, role, parent)
		if err := c.convert(fn, n, pdg.RoleTag); err != nil {
			return err
		}
		return c.template(args, n, pdg.RoleQuasi)
	}
	n := c.newNode(cst, pdg.KindCallExpression, role, parent)
	if err := c.convert(fn, n, pdg.RoleCallee); err != nil {
		return err
	}
	return c.arguments(args, n)
}

func (c *converter) arguments(args *sitter.Node, call *pdg.Node) error {
	if args == nil {
		return nil
	}
	for _, a := range namedChildren(args) {
		if err := c.convert(a, call, pdg.RoleArguments); err != nil {
			return err
		}
	}
	return nil
}

// template splits a template string into quasis and substitutions. The
// quasis are cut from the source text between substitutions so the result
// does not depend on how the grammar tokenizes string fragments.
func (c *converter) template(cst *sitter.Node, parent *pdg.Node, role pdg.Role) error {
	n := c.newNode(cst, pdg.KindTemplateLiteral, role, parent)
	start := cst.StartByte() + 1 // opening backtick
	end := cst.EndByte()
	if end > start {
		end-- // closing backtick
	}
	cursor := start
	addQuasi := func(from, to uint32) {
		q := pdg.New(c.prog, pdg.KindTemplateElement, pdg.RoleQuasis)
		q.Attrs.Loc = locationOf(cst)
		if to > from && int(to) <= len(c.source) {
			q.Attrs.Raw = string(c.source[from:to])
		}
		n.Append(q)
	}
	for _, child := range namedChildren(cst) {
		if child.Type() != "template_substitution" {
			continue
		}
		addQuasi(cursor, child.StartByte())
		for _, e := range namedChildren(child) {
			if err := c.convert(e, n, pdg.RoleExpressions); err != nil {
				return err
			}
		}
		cursor = child.EndByte()
	}
	addQuasi(cursor, end)
	return nil
}

func (c *converter) object(cst *sitter.Node, parent *pdg.Node, role pdg.Role) error {
	kind := pdg.KindObjectExpression
	if cst.Type() == "object_pattern" {
		kind = pdg.KindObjectPattern
	}
	obj := c.newNode(cst, kind, role, parent)
	for _, member := range namedChildren(cst) {
		switch member.Type() {
		case "pair", "pair_pattern":
			prop := c.newNode(member, pdg.KindProperty, pdg.RoleProperties, obj)
			key := member.ChildByFieldName("key")
			if key != nil && key.Type() == "computed_property_name" {
				prop.Attrs.Computed = true
				if inner := namedChildren(key); len(inner) > 0 {
					key = inner[0]
				}
			}
			if err := c.convert(key, prop, pdg.RoleKey); err != nil {
				return err
			}
			if err := c.convert(member.ChildByFieldName("value"), prop, pdg.RoleValue); err != nil {
				return err
			}

		case "shorthand_property_identifier", "shorthand_property_identifier_pattern":
			prop := c.newNode(member, pdg.KindProperty, pdg.RoleProperties, obj)
			if err := c.convert(member, prop, pdg.RoleKey); err != nil {
				return err
			}
			if err := c.convert(member, prop, pdg.RoleValue); err != nil {
				return err
			}

		case "object_assignment_pattern":
			// { a = 1 } binds a with a default.
			prop := c.newNode(member, pdg.KindProperty, pdg.RoleProperties, obj)
			if err := c.convert(member.ChildByFieldName("left"), prop, pdg.RoleKey); err != nil {
				return err
			}
			if err := c.convert(member, prop, pdg.RoleValue); err != nil {
				return err
			}

		case "method_definition":
			prop := c.newNode(member, pdg.KindProperty, pdg.RoleProperties, obj)
			if err := c.convert(member.ChildByFieldName("name"), prop, pdg.RoleKey); err != nil {
				return err
			}
			if err := c.function(member, pdg.KindFunctionExpression, prop, pdg.RoleValue); err != nil {
				return err
			}

		default:
			if err := c.convert(member, obj, pdg.RoleProperties); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *converter) declarator(cst *sitter.Node, decl *pdg.Node) error {
	n := c.newNode(cst, pdg.KindVariableDeclarator, pdg.RoleDeclarations, decl)
	if err := c.convert(cst.ChildByFieldName("name"), n, pdg.RoleID); err != nil {
		return err
	}
	return c.convert(cst.ChildByFieldName("value"), n, pdg.RoleInit)
}

// function lowers any function form. Children are ordered id, params, body.
func (c *converter) function(cst *sitter.Node, kind pdg.Kind, parent *pdg.Node, role pdg.Role) error {
	fn := c.newNode(cst, kind, role, parent)
	if cst.Type() != "method_definition" {
		if name := cst.ChildByFieldName("name"); name != nil {
			if err := c.convert(name, fn, pdg.RoleID); err != nil {
				return err
			}
		}
	}

	paramCount := len(fn.Children)
	if single := cst.ChildByFieldName("parameter"); single != nil {
		if err := c.convert(single, fn, pdg.RoleParams); err != nil {
			return err
		}
	} else if params := cst.ChildByFieldName("parameters"); params != nil {
		for _, p := range namedChildren(params) {
			if err := c.convert(p, fn, pdg.RoleParams); err != nil {
				return err
			}
		}
	}
	fn.Params = append(fn.Params, fn.Children[paramCount:]...)

	body := cst.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	return c.convert(body, fn, pdg.RoleBody)
}
