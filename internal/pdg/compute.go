// File: internal/pdg/compute.go
package pdg

import (
	"math"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// maxComputeDepth bounds recursion through nested expressions and
// data-dependency chains.
const maxComputeDepth = 128

var renderJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// ComputeValue returns a best-effort static value for n: a string, float64,
// bool, map[string]any, []any, a function *Node, or nil when unknown.
// Call-like nodes are always rendered from their callee and arguments, so a
// call's value is its textual shape ("chrome.runtime.connect()").
func ComputeValue(n *Node) any {
	c := computer{inProgress: make(map[*Node]struct{})}
	return c.value(n, 0)
}

// ComputeString is ComputeValue rendered with Render.
func ComputeString(n *Node) string {
	return Render(ComputeValue(n))
}

type computer struct {
	inProgress map[*Node]struct{}
}

func (c *computer) value(n *Node, depth int) any {
	if n == nil || depth > maxComputeDepth {
		return nil
	}
	if _, busy := c.inProgress[n]; busy {
		if n.Kind == KindIdentifier {
			return n.Attrs.Name
		}
		return nil
	}
	c.inProgress[n] = struct{}{}
	defer delete(c.inProgress, n)

	d := depth + 1
	switch n.Kind {
	case KindLiteral:
		return n.value.Get()

	case KindIdentifier:
		if v := n.value.Get(); v != nil {
			if _, isFn := v.(*Node); isFn {
				return n.Attrs.Name
			}
			return v
		}
		if n.Fun != nil {
			return n.Attrs.Name
		}
		if k := len(n.DataDepParents); k > 0 {
			if v := c.value(n.DataDepParents[k-1], d); v != nil {
				return v
			}
		}
		return n.Attrs.Name

	case KindThis:
		return "this"

	case KindMemberExpression:
		return c.member(n, d)

	case KindCallExpression, KindNewExpression, KindTaggedTemplateExpression:
		return c.call(n, d)

	case KindObjectExpression, KindObjectPattern:
		if n.Kind == KindObjectPattern {
			if v := n.value.Get(); v != nil {
				return v
			}
		}
		obj := make(map[string]any)
		for _, prop := range n.Children {
			if prop.Kind != KindProperty || len(prop.Children) < 2 {
				continue
			}
			obj[c.propertyKey(prop.Children[0], prop.Attrs.Computed, d)] = c.value(prop.Children[1], d)
		}
		return obj

	case KindArrayExpression:
		out := make([]any, 0, len(n.Children))
		for _, el := range n.Children {
			out = append(out, c.value(el, d))
		}
		return out

	case KindTemplateLiteral:
		var sb strings.Builder
		for _, part := range n.Children {
			if part.Kind == KindTemplateElement {
				sb.WriteString(part.Attrs.Raw)
				continue
			}
			sb.WriteString(Render(c.value(part, d)))
		}
		return sb.String()

	case KindBinaryExpression, KindLogicalExpression:
		if len(n.Children) < 2 {
			return nil
		}
		l, r := c.value(n.Children[0], d), c.value(n.Children[1], d)
		if c.foldable(n.Children[0], l) && c.foldable(n.Children[1], r) && n.program != nil && n.program.Folder != nil {
			if v, ok := n.program.Folder.Fold(n.Attrs.Operator, l, r); ok {
				return v
			}
		}
		return Render(l) + " " + n.Attrs.Operator + " " + Render(r)

	case KindUnaryExpression:
		if len(n.Children) < 1 {
			return nil
		}
		arg := c.value(n.Children[0], d)
		if c.foldable(n.Children[0], arg) && n.program != nil && n.program.Folder != nil {
			if v, ok := n.program.Folder.Fold(n.Attrs.Operator, arg); ok {
				return v
			}
		}
		sep := ""
		if len(n.Attrs.Operator) > 1 {
			sep = " "
		}
		return n.Attrs.Operator + sep + Render(arg)

	case KindConditionalExpression:
		if len(n.Children) < 3 {
			return nil
		}
		return Render(c.value(n.Children[0], d)) + " ? " + Render(c.value(n.Children[1], d)) +
			" : " + Render(c.value(n.Children[2], d))

	case KindFunctionDeclaration, KindFunctionExpression, KindArrowFunctionExpression:
		return n

	case KindAssignmentExpression:
		if len(n.Children) < 2 {
			return nil
		}
		return c.value(n.Children[1], d)

	case KindAwaitExpression, KindSpreadElement, KindExpressionStatement, KindUpdateExpression:
		if len(n.Children) == 0 {
			return nil
		}
		return c.value(n.Children[0], d)

	case KindSequenceExpression:
		if len(n.Children) == 0 {
			return nil
		}
		return c.value(n.Children[len(n.Children)-1], d)

	case KindReturnStatement:
		if v := n.value.Get(); v != nil {
			return v
		}
		if len(n.Children) == 0 {
			return nil
		}
		return c.value(n.Children[0], d)
	}
	return nil
}

func (c *computer) propertyKey(key *Node, computed bool, depth int) string {
	if key.Kind == KindIdentifier && !computed {
		return key.Attrs.Name
	}
	return Render(c.value(key, depth))
}

func (c *computer) member(n *Node, depth int) any {
	if len(n.Children) < 2 {
		return nil
	}
	objNode, propNode := n.Children[0], n.Children[1]
	obj := c.value(objNode, depth)
	var prop string
	if n.Attrs.Computed {
		prop = Render(c.value(propNode, depth))
	} else {
		prop = propNode.Attrs.Name
	}

	switch o := obj.(type) {
	case map[string]any:
		if v, ok := o[prop]; ok {
			return v
		}
	case []any:
		if prop == "length" {
			return float64(len(o))
		}
		if i, err := strconv.Atoi(prop); err == nil && i >= 0 && i < len(o) {
			return o[i]
		}
	case string:
		return o + "." + prop
	}
	return c.memberBase(objNode, obj) + "." + prop
}

// memberBase names the object side of a member expression whose value could
// not be indexed.
func (c *computer) memberBase(objNode *Node, obj any) string {
	switch objNode.Kind {
	case KindIdentifier:
		return objNode.Attrs.Name
	case KindThis:
		return "this"
	}
	return Render(obj)
}

func (c *computer) call(n *Node, depth int) any {
	callee := n.Callee()
	if callee == nil {
		return nil
	}
	var sb strings.Builder
	if callee.Kind.IsFunction() {
		sb.WriteString("function")
	} else {
		switch v := c.value(callee, depth).(type) {
		case map[string]any, []any:
			sb.WriteString(c.memberBase(callee, v))
		default:
			sb.WriteString(Render(v))
		}
	}
	sb.WriteByte('(')
	for i, arg := range n.Arguments() {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(Render(c.value(arg, depth)))
	}
	sb.WriteByte(')')
	return sb.String()
}

// foldable reports whether operand n evaluated to a real constant rather than
// the rendered text of something unknown.
func (c *computer) foldable(n *Node, v any) bool {
	switch v.(type) {
	case string, float64, bool:
	default:
		return false
	}
	switch n.Kind {
	case KindLiteral, KindTemplateLiteral, KindBinaryExpression, KindLogicalExpression, KindUnaryExpression:
		return true
	case KindIdentifier:
		if n.value.Get() != nil {
			return true
		}
		if k := len(n.DataDepParents); k > 0 {
			def := n.DataDepParents[k-1]
			return def.value != nil && def.value.Get() != nil
		}
	}
	return false
}

// Render converts a computed value to text the way the analyzed language
// would print it; objects and arrays render as JSON and unknown values as
// "undefined".
func Render(v any) string {
	switch t := v.(type) {
	case nil:
		return "undefined"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return FormatNumber(t)
	case int:
		return strconv.Itoa(t)
	case *Node:
		if t.Kind.IsFunction() {
			return "function"
		}
		return t.String()
	case map[string]any, []any:
		b, err := renderJSON.Marshal(sanitize(t))
		if err != nil {
			return "undefined"
		}
		return string(b)
	}
	return "undefined"
}

// sanitize replaces function nodes inside composite values so they marshal.
func sanitize(v any) any {
	switch t := v.(type) {
	case *Node:
		return Render(t)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return FormatNumber(t)
		}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = sanitize(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = sanitize(e)
		}
		return out
	}
	return v
}

// FormatNumber prints a float the way JavaScript's Number#toString does for
// the common cases.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	// Go pads exponents to two digits ("1e-07"); JavaScript does not.
	if i := strings.IndexAny(s, "e"); i >= 0 {
		mant, exp := s[:i], s[i+1:]
		sign := ""
		if exp[0] == '-' || exp[0] == '+' {
			sign, exp = exp[:1], exp[1:]
		}
		exp = strings.TrimLeft(exp, "0")
		s = mant + "e" + sign + exp
	}
	return s
}
