// File: internal/pdg/node.go
// Package pdg models the per-script dependence graph consumed by the extension
// analysis: an ESTree-shaped syntax tree whose nodes carry data, parameter,
// provenance and message-flow edges.
package pdg

import (
	"fmt"
	"sync/atomic"
)

// Kind is the ESTree node type of a dependence node (e.g. "CallExpression").
type Kind string

// Node kinds the analysis reasons about explicitly. Any other ESTree kind may
// appear in a graph; those are treated structurally.
const (
	KindProgram                  Kind = "Program"
	KindIdentifier               Kind = "Identifier"
	KindThis                     Kind = "ThisExpression"
	KindLiteral                  Kind = "Literal"
	KindTemplateLiteral          Kind = "TemplateLiteral"
	KindTemplateElement          Kind = "TemplateElement"
	KindArrayExpression          Kind = "ArrayExpression"
	KindObjectExpression         Kind = "ObjectExpression"
	KindObjectPattern            Kind = "ObjectPattern"
	KindArrayPattern             Kind = "ArrayPattern"
	KindAssignmentPattern        Kind = "AssignmentPattern"
	KindRestElement              Kind = "RestElement"
	KindSpreadElement            Kind = "SpreadElement"
	KindProperty                 Kind = "Property"
	KindMemberExpression         Kind = "MemberExpression"
	KindCallExpression           Kind = "CallExpression"
	KindNewExpression            Kind = "NewExpression"
	KindTaggedTemplateExpression Kind = "TaggedTemplateExpression"
	KindFunctionDeclaration      Kind = "FunctionDeclaration"
	KindFunctionExpression       Kind = "FunctionExpression"
	KindArrowFunctionExpression  Kind = "ArrowFunctionExpression"
	KindVariableDeclaration      Kind = "VariableDeclaration"
	KindVariableDeclarator       Kind = "VariableDeclarator"
	KindAssignmentExpression     Kind = "AssignmentExpression"
	KindBinaryExpression         Kind = "BinaryExpression"
	KindLogicalExpression        Kind = "LogicalExpression"
	KindUnaryExpression          Kind = "UnaryExpression"
	KindUpdateExpression         Kind = "UpdateExpression"
	KindConditionalExpression    Kind = "ConditionalExpression"
	KindSequenceExpression       Kind = "SequenceExpression"
	KindAwaitExpression          Kind = "AwaitExpression"
	KindExpressionStatement      Kind = "ExpressionStatement"
	KindBlockStatement           Kind = "BlockStatement"
	KindReturnStatement          Kind = "ReturnStatement"
)

// Role is the structural slot a child occupies in its parent ("callee",
// "arguments", "key", "value", ...).
type Role string

const (
	RoleBody         Role = "body"
	RoleCallee       Role = "callee"
	RoleArguments    Role = "arguments"
	RoleTag          Role = "tag"
	RoleQuasi        Role = "quasi"
	RoleQuasis       Role = "quasis"
	RoleExpressions  Role = "expressions"
	RoleKey          Role = "key"
	RoleValue        Role = "value"
	RoleProperties   Role = "properties"
	RoleElements     Role = "elements"
	RoleID           Role = "id"
	RoleInit         Role = "init"
	RoleParams       Role = "params"
	RoleLeft         Role = "left"
	RoleRight        Role = "right"
	RoleObject       Role = "object"
	RoleProperty     Role = "property"
	RoleArgument     Role = "argument"
	RoleDeclarations Role = "declarations"
	RoleExpression   Role = "expression"
	RoleTest         Role = "test"
	RoleConsequent   Role = "consequent"
	RoleAlternate    Role = "alternate"
)

// IsCall reports whether k is one of the call-like kinds whose first child is
// the callee (or tag).
func (k Kind) IsCall() bool {
	return k == KindCallExpression || k == KindTaggedTemplateExpression || k == KindNewExpression
}

// IsInvocation reports whether k runs its callee as a plain call or a
// tagged template. Constructor calls are excluded.
func (k Kind) IsInvocation() bool {
	return k == KindCallExpression || k == KindTaggedTemplateExpression
}

// IsFunction reports whether k denotes a function literal or declaration.
func (k Kind) IsFunction() bool {
	return k == KindFunctionDeclaration || k == KindFunctionExpression || k == KindArrowFunctionExpression
}

// IsValueBearing reports whether nodes of kind k carry a computed value slot
// and provenance sets.
func (k Kind) IsValueBearing() bool {
	switch k {
	case KindIdentifier, KindLiteral, KindArrayExpression, KindObjectExpression, KindObjectPattern,
		KindCallExpression, KindTaggedTemplateExpression, KindNewExpression, KindReturnStatement:
		return true
	}
	return false
}

// Position is a 1-based line and 0-based column.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Location spans a node in its source file.
type Location struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// Attributes holds the syntactic payload of a node.
type Attributes struct {
	// Name is the identifier name for Identifier nodes.
	Name string
	// Raw is the source text of literals and template elements.
	Raw string
	// Operator for unary, binary, logical, update and assignment expressions.
	Operator string
	// Computed marks obj[prop] member expressions and computed property keys.
	Computed bool
	// DeclKind is var, let or const on VariableDeclaration nodes.
	DeclKind string
	Loc      Location
}

// Folder evaluates an operator over constant operands with the exact semantics
// of the analyzed language. It reports false when it cannot fold.
type Folder interface {
	Fold(operator string, operands ...any) (any, bool)
}

// Program is shared by every node of one graph.
type Program struct {
	File   string
	Digest uint64
	Folder Folder

	// OnConnectExternal is set when the script registers an
	// onConnectExternal listener.
	OnConnectExternal bool

	nextID atomic.Int64
}

// NewProgram creates the per-graph header.
func NewProgram(file string) *Program {
	return &Program{File: file}
}

// Node is a dependence-graph node. Value-bearing kinds always have a non-nil
// value state; syntax-only kinds never do.
type Node struct {
	ID       int
	Kind     Kind
	Role     Role
	Attrs    Attributes
	Parent   *Node
	Children []*Node

	// Fun links a function name (or an alias bound to a function literal) to
	// the function node.
	Fun *Node
	// Params lists the formal parameters of function nodes, in order.
	Params []*Node

	DataDepParents  []*Node
	DataDepChildren []*Node
	// FunParamParents on a call-site argument are the formal parameters it
	// binds; FunParamChildren on a formal parameter are its actual arguments.
	FunParamParents  []*Node
	FunParamChildren []*Node
	FlowParents      []*Node
	FlowChildren     []*Node

	program *Program
	value   *ValueState
}

// New creates a detached node belonging to prog.
func New(prog *Program, kind Kind, role Role) *Node {
	n := &Node{
		ID:      int(prog.nextID.Add(1) - 1),
		Kind:    kind,
		Role:    role,
		program: prog,
	}
	if kind.IsValueBearing() {
		n.value = newValueState()
	}
	return n
}

// NewRoot creates a Program node for a fresh graph.
func NewRoot(file string) *Node {
	return New(NewProgram(file), KindProgram, "")
}

// NewChild creates a node and appends it to n's children.
func (n *Node) NewChild(kind Kind, role Role) *Node {
	c := New(n.program, kind, role)
	n.Append(c)
	return c
}

// Append adopts c as the last child of n.
func (n *Node) Append(c *Node) {
	c.Parent = n
	n.Children = append(n.Children, c)
}

// Program returns the header shared by the node's graph.
func (n *Node) Program() *Program { return n.program }

// File returns the source file name of the node's graph.
func (n *Node) File() string {
	if n.program == nil {
		return ""
	}
	return n.program.File
}

// IsValue reports whether n carries a value slot.
func (n *Node) IsValue() bool { return n.value != nil }

// Value returns the value state, or nil for syntax-only nodes.
func (n *Node) Value() *ValueState { return n.value }

// Root climbs to the Program node.
func (n *Node) Root() *Node {
	cur := n
	for cur.Parent != nil {
		cur = cur.Parent
	}
	return cur
}

// Name is the identifier name, or "" for other kinds.
func (n *Node) Name() string { return n.Attrs.Name }

// Line renders the node's line span as "begin - end".
func (n *Node) Line() string {
	return fmt.Sprintf("%d - %d", n.Attrs.Loc.Start.Line, n.Attrs.Loc.End.Line)
}

// Child returns the i-th child or nil.
func (n *Node) Child(i int) *Node {
	if i < 0 || i >= len(n.Children) {
		return nil
	}
	return n.Children[i]
}

// ChildByRole returns the first child playing role r.
func (n *Node) ChildByRole(r Role) *Node {
	for _, c := range n.Children {
		if c.Role == r {
			return c
		}
	}
	return nil
}

// ChildrenByRole returns every child playing role r, in order.
func (n *Node) ChildrenByRole(r Role) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Role == r {
			out = append(out, c)
		}
	}
	return out
}

// Callee returns the callee (or tag) of a call-like node.
func (n *Node) Callee() *Node {
	if !n.Kind.IsCall() || len(n.Children) == 0 {
		return nil
	}
	c := n.Children[0]
	if c.Role != RoleCallee && c.Role != RoleTag {
		return nil
	}
	return c
}

// Arguments returns the children of a call in the arguments or quasi role.
func (n *Node) Arguments() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Role == RoleArguments || c.Role == RoleQuasi {
			out = append(out, c)
		}
	}
	return out
}

// String identifies the node in logs.
func (n *Node) String() string {
	if n.Attrs.Name != "" {
		return fmt.Sprintf("%s#%d(%s)", n.Kind, n.ID, n.Attrs.Name)
	}
	return fmt.Sprintf("%s#%d", n.Kind, n.ID)
}

// AddDataDep records a data dependency from def to use and updates provenance
// the way a definition feeds its use site.
func (n *Node) AddDataDep(use *Node) {
	for _, c := range n.DataDepChildren {
		if c == use {
			return
		}
	}
	n.DataDepChildren = append(n.DataDepChildren, use)
	use.DataDepParents = append(use.DataDepParents, n)
	if n.value != nil && use.value != nil {
		n.value.setProvenanceDD(n, use)
	}
}

// AddFunParam binds a call-site argument to a formal parameter.
func (n *Node) AddFunParam(param *Node) {
	for _, p := range n.FunParamParents {
		if p == param {
			return
		}
	}
	n.FunParamParents = append(n.FunParamParents, param)
	param.FunParamChildren = append(param.FunParamChildren, n)
}

// AddFlow records a message-flow edge from sender n to receiver.
func (n *Node) AddFlow(receiver *Node) {
	n.FlowChildren = append(n.FlowChildren, receiver)
	receiver.FlowParents = append(receiver.FlowParents, n)
}
