// File: internal/pdg/walk.go
package pdg

// Walk visits n and its descendants in pre-order. Returning false from fn
// skips the visited node's subtree. The traversal uses an explicit stack so
// deeply nested scripts cannot exhaust the goroutine stack.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil {
		return
	}
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(cur) {
			continue
		}
		for i := len(cur.Children) - 1; i >= 0; i-- {
			stack = append(stack, cur.Children[i])
		}
	}
}

// Find returns the first node in pre-order satisfying pred, or nil.
func Find(n *Node, pred func(*Node) bool) *Node {
	var found *Node
	Walk(n, func(cur *Node) bool {
		if found != nil {
			return false
		}
		if pred(cur) {
			found = cur
			return false
		}
		return true
	})
	return found
}

// Collect returns every node in pre-order satisfying pred.
func Collect(n *Node, pred func(*Node) bool) []*Node {
	var out []*Node
	Walk(n, func(cur *Node) bool {
		if pred(cur) {
			out = append(out, cur)
		}
		return true
	})
	return out
}

// EnclosingFunction returns the nearest function node containing n, or nil
// when n sits at the top level.
func EnclosingFunction(n *Node) *Node {
	for cur := n.Parent; cur != nil; cur = cur.Parent {
		if cur.Kind.IsFunction() {
			return cur
		}
	}
	return nil
}

// FirstDataDepRoot follows the first data-dependency parent until reaching a
// node with none. Cycles stop at the first repeat.
func FirstDataDepRoot(n *Node) *Node {
	seen := map[*Node]struct{}{n: {}}
	cur := n
	for len(cur.DataDepParents) > 0 {
		next := cur.DataDepParents[0]
		if _, ok := seen[next]; ok {
			break
		}
		seen[next] = struct{}{}
		cur = next
	}
	return cur
}
