// File: internal/pdg/value.go
package pdg

import "unicode/utf8"

// LimitSize caps the length of stored string values and the number of
// elements kept from list values.
const LimitSize = 10000

// ValueState is the value slot and provenance bookkeeping of a value-bearing
// node. Provenance parents are the nodes whose values contributed to this
// node's value; children are the reverse.
type ValueState struct {
	value any

	provParents   []*Node
	provChildren  []*Node
	provParentSet map[*Node]struct{}
	provChildSet  map[*Node]struct{}
}

func newValueState() *ValueState {
	return &ValueState{
		provParentSet: make(map[*Node]struct{}),
		provChildSet:  make(map[*Node]struct{}),
	}
}

// Get returns the stored value (nil when unknown).
func (v *ValueState) Get() any { return v.value }

// Set stores a value, shortening oversized strings and lists. Strings are
// cut on a rune boundary.
func (v *ValueState) Set(val any) {
	switch t := val.(type) {
	case string:
		if len(t) > LimitSize {
			cut := LimitSize
			for cut > 0 && !utf8.RuneStart(t[cut]) {
				cut--
			}
			val = t[:cut]
		}
	case []any:
		if len(t) > LimitSize {
			val = t[:LimitSize]
		}
	}
	v.value = val
}

// ProvenanceParents returns the contributing nodes in insertion order.
func (v *ValueState) ProvenanceParents() []*Node { return v.provParents }

// ProvenanceChildren returns the influenced nodes in insertion order.
func (v *ValueState) ProvenanceChildren() []*Node { return v.provChildren }

// HasProvenanceParent reports whether p is recorded as a contributor.
func (v *ValueState) HasProvenanceParent(p *Node) bool {
	_, ok := v.provParentSet[p]
	return ok
}

func (v *ValueState) addParent(p *Node) bool {
	if _, ok := v.provParentSet[p]; ok {
		return false
	}
	v.provParentSet[p] = struct{}{}
	v.provParents = append(v.provParents, p)
	return true
}

func (v *ValueState) addChild(c *Node) bool {
	if _, ok := v.provChildSet[c]; ok {
		return false
	}
	v.provChildSet[c] = struct{}{}
	v.provChildren = append(v.provChildren, c)
	return true
}

// setProvenanceDD propagates provenance along a data dependency def -> use.
func (v *ValueState) setProvenanceDD(def, use *Node) {
	uv := use.value
	if len(uv.provChildren) > 0 {
		for _, c := range uv.provChildren {
			v.addChild(c)
		}
	} else {
		v.addChild(use)
	}
	if len(v.provParents) > 0 {
		for _, p := range v.provParents {
			uv.addParent(p)
		}
	} else {
		uv.addParent(def)
	}
}

// SetProvenance records that extremity was used to compute self's value.
// A nil extremity marks self as its own origin. Value-bearing extremities
// contribute their own provenance parents (or themselves when they have
// none); syntax-only extremities contribute themselves and their subtree.
func SetProvenance(self, extremity *Node) {
	v := self.value
	if v == nil {
		return
	}
	if extremity == nil {
		v.addParent(self)
		return
	}
	if ev := extremity.value; ev != nil {
		if len(ev.provParents) > 0 {
			for _, p := range ev.provParents {
				v.addParent(p)
			}
		} else {
			v.addParent(extremity)
		}
		if len(v.provChildren) > 0 {
			for _, c := range v.provChildren {
				ev.addChild(c)
			}
		} else {
			ev.addChild(self)
		}
		return
	}

	stack := []*Node{extremity}
	seen := map[*Node]struct{}{}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		if cur.value != nil && cur != extremity {
			SetProvenance(self, cur)
			continue
		}
		v.addParent(cur)
		for i := len(cur.Children) - 1; i >= 0; i-- {
			stack = append(stack, cur.Children[i])
		}
	}
}

// RepairProvenance makes provenance transitive for one node: every contributor
// of a contributor becomes a direct contributor. It returns the number of
// parents added.
func RepairProvenance(n *Node) int {
	v := n.value
	if v == nil {
		return 0
	}
	before := len(v.provParents)
	// Snapshot: SetProvenance appends to v.provParents while we iterate.
	direct := append([]*Node(nil), v.provParents...)
	for _, b := range direct {
		bv := b.value
		if bv == nil {
			continue
		}
		for _, a := range append([]*Node(nil), bv.provParents...) {
			if !v.HasProvenanceParent(a) {
				SetProvenance(n, a)
			}
		}
	}
	return len(v.provParents) - before
}
