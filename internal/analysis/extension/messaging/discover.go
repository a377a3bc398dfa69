// File: internal/analysis/extension/messaging/discover.go
package messaging

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/catalog"
	"github.com/xkilldash9x/doublex/internal/pdg"
)

// Discover walks the graph below root and records every message-passing call
// site of the actor at position into c. Call sites with an unexpected shape
// are logged and skipped. Cancellation of ctx stops the walk and returns the
// context error; the records collected so far stay in c.
func Discover(ctx context.Context, root *pdg.Node, position catalog.Position, family catalog.Family, c *Collection) error {
	if root == nil {
		return nil
	}
	if position.Channel() == "" {
		return fmt.Errorf("discover messages: unknown position %q", position)
	}
	d := &discovery{
		c:        c,
		logger:   c.logger.With(zap.String("position", string(position)), zap.String("file", root.File())),
		position: position,
		family:   family,
		tables:   catalog.Tables(family, position),
	}
	withWebApp := position == catalog.WA2CS || position == catalog.CS2WA

	var err error
	pdg.Walk(root, func(n *pdg.Node) bool {
		if err != nil {
			return false
		}
		if err = ctx.Err(); err != nil {
			return false
		}
		if n == root {
			return true
		}
		switch {
		case n.Kind.IsInvocation():
			d.call(n)
		case withWebApp && n.Kind == pdg.KindAssignmentExpression:
			d.assignment(n)
		}
		return true
	})
	return err
}

type discovery struct {
	c        *Collection
	logger   *zap.Logger
	position catalog.Position
	family   catalog.Family
	tables   []catalog.Table
}

// call classifies a call site by its callee text.
func (d *discovery) call(n *pdg.Node) {
	callee := n.Callee()
	if callee == nil {
		return
	}
	text, ok := pdg.ComputeValue(callee).(string)
	if !ok {
		return
	}
	value := pdg.ComputeString(n)
	n.Value().Set(value)

	m, ok := catalog.Lookup(d.tables, text)
	if !ok {
		return
	}
	d.dispatch(n, m.Pattern, m.Descriptor, value)
}

// assignment recognizes onmessage = handler registrations.
func (d *discovery) assignment(n *pdg.Node) {
	if len(n.Children) != 2 {
		return
	}
	target := n.Children[0]
	var name string
	switch target.Kind {
	case pdg.KindMemberExpression:
		obj, prop := target.Child(0), target.Child(1)
		// X.port.onmessage belongs to a MessageChannel, not to the window.
		if prop != nil && prop.Kind == pdg.KindIdentifier && obj != nil && obj.Kind != pdg.KindMemberExpression {
			name = prop.Name()
		}
	case pdg.KindIdentifier:
		name = target.Name()
	}
	if !strings.Contains(name, "onmessage") {
		return
	}

	handler := n.Children[1]
	desc := catalog.OnMessageDescriptor(d.family)
	if handler.Kind.IsFunction() {
		d.dispatch(handler, "onmessage", desc, "onmessage")
		return
	}
	if handler.Kind != pdg.KindIdentifier {
		return
	}
	if len(handler.DataDepParents) == 0 && handler.Fun != nil {
		d.dispatch(handler.Fun, "onmessage", desc, "onmessage")
		return
	}
	for _, def := range handler.DataDepParents {
		if def.Fun != nil {
			d.dispatch(def.Fun, "onmessage", desc, "onmessage")
		}
	}
}

// dispatch files the call site under its category and runs the handler.
// Malformed shapes must not abort the walk, so handler panics are recovered.
func (d *discovery) dispatch(n *pdg.Node, pattern string, desc catalog.Descriptor, value string) {
	mt := d.c.ensure(d.position.Channel(), desc.Category)
	rec := mt.For(d.position.Actor())
	if rec == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Message handler failed",
				zap.String("api", pattern),
				zap.String("handler", desc.Handler.String()),
				zap.Int("node_id", n.ID),
				zap.Int("children", len(n.Children)),
				zap.Any("panic", r))
		}
	}()
	d.logger.Debug("Found message API",
		zap.String("api", pattern),
		zap.String("category", string(desc.Category)),
		zap.String("line", n.Line()))
	h := handlerCall{d: d, n: n, rec: rec, api: API{Value: value, Line: n.Line()}, pattern: pattern}
	h.run(desc.Handler)
}
