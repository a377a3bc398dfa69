// File: internal/analysis/extension/linker/linker.go
// Package linker connects the dependence graphs of two extension contexts
// through the messages they exchange: every sent message gets a flow edge to
// every matching receiver, whose value and provenance then follow the sender.
package linker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/catalog"
	"github.com/xkilldash9x/doublex/internal/analysis/extension/messaging"
	"github.com/xkilldash9x/doublex/internal/pdg"
)

const (
	// DefaultLinkTimeout bounds discovery and linking of one context pair.
	DefaultLinkTimeout = 600 * time.Second
	// DefaultProvenanceTimeout bounds the provenance repair of one graph.
	DefaultProvenanceTimeout = 10 * time.Second
)

// ErrLinkingTimeout is returned when the link budget of a pair elapses. The
// returned error also matches context.DeadlineExceeded.
var ErrLinkingTimeout = errors.New("linking messages timed out")

// Options tunes the linker.
type Options struct {
	LinkTimeout       time.Duration
	ProvenanceTimeout time.Duration
}

// Stats counts the work done by one LinkContexts call.
type Stats struct {
	// Flows is the number of sender/receiver edges created.
	Flows int `json:"flows"`
	// Propagations is the number of nodes visited while pushing received
	// values along data and parameter flow.
	Propagations int `json:"propagations"`
	// Overwrites counts receivers whose known value was replaced.
	Overwrites int `json:"overwrites"`
	// Repaired is the number of provenance parents added by the repair pass.
	Repaired int `json:"repaired"`
}

// Result is the outcome of linking one pair of contexts. It is returned even
// when linking stops early, holding whatever was linked.
type Result struct {
	Messages  *messaging.Collection
	Stats     Stats
	Collected time.Duration
	Linked    time.Duration
}

// Linker links context graphs. A Linker may be shared; each LinkContexts call
// owns the graphs it is given until it returns.
type Linker struct {
	logger    *zap.Logger
	opts      Options
	overwrite *rate.Sometimes
}

// New creates a linker.
func New(logger *zap.Logger, opts Options) *Linker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.LinkTimeout <= 0 {
		opts.LinkTimeout = DefaultLinkTimeout
	}
	if opts.ProvenanceTimeout <= 0 {
		opts.ProvenanceTimeout = DefaultProvenanceTimeout
	}
	return &Linker{
		logger:    logger.Named("linker"),
		opts:      opts,
		overwrite: &rate.Sometimes{First: 5, Interval: 10 * time.Second},
	}
}

// LinkContexts discovers the messages of a (at posA) and b (at posB) and
// links each category's senders to the partner's receivers, in both
// directions, for messages and for responses. The graphs are then repaired so
// provenance is transitive.
//
// When the link budget elapses the error wraps ErrLinkingTimeout; the graphs
// keep every link completed before the deadline. Cancellation of ctx itself
// is returned unwrapped.
func (l *Linker) LinkContexts(ctx context.Context, a, b *pdg.Node, posA, posB catalog.Position, family catalog.Family) (*Result, error) {
	if posA.Channel() != posB.Channel() || posA.Actor() != posB.Partner() {
		return nil, fmt.Errorf("positions %s and %s do not describe one channel", posA, posB)
	}
	res := &Result{Messages: messaging.NewCollection(l.logger)}

	linkCtx, cancel := context.WithTimeout(ctx, l.opts.LinkTimeout)
	defer cancel()

	start := time.Now()
	if err := messaging.Discover(linkCtx, a, posA, family, res.Messages); err != nil {
		return res, l.expired(ctx, err)
	}
	if err := messaging.Discover(linkCtx, b, posB, family, res.Messages); err != nil {
		return res, l.expired(ctx, err)
	}
	res.Collected = time.Since(start)
	l.logger.Debug("Collected messages", zap.Duration("elapsed", res.Collected), zap.Int("types", len(res.Messages.Types())))

	start = time.Now()
	for _, mt := range res.Messages.Types() {
		p1, p2 := mt.For(posA.Actor()), mt.For(posB.Actor())
		if p1 == nil || p2 == nil {
			continue
		}
		pairs := [][2][]messaging.Message{
			{p1.Sent, p2.Received},
			{p2.Sent, p1.Received},
			{p1.Responded, p2.GotResponse},
			{p2.Responded, p1.GotResponse},
		}
		for _, p := range pairs {
			if err := l.link(linkCtx, p[0], p[1], &res.Stats); err != nil {
				res.Linked = time.Since(start)
				return res, l.expired(ctx, err)
			}
		}
	}

	for _, root := range []*pdg.Node{a, b} {
		added, err := l.RepairProvenance(ctx, root)
		res.Stats.Repaired += added
		if err != nil {
			res.Linked = time.Since(start)
			return res, err
		}
	}
	res.Linked = time.Since(start)

	l.logger.Info("Linked messages",
		zap.String("from", string(posA)),
		zap.String("to", string(posB)),
		zap.Int("flows", res.Stats.Flows),
		zap.Int("propagations", res.Stats.Propagations),
		zap.Int("repaired", res.Stats.Repaired),
		zap.Duration("elapsed", res.Collected+res.Linked))
	return res, nil
}

// expired maps a deadline of the link budget to ErrLinkingTimeout and passes
// any other error, including expiry of the caller's context, through.
func (l *Linker) expired(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrLinkingTimeout, l.opts.LinkTimeout, err)
	}
	return err
}

// link connects every sender to every receiver. The context is checked
// between pairs so a pair is always linked completely.
func (l *Linker) link(ctx context.Context, senders, receivers []messaging.Message, st *Stats) error {
	for _, s := range senders {
		for _, r := range receivers {
			if err := ctx.Err(); err != nil {
				return err
			}
			l.setMessageFlow(s.Node, r.Node, st)
		}
	}
	return nil
}

// setMessageFlow adds the flow edge and hands the sender's value to the
// receiver. With several senders the last one linked wins the value slot;
// every sender stays a flow and provenance parent.
func (l *Linker) setMessageFlow(sender, receiver *pdg.Node, st *Stats) {
	sender.AddFlow(receiver)
	st.Flows++
	if !receiver.IsValue() {
		return
	}
	pdg.SetProvenance(receiver, sender)

	old := receiver.Value().Get()
	next := pdg.ComputeValue(sender)
	if old != nil {
		st.Overwrites++
		l.overwrite.Do(func() {
			l.logger.Warn("Overwriting receiver value",
				zap.Int("receiver_id", receiver.ID),
				zap.String("old", pdg.Render(old)),
				zap.String("new", pdg.Render(next)))
		})
	}
	receiver.Value().Set(next)

	if receiver.Kind == pdg.KindIdentifier {
		st.Propagations += propagate(receiver)
	}
}

// propagate pushes the value and provenance of start along its data
// dependencies and into the formal parameters its uses are bound to. It
// returns the number of nodes visited; each node is visited once, so cyclic
// aliasing terminates.
func propagate(start *pdg.Node) int {
	visited := make(map[*pdg.Node]struct{})
	stack := []*pdg.Node{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[n]; seen {
			continue
		}
		visited[n] = struct{}{}

		var v any
		if n.IsValue() {
			v = n.Value().Get()
		}
		for _, use := range n.DataDepChildren {
			if use.IsValue() {
				use.Value().Set(v)
			}
			pdg.SetProvenance(use, n)
			stack = append(stack, use)
		}

		// msg.data passed as an argument binds the member expression.
		arg := n
		for arg.Parent != nil && arg.Parent.Kind == pdg.KindMemberExpression {
			arg = arg.Parent
		}
		for _, formal := range arg.FunParamParents {
			if arg.IsValue() {
				formal.Value().Set(arg.Value().Get())
			}
			pdg.SetProvenance(formal, arg)
			stack = append(stack, formal)
		}
	}
	return len(visited)
}

// RepairProvenance makes provenance transitive over the graph below root and
// returns the number of parents added. The pass has its own short deadline;
// running out of it is logged and the partial repair kept. Expiry of ctx
// itself is returned.
func (l *Linker) RepairProvenance(ctx context.Context, root *pdg.Node) (int, error) {
	if root == nil {
		return 0, nil
	}
	rctx, cancel := context.WithTimeout(ctx, l.opts.ProvenanceTimeout)
	defer cancel()

	added := 0
	var err error
	pdg.Walk(root, func(n *pdg.Node) bool {
		if err != nil {
			return false
		}
		if err = rctx.Err(); err != nil {
			return false
		}
		added += pdg.RepairProvenance(n)
		return true
	})
	if err != nil {
		if ctx.Err() != nil {
			return added, ctx.Err()
		}
		l.logger.Warn("Provenance repair timed out",
			zap.String("file", root.File()),
			zap.Duration("budget", l.opts.ProvenanceTimeout),
			zap.Int("added", added))
	}
	return added, nil
}
