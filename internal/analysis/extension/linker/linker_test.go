package linker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/catalog"
	"github.com/xkilldash9x/doublex/internal/analysis/static/javascript"
	"github.com/xkilldash9x/doublex/internal/pdg"
)

// -- Test Helpers --

func parse(t *testing.T, name, code string) *pdg.Node {
	t.Helper()
	b := javascript.NewBuilder(zaptest.NewLogger(t), javascript.Options{})
	root, err := b.Build(context.Background(), name, code)
	require.NoError(t, err)
	return root
}

func linkPair(t *testing.T, l *Linker, cs, bp string, family catalog.Family) (*pdg.Node, *pdg.Node, *Result) {
	t.Helper()
	csRoot, bpRoot := parse(t, "content.js", cs), parse(t, "background.js", bp)
	res, err := l.LinkContexts(context.Background(), csRoot, bpRoot, catalog.CS2BP, catalog.BP2CS, family)
	require.NoError(t, err)
	return csRoot, bpRoot, res
}

func param(t *testing.T, root *pdg.Node, name string) *pdg.Node {
	t.Helper()
	p := pdg.Find(root, func(n *pdg.Node) bool {
		return n.Kind == pdg.KindIdentifier && n.Role == pdg.RoleParams && n.Name() == name
	})
	require.NotNil(t, p, "parameter %s not found", name)
	return p
}

func callArgument(t *testing.T, root *pdg.Node, callee string) *pdg.Node {
	t.Helper()
	call := pdg.Find(root, func(n *pdg.Node) bool {
		c := n.Callee()
		return c != nil && pdg.ComputeString(c) == callee
	})
	require.NotNil(t, call, "call to %s not found", callee)
	arg := call.Child(1)
	require.NotNil(t, arg)
	return arg
}

// -- Linking --

func TestLinkContexts_RoundTrip(t *testing.T) {
	l := New(zaptest.NewLogger(t), Options{})
	_, bp, res := linkPair(t, l,
		`browser.runtime.sendMessage("hello");`,
		`browser.runtime.onMessage.addListener((msg) => {});`,
		catalog.Other)

	msg := param(t, bp, "msg")
	assert.Equal(t, "hello", msg.Value().Get())
	require.Len(t, msg.FlowParents, 1)
	assert.Equal(t, pdg.KindLiteral, msg.FlowParents[0].Kind)
	assert.Equal(t, 1, res.Stats.Flows)
}

func TestLinkContexts_ProvenanceCrossesContexts(t *testing.T) {
	l := New(zaptest.NewLogger(t), Options{})
	cs, bp, _ := linkPair(t, l, `
var userInput = document.location.hash;
chrome.runtime.sendMessage(userInput);
`, `
chrome.runtime.onMessage.addListener(function(msg, sender, sendResponse) {
  eval(msg);
});
`, catalog.Chrome)

	origin := pdg.Find(cs, func(n *pdg.Node) bool {
		return n.Kind == pdg.KindIdentifier && n.Role == pdg.RoleID && n.Name() == "userInput"
	})
	require.NotNil(t, origin)

	evaluated := callArgument(t, bp, "eval")
	assert.Equal(t, "document.location.hash", evaluated.Value().Get())
	assert.True(t, evaluated.Value().HasProvenanceParent(origin))
}

func TestLinkContexts_ResponsesFlowBack(t *testing.T) {
	l := New(zaptest.NewLogger(t), Options{})
	cs, _, _ := linkPair(t, l, `
chrome.runtime.sendMessage("token?", function(answer) { show(answer); });
`, `
chrome.runtime.onMessage.addListener(function(msg, sender, sendResponse) {
  sendResponse("s3cr3t");
});
`, catalog.Chrome)

	answer := param(t, cs, "answer")
	assert.Equal(t, "s3cr3t", answer.Value().Get())
	assert.Equal(t, "s3cr3t", callArgument(t, cs, "show").Value().Get())
}

func TestLinkContexts_ParameterFlow(t *testing.T) {
	l := New(zaptest.NewLogger(t), Options{})
	cs, bp, _ := linkPair(t, l, `
chrome.runtime.sendMessage({code: "alert(1)"});
`, `
chrome.runtime.onMessage.addListener(function(msg) { run(msg.code); });
function run(src) { eval(src); }
`, catalog.Chrome)

	payload := pdg.Find(cs, func(n *pdg.Node) bool { return n.Kind == pdg.KindObjectExpression })
	require.NotNil(t, payload)
	assert.True(t, param(t, bp, "src").Value().HasProvenanceParent(payload))
	assert.True(t, callArgument(t, bp, "eval").Value().HasProvenanceParent(payload))
}

func TestLinkContexts_LastSenderWins(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	l := New(zap.New(core), Options{})
	_, bp, res := linkPair(t, l, `
chrome.runtime.sendMessage({a: 1});
chrome.runtime.sendMessage({b: 2});
`, `chrome.runtime.onMessage.addListener(function(msg) {});`, catalog.Chrome)

	msg := param(t, bp, "msg")
	assert.Equal(t, map[string]any{"b": 2.0}, msg.Value().Get())
	assert.Len(t, msg.FlowParents, 2)
	assert.Len(t, msg.Value().ProvenanceParents(), 2)
	assert.Equal(t, 1, res.Stats.Overwrites)
	assert.Equal(t, 1, logs.FilterMessage("Overwriting receiver value").Len())
}

func TestLinkContexts_StringOverwriteWarns(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	l := New(zap.New(core), Options{})
	_, bp, res := linkPair(t, l, `
chrome.runtime.sendMessage("hello");
chrome.runtime.sendMessage("world");
`, `chrome.runtime.onMessage.addListener(function(msg) {});`, catalog.Chrome)

	assert.Equal(t, "world", param(t, bp, "msg").Value().Get())
	assert.Equal(t, 1, res.Stats.Overwrites)
	assert.Equal(t, 1, logs.FilterMessage("Overwriting receiver value").Len())
}

func TestLinkContexts_RejectsMismatchedPositions(t *testing.T) {
	l := New(zaptest.NewLogger(t), Options{})
	_, err := l.LinkContexts(context.Background(), pdg.NewRoot("a"), pdg.NewRoot("b"), catalog.CS2BP, catalog.WA2BP, catalog.Chrome)
	assert.Error(t, err)
}

// -- Deadlines --

func TestLinkContexts_Timeout(t *testing.T) {
	l := New(zaptest.NewLogger(t), Options{LinkTimeout: time.Nanosecond})
	cs := parse(t, "content.js", `chrome.runtime.sendMessage("x");`)
	bp := parse(t, "background.js", `chrome.runtime.onMessage.addListener(function(m) {});`)

	res, err := l.LinkContexts(context.Background(), cs, bp, catalog.CS2BP, catalog.BP2CS, catalog.Chrome)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLinkingTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	require.NotNil(t, res)
}

func TestLinkContexts_ParentCancellationIsNotATimeout(t *testing.T) {
	l := New(zaptest.NewLogger(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.LinkContexts(ctx, pdg.NewRoot("a"), pdg.NewRoot("b"), catalog.CS2BP, catalog.BP2CS, catalog.Chrome)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrLinkingTimeout))
}

func TestRepairProvenance_ParentExpiryPropagates(t *testing.T) {
	l := New(zaptest.NewLogger(t), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.RepairProvenance(ctx, parse(t, "x.js", `var a = 1; var b = a;`))
	assert.ErrorIs(t, err, context.Canceled)
}

// -- Provenance repair and cycles --

func TestRepairProvenance_Idempotent(t *testing.T) {
	l := New(zaptest.NewLogger(t), Options{})
	_, bp, _ := linkPair(t, l,
		`var secret = location.href; chrome.runtime.sendMessage(secret);`,
		`chrome.runtime.onMessage.addListener(function(msg) { var copy = msg; fetch(copy); });`,
		catalog.Chrome)

	_, err := l.RepairProvenance(context.Background(), bp)
	require.NoError(t, err)

	added, err := l.RepairProvenance(context.Background(), bp)
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestRepairProvenance_AddsTransitiveParents(t *testing.T) {
	root := pdg.NewRoot("chain.js")
	a := root.NewChild(pdg.KindIdentifier, pdg.RoleBody)
	b := root.NewChild(pdg.KindIdentifier, pdg.RoleBody)
	pdg.SetProvenance(b, a)
	// a gains a parent after b copied its provenance.
	origin := root.NewChild(pdg.KindLiteral, pdg.RoleBody)
	pdg.SetProvenance(a, origin)
	require.False(t, b.Value().HasProvenanceParent(origin))

	l := New(zaptest.NewLogger(t), Options{})
	added, err := l.RepairProvenance(context.Background(), root)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.True(t, b.Value().HasProvenanceParent(origin))
}

func TestPropagate_SelfCycleTerminates(t *testing.T) {
	root := pdg.NewRoot("cycle.js")
	x := root.NewChild(pdg.KindIdentifier, pdg.RoleBody)
	x.Attrs.Name = "x"
	x.AddDataDep(x)

	assert.Equal(t, 1, propagate(x), "each node is visited exactly once")

	sender := root.NewChild(pdg.KindLiteral, pdg.RoleBody)
	sender.Value().Set("payload")
	l := New(zaptest.NewLogger(t), Options{})
	var st Stats
	l.setMessageFlow(sender, x, &st)
	assert.Equal(t, 1, st.Propagations)
	assert.Equal(t, "payload", x.Value().Get())
}

func TestPropagate_MutualAliasingTerminates(t *testing.T) {
	root := pdg.NewRoot("mutual.js")
	a := root.NewChild(pdg.KindIdentifier, pdg.RoleBody)
	b := root.NewChild(pdg.KindIdentifier, pdg.RoleBody)
	a.AddDataDep(b)
	b.AddDataDep(a)

	assert.Equal(t, 2, propagate(a))
}
