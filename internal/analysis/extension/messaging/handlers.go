// File: internal/analysis/extension/messaging/handlers.go
package messaging

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/catalog"
	"github.com/xkilldash9x/doublex/internal/pdg"
)

// Children counts below include the callee at index 0, so a call with k
// arguments has k+1 children.

// globalReceivers are the objects whose addEventListener listens to window
// messages.
var globalReceivers = []string{"window", "this", "that", "self", "top", "global", "source"}

// handlerCall is one handler invocation on one call site.
type handlerCall struct {
	d       *discovery
	n       *pdg.Node
	rec     *Messages
	api     API
	pattern string
}

func (h handlerCall) run(kind catalog.Handler) {
	switch kind {
	case catalog.HandleRuntimeSendMessage:
		h.runtimeSendMessage(true)
	case catalog.HandleRuntimeSendRequest:
		h.runtimeSendMessage(false)
	case catalog.HandleBrowserRuntimeSendMessage:
		h.browserRuntimeSendMessage()
	case catalog.HandleTabsSendMessage:
		h.tabsSendMessage()
	case catalog.HandleTabsSendRequest:
		h.tabsSendRequest()
	case catalog.HandleBrowserTabsSendMessage:
		h.browserTabsSendMessage()
	case catalog.HandleConnect:
		h.connect()
	case catalog.HandleRuntimeOnMessage:
		h.runtimeOnMessage()
	case catalog.HandleOnConnect:
		// The port usually escapes into a global; its messages are found
		// through the connect and port listener shapes instead.
	case catalog.HandleOnConnectExternal:
		if p := h.n.Program(); p != nil {
			p.OnConnectExternal = true
		}
	case catalog.HandlePortOnMessage:
		h.portOnMessage()
	case catalog.HandlePostMessage:
		h.postMessage()
	case catalog.HandleAddEventListener:
		h.addEventListener()
	case catalog.HandleOnMessageProperty:
		param, _ := ResolveDefinition(h.n, 0)
		h.rec.addReceived(param, h.api)
	}
}

func (h handlerCall) unexpected() {
	h.d.logger.Warn("Unexpected number of arguments",
		zap.String("api", h.pattern),
		zap.Int("node_id", h.n.ID),
		zap.Int("arguments", len(h.n.Children)-1))
}

// calleeText is the computed text of the callee, or "".
func (h handlerCall) calleeText() string {
	s, _ := pdg.ComputeValue(h.n.Callee()).(string)
	return s
}

// awaitsResponse reports whether the call is a .then continuation of a
// promise-based send.
func (h handlerCall) awaitsResponse() bool {
	return strings.Contains(h.api.Value, ".then(")
}

// thenResponse records the first parameter of a .then(onResponse) handler.
func (h handlerCall) thenResponse() {
	response, _ := ResolveDefinition(h.n.Child(1), 0)
	h.rec.addGotResponse(response, h.api)
}

// runtimeSendMessage handles (msg), (extensionId, msg) and
// (extensionId, msg, options), each optionally followed by a response
// callback. withOptions is false for the deprecated sendRequest, which has
// no options argument.
func (h handlerCall) runtimeSendMessage(withOptions bool) {
	n := len(h.n.Children)
	response, _ := ResolveDefinition(h.n.Children[n-1], 0)
	h.rec.addGotResponse(response, h.api)

	args := n - 1
	if response != nil {
		args--
	}
	var message *pdg.Node
	switch {
	case args == 1:
		message = h.n.Child(1)
	case args == 2:
		message = h.n.Child(2)
	case args == 3 && withOptions:
		message = h.n.Child(2)
	default:
		h.unexpected()
	}
	h.rec.addSent(message, h.api)
}

func (h handlerCall) browserRuntimeSendMessage() {
	if h.awaitsResponse() {
		h.thenResponse()
		return
	}
	var message *pdg.Node
	switch len(h.n.Children) {
	case 2:
		message = h.n.Child(1)
	case 3, 4:
		message = h.n.Child(2)
	default:
		h.unexpected()
	}
	h.rec.addSent(message, h.api)
}

// tabsSendMessage handles (tabId, msg[, options][, callback]).
func (h handlerCall) tabsSendMessage() {
	n := len(h.n.Children)
	if n < 3 {
		return
	}
	if n > 5 {
		h.unexpected()
		return
	}
	h.rec.addSent(h.n.Child(2), h.api)
	if n > 3 {
		response, _ := ResolveDefinition(h.n.Children[n-1], 0)
		h.rec.addGotResponse(response, h.api)
	}
}

// tabsSendRequest handles (tabId, msg[, callback]).
func (h handlerCall) tabsSendRequest() {
	n := len(h.n.Children)
	if n < 3 || n > 4 {
		h.unexpected()
		return
	}
	h.rec.addSent(h.n.Child(2), h.api)
	if n == 4 {
		response, _ := ResolveDefinition(h.n.Child(3), 0)
		h.rec.addGotResponse(response, h.api)
	}
}

func (h handlerCall) browserTabsSendMessage() {
	if h.awaitsResponse() {
		h.thenResponse()
		return
	}
	n := len(h.n.Children)
	if n < 3 || n > 4 {
		h.unexpected()
		return
	}
	h.rec.addSent(h.n.Child(2), h.api)
}

// connect handles the calls made on the port returned by connect().
func (h handlerCall) connect() {
	callee := h.calleeText()
	// connectNative is not a messaging port.
	if !strings.Contains(callee, ".connect(") {
		return
	}
	switch {
	case strings.Contains(callee, ".postMessage"):
		h.postMessage()
	case strings.Contains(callee, ".onMessage.addListener"):
		h.portOnMessage()
	}
}

// fromNativePort reports whether the callee goes through connectNative or a
// similarly named member rather than connect().
func fromNativePort(callee string) bool {
	return strings.Contains(callee, ".connect") && !strings.Contains(callee, ".connect(")
}

func (h handlerCall) portOnMessage() {
	if len(h.n.Children) != 2 {
		h.unexpected()
		return
	}
	if fromNativePort(h.calleeText()) {
		return
	}
	message, _ := ResolveDefinition(h.n.Child(1), 0)
	h.rec.addReceived(message, h.api)
}

func (h handlerCall) postMessage() {
	if len(h.n.Children) < 2 {
		h.unexpected()
		return
	}
	if fromNativePort(h.calleeText()) {
		return
	}
	h.rec.addSent(h.n.Child(1), h.api)
}

// runtimeOnMessage handles listeners of the (message, sender, sendResponse)
// shape. Answers are the arguments of sendResponse calls, or the value of a
// Promise.resolve in the listener body.
func (h handlerCall) runtimeOnMessage() {
	if len(h.n.Children) != 2 {
		h.unexpected()
		return
	}
	listener := h.n.Child(1)
	message, _ := ResolveDefinition(listener, 0)
	h.rec.addReceived(message, h.api)

	sendResponse, fn := ResolveDefinition(listener, 2)
	if sendResponse != nil {
		if answers := ResolveInvocation(sendResponse, make(map[*pdg.Node]struct{})); len(answers) > 0 {
			for _, a := range answers {
				h.rec.addResponded(a, h.api)
			}
			return
		}
	}
	if fn == nil {
		return
	}
	if resolve := FindPromiseResolve(fn); resolve != nil {
		h.rec.addResponded(resolve.Child(1), h.api)
	}
}

func (h handlerCall) addEventListener() {
	value := h.api.Value
	global := !strings.Contains(value, ".addEventListener")
	for _, g := range globalReceivers {
		if strings.Contains(value, g) {
			global = true
			break
		}
	}
	if !global {
		h.d.logger.Debug("Skipping non-global addEventListener", zap.String("value", value))
		return
	}
	if len(h.n.Children) < 3 {
		h.unexpected()
		return
	}
	if event, _ := pdg.ComputeValue(h.n.Child(1)).(string); event != "message" {
		return
	}
	message, _ := ResolveDefinition(h.n.Child(2), 0)
	h.rec.addReceived(message, h.api)
}
