// File: internal/analysis/extension/messaging/deprecated.go
package messaging

import (
	"strings"

	"github.com/xkilldash9x/doublex/internal/pdg"
)

var (
	// runtimeMembers moved from chrome.extension to chrome.runtime.
	runtimeMembers = []string{"onMessage", "sendMessage", "onMessageExternal", "onConnect", "connect", "onConnectExternal"}
	// requestMembers were replaced by their *Message counterparts.
	requestMembers = []string{"onRequest", "sendRequest", "onRequestExternal"}
)

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// DeprecatedAPIs lists the calls to deprecated Chromium messaging APIs found
// below root, rendered as call text in source order.
func DeprecatedAPIs(root *pdg.Node) []string {
	var out []string
	pdg.Walk(root, func(n *pdg.Node) bool {
		if n == root {
			return true
		}
		callee := n.Callee()
		if callee == nil {
			return true
		}
		text, ok := pdg.ComputeValue(callee).(string)
		if !ok {
			return true
		}
		deprecated := false
		switch {
		case strings.Contains(text, "chrome.extension"):
			deprecated = containsAny(text, runtimeMembers) || containsAny(text, requestMembers)
		case strings.Contains(text, "chrome.runtime"):
			deprecated = containsAny(text, requestMembers)
		case strings.Contains(text, "chrome.tabs.sendRequest"):
			deprecated = true
		}
		if deprecated {
			out = append(out, pdg.ComputeString(n))
		}
		return true
	})
	return out
}
