// File: internal/analysis/extension/catalog/catalog.go
// Package catalog holds the message-passing API tables of browser extensions:
// which call shapes send, receive or answer messages, on which channel
// category, and which handler extracts the message nodes from the call.
package catalog

import (
	"fmt"
	"strings"
)

// Family selects the API naming of a browser engine.
type Family int

const (
	// Chrome covers Chromium-based browsers (chrome.* namespace).
	Chrome Family = iota
	// Other covers the remaining engines (browser.* namespace).
	Other
)

func (f Family) String() string {
	if f == Chrome {
		return "chrome"
	}
	return "browser"
}

// Actor is one of the isolated execution contexts.
type Actor string

const (
	ActorWebApp     Actor = "wa"
	ActorContent    Actor = "cs"
	ActorBackground Actor = "bp"
)

// Channel names a communicating pair of actors.
type Channel string

const (
	ChannelWaAndCs Channel = "WA_CS"
	ChannelCsAndBp Channel = "CS_BP"
	ChannelWaAndBp Channel = "WA_BP"
)

// Position is the current actor and its communication partner, e.g. cs2bp:
// analyzing the content script talking to the background page.
type Position string

const (
	WA2CS Position = "wa2cs"
	CS2WA Position = "cs2wa"
	CS2BP Position = "cs2bp"
	BP2CS Position = "bp2cs"
	WA2BP Position = "wa2bp"
	BP2WA Position = "bp2wa"
)

// ParsePosition validates a position string.
func ParsePosition(s string) (Position, error) {
	switch p := Position(s); p {
	case WA2CS, CS2WA, CS2BP, BP2CS, WA2BP, BP2WA:
		return p, nil
	}
	return "", fmt.Errorf("unknown communication position %q", s)
}

// Actor is the context being analyzed (the letters before the 2).
func (p Position) Actor() Actor {
	if i := strings.IndexByte(string(p), '2'); i > 0 {
		return Actor(p[:i])
	}
	return ""
}

// Partner is the context on the other end (the letters after the 2).
func (p Position) Partner() Actor {
	if i := strings.IndexByte(string(p), '2'); i >= 0 {
		return Actor(p[i+1:])
	}
	return ""
}

// Channel is the actor pair the position communicates over.
func (p Position) Channel() Channel {
	switch p {
	case WA2CS, CS2WA:
		return ChannelWaAndCs
	case CS2BP, BP2CS:
		return ChannelCsAndBp
	case WA2BP, BP2WA:
		return ChannelWaAndBp
	}
	return ""
}

// Category tags a family of messaging semantics.
type Category string

const (
	// C1 is the Chromium one-time request/response channel.
	C1 Category = "C1"
	// C2 is the Chromium long-lived port channel.
	C2 Category = "C2"
	// C1Deprecated is the Chromium sendRequest/onRequest channel.
	C1Deprecated Category = "C1-d"
	// C is the Chromium window.postMessage channel.
	C Category = "C"
	// B1 is the one-time channel of the other engines.
	B1 Category = "B1"
	// B2 is the long-lived channel of the other engines.
	B2 Category = "B2"
	// B is the window.postMessage channel of the other engines.
	B Category = "B"
	// Trash absorbs call shapes that would otherwise match a shorter pattern.
	Trash Category = "Trash"
)

// LongLived reports whether the category is a port-based channel.
func (c Category) LongLived() bool {
	return strings.Contains(string(c), "2")
}

// Handler identifies how message nodes are extracted from a matched call.
type Handler int

const (
	HandleNothing Handler = iota
	// HandleRuntimeSendMessage: chrome.runtime.sendMessage and its legacy alias.
	HandleRuntimeSendMessage
	// HandleRuntimeSendRequest: the deprecated chrome.*.sendRequest.
	HandleRuntimeSendRequest
	// HandleBrowserRuntimeSendMessage: promise-based browser.runtime.sendMessage.
	HandleBrowserRuntimeSendMessage
	// HandleTabsSendMessage: chrome.tabs.sendMessage.
	HandleTabsSendMessage
	// HandleTabsSendRequest: the deprecated chrome.tabs.sendRequest.
	HandleTabsSendRequest
	// HandleBrowserTabsSendMessage: promise-based browser.tabs.sendMessage.
	HandleBrowserTabsSendMessage
	// HandleConnect: runtime/tabs connect, then port.postMessage or
	// port.onMessage.addListener on the returned port.
	HandleConnect
	// HandleRuntimeOnMessage: onMessage/onRequest listeners and their
	// External variants, with sendResponse or Promise.resolve answers.
	HandleRuntimeOnMessage
	// HandleOnConnect: onConnect listeners; the port is tracked through connect.
	HandleOnConnect
	// HandleOnConnectExternal: flags the program as accepting external ports.
	HandleOnConnectExternal
	// HandlePortOnMessage: port.onMessage.addListener.
	HandlePortOnMessage
	// HandlePostMessage: window or port postMessage.
	HandlePostMessage
	// HandleAddEventListener: global addEventListener("message", ...).
	HandleAddEventListener
	// HandleOnMessageProperty: onmessage = function(event) {...}.
	HandleOnMessageProperty
)

var handlerNames = [...]string{
	"do_nothing",
	"runtime_sendMessage",
	"runtime_sendRequest",
	"browser_runtime_sendMessage",
	"tabs_sendMessage",
	"tabs_sendRequest",
	"browser_tabs_sendMessage",
	"connect",
	"runtime_onMessage_addListener",
	"onConnect_addListener",
	"onConnectExternal_addListener",
	"onMessage_addListener",
	"post_message",
	"add_event_listener",
	"onmessage",
}

func (h Handler) String() string {
	if int(h) < len(handlerNames) {
		return handlerNames[h]
	}
	return fmt.Sprintf("handler(%d)", int(h))
}

// Descriptor is the outcome of a catalog match.
type Descriptor struct {
	Category Category
	Handler  Handler
}

// PostMessageMode marks the ambiguous postMessage entries.
type PostMessageMode int

const (
	// NotPostMessage entries carry their descriptor directly.
	NotPostMessage PostMessageMode = iota
	// PostMessageGlobal entries go through GlobalPostMessageDescriptor.
	PostMessageGlobal
	// PostMessagePort entries go through PortPostMessageDescriptor.
	PostMessagePort
)

// Entry maps an API-name substring to a descriptor.
type Entry struct {
	Pattern     string
	Descriptor  Descriptor
	PostMessage PostMessageMode
}

// Table is an ordered pattern table; the first matching entry wins.
type Table struct {
	Name    string
	Family  Family
	Entries []Entry
}
