// File: internal/analysis/extension/catalog/tables.go
package catalog

import "strings"

// globalPostMessages are the receivers of window.postMessage.
var globalPostMessages = []string{
	"window.postMessage", "this.postMessage", "that.postMessage", "self.postMessage",
	"top.postMessage", "global.postMessage", ".source.postMessage",
}

func entry(pattern string, cat Category, h Handler) Entry {
	return Entry{Pattern: pattern, Descriptor: Descriptor{Category: cat, Handler: h}}
}

func postMessageEntry(mode PostMessageMode) Entry {
	return Entry{Pattern: "postMessage", PostMessage: mode}
}

// -- Chromium-based browsers --

var chromeCS2BP = Table{Name: "CS2BP", Entries: []Entry{
	entry("chrome.runtime.sendMessage", C1, HandleRuntimeSendMessage),
	entry("chrome.runtime.connect", C2, HandleConnect),
	entry("chrome.extension.sendMessage", C1, HandleRuntimeSendMessage),
	entry("chrome.extension.connect", C2, HandleConnect),
	entry("chrome.runtime.sendRequest", C1Deprecated, HandleRuntimeSendRequest),
	entry("chrome.extension.sendRequest", C1Deprecated, HandleRuntimeSendRequest),
}}

var chromeBP2CS = Table{Name: "BP2CS", Entries: []Entry{
	entry("chrome.tabs.sendMessage", C1, HandleTabsSendMessage),
	entry("chrome.tabs.connect", C2, HandleConnect),
	entry("chrome.tabs.sendRequest", C1Deprecated, HandleTabsSendRequest),
}}

// The "}." patterns catch listeners registered on a destructured or
// parenthesized namespace object.
var chromeCSBP = Table{Name: "CS_BP", Entries: []Entry{
	entry("chrome.runtime.onMessage.addListener", C1, HandleRuntimeOnMessage),
	entry("}.runtime.onMessage.addListener", C1, HandleRuntimeOnMessage),
	entry("chrome.runtime.onConnect.addListener", C2, HandleOnConnect),
	entry("chrome.extension.onMessage.addListener", C1, HandleRuntimeOnMessage),
	entry("}.extension.onMessage.addListener", C1, HandleRuntimeOnMessage),
	entry("chrome.extension.onConnect.addListener", C2, HandleOnConnect),
	entry("chrome.runtime.onRequest.addListener", C1Deprecated, HandleRuntimeOnMessage),
	entry("}.runtime.onRequest.addListener", C1Deprecated, HandleRuntimeOnMessage),
	entry("chrome.extension.onRequest.addListener", C1Deprecated, HandleRuntimeOnMessage),
	entry("}.extension.onRequest.addListener", C1Deprecated, HandleRuntimeOnMessage),
	postMessageEntry(PostMessagePort),
	entry(".onMessage.addListener", C2, HandlePortOnMessage),
}}

var chromeWACS = Table{Name: "WA_CS", Entries: []Entry{
	postMessageEntry(PostMessageGlobal),
	entry("addEventListener", C, HandleAddEventListener),
	entry("onmessage", C, HandleOnMessageProperty),
}}

var chromeWA2BP = Table{Name: "WA2BP", Entries: []Entry{
	entry("chrome.runtime.sendMessage", C1, HandleRuntimeSendMessage),
	entry("chrome.extension.sendMessage", C1, HandleRuntimeSendMessage),
	entry("chrome.runtime.sendRequest", C1Deprecated, HandleRuntimeSendRequest),
	entry("chrome.extension.sendRequest", C1Deprecated, HandleRuntimeSendRequest),
	entry("chrome.runtime.connect", C2, HandleConnect),
	entry("chrome.extension.connect", C2, HandleConnect),
}}

var chromeBP2WA = Table{Name: "BP2WA", Entries: []Entry{
	entry("chrome.runtime.onMessageExternal.addListener", C1, HandleRuntimeOnMessage),
	entry("}.runtime.onMessageExternal.addListener", C1, HandleRuntimeOnMessage),
	entry("chrome.runtime.onConnectExternal.addListener", C2, HandleOnConnectExternal),
	entry("chrome.extension.onMessageExternal.addListener", C1, HandleRuntimeOnMessage),
	entry("}.extension.onMessageExternal.addListener", C1, HandleRuntimeOnMessage),
	entry("chrome.extension.onConnectExternal.addListener", C2, HandleOnConnectExternal),
	entry("chrome.runtime.onRequestExternal.addListener", C1Deprecated, HandleRuntimeOnMessage),
	entry("}.runtime.onRequestExternal.addListener", C1Deprecated, HandleRuntimeOnMessage),
	entry("chrome.extension.onRequestExternal.addListener", C1Deprecated, HandleRuntimeOnMessage),
	entry("}.extension.onRequestExternal.addListener", C1Deprecated, HandleRuntimeOnMessage),
	postMessageEntry(PostMessagePort),
	// Internal listeners must not be confounded with port listeners.
	entry(".runtime.onMessage.addListener", Trash, HandleNothing),
	entry(".extension.onMessage.addListener", Trash, HandleNothing),
	entry(".onMessage.addListener", C2, HandlePortOnMessage),
}}

// -- Other browsers --

var browserCS2BP = Table{Name: "CS2BP", Entries: []Entry{
	entry("browser.runtime.sendMessage", B1, HandleBrowserRuntimeSendMessage),
	entry("browser.runtime.connect", B2, HandleConnect),
}}

var browserBP2CS = Table{Name: "BP2CS", Entries: []Entry{
	entry("browser.tabs.sendMessage", B1, HandleBrowserTabsSendMessage),
	entry("browser.tabs.connect", B2, HandleConnect),
}}

var browserCSBP = Table{Name: "CS_BP", Entries: []Entry{
	entry("browser.runtime.onMessage.addListener", B1, HandleRuntimeOnMessage),
	entry("browser.runtime.onConnect.addListener", B2, HandleOnConnect),
	postMessageEntry(PostMessagePort),
	entry(".onMessage.addListener", B2, HandlePortOnMessage),
}}

var browserWACS = Table{Name: "WA_CS", Entries: []Entry{
	postMessageEntry(PostMessageGlobal),
	entry("addEventListener", B, HandleAddEventListener),
	entry("onmessage", B, HandleOnMessageProperty),
}}

var browserWA2BP = Table{Name: "WA2BP", Entries: []Entry{
	entry("browser.runtime.sendMessage", B1, HandleBrowserRuntimeSendMessage),
	entry("browser.runtime.connect", B2, HandleConnect),
}}

var browserBP2WA = Table{Name: "BP2WA", Entries: []Entry{
	entry("browser.runtime.onMessageExternal.addListener", B1, HandleRuntimeOnMessage),
	entry("browser.runtime.onConnectExternal.addListener", B2, HandleOnConnectExternal),
	postMessageEntry(PostMessagePort),
	entry(".runtime.onMessage.addListener", Trash, HandleNothing),
	entry(".onMessage.addListener", B2, HandlePortOnMessage),
}}

func init() {
	for _, t := range []*Table{&chromeCS2BP, &chromeBP2CS, &chromeCSBP, &chromeWACS, &chromeWA2BP, &chromeBP2WA} {
		t.Family = Chrome
	}
	for _, t := range []*Table{&browserCS2BP, &browserBP2CS, &browserCSBP, &browserWACS, &browserWA2BP, &browserBP2WA} {
		t.Family = Other
	}
}

// Tables returns, in lookup order, the tables relevant to position.
func Tables(family Family, position Position) []Table {
	if family == Chrome {
		switch position {
		case WA2CS, CS2WA:
			return []Table{chromeWACS}
		case CS2BP:
			return []Table{chromeCS2BP, chromeCSBP}
		case BP2CS:
			return []Table{chromeBP2CS, chromeCSBP}
		case WA2BP:
			return []Table{chromeWA2BP}
		case BP2WA:
			return []Table{chromeBP2WA}
		}
		return nil
	}
	switch position {
	case WA2CS, CS2WA:
		return []Table{browserWACS}
	case CS2BP:
		return []Table{browserCS2BP, browserCSBP}
	case BP2CS:
		return []Table{browserBP2CS, browserCSBP}
	case WA2BP:
		return []Table{browserWA2BP}
	case BP2WA:
		return []Table{browserBP2WA}
	}
	return nil
}

// Match is a successful lookup: the pattern that matched and its resolved
// descriptor.
type Match struct {
	Table      string
	Pattern    string
	Descriptor Descriptor
}

// Lookup finds the first entry whose pattern occurs in text, searching the
// tables in order. postMessage entries are resolved with the disambiguator
// of the table's family.
func Lookup(tables []Table, text string) (Match, bool) {
	for _, t := range tables {
		for _, e := range t.Entries {
			if !strings.Contains(text, e.Pattern) {
				continue
			}
			d := e.Descriptor
			switch e.PostMessage {
			case PostMessageGlobal:
				d = GlobalPostMessageDescriptor(t.Family, text)
			case PostMessagePort:
				d = PortPostMessageDescriptor(t.Family, text)
			}
			return Match{Table: t.Name, Pattern: e.Pattern, Descriptor: d}, true
		}
	}
	return Match{}, false
}

// Classify returns the descriptor of the first entry matching text.
func Classify(tables []Table, text string) (Descriptor, bool) {
	m, ok := Lookup(tables, text)
	return m.Descriptor, ok
}

func isGlobalPostMessage(text string) bool {
	for _, pm := range globalPostMessages {
		if strings.Contains(text, pm) {
			return true
		}
	}
	return false
}

func postMessageCategory(family Family, longLived bool) Category {
	switch {
	case family == Chrome && longLived:
		return C2
	case family == Chrome:
		return C
	case longLived:
		return B2
	}
	return B
}

// GlobalPostMessageDescriptor treats text as window.postMessage unless it
// has the shape of a port's postMessage.
func GlobalPostMessageDescriptor(family Family, text string) Descriptor {
	if isGlobalPostMessage(text) || !strings.Contains(text, ".postMessage") {
		return Descriptor{Category: postMessageCategory(family, false), Handler: HandlePostMessage}
	}
	return Descriptor{Category: Trash, Handler: HandleNothing}
}

// PortPostMessageDescriptor treats text as port.postMessage unless it is
// one of the global receivers.
func PortPostMessageDescriptor(family Family, text string) Descriptor {
	if !isGlobalPostMessage(text) && strings.Contains(text, ".postMessage") {
		return Descriptor{Category: postMessageCategory(family, true), Handler: HandlePostMessage}
	}
	return Descriptor{Category: Trash, Handler: HandleNothing}
}

// OnMessageDescriptor is the descriptor used for onmessage assignments.
func OnMessageDescriptor(family Family) Descriptor {
	t := chromeWACS
	if family != Chrome {
		t = browserWACS
	}
	for _, e := range t.Entries {
		if e.Pattern == "onmessage" {
			return e.Descriptor
		}
	}
	return Descriptor{Category: Trash, Handler: HandleNothing}
}

// All returns every table of a family, one per API group.
func All(family Family) []Table {
	if family == Chrome {
		return []Table{chromeCS2BP, chromeBP2CS, chromeCSBP, chromeWACS, chromeWA2BP, chromeBP2WA}
	}
	return []Table{browserCS2BP, browserBP2CS, browserCSBP, browserWACS, browserWA2BP, browserBP2WA}
}
