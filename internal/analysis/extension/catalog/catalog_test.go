package catalog

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePosition(t *testing.T) {
	p, err := ParsePosition("cs2bp")
	require.NoError(t, err)
	assert.Equal(t, CS2BP, p)
	assert.Equal(t, ActorContent, p.Actor())
	assert.Equal(t, ActorBackground, p.Partner())
	assert.Equal(t, ChannelCsAndBp, p.Channel())

	_, err = ParsePosition("cs2cs")
	assert.Error(t, err)
}

func TestPositionChannels(t *testing.T) {
	cases := map[Position]Channel{
		WA2CS: ChannelWaAndCs, CS2WA: ChannelWaAndCs,
		CS2BP: ChannelCsAndBp, BP2CS: ChannelCsAndBp,
		WA2BP: ChannelWaAndBp, BP2WA: ChannelWaAndBp,
	}
	for pos, ch := range cases {
		assert.Equal(t, ch, pos.Channel(), string(pos))
		assert.NotEmpty(t, Tables(Chrome, pos), string(pos))
		assert.NotEmpty(t, Tables(Other, pos), string(pos))
	}
}

func TestCategoryLongLived(t *testing.T) {
	assert.True(t, C2.LongLived())
	assert.True(t, B2.LongLived())
	assert.False(t, C1.LongLived())
	assert.False(t, C1Deprecated.LongLived())
	assert.False(t, B.LongLived())
}

// Every literal pattern must select its own entry, or an earlier one that
// it contains, when searched in the table list it belongs to.
func TestClassify_PatternsMatchThemselves(t *testing.T) {
	for _, family := range []Family{Chrome, Other} {
		for _, table := range All(family) {
			for _, e := range table.Entries {
				if e.PostMessage != NotPostMessage {
					continue
				}
				m, ok := Lookup([]Table{table}, e.Pattern)
				require.True(t, ok, "%s/%s: %s", family, table.Name, e.Pattern)
				assert.Contains(t, e.Pattern, m.Pattern)
			}
		}
	}
}

func TestClassify_Chrome(t *testing.T) {
	cases := []struct {
		name     string
		position Position
		callee   string
		want     Descriptor
		wantOK   bool
	}{
		{"one-time send", CS2BP, "chrome.runtime.sendMessage", Descriptor{C1, HandleRuntimeSendMessage}, true},
		{"deprecated send", CS2BP, "chrome.extension.sendRequest", Descriptor{C1Deprecated, HandleRuntimeSendRequest}, true},
		{"connect", CS2BP, "chrome.runtime.connect", Descriptor{C2, HandleConnect}, true},
		{"listener in second table", CS2BP, "chrome.runtime.onMessage.addListener", Descriptor{C1, HandleRuntimeOnMessage}, true},
		{"destructured listener", BP2CS, "{}.runtime.onMessage.addListener", Descriptor{C1, HandleRuntimeOnMessage}, true},
		{"deprecated listener", BP2CS, "chrome.extension.onRequest.addListener", Descriptor{C1Deprecated, HandleRuntimeOnMessage}, true},
		{"tabs", BP2CS, "chrome.tabs.sendMessage", Descriptor{C1, HandleTabsSendMessage}, true},
		{"port listener", BP2CS, "chrome.runtime.connect().onMessage.addListener", Descriptor{C2, HandlePortOnMessage}, true},
		{"port post", CS2BP, "port.postMessage", Descriptor{C2, HandlePostMessage}, true},
		{"global post on port table", CS2BP, "window.postMessage", Descriptor{Trash, HandleNothing}, true},
		{"external listener", BP2WA, "chrome.runtime.onMessageExternal.addListener", Descriptor{C1, HandleRuntimeOnMessage}, true},
		{"external connect", BP2WA, "chrome.runtime.onConnectExternal.addListener", Descriptor{C2, HandleOnConnectExternal}, true},
		{"internal listener is trash for external", BP2WA, "chrome.runtime.onMessage.addListener", Descriptor{Trash, HandleNothing}, true},
		{"web app send", WA2BP, "chrome.runtime.sendMessage", Descriptor{C1, HandleRuntimeSendMessage}, true},
		{"window post", WA2CS, "window.postMessage", Descriptor{C, HandlePostMessage}, true},
		{"bare post", CS2WA, "postMessage", Descriptor{C, HandlePostMessage}, true},
		{"frame post is trash", CS2WA, "iframe.contentWindow.postMessage", Descriptor{Trash, HandleNothing}, true},
		{"event listener", WA2CS, "window.addEventListener", Descriptor{C, HandleAddEventListener}, true},
		{"unrelated", CS2BP, "console.log", Descriptor{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Classify(Tables(Chrome, tc.position), tc.callee)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassify_Browser(t *testing.T) {
	d, ok := Classify(Tables(Other, CS2BP), "browser.runtime.sendMessage")
	require.True(t, ok)
	assert.Equal(t, Descriptor{B1, HandleBrowserRuntimeSendMessage}, d)

	d, ok = Classify(Tables(Other, BP2CS), "browser.tabs.sendMessage")
	require.True(t, ok)
	assert.Equal(t, Descriptor{B1, HandleBrowserTabsSendMessage}, d)

	d, ok = Classify(Tables(Other, BP2CS), "port.postMessage")
	require.True(t, ok)
	assert.Equal(t, Descriptor{B2, HandlePostMessage}, d)

	d, ok = Classify(Tables(Other, WA2CS), "self.postMessage")
	require.True(t, ok)
	assert.Equal(t, Descriptor{B, HandlePostMessage}, d)

	_, ok = Classify(Tables(Other, CS2BP), "chrome.runtime.sendMessage")
	assert.False(t, ok, "chrome namespace is not part of the browser tables")
}

func TestLookup_ReportsPatternAndTable(t *testing.T) {
	m, ok := Lookup(Tables(Chrome, CS2BP), "chrome.runtime.sendMessage")
	require.True(t, ok)
	assert.Equal(t, "CS2BP", m.Table)
	assert.Equal(t, "chrome.runtime.sendMessage", m.Pattern)
}

func TestPostMessageDisambiguation(t *testing.T) {
	for _, receiver := range globalPostMessages {
		assert.Equal(t, Descriptor{C, HandlePostMessage}, GlobalPostMessageDescriptor(Chrome, receiver), receiver)
		assert.Equal(t, Descriptor{Trash, HandleNothing}, PortPostMessageDescriptor(Chrome, receiver), receiver)
	}
	assert.Equal(t, Descriptor{Trash, HandleNothing}, PortPostMessageDescriptor(Other, "postMessage"))
	assert.Equal(t, Descriptor{B2, HandlePostMessage}, PortPostMessageDescriptor(Other, "myPort.postMessage"))
	assert.Equal(t, Descriptor{Trash, HandleNothing}, GlobalPostMessageDescriptor(Other, "myPort.postMessage"))
}

func TestOnMessageDescriptor(t *testing.T) {
	assert.Equal(t, Descriptor{C, HandleOnMessageProperty}, OnMessageDescriptor(Chrome))
	assert.Equal(t, Descriptor{B, HandleOnMessageProperty}, OnMessageDescriptor(Other))
}

func TestHandlerString(t *testing.T) {
	assert.Equal(t, "runtime_onMessage_addListener", HandleRuntimeOnMessage.String())
	assert.Equal(t, "onmessage", HandleOnMessageProperty.String())
	assert.Equal(t, "handler(99)", Handler(99).String())
}

// FuzzClassify checks that lookups never panic and that a match always
// comes from a pattern contained in the input.
func FuzzClassify(f *testing.F) {
	f.Add([]byte("chrome.runtime.sendMessage"))
	f.Add([]byte("window.postMessage"))
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		text, err := consumer.GetString()
		if err != nil {
			return
		}
		positions := []Position{WA2CS, CS2WA, CS2BP, BP2CS, WA2BP, BP2WA}
		idx, err := consumer.GetInt()
		if err != nil {
			return
		}
		if idx < 0 {
			idx = -idx
		}
		pos := positions[idx%len(positions)]
		for _, family := range []Family{Chrome, Other} {
			m, ok := Lookup(Tables(family, pos), text)
			if ok {
				assert.Contains(t, text, m.Pattern)
			}
		}
	})
}
