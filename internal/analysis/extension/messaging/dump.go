// File: internal/analysis/extension/messaging/dump.go
package messaging

import (
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/catalog"
	"github.com/xkilldash9x/doublex/internal/pdg"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ActorDump is the diagnostic rendering of one Messages record. Node lists
// hold the computed value of each message node; API lists hold
// [call text, line span] pairs.
type ActorDump struct {
	Sent           []string    `json:"sent"`
	APISent        [][2]string `json:"api-sent"`
	GotResponse    []string    `json:"got-response"`
	APIGotResponse [][2]string `json:"api-got-response"`
	Received       []string    `json:"received"`
	APIReceived    [][2]string `json:"api-received"`
	Responded      []string    `json:"responded"`
	APIResponded   [][2]string `json:"api-responded"`
}

// Dump maps channel ("WA_CS", "CS_BP", "WA_BP") to category to actor
// ("WA", "CS", "BP").
type Dump map[string]map[string]map[string]ActorDump

// Dump renders every message type of the collection.
func (c *Collection) Dump() Dump {
	return DumpTypes(c.types)
}

// DumpTypes renders the given message types. Discard categories are left
// out, as are web application channels on which nothing was exchanged.
func DumpTypes(types []*MessageType) Dump {
	out := Dump{}
	for _, mt := range types {
		if mt.Category == catalog.Trash {
			continue
		}
		if mt.Channel != catalog.ChannelCsAndBp && mt.IsEmpty() {
			continue
		}
		byCategory, ok := out[string(mt.Channel)]
		if !ok {
			byCategory = map[string]map[string]ActorDump{}
			out[string(mt.Channel)] = byCategory
		}
		actors := map[string]ActorDump{}
		for _, a := range mt.Actors() {
			actors[strings.ToUpper(string(a))] = dumpMessages(mt.For(a))
		}
		byCategory[string(mt.Category)] = actors
	}
	return out
}

// Merge copies other into d, replacing categories present in both.
func (d Dump) Merge(other Dump) {
	for ch, cats := range other {
		dst, ok := d[ch]
		if !ok {
			dst = map[string]map[string]ActorDump{}
			d[ch] = dst
		}
		for cat, actors := range cats {
			dst[cat] = actors
		}
	}
}

// JSON encodes the dump.
func (d Dump) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

func dumpMessages(m *Messages) ActorDump {
	var d ActorDump
	d.Sent, d.APISent = dumpList(m.Sent)
	d.GotResponse, d.APIGotResponse = dumpList(m.GotResponse)
	d.Received, d.APIReceived = dumpList(m.Received)
	d.Responded, d.APIResponded = dumpList(m.Responded)
	return d
}

func dumpList(list []Message) ([]string, [][2]string) {
	values := make([]string, 0, len(list))
	apis := make([][2]string, 0, len(list))
	for _, m := range list {
		values = append(values, pdg.ComputeString(m.Node))
		apis = append(apis, [2]string{m.API.Value, m.API.Line})
	}
	return values, apis
}
