// File: internal/analysis/extension/messaging/messages.go
// Package messaging finds the message-passing call sites of a dependence
// graph and records what each actor sends, receives and answers.
package messaging

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/catalog"
	"github.com/xkilldash9x/doublex/internal/pdg"
)

// API is the call text and line span of the API that produced a message.
type API struct {
	Value string `json:"value"`
	Line  string `json:"line"`
}

// Message pairs a message node with the API it was found in.
type Message struct {
	Node *pdg.Node
	API  API
}

// Messages is what one actor exchanges on one channel category.
type Messages struct {
	// Sent holds the messages the actor sends.
	Sent []Message
	// GotResponse holds the answers the actor gets to the messages it sent.
	GotResponse []Message
	// Received holds the messages the actor receives.
	Received []Message
	// Responded holds the answers the actor gives to the messages it received.
	Responded []Message
}

// IsEmpty reports whether nothing was exchanged.
func (m *Messages) IsEmpty() bool {
	return len(m.Sent) == 0 && len(m.GotResponse) == 0 && len(m.Received) == 0 && len(m.Responded) == 0
}

func (m *Messages) addSent(n *pdg.Node, api API) {
	if n != nil {
		m.Sent = append(m.Sent, Message{Node: n, API: api})
	}
}

func (m *Messages) addGotResponse(n *pdg.Node, api API) {
	if n != nil {
		m.GotResponse = append(m.GotResponse, Message{Node: n, API: api})
	}
}

func (m *Messages) addReceived(n *pdg.Node, api API) {
	if n != nil {
		m.Received = append(m.Received, Message{Node: n, API: api})
	}
}

func (m *Messages) addResponded(n *pdg.Node, api API) {
	if n != nil {
		m.Responded = append(m.Responded, Message{Node: n, API: api})
	}
}

// Nodes extracts the message nodes of a list.
func Nodes(list []Message) []*pdg.Node {
	out := make([]*pdg.Node, 0, len(list))
	for _, m := range list {
		out = append(out, m.Node)
	}
	return out
}

// MessageType groups the Messages of the two actors of a channel for one
// category.
type MessageType struct {
	Category catalog.Category
	Channel  catalog.Channel

	actors map[catalog.Actor]*Messages
}

func newMessageType(channel catalog.Channel, category catalog.Category) *MessageType {
	mt := &MessageType{Category: category, Channel: channel, actors: make(map[catalog.Actor]*Messages, 2)}
	for _, a := range channelActors(channel) {
		mt.actors[a] = &Messages{}
	}
	return mt
}

// For returns the record of actor, or nil when the actor is not part of the
// channel.
func (mt *MessageType) For(actor catalog.Actor) *Messages {
	return mt.actors[actor]
}

// Actors lists the two actors of the channel, in dump order.
func (mt *MessageType) Actors() []catalog.Actor {
	return channelActors(mt.Channel)
}

// IsEmpty reports whether no actor exchanged anything.
func (mt *MessageType) IsEmpty() bool {
	for _, m := range mt.actors {
		if !m.IsEmpty() {
			return false
		}
	}
	return true
}

func channelActors(ch catalog.Channel) []catalog.Actor {
	switch ch {
	case catalog.ChannelWaAndCs:
		return []catalog.Actor{catalog.ActorWebApp, catalog.ActorContent}
	case catalog.ChannelCsAndBp:
		return []catalog.Actor{catalog.ActorContent, catalog.ActorBackground}
	case catalog.ChannelWaAndBp:
		return []catalog.Actor{catalog.ActorWebApp, catalog.ActorBackground}
	}
	return nil
}

type typeKey struct {
	channel  catalog.Channel
	category catalog.Category
}

// Collection accumulates the message types found in the graphs of one
// communicating pair. It is not safe for concurrent use.
type Collection struct {
	logger *zap.Logger
	types  []*MessageType
	index  map[typeKey]*MessageType
}

// NewCollection creates an empty collection.
func NewCollection(logger *zap.Logger) *Collection {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collection{
		logger: logger.Named("messaging"),
		index:  make(map[typeKey]*MessageType),
	}
}

// Types returns the message types in discovery order.
func (c *Collection) Types() []*MessageType {
	return c.types
}

// Get returns the message type of a channel and category, or nil.
func (c *Collection) Get(channel catalog.Channel, category catalog.Category) *MessageType {
	return c.index[typeKey{channel, category}]
}

// ensure returns the message type, creating it on first sight.
func (c *Collection) ensure(channel catalog.Channel, category catalog.Category) *MessageType {
	key := typeKey{channel, category}
	if mt, ok := c.index[key]; ok {
		return mt
	}
	mt := newMessageType(channel, category)
	c.index[key] = mt
	c.types = append(c.types, mt)
	return mt
}
