// File: internal/analysis/extension/messaging/webapp.go
package messaging

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/catalog"
	"github.com/xkilldash9x/doublex/internal/pdg"
)

// WebApp holds what an extension component exchanges with an attacker
// controlled web page or extension.
type WebApp struct {
	// Received are the messages (and responses) coming from the web page.
	Received []Message
	// Sent are the messages (and responses) going to the web page.
	Sent []Message
	// Types are the message types that contributed.
	Types []*MessageType
}

// ReceivedNodes returns the nodes of Received.
func (w *WebApp) ReceivedNodes() []*pdg.Node { return Nodes(w.Received) }

// SentNodes returns the nodes of Sent.
func (w *WebApp) SentNodes() []*pdg.Node { return Nodes(w.Sent) }

// WebAppCommunication collects the messages the content script (actor cs)
// or background page (actor bp) exchanges with the web application.
//
// Background pages hand a port to both onConnect and onConnectExternal
// listeners, so long-lived categories only count in the background page when
// an onConnectExternal listener was registered.
func WebAppCommunication(ctx context.Context, root *pdg.Node, actor catalog.Actor, family catalog.Family, c *Collection) (*WebApp, error) {
	var position catalog.Position
	switch actor {
	case catalog.ActorContent:
		position = catalog.CS2WA
	case catalog.ActorBackground:
		position = catalog.BP2WA
	default:
		return nil, fmt.Errorf("web application communication: unsupported actor %q", actor)
	}

	if err := Discover(ctx, root, position, family, c); err != nil {
		return nil, err
	}

	external := root != nil && root.Program() != nil && root.Program().OnConnectExternal
	out := &WebApp{}
	for _, mt := range c.Types() {
		if mt.Channel != position.Channel() || mt.Category == catalog.Trash {
			continue
		}
		if actor == catalog.ActorBackground && mt.Category.LongLived() && !external {
			continue
		}
		rec := mt.For(actor)
		out.Sent = append(out.Sent, rec.Sent...)
		out.Sent = append(out.Sent, rec.Responded...)
		out.Received = append(out.Received, rec.Received...)
		out.Received = append(out.Received, rec.GotResponse...)
		out.Types = append(out.Types, mt)
	}
	return out, nil
}
