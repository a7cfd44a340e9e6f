// Package transport adapts a NetworkConnection into the typed message
// surface the session loop consumes, and provides the concrete
// connections: the relay-backed WebSocket client and an in-memory mesh.
package transport

import (
	"encoding/json"
	"log/slog"

	"github.com/konnektoren/konnekt-session-go/internal/v1/metrics"
	"github.com/konnektoren/konnekt-session-go/internal/v1/sync"
	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// InboundMessage is a decoded sync message with its originating peer.
type InboundMessage struct {
	From    types.PeerID
	Message sync.Message
}

// Inbound is one tick's worth of drained transport traffic.
type Inbound struct {
	Connected    []types.PeerID
	Disconnected []types.PeerID
	Messages     []InboundMessage
}

// Adapter frames sync messages as JSON over a NetworkConnection. The
// connection delimits frames and preserves per-peer ordering; cross-peer
// ordering is the sync manager's concern.
type Adapter struct {
	conn types.NetworkConnection
}

// NewAdapter wraps a NetworkConnection.
func NewAdapter(conn types.NetworkConnection) *Adapter {
	return &Adapter{conn: conn}
}

// Conn returns the underlying connection.
func (a *Adapter) Conn() types.NetworkConnection { return a.conn }

// LocalPeerID returns the transport-assigned local id.
func (a *Adapter) LocalPeerID() types.PeerID { return a.conn.LocalPeerID() }

// Send delivers one message to one peer. Failures are logged and counted;
// the sync layer's gap repair recovers lost traffic.
func (a *Adapter) Send(peer types.PeerID, msg sync.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := a.conn.SendTo(peer, data); err != nil {
		metrics.TransportSendErrors.Inc()
		slog.Warn("Transport send failed", "peer", peer, "type", msg.Type, "error", err)
		return err
	}
	return nil
}

// Broadcast delivers one message to every connected peer.
func (a *Adapter) Broadcast(msg sync.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := a.conn.Broadcast(data); err != nil {
		metrics.TransportSendErrors.Inc()
		slog.Warn("Transport broadcast failed", "type", msg.Type, "error", err)
		return err
	}
	return nil
}

// Poll drains pending transport events, decoding payloads. Malformed
// envelopes are protocol errors: logged and discarded.
func (a *Adapter) Poll() Inbound {
	var in Inbound
	for _, ev := range a.conn.PollEvents() {
		switch ev.Kind {
		case types.TransportPeerConnected:
			in.Connected = append(in.Connected, ev.Peer)
		case types.TransportPeerDisconnected:
			in.Disconnected = append(in.Disconnected, ev.Peer)
		case types.TransportMessageReceived:
			var msg sync.Message
			if err := json.Unmarshal(ev.Payload, &msg); err != nil {
				slog.Warn("Discarding malformed envelope", "peer", ev.Peer, "error", err)
				continue
			}
			if msg.Type == "" {
				slog.Warn("Discarding envelope without type", "peer", ev.Peer)
				continue
			}
			in.Messages = append(in.Messages, InboundMessage{From: ev.Peer, Message: msg})
		}
	}
	return in
}
