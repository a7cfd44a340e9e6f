// Package signaling implements the rendezvous and frame relay server plus
// the wire protocol it shares with the client in internal/v1/transport.
//
// The relay holds no lobby state: it assigns opaque peer ids, forwards
// frames between peers of one session and broadcasts presence. It also
// carries the session's ICE configuration from the first peer (the host)
// to later joiners, so every peer hands the same STUN/TURN set to the
// WebRTC layer. Together with the transport client it provides the
// NetworkConnection capability the session core consumes.
package signaling

import "encoding/json"

// Frame types exchanged between relay and clients.
const (
	FrameWelcome    = "welcome"     // relay -> client, on join
	FrameHello      = "hello"       // client -> relay, announces ICE config
	FramePeerJoined = "peer_joined" // relay -> clients
	FramePeerLeft   = "peer_left"   // relay -> clients
	FrameData       = "data"        // both directions
)

// ICEServer is one STUN or TURN endpoint peers hand to the WebRTC layer.
// Credentials are set for TURN only.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// DefaultSTUNServers returns the fallback ICE set used when no TURN server
// is configured.
func DefaultSTUNServers() []ICEServer {
	return []ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"stun:stun1.l.google.com:19302"}},
	}
}

// Frame is the JSON message on a relay WebSocket. Type selects the fields.
type Frame struct {
	Type string `json:"type"`

	// Welcome: the id assigned to this client, the peers already present,
	// and the session's ICE configuration if a peer announced one.
	// Hello: the announcing peer's ICE configuration.
	PeerID     string      `json:"peer_id,omitempty"`
	Peers      []string    `json:"peers,omitempty"`
	ICEServers []ICEServer `json:"ice_servers,omitempty"`

	// Data: originator (set by relay), optional unicast target, payload.
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
