package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"

	"github.com/konnektoren/konnekt-session-go/internal/v1/signaling"
	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

const (
	relayWriteTimeout = 10 * time.Second
	relayInboxSize    = 256
)

// RelayConn is a NetworkConnection backed by the signalling relay over a
// WebSocket. The relay assigns the local peer id and forwards data frames;
// per-peer ordering follows from the single TCP stream.
type RelayConn struct {
	conn    *websocket.Conn
	localID types.PeerID

	writeMu gosync.Mutex

	// The read pump blocks on this channel when full; the core drains it
	// non-blockingly each tick.
	inbox chan types.TransportEvent

	peersMu gosync.Mutex
	peers   map[types.PeerID]struct{}

	// The session's effective ICE configuration: what we announced, or
	// what the relay welcomed us with. Consumed by the WebRTC layer.
	iceMu      gosync.Mutex
	iceServers []signaling.ICEServer

	cancel context.CancelFunc
	wg     gosync.WaitGroup
}

// relayBreaker guards dialing the relay. After repeated failures it opens
// and fails fast instead of hammering a dead endpoint.
var relayBreaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
	Name:        "relay-dial",
	MaxRequests: 1,
	Timeout:     15 * time.Second,
	ReadyToTrip: func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 3
	},
	OnStateChange: func(name string, from, to gobreaker.State) {
		slog.Warn("Relay dial breaker state change", "from", from.String(), "to", to.String())
	},
})

// DialRelay connects to the relay server and joins the given session. The
// returned connection is live: presence and data frames start flowing into
// the inbox immediately.
//
// iceServers is this peer's STUN/TURN set for the WebRTC layer. The first
// peer to announce one (the host) fixes it for the session; later joiners
// receive it in their welcome, so every peer negotiates against the same
// servers. Pass nothing to adopt whatever the session already uses.
func DialRelay(ctx context.Context, serverURL string, sessionID types.SessionID, iceServers ...signaling.ICEServer) (*RelayConn, error) {
	wsURL := fmt.Sprintf("%s/v1/sessions/%s/ws", serverURL, sessionID)

	for _, server := range iceServers {
		if server.Username != "" {
			slog.Info("ICE server configured", "urls", server.URLs, "auth", true)
		} else {
			slog.Info("ICE server configured", "urls", server.URLs)
		}
	}

	res, err := relayBreaker.Execute(func() (any, error) {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			return nil, fmt.Errorf("dialing relay %s: %w", wsURL, err)
		}
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	conn := res.(*websocket.Conn)

	// The relay speaks first: a welcome frame with our id and the peers
	// already present.
	var welcome signaling.Frame
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading relay welcome: %w", err)
	}
	if welcome.Type != signaling.FrameWelcome || welcome.PeerID == "" {
		conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q from relay", welcome.Type)
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	r := &RelayConn{
		conn:    conn,
		localID: types.PeerID(welcome.PeerID),
		inbox:   make(chan types.TransportEvent, relayInboxSize),
		peers:   make(map[types.PeerID]struct{}),
		cancel:  cancel,
	}

	// The session's ICE set is whatever an earlier peer announced; absent
	// that, announce our own so later joiners inherit it.
	switch {
	case len(welcome.ICEServers) > 0:
		r.iceServers = welcome.ICEServers
	case len(iceServers) > 0:
		r.iceServers = iceServers
		if err := r.writeFrame(signaling.Frame{Type: signaling.FrameHello, ICEServers: iceServers}); err != nil {
			conn.Close()
			cancel()
			return nil, fmt.Errorf("announcing ICE configuration: %w", err)
		}
	}

	for _, p := range welcome.Peers {
		peer := types.PeerID(p)
		r.peers[peer] = struct{}{}
		r.inbox <- types.TransportEvent{Kind: types.TransportPeerConnected, Peer: peer}
	}

	r.wg.Add(1)
	go r.readPump(pumpCtx)

	slog.Info("Joined relay session",
		"peerId", r.localID, "existingPeers", len(welcome.Peers), "iceServers", len(r.iceServers))
	return r, nil
}

// ICEServers returns the session's effective STUN/TURN configuration for
// the WebRTC layer.
func (r *RelayConn) ICEServers() []signaling.ICEServer {
	r.iceMu.Lock()
	defer r.iceMu.Unlock()
	return append([]signaling.ICEServer(nil), r.iceServers...)
}

func (r *RelayConn) readPump(ctx context.Context) {
	defer r.wg.Done()
	for {
		var frame signaling.Frame
		if err := r.conn.ReadJSON(&frame); err != nil {
			if ctx.Err() == nil {
				slog.Warn("Relay read failed", "error", err)
			}
			return
		}

		switch frame.Type {
		case signaling.FramePeerJoined:
			peer := types.PeerID(frame.PeerID)
			r.peersMu.Lock()
			r.peers[peer] = struct{}{}
			r.peersMu.Unlock()
			r.deliver(ctx, types.TransportEvent{Kind: types.TransportPeerConnected, Peer: peer})

		case signaling.FramePeerLeft:
			peer := types.PeerID(frame.PeerID)
			r.peersMu.Lock()
			delete(r.peers, peer)
			r.peersMu.Unlock()
			r.deliver(ctx, types.TransportEvent{Kind: types.TransportPeerDisconnected, Peer: peer})

		case signaling.FrameData:
			r.deliver(ctx, types.TransportEvent{
				Kind:    types.TransportMessageReceived,
				Peer:    types.PeerID(frame.From),
				Payload: frame.Payload,
			})

		default:
			slog.Warn("Discarding unknown relay frame", "type", frame.Type)
		}
	}
}

// deliver blocks when the inbox is full; the relay drops us as the slowest
// peer rather than let the whole mesh stall.
func (r *RelayConn) deliver(ctx context.Context, ev types.TransportEvent) {
	select {
	case r.inbox <- ev:
	case <-ctx.Done():
	}
}

func (r *RelayConn) writeFrame(frame signaling.Frame) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := r.conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout)); err != nil {
		return err
	}
	return r.conn.WriteJSON(frame)
}

// LocalPeerID implements NetworkConnection.
func (r *RelayConn) LocalPeerID() types.PeerID { return r.localID }

// ConnectedPeers implements NetworkConnection.
func (r *RelayConn) ConnectedPeers() []types.PeerID {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	out := make([]types.PeerID, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	return out
}

// SendTo implements NetworkConnection.
func (r *RelayConn) SendTo(peer types.PeerID, data []byte) error {
	return r.writeFrame(signaling.Frame{
		Type:    signaling.FrameData,
		To:      string(peer),
		Payload: json.RawMessage(data),
	})
}

// Broadcast implements NetworkConnection.
func (r *RelayConn) Broadcast(data []byte) error {
	return r.writeFrame(signaling.Frame{
		Type:    signaling.FrameData,
		Payload: json.RawMessage(data),
	})
}

// PollEvents implements NetworkConnection.
func (r *RelayConn) PollEvents() []types.TransportEvent {
	var out []types.TransportEvent
	for {
		select {
		case ev := <-r.inbox:
			out = append(out, ev)
		default:
			return out
		}
	}
}

// Close implements NetworkConnection.
func (r *RelayConn) Close(ctx context.Context) error {
	r.cancel()

	r.writeMu.Lock()
	_ = r.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := r.conn.Close()
	r.writeMu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
