package transport

import (
	"context"
	"fmt"
	gosync "sync"

	"github.com/google/uuid"

	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// MemoryMesh is an in-process NetworkConnection fabric. Every connection
// sees every other as a peer; delivery is immediate and per-peer ordered.
// Used by the package and integration tests.
type MemoryMesh struct {
	mu    gosync.Mutex
	conns map[types.PeerID]*MemoryConn
}

// NewMemoryMesh creates an empty mesh.
func NewMemoryMesh() *MemoryMesh {
	return &MemoryMesh{conns: make(map[types.PeerID]*MemoryConn)}
}

// Connect attaches a new connection to the mesh and announces it to every
// existing peer.
func (m *MemoryMesh) Connect() *MemoryConn {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn := &MemoryConn{
		mesh: m,
		id:   types.PeerID(uuid.NewString()),
	}

	for id, other := range m.conns {
		other.push(types.TransportEvent{Kind: types.TransportPeerConnected, Peer: conn.id})
		conn.push(types.TransportEvent{Kind: types.TransportPeerConnected, Peer: id})
	}
	m.conns[conn.id] = conn
	return conn
}

// Disconnect detaches a connection, announcing the departure.
func (m *MemoryMesh) Disconnect(id types.PeerID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnectLocked(id)
}

func (m *MemoryMesh) disconnectLocked(id types.PeerID) {
	if _, ok := m.conns[id]; !ok {
		return
	}
	delete(m.conns, id)
	for _, other := range m.conns {
		other.push(types.TransportEvent{Kind: types.TransportPeerDisconnected, Peer: id})
	}
}

// MemoryConn is one endpoint on a MemoryMesh.
type MemoryConn struct {
	mesh *MemoryMesh
	id   types.PeerID

	mu     gosync.Mutex
	inbox  []types.TransportEvent
	closed bool
}

func (c *MemoryConn) push(ev types.TransportEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.inbox = append(c.inbox, ev)
}

// LocalPeerID implements NetworkConnection.
func (c *MemoryConn) LocalPeerID() types.PeerID { return c.id }

// ConnectedPeers implements NetworkConnection.
func (c *MemoryConn) ConnectedPeers() []types.PeerID {
	c.mesh.mu.Lock()
	defer c.mesh.mu.Unlock()

	var out []types.PeerID
	for id := range c.mesh.conns {
		if id != c.id {
			out = append(out, id)
		}
	}
	return out
}

// SendTo implements NetworkConnection.
func (c *MemoryConn) SendTo(peer types.PeerID, data []byte) error {
	c.mesh.mu.Lock()
	defer c.mesh.mu.Unlock()

	target, ok := c.mesh.conns[peer]
	if !ok {
		return fmt.Errorf("memory mesh: unknown peer %s", peer)
	}
	target.push(types.TransportEvent{
		Kind:    types.TransportMessageReceived,
		Peer:    c.id,
		Payload: append([]byte(nil), data...),
	})
	return nil
}

// Broadcast implements NetworkConnection.
func (c *MemoryConn) Broadcast(data []byte) error {
	c.mesh.mu.Lock()
	defer c.mesh.mu.Unlock()

	for id, target := range c.mesh.conns {
		if id == c.id {
			continue
		}
		target.push(types.TransportEvent{
			Kind:    types.TransportMessageReceived,
			Peer:    c.id,
			Payload: append([]byte(nil), data...),
		})
	}
	return nil
}

// PollEvents implements NetworkConnection.
func (c *MemoryConn) PollEvents() []types.TransportEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.inbox
	c.inbox = nil
	return out
}

// Close implements NetworkConnection.
func (c *MemoryConn) Close(ctx context.Context) error {
	c.mesh.Disconnect(c.id)
	c.mu.Lock()
	c.closed = true
	c.inbox = nil
	c.mu.Unlock()
	return nil
}
