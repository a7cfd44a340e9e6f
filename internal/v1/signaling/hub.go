package signaling

import (
	"log/slog"
	"net/http"
	gosync "sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/konnektoren/konnekt-session-go/internal/v1/metrics"
)

// Hub coordinates relay sessions. Sessions are created on demand when the
// first peer connects and removed when the last peer leaves.
//
// The hub holds no lobby state; which peer is host, what the lobby looks
// like, all of that lives on the peers themselves.
type Hub struct {
	mu       gosync.Mutex
	sessions map[string]*relaySession

	upgrader websocket.Upgrader
	maxPeers int
}

// DefaultMaxPeersPerSession caps relay room size. It matches the lobby
// capacity bound so the relay rejects what the lobby would anyway.
const DefaultMaxPeersPerSession = 16

// NewHub creates a hub. checkOrigin may be nil to accept any origin
// (development mode).
func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		sessions: make(map[string]*relaySession),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		maxPeers: DefaultMaxPeersPerSession,
	}
}

// RegisterRoutes mounts the relay endpoints on a gin router group.
func (h *Hub) RegisterRoutes(r gin.IRoutes) {
	r.GET("/v1/sessions/:id/ws", h.ServeWs)
}

// ServeWs upgrades the request and joins the peer to its session. The
// session id must be a UUID; anything else is rejected before upgrade.
func (h *Hub) ServeWs(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := uuid.Parse(sessionID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session id must be a UUID"})
		return
	}

	session, ok := h.getOrCreateSession(sessionID)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session is full"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "session", sessionID, "error", err)
		return
	}

	session.join(conn)
}

func (h *Hub) getOrCreateSession(id string) (*relaySession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.sessions[id]
	if !ok {
		session = newRelaySession(id, h.maxPeers, h.dropSession)
		h.sessions[id] = session
		metrics.RelayRooms.Set(float64(len(h.sessions)))
		slog.Info("Relay session created", "session", id)
	}
	if session.full() {
		return nil, false
	}
	return session, true
}

func (h *Hub) dropSession(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
	metrics.RelayRooms.Set(float64(len(h.sessions)))
	slog.Info("Relay session removed", "session", id)
}

// SessionCount returns the number of active sessions.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// relaySession is one rendezvous room: a set of peer connections, the
// forwarding logic between them, and the ICE configuration the first
// announcing peer (the host) shared for the session.
type relaySession struct {
	id         string
	mu         gosync.Mutex
	peers      map[string]*relayPeer
	max        int
	onEmpty    func(string)
	iceServers []ICEServer
}

func newRelaySession(id string, max int, onEmpty func(string)) *relaySession {
	return &relaySession{
		id:      id,
		peers:   make(map[string]*relayPeer),
		max:     max,
		onEmpty: onEmpty,
	}
}

func (s *relaySession) full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers) >= s.max
}

func (s *relaySession) join(conn *websocket.Conn) {
	peer := &relayPeer{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, peerSendBuffer),
		session: s,
	}

	s.mu.Lock()
	existing := make([]string, 0, len(s.peers))
	for id := range s.peers {
		existing = append(existing, id)
	}
	s.peers[peer.id] = peer
	ice := s.iceServers
	s.mu.Unlock()

	metrics.RelayConnections.Inc()
	slog.Info("Peer joined relay session", "session", s.id, "peer", peer.id, "peers", len(existing)+1)

	go peer.writePump()
	peer.enqueueFrame(Frame{Type: FrameWelcome, PeerID: peer.id, Peers: existing, ICEServers: ice})
	s.broadcastFrame(Frame{Type: FramePeerJoined, PeerID: peer.id}, peer.id)

	go peer.readPump()
}

func (s *relaySession) leave(peer *relayPeer) {
	s.mu.Lock()
	if _, ok := s.peers[peer.id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.peers, peer.id)
	empty := len(s.peers) == 0
	s.mu.Unlock()

	metrics.RelayConnections.Dec()
	slog.Info("Peer left relay session", "session", s.id, "peer", peer.id)
	s.broadcastFrame(Frame{Type: FramePeerLeft, PeerID: peer.id}, peer.id)

	if empty && s.onEmpty != nil {
		s.onEmpty(s.id)
	}
}

// setICEServers records the session's ICE configuration. First announcer
// wins: the host connects first, and later joiners must not override what
// earlier peers were already welcomed with.
func (s *relaySession) setICEServers(from *relayPeer, servers []ICEServer) {
	if len(servers) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.iceServers != nil {
		return
	}
	s.iceServers = servers
	slog.Info("Session ICE configuration set", "session", s.id, "peer", from.id, "servers", len(servers))
}

// forward routes a data frame: unicast when To is set, otherwise to every
// peer but the sender.
func (s *relaySession) forward(from *relayPeer, frame Frame) {
	frame.From = from.id
	if frame.To != "" {
		s.mu.Lock()
		target, ok := s.peers[frame.To]
		s.mu.Unlock()
		if ok {
			target.enqueueFrame(frame)
			metrics.RelayFrames.WithLabelValues("unicast").Inc()
		}
		return
	}
	s.broadcastFrame(frame, from.id)
	metrics.RelayFrames.WithLabelValues("broadcast").Inc()
}

func (s *relaySession) broadcastFrame(frame Frame, exceptID string) {
	s.mu.Lock()
	targets := make([]*relayPeer, 0, len(s.peers))
	for id, p := range s.peers {
		if id != exceptID {
			targets = append(targets, p)
		}
	}
	s.mu.Unlock()

	for _, p := range targets {
		p.enqueueFrame(frame)
	}
}

const (
	peerSendBuffer   = 256
	peerWriteTimeout = 10 * time.Second
	peerPongTimeout  = 60 * time.Second
	peerPingInterval = 50 * time.Second
)
