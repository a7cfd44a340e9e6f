// Package peers tracks transport-level peer connection state and the
// peer-to-participant identity mapping.
package peers

import (
	"log/slog"
	"time"

	"github.com/konnektoren/konnekt-session-go/internal/v1/metrics"
	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// DefaultGracePeriod is how long a disconnected peer may stay gone before
// it is declared timed out.
const DefaultGracePeriod = 30 * time.Second

// ConnectionStatus is a peer's connection state.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusTimedOut     ConnectionStatus = "timed_out"
)

// PeerState tracks one connected peer.
type PeerState struct {
	ConnectedAt       time.Time
	LastSeen          time.Time
	Status            ConnectionStatus
	DisconnectedSince time.Time // Valid while Status == StatusDisconnected

	// Participant binding, if known.
	ParticipantID types.ParticipantID
	Name          string
	IsHost        bool
	Bound         bool
}

// IsTimedOut reports whether the grace period has expired for this peer.
func (s *PeerState) IsTimedOut() bool { return s.Status == StatusTimedOut }

// IsDisconnected reports whether the peer is gone, timed out or not.
func (s *PeerState) IsDisconnected() bool {
	return s.Status == StatusDisconnected || s.Status == StatusTimedOut
}

// Registry holds state for all known peers and enforces the grace period.
// Owned by the session loop; not safe for concurrent use.
type Registry struct {
	peers       map[types.PeerID]*PeerState
	gracePeriod time.Duration
	now         func() time.Time
}

// NewRegistry creates a registry with the default grace period.
func NewRegistry() *Registry {
	return NewRegistryWithGracePeriod(DefaultGracePeriod)
}

// NewRegistryWithGracePeriod creates a registry with a custom grace period.
func NewRegistryWithGracePeriod(grace time.Duration) *Registry {
	return &Registry{
		peers:       make(map[types.PeerID]*PeerState),
		gracePeriod: grace,
		now:         time.Now,
	}
}

// AddPeer registers a newly connected peer.
func (r *Registry) AddPeer(id types.PeerID) {
	now := r.now()
	r.peers[id] = &PeerState{
		ConnectedAt: now,
		LastSeen:    now,
		Status:      StatusConnected,
	}
	metrics.ConnectedPeers.Set(float64(r.PeerCount()))
}

// Peer returns the state for a peer id.
func (r *Registry) Peer(id types.PeerID) (*PeerState, bool) {
	s, ok := r.peers[id]
	return s, ok
}

// RemovePeer drops a peer entirely, returning its final state.
func (r *Registry) RemovePeer(id types.PeerID) (*PeerState, bool) {
	s, ok := r.peers[id]
	if ok {
		delete(r.peers, id)
		metrics.ConnectedPeers.Set(float64(r.PeerCount()))
	}
	return s, ok
}

// UpdateLastSeen records activity from a peer. A disconnected peer that
// speaks again within grace is restored to connected.
func (r *Registry) UpdateLastSeen(id types.PeerID) {
	s, ok := r.peers[id]
	if !ok {
		return
	}
	s.LastSeen = r.now()
	if s.Status == StatusDisconnected {
		slog.Info("Peer reconnected within grace", "peer", id)
		s.Status = StatusConnected
	}
}

// MarkDisconnected starts the grace period for a peer.
func (r *Registry) MarkDisconnected(id types.PeerID) {
	s, ok := r.peers[id]
	if !ok || s.IsDisconnected() {
		return
	}
	s.Status = StatusDisconnected
	s.DisconnectedSince = r.now()
}

// BindParticipant attaches a domain identity to a peer.
func (r *Registry) BindParticipant(id types.PeerID, participantID types.ParticipantID, name string, isHost bool) {
	s, ok := r.peers[id]
	if !ok {
		return
	}
	s.ParticipantID = participantID
	s.Name = name
	s.IsHost = isHost
	s.Bound = true
}

// UnbindParticipant clears the domain binding for whichever peer holds it.
// The transport connection itself is untouched.
func (r *Registry) UnbindParticipant(participantID types.ParticipantID) {
	for _, s := range r.peers {
		if s.Bound && s.ParticipantID == participantID {
			s.Bound = false
			s.IsHost = false
		}
	}
}

// CheckGracePeriods promotes every disconnected peer whose grace elapsed to
// TimedOut and returns their ids. Called once per tick.
func (r *Registry) CheckGracePeriods() []types.PeerID {
	var timedOut []types.PeerID
	now := r.now()
	for id, s := range r.peers {
		if s.Status != StatusDisconnected {
			continue
		}
		if now.Sub(s.DisconnectedSince) >= r.gracePeriod {
			s.Status = StatusTimedOut
			timedOut = append(timedOut, id)
		}
	}
	if len(timedOut) > 0 {
		metrics.ConnectedPeers.Set(float64(r.PeerCount()))
	}
	return timedOut
}

// FindHost returns the peer currently bound as host, if any not timed out.
func (r *Registry) FindHost() (types.PeerID, *PeerState, bool) {
	for id, s := range r.peers {
		if s.Bound && s.IsHost && !s.IsTimedOut() {
			return id, s, true
		}
	}
	return types.NilPeer, nil, false
}

// FindByParticipantID returns the peer bound to a participant.
func (r *Registry) FindByParticipantID(participantID types.ParticipantID) (types.PeerID, bool) {
	for id, s := range r.peers {
		if s.Bound && s.ParticipantID == participantID {
			return id, true
		}
	}
	return types.NilPeer, false
}

// IsPeerHost reports whether a peer is bound as host and not timed out.
func (r *Registry) IsPeerHost(id types.PeerID) bool {
	s, ok := r.peers[id]
	return ok && s.Bound && s.IsHost && !s.IsTimedOut()
}

// PeerCount counts peers that have not timed out.
func (r *Registry) PeerCount() int {
	n := 0
	for _, s := range r.peers {
		if !s.IsTimedOut() {
			n++
		}
	}
	return n
}

// AllPeers returns every known peer id.
func (r *Registry) AllPeers() []types.PeerID {
	out := make([]types.PeerID, 0, len(r.peers))
	for id := range r.peers {
		out = append(out, id)
	}
	return out
}
