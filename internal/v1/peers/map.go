package peers

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// ParticipantMap is a strict 1:1 bidirectional mapping between transport
// peers and domain participants. Registering a pair evicts any prior
// binding of either side.
type ParticipantMap struct {
	peerToParticipant map[types.PeerID]types.ParticipantID
	participantToPeer map[types.ParticipantID]types.PeerID
}

// NewParticipantMap creates an empty mapping.
func NewParticipantMap() *ParticipantMap {
	return &ParticipantMap{
		peerToParticipant: make(map[types.PeerID]types.ParticipantID),
		participantToPeer: make(map[types.ParticipantID]types.PeerID),
	}
}

// Register binds a peer to a participant, evicting prior bindings of
// either side.
func (m *ParticipantMap) Register(peer types.PeerID, participant types.ParticipantID) {
	if old, ok := m.peerToParticipant[peer]; ok {
		delete(m.participantToPeer, old)
	}
	if old, ok := m.participantToPeer[participant]; ok {
		delete(m.peerToParticipant, old)
	}
	m.peerToParticipant[peer] = participant
	m.participantToPeer[participant] = peer
	m.assertBijective()
}

// RemoveByPeer drops a binding by peer side. Idempotent.
func (m *ParticipantMap) RemoveByPeer(peer types.PeerID) (types.ParticipantID, bool) {
	participant, ok := m.peerToParticipant[peer]
	if !ok {
		return uuid.Nil, false
	}
	delete(m.peerToParticipant, peer)
	delete(m.participantToPeer, participant)
	m.assertBijective()
	return participant, true
}

// RemoveByParticipant drops a binding by participant side. Idempotent.
func (m *ParticipantMap) RemoveByParticipant(participant types.ParticipantID) (types.PeerID, bool) {
	peer, ok := m.participantToPeer[participant]
	if !ok {
		return types.NilPeer, false
	}
	delete(m.participantToPeer, participant)
	delete(m.peerToParticipant, peer)
	m.assertBijective()
	return peer, true
}

// Participant returns the participant bound to a peer.
func (m *ParticipantMap) Participant(peer types.PeerID) (types.ParticipantID, bool) {
	p, ok := m.peerToParticipant[peer]
	return p, ok
}

// Peer returns the peer bound to a participant.
func (m *ParticipantMap) Peer(participant types.ParticipantID) (types.PeerID, bool) {
	p, ok := m.participantToPeer[participant]
	return p, ok
}

// ContainsPeer reports whether the peer side is bound.
func (m *ParticipantMap) ContainsPeer(peer types.PeerID) bool {
	_, ok := m.peerToParticipant[peer]
	return ok
}

// ContainsParticipant reports whether the participant side is bound.
func (m *ParticipantMap) ContainsParticipant(participant types.ParticipantID) bool {
	_, ok := m.participantToPeer[participant]
	return ok
}

// Len returns the number of bindings.
func (m *ParticipantMap) Len() int { return len(m.peerToParticipant) }

// Clear drops every binding.
func (m *ParticipantMap) Clear() {
	m.peerToParticipant = make(map[types.PeerID]types.ParticipantID)
	m.participantToPeer = make(map[types.ParticipantID]types.PeerID)
}

// assertBijective crashes if the two sides diverge; that is a bug, not a
// recoverable condition.
func (m *ParticipantMap) assertBijective() {
	if len(m.peerToParticipant) != len(m.participantToPeer) {
		panic(fmt.Sprintf("peers: bidirectional map invariant violated (%d peers, %d participants)",
			len(m.peerToParticipant), len(m.participantToPeer)))
	}
}
