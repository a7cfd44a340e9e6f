// Package types defines shared identifiers, value types and interfaces for
// the session core.
package types

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// --- Core Identifiers ---

// ParticipantID uniquely identifies a participant within a lobby.
type ParticipantID = uuid.UUID

// LobbyID uniquely identifies a lobby.
type LobbyID = uuid.UUID

// ActivityID uniquely identifies an activity within a lobby.
type ActivityID = uuid.UUID

// SessionID is the rendezvous identifier exchanged out-of-band that guests
// use to locate the host mesh.
type SessionID = uuid.UUID

// PeerID is an opaque transport-level identifier, assigned by the signalling
// layer. It is distinct from every domain identifier.
type PeerID string

// NilPeer is the zero PeerID.
const NilPeer PeerID = ""

func (p PeerID) String() string { return string(p) }

// --- Roles and Modes ---

// RoleType defines a participant's authority in the lobby.
type RoleType string

const (
	RoleTypeHost  RoleType = "host"  // May manage the lobby and assign sequences
	RoleTypeGuest RoleType = "guest" // Regular participant
)

// ModeType defines whether a participant takes part in activities.
type ModeType string

const (
	ModeTypeActive     ModeType = "active"     // May submit activity results
	ModeTypeSpectating ModeType = "spectating" // View-only
)

// Toggled returns the opposite participation mode.
func (m ModeType) Toggled() ModeType {
	if m == ModeTypeActive {
		return ModeTypeSpectating
	}
	return ModeTypeActive
}

// ActivityStatus is the lifecycle state of an activity. Transitions are
// one-way: Planned -> InProgress -> Completed | Cancelled.
type ActivityStatus string

const (
	ActivityStatusPlanned    ActivityStatus = "planned"
	ActivityStatusInProgress ActivityStatus = "in_progress"
	ActivityStatusCompleted  ActivityStatus = "completed"
	ActivityStatusCancelled  ActivityStatus = "cancelled"
)

// --- Timestamp ---

// Timestamp is monotonic milliseconds since a process-wide anchor
// established at first reference. Timestamps are totally ordered and used
// only for deterministic tie-breaking, never wall-clock reasoning.
type Timestamp uint64

var (
	anchorOnce sync.Once
	anchor     time.Time
)

// Now returns the current monotonic timestamp.
func Now() Timestamp {
	anchorOnce.Do(func() { anchor = time.Now() })
	return Timestamp(time.Since(anchor).Milliseconds())
}

// Millis returns the raw millisecond value.
func (t Timestamp) Millis() uint64 { return uint64(t) }

func (t Timestamp) String() string { return fmt.Sprintf("%dms", uint64(t)) }

// --- Validation ---

// Name length bounds for participants and lobbies.
const (
	MinNameLength = 1
	MaxNameLength = 50
)

var (
	ErrEmptyName     = errors.New("name cannot be empty")
	ErrNameTooLong   = errors.New("name must be between 1 and 50 characters")
	ErrUnknownLobby  = errors.New("lobby not found")
	ErrUnknownTarget = errors.New("participant not found")
	ErrNotAuthorized = errors.New("requester is not authorized")
)

// ValidateName checks a display or lobby name against the business rules.
func ValidateName(name string) error {
	if len(name) < MinNameLength {
		return ErrEmptyName
	}
	if len(name) > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}

// --- Transport Interfaces ---

// TransportEventKind discriminates TransportEvent variants.
type TransportEventKind string

const (
	TransportPeerConnected    TransportEventKind = "peer_connected"
	TransportPeerDisconnected TransportEventKind = "peer_disconnected"
	TransportMessageReceived  TransportEventKind = "message_received"
)

// TransportEvent is a presence or payload event surfaced by the transport.
type TransportEvent struct {
	Kind    TransportEventKind
	Peer    PeerID
	Payload []byte // Set for MessageReceived only
}

// NetworkConnection is the capability the core consumes from the signalling
// and WebRTC layers. Implementations must preserve per-peer ordering and
// deliver payloads intact or not at all; cross-peer ordering is the sync
// manager's responsibility.
type NetworkConnection interface {
	LocalPeerID() PeerID
	ConnectedPeers() []PeerID
	SendTo(peer PeerID, data []byte) error
	Broadcast(data []byte) error
	PollEvents() []TransportEvent
	Close(ctx context.Context) error
}
