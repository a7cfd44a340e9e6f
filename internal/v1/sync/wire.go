package sync

import (
	"encoding/json"

	"github.com/konnektoren/konnekt-session-go/internal/v1/lobby"
	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// EventKind discriminates LobbyEvent bodies on the wire.
type EventKind string

const (
	KindLobbyCreated             EventKind = "LobbyCreated"
	KindGuestJoined              EventKind = "GuestJoined"
	KindGuestLeft                EventKind = "GuestLeft"
	KindGuestKicked              EventKind = "GuestKicked"
	KindHostDelegated            EventKind = "HostDelegated"
	KindParticipationModeChanged EventKind = "ParticipationModeChanged"
	KindActivityPlanned          EventKind = "ActivityPlanned"
	KindActivityStarted          EventKind = "ActivityStarted"
	KindActivityCancelled        EventKind = "ActivityCancelled"
	KindResultSubmitted          EventKind = "ResultSubmitted"
	KindActivityCompleted        EventKind = "ActivityCompleted"
)

// EventBody is the tagged payload of a LobbyEvent. Exactly the fields for
// Kind are set; the lobby id lives on the enclosing LobbyEvent.
type EventBody struct {
	Kind EventKind `json:"kind"`

	Name          string                  `json:"name,omitempty"`          // LobbyCreated
	Host          *lobby.Participant      `json:"host,omitempty"`          // LobbyCreated
	Participant   *lobby.Participant      `json:"participant,omitempty"`   // GuestJoined
	ParticipantID *types.ParticipantID    `json:"participantId,omitempty"` // GuestLeft, GuestKicked, ParticipationModeChanged
	KickedBy      *types.ParticipantID    `json:"kickedBy,omitempty"`      // GuestKicked
	From          *types.ParticipantID    `json:"from,omitempty"`          // HostDelegated
	To            *types.ParticipantID    `json:"to,omitempty"`            // HostDelegated
	Reason        string                  `json:"reason,omitempty"`        // HostDelegated
	NewMode       types.ModeType          `json:"newMode,omitempty"`       // ParticipationModeChanged
	Metadata      *lobby.ActivityMetadata `json:"metadata,omitempty"`      // ActivityPlanned
	ActivityID    *types.ActivityID       `json:"activityId,omitempty"`    // ActivityStarted, ActivityCancelled, ActivityCompleted
	Result        *lobby.ActivityResult   `json:"result,omitempty"`        // ResultSubmitted
	Results       []lobby.ActivityResult  `json:"results,omitempty"`       // ActivityCompleted
}

// LobbyEvent is the sequenced wire form of a domain event. Sequence 0 means
// unassigned; the current host assigns sequences exclusively.
type LobbyEvent struct {
	Sequence uint64        `json:"sequence"`
	LobbyID  types.LobbyID `json:"lobby_id"`
	Event    EventBody     `json:"event"`
}

// LobbySnapshot is a point-in-time checkpoint for late-joiner catchup.
// Applying the snapshot and then every event with sequence greater than
// AsOfSequence yields the same state as replaying the full history.
type LobbySnapshot struct {
	LobbyID      types.LobbyID            `json:"lobby_id"`
	Name         string                   `json:"name"`
	HostID       types.ParticipantID      `json:"host_id"`
	Participants []lobby.Participant      `json:"participants"`
	Activities   []lobby.ActivityMetadata `json:"activities,omitempty"`
	Results      []lobby.ActivityResult   `json:"results,omitempty"`
	AsOfSequence uint64                   `json:"as_of_sequence"`
}

// Message types on the P2P wire.
const (
	TypeEventBroadcast        = "event_broadcast"
	TypeRequestMissingEvents  = "request_missing_events"
	TypeMissingEventsResponse = "missing_events_response"
	TypeRequestFullSync       = "request_full_sync"
	TypeFullSyncResponse      = "full_sync_response"
	TypeCommandRequest        = "command_request"
)

// Message is the JSON envelope exchanged between peers. Type selects which
// fields are populated.
type Message struct {
	Type string `json:"type"`

	Event             *LobbyEvent     `json:"event,omitempty"`
	LobbyID           *types.LobbyID  `json:"lobby_id,omitempty"`
	MissingSequences  []uint64        `json:"missing_sequences,omitempty"`
	Events            []LobbyEvent    `json:"events,omitempty"`
	LastKnownSequence *uint64         `json:"last_known_sequence,omitempty"`
	Snapshot          *LobbySnapshot  `json:"snapshot,omitempty"`
	Command           json.RawMessage `json:"command,omitempty"` // guest -> host only
}
