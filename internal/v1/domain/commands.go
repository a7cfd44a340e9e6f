package domain

import (
	"github.com/konnektoren/konnekt-session-go/internal/v1/lobby"
	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// Command is a request to mutate lobby state. Commands are reduced one at a
// time by the EventLoop; every command yields exactly one Event.
type Command interface {
	// Label names the command in CommandFailed events and logs.
	Label() string
}

// CreateLobby creates a lobby with the requester as host. LobbyID may be
// uuid.Nil to generate one; an explicit id is used when the lobby identity
// was agreed out-of-band.
type CreateLobby struct {
	LobbyID   types.LobbyID `json:"lobbyId"`
	LobbyName string        `json:"lobbyName"`
	HostName  string        `json:"hostName"`
}

// JoinLobby adds a new guest by name. Participant, when set, is installed
// verbatim instead of minting a new one: peers applying the host's
// GuestJoined echo must reproduce the exact participant record (id and
// JoinedAt included) or their lobbies diverge.
type JoinLobby struct {
	LobbyID     types.LobbyID      `json:"lobbyId"`
	GuestName   string             `json:"guestName"`
	Participant *lobby.Participant `json:"participant,omitempty"`
}

// LeaveLobby removes a participant. The host cannot leave this way.
type LeaveLobby struct {
	LobbyID       types.LobbyID       `json:"lobbyId"`
	ParticipantID types.ParticipantID `json:"participantId"`
}

// KickGuest removes a guest on the host's authority.
type KickGuest struct {
	LobbyID types.LobbyID       `json:"lobbyId"`
	HostID  types.ParticipantID `json:"hostId"`
	GuestID types.ParticipantID `json:"guestId"`
}

// DelegateHost hands the host role to a guest.
type DelegateHost struct {
	LobbyID       types.LobbyID       `json:"lobbyId"`
	CurrentHostID types.ParticipantID `json:"currentHostId"`
	NewHostID     types.ParticipantID `json:"newHostId"`
}

// ToggleParticipationMode flips a participant between Active and
// Spectating. ActivityInProgress is the caller's belief; the domain
// re-checks it against actual lobby state.
type ToggleParticipationMode struct {
	LobbyID            types.LobbyID       `json:"lobbyId"`
	ParticipantID      types.ParticipantID `json:"participantId"`
	RequesterID        types.ParticipantID `json:"requesterId"`
	ActivityInProgress bool                `json:"activityInProgress"`
}

// PlanActivity appends an activity in Planned state.
type PlanActivity struct {
	LobbyID  types.LobbyID          `json:"lobbyId"`
	Metadata lobby.ActivityMetadata `json:"metadata"`
}

// StartActivity moves a planned activity to InProgress.
type StartActivity struct {
	LobbyID    types.LobbyID    `json:"lobbyId"`
	ActivityID types.ActivityID `json:"activityId"`
}

// SubmitResult records one participant's result for a running activity.
type SubmitResult struct {
	LobbyID types.LobbyID        `json:"lobbyId"`
	Result  lobby.ActivityResult `json:"result"`
}

// CancelActivity aborts a running activity.
type CancelActivity struct {
	LobbyID    types.LobbyID    `json:"lobbyId"`
	ActivityID types.ActivityID `json:"activityId"`
}

func (CreateLobby) Label() string             { return "CreateLobby" }
func (JoinLobby) Label() string               { return "JoinLobby" }
func (LeaveLobby) Label() string              { return "LeaveLobby" }
func (KickGuest) Label() string               { return "KickGuest" }
func (DelegateHost) Label() string            { return "DelegateHost" }
func (ToggleParticipationMode) Label() string { return "ToggleParticipationMode" }
func (PlanActivity) Label() string            { return "PlanActivity" }
func (StartActivity) Label() string           { return "StartActivity" }
func (SubmitResult) Label() string            { return "SubmitResult" }
func (CancelActivity) Label() string          { return "CancelActivity" }
