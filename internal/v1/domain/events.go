package domain

import (
	"github.com/konnektoren/konnekt-session-go/internal/v1/lobby"
	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// DelegationReason records why the host role moved.
type DelegationReason string

const (
	DelegationManual DelegationReason = "manual" // Explicit DelegateHost command
	DelegationAuto   DelegationReason = "auto"   // Deterministic election after host timeout
)

// Event is the outcome of reducing one command (or of the auto-delegation
// primitive). Events other than CommandFailed are broadcast by the host.
type Event interface {
	EventLobbyID() types.LobbyID
}

// LobbyCreated announces a new lobby with its founding host.
type LobbyCreated struct {
	LobbyID types.LobbyID     `json:"lobbyId"`
	Name    string            `json:"name"`
	Host    lobby.Participant `json:"host"`
}

// GuestJoined announces a new guest, carrying the full participant record
// so peers can reproduce it (including JoinedAt, which drives elections).
type GuestJoined struct {
	LobbyID     types.LobbyID     `json:"lobbyId"`
	Participant lobby.Participant `json:"participant"`
}

// GuestLeft announces a voluntary or timeout-driven departure.
type GuestLeft struct {
	LobbyID       types.LobbyID       `json:"lobbyId"`
	ParticipantID types.ParticipantID `json:"participantId"`
}

// GuestKicked announces a host-initiated removal.
type GuestKicked struct {
	LobbyID       types.LobbyID       `json:"lobbyId"`
	ParticipantID types.ParticipantID `json:"participantId"`
	KickedBy      types.ParticipantID `json:"kickedBy"`
}

// HostDelegated announces a host handoff.
type HostDelegated struct {
	LobbyID types.LobbyID       `json:"lobbyId"`
	From    types.ParticipantID `json:"from"`
	To      types.ParticipantID `json:"to"`
	Reason  DelegationReason    `json:"reason"`
}

// ParticipationModeChanged announces a mode flip.
type ParticipationModeChanged struct {
	LobbyID       types.LobbyID       `json:"lobbyId"`
	ParticipantID types.ParticipantID `json:"participantId"`
	NewMode       types.ModeType      `json:"newMode"`
}

// ActivityPlanned announces a new planned activity.
type ActivityPlanned struct {
	LobbyID  types.LobbyID          `json:"lobbyId"`
	Metadata lobby.ActivityMetadata `json:"metadata"`
}

// ActivityStarted announces an activity moving to InProgress.
type ActivityStarted struct {
	LobbyID    types.LobbyID    `json:"lobbyId"`
	ActivityID types.ActivityID `json:"activityId"`
}

// ActivityCancelled announces an aborted activity.
type ActivityCancelled struct {
	LobbyID    types.LobbyID    `json:"lobbyId"`
	ActivityID types.ActivityID `json:"activityId"`
}

// ResultSubmitted announces one accepted result.
type ResultSubmitted struct {
	LobbyID types.LobbyID        `json:"lobbyId"`
	Result  lobby.ActivityResult `json:"result"`
}

// ActivityCompleted is emitted in place of ResultSubmitted when the
// accepted result covers the last Active participant. It carries all
// results for the activity.
type ActivityCompleted struct {
	LobbyID    types.LobbyID          `json:"lobbyId"`
	ActivityID types.ActivityID       `json:"activityId"`
	Results    []lobby.ActivityResult `json:"results"`
}

// CommandFailed reports a rejected command. Local-only: never broadcast,
// surfaced to the UI.
type CommandFailed struct {
	Command string `json:"command"`
	Reason  string `json:"reason"`
}

func (e LobbyCreated) EventLobbyID() types.LobbyID             { return e.LobbyID }
func (e GuestJoined) EventLobbyID() types.LobbyID              { return e.LobbyID }
func (e GuestLeft) EventLobbyID() types.LobbyID                { return e.LobbyID }
func (e GuestKicked) EventLobbyID() types.LobbyID              { return e.LobbyID }
func (e HostDelegated) EventLobbyID() types.LobbyID            { return e.LobbyID }
func (e ParticipationModeChanged) EventLobbyID() types.LobbyID { return e.LobbyID }
func (e ActivityPlanned) EventLobbyID() types.LobbyID          { return e.LobbyID }
func (e ActivityStarted) EventLobbyID() types.LobbyID          { return e.LobbyID }
func (e ActivityCancelled) EventLobbyID() types.LobbyID        { return e.LobbyID }
func (e ResultSubmitted) EventLobbyID() types.LobbyID          { return e.LobbyID }
func (e ActivityCompleted) EventLobbyID() types.LobbyID        { return e.LobbyID }
func (e CommandFailed) EventLobbyID() types.LobbyID            { return types.LobbyID{} }
