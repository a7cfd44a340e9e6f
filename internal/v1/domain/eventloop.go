// Package domain implements the command/event state machine over the lobby
// aggregate. The EventLoop is a pure reducer: one command in, one event
// out, no I/O.
package domain

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/konnektoren/konnekt-session-go/internal/v1/lobby"
	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// DefaultQueueCapacity bounds the pending command queue. Overflow drops the
// oldest pending command with a CommandFailed receipt.
const DefaultQueueCapacity = 256

// EventLoop owns the lobby map and reduces commands into events.
type EventLoop struct {
	lobbies  map[types.LobbyID]*lobby.Lobby
	queue    []Command
	queueCap int
	events   []Event
}

// NewEventLoop creates an empty event loop.
func NewEventLoop() *EventLoop {
	return &EventLoop{
		lobbies:  make(map[types.LobbyID]*lobby.Lobby),
		queueCap: DefaultQueueCapacity,
	}
}

// Submit enqueues a command for the next Poll. If the queue is full the
// oldest pending command is dropped and a CommandFailed receipt is emitted
// in its place.
func (el *EventLoop) Submit(cmd Command) {
	if len(el.queue) >= el.queueCap {
		dropped := el.queue[0]
		el.queue = el.queue[1:]
		el.events = append(el.events, CommandFailed{
			Command: dropped.Label(),
			Reason:  "command queue overflow",
		})
		slog.Warn("Command queue overflow, dropped oldest", "command", dropped.Label())
	}
	el.queue = append(el.queue, cmd)
}

// Poll reduces queued commands one at a time until the queue is drained.
// Returns the number of commands processed.
func (el *EventLoop) Poll() int {
	processed := 0
	for len(el.queue) > 0 {
		cmd := el.queue[0]
		el.queue = el.queue[1:]
		el.events = append(el.events, el.HandleCommand(cmd))
		processed++
	}
	return processed
}

// DrainEvents returns and clears the emitted events.
func (el *EventLoop) DrainEvents() []Event {
	out := el.events
	el.events = nil
	return out
}

// Lobby returns the lobby with the given id.
func (el *EventLoop) Lobby(id types.LobbyID) (*lobby.Lobby, bool) {
	l, ok := el.lobbies[id]
	return l, ok
}

// AddLobby installs a lobby directly. Used by the snapshot path.
func (el *EventLoop) AddLobby(l *lobby.Lobby) {
	el.lobbies[l.ID()] = l
}

// LobbyCount returns the number of known lobbies.
func (el *EventLoop) LobbyCount() int { return len(el.lobbies) }

// HandleCommand reduces a single command and returns the resulting event.
// Every reject path yields CommandFailed; it never panics on user input.
func (el *EventLoop) HandleCommand(cmd Command) Event {
	switch c := cmd.(type) {
	case CreateLobby:
		return el.handleCreateLobby(c)
	case JoinLobby:
		return el.handleJoinLobby(c)
	case LeaveLobby:
		return el.handleLeaveLobby(c)
	case KickGuest:
		return el.handleKickGuest(c)
	case DelegateHost:
		return el.handleDelegateHost(c)
	case ToggleParticipationMode:
		return el.handleToggleParticipationMode(c)
	case PlanActivity:
		return el.handlePlanActivity(c)
	case StartActivity:
		return el.handleStartActivity(c)
	case SubmitResult:
		return el.handleSubmitResult(c)
	case CancelActivity:
		return el.handleCancelActivity(c)
	default:
		return CommandFailed{Command: cmd.Label(), Reason: "unsupported command"}
	}
}

func failed(cmd Command, err error) Event {
	return CommandFailed{Command: cmd.Label(), Reason: err.Error()}
}

func (el *EventLoop) handleCreateLobby(c CreateLobby) Event {
	host, err := lobby.NewHost(c.HostName)
	if err != nil {
		return failed(c, err)
	}

	var l *lobby.Lobby
	if c.LobbyID != uuid.Nil {
		l, err = lobby.WithID(c.LobbyID, c.LobbyName, host)
	} else {
		l, err = lobby.New(c.LobbyName, host)
	}
	if err != nil {
		return failed(c, err)
	}

	el.lobbies[l.ID()] = l
	return LobbyCreated{LobbyID: l.ID(), Name: l.Name(), Host: host}
}

func (el *EventLoop) handleJoinLobby(c JoinLobby) Event {
	l, ok := el.lobbies[c.LobbyID]
	if !ok {
		return failed(c, types.ErrUnknownLobby)
	}

	var guest lobby.Participant
	if c.Participant != nil {
		guest = *c.Participant
		if err := types.ValidateName(guest.Name); err != nil {
			return failed(c, err)
		}
	} else {
		var err error
		guest, err = lobby.NewGuest(c.GuestName)
		if err != nil {
			return failed(c, err)
		}
	}
	if err := l.AddGuest(guest); err != nil {
		return failed(c, err)
	}
	return GuestJoined{LobbyID: c.LobbyID, Participant: guest}
}

func (el *EventLoop) handleLeaveLobby(c LeaveLobby) Event {
	l, ok := el.lobbies[c.LobbyID]
	if !ok {
		return failed(c, types.ErrUnknownLobby)
	}
	if err := l.RemoveParticipant(c.ParticipantID); err != nil {
		return failed(c, err)
	}
	return GuestLeft{LobbyID: c.LobbyID, ParticipantID: c.ParticipantID}
}

func (el *EventLoop) handleKickGuest(c KickGuest) Event {
	l, ok := el.lobbies[c.LobbyID]
	if !ok {
		return failed(c, types.ErrUnknownLobby)
	}
	if err := l.KickGuest(c.GuestID, c.HostID); err != nil {
		return failed(c, err)
	}
	return GuestKicked{LobbyID: c.LobbyID, ParticipantID: c.GuestID, KickedBy: c.HostID}
}

func (el *EventLoop) handleDelegateHost(c DelegateHost) Event {
	l, ok := el.lobbies[c.LobbyID]
	if !ok {
		return failed(c, types.ErrUnknownLobby)
	}
	from := l.HostID()
	if err := l.DelegateHost(c.NewHostID); err != nil {
		return failed(c, err)
	}
	return HostDelegated{LobbyID: c.LobbyID, From: from, To: c.NewHostID, Reason: DelegationManual}
}

func (el *EventLoop) handleToggleParticipationMode(c ToggleParticipationMode) Event {
	l, ok := el.lobbies[c.LobbyID]
	if !ok {
		return failed(c, types.ErrUnknownLobby)
	}
	mode, err := l.ToggleParticipationMode(c.ParticipantID, c.RequesterID, c.ActivityInProgress)
	if err != nil {
		return failed(c, err)
	}
	return ParticipationModeChanged{LobbyID: c.LobbyID, ParticipantID: c.ParticipantID, NewMode: mode}
}

func (el *EventLoop) handlePlanActivity(c PlanActivity) Event {
	l, ok := el.lobbies[c.LobbyID]
	if !ok {
		return failed(c, types.ErrUnknownLobby)
	}
	meta := c.Metadata
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	if err := l.PlanActivity(meta); err != nil {
		return failed(c, err)
	}
	planned, _ := l.Activity(meta.ID)
	return ActivityPlanned{LobbyID: c.LobbyID, Metadata: planned}
}

func (el *EventLoop) handleStartActivity(c StartActivity) Event {
	l, ok := el.lobbies[c.LobbyID]
	if !ok {
		return failed(c, types.ErrUnknownLobby)
	}
	if err := l.StartActivity(c.ActivityID); err != nil {
		return failed(c, err)
	}
	return ActivityStarted{LobbyID: c.LobbyID, ActivityID: c.ActivityID}
}

func (el *EventLoop) handleSubmitResult(c SubmitResult) Event {
	l, ok := el.lobbies[c.LobbyID]
	if !ok {
		return failed(c, types.ErrUnknownLobby)
	}
	completed, err := l.SubmitResult(c.Result)
	if err != nil {
		return failed(c, err)
	}
	if completed {
		return ActivityCompleted{
			LobbyID:    c.LobbyID,
			ActivityID: c.Result.ActivityID,
			Results:    l.Results(c.Result.ActivityID),
		}
	}
	return ResultSubmitted{LobbyID: c.LobbyID, Result: c.Result}
}

func (el *EventLoop) handleCancelActivity(c CancelActivity) Event {
	l, ok := el.lobbies[c.LobbyID]
	if !ok {
		return failed(c, types.ErrUnknownLobby)
	}
	if err := l.CancelActivity(c.ActivityID); err != nil {
		return failed(c, err)
	}
	return ActivityCancelled{LobbyID: c.LobbyID, ActivityID: c.ActivityID}
}

// HandleHostDeparture is the auto-delegation primitive. It removes the
// departed host after electing the oldest guest (ties broken by smallest
// participant id) and emits HostDelegated{auto} followed by GuestLeft for
// the departed peer. With no guests left the lobby is dropped entirely.
func (el *EventLoop) HandleHostDeparture(lobbyID types.LobbyID, departedHostID types.ParticipantID) {
	l, ok := el.lobbies[lobbyID]
	if !ok {
		return
	}
	if l.HostID() != departedHostID {
		// Host changed since the timeout was observed; treat as a plain leave.
		el.Submit(LeaveLobby{LobbyID: lobbyID, ParticipantID: departedHostID})
		return
	}

	if !l.HasGuests() {
		slog.Info("Host departed with no guests, dropping lobby", "lobby", lobbyID)
		delete(el.lobbies, lobbyID)
		return
	}

	elected, err := l.AutoDelegateHost()
	if err != nil {
		el.events = append(el.events, CommandFailed{Command: "AutoDelegate", Reason: err.Error()})
		return
	}
	el.events = append(el.events, HostDelegated{
		LobbyID: lobbyID,
		From:    departedHostID,
		To:      elected,
		Reason:  DelegationAuto,
	})

	if err := l.RemoveParticipant(departedHostID); err == nil {
		el.events = append(el.events, GuestLeft{LobbyID: lobbyID, ParticipantID: departedHostID})
	}
}
