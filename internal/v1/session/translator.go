package session

import (
	"github.com/konnektoren/konnekt-session-go/internal/v1/domain"
	"github.com/konnektoren/konnekt-session-go/internal/v1/lobby"
	"github.com/konnektoren/konnekt-session-go/internal/v1/sync"
	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// The translator is the pure mapping between domain events and their wire
// form, and between inbound wire events and the commands a peer applies
// locally. The lobby id lives on the envelope, never in the body.

// eventToWire maps a domain event to its wire body. CommandFailed is
// local-only and yields false.
func eventToWire(ev domain.Event) (sync.EventBody, bool) {
	switch e := ev.(type) {
	case domain.LobbyCreated:
		host := e.Host
		return sync.EventBody{Kind: sync.KindLobbyCreated, Name: e.Name, Host: &host}, true

	case domain.GuestJoined:
		p := e.Participant
		return sync.EventBody{Kind: sync.KindGuestJoined, Participant: &p}, true

	case domain.GuestLeft:
		id := e.ParticipantID
		return sync.EventBody{Kind: sync.KindGuestLeft, ParticipantID: &id}, true

	case domain.GuestKicked:
		id, by := e.ParticipantID, e.KickedBy
		return sync.EventBody{Kind: sync.KindGuestKicked, ParticipantID: &id, KickedBy: &by}, true

	case domain.HostDelegated:
		from, to := e.From, e.To
		return sync.EventBody{Kind: sync.KindHostDelegated, From: &from, To: &to, Reason: string(e.Reason)}, true

	case domain.ParticipationModeChanged:
		id := e.ParticipantID
		return sync.EventBody{Kind: sync.KindParticipationModeChanged, ParticipantID: &id, NewMode: e.NewMode}, true

	case domain.ActivityPlanned:
		meta := e.Metadata
		return sync.EventBody{Kind: sync.KindActivityPlanned, Metadata: &meta}, true

	case domain.ActivityStarted:
		id := e.ActivityID
		return sync.EventBody{Kind: sync.KindActivityStarted, ActivityID: &id}, true

	case domain.ActivityCancelled:
		id := e.ActivityID
		return sync.EventBody{Kind: sync.KindActivityCancelled, ActivityID: &id}, true

	case domain.ResultSubmitted:
		r := e.Result
		return sync.EventBody{Kind: sync.KindResultSubmitted, Result: &r}, true

	case domain.ActivityCompleted:
		id := e.ActivityID
		return sync.EventBody{Kind: sync.KindActivityCompleted, ActivityID: &id, Results: e.Results}, true

	default: // domain.CommandFailed and anything unknown stays local
		return sync.EventBody{}, false
	}
}

// wireToCommands maps an authoritative wire event to the commands that
// reproduce it on the local domain. The current lobby state guards the
// mapping so re-applying an event a peer already reproduced locally (the
// auto-delegation race, repair overlaps) is a no-op rather than a spurious
// CommandFailed.
func wireToCommands(lobbyID types.LobbyID, body sync.EventBody, l *lobby.Lobby) []domain.Command {
	has := func(id types.ParticipantID) bool {
		if l == nil {
			return false
		}
		_, ok := l.Participant(id)
		return ok
	}

	switch body.Kind {
	case sync.KindLobbyCreated:
		// Lobby state arrives through the snapshot path.
		return nil

	case sync.KindGuestJoined:
		if body.Participant == nil || has(body.Participant.ID) {
			return nil
		}
		return []domain.Command{domain.JoinLobby{
			LobbyID:     lobbyID,
			GuestName:   body.Participant.Name,
			Participant: body.Participant,
		}}

	case sync.KindGuestLeft:
		if body.ParticipantID == nil || !has(*body.ParticipantID) {
			return nil
		}
		return []domain.Command{domain.LeaveLobby{LobbyID: lobbyID, ParticipantID: *body.ParticipantID}}

	case sync.KindGuestKicked:
		if body.ParticipantID == nil || body.KickedBy == nil || !has(*body.ParticipantID) {
			return nil
		}
		return []domain.Command{domain.KickGuest{
			LobbyID: lobbyID,
			HostID:  *body.KickedBy,
			GuestID: *body.ParticipantID,
		}}

	case sync.KindHostDelegated:
		if body.From == nil || body.To == nil {
			return nil
		}
		if l != nil && l.HostID() == *body.To {
			return nil // Already delegated locally (deterministic election)
		}
		return []domain.Command{domain.DelegateHost{
			LobbyID:       lobbyID,
			CurrentHostID: *body.From,
			NewHostID:     *body.To,
		}}

	case sync.KindParticipationModeChanged:
		if body.ParticipantID == nil || l == nil {
			return nil
		}
		p, ok := l.Participant(*body.ParticipantID)
		if !ok || p.Mode == body.NewMode {
			return nil
		}
		// The host already validated this change; apply it with host
		// authority and the actual local activity state so the forced
		// mid-activity override converges too.
		return []domain.Command{domain.ToggleParticipationMode{
			LobbyID:            lobbyID,
			ParticipantID:      *body.ParticipantID,
			RequesterID:        l.HostID(),
			ActivityInProgress: l.ActivityInProgress(),
		}}

	case sync.KindActivityPlanned:
		if body.Metadata == nil {
			return nil
		}
		if l != nil {
			if _, ok := l.Activity(body.Metadata.ID); ok {
				return nil
			}
		}
		return []domain.Command{domain.PlanActivity{LobbyID: lobbyID, Metadata: *body.Metadata}}

	case sync.KindActivityStarted:
		if body.ActivityID == nil {
			return nil
		}
		if l != nil {
			if a, ok := l.Activity(*body.ActivityID); ok && a.Status != types.ActivityStatusPlanned {
				return nil
			}
		}
		return []domain.Command{domain.StartActivity{LobbyID: lobbyID, ActivityID: *body.ActivityID}}

	case sync.KindActivityCancelled:
		if body.ActivityID == nil {
			return nil
		}
		if l != nil {
			if a, ok := l.Activity(*body.ActivityID); ok && a.Status != types.ActivityStatusInProgress {
				return nil
			}
		}
		return []domain.Command{domain.CancelActivity{LobbyID: lobbyID, ActivityID: *body.ActivityID}}

	case sync.KindResultSubmitted:
		if body.Result == nil || hasResult(l, *body.Result) {
			return nil
		}
		return []domain.Command{domain.SubmitResult{LobbyID: lobbyID, Result: *body.Result}}

	case sync.KindActivityCompleted:
		// Replay the carried results this peer has not seen; the final one
		// completes the activity locally.
		if body.ActivityID == nil {
			return nil
		}
		if l != nil {
			if a, ok := l.Activity(*body.ActivityID); ok && a.Status == types.ActivityStatusCompleted {
				return nil
			}
		}
		var cmds []domain.Command
		for _, r := range body.Results {
			if hasResult(l, r) {
				continue
			}
			cmds = append(cmds, domain.SubmitResult{LobbyID: lobbyID, Result: r})
		}
		return cmds

	default:
		return nil
	}
}

func hasResult(l *lobby.Lobby, r lobby.ActivityResult) bool {
	if l == nil {
		return false
	}
	for _, existing := range l.Results(r.ActivityID) {
		if existing.ParticipantID == r.ParticipantID {
			return true
		}
	}
	return false
}
