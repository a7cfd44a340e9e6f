package session

import (
	"fmt"

	"github.com/konnektoren/konnekt-session-go/internal/v1/domain"
	"github.com/konnektoren/konnekt-session-go/internal/v1/lobby"
	"github.com/konnektoren/konnekt-session-go/internal/v1/sync"
)

// buildSnapshot captures the lobby for late-joiner catchup. The contract:
// applying the snapshot and then every event with sequence > AsOfSequence
// equals replaying the full history.
func buildSnapshot(l *lobby.Lobby, asOfSequence uint64) sync.LobbySnapshot {
	snap := sync.LobbySnapshot{
		LobbyID:      l.ID(),
		Name:         l.Name(),
		HostID:       l.HostID(),
		AsOfSequence: asOfSequence,
	}
	for _, p := range l.Participants() {
		snap.Participants = append(snap.Participants, p)
	}
	for _, a := range l.Activities() {
		snap.Activities = append(snap.Activities, a)
		snap.Results = append(snap.Results, l.Results(a.ID)...)
	}
	return snap
}

// applySnapshot reconstructs the lobby from a snapshot and installs it in
// the domain, replacing whatever was there.
func applySnapshot(el *domain.EventLoop, snap sync.LobbySnapshot) error {
	var host *lobby.Participant
	for i := range snap.Participants {
		if snap.Participants[i].ID == snap.HostID {
			host = &snap.Participants[i]
			break
		}
	}
	if host == nil || !host.IsHost() {
		return fmt.Errorf("snapshot for lobby %s has no host participant", snap.LobbyID)
	}

	l, err := lobby.WithID(snap.LobbyID, snap.Name, *host)
	if err != nil {
		return fmt.Errorf("rebuilding lobby from snapshot: %w", err)
	}
	for _, p := range snap.Participants {
		if p.ID != snap.HostID {
			l.Restore(p)
		}
	}
	for _, a := range snap.Activities {
		l.RestoreActivity(a)
	}
	for _, r := range snap.Results {
		l.RestoreResult(r)
	}

	el.AddLobby(l)
	return nil
}
