// Package session implements the integration loop that routes commands
// from guests to the host, fans authoritative events back out, and maps
// transport peers to domain participants.
//
// The loop is host-authoritative with echo: a guest never mutates local
// state on a local command; it forwards the command and waits for the
// host's broadcast. That removes rollback logic entirely.
package session

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/konnektoren/konnekt-session-go/internal/v1/domain"
	"github.com/konnektoren/konnekt-session-go/internal/v1/lobby"
	"github.com/konnektoren/konnekt-session-go/internal/v1/metrics"
	"github.com/konnektoren/konnekt-session-go/internal/v1/peers"
	"github.com/konnektoren/konnekt-session-go/internal/v1/sync"
	"github.com/konnektoren/konnekt-session-go/internal/v1/transport"
	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// DefaultTickInterval paces the cooperative scheduler.
const DefaultTickInterval = 50 * time.Millisecond

// localCommandCapacity bounds UI-submitted commands per spec exhaustion
// policy: overflow drops the oldest pending command with a receipt.
const localCommandCapacity = 64

// Config carries the session loop's collaborators and tunables.
type Config struct {
	Conn         types.NetworkConnection
	GracePeriod  time.Duration // 0 means peers.DefaultGracePeriod
	LogCapacity  int           // 0 means sync.DefaultLogCapacity
	TickInterval time.Duration // 0 means DefaultTickInterval
}

// Loop owns the domain, the sync manager and the peer registry. All state
// is mutated on the tick goroutine only; SubmitCommand is the one
// cross-thread entry point.
type Loop struct {
	lobbyID  types.LobbyID
	isHost   bool
	domain   *domain.EventLoop
	syncMgr  *sync.Manager
	registry *peers.Registry
	pmap     *peers.ParticipantMap
	adapter  *transport.Adapter
	tick     time.Duration

	localID types.ParticipantID // Zero until identity is established

	// Guest bootstrap: join is submitted once the snapshot lands, and the
	// GuestJoined echo carrying this name establishes our identity.
	// bootstrapped is atomic so the CLI can poll it for its sync timeout.
	pendingJoinName string
	bootstrapped    atomic.Bool

	// Host side: peers whose JoinLobby commands are in flight, FIFO, so
	// GuestJoined events bind to the peer that asked.
	joinOrigins []types.PeerID

	cmdMu    gosync.Mutex
	localCmd []domain.Command

	uiEvents []domain.Event
}

// NewHost creates the authoritative session loop, creating the lobby with
// the given id (the session id shared out-of-band) and broadcasting its
// first event.
func NewHost(lobbyID types.LobbyID, lobbyName, hostName string, cfg Config) (*Loop, error) {
	l := newLoop(lobbyID, true, cfg)

	ev := l.domain.HandleCommand(domain.CreateLobby{
		LobbyID:   lobbyID,
		LobbyName: lobbyName,
		HostName:  hostName,
	})
	created, ok := ev.(domain.LobbyCreated)
	if !ok {
		fail := ev.(domain.CommandFailed)
		return nil, errors.New(fail.Reason)
	}

	l.localID = created.Host.ID
	l.bootstrapped.Store(true)
	l.pmap.Register(l.adapter.LocalPeerID(), l.localID)
	l.broadcastAsHost(created)

	slog.Info("Hosting lobby", "lobby", lobbyID, "name", lobbyName, "host", hostName)
	return l, nil
}

// NewGuest creates a guest session loop. The lobby id doubles as the
// session id; state arrives via full sync and the join is submitted once
// the snapshot is applied.
func NewGuest(lobbyID types.LobbyID, guestName string, cfg Config) (*Loop, error) {
	if err := types.ValidateName(guestName); err != nil {
		return nil, err
	}
	l := newLoop(lobbyID, false, cfg)
	l.pendingJoinName = guestName

	l.requestFullSync(types.NilPeer)
	slog.Info("Joining lobby", "lobby", lobbyID, "guest", guestName)
	return l, nil
}

func newLoop(lobbyID types.LobbyID, isHost bool, cfg Config) *Loop {
	grace := cfg.GracePeriod
	if grace == 0 {
		grace = peers.DefaultGracePeriod
	}
	tick := cfg.TickInterval
	if tick == 0 {
		tick = DefaultTickInterval
	}

	var mgr *sync.Manager
	if isHost {
		mgr = sync.NewHostManager(lobbyID)
	} else {
		mgr = sync.NewGuestManager(lobbyID)
	}
	if cfg.LogCapacity > 0 {
		mgr.SetLogCapacity(cfg.LogCapacity)
	}

	return &Loop{
		lobbyID:  lobbyID,
		isHost:   isHost,
		domain:   domain.NewEventLoop(),
		syncMgr:  mgr,
		registry: peers.NewRegistryWithGracePeriod(grace),
		pmap:     peers.NewParticipantMap(),
		adapter:  transport.NewAdapter(cfg.Conn),
		tick:     tick,
	}
}

// IsHost reports whether this peer currently holds host authority.
func (l *Loop) IsHost() bool { return l.isHost }

// LobbyID returns the bound lobby id.
func (l *Loop) LobbyID() types.LobbyID { return l.lobbyID }

// LocalParticipantID returns this peer's participant id, zero until the
// identity is established (guests: after the join echo).
func (l *Loop) LocalParticipantID() types.ParticipantID { return l.localID }

// Bootstrapped reports whether a guest has applied its initial snapshot.
// Hosts are born bootstrapped.
func (l *Loop) Bootstrapped() bool { return l.bootstrapped.Load() }

// Lobby returns a read-only deep copy of the lobby taken at a tick
// boundary, or nil before state exists.
func (l *Loop) Lobby() *lobby.Lobby {
	current, ok := l.domain.Lobby(l.lobbyID)
	if !ok {
		return nil
	}
	return current.Clone()
}

// SubmitCommand posts a command from the UI layer. Host commands apply on
// the next tick; guest commands are forwarded to the host unmodified.
func (l *Loop) SubmitCommand(cmd domain.Command) {
	l.cmdMu.Lock()
	defer l.cmdMu.Unlock()
	if len(l.localCmd) >= localCommandCapacity {
		dropped := l.localCmd[0]
		l.localCmd = l.localCmd[1:]
		l.uiEvents = append(l.uiEvents, domain.CommandFailed{
			Command: dropped.Label(),
			Reason:  "local command queue overflow",
		})
	}
	l.localCmd = append(l.localCmd, cmd)
}

// DrainUIEvents returns events for the UI layer: everything applied this
// tick plus CommandFailed receipts.
func (l *Loop) DrainUIEvents() []domain.Event {
	out := l.uiEvents
	l.uiEvents = nil
	return out
}

// Run ticks the loop until the context is cancelled, then closes the
// transport.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return l.adapter.Conn().Close(closeCtx)
		case <-ticker.C:
			l.Tick()
		}
	}
}

// Tick runs one pass of the session loop. No operation spans ticks.
func (l *Loop) Tick() {
	start := time.Now()
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	// 1. Drain transport: presence into the registry, payloads into the
	// sync manager (or the domain, for guest command requests).
	in := l.adapter.Poll()
	for _, p := range in.Connected {
		l.handlePeerConnected(p)
	}
	for _, p := range in.Disconnected {
		l.registry.MarkDisconnected(p)
	}
	for _, msg := range in.Messages {
		l.handleMessage(msg.From, msg.Message)
	}

	// 2. Age out disconnected peers.
	for _, p := range l.registry.CheckGracePeriods() {
		l.handlePeerTimedOut(p)
	}

	// 3-4. Local commands: host applies, guest forwards.
	l.drainLocalCommands()

	// 5. Reduce queued commands.
	l.domain.Poll()

	// 6-7. Fan out emitted events (host) / finish identity bookkeeping.
	l.collectDomainEvents()

	l.updateParticipantsGauge()
}

func (l *Loop) handlePeerConnected(p types.PeerID) {
	l.registry.AddPeer(p)
	slog.Info("Peer connected", "peer", p, "isHost", l.isHost)

	if l.isHost {
		// Late joiners get a snapshot immediately.
		l.sendSnapshot(p, 0)
	} else if !l.bootstrapped.Load() {
		l.requestFullSync(p)
	}
}

func (l *Loop) requestFullSync(to types.PeerID) {
	msg, err := l.syncMgr.RequestFullSync()
	if err != nil {
		return
	}
	if to == types.NilPeer {
		_ = l.adapter.Broadcast(msg)
	} else {
		_ = l.adapter.Send(to, msg)
	}
}

func (l *Loop) sendSnapshot(to types.PeerID, sinceSequence uint64) {
	current, ok := l.domain.Lobby(l.lobbyID)
	if !ok {
		slog.Warn("No lobby state to snapshot", "lobby", l.lobbyID)
		return
	}
	snap := buildSnapshot(current, l.syncMgr.HighestObserved())
	msg, err := l.syncMgr.BuildFullSyncResponse(sinceSequence, snap)
	if err != nil {
		slog.Warn("Building full sync response failed", "error", err)
		return
	}
	_ = l.adapter.Send(to, msg)
}

func (l *Loop) handleMessage(from types.PeerID, msg sync.Message) {
	l.registry.UpdateLastSeen(from)

	if msg.Type == sync.TypeCommandRequest {
		l.handleCommandRequest(from, msg)
		return
	}

	resp, err := l.syncMgr.HandleMessage(from, msg)
	if err != nil {
		// Wrong-lobby events and malformed messages are protocol errors:
		// logged and discarded.
		slog.Warn("Discarding sync message", "peer", from, "type", msg.Type, "error", err)
		return
	}

	if resp.NeedSnapshot != nil && l.isHost {
		l.sendSnapshot(resp.NeedSnapshot.ForPeer, resp.NeedSnapshot.SinceSequence)
	}
	for _, out := range resp.Send {
		// Repair responses go back to the requester; repair requests are
		// broadcast (only the host answers usefully).
		if out.Type == sync.TypeMissingEventsResponse {
			_ = l.adapter.Send(from, out)
		} else {
			_ = l.adapter.Broadcast(out)
		}
	}

	if resp.Snapshot != nil {
		l.applyFullSync(from, *resp.Snapshot)
	}
	if len(resp.Apply) > 0 {
		// A peer broadcasting sequenced events for our lobby is the host.
		l.bindHostPeer(from)
		for _, ev := range resp.Apply {
			l.applyWireEvent(ev)
		}
	}
}

func (l *Loop) handleCommandRequest(from types.PeerID, msg sync.Message) {
	if !l.isHost {
		return // Guests hear broadcast command requests; only the host acts.
	}
	cmd, err := domain.DecodeCommand(msg.Command)
	if err != nil {
		slog.Warn("Discarding malformed command request", "peer", from, "error", err)
		return
	}
	if join, ok := cmd.(domain.JoinLobby); ok && join.Participant == nil {
		l.joinOrigins = append(l.joinOrigins, from)
	}
	l.domain.Submit(cmd)
}

func (l *Loop) applyFullSync(from types.PeerID, snap sync.LobbySnapshot) {
	if snap.LobbyID != l.lobbyID {
		slog.Warn("Discarding snapshot for different lobby", "got", snap.LobbyID)
		return
	}
	if err := applySnapshot(l.domain, snap); err != nil {
		slog.Warn("Applying snapshot failed", "error", err)
		return
	}

	l.registry.BindParticipant(from, snap.HostID, "", true)
	l.pmap.Register(from, snap.HostID)

	if !l.bootstrapped.Load() {
		l.bootstrapped.Store(true)
		if l.pendingJoinName != "" {
			l.SubmitCommand(domain.JoinLobby{LobbyID: l.lobbyID, GuestName: l.pendingJoinName})
		}
	}
	slog.Info("Snapshot applied", "lobby", l.lobbyID, "asOf", snap.AsOfSequence)
}

func (l *Loop) bindHostPeer(from types.PeerID) {
	current, ok := l.domain.Lobby(l.lobbyID)
	if !ok {
		return
	}
	if peer, bound := l.pmap.Peer(current.HostID()); bound && peer == from {
		return
	}
	l.registry.BindParticipant(from, current.HostID(), "", true)
	l.pmap.Register(from, current.HostID())
}

// applyWireEvent translates an ordered authoritative event into local
// commands and queues them for this tick's reduce step.
func (l *Loop) applyWireEvent(ev sync.LobbyEvent) {
	current, _ := l.domain.Lobby(l.lobbyID)
	for _, cmd := range wireToCommands(l.lobbyID, ev.Event, current) {
		l.domain.Submit(cmd)
		// Later commands in this batch must see earlier mutations.
		l.domain.Poll()
	}
	l.collectDomainEvents()
}

func (l *Loop) handlePeerTimedOut(p types.PeerID) {
	state, ok := l.registry.RemovePeer(p)
	l.pmap.RemoveByPeer(p)
	if !ok || !state.Bound {
		slog.Info("Unbound peer timed out", "peer", p)
		return
	}

	slog.Info("Peer timed out", "peer", p, "participant", state.ParticipantID, "wasHost", state.IsHost)

	if state.IsHost {
		// Every surviving peer runs the same deterministic election; the
		// elected peer promotes itself and rebroadcasts the outcome.
		l.domain.HandleHostDeparture(l.lobbyID, state.ParticipantID)
		return
	}
	if l.isHost {
		l.domain.Submit(domain.LeaveLobby{LobbyID: l.lobbyID, ParticipantID: state.ParticipantID})
	}
}

func (l *Loop) drainLocalCommands() {
	l.cmdMu.Lock()
	cmds := l.localCmd
	l.localCmd = nil
	l.cmdMu.Unlock()

	for _, cmd := range cmds {
		if l.isHost {
			l.domain.Submit(cmd)
			continue
		}
		data, err := domain.EncodeCommand(cmd)
		if err != nil {
			l.uiEvents = append(l.uiEvents, domain.CommandFailed{Command: cmd.Label(), Reason: err.Error()})
			continue
		}
		// Broadcast: the host alone acts on command requests.
		_ = l.adapter.Broadcast(sync.Message{Type: sync.TypeCommandRequest, Command: data})
		metrics.CommandsForwarded.Inc()
	}
}

// collectDomainEvents performs steps 6 and 7: hosts sequence and broadcast
// every non-local event; every peer finishes identity bookkeeping from the
// events it just applied.
func (l *Loop) collectDomainEvents() {
	for _, ev := range l.domain.DrainEvents() {
		l.uiEvents = append(l.uiEvents, ev)

		handled := false
		switch e := ev.(type) {
		case domain.CommandFailed:
			continue

		case domain.GuestJoined:
			l.noteGuestJoined(e)

		case domain.GuestLeft:
			l.unbindParticipant(e.ParticipantID)

		case domain.GuestKicked:
			l.unbindParticipant(e.ParticipantID)

		case domain.HostDelegated:
			handled = l.handleHostDelegated(e)
		}

		if l.isHost && !handled {
			l.broadcastAsHost(ev)
		}
	}
}

func (l *Loop) noteGuestJoined(e domain.GuestJoined) {
	if l.isHost {
		// Bind the new participant to the peer whose join produced it.
		if len(l.joinOrigins) > 0 {
			peer := l.joinOrigins[0]
			l.joinOrigins = l.joinOrigins[1:]
			l.registry.BindParticipant(peer, e.Participant.ID, e.Participant.Name, false)
			l.pmap.Register(peer, e.Participant.ID)
		}
		return
	}
	// A guest recognises its own join echo by the pending name.
	if l.localID == (types.ParticipantID{}) && e.Participant.Name == l.pendingJoinName {
		l.localID = e.Participant.ID
		l.pendingJoinName = ""
		l.pmap.Register(l.adapter.LocalPeerID(), l.localID)
		slog.Info("Joined lobby", "lobby", l.lobbyID, "participant", l.localID)
	}
}

// handleHostDelegated adjusts local authority after a delegation event.
// Returns true when this function owned the broadcast decision for the
// event, suppressing the generic host fan-out.
func (l *Loop) handleHostDelegated(e domain.HostDelegated) bool {
	// Track which peer holds host authority now.
	if peer, ok := l.pmap.Peer(e.To); ok {
		l.registry.BindParticipant(peer, e.To, "", true)
	}

	switch {
	case e.To == l.localID && !l.isHost:
		l.syncMgr.PromoteToHost()
		l.isHost = true
		slog.Info("Assumed host role", "lobby", l.lobbyID, "reason", e.Reason)
		// A manual delegation was already broadcast by the previous host;
		// only the locally-elected outcome of an auto delegation needs
		// announcing, with this peer's new sequences.
		return e.Reason != domain.DelegationAuto

	case e.From == l.localID && l.isHost && e.To != l.localID:
		// Delegating away: announce the handoff, then stop assigning.
		l.broadcastAsHost(e)
		l.syncMgr.DemoteToGuest()
		l.isHost = false
		return true
	}
	return false
}

func (l *Loop) broadcastAsHost(ev domain.Event) {
	body, ok := eventToWire(ev)
	if !ok {
		return
	}
	msg, err := l.syncMgr.CreateEvent(body)
	if err != nil {
		slog.Warn("Sequencing event failed", "kind", body.Kind, "error", err)
		return
	}
	_ = l.adapter.Broadcast(msg)
}

func (l *Loop) unbindParticipant(id types.ParticipantID) {
	l.pmap.RemoveByParticipant(id)
	l.registry.UnbindParticipant(id)
}

func (l *Loop) updateParticipantsGauge() {
	if current, ok := l.domain.Lobby(l.lobbyID); ok {
		metrics.LobbyParticipants.WithLabelValues(l.lobbyID.String()).Set(float64(current.Len()))
	}
}
