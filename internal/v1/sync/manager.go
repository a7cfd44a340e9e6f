package sync

import (
	"errors"
	"log/slog"
	"sort"

	"k8s.io/utils/set"

	"github.com/konnektoren/konnekt-session-go/internal/v1/metrics"
	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// DefaultMaxPending caps the out-of-order buffer. A gap that would grow the
// buffer past the cap triggers a full-sync fallback instead.
const DefaultMaxPending = 64

var (
	ErrNotHost     = errors.New("not the host")
	ErrAlreadyHost = errors.New("already the host")
	ErrWrongLobby  = errors.New("event is for a different lobby")
	ErrUnhandled   = errors.New("message type not handled by the sync manager")
)

// SnapshotRequest asks the session loop to supply a current snapshot for a
// peer that requested full sync.
type SnapshotRequest struct {
	ForPeer       types.PeerID
	SinceSequence uint64
}

// Response is the outcome of handling one sync message. Apply holds events
// the session loop must feed to the domain, in strict sequence order.
type Response struct {
	Apply        []LobbyEvent
	Snapshot     *LobbySnapshot
	Send         []Message // Outbound: requests are broadcast, missing-event responses go to the requester
	NeedSnapshot *SnapshotRequest
}

func (r Response) merge(other Response) Response {
	r.Apply = append(r.Apply, other.Apply...)
	r.Send = append(r.Send, other.Send...)
	if other.Snapshot != nil {
		r.Snapshot = other.Snapshot
	}
	if other.NeedSnapshot != nil {
		r.NeedSnapshot = other.NeedSnapshot
	}
	return r
}

// Manager is the role-parameterised sync state machine. The host variant
// assigns sequence numbers; guests verify ordering, buffer reordered
// events and drive gap repair.
type Manager struct {
	lobbyID    types.LobbyID
	isHost     bool
	log        *EventLog
	pending    map[uint64]LobbyEvent
	maxPending int
	requested  set.Set[uint64]

	// Broadcasts buffered while repair requests stay unanswered. A gap
	// beyond the host's retention window never gets a response; once this
	// passes maxStalledBroadcasts the guest falls back to full sync.
	stalledBroadcasts int

	// Suppresses repeated full-sync requests until a response lands.
	awaitingFullSync bool
}

// maxStalledBroadcasts bounds how many further broadcasts a guest buffers
// against an unanswered repair request before requesting full sync.
const maxStalledBroadcasts = 8

// NewHostManager creates the host-side sync manager.
func NewHostManager(lobbyID types.LobbyID) *Manager {
	return newManager(lobbyID, true)
}

// NewGuestManager creates the guest-side sync manager.
func NewGuestManager(lobbyID types.LobbyID) *Manager {
	return newManager(lobbyID, false)
}

func newManager(lobbyID types.LobbyID, isHost bool) *Manager {
	return &Manager{
		lobbyID:    lobbyID,
		isHost:     isHost,
		log:        NewEventLog(),
		pending:    make(map[uint64]LobbyEvent),
		maxPending: DefaultMaxPending,
		requested:  set.New[uint64](),
	}
}

// SetLogCapacity replaces the event log with one retaining n events.
func (m *Manager) SetLogCapacity(n int) { m.log = NewEventLogWithCapacity(n) }

// SetMaxPending overrides the out-of-order buffer cap.
func (m *Manager) SetMaxPending(n int) { m.maxPending = n }

// IsHost reports whether this manager assigns sequences.
func (m *Manager) IsHost() bool { return m.isHost }

// LobbyID returns the bound lobby.
func (m *Manager) LobbyID() types.LobbyID { return m.lobbyID }

// HighestObserved returns the highest sequence applied or recorded.
func (m *Manager) HighestObserved() uint64 { return m.log.HighestObserved() }

// PendingCount returns the number of buffered out-of-order events.
func (m *Manager) PendingCount() int { return len(m.pending) }

// Log exposes the event log for snapshot construction.
func (m *Manager) Log() *EventLog { return m.log }

// PromoteToHost flips a guest manager to host after delegation. The next
// sequence to assign continues from the highest observed, preserving
// monotonicity of the sequence space across the handoff.
func (m *Manager) PromoteToHost() {
	if m.isHost {
		return
	}
	m.isHost = true
	m.log.SetNextToAssign(m.log.HighestObserved() + 1)
	m.pending = make(map[uint64]LobbyEvent)
	m.requested = set.New[uint64]()
	m.stalledBroadcasts = 0
	m.awaitingFullSync = false
	slog.Info("Promoted to host", "lobby", m.lobbyID, "nextSequence", m.log.NextToAssign())
}

// DemoteToGuest flips a host manager to guest after delegating the host
// role away. The new host continues the sequence space from its own log.
func (m *Manager) DemoteToGuest() {
	if !m.isHost {
		return
	}
	m.isHost = false
	slog.Info("Demoted to guest", "lobby", m.lobbyID)
}

// CreateEvent assigns a sequence to a domain event and returns the
// broadcast message. Host only.
func (m *Manager) CreateEvent(body EventBody) (Message, error) {
	if !m.isHost {
		return Message{}, ErrNotHost
	}
	event := LobbyEvent{LobbyID: m.lobbyID, Event: body}
	seq := m.log.Append(event)
	stored, _ := m.log.Get(seq)

	metrics.SyncEventsBroadcast.Inc()
	slog.Debug("Host created event", "lobby", m.lobbyID, "sequence", seq, "kind", body.Kind)
	return Message{Type: TypeEventBroadcast, Event: &stored}, nil
}

// RequestFullSync builds the bootstrap request a guest sends on join or
// after buffer overflow. Guest only.
func (m *Manager) RequestFullSync() (Message, error) {
	if m.isHost {
		return Message{}, ErrAlreadyHost
	}
	m.awaitingFullSync = true
	last := m.log.HighestObserved()
	return Message{
		Type:              TypeRequestFullSync,
		LobbyID:           &m.lobbyID,
		LastKnownSequence: &last,
	}, nil
}

// BuildFullSyncResponse pairs a snapshot with every retained event past
// max(sinceSequence, snapshot.AsOfSequence). Host only.
func (m *Manager) BuildFullSyncResponse(sinceSequence uint64, snapshot LobbySnapshot) (Message, error) {
	if !m.isHost {
		return Message{}, ErrNotHost
	}
	floor := sinceSequence
	if snapshot.AsOfSequence > floor {
		floor = snapshot.AsOfSequence
	}
	events := m.log.GetSince(floor)

	metrics.SyncFullSyncs.Inc()
	slog.Info("Building full sync response",
		"lobby", m.lobbyID, "asOf", snapshot.AsOfSequence, "trailingEvents", len(events))
	return Message{Type: TypeFullSyncResponse, Snapshot: &snapshot, Events: events}, nil
}

// HandleMessage processes one inbound sync message. command_request
// envelopes are the session loop's concern and yield ErrUnhandled.
func (m *Manager) HandleMessage(from types.PeerID, msg Message) (Response, error) {
	switch msg.Type {
	case TypeEventBroadcast:
		if msg.Event == nil {
			return Response{}, errors.New("event_broadcast without event")
		}
		return m.handleEventBroadcast(*msg.Event)

	case TypeRequestMissingEvents:
		return m.handleRequestMissing(msg)

	case TypeMissingEventsResponse:
		return m.handleMissingEventsResponse(msg.Events)

	case TypeRequestFullSync:
		var since uint64
		if msg.LastKnownSequence != nil {
			since = *msg.LastKnownSequence
		}
		slog.Info("Peer requested full sync", "peer", from, "since", since)
		return Response{NeedSnapshot: &SnapshotRequest{ForPeer: from, SinceSequence: since}}, nil

	case TypeFullSyncResponse:
		if msg.Snapshot == nil {
			return Response{}, errors.New("full_sync_response without snapshot")
		}
		return m.handleFullSyncResponse(*msg.Snapshot, msg.Events)

	default:
		return Response{}, ErrUnhandled
	}
}

func (m *Manager) handleEventBroadcast(event LobbyEvent) (Response, error) {
	if event.LobbyID != m.lobbyID {
		return Response{}, ErrWrongLobby
	}
	if m.awaitingFullSync {
		// The pending full sync supersedes anything received meanwhile.
		return Response{}, nil
	}

	expected := m.log.HighestObserved() + 1
	switch {
	case event.Sequence == expected:
		m.log.Add(event)
		m.stalledBroadcasts = 0
		resp := Response{Apply: []LobbyEvent{event}}
		resp.Apply = append(resp.Apply, m.drainPending()...)
		metrics.SyncEventsApplied.Add(float64(len(resp.Apply)))
		return resp.merge(m.requestGaps()), nil

	case event.Sequence > expected:
		if len(m.pending) >= m.maxPending {
			return m.fallbackToFullSync("pending buffer overflow")
		}
		if m.requested.Len() > 0 {
			m.stalledBroadcasts++
			if m.stalledBroadcasts > maxStalledBroadcasts {
				return m.fallbackToFullSync("repair requests unanswered")
			}
		}
		m.pending[event.Sequence] = event
		metrics.SyncEventsBuffered.Set(float64(len(m.pending)))
		slog.Debug("Buffered out-of-order event",
			"lobby", m.lobbyID, "sequence", event.Sequence, "expected", expected)
		return m.requestGaps(), nil

	default:
		// Duplicate or stale; the host's echo already covered it.
		return Response{}, nil
	}
}

// drainPending applies buffered events as long as the next expected
// sequence is present, cascading.
func (m *Manager) drainPending() []LobbyEvent {
	var applied []LobbyEvent
	for {
		next := m.log.HighestObserved() + 1
		event, ok := m.pending[next]
		if !ok {
			break
		}
		delete(m.pending, next)
		m.log.Add(event)
		applied = append(applied, event)
	}
	if len(applied) > 0 {
		metrics.SyncEventsBuffered.Set(float64(len(m.pending)))
		slog.Debug("Applied buffered events", "lobby", m.lobbyID, "count", len(applied))
	}
	return applied
}

// requestGaps asks for every sequence between the applied watermark and the
// highest buffered event that is neither buffered nor already requested.
func (m *Manager) requestGaps() Response {
	if len(m.pending) == 0 {
		return Response{}
	}

	var highest uint64
	for seq := range m.pending {
		if seq > highest {
			highest = seq
		}
	}

	var missing []uint64
	for seq := m.log.HighestObserved() + 1; seq < highest; seq++ {
		if _, buffered := m.pending[seq]; buffered {
			continue
		}
		if m.requested.Has(seq) {
			continue
		}
		missing = append(missing, seq)
	}
	if len(missing) == 0 {
		return Response{}
	}

	m.requested.Insert(missing...)
	metrics.SyncGapRequests.Inc()
	slog.Warn("Detected sequence gaps", "lobby", m.lobbyID, "missing", missing)

	return Response{Send: []Message{{
		Type:             TypeRequestMissingEvents,
		LobbyID:          &m.lobbyID,
		MissingSequences: missing,
	}}}
}

func (m *Manager) fallbackToFullSync(reason string) (Response, error) {
	if m.awaitingFullSync {
		return Response{}, nil
	}
	slog.Warn("Falling back to full sync", "lobby", m.lobbyID, "reason", reason)

	m.pending = make(map[uint64]LobbyEvent)
	m.requested = set.New[uint64]()
	m.stalledBroadcasts = 0
	m.awaitingFullSync = true
	metrics.SyncEventsBuffered.Set(0)

	req, err := m.RequestFullSync()
	if err != nil {
		return Response{}, err
	}
	return Response{Send: []Message{req}}, nil
}

// handleRequestMissing serves a guest's gap-fill request from the log.
// Sequences outside the retention window are omitted; the guest falls back
// to full sync on its own. Host only.
func (m *Manager) handleRequestMissing(msg Message) (Response, error) {
	if !m.isHost {
		// Guests hear broadcast repair requests too; only the host answers.
		return Response{}, nil
	}
	if msg.LobbyID != nil && *msg.LobbyID != m.lobbyID {
		return Response{}, ErrWrongLobby
	}

	var events []LobbyEvent
	for _, seq := range msg.MissingSequences {
		if event, ok := m.log.Get(seq); ok {
			events = append(events, event)
		} else {
			slog.Warn("Requested sequence outside retention", "lobby", m.lobbyID, "sequence", seq)
		}
	}
	if len(events) == 0 {
		return Response{}, nil
	}
	return Response{Send: []Message{{Type: TypeMissingEventsResponse, Events: events}}}, nil
}

// handleMissingEventsResponse feeds recovered events back through the
// ordering state machine, ascending, so application order is preserved even
// when repair responses themselves arrive interleaved.
func (m *Manager) handleMissingEventsResponse(events []LobbyEvent) (Response, error) {
	sort.Slice(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })

	var resp Response
	for _, event := range events {
		m.requested.Delete(event.Sequence)
		next, err := m.handleEventBroadcast(event)
		if err != nil {
			slog.Warn("Discarding recovered event", "sequence", event.Sequence, "error", err)
			continue
		}
		resp = resp.merge(next)
	}
	return resp, nil
}

// handleFullSyncResponse resets local sync state to the snapshot baseline
// and surfaces snapshot plus trailing events for domain application.
func (m *Manager) handleFullSyncResponse(snapshot LobbySnapshot, events []LobbyEvent) (Response, error) {
	slog.Info("Received full sync",
		"lobby", m.lobbyID, "asOf", snapshot.AsOfSequence, "trailingEvents", len(events))

	m.log.Reset()
	m.log.SetBaseline(snapshot.AsOfSequence)
	m.pending = make(map[uint64]LobbyEvent)
	m.requested = set.New[uint64]()
	m.stalledBroadcasts = 0
	m.awaitingFullSync = false
	metrics.SyncEventsBuffered.Set(0)

	sort.Slice(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	for _, event := range events {
		m.log.Add(event)
	}

	return Response{Snapshot: &snapshot, Apply: events}, nil
}
