// Package lobby holds the lobby aggregate: participants, roles, activities
// and results, with the invariants that must hold after every mutation.
package lobby

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/konnektoren/konnekt-session-go/internal/v1/types"
)

// DefaultMaxParticipants bounds lobby size. JoinLobby rejects beyond it.
const DefaultMaxParticipants = 16

var (
	ErrNoHost                = errors.New("lobby must have exactly one host")
	ErrCannotRemoveHost      = errors.New("host cannot leave without delegation")
	ErrCannotPromoteHost     = errors.New("cannot delegate to a participant that is already host")
	ErrEmptyLobby            = errors.New("lobby has no guests to delegate to")
	ErrLobbyFull             = errors.New("lobby is at capacity")
	ErrActivityNotFound      = errors.New("activity not found")
	ErrActivityInProgress    = errors.New("another activity is in progress")
	ErrActivityNotPlanned    = errors.New("activity is not in planned state")
	ErrActivityNotRunning    = errors.New("activity is not in progress")
	ErrDuplicateResult       = errors.New("result already submitted for this activity")
	ErrSpectatorResult       = errors.New("spectating participants cannot submit results")
	ErrToggleDuringActivity  = errors.New("cannot change participation mode during an activity")
	ErrToggleStateMismatch   = errors.New("activity-in-progress flag does not match lobby state")
)

// Lobby is the aggregate root synchronised across peers.
type Lobby struct {
	id           types.LobbyID
	name         string
	participants map[types.ParticipantID]Participant
	hostID       types.ParticipantID
	activities   []ActivityMetadata
	results      map[resultKey]ActivityResult
	maxSize      int
}

// New creates a lobby owned by the given host, with a generated id.
func New(name string, host Participant) (*Lobby, error) {
	return WithID(uuid.New(), name, host)
}

// WithID creates a lobby with an explicit id. Guests use this when
// reconstructing lobby state from a received snapshot.
func WithID(id types.LobbyID, name string, host Participant) (*Lobby, error) {
	if err := types.ValidateName(name); err != nil {
		return nil, err
	}
	if !host.IsHost() {
		return nil, ErrNoHost
	}

	l := &Lobby{
		id:           id,
		name:         name,
		participants: map[types.ParticipantID]Participant{host.ID: host},
		hostID:       host.ID,
		results:      make(map[resultKey]ActivityResult),
		maxSize:      DefaultMaxParticipants,
	}
	return l, nil
}

// SetMaxParticipants overrides the capacity bound.
func (l *Lobby) SetMaxParticipants(n int) { l.maxSize = n }

func (l *Lobby) ID() types.LobbyID          { return l.id }
func (l *Lobby) Name() string               { return l.name }
func (l *Lobby) HostID() types.ParticipantID { return l.hostID }

// Host returns the current host participant.
func (l *Lobby) Host() (Participant, bool) {
	p, ok := l.participants[l.hostID]
	return p, ok
}

// Participant returns the participant with the given id.
func (l *Lobby) Participant(id types.ParticipantID) (Participant, bool) {
	p, ok := l.participants[id]
	return p, ok
}

// Participants returns the participant map. Callers must not mutate it.
func (l *Lobby) Participants() map[types.ParticipantID]Participant {
	return l.participants
}

// Len returns the participant count.
func (l *Lobby) Len() int { return len(l.participants) }

// HasGuests reports whether any non-host participant remains.
func (l *Lobby) HasGuests() bool {
	for _, p := range l.participants {
		if !p.IsHost() {
			return true
		}
	}
	return false
}

// AddGuest adds a guest, enforcing role and capacity.
func (l *Lobby) AddGuest(guest Participant) error {
	if guest.IsHost() {
		return ErrCannotPromoteHost
	}
	if len(l.participants) >= l.maxSize {
		return ErrLobbyFull
	}
	l.participants[guest.ID] = guest
	return nil
}

// Restore inserts a participant verbatim, bypassing capacity and role
// checks. Used only when applying a snapshot.
func (l *Lobby) Restore(p Participant) {
	l.participants[p.ID] = p
	if p.IsHost() {
		l.hostID = p.ID
	}
}

// RemoveParticipant removes a guest. The host is non-removable by this
// path; host departure requires delegation or auto-election first.
func (l *Lobby) RemoveParticipant(id types.ParticipantID) error {
	if id == l.hostID {
		return ErrCannotRemoveHost
	}
	if _, ok := l.participants[id]; !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownTarget, id)
	}
	delete(l.participants, id)
	return nil
}

// KickGuest removes a guest on behalf of the host.
func (l *Lobby) KickGuest(guestID, requesterID types.ParticipantID) error {
	if requesterID != l.hostID {
		return types.ErrNotAuthorized
	}
	return l.RemoveParticipant(guestID)
}

// DelegateHost atomically promotes newHostID and demotes the current host.
func (l *Lobby) DelegateHost(newHostID types.ParticipantID) error {
	next, ok := l.participants[newHostID]
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrUnknownTarget, newHostID)
	}
	if next.IsHost() {
		return ErrCannotPromoteHost
	}

	next.Role = types.RoleTypeHost
	l.participants[newHostID] = next

	if prev, ok := l.participants[l.hostID]; ok {
		prev.Role = types.RoleTypeGuest
		l.participants[l.hostID] = prev
	}

	l.hostID = newHostID
	l.assertOneHost()
	return nil
}

// AutoDelegateHost elects the guest with the smallest JoinedAt; ties break
// by smallest participant id. Deterministic, so every peer converges on the
// same host without coordination.
func (l *Lobby) AutoDelegateHost() (types.ParticipantID, error) {
	var (
		elected types.ParticipantID
		found   bool
		best    Participant
	)
	for _, p := range l.participants {
		if p.IsHost() {
			continue
		}
		if !found || p.JoinedAt < best.JoinedAt ||
			(p.JoinedAt == best.JoinedAt && p.ID.String() < best.ID.String()) {
			best, elected, found = p, p.ID, true
		}
	}
	if !found {
		return uuid.Nil, ErrEmptyLobby
	}
	if err := l.DelegateHost(elected); err != nil {
		return uuid.Nil, err
	}
	return elected, nil
}

// ToggleParticipationMode flips a participant's mode. Only the participant
// themself or the host may request it. While an activity is in progress only
// the host may change another participant's mode; the caller-supplied flag is
// re-checked against actual state.
func (l *Lobby) ToggleParticipationMode(participantID, requesterID types.ParticipantID, activityInProgress bool) (types.ModeType, error) {
	p, ok := l.participants[participantID]
	if !ok {
		return "", fmt.Errorf("%w: %s", types.ErrUnknownTarget, participantID)
	}
	if requesterID != participantID && requesterID != l.hostID {
		return "", types.ErrNotAuthorized
	}

	actual := l.ActivityInProgress()
	if activityInProgress != actual {
		return "", ErrToggleStateMismatch
	}
	// Host override for another participant is permitted mid-activity.
	hostOverride := requesterID == l.hostID && requesterID != participantID
	if actual && !hostOverride {
		return "", ErrToggleDuringActivity
	}

	p.Mode = p.Mode.Toggled()
	l.participants[participantID] = p
	return p.Mode, nil
}

// --- Activities ---

// ActivityInProgress reports whether any activity is currently running.
func (l *Lobby) ActivityInProgress() bool {
	for _, a := range l.activities {
		if a.Status == types.ActivityStatusInProgress {
			return true
		}
	}
	return false
}

// Activity returns activity metadata by id.
func (l *Lobby) Activity(id types.ActivityID) (ActivityMetadata, bool) {
	for _, a := range l.activities {
		if a.ID == id {
			return a, true
		}
	}
	return ActivityMetadata{}, false
}

// Activities returns the planned/played activities in plan order.
func (l *Lobby) Activities() []ActivityMetadata { return l.activities }

// PlanActivity appends a new activity in Planned state.
func (l *Lobby) PlanActivity(meta ActivityMetadata) error {
	if err := types.ValidateName(meta.Name); err != nil {
		return err
	}
	if err := meta.Payload.Validate(); err != nil {
		return err
	}
	if meta.ID == uuid.Nil {
		meta.ID = uuid.New()
	}
	meta.Status = types.ActivityStatusPlanned
	l.activities = append(l.activities, meta)
	return nil
}

// StartActivity moves a Planned activity to InProgress. At most one
// activity runs at a time.
func (l *Lobby) StartActivity(id types.ActivityID) error {
	if l.ActivityInProgress() {
		return ErrActivityInProgress
	}
	return l.setStatus(id, types.ActivityStatusPlanned, types.ActivityStatusInProgress)
}

// CancelActivity moves an InProgress activity to Cancelled.
func (l *Lobby) CancelActivity(id types.ActivityID) error {
	return l.setStatus(id, types.ActivityStatusInProgress, types.ActivityStatusCancelled)
}

func (l *Lobby) setStatus(id types.ActivityID, from, to types.ActivityStatus) error {
	for i, a := range l.activities {
		if a.ID != id {
			continue
		}
		if a.Status != from {
			if from == types.ActivityStatusPlanned {
				return ErrActivityNotPlanned
			}
			return ErrActivityNotRunning
		}
		l.activities[i].Status = to
		return nil
	}
	return ErrActivityNotFound
}

// SubmitResult records a result. Accepted only while the activity is
// InProgress, from a present Active participant, once per (activity,
// participant). Returns completed=true when the accepted result covers the
// last Active participant, in which case the activity is Completed.
func (l *Lobby) SubmitResult(result ActivityResult) (completed bool, err error) {
	a, ok := l.Activity(result.ActivityID)
	if !ok {
		return false, ErrActivityNotFound
	}
	if a.Status != types.ActivityStatusInProgress {
		return false, ErrActivityNotRunning
	}

	p, ok := l.participants[result.ParticipantID]
	if !ok {
		return false, fmt.Errorf("%w: %s", types.ErrUnknownTarget, result.ParticipantID)
	}
	if !p.CanSubmitResults() {
		return false, ErrSpectatorResult
	}
	if _, dup := l.results[result.key()]; dup {
		return false, ErrDuplicateResult
	}

	l.results[result.key()] = result

	if l.resultsCoverActiveParticipants(result.ActivityID) {
		if err := l.setStatus(result.ActivityID, types.ActivityStatusInProgress, types.ActivityStatusCompleted); err != nil {
			// Status was checked above; a failure here is a broken invariant.
			panic(fmt.Sprintf("lobby: completing activity %s: %v", result.ActivityID, err))
		}
		slog.Info("Activity completed", "lobby", l.id, "activity", result.ActivityID)
		return true, nil
	}
	return false, nil
}

func (l *Lobby) resultsCoverActiveParticipants(activityID types.ActivityID) bool {
	for _, p := range l.participants {
		if p.Mode != types.ModeTypeActive {
			continue
		}
		if _, ok := l.results[resultKey{activity: activityID, participant: p.ID}]; !ok {
			return false
		}
	}
	return true
}

// Results returns all results for the given activity.
func (l *Lobby) Results(activityID types.ActivityID) []ActivityResult {
	var out []ActivityResult
	for k, r := range l.results {
		if k.activity == activityID {
			out = append(out, r)
		}
	}
	return out
}

// RestoreResult inserts a result verbatim (snapshot application only).
func (l *Lobby) RestoreResult(r ActivityResult) { l.results[r.key()] = r }

// RestoreActivity inserts activity metadata verbatim (snapshot application
// only).
func (l *Lobby) RestoreActivity(a ActivityMetadata) { l.activities = append(l.activities, a) }

// Clone returns a deep copy for read-only consumption by the UI layer.
func (l *Lobby) Clone() *Lobby {
	c := &Lobby{
		id:           l.id,
		name:         l.name,
		participants: make(map[types.ParticipantID]Participant, len(l.participants)),
		hostID:       l.hostID,
		activities:   append([]ActivityMetadata(nil), l.activities...),
		results:      make(map[resultKey]ActivityResult, len(l.results)),
		maxSize:      l.maxSize,
	}
	for id, p := range l.participants {
		c.participants[id] = p
	}
	for k, r := range l.results {
		c.results[k] = r
	}
	return c
}

// assertOneHost crashes on an invariant violation: exactly one participant
// holds the Host role and hostID references it.
func (l *Lobby) assertOneHost() {
	hosts := 0
	for _, p := range l.participants {
		if p.IsHost() {
			hosts++
		}
	}
	if hosts != 1 || !l.participants[l.hostID].IsHost() {
		panic(fmt.Sprintf("lobby %s: host invariant violated (%d hosts, hostID=%s)", l.id, hosts, l.hostID))
	}
}
